// Command redisd is the bootstrap entry point: it parses CLI flags, builds a
// server.Options, wires up structured logging, installs signal handling,
// and runs the acceptor until told to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"redisd/internal/server"
)

func main() {
	var (
		port       int
		dir        string
		dbFilename string
		replicaOf  string
		debug      bool
	)

	root := &cobra.Command{
		Use:   "redisd",
		Short: "A minimal Redis-compatible key/value server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger(debug)
			defer logger.Sync()
			sugar := logger.Sugar()

			opts := server.Options{
				Host:       "0.0.0.0",
				Port:       port,
				Dir:        dir,
				DBFilename: dbFilename,
			}
			if replicaOf != "" {
				host, p, err := parseReplicaOf(replicaOf)
				if err != nil {
					return fmt.Errorf("invalid --replicaof %q: %w", replicaOf, err)
				}
				opts.ReplicaOfHost = host
				opts.ReplicaOfPort = p
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				sugar.Infow("shutting down")
				cancel()
			}()

			srv := server.New(opts, sugar)
			return srv.Run(ctx)
		},
	}

	root.Flags().IntVarP(&port, "port", "p", 6379, "port to listen on")
	root.Flags().StringVar(&dir, "dir", "/tmp/redisd", "directory to read the rdb snapshot from")
	root.Flags().StringVar(&dbFilename, "dbfilename", "dump.rdb", "rdb snapshot filename within --dir")
	root.Flags().StringVarP(&replicaOf, "replicaof", "r", "", `replicate from a primary, given as "<host> <port>"`)
	root.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseReplicaOf(s string) (host string, port int, err error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf(`expected "<host> <port>", got %q`, s)
	}
	port, err = strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", fields[1], err)
	}
	return fields[0], port, nil
}

func buildLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
