// Package server implements the acceptor: it owns the listening socket,
// spawns one connection actor per accepted peer, and wires together the
// store, config registry, command engine, and replication controller at
// startup.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"redisd/internal/command"
	"redisd/internal/conn"
	"redisd/internal/config"
	"redisd/internal/rdbfile"
	"redisd/internal/replication"
	"redisd/internal/store"
)

// Options configures a Server at startup. It is built directly from CLI
// flags and never mutated afterward.
type Options struct {
	Host string
	Port int

	Dir        string
	DBFilename string

	ReplicaOfHost string
	ReplicaOfPort int
}

// Server is the top-level acceptor tying every component together.
type Server struct {
	opts Options
	log  *zap.SugaredLogger

	store  *store.Store
	cfg    *config.Config
	repl   *replication.Controller
	engine *command.Engine

	listener net.Listener
	nextID   atomic.Int64
	wg       sync.WaitGroup
}

// New wires a Server for opts without opening any network resources yet.
func New(opts Options, log *zap.SugaredLogger) *Server {
	st := store.New()
	cfg := config.New(opts.Dir, opts.DBFilename)

	role := replication.RoleMaster
	if opts.ReplicaOfHost != "" {
		role = replication.RoleReplica
	}
	repl := replication.New(role, log)
	repl.SetListeningPort(opts.Port)

	engine := command.New(st, cfg, repl, log)
	repl.SetExecutor(func(args []string) {
		engine.Dispatch(args, &command.Caller{ID: 0})
	})

	return &Server{
		opts:   opts,
		log:    log,
		store:  st,
		cfg:    cfg,
		repl:   repl,
		engine: engine,
	}
}

func (s *Server) loadSnapshot() {
	entries, err := rdbfile.LoadFile(s.cfg.Get("dir"), s.cfg.Get("dbfilename"))
	if err != nil {
		s.log.Warnw("rdb snapshot failed to load; starting with an empty keyspace", "err", err)
		return
	}
	for _, e := range entries {
		s.store.SetRaw(e.Key, e.Value, e.Expiry)
	}
	if len(entries) > 0 {
		s.log.Infow("loaded rdb snapshot", "keys", len(entries))
	}
}

// Run loads any on-disk snapshot, performs the replica handshake if
// configured, then accepts connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.loadSnapshot()

	if s.opts.ReplicaOfHost != "" {
		if err := s.repl.ConnectToPrimary(ctx, s.store, s.opts.ReplicaOfHost, s.opts.ReplicaOfPort); err != nil {
			return fmt.Errorf("server: replica handshake: %w", err)
		}
		s.log.Infow("replica handshake complete", "primary", fmt.Sprintf("%s:%d", s.opts.ReplicaOfHost, s.opts.ReplicaOfPort))
	}

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.log.Infow("accepting connections", "addr", addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				s.log.Warnw("accept error", "err", err)
				continue
			}
		}

		id := s.nextID.Add(1)
		actor := conn.New(id, c, s.engine, s.log)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			actor.Run(ctx)
		}()
	}
}
