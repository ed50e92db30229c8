// Package command implements the server's fixed ten-command dispatch table:
// PING, COMMAND, ECHO, GET, SET, KEYS, CONFIG GET, INFO, REPLCONF, and PSYNC.
// Anything else is simply not in the table and draws no reply.
package command

import (
	"go.uber.org/zap"

	"redisd/internal/config"
	"redisd/internal/replication"
	"redisd/internal/store"
)

// ReplicaSink is the minimal surface a connection needs for the engine to
// hand it off to the replication controller when it issues PSYNC.
type ReplicaSink interface {
	Enqueue(frame []byte) bool
}

// Replicator is the subset of the replication controller the engine depends
// on. It is satisfied by *replication.Controller; the interface exists so
// tests can substitute a fake without spinning up real sockets.
type Replicator interface {
	Propagate(args []string)
	RegisterReplica(h *replication.ReplicaHandle) (replID string, offset int64)
	Info() replication.Info
}

// Caller describes who issued a command: a ClientID (0 is reserved for
// commands applied from a primary's replication stream, which never get a
// reply or get re-propagated), the connection's sink for commands that
// register it as a replica, and Pin, a hook the caller uses to keep
// something alive for as long as the connection lives.
type Caller struct {
	ID   int64
	Sink ReplicaSink
	Pin  func(v any)
}

// Engine holds the dependencies every handler needs and dispatches incoming
// command vectors to the right one.
type Engine struct {
	store *store.Store
	cfg   *config.Config
	repl  Replicator
	log   *zap.SugaredLogger
}

// New builds an Engine.
func New(st *store.Store, cfg *config.Config, repl Replicator, log *zap.SugaredLogger) *Engine {
	return &Engine{store: st, cfg: cfg, repl: repl, log: log}
}

// Dispatch looks up args[0] case-insensitively and runs its handler. An
// empty vector or an unrecognized command name produces no reply.
func (e *Engine) Dispatch(args []string, c *Caller) [][]byte {
	if len(args) == 0 {
		return nil
	}
	h, ok := handlerTable[lower(args[0])]
	if !ok {
		return nil
	}
	return h(e, args, c)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
