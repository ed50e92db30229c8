// Package conn implements the per-connection actor: one goroutine per TCP
// peer that reads frames, dispatches them through the command engine, and
// writes replies back in the same order it received the requests that
// produced them.
package conn

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"redisd/internal/command"
	"redisd/internal/ioloop"
)

// Actor owns one client connection for its entire lifetime.
type Actor struct {
	id     int64
	socket net.Conn
	engine *command.Engine
	log    *zap.SugaredLogger

	// writeMu serializes writes to socket: replies written by this actor's
	// own read-dispatch loop and frames fanned out by the replication
	// controller (once this connection has become a replica) can otherwise
	// land on the wire from two goroutines at once.
	writeMu sync.Mutex

	// pinned keeps a *replication.ReplicaHandle alive for as long as this
	// actor is, once PSYNC promotes it to a replica. It is otherwise nil.
	pinned any
}

// New builds an Actor for an accepted connection. id is the connection's
// opaque identifier, used as the command engine's ClientID.
func New(id int64, socket net.Conn, engine *command.Engine, log *zap.SugaredLogger) *Actor {
	return &Actor{id: id, socket: socket, engine: engine, log: log}
}

// Enqueue writes a propagated frame directly to the socket. It satisfies
// both command.ReplicaSink and replication.ReplicaSink.
func (a *Actor) Enqueue(frame []byte) bool {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, err := a.socket.Write(frame)
	return err == nil
}

// Write implements io.Writer so the actor can serve as its own read loop's
// writer without letting those writes race with Enqueue.
func (a *Actor) Write(p []byte) (int, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.socket.Write(p)
}

func (a *Actor) pin(v any) {
	a.pinned = v
}

// Run drives the actor's read-dispatch-write loop until the connection
// closes or ctx is cancelled.
func (a *Actor) Run(ctx context.Context) {
	defer a.socket.Close()
	// Closing the socket on cancellation unblocks a Read waiting in Pump.
	stop := context.AfterFunc(ctx, func() { a.socket.Close() })
	defer stop()

	caller := &command.Caller{ID: a.id, Sink: a, Pin: a.pin}
	handle := func(args []string) [][]byte {
		return a.engine.Dispatch(args, caller)
	}

	err := ioloop.Pump(ctx, a.socket, a, handle)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		if a.log != nil {
			a.log.Debugw("connection closed", "client_id", a.id, "err", err)
		}
	}
}
