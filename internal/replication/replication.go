// Package replication implements both sides of this server's replication
// link: as a primary, it tracks connected replicas and fans write commands
// out to them; as a replica, it performs the handshake against a primary,
// bootstraps from the RDB payload that follows, and then applies the
// streamed command log.
//
// Replica membership is held with weak.Pointer instead of a strong map so a
// replica's connection actor is the sole owner of its own liveness: once the
// peer disconnects and nothing else references its ReplicaHandle, the next
// fan-out pass drops it on its own, with no explicit deregistration call.
package replication

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
	"weak"

	"go.uber.org/zap"

	"redisd/internal/resp"
)

// Role is which side of a replication link this server currently plays.
type Role string

const (
	RoleMaster  Role = "master"
	RoleReplica Role = "replica"
)

// Info is the replication-facing state reported by INFO replication.
type Info struct {
	Role   Role
	ReplID string
	Offset int64
}

// ReplicaSink is whatever a connection actor exposes so the replication
// controller can push propagated frames to it without knowing anything else
// about the connection.
type ReplicaSink interface {
	Enqueue(frame []byte) bool
}

// ReplicaHandle wraps a ReplicaSink for weak tracking. The connection actor
// that creates one must keep a strong reference to it for as long as the
// connection is alive; once that reference is dropped, the handle becomes
// collectible and the controller silently stops delivering to it.
type ReplicaHandle struct {
	sink ReplicaSink
}

// NewReplicaHandle wraps sink in a handle suitable for weak registration.
func NewReplicaHandle(sink ReplicaSink) *ReplicaHandle {
	return &ReplicaHandle{sink: sink}
}

// Controller owns this server's replication identity and role. A single
// Controller instance serves both as the primary's replica registry and, if
// this process is itself a replica, as the client of its own primary.
type Controller struct {
	mu       sync.Mutex
	role     Role
	replID   string
	offset   int64
	replicas []weak.Pointer[ReplicaHandle]

	log              *zap.SugaredLogger
	executor         func(args []string)
	listeningPort    int
	handshakeTimeout time.Duration
}

// New builds a Controller starting in the given role with a freshly
// generated replication ID.
func New(role Role, log *zap.SugaredLogger) *Controller {
	return &Controller{
		role:             role,
		replID:           generateReplID(),
		log:              log,
		handshakeTimeout: 5 * time.Second,
	}
}

// generateReplID returns a 40-character hex replication ID from 20 bytes of
// crypto/rand. Unlike a PRNG reseeded from wall-clock time, two servers
// started within the same second cannot collide here.
func generateReplID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is exceptional; fall back to something still
		// unique enough to keep the server usable rather than panicking.
		return fmt.Sprintf("%040x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// SetExecutor installs the callback used to apply commands streamed from a
// primary once this server is acting as a replica. The callback is expected
// to run the command through the command engine with ClientID 0, which
// suppresses both propagation and any reply.
func (c *Controller) SetExecutor(fn func(args []string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executor = fn
}

// SetListeningPort records the port this server itself accepts connections
// on, reported to a primary during REPLCONF listening-port.
func (c *Controller) SetListeningPort(port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeningPort = port
}

// Role reports the current replication role.
func (c *Controller) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Info returns a snapshot of the replication-facing identity.
func (c *Controller) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{Role: c.role, ReplID: c.replID, Offset: c.offset}
}

// RegisterReplica adds h to the replica set and returns the replication ID
// and current offset to answer a PSYNC with.
func (c *Controller) RegisterReplica(h *ReplicaHandle) (replID string, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replicas = append(c.replicas, weak.Make(h))
	return c.replID, c.offset
}

// Propagate re-encodes args as a command frame and fans it out to every
// replica still alive. Dead weak pointers are pruned on the way through.
func (c *Controller) Propagate(args []string) {
	frame := resp.EncodeArrayOfBulks(stringsToBytes(args))

	c.mu.Lock()
	c.offset += int64(len(frame))
	live := c.replicas[:0]
	for _, wp := range c.replicas {
		if wp.Value() != nil {
			live = append(live, wp)
		}
	}
	c.replicas = live
	snapshot := append([]weak.Pointer[ReplicaHandle]{}, c.replicas...)
	c.mu.Unlock()

	for _, wp := range snapshot {
		if h := wp.Value(); h != nil {
			h.sink.Enqueue(frame)
		}
	}
}

func stringsToBytes(args []string) [][]byte {
	out := make([][]byte, len(args))
	for i, a := range args {
		out[i] = []byte(a)
	}
	return out
}
