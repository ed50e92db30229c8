package command

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"redisd/internal/replication"
	"redisd/internal/resp"
)

type handlerFunc func(e *Engine, args []string, c *Caller) [][]byte

var handlerTable = map[string]handlerFunc{
	"ping":     handlePing,
	"command":  handlePing,
	"echo":     handleEcho,
	"get":      handleGet,
	"set":      handleSet,
	"keys":     handleKeys,
	"config":   handleConfig,
	"info":     handleInfo,
	"replconf": handleReplConf,
	"psync":    handlePSync,
}

func nullBulk() [][]byte {
	return [][]byte{resp.EncodeNullBulkString()}
}

func handlePing(e *Engine, args []string, c *Caller) [][]byte {
	return [][]byte{resp.EncodeSimpleString("PONG")}
}

func handleEcho(e *Engine, args []string, c *Caller) [][]byte {
	if len(args) != 2 {
		return nullBulk()
	}
	return [][]byte{resp.EncodeSimpleString(args[1])}
}

func handleGet(e *Engine, args []string, c *Caller) [][]byte {
	if len(args) != 2 {
		return nullBulk()
	}
	v, ok := e.store.Get(args[1])
	if !ok {
		return nullBulk()
	}
	return [][]byte{resp.EncodeBulkString(v)}
}

// setMu spans a SET's store write and its propagation, so replicas receive
// writes in the order they were committed here.
var setMu sync.Mutex

func handleSet(e *Engine, args []string, c *Caller) [][]byte {
	if len(args) != 3 && len(args) != 5 {
		return nullBulk()
	}
	key, val := args[1], args[2]

	var expiry *time.Time
	if len(args) == 5 && strings.EqualFold(args[3], "PX") {
		if ms, err := strconv.ParseInt(args[4], 10, 64); err == nil {
			t := time.Now().Add(time.Duration(ms) * time.Millisecond)
			expiry = &t
		}
		// A non-numeric PX value is dropped rather than treated as an
		// error: the write still happens, just without an expiry.
	}

	setMu.Lock()
	defer setMu.Unlock()
	e.store.Set(key, []byte(val), expiry)

	if c.ID == 0 {
		// Applying a command replicated from our primary: no reply, and
		// nothing to re-propagate - we are not the origin of this write.
		return nil
	}
	if e.repl != nil {
		e.repl.Propagate(args)
	}
	return [][]byte{resp.EncodeSimpleString("OK")}
}

func handleKeys(e *Engine, args []string, c *Caller) [][]byte {
	if len(args) != 2 {
		return [][]byte{resp.EncodeArrayOfBulks(nil)}
	}
	keys := e.store.Keys(args[1])
	items := make([][]byte, len(keys))
	for i, k := range keys {
		items[i] = []byte(k)
	}
	return [][]byte{resp.EncodeArrayOfBulks(items)}
}

func handleConfig(e *Engine, args []string, c *Caller) [][]byte {
	if len(args) != 3 || !strings.EqualFold(args[1], "get") {
		return [][]byte{resp.EncodeArrayOfBulks(nil)}
	}
	name := args[2]
	val := e.cfg.Get(name)
	return [][]byte{resp.EncodeArrayOfBulks([][]byte{[]byte(name), []byte(val)})}
}

func handleInfo(e *Engine, args []string, c *Caller) [][]byte {
	info := e.repl.Info()
	role := "master"
	if info.Role == replication.RoleReplica {
		role = "slave"
	}
	body := strings.Join([]string{
		"# Replication",
		"role:" + role,
		fmt.Sprintf("master_replid:%s", info.ReplID),
		fmt.Sprintf("master_repl_offset:%d", info.Offset),
	}, "\r\n") + "\r\n"
	return [][]byte{resp.EncodeBulkString([]byte(body))}
}

func handleReplConf(e *Engine, args []string, c *Caller) [][]byte {
	if len(args) != 3 {
		return nullBulk()
	}
	return [][]byte{resp.EncodeSimpleString("OK")}
}

func handlePSync(e *Engine, args []string, c *Caller) [][]byte {
	h := replication.NewReplicaHandle(c.Sink)
	if c.Pin != nil {
		c.Pin(h)
	}
	replID, offset := e.repl.RegisterReplica(h)
	if e.log != nil {
		e.log.Debugw("replica registered", "client_id", c.ID, "replid", replID, "offset", offset)
	}
	frag1 := resp.EncodeSimpleString(fmt.Sprintf("FULLRESYNC %s %d", replID, offset))
	// A faithful primary would follow with a real RDB bulk string; this one
	// always answers with the empty-payload placeholder, so a connecting
	// replica bootstraps with whatever keys it already had (typically none).
	frag2 := []byte("$0\r\n")
	return [][]byte{frag1, frag2}
}
