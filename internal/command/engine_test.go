package command_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"redisd/internal/command"
	"redisd/internal/config"
	"redisd/internal/replication"
	"redisd/internal/resp"
	"redisd/internal/store"
)

type fakeReplicator struct {
	propagated  [][]string
	replID      string
	offset      int64
	registered  []*replication.ReplicaHandle
}

func (f *fakeReplicator) Propagate(args []string) {
	f.propagated = append(f.propagated, args)
}

func (f *fakeReplicator) RegisterReplica(h *replication.ReplicaHandle) (string, int64) {
	f.registered = append(f.registered, h)
	return f.replID, f.offset
}

func (f *fakeReplicator) Info() replication.Info {
	return replication.Info{Role: replication.RoleMaster, ReplID: f.replID, Offset: f.offset}
}

type fakeSink struct {
	frames [][]byte
}

func (f *fakeSink) Enqueue(frame []byte) bool {
	f.frames = append(f.frames, frame)
	return true
}

func newEngine() (*command.Engine, *store.Store, *fakeReplicator) {
	st := store.New()
	cfg := config.New("/data", "dump.rdb")
	repl := &fakeReplicator{replID: "abc123"}
	return command.New(st, cfg, repl, nil), st, repl
}

func newCaller(id int64) *command.Caller {
	return &command.Caller{ID: id, Sink: &fakeSink{}}
}

func TestPingAndCommandReplyPong(t *testing.T) {
	e, _, _ := newEngine()
	require.Equal(t, [][]byte{resp.EncodeSimpleString("PONG")}, e.Dispatch([]string{"PING"}, newCaller(1)))
	require.Equal(t, [][]byte{resp.EncodeSimpleString("PONG")}, e.Dispatch([]string{"command"}, newCaller(1)))
}

func TestDispatchIsCaseInsensitive(t *testing.T) {
	e, _, _ := newEngine()
	require.Equal(t, [][]byte{resp.EncodeSimpleString("PONG")}, e.Dispatch([]string{"PiNg"}, newCaller(1)))
}

func TestUnknownCommandNoReply(t *testing.T) {
	e, _, _ := newEngine()
	require.Nil(t, e.Dispatch([]string{"FLUSHALL"}, newCaller(1)))
}

func TestEchoReturnsArgument(t *testing.T) {
	e, _, _ := newEngine()
	require.Equal(t, [][]byte{resp.EncodeSimpleString("hello")}, e.Dispatch([]string{"ECHO", "hello"}, newCaller(1)))
}

func TestGetMissingKeyIsNullBulk(t *testing.T) {
	e, _, _ := newEngine()
	require.Equal(t, [][]byte{resp.EncodeNullBulkString()}, e.Dispatch([]string{"GET", "nope"}, newCaller(1)))
}

func TestSetThenGetRoundTrip(t *testing.T) {
	e, _, _ := newEngine()
	caller := newCaller(1)
	require.Equal(t, [][]byte{resp.EncodeSimpleString("OK")}, e.Dispatch([]string{"SET", "foo", "bar"}, caller))
	require.Equal(t, [][]byte{resp.EncodeBulkString([]byte("bar"))}, e.Dispatch([]string{"GET", "foo"}, caller))
}

func TestSetWithPXExpiresKey(t *testing.T) {
	e, st, _ := newEngine()
	caller := newCaller(1)
	e.Dispatch([]string{"SET", "foo", "bar", "PX", "1"}, caller)
	time.Sleep(5 * time.Millisecond)
	_, ok := st.Get("foo")
	require.False(t, ok)
}

func TestSetBadArityIsNullBulk(t *testing.T) {
	e, _, _ := newEngine()
	require.Equal(t, [][]byte{resp.EncodeNullBulkString()}, e.Dispatch([]string{"SET", "foo"}, newCaller(1)))
}

func TestSetPropagatesForNonZeroClient(t *testing.T) {
	e, _, repl := newEngine()
	e.Dispatch([]string{"SET", "foo", "bar"}, newCaller(7))
	require.Len(t, repl.propagated, 1)
	require.Equal(t, []string{"SET", "foo", "bar"}, repl.propagated[0])
}

func TestSetFromReplicationStreamSuppressesReplyAndPropagation(t *testing.T) {
	e, st, repl := newEngine()
	reply := e.Dispatch([]string{"SET", "foo", "bar"}, newCaller(0))
	require.Nil(t, reply)
	require.Empty(t, repl.propagated)
	v, ok := st.Get("foo")
	require.True(t, ok)
	require.Equal(t, []byte("bar"), v)
}

func TestKeysReturnsMatches(t *testing.T) {
	e, _, _ := newEngine()
	caller := newCaller(1)
	e.Dispatch([]string{"SET", "foo", "1"}, caller)
	e.Dispatch([]string{"SET", "food", "2"}, caller)
	reply := e.Dispatch([]string{"KEYS", "fo*"}, caller)
	args, _, err := resp.DecodeCommand(reply[0])
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"foo", "food"}, args)
}

func TestConfigGetKnownField(t *testing.T) {
	e, _, _ := newEngine()
	reply := e.Dispatch([]string{"CONFIG", "GET", "dir"}, newCaller(1))
	args, _, err := resp.DecodeCommand(reply[0])
	require.NoError(t, err)
	require.Equal(t, []string{"dir", "/data"}, args)
}

func TestInfoReportsMasterRole(t *testing.T) {
	e, _, _ := newEngine()
	reply := e.Dispatch([]string{"INFO", "replication"}, newCaller(1))
	v, _, err := resp.TryDecode(reply[0])
	require.NoError(t, err)
	require.Contains(t, string(v.Bulk), "role:master")
	require.Contains(t, string(v.Bulk), "master_replid:abc123")
}

func TestReplConfAcknowledges(t *testing.T) {
	e, _, _ := newEngine()
	reply := e.Dispatch([]string{"REPLCONF", "listening-port", "6380"}, newCaller(1))
	require.Equal(t, [][]byte{resp.EncodeSimpleString("OK")}, reply)
}

func TestPSyncRegistersCallerAsReplicaAndRepliesTwoFragments(t *testing.T) {
	e, _, repl := newEngine()
	sink := &fakeSink{}
	var pinned any
	caller := &command.Caller{ID: 5, Sink: sink, Pin: func(v any) { pinned = v }}

	reply := e.Dispatch([]string{"PSYNC", "?", "-1"}, caller)
	require.Len(t, reply, 2)
	require.Contains(t, string(reply[0]), "FULLRESYNC abc123 0")
	require.Equal(t, []byte("$0\r\n"), reply[1])
	require.Len(t, repl.registered, 1)
	require.NotNil(t, pinned)
}
