package rdbfile_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"redisd/internal/rdbfile"
)

func writeShortString(buf *bytes.Buffer, s string) {
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
}

// buildSnapshot assembles the byte grammar directly, mirroring the cold-start
// wire scenario: an aux field, a SELECTDB marker, one key with no expiry, and
// one key whose expiry already elapsed.
func buildSnapshot(pastExpiryMs uint64) []byte {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")

	buf.WriteByte(0xFA)
	writeShortString(&buf, "redis-ver")
	writeShortString(&buf, "7.0.0")

	buf.WriteByte(0xFE)
	buf.WriteByte(0x00)
	buf.Write([]byte{0, 0, 0, 0})

	buf.WriteByte(0x00)
	writeShortString(&buf, "foo")
	writeShortString(&buf, "value1")

	buf.WriteByte(0xFC)
	var expiry [8]byte
	binary.LittleEndian.PutUint64(expiry[:], pastExpiryMs)
	buf.Write(expiry[:])
	buf.WriteByte(0x00)
	writeShortString(&buf, "hema")
	writeShortString(&buf, "value2")

	buf.WriteByte(0xFF)
	return buf.Bytes()
}

func TestDecodeColdStartSnapshot(t *testing.T) {
	past := uint64(time.Now().Add(-time.Hour).UnixMilli())
	data := buildSnapshot(past)

	entries, err := rdbfile.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byKey := map[string]rdbfile.Entry{}
	for _, e := range entries {
		byKey[e.Key] = e
	}

	foo, ok := byKey["foo"]
	require.True(t, ok)
	require.Equal(t, []byte("value1"), foo.Value)
	require.Nil(t, foo.Expiry)

	hema, ok := byKey["hema"]
	require.True(t, ok)
	require.Equal(t, []byte("value2"), hema.Value)
	require.NotNil(t, hema.Expiry)
	require.WithinDuration(t, time.UnixMilli(int64(past)), *hema.Expiry, time.Millisecond)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := rdbfile.Decode(bytes.NewReader([]byte("NOTREDIS1")))
	require.Error(t, err)
}

func TestDecodeTruncatedStreamReturnsWhatItHas(t *testing.T) {
	data := buildSnapshot(uint64(time.Now().UnixMilli()))
	truncated := data[:len(data)-10]

	entries, err := rdbfile.Decode(bytes.NewReader(truncated))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "foo", entries[0].Key)
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	entries, err := rdbfile.LoadFile(t.TempDir(), "does-not-exist.rdb")
	require.NoError(t, err)
	require.Nil(t, entries)
}
