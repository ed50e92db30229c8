// Package ioloop implements the read-frame, dispatch, write-reply loop
// shared by every peer this server talks to over a byte stream: ordinary
// client connections and the replica's inbound link to its primary both
// pump the same way, just with a different Handler wired in.
package ioloop

import (
	"context"
	"errors"
	"io"

	"redisd/internal/resp"
)

// Handler executes one decoded command and returns the wire-ready reply
// fragments to write back, in order. A nil or empty return means no reply is
// sent for that command.
type Handler func(args []string) [][]byte

// Pump reads from r, decodes one command frame at a time, invokes handle,
// and writes every reply fragment to w before reading the next frame -
// replies are never interleaved or reordered relative to the request that
// produced them. It runs until ctx is cancelled, the peer closes the
// connection, a read or write fails, or a malformed frame is seen. ctx is
// checked before each decode step; Pump does not interrupt a Read that is
// already blocked.
func Pump(ctx context.Context, r io.Reader, w io.Writer, handle Handler) error {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		args, consumed, err := resp.DecodeCommand(buf)
		if err == nil {
			buf = buf[consumed:]
			if len(args) > 0 {
				for _, frame := range handle(args) {
					if _, werr := w.Write(frame); werr != nil {
						return werr
					}
				}
			}
			continue
		}
		if !errors.Is(err, resp.ErrIncomplete) {
			return err
		}

		n, rerr := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			if n > 0 {
				continue
			}
			return rerr
		}
	}
}
