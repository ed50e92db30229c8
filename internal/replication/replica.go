package replication

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"redisd/internal/ioloop"
	"redisd/internal/rdbfile"
	"redisd/internal/resp"
	"redisd/internal/store"
)

// ConnectToPrimary performs the replica handshake against host:port,
// bootstraps the keyspace from the RDB payload the primary sends back, and
// then starts streaming applied commands in the background. It returns once
// the handshake and bootstrap succeed; streaming continues on its own
// goroutine until ctx is cancelled or the link drops.
func (c *Controller) ConnectToPrimary(ctx context.Context, st *store.Store, host string, port int) error {
	c.mu.Lock()
	timeout := c.handshakeTimeout
	listeningPort := c.listeningPort
	c.mu.Unlock()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("replication: dial primary %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return fmt.Errorf("replication: set handshake deadline: %w", err)
	}

	br := bufio.NewReader(conn)

	if err := performHandshake(conn, br, listeningPort); err != nil {
		conn.Close()
		return err
	}

	payload, err := readBulkPayload(br)
	if err != nil {
		conn.Close()
		return fmt.Errorf("replication: reading rdb payload: %w", err)
	}
	if len(payload) > 0 {
		entries, err := rdbfile.Decode(bytes.NewReader(payload))
		if err != nil {
			c.logWarn("failed to decode bootstrap rdb payload", err)
		} else {
			for _, e := range entries {
				st.SetRaw(e.Key, e.Value, e.Expiry)
			}
		}
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return fmt.Errorf("replication: clear handshake deadline: %w", err)
	}

	go c.streamFromPrimary(ctx, conn, br)
	return nil
}

func performHandshake(conn net.Conn, br *bufio.Reader, listeningPort int) error {
	readLine := func() (string, error) {
		line, err := br.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	send := func(args ...string) error {
		items := make([][]byte, len(args))
		for i, a := range args {
			items[i] = []byte(a)
		}
		_, err := conn.Write(resp.EncodeArrayOfBulks(items))
		return err
	}

	if err := send("PING"); err != nil {
		return fmt.Errorf("replication: handshake ping: %w", err)
	}
	if line, err := readLine(); err != nil || !strings.HasPrefix(line, "+PONG") {
		return fmt.Errorf("replication: handshake ping: unexpected reply %q (err=%v)", line, err)
	}

	if err := send("REPLCONF", "listening-port", strconv.Itoa(listeningPort)); err != nil {
		return fmt.Errorf("replication: handshake replconf listening-port: %w", err)
	}
	if line, err := readLine(); err != nil || !strings.HasPrefix(line, "+OK") {
		return fmt.Errorf("replication: handshake replconf listening-port: unexpected reply %q (err=%v)", line, err)
	}

	if err := send("REPLCONF", "capa", "psync2"); err != nil {
		return fmt.Errorf("replication: handshake replconf capa: %w", err)
	}
	if line, err := readLine(); err != nil || !strings.HasPrefix(line, "+OK") {
		return fmt.Errorf("replication: handshake replconf capa: unexpected reply %q (err=%v)", line, err)
	}

	if err := send("PSYNC", "?", "-1"); err != nil {
		return fmt.Errorf("replication: handshake psync: %w", err)
	}
	if line, err := readLine(); err != nil || !strings.HasPrefix(line, "+FULLRESYNC") {
		return fmt.Errorf("replication: handshake psync: unexpected reply %q (err=%v)", line, err)
	}
	return nil
}

// readBulkPayload reads the RDB bulk fragment that follows FULLRESYNC. This
// server (on the primary side) always answers with the "$0\r\n" placeholder
// rather than a real bulk string, so unlike every other bulk string in this
// protocol there is no trailing CRLF to consume after the declared length of
// bytes - the reader must not expect one.
func readBulkPayload(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] != '$' {
		return nil, fmt.Errorf("expected bulk header, got %q", line)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid bulk length %q", line)
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// streamFromPrimary reuses the same read-decode-dispatch loop a direct
// client connection uses, just wired to the replicated-command executor
// instead of a socket writer: every frame is applied with ClientID 0 and
// never produces a reply.
func (c *Controller) streamFromPrimary(ctx context.Context, conn net.Conn, br *bufio.Reader) {
	defer conn.Close()
	// Closing the link on cancellation unblocks a Read waiting in Pump.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	handler := func(args []string) [][]byte {
		c.mu.Lock()
		exec := c.executor
		c.mu.Unlock()
		if exec != nil {
			exec(args)
		}
		return nil
	}
	if err := ioloop.Pump(ctx, br, io.Discard, handler); err != nil {
		c.logWarn("replication stream from primary ended", err)
	}
}

func (c *Controller) logWarn(msg string, err error) {
	if c.log != nil {
		c.log.Warnw(msg, "err", err)
	}
}
