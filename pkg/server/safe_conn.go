package server

import (
	"bufio"
	"net"
	"strings"
	"sync"
)

// SafeConn wraps a net.Conn with automatic write synchronization to prevent
// concurrent writes from interleaving on the wire.
//
// After a connection is registered, two parties write to it: its own worker
// (auth prompts, history replay) and the broadcast path running on other
// workers' goroutines. Without synchronization their lines would interleave
// mid-line and corrupt the protocol.
//
// SafeConn encapsulates both the connection and its write mutex, making it
// impossible to write without proper synchronization. Reads stay exclusive
// to the owning worker and need no lock.
type SafeConn struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex // Protects writes to conn
}

// NewSafeConn wraps a net.Conn with write synchronization and buffered
// line reading.
func NewSafeConn(conn net.Conn) *SafeConn {
	return &SafeConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// WriteLine sends one protocol line, appending the newline terminator.
// This is the ONLY way to write to the connection - the raw conn is private.
func (sc *SafeConn) WriteLine(line string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, err := sc.conn.Write([]byte(line + "\n"))
	return err
}

// ReadLine blocks until one protocol line arrives and returns it without
// the line terminator. Only the owning worker may call this.
func (sc *SafeConn) ReadLine() (string, error) {
	line, err := sc.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Close closes the underlying connection. Unblocks at most the one read or
// write currently pending on it.
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

// RemoteAddr returns the remote network address
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
