// Package sender performs single TCP connect-and-write attempts.
package sender

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// ConnectError reports a failed dial.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Kind labels the failure for metrics breakdowns.
func (e *ConnectError) Kind() string { return "connect" }

// WriteError reports a failed or partial payload write.
type WriteError struct {
	Addr    string
	Written int
	Size    int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s (%d/%d bytes): %v", e.Addr, e.Written, e.Size, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Kind() string { return "write" }

// Options configure a Sender. Zero timeouts leave the operating system
// defaults in place.
type Options struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// Sender opens a fresh connection per attempt and never reuses or retries.
type Sender struct {
	dialer       net.Dialer
	writeTimeout time.Duration
}

func New(opt Options) *Sender {
	s := &Sender{writeTimeout: opt.WriteTimeout}
	if opt.ConnectTimeout > 0 {
		s.dialer.Timeout = opt.ConnectTimeout
	}
	return s
}

// Send dials host:port, writes the whole payload and closes the connection.
// It returns nil only if both the connect and the full write succeeded.
func (s *Sender) Send(ctx context.Context, host string, port uint16, payload []byte) error {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &ConnectError{Addr: addr, Err: err}
	}
	defer conn.Close()

	if s.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return &WriteError{Addr: addr, Size: len(payload), Err: err}
		}
	}

	n, err := conn.Write(payload)
	if err == nil && n < len(payload) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &WriteError{Addr: addr, Written: n, Size: len(payload), Err: err}
	}
	return nil
}
