// Package echoserver is a minimal TCP listener that reads one chunk per
// connection and writes it back. It is the local target for smoke runs and
// the end-to-end tests.
package echoserver

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	readBufferSize = 1024
	ioTimeout      = 5 * time.Second
)

// Server accepts connections until Close.
type Server struct {
	ln          net.Listener
	wg          sync.WaitGroup
	connections atomic.Int64
	bytes       atomic.Int64
	closeOnce   sync.Once
	closeErr    error
}

// Listen binds addr ("127.0.0.1:0" picks a free port) and starts serving.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return
		}
		s.connections.Add(1)
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(ioTimeout))
	buf := make([]byte, readBufferSize)
	n, _ := conn.Read(buf)
	if n == 0 {
		return
	}
	s.bytes.Add(int64(n))
	_, _ = conn.Write(buf[:n])
}

// Addr is the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Port is the bound TCP port.
func (s *Server) Port() uint16 {
	if tcp, ok := s.ln.Addr().(*net.TCPAddr); ok {
		return uint16(tcp.Port)
	}
	return 0
}

// Connections returns the number of accepted connections.
func (s *Server) Connections() int64 { return s.connections.Load() }

// Bytes returns the number of bytes read across all connections.
func (s *Server) Bytes() int64 { return s.bytes.Load() }

// Close stops accepting and waits for open connections to finish.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.ln.Close()
		s.wg.Wait()
	})
	return s.closeErr
}
