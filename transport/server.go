package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"

	"github.com/fernwer/Duet/payload"
)

// Handler executes kernel calls. *kernel.Kernel implements it.
type Handler interface {
	Call(ctx context.Context, entry payload.Entry, hexPayload string) (string, error)
}

// Server accepts kernel calls over TCP
type Server struct {
	listen  string
	handler Handler

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a server answering calls on listen with h
func NewServer(listen string, h Handler) *Server {
	return &Server{
		listen:  listen,
		handler: h,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start begins accepting connections
func (s *Server) Start() error {
	network, addr := splitAddr(s.listen)
	listener, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	log.Printf("[Transport] Listening on %s", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Printf("[Transport] Accept error: %v", err)
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.track(conn, false)
				s.handleConnection(conn)
			}()
		}
	}()

	return nil
}

// Addr returns the listening address, nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add && s.closed {
		conn.Close()
	} else if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Printf("[Transport] Read error from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		if len(line) <= 1 {
			continue
		}

		var result string
		entry, hexPayload, err := parseRequest(line)
		if err == nil {
			result, err = s.handler.Call(context.Background(), entry, hexPayload)
		}
		if err != nil {
			log.Printf("[Transport] Call failed: %v", err)
		}
		if err := writeResponse(w, result, err); err != nil {
			log.Printf("[Transport] Write error to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

// Close stops accepting, closes open connections and waits for their
// handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
