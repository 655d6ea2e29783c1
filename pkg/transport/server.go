package transport

import (
	"fmt"
	"net"
	"sync"

	log "github.com/junbin-yang/nearshare-go/pkg/utils/logger"
	"github.com/junbin-yang/nearshare-go/pkg/nearshare/session"
)

// Server accepts TCP connections and serves each one with ServeConn, using
// the same accept-loop/per-connection-goroutine split as this stack's other
// socket listeners.
type Server struct {
	host *session.Host

	listener net.Listener
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// NewServer returns a Server that terminates connections against host.
func NewServer(host *session.Host) *Server {
	return &Server{host: host, stopped: make(chan struct{})}
}

// Listen starts accepting connections on addr ("host:port"). Returns once
// the listener is bound; the accept loop runs in the background.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	s.listener = l
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address, valid only after a successful Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting new connections and waits for in-flight connections
// to end. It does not close those connections itself.
func (s *Server) Close() error {
	close(s.stopped)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopped:
				return
			default:
				log.Errorf("transport: accept: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()

			device := conn.RemoteAddr().String()
			log.Infof("transport: connection from %s", device)
			if err := ServeConn(conn, device, s.host); err != nil {
				log.Warnf("transport: connection from %s ended: %v", device, err)
			}
		}()
	}
}
