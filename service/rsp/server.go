package rsp

import (
	"context"
	"errors"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hwemu/gdbstub/pkg/logflags"
	"github.com/hwemu/gdbstub/pkg/proc"
	"github.com/hwemu/gdbstub/service"
)

// Server accepts debugger connections and serves them one at a time.
type Server struct {
	// config is all the information necessary to start the server.
	config *service.Config
	// listener is used to accept connections.
	listener net.Listener
	// stopChan is closed by Stop.
	stopChan chan struct{}
	stopOnce sync.Once

	ctrl *proc.Controller
	log  logflags.Logger

	mu     sync.Mutex
	active net.Conn
}

var _ service.Server = (*Server)(nil)

// NewServer creates a server for the machine controlled by ctrl.
func NewServer(config *service.Config, ctrl *proc.Controller) *Server {
	return &Server{
		config:   config,
		listener: config.Listener,
		stopChan: make(chan struct{}),
		ctrl:     ctrl,
		log:      logflags.SessionLogger(),
	}
}

// Stop stops the server, the connected debugger is disconnected.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.listener.Close()
		s.mu.Lock()
		if s.active != nil {
			s.active.Close()
		}
		s.mu.Unlock()
	})
	return nil
}

// Run accepts connections until ctx is cancelled or Stop is called. Unless
// AcceptMulti is set it also returns once the first debugger has
// disconnected. A second debugger connecting while one is being served is
// refused.
func (s *Server) Run(ctx context.Context) error {
	if s.config.DisconnectChan != nil {
		defer close(s.config.DisconnectChan)
	}
	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-s.stopChan:
		}
		s.Stop()
		return nil
	})

	g.Go(func() error {
		defer cancel()
		for {
			c, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.stopChan:
					// We were supposed to exit, do nothing and return
					return nil
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			if !s.claim(c) {
				s.log.Warnf("refusing connection from %s: a debugger is already connected", c.RemoteAddr())
				c.Close()
				continue
			}
			g.Go(func() error {
				s.serve(ctx, c)
				if !s.config.AcceptMulti {
					s.Stop()
				}
				return nil
			})
		}
	})
	return g.Wait()
}

func (s *Server) claim(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return false
	}
	select {
	case <-s.stopChan:
		return false
	default:
	}
	s.active = c
	return true
}

// serve runs a session on c. Session errors end the connection, never the
// server.
func (s *Server) serve(ctx context.Context, c net.Conn) {
	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		c.Close()
	}()
	s.log.Infof("debugger connected from %s", c.RemoteAddr())
	sess := NewSession(c, s.ctrl, s.config.PacketSize)
	if err := sess.Run(ctx); err != nil {
		s.log.WithError(err).Errorf("session with %s failed", c.RemoteAddr())
		return
	}
	s.log.Infof("debugger at %s disconnected", c.RemoteAddr())
}
