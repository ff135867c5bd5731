// Package tcp serves the passvault wire protocol over TCP. Every connection
// gets its own goroutine and session and is driven by a strict
// read, dispatch, write loop until the client disconnects.
package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/passvault/internal/common"
	"github.com/dmitrijs2005/passvault/internal/logging"
	"github.com/dmitrijs2005/passvault/internal/server/dispatch"
	"github.com/dmitrijs2005/passvault/internal/server/metrics"
	"github.com/dmitrijs2005/passvault/internal/server/protocol"
	"github.com/dmitrijs2005/passvault/internal/server/session"
)

// Handler turns decoded frames into responses. *dispatch.Dispatcher
// implements it.
type Handler interface {
	Dispatch(ctx context.Context, sess *session.Session, cmd protocol.Command) dispatch.Result
	Reject(ctx context.Context, sess *session.Session, err error) dispatch.Result
}

type Options struct {
	Address string
	Handler Handler
	Logger  logging.Logger
	Metrics *metrics.Metrics
	// MaxConnections caps concurrent clients; 0 means unbounded.
	MaxConnections int
	// IdleTimeout closes a connection that sends nothing for this long; 0
	// disables it.
	IdleTimeout time.Duration
}

type Server struct {
	address     string
	handler     Handler
	logger      logging.Logger
	metrics     *metrics.Metrics
	maxConns    int
	idleTimeout time.Duration

	active atomic.Int32
	wg     sync.WaitGroup

	mu       sync.Mutex
	conns    map[*conn]struct{}
	stopping bool
}

func NewServer(opts Options) *Server {
	l := opts.Logger
	if l == nil {
		l = logging.Nop()
	}
	return &Server{
		address:     opts.Address,
		handler:     opts.Handler,
		logger:      l.With("module", "tcp_server"),
		metrics:     opts.Metrics,
		maxConns:    opts.MaxConnections,
		idleTimeout: opts.IdleTimeout,
		conns:       make(map[*conn]struct{}),
	}
}

// Active reports the number of connected clients.
func (s *Server) Active() int {
	return int(s.active.Load())
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. On shutdown it
// stops accepting, interrupts connections waiting for a request and waits
// for commands already running to finish and be answered.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Stopping TCP server...")
			ln.Close()
			s.interruptAll()
		case <-done:
		}
	}()

	s.logger.Info(ctx, "Starting TCP server", "address", ln.Addr().String())

	var acceptErr error
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			acceptErr = err
			ln.Close()
			s.interruptAll()
			break
		}

		if s.maxConns > 0 && s.Active() >= s.maxConns {
			s.refuse(ctx, nc)
			continue
		}

		s.active.Add(1)
		s.wg.Add(1)
		go s.serve(ctx, nc)
	}

	s.wg.Wait()
	return acceptErr
}

func (s *Server) refuse(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	s.metrics.ConnectionRejected()
	s.logger.Warn(ctx, "connection refused, limit reached", "remote", nc.RemoteAddr().String(), "max_connections", s.maxConns)

	_ = nc.SetWriteDeadline(time.Now().Add(time.Second))
	_ = protocol.NewWriter(nc).WriteFrame(protocol.Fail("Server is busy, please try again later."))
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) interruptAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	for c := range s.conns {
		c.interrupt()
	}
}

func (s *Server) serve(ctx context.Context, nc net.Conn) {
	defer s.wg.Done()

	c := &conn{nc: nc, sess: session.New(nc.RemoteAddr().String())}
	log := s.logger.With("session_id", c.sess.ID(), "remote", c.sess.Remote())

	s.metrics.ConnectionOpened()
	log.Info(ctx, "client connected", "active", s.Active())
	defer func() {
		c.sess.Close()
		nc.Close()
		s.untrack(c)
		n := s.active.Add(-1)
		s.metrics.ConnectionClosed()
		log.Info(ctx, "client disconnected", "active", n, "duration", time.Since(c.sess.Started()))
	}()

	if !s.track(c) {
		return
	}

	// commands keep running through shutdown; the connection ending is what
	// cancels them
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	r := protocol.NewReader(nc)
	w := protocol.NewWriter(nc)
	for {
		if !c.armRead(s.idleTimeout) {
			log.Debug(ctx, "connection interrupted by shutdown")
			return
		}

		frame, err := r.ReadFrame()
		if err != nil {
			s.readFailed(ctx, log, c, w, err)
			return
		}

		var res dispatch.Result
		cmd, err := protocol.DecodeCommand(frame)
		if err != nil {
			res = s.handler.Reject(connCtx, c.sess, err)
		} else {
			res = s.handler.Dispatch(connCtx, c.sess, cmd)
		}

		if err := w.WriteFrame(res.Response); err != nil {
			log.Warn(ctx, "failed to write response", "error", err)
			return
		}
		if res.Close {
			return
		}
	}
}

func (s *Server) readFailed(ctx context.Context, log logging.Logger, c *conn, w *protocol.Writer, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		log.Debug(ctx, "client closed the connection")
	case errors.Is(err, protocol.ErrFrameTooLarge):
		log.Warn(ctx, "oversized request, closing connection", "kind", common.Kind(common.ErrProtocol), "limit", common.MaxFrameSize)
		_ = w.WriteFrame(protocol.Fail("Request is larger than %d bytes, closing the connection.", common.MaxFrameSize))
		drain(c.nc)
	case errors.As(err, &ne) && ne.Timeout():
		if c.interrupted() {
			log.Debug(ctx, "connection interrupted by shutdown")
			return
		}
		log.Info(ctx, "idle timeout, closing connection", "idle_timeout", s.idleTimeout)
		_ = c.nc.SetWriteDeadline(time.Now().Add(time.Second))
		_ = w.WriteFrame(protocol.Fail("Connection closed after %s of inactivity.", s.idleTimeout))
	default:
		log.Warn(ctx, "failed to read request", "error", err)
	}
}

// drain half-closes nc and discards whatever the peer already sent, so the
// last response is not lost to a connection reset.
func drain(nc net.Conn) {
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	_ = nc.SetReadDeadline(time.Now().Add(time.Second))
	_, _ = io.Copy(io.Discard, io.LimitReader(nc, 4*common.MaxFrameSize))
}

// conn guards the read deadline so that a shutdown interrupt is never
// overwritten by the next idle deadline.
type conn struct {
	nc   net.Conn
	sess *session.Session

	mu      sync.Mutex
	stopped bool
}

func (c *conn) armRead(idle time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	var deadline time.Time
	if idle > 0 {
		deadline = time.Now().Add(idle)
	}
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return false
	}
	return true
}

func (c *conn) interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	_ = c.nc.SetReadDeadline(time.Now())
}

func (c *conn) interrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
