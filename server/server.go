package server

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"github.com/fzft/go-log-collector/log"
	"github.com/fzft/go-log-collector/reactor"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"time"
)

// DefaultBind is the address used when ListenConfig.Bind is empty.
const DefaultBind = "0.0.0.0"

// EventLoop delivers readiness callbacks to watchers. *reactor.Loop implements it.
type EventLoop interface {
	Attach(w reactor.Watcher) error
	WatchWrite(w reactor.Watcher, enable bool) error
	Detach(fd int) error
}

// Scheduler runs fn every interval on the event loop goroutine. *timer.Service implements it.
type Scheduler interface {
	Schedule(interval time.Duration, repeat bool, fn func()) (cancel func())
}

type ListenConfig struct {
	Port int
	Bind string

	// Keepalive is the longest a connection may go without reading before
	// it is evicted. Zero means never.
	Keepalive time.Duration

	// Backlog bounds the kernel accept queue. Zero means the OS default.
	Backlog int

	// MaxBuffer bounds the unterminated bytes a connection may hold while
	// waiting for a delimiter. A connection going past it is closed. Zero means no limit.
	MaxBuffer int
}

func (c ListenConfig) withDefaults() ListenConfig {
	if c.Bind == "" {
		c.Bind = DefaultBind
	}
	return c
}

func (c ListenConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.Keepalive < 0 {
		return fmt.Errorf("%w: negative keepalive %s", ErrInvalidConfig, c.Keepalive)
	}
	if c.Backlog < 0 {
		return fmt.Errorf("%w: negative backlog %d", ErrInvalidConfig, c.Backlog)
	}
	if c.MaxBuffer < 0 {
		return fmt.Errorf("%w: negative max buffer %d", ErrInvalidConfig, c.MaxBuffer)
	}
	return nil
}

type Option func(*Server)

// WithMetrics records server metrics in set instead of a private one.
func WithMetrics(set *metrics.Set) Option {
	return func(s *Server) {
		s.metrics = set
	}
}

// Server is a set of listeners sharing one event loop and one timer service.
type Server struct {
	loop      EventLoop
	timer     Scheduler
	metrics   *metrics.Set
	listeners []*Listener
	closed    bool

	bind func(bind string, port, backlog int) (listenSocket, error)
}

func New(loop EventLoop, timer Scheduler, opts ...Option) *Server {
	s := &Server{
		loop:  loop,
		timer: timer,
		bind:  listenTCP,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewSet()
	}
	return s
}

// Metrics returns the set the server records into.
func (s *Server) Metrics() *metrics.Set {
	return s.metrics
}

func (s *Server) Listeners() []*Listener {
	return s.listeners
}

// Listen binds cfg.Bind:cfg.Port, attaches the acceptor to the event loop
// and schedules the keepalive reaper. onConnect is called for every
// accepted connection. Bind failures are returned as is.
func (s *Server) Listen(cfg ListenConfig, onConnect ConnectHandler) (*Listener, error) {
	if s.closed {
		return nil, ErrServerClosed
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	sock, err := s.bind(cfg.Bind, cfg.Port, cfg.Backlog)
	if err != nil {
		log.Logger.Error("listen error", zap.String("bind", cfg.Bind), zap.Int("port", cfg.Port), zap.Error(err))
		return nil, fmt.Errorf("listen %s:%d: %w", cfg.Bind, cfg.Port, err)
	}

	l := newListener(sock, cfg, s.loop, s.timer, s.metrics, onConnect)

	if err := s.loop.Attach(l); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("attach listener %s: %w", l.addr, err)
	}

	l.cancelReaper = s.timer.Schedule(KeepaliveCheckInterval, true, l.reaper.Tick)
	s.listeners = append(s.listeners, l)

	log.Logger.Info("listening", zap.String("addr", l.addr),
		zap.Duration("keepalive", cfg.Keepalive), zap.Int("backlog", cfg.Backlog))
	return l, nil
}

// Shutdown closes every live connection, then every listening socket.
// Queued output is discarded. Calling it again does nothing.
func (s *Server) Shutdown() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	for _, l := range s.listeners {
		l.stopReaper()
	}
	for _, l := range s.listeners {
		err = multierr.Append(err, l.closeConnections())
	}
	for _, l := range s.listeners {
		err = multierr.Append(err, l.Close())
	}

	log.Logger.Info("server shut down", zap.Int("listeners", len(s.listeners)))
	return err
}
