package server

import (
	"errors"
	"github.com/VictoriaMetrics/metrics"
	"github.com/fzft/go-log-collector/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"net"
	"strconv"
	"time"
)

// AcceptRetryDelay is how long a listener stops accepting after a failed
// accept, e.g. when the process is out of file descriptors.
const AcceptRetryDelay = 100 * time.Millisecond

// Listener owns one listening socket, the connections accepted on it and their reaper.
type Listener struct {
	sock      listenSocket
	addr      string
	keepalive time.Duration
	maxBuffer int
	onConnect ConnectHandler
	loop      EventLoop
	timer     Scheduler
	conns     *Registry
	reaper    *Reaper
	stats     *listenerMetrics

	cancelReaper func()
	cancelRetry  func()
	paused       bool
	closed       bool
}

func newListener(sock listenSocket, cfg ListenConfig, loop EventLoop, timer Scheduler, set *metrics.Set, onConnect ConnectHandler) *Listener {
	addr := net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port))
	conns := NewRegistry()
	stats := newListenerMetrics(set, addr)
	return &Listener{
		sock:      sock,
		addr:      addr,
		keepalive: cfg.Keepalive,
		maxBuffer: cfg.MaxBuffer,
		onConnect: onConnect,
		loop:      loop,
		timer:     timer,
		conns:     conns,
		reaper:    newReaper(conns, cfg.Keepalive, stats),
		stats:     stats,
	}
}

// Addr is the configured bind address and port.
func (l *Listener) Addr() string { return l.addr }

func (l *Listener) Keepalive() time.Duration { return l.keepalive }

// Len is the number of live connections accepted on this listener.
func (l *Listener) Len() int { return l.conns.Len() }

// Connections returns a snapshot of the live connections.
func (l *Listener) Connections() []*Conn { return l.conns.Snapshot() }

// Fd implements reactor.Watcher.
func (l *Listener) Fd() int { return l.sock.Fd() }

// HandleReadable accepts every pending connection.
func (l *Listener) HandleReadable() {
	for !l.closed {
		sock, err := l.sock.Accept()
		if err != nil {
			if !errors.Is(err, ErrWouldBlock) {
				log.Logger.Error("accept error", zap.String("listener", l.addr), zap.Error(err))
				l.pause()
			}
			return
		}

		c := newConn(l, sock)
		if err := l.loop.Attach(c); err != nil {
			log.Logger.Error("attach connection failed", zap.String("conn", c.id), zap.Error(err))
			_ = c.Close()
			continue
		}

		log.Logger.Debug("new connection",
			zap.String("conn", c.id), zap.Int("fd", sock.Fd()),
			zap.String("remote", c.remoteAddr), zap.Int("port", c.remotePort))
		c.OnConnect()
	}
}

func (l *Listener) HandleWritable() {}

func (l *Listener) HandleHangup() {
	log.Logger.Error("listen socket error", zap.String("listener", l.addr))
	l.pause()
}

// Paused reports whether accepting is suspended after an error.
func (l *Listener) Paused() bool { return l.paused }

// pause takes the listen socket off the loop, which is level triggered and
// would report the same error again at once, and resumes after AcceptRetryDelay.
func (l *Listener) pause() {
	if l.paused || l.closed {
		return
	}
	if err := l.loop.Detach(l.sock.Fd()); err != nil {
		log.Logger.Error("detach listener", zap.String("listener", l.addr), zap.Error(err))
	}
	l.paused = true
	l.cancelRetry = l.timer.Schedule(AcceptRetryDelay, false, l.resume)
}

func (l *Listener) resume() {
	l.cancelRetry = nil
	if !l.paused || l.closed {
		return
	}
	if err := l.loop.Attach(l); err != nil {
		log.Logger.Error("reattach listener", zap.String("listener", l.addr), zap.Error(err))
		l.cancelRetry = l.timer.Schedule(AcceptRetryDelay, false, l.resume)
		return
	}
	l.paused = false
	log.Logger.Info("accepting again", zap.String("listener", l.addr))
}

func (l *Listener) stopReaper() {
	if l.cancelReaper != nil {
		l.cancelReaper()
		l.cancelReaper = nil
	}
}

// closeConnections closes every live connection, skipping already closed ones.
func (l *Listener) closeConnections() error {
	var err error
	for _, c := range l.conns.Snapshot() {
		if c.closed {
			l.conns.Remove(c)
			continue
		}
		err = multierr.Append(err, c.Close())
	}
	return err
}

// Close stops the reaper and closes the listening socket. Accepted connections are left alone.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.stopReaper()
	if l.cancelRetry != nil {
		l.cancelRetry()
		l.cancelRetry = nil
	}

	err := l.loop.Detach(l.sock.Fd())
	return multierr.Append(err, l.sock.Close())
}
