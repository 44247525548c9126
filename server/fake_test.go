package server

import (
	"bytes"
	"errors"
	"github.com/VictoriaMetrics/metrics"
	"github.com/fzft/go-log-collector/reactor"
	"io"
	"time"
)

var errPeer = errors.New("getpeername: transport endpoint is not connected")

// TestSocket is an in-memory Socket. Reads hand out queued chunks one per
// call; writes are captured in Written.
type TestSocket struct {
	fd      int
	reads   [][]byte
	eof     bool
	readErr error

	Written    bytes.Buffer
	writeLimit int  // bytes accepted per Write call, 0 means all
	blocked    bool // Write accepts nothing
	writeErr   error

	peerErr    error
	closeCount int
	onClose    func()
}

func (s *TestSocket) Fd() int { return s.fd }

func (s *TestSocket) Read(p []byte) (int, error) {
	if len(s.reads) > 0 {
		n := copy(p, s.reads[0])
		s.reads = s.reads[1:]
		return n, nil
	}
	if s.readErr != nil {
		return 0, s.readErr
	}
	if s.eof {
		return 0, io.EOF
	}
	return 0, ErrWouldBlock
}

func (s *TestSocket) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if s.blocked {
		return 0, ErrWouldBlock
	}
	n := len(p)
	if s.writeLimit > 0 && n > s.writeLimit {
		n = s.writeLimit
	}
	s.Written.Write(p[:n])
	return n, nil
}

func (s *TestSocket) PeerAddr() (string, int, error) {
	if s.peerErr != nil {
		return "", 0, s.peerErr
	}
	return "10.0.0.7", 40000 + s.fd, nil
}

func (s *TestSocket) Close() error {
	s.closeCount++
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// TestListenSocket hands out pending sockets from Accept.
type TestListenSocket struct {
	fd        int
	pending   []Socket
	acceptErr error
	closed    bool
	onClose   func()
}

func (l *TestListenSocket) Fd() int { return l.fd }

func (l *TestListenSocket) Accept() (Socket, error) {
	if len(l.pending) == 0 {
		if l.acceptErr != nil {
			return nil, l.acceptErr
		}
		return nil, ErrWouldBlock
	}
	s := l.pending[0]
	l.pending = l.pending[1:]
	return s, nil
}

func (l *TestListenSocket) Close() error {
	l.closed = true
	if l.onClose != nil {
		l.onClose()
	}
	return nil
}

// TestLoop records attachments instead of polling.
type TestLoop struct {
	attached  map[int]reactor.Watcher
	writes    map[int]bool
	attachErr error
}

func newTestLoop() *TestLoop {
	return &TestLoop{
		attached: make(map[int]reactor.Watcher),
		writes:   make(map[int]bool),
	}
}

func (l *TestLoop) Attach(w reactor.Watcher) error {
	if l.attachErr != nil {
		return l.attachErr
	}
	l.attached[w.Fd()] = w
	return nil
}

func (l *TestLoop) WatchWrite(w reactor.Watcher, enable bool) error {
	if _, ok := l.attached[w.Fd()]; !ok {
		return reactor.ErrNotAttached
	}
	l.writes[w.Fd()] = enable
	return nil
}

func (l *TestLoop) Detach(fd int) error {
	delete(l.attached, fd)
	delete(l.writes, fd)
	return nil
}

type testJob struct {
	interval  time.Duration
	repeat    bool
	fn        func()
	cancelled bool
}

// TestScheduler runs jobs only when the test calls tick.
type TestScheduler struct {
	jobs []*testJob
}

func (s *TestScheduler) Schedule(interval time.Duration, repeat bool, fn func()) func() {
	j := &testJob{interval: interval, repeat: repeat, fn: fn}
	s.jobs = append(s.jobs, j)
	return func() { j.cancelled = true }
}

func (s *TestScheduler) tick() {
	for _, j := range s.jobs {
		if !j.cancelled {
			if !j.repeat {
				j.cancelled = true
			}
			j.fn()
		}
	}
}

func newTestListener(keepalive time.Duration) (*Listener, *TestLoop) {
	loop := newTestLoop()
	cfg := ListenConfig{Port: 24224, Bind: DefaultBind, Keepalive: keepalive}
	l := newListener(&TestListenSocket{fd: 3}, cfg, loop, &TestScheduler{}, metrics.NewSet(), nil)
	return l, loop
}

// accept builds a connection the way the acceptor does.
func accept(l *Listener, loop *TestLoop, sock *TestSocket) *Conn {
	c := newConn(l, sock)
	_ = loop.Attach(c)
	c.OnConnect()
	return c
}
