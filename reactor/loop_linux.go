//go:build linux
// +build linux

package reactor

import (
	"context"
	"fmt"
	"github.com/fzft/go-log-collector/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"sync"
	"sync/atomic"
	"unsafe"
)

// DefaultMaxEvents is the number of epoll events fetched per wait.
const DefaultMaxEvents = 1024

// Loop is an epoll reactor. Attach, WatchWrite and Detach must be called
// from the loop goroutine (or before Run starts); Post and Stop are safe
// from any goroutine.
type Loop struct {
	*interest
	epollFd   int
	efd       int // eventfd used to wake epoll_wait
	maxEvents int
	watchers  map[int]Watcher

	stopping atomic.Bool

	mu     sync.Mutex // guards tasks, closed and writes to efd
	tasks  []func()
	closed bool
}

// New creates an epoll instance and its wake-up eventfd.
func New(maxEvents int) (*Loop, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create epoll", zap.Error(err))
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create eventfd", zap.Error(err))
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	r := newInterest(epfd)

	// Register the eventfd to epoll for read events
	if err := r.watchRead(efd); err != nil {
		log.Logger.Error("Failed to add eventfd to epoll", zap.Error(err))
		_ = unix.Close(efd)
		_ = unix.Close(epfd)
		return nil, err
	}

	return &Loop{
		interest:  r,
		epollFd:   epfd,
		efd:       efd,
		maxEvents: maxEvents,
		watchers:  make(map[int]Watcher),
	}, nil
}

// Attach starts delivering read readiness for w.
func (l *Loop) Attach(w Watcher) error {
	fd := w.Fd()
	if _, ok := l.watchers[fd]; ok {
		return fmt.Errorf("attach fd %d: %w", fd, ErrAlreadyAttached)
	}
	if err := l.watchRead(fd); err != nil {
		return fmt.Errorf("attach fd %d: %w", fd, err)
	}
	l.watchers[fd] = w
	return nil
}

// WatchWrite toggles write readiness delivery for an attached watcher.
func (l *Loop) WatchWrite(w Watcher, enable bool) error {
	fd := w.Fd()
	if _, ok := l.watchers[fd]; !ok {
		return fmt.Errorf("watch write fd %d: %w", fd, ErrNotAttached)
	}
	if enable {
		return l.watchReadWrite(fd)
	}
	return l.watchRead(fd)
}

// Detach stops delivering events for fd. It must be called before fd is closed.
func (l *Loop) Detach(fd int) error {
	if _, ok := l.watchers[fd]; !ok {
		return nil
	}
	delete(l.watchers, fd)
	return l.remove(fd)
}

// Post queues fn to run on the loop goroutine. Tasks posted after Close are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.tasks = append(l.tasks, fn)
	l.wake()
}

// Stop makes Run return after the current batch of events and tasks.
func (l *Loop) Stop() {
	l.stopping.Store(true)

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.wake()
	}
}

// Run blocks dispatching events until Stop is called, ctx is done or epoll fails.
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.Stop)
	defer stop()

	events := make([]unix.EpollEvent, l.maxEvents)

	for !l.stopping.Load() {
		// level triggered, block until something happens
		n, err := unix.EpollWait(l.epollFd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Logger.Error("epoll wait error", zap.Error(err))
			return fmt.Errorf("epoll wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := &events[i]
			fd := int(ev.Fd)
			if fd == l.efd {
				l.drainWakeups()
				continue
			}
			l.dispatch(fd, ev.Events)
		}

		l.runTasks()
	}

	log.Logger.Debug("event loop stopped")
	return nil
}

// Close releases the eventfd and the epoll instance. Attached watchers are
// forgotten but their fds are left open; they belong to whoever attached them.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	l.tasks = nil

	var err error
	for fd := range l.watchers {
		delete(l.watchers, fd)
		if rmErr := l.remove(fd); rmErr != nil {
			log.Logger.Debug("Failed to delete fd from epoll", zap.Int("fd", fd), zap.Error(rmErr))
		}
	}

	if rmErr := l.remove(l.efd); rmErr != nil {
		log.Logger.Debug("Failed to delete eventfd from epoll", zap.Error(rmErr))
	}
	err = multierr.Append(err, CloseFd(l.efd))
	err = multierr.Append(err, CloseFd(l.epollFd))
	return err
}

func (l *Loop) dispatch(fd int, events uint32) {
	w, ok := l.watchers[fd]
	if !ok {
		log.Logger.Debug("event for unknown fd", zap.Int("fd", fd))
		return
	}

	switch {
	case events&readEvents != 0:
		w.HandleReadable()
	case events&(unix.EPOLLERR|unix.EPOLLHUP) != 0:
		w.HandleHangup()
		return
	}

	// the read handler may have closed and detached the watcher
	if events&writeEvents != 0 {
		if cur, ok := l.watchers[fd]; ok && cur == w {
			w.HandleWritable()
		}
	}
}

func (l *Loop) runTasks() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}
}

// wake bumps the eventfd counter. Callers hold l.mu.
func (l *Loop) wake() {
	one := uint64(1)
	_, err := unix.Write(l.efd, (*(*[8]byte)(unsafe.Pointer(&one)))[:])
	if err != nil && !IsTemporaryError(err) {
		log.Logger.Error("Failed to write to event fd", zap.Error(err))
	}
}

func (l *Loop) drainWakeups() {
	var buf uint64
	_, err := unix.Read(l.efd, (*(*[8]byte)(unsafe.Pointer(&buf)))[:])
	if err != nil && !IsTemporaryError(err) {
		log.Logger.Error("Failed to read from event fd", zap.Error(err))
	}
}
