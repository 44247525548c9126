// Package timer schedules periodic callbacks and hands them to an event loop
// so that they run on the loop goroutine, never concurrently with I/O callbacks.
package timer

import (
	"github.com/benbjohnson/clock"
	"github.com/fzft/go-log-collector/log"
	"sync"
	"time"
)

// Poster runs a function on another goroutine, typically reactor.Loop.
type Poster interface {
	Post(fn func())
}

type job struct {
	done chan struct{}
	once sync.Once
}

func (j *job) stop() {
	j.once.Do(func() { close(j.done) })
}

func (j *job) stopped() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

type Service struct {
	clock  clock.Clock
	poster Poster

	mu      sync.Mutex
	jobs    map[uint64]*job
	nextID  uint64
	stopped bool
	wg      sync.WaitGroup
}

func New(clk clock.Clock, poster Poster) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		clock:  clk,
		poster: poster,
		jobs:   make(map[uint64]*job),
	}
}

// Schedule posts fn every interval, or once after interval when repeat is false.
// A callback never runs after cancel has been called from the poster's goroutine.
func (s *Service) Schedule(interval time.Duration, repeat bool, fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		log.Logger.Warn("schedule on stopped timer service")
		return func() {}
	}

	id := s.nextID
	s.nextID++
	j := &job{done: make(chan struct{})}
	s.jobs[id] = j

	// the clock timers are created here, not in the goroutine, so a
	// time advance right after Schedule is never missed
	s.wg.Add(1)
	if repeat {
		go s.tick(s.clock.Ticker(interval), j, fn)
	} else {
		go s.once(id, s.clock.Timer(interval), j, fn)
	}

	return func() {
		j.stop()
		s.forget(id)
	}
}

// Stop cancels every job and waits for their goroutines to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, j := range s.jobs {
		j.stop()
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Len returns the number of jobs still scheduled.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Service) forget(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *Service) tick(t *clock.Ticker, j *job, fn func()) {
	defer s.wg.Done()
	defer t.Stop()

	for {
		select {
		case <-t.C:
			s.post(j, fn)
		case <-j.done:
			return
		}
	}
}

func (s *Service) once(id uint64, t *clock.Timer, j *job, fn func()) {
	defer s.wg.Done()
	defer t.Stop()

	select {
	case <-t.C:
		s.post(j, fn)
		s.forget(id)
	case <-j.done:
	}
}

func (s *Service) post(j *job, fn func()) {
	s.poster.Post(func() {
		if j.stopped() {
			return
		}
		fn()
	})
}
