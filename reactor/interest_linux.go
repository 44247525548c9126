//go:build linux
// +build linux

package reactor

import (
	"golang.org/x/sys/unix"
	"os"
)

const (
	readEvents      = unix.EPOLLPRI | unix.EPOLLIN
	writeEvents     = unix.EPOLLOUT
	readWriteEvents = readEvents | writeEvents
)

// interest keeps track of the fds registered to epoll and the events each one is watched for.
type interest struct {
	epollFd int
	set     map[int]uint32
}

func newInterest(epollFd int) *interest {
	return &interest{
		epollFd: epollFd,
		set:     make(map[int]uint32),
	}
}

// watchRead registers fd for read events only, dropping write interest if it had any.
func (r *interest) watchRead(fd int) error {
	return r.watch(fd, readEvents)
}

// watchReadWrite registers fd for read and write events.
func (r *interest) watchReadWrite(fd int) error {
	return r.watch(fd, readWriteEvents)
}

func (r *interest) watch(fd int, events uint32) (err error) {
	cur, ok := r.set[fd]

	if ok {
		if cur == events {
			return nil
		}
		err = r.ctl(unix.EPOLL_CTL_MOD, fd, events)
	} else {
		err = r.ctl(unix.EPOLL_CTL_ADD, fd, events)
	}

	if err != nil {
		return err
	}

	r.set[fd] = events
	return
}

// remove deletes fd from epoll. Unknown fds are ignored.
func (r *interest) remove(fd int) error {
	if _, ok := r.set[fd]; !ok {
		return nil
	}
	delete(r.set, fd)
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_DEL, fd, nil))
}

func (r *interest) ctl(op, fd int, events uint32) error {
	name := "epoll_ctl add"
	if op == unix.EPOLL_CTL_MOD {
		name = "epoll_ctl mod"
	}
	return os.NewSyscallError(name,
		unix.EpollCtl(r.epollFd, op, fd, &unix.EpollEvent{Fd: int32(fd), Events: events}))
}
