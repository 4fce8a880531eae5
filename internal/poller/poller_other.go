//go:build !linux

package poller

import (
	"sync"

	"golang.org/x/sys/unix"
)

// pollPoller is a portable poll(2)-based fallback for non-Linux unix
// platforms, used only so the rest of this module builds and its non-
// reactor tests run off Linux — spec.md explicitly makes cross-platform
// portability of the reactor a Non-goal. Grounded loosely on the teacher's
// internal/ws/epoll_other.go fallback (same role: keep the interface
// usable without the real facility), reworked around poll(2) instead of a
// goroutine-per-connection design so the fd-indexed Poller interface holds.
type pollPoller struct {
	mu     sync.Mutex
	events map[int]Event // fd -> registered event mask (OneShot/Edge ignored)
	ready  []unix.PollFd
}

func New(maxEvents int) (Poller, error) {
	return &pollPoller{events: make(map[int]Event)}, nil
}

func (p *pollPoller) Add(fd int, events Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[fd] = events
	return nil
}

func (p *pollPoller) Modify(fd int, events Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.events[fd]; !ok {
		return unix.ENOENT
	}
	p.events[fd] = events
	return nil
}

func (p *pollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.events, fd)
	return nil
}

func toPollEvents(e Event) int16 {
	var m int16
	if e.Has(Read) {
		m |= unix.POLLIN
	}
	if e.Has(Write) {
		m |= unix.POLLOUT
	}
	return m
}

func fromPollEvents(m int16) Event {
	var e Event
	if m&unix.POLLIN != 0 {
		e |= Read
	}
	if m&unix.POLLOUT != 0 {
		e |= Write
	}
	if m&unix.POLLHUP != 0 {
		e |= Hup
	}
	if m&unix.POLLERR != 0 {
		e |= Err
	}
	return e
}

func (p *pollPoller) Wait(timeoutMS int) (int, error) {
	p.mu.Lock()
	fds := make([]unix.PollFd, 0, len(p.events))
	for fd, ev := range p.events {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(ev)})
	}
	p.mu.Unlock()

	if len(fds) == 0 {
		return 0, nil
	}

	_, err := unix.Poll(fds, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	ready := fds[:0:0]
	for _, pfd := range fds {
		if pfd.Revents != 0 {
			ready = append(ready, pfd)
		}
	}
	p.ready = ready
	return len(ready), nil
}

func (p *pollPoller) EventFD(i int) int {
	return int(p.ready[i].Fd)
}

func (p *pollPoller) EventMask(i int) Event {
	return fromPollEvents(p.ready[i].Revents)
}

func (p *pollPoller) Close() error {
	return nil
}
