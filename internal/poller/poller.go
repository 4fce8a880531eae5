// Package poller is a thin façade over the platform readiness-notification
// facility (Linux epoll; a portable poll(2)-based fallback elsewhere since
// spec.md explicitly makes cross-platform portability a Non-goal and this
// fallback exists only so the rest of the module still builds and tests
// off Linux).
//
// Grounded on original_source/code/server/epoller.h's AddFd/ModFd/DelFd/
// Wait/GetEventFd/GetEvents and the teacher's internal/ws/epoll.go
// (epoll_create1/epoll_ctl/epoll_wait via golang.org/x/sys/unix).
package poller

// Event is a bitmask of readiness conditions, mirroring spec.md §4.4's
// combinable event mask (read-ready, write-ready, peer-shutdown, hang-up,
// error, one-shot re-arm required, edge-triggered).
type Event uint32

const (
	Read Event = 1 << iota
	Write
	ReadHup // peer half-closed its write side
	Hup     // full hang-up
	Err
	OneShot
	Edge
)

func (e Event) Has(flag Event) bool { return e&flag != 0 }

// Poller is the interface the Reactor and Connection workers use. All
// methods must be safe to call concurrently for distinct fds; per
// spec.md §5 the underlying facility is thread-safe for single-fd arming,
// which is what lets a worker call Modify directly instead of routing
// through the Reactor.
type Poller interface {
	Add(fd int, events Event) error
	Modify(fd int, events Event) error
	Remove(fd int) error

	// Wait blocks up to timeoutMS milliseconds (-1 indefinite, 0 poll) and
	// returns the number of ready entries, retrievable via EventFD/EventMask.
	Wait(timeoutMS int) (int, error)
	EventFD(i int) int
	EventMask(i int) Event

	Close() error
}
