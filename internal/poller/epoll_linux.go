//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// epollMux is an epoll-based Mux.
type epollMux struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates the platform Mux (epoll on Linux).
func New() (Mux, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollMux{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 1024),
	}, nil
}

func toEpollEvents(flags EventFlags) uint32 {
	var ev uint32
	if flags&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if flags&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	if flags&PeerHalfClosed != 0 {
		ev |= unix.EPOLLRDHUP
	}
	if flags&EdgeTriggered != 0 {
		ev |= unix.EPOLLET
	}
	if flags&OneShot != 0 {
		ev |= unix.EPOLLONESHOT
	}
	// EPOLLERR and EPOLLHUP are always reported by the kernel regardless
	// of whether they are requested.
	return ev
}

func fromEpollEvents(ev uint32) EventFlags {
	var flags EventFlags
	if ev&unix.EPOLLIN != 0 {
		flags |= Readable
	}
	if ev&unix.EPOLLOUT != 0 {
		flags |= Writable
	}
	if ev&unix.EPOLLRDHUP != 0 {
		flags |= PeerHalfClosed
	}
	if ev&unix.EPOLLERR != 0 {
		flags |= Err
	}
	if ev&unix.EPOLLHUP != 0 {
		flags |= Hangup
	}
	return flags
}

func (p *epollMux) Add(fd int, flags EventFlags) error {
	ev := unix.EpollEvent{Events: toEpollEvents(flags), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollMux) Mod(fd int, flags EventFlags) error {
	ev := unix.EpollEvent{Events: toEpollEvents(flags), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollMux) Del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollMux) Wait(timeoutMS int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Event{
			Fd:     int(p.events[i].Fd),
			Events: fromEpollEvents(p.events[i].Events),
		})
	}
	return out, nil
}

func (p *epollMux) Close() error {
	return unix.Close(p.epfd)
}
