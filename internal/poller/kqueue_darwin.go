//go:build darwin

package poller

import (
	"golang.org/x/sys/unix"
)

// kqueueMux is a kqueue-based Mux. Because kqueue tracks read and write
// interest as two independent filters, Add/Mod/Del register or clear
// whichever filters the caller's flags imply, on a per-fd basis.
type kqueueMux struct {
	kqfd   int
	events []unix.Kevent_t
}

// New creates the platform Mux (kqueue on Darwin).
func New() (Mux, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueueMux{
		kqfd:   kqfd,
		events: make([]unix.Kevent_t, 1024),
	}, nil
}

func (p *kqueueMux) changeList(fd int, flags EventFlags, add bool) []unix.Kevent_t {
	action := uint16(unix.EV_DELETE)
	if add {
		action = unix.EV_ADD | unix.EV_ENABLE
		if flags&EdgeTriggered != 0 {
			action |= unix.EV_CLEAR
		}
		if flags&OneShot != 0 {
			action |= unix.EV_ONESHOT
		}
	}

	var changes []unix.Kevent_t
	if !add || flags&Readable != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  action,
		})
	}
	if !add || flags&Writable != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  action,
		})
	}
	return changes
}

func (p *kqueueMux) Add(fd int, flags EventFlags) error {
	changes := p.changeList(fd, flags, true)
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

func (p *kqueueMux) Mod(fd int, flags EventFlags) error {
	// kqueue has no direct "replace interest" verb; clear both filters
	// then re-arm the ones the caller wants.
	_, _ = unix.Kevent(p.kqfd, []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}, nil, nil)
	return p.Add(fd, flags)
}

func (p *kqueueMux) Del(fd int) error {
	changes := p.changeList(fd, 0, false)
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

func (p *kqueueMux) Wait(timeoutMS int) ([]Event, error) {
	var ts *unix.Timespec
	if timeoutMS >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMS / 1000),
			Nsec: int64((timeoutMS % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		var flags EventFlags
		switch ev.Filter {
		case unix.EVFILT_READ:
			flags |= Readable
		case unix.EVFILT_WRITE:
			flags |= Writable
		}
		if ev.Flags&unix.EV_EOF != 0 {
			flags |= PeerHalfClosed | Hangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			flags |= Err
		}
		out = append(out, Event{Fd: int(ev.Ident), Events: flags})
	}
	return out, nil
}

func (p *kqueueMux) Close() error {
	return unix.Close(p.kqfd)
}
