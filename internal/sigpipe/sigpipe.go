// Package sigpipe implements the self-pipe signal funnel: a socket pair
// whose write end receives one byte per delivered signal, and whose read
// end the event loop registers with its readiness mux like any other fd.
//
// Go cannot install a raw, async-signal-safe C signal handler the way the
// original implementation does; instead this relies on signal.Notify,
// serviced by the Go runtime's own async-safe signal machinery, and only
// performs a single non-blocking byte write in response — the same
// constraint the design notes call out (single-byte write, no protocol
// extension).
package sigpipe

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// Pipe owns the socket pair and the signal-forwarding goroutine.
type Pipe struct {
	readFd  int
	writeFd int
	notify  chan os.Signal
	stop    chan struct{}
}

// New creates the socket pair, sets both ends non-blocking, ignores
// SIGPIPE, and starts forwarding SIGINT/SIGTERM as single bytes into the
// write end.
func New() (*Pipe, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}

	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}

	signal.Ignore(syscall.SIGPIPE)

	p := &Pipe{
		readFd:  fds[0],
		writeFd: fds[1],
		notify:  make(chan os.Signal, 16),
		stop:    make(chan struct{}),
	}

	signal.Notify(p.notify, syscall.SIGINT, syscall.SIGTERM)
	go p.forward()

	return p, nil
}

// ReadFd is the end the event loop registers with the readiness mux.
func (p *Pipe) ReadFd() int { return p.readFd }

func (p *Pipe) forward() {
	for {
		select {
		case sig, ok := <-p.notify:
			if !ok {
				return
			}
			b := []byte{byte(signalNumber(sig))}
			for {
				_, err := unix.Write(p.writeFd, b)
				if err == nil || err != unix.EAGAIN && err != unix.EWOULDBLOCK {
					break
				}
			}
		case <-p.stop:
			return
		}
	}
}

func signalNumber(sig os.Signal) syscall.Signal {
	if s, ok := sig.(syscall.Signal); ok {
		return s
	}
	return 0
}

// Shutdown is the decoded effect of a signal byte drained from the pipe.
type Shutdown bool

// Drain reads up to 1024 buffered signal bytes from the read end and
// reports whether any of them mean "shut down" (SIGINT or SIGTERM). The
// fall-through in the original source between the SIGINT and SIGTERM
// switch cases was almost certainly accidental — both cases set the same
// flag either way — so this only models the resulting behavior: either
// signal requests shutdown, nothing more.
func (p *Pipe) Drain() (shutdown bool, err error) {
	buf := make([]byte, 1024)
	n, rerr := unix.Read(p.readFd, buf)
	if rerr != nil {
		if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, rerr
	}
	if n == 0 {
		return false, nil
	}

	for i := 0; i < n; i++ {
		switch syscall.Signal(buf[i]) {
		case syscall.SIGINT, syscall.SIGTERM:
			shutdown = true
		}
	}
	return shutdown, nil
}

// Close stops signal forwarding and closes both ends of the pipe.
func (p *Pipe) Close() error {
	signal.Stop(p.notify)
	close(p.stop)
	err1 := unix.Close(p.readFd)
	err2 := unix.Close(p.writeFd)
	if err1 != nil {
		return err1
	}
	return err2
}
