// Package server implements the event loop: accept, dispatch by fd and
// event, the Reactor/Proactor split between loop and worker pool, and
// graceful shutdown.
package server

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fastpath/evhttpd/config"
	"github.com/fastpath/evhttpd/internal/authpool"
	"github.com/fastpath/evhttpd/internal/httpmsg"
	"github.com/fastpath/evhttpd/internal/logging"
	"github.com/fastpath/evhttpd/internal/poller"
	"github.com/fastpath/evhttpd/internal/registry"
	"github.com/fastpath/evhttpd/internal/sigpipe"
	"github.com/fastpath/evhttpd/internal/timer"
	"github.com/fastpath/evhttpd/internal/workerpool"
)

// maxFD bounds the number of simultaneously open connections; an accept
// past this cap gets the literal "Server Busy!" reply and an immediate
// close.
const maxFD = 65536

// Server owns the listen fd, the self-pipe, the mux, the timer heap, the
// worker pool, the fd→conn map, and the process-wide globals registry —
// every piece of process-wide state the core touches is reachable from
// here and nowhere else.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	log      logging.Sink
	authPool authpool.Pool

	mux    poller.Mux
	timers *timer.Heap
	pool   *workerpool.Pool
	sig    *sigpipe.Pipe

	listenFd        int
	listenEdge      bool
	connEdgeTrigger bool
	idleTimeout     time.Duration

	conns map[int]*conn

	completions chan completion
	closing     bool
}

// completion is how a worker goroutine hands a finished task's outcome
// back to the loop thread, which is the only goroutine allowed to touch
// the mux, the timer heap, or the connection map.
type completion struct {
	fd   int
	next connState
	err  error
}

// New wires a Server from its already-constructed collaborators.
func New(cfg *config.Config, reg *registry.Registry, log logging.Sink, authPool authpool.Pool) (*Server, error) {
	mux, err := poller.New()
	if err != nil {
		return nil, fmt.Errorf("server: creating readiness mux: %w", err)
	}

	sig, err := sigpipe.New()
	if err != nil {
		mux.Close()
		return nil, fmt.Errorf("server: creating self-pipe: %w", err)
	}
	if err := mux.Add(sig.ReadFd(), poller.Readable); err != nil {
		mux.Close()
		sig.Close()
		return nil, fmt.Errorf("server: registering self-pipe: %w", err)
	}

	s := &Server{
		cfg:             cfg,
		registry:        reg,
		log:             log,
		authPool:        authPool,
		mux:             mux,
		timers:          timer.New(nil),
		pool:            workerpool.New(cfg.ThreadPoolSize, 0),
		sig:             sig,
		listenFd:        -1,
		listenEdge:      cfg.Trigger.ListenEdgeTriggered(),
		connEdgeTrigger: cfg.Trigger.ConnEdgeTriggered(),
		idleTimeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
		conns:           make(map[int]*conn),
		completions:     make(chan completion, 1024),
	}
	return s, nil
}

// Listen creates, configures and registers the listen socket.
func (s *Server) Listen() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("server: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: SO_REUSEADDR: %w", err)
	}
	if s.cfg.OpenLinger {
		linger := unix.Linger{Onoff: 1, Linger: 1}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
			unix.Close(fd)
			return fmt.Errorf("server: SO_LINGER: %w", err)
		}
	}

	addr := &unix.SockaddrInet4{Port: s.cfg.Port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: bind: %w", err)
	}
	if err := unix.Listen(fd, 6); err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: set nonblocking: %w", err)
	}

	events := poller.Readable
	if s.listenEdge {
		events |= poller.EdgeTriggered
	}
	if err := s.mux.Add(fd, events); err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: add listen fd to mux: %w", err)
	}

	s.listenFd = fd
	s.log.Infof("listening on port %d (linger=%v, listen-edge=%v, conn-edge=%v, actor=%v)",
		s.cfg.Port, s.cfg.OpenLinger, s.listenEdge, s.connEdgeTrigger, s.cfg.Actor)
	return nil
}

// Run drives the main loop until Shutdown is called or a signal arrives.
// It returns after the listen fd, the self-pipe, and the worker pool
// have all been released.
func (s *Server) Run() error {
	defer s.shutdownResources()

	for !s.closing {
		s.drainCompletions()

		waitMs := s.timers.Tick()
		if waitMs < 0 || waitMs > 50 {
			waitMs = 50 // bounded so pending completions are noticed promptly
		}

		events, err := s.mux.Wait(waitMs)
		if err != nil {
			return fmt.Errorf("server: mux wait: %w", err)
		}

		for _, ev := range events {
			s.handleEvent(ev)
		}
	}
	return nil
}

// Shutdown requests a graceful exit: the loop finishes its current
// iteration and returns from Run.
func (s *Server) Shutdown() { s.closing = true }

func (s *Server) handleEvent(ev poller.Event) {
	switch {
	case ev.Fd == s.listenFd:
		s.acceptLoop()
	case ev.Fd == s.sig.ReadFd():
		s.handleSignal()
	default:
		s.handleConnEvent(ev)
	}
}

func (s *Server) handleSignal() {
	shutdown, err := s.sig.Drain()
	if err != nil {
		s.log.Warnf("self-pipe drain error: %v", err)
		return
	}
	if shutdown {
		s.log.Infof("received shutdown signal")
		s.closing = true
	}
}

// acceptLoop drains pending connections. In edge-triggered listen mode it
// must loop until EAGAIN; in level-triggered mode a single accept
// suffices, since the mux will report readiness again on the next round.
func (s *Server) acceptLoop() {
	for {
		nfd, sa, err := unix.Accept(s.listenFd)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				s.log.Warnf("accept error: %v", err)
			}
			return
		}

		if int64(len(s.conns)) >= maxFD {
			unix.Write(nfd, []byte("Server Busy!"))
			unix.Close(nfd)
			s.log.Warnf("clients is full")
			if !s.listenEdge {
				return
			}
			continue
		}

		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}

		events := poller.Readable | poller.OneShot
		if s.connEdgeTrigger {
			events |= poller.EdgeTriggered
		}
		if err := s.mux.Add(nfd, events); err != nil {
			unix.Close(nfd)
			continue
		}

		c := newConn(nfd, peerString(sa))
		s.conns[nfd] = c
		s.registry.IncActiveConnections()
		if err := s.timers.Add(nfd, s.idleTimeout, s.onTimerExpire); err != nil {
			s.log.Warnf("timer add failed for fd %d: %v", nfd, err)
		}

		if !s.listenEdge {
			return
		}
	}
}

func peerString(sa unix.Sockaddr) string {
	if v4, ok := sa.(*unix.SockaddrInet4); ok {
		return fmt.Sprintf("%d.%d.%d.%d:%d", v4.Addr[0], v4.Addr[1], v4.Addr[2], v4.Addr[3], v4.Port)
	}
	return "unknown"
}

func (s *Server) onTimerExpire(fd int) {
	s.closeConn(fd)
}

func (s *Server) handleConnEvent(ev poller.Event) {
	c, ok := s.conns[ev.Fd]
	if !ok {
		return
	}

	s.timers.Adjust(c.fd, s.idleTimeout)

	if ev.Events&(poller.PeerHalfClosed|poller.Hangup|poller.Err) != 0 {
		s.closeConn(c.fd)
		return
	}

	switch {
	case ev.Events&poller.Readable != 0:
		s.dispatchRead(c)
	case ev.Events&poller.Writable != 0:
		s.dispatchWrite(c)
	}
}

// dispatchRead runs the read+parse+compose step either inline (Proactor:
// read on the loop thread, parse/compose on a worker) or entirely on a
// worker (Reactor).
func (s *Server) dispatchRead(c *conn) {
	c.state = stateProcessing

	switch s.cfg.Actor {
	case config.Proactor:
		n, err := c.readBuf.ReadFromFD(c.fd)
		if err != nil && !isWouldBlock(err) {
			s.closeConn(c.fd)
			return
		}
		if n == 0 && err == nil {
			s.closeConn(c.fd)
			return
		}
		s.pool.Submit(func() {
			next := s.process(c)
			s.completions <- completion{fd: c.fd, next: next}
		})

	default: // Reactor
		s.pool.Submit(func() {
			n, err := c.readBuf.ReadFromFD(c.fd)
			if err != nil && !isWouldBlock(err) {
				s.completions <- completion{fd: c.fd, next: stateClosing, err: err}
				return
			}
			if n == 0 && err == nil {
				s.completions <- completion{fd: c.fd, next: stateClosing}
				return
			}
			next := s.process(c)
			s.completions <- completion{fd: c.fd, next: next}
		})
	}
}

// process feeds the connection's read buffer to the parser and, on a
// complete request, runs the application handler. It returns the state
// the connection should transition to once the caller applies it on the
// loop thread.
func (s *Server) process(c *conn) connState {
	outcome, req, consumed, err := httpmsg.Parse(c.readBuf.Peek())
	switch outcome {
	case httpmsg.NeedsMore:
		return stateReading

	case httpmsg.Malformed:
		httpmsg.ComposeBadRequest(c.writeBuf)
		c.keepAlive = false
		return stateWriting

	case httpmsg.Complete:
		if cerr := c.readBuf.Consume(consumed); cerr != nil {
			s.log.Errorf("consume past buffer for fd %d: %v", c.fd, cerr)
		}
		resp, herr := s.dispatchRequest(c, req)
		if herr != nil {
			s.log.Errorf("handler error for fd %d: %v", c.fd, herr)
		}
		c.resp = resp
		c.keepAlive = req.KeepAlive
		return stateWriting
	}

	_ = err
	return stateClosing
}

// dispatchWrite performs the scatter write (Proactor: always on the loop
// thread; Reactor: on a worker) and decides the connection's next state.
func (s *Server) dispatchWrite(c *conn) {
	c.state = stateWriting

	switch s.cfg.Actor {
	case config.Proactor:
		next := s.writeOnce(c)
		s.completions <- completion{fd: c.fd, next: next}

	default: // Reactor
		s.pool.Submit(func() {
			next := s.writeOnce(c)
			s.completions <- completion{fd: c.fd, next: next}
		})
	}
}

// writeOnce performs a single scatter write attempt — the write buffer's
// readable region followed by whatever remains of the mapped body — and
// reports the state the connection should move to.
func (s *Server) writeOnce(c *conn) connState {
	headerLen := c.writeBuf.ReadableBytes()

	var body []byte
	if rem := c.bodyRemaining(); rem > 0 {
		body = c.resp.MappedBody[c.bodySent:]
	}

	n, err := c.writeBuf.WritevToFD(c.fd, body)
	if err != nil {
		if isWouldBlock(err) {
			return stateWriting
		}
		return stateClosing
	}

	if n > headerLen {
		c.bodySent += n - headerLen
	}

	if c.writeBuf.ReadableBytes() > 0 || c.bodyRemaining() > 0 {
		return stateWriting
	}

	if c.keepAlive {
		if err := c.resetForKeepAlive(); err != nil {
			s.log.Warnf("unmap on keep-alive reset for fd %d: %v", c.fd, err)
		}
		return stateReading
	}
	return stateClosing
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// drainCompletions applies every worker-reported outcome currently
// queued, re-arming, transitioning or closing each connection. It runs on
// the loop goroutine, as does every other caller of the mux and the timer
// heap, so worker goroutines never touch either.
func (s *Server) drainCompletions() {
	for {
		select {
		case comp := <-s.completions:
			s.applyCompletion(comp)
		default:
			return
		}
	}
}

func (s *Server) applyCompletion(comp completion) {
	c, ok := s.conns[comp.fd]
	if !ok {
		return
	}

	switch comp.next {
	case stateClosing:
		s.closeConn(comp.fd)
		return
	case stateReading:
		c.state = stateReading
		s.rearm(c, poller.Readable)
	case stateWriting:
		c.state = stateWriting
		s.rearm(c, poller.Writable)
	}
}

func (s *Server) rearm(c *conn, events poller.EventFlags) {
	if s.connEdgeTrigger {
		events |= poller.EdgeTriggered
	}
	events |= poller.OneShot
	if err := s.mux.Mod(c.fd, events); err != nil {
		s.log.Warnf("rearm failed for fd %d: %v", c.fd, err)
		s.closeConn(c.fd)
	}
}

// closeConn unmaps any response body, removes the fd from the mux,
// cancels its timer, closes the socket, and erases it from the
// connection map — the Closing state's full exit sequence, reachable
// from every error path so it is never duplicated.
func (s *Server) closeConn(fd int) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}
	delete(s.conns, fd)
	s.registry.DecActiveConnections()

	if err := c.closeResources(); err != nil {
		s.log.Warnf("unmap on close for fd %d: %v", fd, err)
	}
	s.mux.Del(fd)
	s.timers.Cancel(fd)
	unix.Close(fd)
}

// shutdownResources releases everything Run acquired: remaining
// connections, the listen fd, the self-pipe, and the worker pool.
func (s *Server) shutdownResources() {
	fds := make([]int, 0, len(s.conns))
	for fd := range s.conns {
		fds = append(fds, fd)
	}
	for _, fd := range fds {
		s.closeConn(fd)
	}

	if s.listenFd >= 0 {
		unix.Close(s.listenFd)
	}
	s.sig.Close()
	s.pool.Close()
	s.mux.Close()
	if s.authPool != nil {
		s.authPool.Close()
	}
}
