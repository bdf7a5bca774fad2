package server

import (
	"time"

	"github.com/fastpath/evhttpd/internal/buffer"
	"github.com/fastpath/evhttpd/internal/httpmsg"
)

// connState is one of the four states an HttpConn moves through.
type connState int

const (
	stateReading connState = iota
	stateProcessing
	stateWriting
	stateClosing
)

// conn is a single accepted connection's state machine: owned
// exclusively by whichever goroutine currently holds it, enforced by
// one-shot readiness arming at the mux.
type conn struct {
	fd       int
	peer     string
	state    connState
	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer

	resp      *httpmsg.Response
	bodySent  int
	keepAlive bool

	lastActive time.Time
}

func newConn(fd int, peer string) *conn {
	return &conn{
		fd:       fd,
		peer:     peer,
		state:    stateReading,
		readBuf:  buffer.New(4096),
		writeBuf: buffer.New(512),
	}
}

// bodyRemaining is how much of the mapped body still needs writing.
func (c *conn) bodyRemaining() int {
	if c.resp == nil || c.resp.MappedBody == nil {
		return 0
	}
	return len(c.resp.MappedBody) - c.bodySent
}

// resetForKeepAlive unmaps the previous response and rewinds both
// buffers and the parser/composer state for the next request on the
// same fd.
func (c *conn) resetForKeepAlive() error {
	var err error
	if c.resp != nil {
		err = c.resp.Unmap()
		c.resp = nil
	}
	c.bodySent = 0
	c.readBuf.Reset()
	c.writeBuf.Reset()
	c.state = stateReading
	return err
}

// closeResources unmaps any held body; it does not close the fd or
// remove the connection from the server's bookkeeping, which is the
// caller's job so it can also del() from the mux and cancel the timer.
func (c *conn) closeResources() error {
	if c.resp != nil {
		err := c.resp.Unmap()
		c.resp = nil
		return err
	}
	return nil
}
