// Package authpool defines the handle-returning SQL connection pool and
// user-authentication collaborator. The server is constructed with a Pool
// and closes it on shutdown; no request handler calls into it.
//
// This is one of the four external collaborators the core specifies only
// by interface (alongside logging, the request parser, and the CLI
// loader): the core never picks a database driver. No third-party SQL
// client appears anywhere in the retrieved reference pack, so the
// interface and its in-memory stand-in are built on the standard library
// only — there is no ecosystem library to ground this one on.
package authpool

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolExhausted is returned by Acquire when every connection is
// already checked out.
var ErrPoolExhausted = errors.New("authpool: pool exhausted")

// ErrInvalidCredentials is returned by AuthenticateUser on a login or
// registration that the backing store rejects.
var ErrInvalidCredentials = errors.New("authpool: invalid credentials")

// Conn is a single checked-out handle into the backing user store.
type Conn interface {
	// AuthenticateUser verifies username/password against the backing
	// store, or, if register is true, creates the account if the
	// username is not already taken.
	AuthenticateUser(ctx context.Context, username, password string, register bool) error
}

// Pool hands out and reclaims Conn handles, bounding how many are
// outstanding at once.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Release(Conn)
	Close() error
}

// staticPool is an in-memory stand-in: a fixed-size semaphore gating a
// shared username/password map. It exists so the server and the tests
// have something concrete to hold and call without depending on a real
// database.
type staticPool struct {
	sem   chan struct{}
	mu    sync.Mutex
	users map[string]string
}

// NewStaticPool creates a Pool backed by an in-memory user table, gated
// to size concurrently outstanding connections.
func NewStaticPool(size int) Pool {
	if size <= 0 {
		size = 1
	}
	return &staticPool{
		sem:   make(chan struct{}, size),
		users: make(map[string]string),
	}
}

func (p *staticPool) Acquire(ctx context.Context) (Conn, error) {
	select {
	case p.sem <- struct{}{}:
		return &staticConn{pool: p}, nil
	default:
	}

	select {
	case p.sem <- struct{}{}:
		return &staticConn{pool: p}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *staticPool) Release(c Conn) {
	if _, ok := c.(*staticConn); !ok {
		return
	}
	select {
	case <-p.sem:
	default:
	}
}

func (p *staticPool) Close() error { return nil }

type staticConn struct {
	pool *staticPool
}

func (c *staticConn) AuthenticateUser(ctx context.Context, username, password string, register bool) error {
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}

	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()

	existing, exists := c.pool.users[username]
	if register {
		if exists {
			return ErrInvalidCredentials
		}
		c.pool.users[username] = password
		return nil
	}

	if !exists || existing != password {
		return ErrInvalidCredentials
	}
	return nil
}
