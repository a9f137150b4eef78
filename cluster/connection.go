package cluster

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/stellarkv/stellar-client/contrib/infoproto"
	"github.com/stellarkv/stellar-client/utils/bufpool"
)

// Connection is a single authenticated transport to a node.  A failed read
// or write closes it; closed connections are discarded by the pool.
type Connection struct {
	id          string
	host        Host
	transport   Transport
	bufPool     *bufpool.Pool
	idleTimeout time.Duration
	lastUsed    atomic.Int64
	closed      atomic.Bool
}

func newConnection(transport Transport, host Host, pool *bufpool.Pool, idleTimeout time.Duration) *Connection {
	c := &Connection{
		id:          uuid.NewString(),
		host:        host,
		transport:   transport,
		bufPool:     pool,
		idleTimeout: idleTimeout,
	}
	c.touch()
	return c
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Host() Host {
	return c.host
}

func (c *Connection) IsTLS() bool {
	return c.transport.IsTLS()
}

func (c *Connection) touch() {
	c.lastUsed.Store(time.Now().UnixNano())
}

func (c *Connection) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

func (c *Connection) SetTimeout(timeout time.Duration) error {
	err := c.transport.SetTimeout(timeout)
	if err != nil {
		_ = c.Close()
		return errors.Wrap(err, "failed to set connection timeout")
	}
	return nil
}

func (c *Connection) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrConnectionClosed
	}

	n, err := c.transport.Write(p)
	if err != nil {
		_ = c.Close()
		return n, err
	}

	c.touch()
	return n, nil
}

func (c *Connection) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrConnectionClosed
	}

	n, err := c.transport.Read(p)
	if err != nil {
		_ = c.Close()
		return n, err
	}

	c.touch()
	return n, nil
}

// ReadFull reads exactly len(p) bytes.
func (c *Connection) ReadFull(p []byte) error {
	_, err := io.ReadFull(c, p)
	return err
}

// RequestInfo performs one info protocol round trip.  Any I/O failure closes
// the connection.
func (c *Connection) RequestInfo(commands ...string) (map[string]string, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}

	resp, err := infoproto.Request(c, c.bufPool, commands...)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return resp, nil
}

// IsAlive reports whether the connection may be handed out again.  Idle
// connections past the idle timeout are considered dead.
func (c *Connection) IsAlive() bool {
	if c.closed.Load() || !c.transport.IsAlive() {
		return false
	}
	if c.idleTimeout > 0 && time.Since(c.LastUsed()) > c.idleTimeout {
		return false
	}
	return true
}

func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.transport.Close()
}

// openConnection dials and authenticates a new connection to host.
func (c *Cluster) openConnection(ctx context.Context, host Host) (*Connection, error) {
	transport, err := c.dialer.Dial(ctx, host, c.opts.ConnectionTimeout)
	if err != nil {
		return nil, err
	}

	conn := newConnection(transport, host, c.bufPool, c.opts.IdleTimeout)

	err = conn.SetTimeout(c.opts.ConnectionTimeout)
	if err != nil {
		return nil, err
	}

	if c.authenticator != nil && !c.opts.Credentials.IsEmpty() {
		err = c.authenticator.Authenticate(ctx, conn, c.opts.Credentials)
		if err != nil {
			_ = conn.Close()
			return nil, errors.Wrapf(err, "failed to authenticate to %s", host)
		}
	}

	return conn, nil
}
