package cluster

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Transport is a bidirectional byte stream to a single server node.
type Transport interface {
	io.ReadWriteCloser

	// SetTimeout bounds every subsequent Read and Write.  Zero disables it.
	SetTimeout(timeout time.Duration) error
	IsAlive() bool
	IsTLS() bool
}

// Dialer opens transports to server nodes.
type Dialer interface {
	Dial(ctx context.Context, host Host, timeout time.Duration) (Transport, error)
}

// DialerFunc adapts a plain function to the Dialer interface.
type DialerFunc func(ctx context.Context, host Host, timeout time.Duration) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, host Host, timeout time.Duration) (Transport, error) {
	return f(ctx, host, timeout)
}

// NetDialer dials plain TCP, or TLS when TLSConfig is set.
type NetDialer struct {
	TLSConfig *tls.Config
	KeepAlive time.Duration
}

var _ Dialer = (*NetDialer)(nil)

func (d *NetDialer) Dial(ctx context.Context, host Host, timeout time.Duration) (Transport, error) {
	keepAlive := d.KeepAlive
	if keepAlive == 0 {
		keepAlive = 45 * time.Second
	}

	netDialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: keepAlive,
	}

	var conn net.Conn
	var err error
	if d.TLSConfig != nil {
		tlsConfig := d.TLSConfig.Clone()
		if host.TLSName != "" {
			tlsConfig.ServerName = host.TLSName
		} else if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = host.Name
		}

		tlsDialer := &tls.Dialer{
			NetDialer: netDialer,
			Config:    tlsConfig,
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", host.Address())
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", host.Address())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", host)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	return NewNetTransport(conn, d.TLSConfig != nil), nil
}

// NetTransport implements Transport over a net.Conn.  Any read or write
// failure marks the transport dead.
type NetTransport struct {
	conn    net.Conn
	isTLS   bool
	timeout atomic.Int64
	broken  atomic.Bool
	closed  atomic.Bool
}

var _ Transport = (*NetTransport)(nil)

func NewNetTransport(conn net.Conn, isTLS bool) *NetTransport {
	return &NetTransport{
		conn:  conn,
		isTLS: isTLS,
	}
}

func (t *NetTransport) SetTimeout(timeout time.Duration) error {
	t.timeout.Store(int64(timeout))
	if timeout == 0 {
		return t.conn.SetDeadline(time.Time{})
	}
	return nil
}

func (t *NetTransport) applyDeadline() error {
	timeout := time.Duration(t.timeout.Load())
	if timeout <= 0 {
		return nil
	}
	return t.conn.SetDeadline(time.Now().Add(timeout))
}

func (t *NetTransport) Read(p []byte) (int, error) {
	if err := t.applyDeadline(); err != nil {
		t.broken.Store(true)
		return 0, err
	}

	n, err := t.conn.Read(p)
	if err != nil {
		t.broken.Store(true)
	}
	return n, err
}

func (t *NetTransport) Write(p []byte) (int, error) {
	if err := t.applyDeadline(); err != nil {
		t.broken.Store(true)
		return 0, err
	}

	n, err := t.conn.Write(p)
	if err != nil {
		t.broken.Store(true)
	}
	return n, err
}

func (t *NetTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.conn.Close()
}

func (t *NetTransport) IsAlive() bool {
	return !t.closed.Load() && !t.broken.Load()
}

func (t *NetTransport) IsTLS() bool {
	return t.isTLS
}
