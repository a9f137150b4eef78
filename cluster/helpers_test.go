package cluster

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stellarkv/stellar-client/contrib/infoproto"
	"github.com/stellarkv/stellar-client/testutils"
)

// memTransport is a Transport which answers info requests from a fixed
// map of responses.
type memTransport struct {
	lock      sync.Mutex
	responses map[string]string
	pending   bytes.Buffer
	reqBuf    bytes.Buffer
	closed    atomic.Bool
	failWrite bool
}

func newMemTransport(responses map[string]string) *memTransport {
	return &memTransport{responses: responses}
}

func (t *memTransport) Write(p []byte) (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed.Load() || t.failWrite {
		return 0, io.ErrClosedPipe
	}

	t.reqBuf.Write(p)
	for t.reqBuf.Len() >= infoproto.HeaderSize {
		_, _, bodyLen, _ := infoproto.DecodeHeader(t.reqBuf.Bytes())
		if t.reqBuf.Len() < infoproto.HeaderSize+int(bodyLen) {
			break
		}

		t.reqBuf.Next(infoproto.HeaderSize)
		body := t.reqBuf.Next(int(bodyLen))

		resp := make(map[string]string)
		for _, cmd := range infoproto.ParseRequestBody(body) {
			resp[cmd] = t.responses[cmd]
		}
		t.pending.Write(infoproto.EncodeResponse(resp))
	}
	return len(p), nil
}

func (t *memTransport) Read(p []byte) (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	if t.pending.Len() == 0 {
		return 0, io.EOF
	}
	return t.pending.Read(p)
}

func (t *memTransport) Close() error {
	t.closed.Store(true)
	return nil
}

func (t *memTransport) SetTimeout(timeout time.Duration) error {
	return nil
}

func (t *memTransport) IsAlive() bool {
	return !t.closed.Load()
}

func (t *memTransport) IsTLS() bool {
	return false
}

func newMemConnection(responses map[string]string) *Connection {
	return newConnection(newMemTransport(responses), NewHost("10.0.0.1", 3000), nil, 0)
}

// fakeDialer connects to the nodes of a FakeCluster.
func fakeDialer(fc *testutils.FakeCluster) Dialer {
	return DialerFunc(func(ctx context.Context, host Host, timeout time.Duration) (Transport, error) {
		conn, err := fc.Dial(ctx, host.Address())
		if err != nil {
			return nil, err
		}
		return NewNetTransport(conn, false), nil
	})
}

func refusingDialer() Dialer {
	return DialerFunc(func(ctx context.Context, host Host, timeout time.Duration) (Transport, error) {
		return nil, testutils.ErrConnectionRefused
	})
}

// newTestCluster builds a cluster without starting its tend loop so tests
// can drive cycles with tend directly.
func newTestCluster(t *testing.T, fc *testutils.FakeCluster, seeds []Host, mutate func(opts *Options)) *Cluster {
	opts := &Options{
		Seeds:             seeds,
		ConnectionTimeout: 2 * time.Second,
		TendInterval:      time.Hour,
		Logger:            zaptest.NewLogger(t),
	}
	if fc != nil {
		opts.Dialer = fakeDialer(fc)
	} else {
		opts.Dialer = refusingDialer()
	}
	if mutate != nil {
		mutate(opts)
	}

	c, err := newCluster(opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// newDetachedNode builds a node which never connects anywhere.
func newDetachedNode(t *testing.T, c *Cluster, name string, addr string) *Node {
	host := NewHost(addr, 3000)
	node := newNode(c, &validatedNode{
		name:          name,
		primaryHost:   host,
		aliases:       []Host{host},
		supportsPeers: true,
	})
	t.Cleanup(node.Close)
	return node
}

func tendOnce(t *testing.T, c *Cluster) {
	require.NoError(t, c.tend(context.Background()))
}

func nodeNames(nodes []*Node) []string {
	names := make([]string, 0, len(nodes))
	for _, node := range nodes {
		names = append(names, node.Name())
	}
	return names
}
