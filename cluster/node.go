package cluster

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/pkg/errors"
)

// FullHealth is the health a node starts with and is restored to after any
// successful exchange.  A node at or below zero is unhealthy.
const FullHealth = 100

// Node is one member of the cluster.  The tend goroutine is the only writer
// of its counters; readers just load the latest value.
type Node struct {
	nodeLifecycle

	cluster *Cluster
	name    string
	host    Host
	logger  *zap.Logger

	aliasesLock sync.Mutex
	aliases     []Host

	supportsPeers bool

	pool     *ConnectionPool
	tendConn *Connection

	health         atomic.Int32
	referenceCount atomic.Int32
	responded      atomic.Bool
	failures       atomic.Int32
	peersCount     atomic.Int32

	partitionGeneration *generation
	peersGeneration     *generation
	rebalanceGeneration *generation

	racks atomic.Pointer[map[string]int]
}

func newNode(c *Cluster, nv *validatedNode) *Node {
	n := &Node{
		cluster:             c,
		name:                nv.name,
		host:                nv.primaryHost,
		logger:              c.logger.With(zap.String("node", nv.name)),
		supportsPeers:       nv.supportsPeers,
		tendConn:            nv.conn,
		partitionGeneration: newGeneration(),
		peersGeneration:     newGeneration(),
		rebalanceGeneration: newGeneration(),
	}
	n.health.Store(FullHealth)
	n.aliases = append(n.aliases, nv.aliases...)

	n.pool = NewConnectionPool(ConnectionPoolOptions{
		MaxSize: c.opts.ConnectionPoolSize,
		Open: func(ctx context.Context) (*Connection, error) {
			return c.openConnection(ctx, n.host)
		},
		Logger:  n.logger,
		Metrics: c.metrics,
		Attrs:   metric.WithAttributes(attribute.String("node", nv.name)),
	})

	return n
}

func (n *Node) Name() string {
	return n.name
}

// Host returns the address new connections are opened against.
func (n *Node) Host() Host {
	return n.host
}

func (n *Node) String() string {
	return fmt.Sprintf("%s %s", n.name, n.host)
}

func (n *Node) Aliases() []Host {
	n.aliasesLock.Lock()
	defer n.aliasesLock.Unlock()

	out := make([]Host, len(n.aliases))
	copy(out, n.aliases)
	return out
}

// addAlias reports whether host was new to this node.
func (n *Node) addAlias(host Host) bool {
	n.aliasesLock.Lock()
	defer n.aliasesLock.Unlock()

	for _, alias := range n.aliases {
		if alias.Equals(host) {
			return false
		}
	}
	n.aliases = append(n.aliases, host)
	return true
}

func (n *Node) Health() int {
	return int(n.health.Load())
}

func (n *Node) IsUnhealthy() bool {
	return n.health.Load() <= 0
}

func (n *Node) DecreaseHealth() {
	n.health.Add(-1)
}

func (n *Node) RestoreHealth() {
	n.health.Store(FullHealth)
}

func (n *Node) ReferenceCount() int {
	return int(n.referenceCount.Load())
}

func (n *Node) IncreaseReferenceCount() {
	n.referenceCount.Add(1)
}

func (n *Node) Responded() bool {
	return n.responded.Load()
}

func (n *Node) Failures() int {
	return int(n.failures.Load())
}

func (n *Node) SupportsPeers() bool {
	return n.supportsPeers
}

// PeersCount is the number of peers this node reported in its last peers
// refresh.
func (n *Node) PeersCount() int {
	return int(n.peersCount.Load())
}

func (n *Node) PartitionGeneration() int64 {
	return n.partitionGeneration.Value()
}

func (n *Node) PeersGeneration() int64 {
	return n.peersGeneration.Value()
}

func (n *Node) RebalanceGeneration() int64 {
	return n.rebalanceGeneration.Value()
}

// Rack returns the rack this node belongs to for namespace, if known.
func (n *Node) Rack(namespace string) (int, bool) {
	racks := n.racks.Load()
	if racks == nil {
		return 0, false
	}
	rack, ok := (*racks)[namespace]
	return rack, ok
}

func (n *Node) HasRack(namespace string, rackID int) bool {
	rack, ok := n.Rack(namespace)
	return ok && rack == rackID
}

func (n *Node) setRacks(racks map[string]int) {
	n.racks.Store(&racks)
}

// ConnectionPool exposes the node's pool, mostly for diagnostics.
func (n *Node) ConnectionPool() *ConnectionPool {
	return n.pool
}

// GetConnection lends a connection from the pool with its I/O timeout set.
// Hand it back with PutConnection, or CloseConnection if it failed.
func (n *Node) GetConnection(ctx context.Context, timeout time.Duration) (*Connection, error) {
	if !n.IsActive() {
		return nil, errors.Wrapf(ErrInvalidNode, "node %s is inactive", n.name)
	}

	conn, err := n.pool.Poll(ctx)
	if err != nil {
		if !errors.Is(err, ErrMaxConnectionsExceeded) && !errors.Is(err, ErrPoolClosed) {
			n.DecreaseHealth()
		}
		return nil, err
	}

	err = conn.SetTimeout(timeout)
	if err != nil {
		n.pool.Cleanup(conn)
		n.DecreaseHealth()
		return nil, err
	}

	return conn, nil
}

func (n *Node) PutConnection(conn *Connection) {
	n.pool.Offer(conn)
}

// CloseConnection discards a connection after a failed operation and counts
// the failure against the node's health.
func (n *Node) CloseConnection(conn *Connection) {
	n.pool.Cleanup(conn)
	n.DecreaseHealth()
}

// RequestInfo runs info commands over a pooled connection.
func (n *Node) RequestInfo(ctx context.Context, commands ...string) (map[string]string, error) {
	conn, err := n.GetConnection(ctx, n.cluster.opts.ConnectionTimeout)
	if err != nil {
		return nil, err
	}

	resp, err := conn.RequestInfo(commands...)
	if err != nil {
		n.CloseConnection(conn)
		return nil, err
	}

	n.PutConnection(conn)
	n.RestoreHealth()
	return resp, nil
}

func (n *Node) closeTendConnection() {
	if n.tendConn != nil {
		_ = n.tendConn.Close()
		n.tendConn = nil
	}
}

// Close deactivates the node permanently and drops all of its connections.
func (n *Node) Close() {
	if n.deactivate() {
		n.logger.Debug("node deactivated")
	}
	n.closeTendConnection()
	n.pool.CloseAll()
}
