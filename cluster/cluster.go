package cluster

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pkg/errors"

	"github.com/stellarkv/stellar-client/pkg/metrics"
	"github.com/stellarkv/stellar-client/utils/bufpool"
	"github.com/stellarkv/stellar-client/utils/latestonlychannel"
	"github.com/stellarkv/stellar-client/utils/sliceutils"
)

// Cluster tracks the members of a server cluster and which of them owns
// each partition.  A background goroutine tends the cluster every
// TendInterval; everything readers see is an immutable snapshot.
type Cluster struct {
	opts          *Options
	logger        *zap.Logger
	dialer        Dialer
	authenticator Authenticator
	bufPool       *bufpool.Pool
	metrics       *metrics.ClusterMetrics
	tracer        trace.Tracer

	seedsLock sync.Mutex
	seeds     []Host

	nodes      atomic.Pointer[[]*Node]
	aliases    atomic.Pointer[map[hostKey]*Node]
	partitions atomic.Pointer[PartitionMap]
	nextNode   atomic.Uint64

	tendLock  sync.Mutex
	tendCount atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
	started bool

	watchersLock sync.Mutex
	watchers     map[*latestonlychannel.Channel[[]*Node]]struct{}
}

// NewCluster seeds the cluster, waits for the initial topology to settle and
// starts tending it in the background.
func NewCluster(ctx context.Context, opts *Options) (*Cluster, error) {
	c, err := newCluster(opts)
	if err != nil {
		return nil, err
	}

	c.logger.Info("connecting to cluster",
		zap.Any("seeds", c.Seeds()),
		zap.String("clusterName", c.opts.ClusterName),
		zap.String("clientId", c.opts.ClientID))

	c.WaitTillStabilized(ctx)

	if c.opts.FailIfNotConnected && !c.IsConnected() {
		c.Close()
		return nil, errors.Wrapf(ErrConnectFailed, "seeds %v", c.opts.Seeds)
	}

	c.start()
	return c, nil
}

func newCluster(opts *Options) (*Cluster, error) {
	resolved, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	c := &Cluster{
		opts:          resolved,
		logger:        resolved.Logger.Named("cluster"),
		dialer:        resolved.Dialer,
		authenticator: resolved.Authenticator,
		bufPool:       resolved.BufferPool,
		metrics:       resolved.Metrics,
		tracer:        resolved.TracerProvider.Tracer("github.com/stellarkv/stellar-client/cluster"),
		seeds:         resolved.Seeds,
		watchers:      make(map[*latestonlychannel.Channel[[]*Node]]struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.nodes.Store(&[]*Node{})
	c.aliases.Store(&map[hostKey]*Node{})
	c.partitions.Store(newPartitionMap())

	return c, nil
}

func (c *Cluster) start() {
	c.tendLock.Lock()
	defer c.tendLock.Unlock()

	if c.started || c.closed.Load() {
		return
	}
	c.started = true

	c.wg.Add(1)
	go c.tendLoop()
}

func (c *Cluster) Logger() *zap.Logger {
	return c.logger
}

// ClientID identifies this client instance in logs and metrics.
func (c *Cluster) ClientID() string {
	return c.opts.ClientID
}

func (c *Cluster) Seeds() []Host {
	c.seedsLock.Lock()
	defer c.seedsLock.Unlock()

	seeds := make([]Host, len(c.seeds))
	copy(seeds, c.seeds)
	return seeds
}

// AddSeeds registers additional seeds used the next time the cluster has to
// be seeded.
func (c *Cluster) AddSeeds(hosts ...Host) {
	c.seedsLock.Lock()
	defer c.seedsLock.Unlock()

	seeds := append(c.seeds, hosts...)
	c.seeds = sliceutils.RemoveDuplicatesFunc(seeds, Host.key)
}

// GetNodes returns the current node list.  The slice is a copy and may be
// modified by the caller.
func (c *Cluster) GetNodes() []*Node {
	nodes := *c.nodes.Load()
	out := make([]*Node, len(nodes))
	copy(out, nodes)
	return out
}

func (c *Cluster) GetNodeByName(name string) *Node {
	for _, node := range *c.nodes.Load() {
		if node.Name() == name {
			return node
		}
	}
	return nil
}

func (c *Cluster) aliasIndex() map[hostKey]*Node {
	return *c.aliases.Load()
}

// GetNode returns the active node owning partition p.
func (c *Cluster) GetNode(p Partition) (*Node, error) {
	if c.closed.Load() {
		return nil, ErrClusterClosed
	}
	return c.partitions.Load().lookup(p)
}

// GetRandomNode returns an active node, rotating through the node list.
func (c *Cluster) GetRandomNode() (*Node, error) {
	if c.closed.Load() {
		return nil, ErrClusterClosed
	}

	nodes := *c.nodes.Load()
	for range nodes {
		idx := c.nextNode.Add(1) % uint64(len(nodes))
		node := nodes[idx]
		if node.IsActive() {
			return node, nil
		}
	}
	return nil, ErrNoNodes
}

// PartitionMap returns the current partition ownership snapshot.
func (c *Cluster) PartitionMap() *PartitionMap {
	return c.partitions.Load()
}

// IsConnected reports whether the cluster is open and at least one active
// node is known.
func (c *Cluster) IsConnected() bool {
	if c.closed.Load() {
		return false
	}
	for _, node := range *c.nodes.Load() {
		if node.IsActive() {
			return true
		}
	}
	return false
}

// TendCount is the number of completed tend cycles.
func (c *Cluster) TendCount() int64 {
	return c.tendCount.Load()
}

// WatchNodes streams the node list every time it changes, starting with the
// current one.  Slow receivers only see the latest list.  The channel is
// closed when ctx is done or the cluster is closed.
func (c *Cluster) WatchNodes(ctx context.Context) <-chan []*Node {
	watcher := latestonlychannel.New[[]*Node]()
	watcher.Send(c.GetNodes())

	c.watchersLock.Lock()
	if c.closed.Load() {
		c.watchersLock.Unlock()
		watcher.Close()
		return watcher.C()
	}
	c.watchers[watcher] = struct{}{}
	c.watchersLock.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.ctx.Done():
		}

		c.watchersLock.Lock()
		delete(c.watchers, watcher)
		c.watchersLock.Unlock()
		watcher.Close()
	}()

	return watcher.C()
}

func (c *Cluster) notifyWatchers(nodes []*Node) {
	c.watchersLock.Lock()
	defer c.watchersLock.Unlock()

	for watcher := range c.watchers {
		out := make([]*Node, len(nodes))
		copy(out, nodes)
		watcher.Send(out)
	}
}

// Close stops tending and closes every node.  It is safe to call more than
// once.
func (c *Cluster) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.cancel()
	c.wg.Wait()

	c.tendLock.Lock()
	defer c.tendLock.Unlock()

	nodes := *c.nodes.Load()
	for _, node := range nodes {
		node.Close()
	}

	c.nodes.Store(&[]*Node{})
	c.aliases.Store(&map[hostKey]*Node{})
	c.partitions.Store(newPartitionMap())

	c.watchersLock.Lock()
	for watcher := range c.watchers {
		watcher.Close()
		delete(c.watchers, watcher)
	}
	c.watchersLock.Unlock()

	c.logger.Info("cluster closed", zap.Int("nodes", len(nodes)))
}
