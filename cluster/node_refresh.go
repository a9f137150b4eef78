package cluster

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pkg/errors"
)

// tendConnection returns the node's dedicated tend connection, reopening it
// when the previous one was closed.  It is not counted by the pool.
func (c *Cluster) tendConnection(ctx context.Context, n *Node) (*Connection, error) {
	if n.tendConn != nil && n.tendConn.IsAlive() {
		return n.tendConn, nil
	}
	n.closeTendConnection()

	conn, err := c.openConnection(ctx, n.host)
	if err != nil {
		return nil, err
	}
	n.tendConn = conn
	return conn, nil
}

// refreshNode runs the per cycle info request against a single node.
// Failures only affect this node.
func (c *Cluster) refreshNode(ctx context.Context, n *Node, p *peers) {
	ctx, span := c.tracer.Start(ctx, "refresh node",
		trace.WithAttributes(attribute.String("node", n.name)))
	defer span.End()

	err := c.refreshNodeInfo(ctx, n, p)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.refreshFailed(ctx, n, p, err)
		return
	}

	n.RestoreHealth()
	n.responded.Store(true)
	n.failures.Store(0)
	p.refreshCount++
}

func (c *Cluster) refreshNodeInfo(ctx context.Context, n *Node, p *peers) error {
	conn, err := c.tendConnection(ctx, n)
	if err != nil {
		return err
	}

	resp, err := conn.RequestInfo(refreshCommands(p.usePeers, c.opts.RackAware)...)
	if err != nil {
		return err
	}

	info, err := parseNodeInfo(resp, p.usePeers, c.opts.RackAware, DefaultPort)
	if err != nil {
		return err
	}

	if info.Name != n.name {
		n.deactivate()
		return errors.Wrapf(ErrNodeNameMismatch, "expected %s, got %s", n.name, info.Name)
	}

	if c.opts.ClusterName != "" && info.ClusterName != c.opts.ClusterName {
		n.deactivate()
		return errors.Wrapf(ErrClusterNameMismatch, "expected %q, got %q", c.opts.ClusterName, info.ClusterName)
	}

	n.partitionGeneration.Observe(info.PartitionGeneration)
	if c.opts.RackAware {
		n.rebalanceGeneration.Observe(info.RebalanceGeneration)
	}

	if p.usePeers {
		n.peersGeneration.Observe(info.PeersGeneration)
		if n.peersGeneration.Changed() {
			p.genChanged = true
		}
		return nil
	}

	for _, host := range info.Services {
		c.addCandidate(ctx, host, "", p)
	}
	n.peersCount.Store(int32(len(info.Services)))
	return nil
}

// refreshFailed handles an info or peers failure of n.  The cycle's view
// of the topology is now incomplete, so removal is evaluated.
func (c *Cluster) refreshFailed(ctx context.Context, n *Node, p *peers, err error) {
	c.markRefreshFailed(ctx, n, err)
	p.genChanged = true
}

// markRefreshFailed invalidates n's generations so that the next successful
// exchange refetches everything.  Partition and rack fetch failures stop
// here: peers were not read in that case and reference counts are not
// meaningful for removal.
func (c *Cluster) markRefreshFailed(ctx context.Context, n *Node, err error) {
	n.closeTendConnection()
	n.peersGeneration.Invalidate()
	n.partitionGeneration.Invalidate()
	n.rebalanceGeneration.Invalidate()
	n.DecreaseHealth()
	failures := n.failures.Add(1)

	c.metrics.NodeRefreshFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("node", n.name)))

	n.logger.Warn("node refresh failed",
		zap.Int32("failures", failures),
		zap.Int("health", n.Health()),
		zap.Bool("active", n.IsActive()),
		zap.Error(err))
}

// refreshPeers fetches the peer list of a node which responded this cycle
// and registers every peer that is not known yet.
func (c *Cluster) refreshPeers(ctx context.Context, n *Node, p *peers) {
	if !n.Responded() || !n.IsActive() {
		return
	}

	err := c.refreshNodePeers(ctx, n, p)
	if err != nil {
		c.refreshFailed(ctx, n, p, err)
		return
	}

	p.refreshCount++
}

func (c *Cluster) refreshNodePeers(ctx context.Context, n *Node, p *peers) error {
	conn, err := c.tendConnection(ctx, n)
	if err != nil {
		return err
	}

	resp, err := fetchPeers(conn)
	if err != nil {
		return err
	}

	peersValidated := true
	for _, peer := range resp.Peers {
		if c.findPeerNode(peer.NodeName, p) {
			continue
		}

		added := false
		for _, host := range peer.Hosts {
			if c.addCandidate(ctx, host, peer.NodeName, p) {
				added = true
				break
			}
		}

		if !added {
			peersValidated = false
		}
	}
	n.peersCount.Store(int32(len(resp.Peers)))

	// the generation is only accepted once every peer made it into the
	// cluster, otherwise the listing is fetched again next cycle
	if peersValidated {
		n.peersGeneration.Observe(resp.Generation)
		n.peersGeneration.Commit()
	}

	return nil
}

// findPeerNode reports whether a node called name is already known,
// counting a reference to it.
func (c *Cluster) findPeerNode(name string, p *peers) bool {
	if node := c.GetNodeByName(name); node != nil && node.IsActive() {
		node.IncreaseReferenceCount()
		return true
	}
	if node, ok := p.nodes[name]; ok {
		node.IncreaseReferenceCount()
		return true
	}
	return false
}

func (c *Cluster) findAlias(host Host, p *peers) *Node {
	if node := c.aliasIndex()[host.key()]; node != nil && node.IsActive() {
		return node
	}
	return p.aliases[host.key()]
}

// addCandidate runs the node-add procedure for a discovered host and
// reports whether the host now maps to a known node.
func (c *Cluster) addCandidate(ctx context.Context, host Host, expectedName string, p *peers) bool {
	if node := c.findAlias(host, p); node != nil {
		node.IncreaseReferenceCount()
		return true
	}

	if p.hasFailed(host) {
		return false
	}

	nv, err := c.validateNode(ctx, host)
	if err != nil {
		p.fail(host)
		c.logger.Warn("failed to add node candidate",
			zap.Stringer("host", host),
			zap.String("expected", expectedName),
			zap.Error(err))
		return false
	}

	if expectedName != "" && nv.name != expectedName {
		c.logger.Warn("peer node name does not match the validated node",
			zap.String("expected", expectedName),
			zap.String("actual", nv.name),
			zap.Stringer("host", host))
	}

	existing := c.GetNodeByName(nv.name)
	if existing == nil || !existing.IsActive() {
		existing = p.nodes[nv.name]
	}
	if existing != nil {
		nv.close()
		p.addAlias(existing, host)
		existing.IncreaseReferenceCount()
		return true
	}

	node := newNode(c, nv)
	node.IncreaseReferenceCount()
	p.addNode(node)

	c.logger.Info("added node",
		zap.String("node", node.Name()),
		zap.Stringer("host", node.Host()))
	return true
}

// refreshPartitions fetches the ownership bitmaps of a node whose
// partition generation changed.
func (c *Cluster) refreshPartitions(ctx context.Context, n *Node, b *partitionMapBuilder) {
	err := c.refreshNodePartitions(ctx, n, b)
	if err != nil {
		c.markRefreshFailed(ctx, n, err)
	}
}

func (c *Cluster) refreshNodePartitions(ctx context.Context, n *Node, b *partitionMapBuilder) error {
	conn, err := c.tendConnection(ctx, n)
	if err != nil {
		return err
	}

	resp, err := conn.RequestInfo(infoPartitionGeneration, infoReplicasMaster)
	if err != nil {
		return err
	}

	gen, err := parseGeneration(resp, infoPartitionGeneration)
	if err != nil {
		return err
	}

	bitmaps, err := parseReplicasMaster(resp[infoReplicasMaster])
	if err != nil {
		return err
	}

	updated := b.applyBitmaps(n, bitmaps)
	if updated > 0 {
		c.metrics.PartitionUpdates.Add(ctx, int64(updated))
	}

	n.partitionGeneration.Observe(gen)
	n.partitionGeneration.Commit()

	n.logger.Debug("refreshed partitions",
		zap.Int64("generation", gen),
		zap.Int("updated", updated))
	return nil
}

func (c *Cluster) refreshRacks(ctx context.Context, n *Node) {
	err := c.refreshNodeRacks(ctx, n)
	if err != nil {
		c.markRefreshFailed(ctx, n, err)
	}
}

func (c *Cluster) refreshNodeRacks(ctx context.Context, n *Node) error {
	conn, err := c.tendConnection(ctx, n)
	if err != nil {
		return err
	}

	resp, err := conn.RequestInfo(infoRebalanceGeneration, infoRacks)
	if err != nil {
		return err
	}

	gen, err := parseGeneration(resp, infoRebalanceGeneration)
	if err != nil {
		return err
	}

	racks, err := parseRacks(resp[infoRacks], n.name)
	if err != nil {
		return err
	}

	n.setRacks(racks)
	n.rebalanceGeneration.Observe(gen)
	n.rebalanceGeneration.Commit()
	return nil
}
