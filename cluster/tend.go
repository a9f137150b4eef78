package cluster

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/stellarkv/stellar-client/utils/sliceutils"
)

func (c *Cluster) tendLoop() {
	defer c.wg.Done()

	timer := time.NewTimer(c.opts.TendInterval)
	defer timer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("tend loop exiting")
			return
		case <-timer.C:
		}

		err := c.tendSafe(c.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("tend cycle failed", zap.Error(err))
		}

		timer.Reset(c.opts.TendInterval)
	}
}

// tendSafe runs one cycle, turning a panic into an error so that the loop
// survives it.
func (c *Cluster) tendSafe(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.TendPanics.Add(ctx, 1)
			c.logger.Error("tend cycle panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = errors.Errorf("tend cycle panicked: %v", r)
		}
	}()

	return c.tend(ctx)
}

// tend runs a single tend cycle.  Cycles never overlap.
func (c *Cluster) tend(ctx context.Context) error {
	c.tendLock.Lock()
	defer c.tendLock.Unlock()

	if c.closed.Load() {
		return ErrClusterClosed
	}

	ctx, span := c.tracer.Start(ctx, "tend")
	defer span.End()

	start := time.Now()
	defer func() {
		c.tendCount.Add(1)
		c.metrics.TendCycles.Add(ctx, 1)
		c.metrics.TendDuration.Record(ctx, time.Since(start).Seconds())
	}()

	nodes := *c.nodes.Load()
	if len(nodes) == 0 {
		err := c.seedNodes(ctx)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		nodes = *c.nodes.Load()
	}

	p := newPeers()
	for _, node := range nodes {
		node.referenceCount.Store(0)
		node.responded.Store(false)

		if node.IsActive() && !node.SupportsPeers() {
			p.usePeers = false
		}
	}

	for _, node := range nodes {
		if node.IsActive() {
			c.refreshNode(ctx, node, p)
		}
	}

	if p.genChanged && p.usePeers {
		// count only the nodes whose peer listing could be read
		p.refreshCount = 0
		for _, node := range nodes {
			c.refreshPeers(ctx, node, p)
		}
	}

	builder := newPartitionMapBuilder(c.partitions.Load())
	for _, node := range nodes {
		if !node.Responded() || !node.IsActive() {
			continue
		}
		if node.partitionGeneration.Changed() {
			c.refreshPartitions(ctx, node, builder)
		}
		if c.opts.RackAware && node.rebalanceGeneration.Changed() {
			c.refreshRacks(ctx, node)
		}
	}

	var removed []*Node
	if p.genChanged || !p.usePeers {
		removed = findNodesToRemove(nodes, p.refreshCount, builder.current())
	}

	c.applyChanges(ctx, nodes, builder, p, removed)

	span.SetAttributes(
		attribute.Int("nodes", len(nodes)),
		attribute.Int("refreshCount", p.refreshCount),
		attribute.Bool("usePeers", p.usePeers))
	return nil
}

// seedNodes validates every seed host and publishes the resulting nodes.
func (c *Cluster) seedNodes(ctx context.Context) error {
	seeds := c.Seeds()

	if c.opts.SeedProvider != nil {
		provided, err := c.opts.SeedProvider.Seeds(ctx)
		if err != nil {
			c.logger.Warn("failed to fetch seeds from provider", zap.Error(err))
		}
		for _, seed := range provided {
			if seed.Port == 0 {
				seed.Port = DefaultPort
			}
			seeds = append(seeds, seed)
		}
	}

	seeds = sliceutils.RemoveDuplicatesFunc(seeds, Host.key)
	if len(seeds) == 0 {
		return errors.Wrap(ErrConnectFailed, "no seed hosts configured")
	}

	p := newPeers()
	for _, seed := range seeds {
		c.addCandidate(ctx, seed, "", p)
	}

	if len(p.nodes) == 0 {
		return errors.Wrapf(ErrConnectFailed, "seeds %v", seeds)
	}

	c.applyChanges(ctx, nil, newPartitionMapBuilder(c.partitions.Load()), p, nil)
	return nil
}

// applyChanges publishes the outcome of a cycle: partitions first, then
// the node list with its alias index, then closes what was removed.
func (c *Cluster) applyChanges(
	ctx context.Context,
	current []*Node,
	builder *partitionMapBuilder,
	p *peers,
	removed []*Node,
) {
	builder.removeNodes(removed)
	if builder.changed() {
		c.partitions.Store(builder.build())
	}

	added := p.nodeList()
	if len(added) == 0 && len(removed) == 0 && !p.aliasesChanged {
		return
	}

	// deterministic order for anyone iterating the node list
	slices.SortFunc(added, func(a, b *Node) int {
		if a.Name() < b.Name() {
			return -1
		} else if a.Name() > b.Name() {
			return 1
		}
		return 0
	})

	nodes := make([]*Node, 0, len(current)+len(added))
	for _, node := range current {
		if !slices.Contains(removed, node) {
			nodes = append(nodes, node)
		}
	}
	nodes = append(nodes, added...)

	aliases := make(map[hostKey]*Node)
	for _, node := range nodes {
		for _, alias := range node.Aliases() {
			aliases[alias.key()] = node
		}
	}

	c.nodes.Store(&nodes)
	c.aliases.Store(&aliases)

	if len(added) == 0 && len(removed) == 0 {
		return
	}

	for _, node := range removed {
		c.logger.Info("removing node",
			zap.String("node", node.Name()),
			zap.Stringer("host", node.Host()),
			zap.Int("health", node.Health()),
			zap.Bool("active", node.IsActive()))
		node.Close()
	}

	c.metrics.NodesAdded.Add(ctx, int64(len(added)))
	c.metrics.NodesRemoved.Add(ctx, int64(len(removed)))
	c.metrics.ActiveNodes.Add(ctx, int64(len(added)-len(removed)))

	trace.SpanFromContext(ctx).AddEvent("nodes changed",
		trace.WithAttributes(
			attribute.Int("added", len(added)),
			attribute.Int("removed", len(removed))))

	c.notifyWatchers(nodes)
}
