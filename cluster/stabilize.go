package cluster

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// WaitTillStabilized tends the cluster until two consecutive cycles agree
// on the node count.  It gives up after ten connection timeouts; the worker
// is abandoned through its context when that happens.
func (c *Cluster) WaitTillStabilized(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*c.opts.ConnectionTimeout)
	defer cancel()

	doneCh := make(chan struct{})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(doneCh)

		b := backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(1*time.Millisecond),
			backoff.WithMaxInterval(c.opts.TendInterval),
			backoff.WithMaxElapsedTime(0))

		count := -1
		for {
			err := c.tendSafe(ctx)
			if err != nil {
				c.logger.Debug("tend during stabilization failed", zap.Error(err))
			}

			nodeCount := len(*c.nodes.Load())
			if nodeCount == count {
				return
			}
			count = nodeCount

			select {
			case <-ctx.Done():
				return
			case <-time.After(b.NextBackOff()):
			}
		}
	}()

	select {
	case <-doneCh:
		c.logger.Debug("cluster stabilized", zap.Int("nodes", len(*c.nodes.Load())))
	case <-ctx.Done():
		c.logger.Warn("cluster did not stabilize in time",
			zap.Duration("timeout", 10*c.opts.ConnectionTimeout),
			zap.Int("nodes", len(*c.nodes.Load())))
	}
}
