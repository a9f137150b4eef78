package cluster

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/pkg/errors"
)

var errTaskPending = errors.New("task still in progress")

// InfoTask polls an info command on every node until all of them report
// completion, e.g. waiting for an index build or a configuration change
// to reach the whole cluster.
type InfoTask struct {
	cluster *Cluster
	command string
	isDone  func(value string) (bool, error)
}

// NewInfoTask creates a task which is complete once isDone accepts the value
// of command on every node.  An error from isDone fails the task.
func (c *Cluster) NewInfoTask(command string, isDone func(value string) (bool, error)) *InfoTask {
	return &InfoTask{
		cluster: c,
		command: command,
		isDone:  isDone,
	}
}

// IsDone queries every node once.  A failure reported by any node fails
// the task even when others are still in progress.
func (t *InfoTask) IsDone(ctx context.Context) (bool, error) {
	nodes := t.cluster.GetNodes()
	if len(nodes) == 0 {
		return false, ErrNoNodes
	}

	allDone := true
	for _, node := range nodes {
		if !node.IsActive() {
			continue
		}

		resp, err := node.RequestInfo(ctx, t.command)
		if err != nil {
			return false, errors.Wrapf(err, "failed to query %s on %s", t.command, node.Name())
		}

		done, err := t.isDone(resp[t.command])
		if err != nil {
			return false, errors.Wrapf(ErrTaskFailed, "node %s: %s", node.Name(), err)
		}
		if !done {
			allDone = false
		}
	}

	return allDone, nil
}

type TaskPollPolicy struct {
	// Interval is the first delay between polls, growing up to MaxInterval.
	Interval    time.Duration
	MaxInterval time.Duration
	// MaxFailures consecutive query errors fail the task.  Zero means
	// errors are retried until Timeout.
	MaxFailures int
	// Timeout bounds the whole task.  Zero means no limit.
	Timeout time.Duration
}

var DefaultTaskPollPolicy = TaskPollPolicy{
	Interval:    100 * time.Millisecond,
	MaxInterval: 1 * time.Second,
	MaxFailures: 5,
	Timeout:     30 * time.Second,
}

// TaskHandle tracks a running task.
type TaskHandle struct {
	doneCh chan struct{}
	cancel context.CancelFunc
	err    error
}

// Start polls the task in the background according to policy.
func (t *InfoTask) Start(ctx context.Context, policy TaskPollPolicy) *TaskHandle {
	if policy.Interval <= 0 {
		policy.Interval = DefaultTaskPollPolicy.Interval
	}
	if policy.MaxInterval < policy.Interval {
		policy.MaxInterval = policy.Interval
	}

	var cancel context.CancelFunc
	var timeoutCtx context.Context
	if policy.Timeout > 0 {
		timeoutCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
	} else {
		timeoutCtx, cancel = context.WithCancel(ctx)
	}

	h := &TaskHandle{
		doneCh: make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(h.doneCh)
		defer cancel()

		h.err = t.poll(timeoutCtx, policy)
		if errors.Is(h.err, context.DeadlineExceeded) && ctx.Err() == nil {
			h.err = errors.Wrapf(ErrTaskTimeout, "%s after %s", t.command, policy.Timeout)
		}
	}()

	return h
}

func (t *InfoTask) poll(ctx context.Context, policy TaskPollPolicy) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(policy.Interval),
		backoff.WithMaxInterval(policy.MaxInterval),
		backoff.WithMaxElapsedTime(0))

	failures := 0
	op := func() error {
		done, err := t.IsDone(ctx)
		if err != nil {
			if errors.Is(err, ErrTaskFailed) {
				return backoff.Permanent(err)
			}

			failures++
			if policy.MaxFailures > 0 && failures >= policy.MaxFailures {
				return backoff.Permanent(err)
			}
			return err
		}

		failures = 0
		if !done {
			return errTaskPending
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		if !errors.Is(err, errTaskPending) {
			t.cluster.logger.Debug("task poll failed",
				zap.String("command", t.command),
				zap.Duration("next", next),
				zap.Error(err))
		}
	}

	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

// Wait blocks until the task completed, failed or was cancelled.
func (h *TaskHandle) Wait() error {
	<-h.doneCh
	return h.err
}

func (h *TaskHandle) Done() <-chan struct{} {
	return h.doneCh
}

func (h *TaskHandle) Cancel() {
	h.cancel()
}
