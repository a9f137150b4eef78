package cluster

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/stellarkv/stellar-client/pkg/metrics"
)

type ConnectionPoolOptions struct {
	MaxSize int
	Open    func(ctx context.Context) (*Connection, error)
	Logger  *zap.Logger
	Metrics *metrics.ClusterMetrics
	Attrs   metric.MeasurementOption
}

// ConnectionPool is a bounded pool of connections to a single node.  total
// counts idle plus checked-out connections and never exceeds maxSize; every
// change to it happens under lock.
type ConnectionPool struct {
	maxSize int
	open    func(ctx context.Context) (*Connection, error)
	logger  *zap.Logger
	metrics *metrics.ClusterMetrics
	attrs   metric.MeasurementOption

	idle chan *Connection

	lock    sync.Mutex
	total   int
	tracked map[*Connection]struct{}
	closed  bool
}

func NewConnectionPool(opts ConnectionPoolOptions) *ConnectionPool {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	poolMetrics := opts.Metrics
	if poolMetrics == nil {
		poolMetrics = metrics.NewNoopClusterMetrics()
	}

	attrs := opts.Attrs
	if attrs == nil {
		attrs = metric.WithAttributes()
	}

	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = 1
	}

	return &ConnectionPool{
		maxSize: maxSize,
		open:    opts.Open,
		logger:  logger,
		metrics: poolMetrics,
		attrs:   attrs,
		idle:    make(chan *Connection, maxSize),
		tracked: make(map[*Connection]struct{}, maxSize),
	}
}

// Create opens a brand new connection, failing immediately with
// ErrMaxConnectionsExceeded when the pool is at capacity.  The check, the
// open and the increment all happen under the pool lock.
func (p *ConnectionPool) Create(ctx context.Context) (*Connection, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	if p.total >= p.maxSize {
		p.metrics.ConnectionsExhausted.Add(ctx, 1, p.attrs)
		return nil, ErrMaxConnectionsExceeded
	}

	conn, err := p.open(ctx)
	if err != nil {
		return nil, err
	}

	p.total++
	p.tracked[conn] = struct{}{}

	p.metrics.ConnectionsOpened.Add(ctx, 1, p.attrs)
	p.metrics.OpenConnections.Add(ctx, 1, p.attrs)

	return conn, nil
}

// Poll hands out an idle connection, discarding any dead ones it finds on
// the way, and falls back to Create when nothing idle is left.
func (p *ConnectionPool) Poll(ctx context.Context) (*Connection, error) {
	for {
		select {
		case conn := <-p.idle:
			if conn.IsAlive() {
				return conn, nil
			}

			p.logger.Debug("discarding dead pooled connection",
				zap.String("connId", conn.ID()))
			p.Cleanup(conn)
		default:
			return p.Create(ctx)
		}
	}
}

// Offer returns a connection to the idle queue.  Dead connections, foreign
// connections and connections that do not fit are closed instead.
func (p *ConnectionPool) Offer(conn *Connection) {
	if conn == nil {
		return
	}

	if conn.IsAlive() {
		p.lock.Lock()
		if _, ok := p.tracked[conn]; ok && !p.closed {
			select {
			case p.idle <- conn:
				p.lock.Unlock()
				return
			default:
			}
		}
		p.lock.Unlock()
	}

	p.Cleanup(conn)
}

// Cleanup closes conn and releases its slot.
func (p *ConnectionPool) Cleanup(conn *Connection) {
	if conn == nil {
		return
	}

	_ = conn.Close()

	p.lock.Lock()
	_, ok := p.tracked[conn]
	if ok {
		delete(p.tracked, conn)
		p.total--
	}
	p.lock.Unlock()

	if ok {
		p.metrics.ConnectionsClosed.Add(context.Background(), 1, p.attrs)
		p.metrics.OpenConnections.Add(context.Background(), -1, p.attrs)
	}
}

// CloseAll closes every connection the pool knows about, idle or checked
// out, and refuses any further Create.
func (p *ConnectionPool) CloseAll() {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.closed = true

	closedCount := int64(len(p.tracked))
	for conn := range p.tracked {
		_ = conn.Close()
	}
	p.tracked = make(map[*Connection]struct{})
	p.total = 0

DrainLoop:
	for {
		select {
		case <-p.idle:
		default:
			break DrainLoop
		}
	}

	if closedCount > 0 {
		p.metrics.ConnectionsClosed.Add(context.Background(), closedCount, p.attrs)
		p.metrics.OpenConnections.Add(context.Background(), -closedCount, p.attrs)
	}
}

func (p *ConnectionPool) Total() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.total
}

func (p *ConnectionPool) Idle() int {
	return len(p.idle)
}

func (p *ConnectionPool) MaxSize() int {
	return p.maxSize
}
