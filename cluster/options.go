package cluster

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pkg/errors"

	"github.com/stellarkv/stellar-client/pkg/metrics"
	"github.com/stellarkv/stellar-client/utils/bufpool"
	"github.com/stellarkv/stellar-client/utils/netutils"
)

const (
	DefaultConnectionTimeout  = 1 * time.Second
	DefaultIdleTimeout        = 55 * time.Second
	DefaultConnectionPoolSize = 100
	DefaultTendInterval       = 1 * time.Second
)

// SeedProvider supplies additional seed hosts each time the cluster has to
// be seeded.
type SeedProvider interface {
	Seeds(ctx context.Context) ([]Host, error)
}

// SeedProviderFunc adapts a function to a SeedProvider.
type SeedProviderFunc func(ctx context.Context) ([]Host, error)

func (f SeedProviderFunc) Seeds(ctx context.Context) ([]Host, error) {
	return f(ctx)
}

type Options struct {
	Seeds        []Host
	SeedProvider SeedProvider

	// ClusterName, when set, is compared against every node's
	// cluster-name and nodes of other clusters are rejected.
	ClusterName string

	ConnectionTimeout  time.Duration
	IdleTimeout        time.Duration
	ConnectionPoolSize int
	TendInterval       time.Duration

	RackAware          bool
	FailIfNotConnected bool

	// TLSConfig is used by the default dialer.  It also selects the TLS
	// variant of peer discovery.
	TLSConfig *tls.Config
	Dialer    Dialer
	Resolver  netutils.Resolver

	Authenticator Authenticator
	Credentials   Credentials

	Logger         *zap.Logger
	Metrics        *metrics.ClusterMetrics
	TracerProvider trace.TracerProvider

	ClientID   string
	BufferPool *bufpool.Pool
}

// withDefaults returns a validated copy of the options with every unset
// field filled in.
func (o *Options) withDefaults() (*Options, error) {
	if o == nil {
		return nil, errors.New("cluster options are required")
	}

	opts := *o
	opts.Seeds = append([]Host(nil), o.Seeds...)

	if len(opts.Seeds) == 0 && opts.SeedProvider == nil {
		return nil, errors.New("at least one seed host or a seed provider is required")
	}
	for i, seed := range opts.Seeds {
		if seed.Name == "" {
			return nil, errors.Wrapf(ErrInvalidHost, "seed %d has no name", i)
		}
		if seed.Port == 0 {
			opts.Seeds[i].Port = DefaultPort
		}
	}

	if opts.ConnectionTimeout < 0 || opts.IdleTimeout < 0 || opts.TendInterval < 0 || opts.ConnectionPoolSize < 0 {
		return nil, errors.New("timeouts, intervals and pool size must not be negative")
	}
	if opts.ConnectionTimeout == 0 {
		opts.ConnectionTimeout = DefaultConnectionTimeout
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.ConnectionPoolSize == 0 {
		opts.ConnectionPoolSize = DefaultConnectionPoolSize
	}
	if opts.TendInterval == 0 {
		opts.TendInterval = DefaultTendInterval
	}

	if opts.Dialer == nil {
		opts.Dialer = &NetDialer{
			TLSConfig: opts.TLSConfig,
		}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopClusterMetrics()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.BufferPool == nil {
		opts.BufferPool = bufpool.New()
	}

	return &opts, nil
}
