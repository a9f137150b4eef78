package etcdseeds

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/stellarkv/stellar-client/cluster"
	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const defaultPort = 3000

type RegistryOptions struct {
	EtcdClient  *etcd.Client
	KeyPrefix   string
	DefaultPort int

	// FetchTimeout bounds the retries of a single Seeds call.
	FetchTimeout time.Duration
	Logger       *zap.Logger
}

// Registry keeps seed hosts under `<prefix>/<id>` keys, one `host:port`
// per key.  It is a cluster.SeedProvider.
type Registry struct {
	etcdClient   *etcd.Client
	keyPrefix    string
	defaultPort  int
	fetchTimeout time.Duration
	logger       *zap.Logger
}

var _ cluster.SeedProvider = (*Registry)(nil)

func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.EtcdClient == nil {
		return nil, errors.New("etcd client is required")
	}
	if opts.KeyPrefix == "" {
		return nil, errors.New("key prefix is required")
	}

	port := opts.DefaultPort
	if port == 0 {
		port = defaultPort
	}
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout == 0 {
		fetchTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		etcdClient:   opts.EtcdClient,
		keyPrefix:    strings.TrimSuffix(opts.KeyPrefix, "/"),
		defaultPort:  port,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}, nil
}

func (r *Registry) seedsPrefix() string {
	return r.keyPrefix + "/"
}

// Seeds lists the registered hosts, retrying transient etcd failures.
func (r *Registry) Seeds(ctx context.Context) ([]cluster.Host, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = r.fetchTimeout

	var resp *etcd.GetResponse
	err := backoff.RetryNotify(func() error {
		var err error
		resp, err = r.etcdClient.KV.Get(ctx, r.seedsPrefix(), etcd.WithPrefix())
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		r.logger.Debug("failed to list seeds from etcd, retrying",
			zap.Error(err),
			zap.Duration("delay", d))
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list seeds from etcd")
	}

	return parseSeedEntries(r.seedsPrefix(), resp.Kvs, r.defaultPort, r.logger), nil
}

// Watch emits the full seed list initially and again after every change
// under the prefix.  The channel closes when ctx is done.
func (r *Registry) Watch(ctx context.Context) (<-chan []cluster.Host, error) {
	prefix := r.seedsPrefix()

	resp, err := r.etcdClient.KV.Get(ctx, prefix, etcd.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list seeds from etcd")
	}

	entries := make(map[string]*mvccpb.KeyValue, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		entries[string(kv.Key)] = kv
	}

	emit := func() []cluster.Host {
		kvs := make([]*mvccpb.KeyValue, 0, len(entries))
		for _, kv := range entries {
			kvs = append(kvs, kv)
		}
		return parseSeedEntries(prefix, kvs, r.defaultPort, r.logger)
	}

	outputCh := make(chan []cluster.Host, 1)
	outputCh <- emit()

	watchCh := r.etcdClient.Watcher.Watch(ctx, prefix, etcd.WithPrefix(), etcd.WithRev(resp.Header.Revision+1))
	go func() {
		defer close(outputCh)

		for watchResp := range watchCh {
			if err := watchResp.Err(); err != nil {
				r.logger.Warn("etcd seed watch failed", zap.Error(err))
				return
			}

			for _, evt := range watchResp.Events {
				switch evt.Type {
				case mvccpb.PUT:
					entries[string(evt.Kv.Key)] = evt.Kv
				case mvccpb.DELETE:
					delete(entries, string(evt.Kv.Key))
				}
			}

			select {
			case outputCh <- emit():
			case <-ctx.Done():
				return
			}
		}
	}()

	return outputCh, nil
}

// parseSeedEntries skips entries that do not parse, a bad registration
// must not hide the good ones.
func parseSeedEntries(prefix string, kvs []*mvccpb.KeyValue, defaultPort int, logger *zap.Logger) []cluster.Host {
	hosts := make([]cluster.Host, 0, len(kvs))
	for _, kv := range kvs {
		id := strings.TrimPrefix(string(kv.Key), prefix)

		host, err := cluster.ParseHost(string(kv.Value), defaultPort)
		if err != nil {
			logger.Warn("ignoring invalid seed entry",
				zap.String("id", id),
				zap.ByteString("value", kv.Value),
				zap.Error(err))
			continue
		}

		hosts = append(hosts, host)
	}
	return hosts
}
