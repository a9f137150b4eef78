package etcdseeds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stellarkv/stellar-client/cluster"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type RegisterOptions struct {
	// ID defaults to a random uuid.
	ID          string
	LeasePeriod time.Duration
}

// Registration is a seed entry held alive by an etcd lease.  The entry
// disappears when the process stops refreshing the lease.
type Registration struct {
	etcdClient *etcd.Client
	key        string
	leaseID    etcd.LeaseID
	cancelKa   context.CancelFunc
}

func (r *Registry) Register(ctx context.Context, host cluster.Host, opts *RegisterOptions) (*Registration, error) {
	if opts == nil {
		opts = &RegisterOptions{}
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	leasePeriod := 5 * time.Second
	if opts.LeasePeriod != 0 {
		// etcd has the same minimum
		if opts.LeasePeriod < 5*time.Second {
			return nil, errors.New("lease period must be at least 5 seconds")
		}
		leasePeriod = opts.LeasePeriod
	}

	lease, err := r.etcdClient.Lease.Grant(ctx, int64(leasePeriod/time.Second))
	if err != nil {
		return nil, errors.Wrap(err, "failed to grant seed lease")
	}

	kaCtx, kaCancel := context.WithCancel(context.Background())
	kaCh, err := r.etcdClient.Lease.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		kaCancel()
		return nil, errors.Wrap(err, "failed to keep seed lease alive")
	}

	key := r.seedsPrefix() + id
	go func() {
		for range kaCh {
		}
		r.logger.Debug("seed lease keep-alive stopped", zap.String("key", key))
	}()

	_, err = r.etcdClient.KV.Put(ctx, key, host.Address(), etcd.WithLease(lease.ID))
	if err != nil {
		kaCancel()
		_, revokeErr := r.etcdClient.Lease.Revoke(context.Background(), lease.ID)
		if revokeErr != nil {
			r.logger.Warn("failed to revoke seed lease",
				zap.String("key", key),
				zap.Error(revokeErr))
		}
		return nil, errors.Wrap(err, "failed to register seed")
	}

	return &Registration{
		etcdClient: r.etcdClient,
		key:        key,
		leaseID:    lease.ID,
		cancelKa:   kaCancel,
	}, nil
}

func (m *Registration) Key() string {
	return m.key
}

// Leave removes the entry and releases its lease.
func (m *Registration) Leave(ctx context.Context) error {
	m.cancelKa()

	_, err := m.etcdClient.Lease.Revoke(ctx, m.leaseID)
	if err != nil {
		return errors.Wrap(err, "failed to revoke seed lease")
	}
	return nil
}
