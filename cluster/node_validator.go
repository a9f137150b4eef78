package cluster

import (
	"context"

	"go.uber.org/zap"

	"github.com/pkg/errors"

	"github.com/stellarkv/stellar-client/utils/netutils"
)

// validatedNode is the outcome of a successful identity handshake with a
// seed or discovered host.  conn becomes the new node's tend connection.
type validatedNode struct {
	name          string
	clusterName   string
	primaryHost   Host
	aliases       []Host
	conn          *Connection
	supportsPeers bool
}

func (nv *validatedNode) close() {
	if nv.conn != nil {
		_ = nv.conn.Close()
		nv.conn = nil
	}
}

// validateNode resolves host and performs the identity handshake against
// each of its addresses until one succeeds.
func (c *Cluster) validateNode(ctx context.Context, host Host) (*validatedNode, error) {
	addrs, err := netutils.ResolveHost(ctx, c.opts.Resolver, host.Name)
	if err != nil {
		return nil, err
	}

	lastErr := errors.Wrap(ErrInvalidHost, "no routable address")
	for _, addr := range addrs {
		if netutils.IsInAddrAny(addr) {
			// a wildcard bind address leaked into the peer listing
			continue
		}

		addrHost := Host{Name: addr, Port: host.Port, TLSName: host.TLSName}

		nv, err := c.validateAddress(ctx, addrHost)
		if err != nil {
			c.logger.Debug("failed to validate address",
				zap.Stringer("host", host),
				zap.String("address", addr),
				zap.Error(err))
			lastErr = err
			continue
		}

		if !addrHost.Equals(host) {
			nv.aliases = append(nv.aliases, host)
		}
		return nv, nil
	}

	return nil, errors.Wrapf(lastErr, "failed to validate %s", host)
}

func (c *Cluster) validateAddress(ctx context.Context, host Host) (*validatedNode, error) {
	conn, err := c.openConnection(ctx, host)
	if err != nil {
		return nil, err
	}

	resp, err := conn.RequestInfo(validatorCommands(c.opts.ClusterName != "")...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	info := parseValidatorInfo(resp)
	if info.Name == "" {
		_ = conn.Close()
		return nil, errors.Wrapf(ErrInvalidNodeName, "host %s", host)
	}

	if c.opts.ClusterName != "" && info.ClusterName != c.opts.ClusterName {
		_ = conn.Close()
		return nil, errors.Wrapf(ErrClusterNameMismatch,
			"node %s at %s belongs to cluster %q, expected %q",
			info.Name, host, info.ClusterName, c.opts.ClusterName)
	}

	return &validatedNode{
		name:          info.Name,
		clusterName:   info.ClusterName,
		primaryHost:   host,
		aliases:       []Host{host},
		conn:          conn,
		supportsPeers: info.HasFeature(featurePeers),
	}, nil
}
