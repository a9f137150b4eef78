package cluster

import (
	"github.com/pkg/errors"
)

var (
	// ErrMaxConnectionsExceeded is returned when a node's pool is at capacity.
	// Callers are expected to retry, possibly against another node.
	ErrMaxConnectionsExceeded = errors.New("max connections exceeded")
	ErrPoolClosed             = errors.New("connection pool is closed")
	ErrConnectionClosed       = errors.New("connection is closed")

	ErrNodeNameMismatch    = errors.New("node name has changed")
	ErrClusterNameMismatch = errors.New("cluster name does not match")
	ErrInvalidNodeName     = errors.New("node returned an empty name")

	ErrPeersParse     = errors.New("failed to parse peers response")
	ErrPartitionParse = errors.New("failed to parse partition map")
	ErrRacksParse     = errors.New("failed to parse racks response")
	ErrInvalidHost    = errors.New("invalid host")

	ErrConnectFailed      = errors.New("failed to connect to any seed host")
	ErrClusterClosed      = errors.New("cluster is closed")
	ErrNoNodes            = errors.New("cluster has no nodes")
	ErrInvalidNode        = errors.New("no active node owns the partition")
	ErrInvalidNamespace   = errors.New("namespace not found in partition map")
	ErrInvalidPartition   = errors.New("partition id out of range")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrTaskFailed  = errors.New("task failed")
	ErrTaskTimeout = errors.New("task did not complete in time")
)

// IsNodeFatal reports whether err permanently invalidated a node.
func IsNodeFatal(err error) bool {
	return errors.Is(err, ErrNodeNameMismatch) ||
		errors.Is(err, ErrClusterNameMismatch)
}

// IsTransient reports whether err only affects the current tend cycle or
// operation and may succeed on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsNodeFatal(err) || errors.Is(err, ErrConnectFailed) || errors.Is(err, ErrClusterClosed) {
		return false
	}
	return true
}
