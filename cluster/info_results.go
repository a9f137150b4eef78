package cluster

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	infoNode                = "node"
	infoClusterName         = "cluster-name"
	infoFeatures            = "features"
	infoPartitionGeneration = "partition-generation"
	infoPeersGeneration     = "peers-generation"
	infoRebalanceGeneration = "rebalance-generation"
	infoServices            = "services"
	infoReplicasMaster      = "replicas-master"
	infoRacks               = "racks:"
	infoPeersClearStd       = "peers-clear-std"
	infoPeersTLSStd         = "peers-tls-std"

	featurePeers = "peers"
)

var (
	cmdsPeers    = []string{infoNode, infoPartitionGeneration, infoClusterName, infoPeersGeneration}
	cmdsServices = []string{infoNode, infoPartitionGeneration, infoClusterName, infoServices}
)

// nodeInfo is the typed result of the per-cycle node info request.
type nodeInfo struct {
	Name                string
	ClusterName         string
	PartitionGeneration int64
	PeersGeneration     int64
	RebalanceGeneration int64
	Services            []Host
}

func refreshCommands(usePeers bool, rackAware bool) []string {
	base := cmdsServices
	if usePeers {
		base = cmdsPeers
	}

	cmds := make([]string, 0, len(base)+1)
	cmds = append(cmds, base...)
	if rackAware {
		cmds = append(cmds, infoRebalanceGeneration)
	}
	return cmds
}

func parseGeneration(resp map[string]string, name string) (int64, error) {
	value, ok := resp[name]
	if !ok {
		return 0, errors.Errorf("info response is missing %s", name)
	}

	gen, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s value %q", name, value)
	}
	return gen, nil
}

func parseNodeInfo(resp map[string]string, usePeers bool, rackAware bool, defaultPort int) (*nodeInfo, error) {
	info := &nodeInfo{
		Name:        resp[infoNode],
		ClusterName: resp[infoClusterName],
	}

	var err error
	info.PartitionGeneration, err = parseGeneration(resp, infoPartitionGeneration)
	if err != nil {
		return nil, err
	}

	if usePeers {
		info.PeersGeneration, err = parseGeneration(resp, infoPeersGeneration)
		if err != nil {
			return nil, err
		}
	} else {
		info.Services, err = parseServices(resp[infoServices], defaultPort)
		if err != nil {
			return nil, err
		}
	}

	if rackAware {
		info.RebalanceGeneration, err = parseGeneration(resp, infoRebalanceGeneration)
		if err != nil {
			return nil, err
		}
	}

	return info, nil
}

// parseServices parses the legacy `host:port;host:port` friends list.
func parseServices(value string, defaultPort int) ([]Host, error) {
	var hosts []Host
	for _, part := range strings.Split(value, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}

		host, err := ParseHost(part, defaultPort)
		if err != nil {
			return nil, errors.Wrap(err, "invalid services entry")
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}

// validatorInfo is the typed result of the identity handshake.
type validatorInfo struct {
	Name        string
	ClusterName string
	Features    []string
}

func validatorCommands(withClusterName bool) []string {
	if withClusterName {
		return []string{infoNode, infoFeatures, infoClusterName}
	}
	return []string{infoNode, infoFeatures}
}

func parseValidatorInfo(resp map[string]string) *validatorInfo {
	info := &validatorInfo{
		Name:        strings.TrimSpace(resp[infoNode]),
		ClusterName: resp[infoClusterName],
	}
	for _, feature := range strings.Split(resp[infoFeatures], ";") {
		if feature != "" {
			info.Features = append(info.Features, feature)
		}
	}
	return info
}

func (i *validatorInfo) HasFeature(feature string) bool {
	for _, f := range i.Features {
		if f == feature {
			return true
		}
	}
	return false
}
