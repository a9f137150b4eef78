package testutils

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/stellarkv/stellar-client/contrib/infoproto"
)

const fakePartitionCount = 4096

var ErrConnectionRefused = errors.New("connection refused")

// FakeCluster is an in-memory cluster of nodes speaking the info protocol
// over net.Pipe connections.  Nodes are reached through Dial using their
// `addr:port` address.
type FakeCluster struct {
	lock        sync.Mutex
	name        string
	nodes       map[string]*FakeNode
	peersGen    int
	defaultPort string
}

func NewFakeCluster(name string) *FakeCluster {
	return &FakeCluster{
		name:     name,
		nodes:    make(map[string]*FakeNode),
		peersGen: 1,
	}
}

// SetDefaultPort controls the default port field of peers responses.  An
// empty port is allowed.
func (c *FakeCluster) SetDefaultPort(port string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.defaultPort = port
}

// AddNode registers a node and bumps the peers generation of the cluster.
func (c *FakeCluster) AddNode(name string, addr string, port int) *FakeNode {
	c.lock.Lock()
	defer c.lock.Unlock()

	node := &FakeNode{
		cluster:      c,
		name:         name,
		clusterName:  c.name,
		addr:         addr,
		port:         port,
		features:     []string{"peers", "replicas"},
		partitionGen: 1,
		rebalanceGen: 1,
		partitions:   make(map[string][]int),
		overrides:    make(map[string]string),
		requests:     make(map[string]int),
	}
	c.nodes[node.Address()] = node
	c.peersGen++
	return node
}

// RemoveNode takes a node out of the cluster and drops its connections.
func (c *FakeCluster) RemoveNode(node *FakeNode) {
	c.lock.Lock()
	delete(c.nodes, node.Address())
	c.peersGen++
	c.lock.Unlock()

	node.SetDown(true)
}

func (c *FakeCluster) Node(name string) *FakeNode {
	c.lock.Lock()
	defer c.lock.Unlock()

	for _, node := range c.nodes {
		if node.Name() == name {
			return node
		}
	}
	return nil
}

// BumpPeersGeneration forces every node to report a new peers generation.
func (c *FakeCluster) BumpPeersGeneration() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.peersGen++
}

// Dial connects to the node listening on address.
func (c *FakeCluster) Dial(ctx context.Context, address string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.lock.Lock()
	node := c.nodes[address]
	c.lock.Unlock()

	if node == nil {
		return nil, errors.Wrapf(ErrConnectionRefused, "dial %s", address)
	}
	return node.accept()
}

// sortedNodes returns the nodes ordered by name.
func (c *FakeCluster) sortedNodes() []*FakeNode {
	c.lock.Lock()
	defer c.lock.Unlock()

	nodes := make([]*FakeNode, 0, len(c.nodes))
	for _, node := range c.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Address() < nodes[j].Address()
	})
	return nodes
}

type fakePeer struct {
	name string
	addr string
	port int
}

func (c *FakeCluster) peersOf(node *FakeNode) []fakePeer {
	var peers []fakePeer
	for _, other := range c.sortedNodes() {
		if other == node {
			continue
		}
		peers = append(peers, fakePeer{
			name: other.Name(),
			addr: other.addr,
			port: other.port,
		})
	}
	return peers
}

func (c *FakeCluster) peersGeneration() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.peersGen
}

func (c *FakeCluster) defaultPeersPort() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.defaultPort
}

// FakeNode is one member of a FakeCluster.
type FakeNode struct {
	cluster *FakeCluster
	addr    string
	port    int

	lock         sync.Mutex
	name         string
	clusterName  string
	features     []string
	partitionGen int
	rebalanceGen int
	partitions   map[string][]int
	racks        string
	hidePeers    map[string]bool
	overrides    map[string]string
	down         bool
	conns        []net.Conn
	requests     map[string]int
}

func (n *FakeNode) Name() string {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.name
}

func (n *FakeNode) Addr() string {
	return n.addr
}

func (n *FakeNode) Port() int {
	return n.port
}

func (n *FakeNode) Address() string {
	return net.JoinHostPort(n.addr, strconv.Itoa(n.port))
}

// SetDown makes the node refuse new connections and drops existing ones.
func (n *FakeNode) SetDown(down bool) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.down = down
	if down {
		for _, conn := range n.conns {
			_ = conn.Close()
		}
		n.conns = nil
	}
}

// SetName changes the identity the node reports, as a restarted server
// with a new node id would.
func (n *FakeNode) SetName(name string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.name = name
}

func (n *FakeNode) SetClusterName(name string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.clusterName = name
}

// SetLegacy removes the peers feature so the node is tended through the
// services list.
func (n *FakeNode) SetLegacy() {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.features = []string{"replicas"}
}

// SetPartitions replaces the partitions the node owns in namespace and
// bumps its partition generation.
func (n *FakeNode) SetPartitions(namespace string, partitionIDs ...int) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.partitions[namespace] = append([]int(nil), partitionIDs...)
	n.partitionGen++
}

// SetRacks sets the raw racks response and bumps the rebalance generation.
func (n *FakeNode) SetRacks(racks string) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.racks = racks
	n.rebalanceGen++
}

// HidePeer stops the node from listing the named peer.
func (n *FakeNode) HidePeer(name string) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.hidePeers == nil {
		n.hidePeers = make(map[string]bool)
	}
	n.hidePeers[name] = true
}

// SetInfo overrides the value returned for an info command.
func (n *FakeNode) SetInfo(command string, value string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.overrides[command] = value
}

// RequestCount returns how often command was requested.
func (n *FakeNode) RequestCount(command string) int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.requests[command]
}

// OpenConnections returns the number of connections not yet closed by the
// server side.
func (n *FakeNode) OpenConnections() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return len(n.conns)
}

func (n *FakeNode) accept() (net.Conn, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.down {
		return nil, errors.Wrapf(ErrConnectionRefused, "dial %s", n.Address())
	}

	clientConn, serverConn := net.Pipe()
	n.conns = append(n.conns, serverConn)

	go n.serve(serverConn)
	return clientConn, nil
}

func (n *FakeNode) dropConn(conn net.Conn) {
	n.lock.Lock()
	defer n.lock.Unlock()

	for i, c := range n.conns {
		if c == conn {
			n.conns = append(n.conns[:i], n.conns[i+1:]...)
			return
		}
	}
}

func (n *FakeNode) serve(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		n.dropConn(conn)
	}()

	hdr := make([]byte, infoproto.HeaderSize)
	for {
		_, err := io.ReadFull(conn, hdr)
		if err != nil {
			return
		}

		_, _, bodyLen, err := infoproto.DecodeHeader(hdr)
		if err != nil {
			return
		}

		body := make([]byte, bodyLen)
		_, err = io.ReadFull(conn, body)
		if err != nil {
			return
		}

		resp, ok := n.respond(infoproto.ParseRequestBody(body))
		if !ok {
			return
		}

		_, err = conn.Write(infoproto.EncodeResponse(resp))
		if err != nil {
			return
		}
	}
}

func (n *FakeNode) respond(commands []string) (map[string]string, bool) {
	peersGen := n.cluster.peersGeneration()
	defaultPort := n.cluster.defaultPeersPort()
	others := n.cluster.peersOf(n)

	n.lock.Lock()
	defer n.lock.Unlock()

	if n.down {
		return nil, false
	}

	resp := make(map[string]string, len(commands))
	for _, cmd := range commands {
		n.requests[cmd]++

		if value, ok := n.overrides[cmd]; ok {
			resp[cmd] = value
			continue
		}

		switch cmd {
		case "node":
			resp[cmd] = n.name
		case "cluster-name":
			resp[cmd] = n.clusterName
		case "features":
			resp[cmd] = strings.Join(n.features, ";")
		case "partition-generation":
			resp[cmd] = strconv.Itoa(n.partitionGen)
		case "peers-generation":
			resp[cmd] = strconv.Itoa(peersGen)
		case "rebalance-generation":
			resp[cmd] = strconv.Itoa(n.rebalanceGen)
		case "replicas-master":
			resp[cmd] = n.replicasMaster()
		case "racks:":
			resp[cmd] = n.racks
		case "peers-clear-std", "peers-tls-std":
			resp[cmd] = n.peersList(others, peersGen, defaultPort)
		case "services":
			resp[cmd] = n.servicesList(others)
		default:
			resp[cmd] = ""
		}
	}

	return resp, true
}

func (n *FakeNode) peersList(others []fakePeer, gen int, defaultPort string) string {
	var entries []string
	for _, peer := range others {
		if n.hidePeers[peer.name] {
			continue
		}
		entries = append(entries, fmt.Sprintf("[%s,,[%s]]", peer.name, formatPeerHost(peer.addr, peer.port)))
	}
	return fmt.Sprintf("%d,%s,[%s]", gen, defaultPort, strings.Join(entries, ","))
}

func (n *FakeNode) servicesList(others []fakePeer) string {
	var entries []string
	for _, peer := range others {
		if n.hidePeers[peer.name] {
			continue
		}
		entries = append(entries, net.JoinHostPort(peer.addr, strconv.Itoa(peer.port)))
	}
	return strings.Join(entries, ";")
}

func (n *FakeNode) replicasMaster() string {
	namespaces := make([]string, 0, len(n.partitions))
	for ns := range n.partitions {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	var entries []string
	for _, ns := range namespaces {
		entries = append(entries, ns+":"+EncodePartitionBitmap(n.partitions[ns]))
	}
	return strings.Join(entries, ";")
}

func formatPeerHost(addr string, port int) string {
	if strings.Contains(addr, ":") {
		addr = "[" + addr + "]"
	}
	return addr + ":" + strconv.Itoa(port)
}

// EncodePartitionBitmap builds the base64 ownership bitmap of a
// replicas-master entry.
func EncodePartitionBitmap(partitionIDs []int) string {
	bitmap := make([]byte, fakePartitionCount/8)
	for _, id := range partitionIDs {
		bitmap[id>>3] |= 0x80 >> (id & 7)
	}
	return base64.StdEncoding.EncodeToString(bitmap)
}

// AllPartitions returns the ids of every partition.
func AllPartitions() []int {
	ids := make([]int, fakePartitionCount)
	for i := range ids {
		ids[i] = i
	}
	return ids
}
