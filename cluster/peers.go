package cluster

// peers accumulates everything discovered during a single tend cycle.  It
// is owned by the tend goroutine and discarded at the end of the cycle.
type peers struct {
	// nodes are validated nodes not yet part of the published node list.
	nodes map[string]*Node
	// aliases are hosts learned this cycle for already known nodes.
	aliases map[hostKey]*Node
	// badHosts failed validation this cycle and are not retried.
	badHosts map[hostKey]struct{}

	refreshCount   int
	usePeers       bool
	genChanged     bool
	aliasesChanged bool
}

func newPeers() *peers {
	return &peers{
		nodes:    make(map[string]*Node),
		aliases:  make(map[hostKey]*Node),
		badHosts: make(map[hostKey]struct{}),
		usePeers: true,
	}
}

func (p *peers) hasFailed(host Host) bool {
	_, ok := p.badHosts[host.key()]
	return ok
}

func (p *peers) fail(host Host) {
	p.badHosts[host.key()] = struct{}{}
}

func (p *peers) addNode(node *Node) {
	p.nodes[node.Name()] = node
	for _, alias := range node.Aliases() {
		p.aliases[alias.key()] = node
	}
}

func (p *peers) addAlias(node *Node, host Host) {
	if node.addAlias(host) {
		p.aliasesChanged = true
	}
	p.aliases[host.key()] = node
}

func (p *peers) nodeList() []*Node {
	nodes := make([]*Node, 0, len(p.nodes))
	for _, node := range p.nodes {
		nodes = append(nodes, node)
	}
	return nodes
}

// peersCommand selects the peers listing matching the transport in use.
func peersCommand(tls bool) string {
	if tls {
		return infoPeersTLSStd
	}
	return infoPeersClearStd
}

func fetchPeers(conn *Connection) (*peersResponse, error) {
	cmd := peersCommand(conn.IsTLS())

	resp, err := conn.RequestInfo(cmd)
	if err != nil {
		return nil, err
	}

	return parsePeers(resp[cmd], DefaultPort)
}
