package cluster

import (
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// Peer is a cluster member as reported by another member, before it has
// been validated.
type Peer struct {
	NodeName string
	TLSName  string
	Hosts    []Host
}

type peersResponse struct {
	Generation int64
	// DefaultPort is nil when the server left the field empty.
	DefaultPort *int
	Peers       []*Peer
}

var peersPrefixRegexp = regexp.MustCompile(`^(\d+),(\d*),(.*)$`)

// parsePeers parses `<gen>,<port>,[[name,tls,[host,...]],...]`.  Hosts with
// no explicit port take the response's default port, or fallbackPort when
// the response has none.
func parsePeers(s string, fallbackPort int) (*peersResponse, error) {
	m := peersPrefixRegexp.FindStringSubmatch(s)
	if m == nil {
		return nil, errors.Wrapf(ErrPeersParse, "invalid prefix in %q", s)
	}

	gen, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil, errors.Wrapf(ErrPeersParse, "invalid generation %q", m[1])
	}

	resp := &peersResponse{
		Generation: gen,
	}

	hostPort := fallbackPort
	if m[2] != "" {
		port, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, errors.Wrapf(ErrPeersParse, "invalid default port %q", m[2])
		}
		resp.DefaultPort = &port
		hostPort = port
	}

	p := &peersParser{s: m[3], defaultPort: hostPort}
	resp.Peers, err = p.parse()
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// peersParser is a single pass cursor over the bracketed peers list.
type peersParser struct {
	s           string
	pos         int
	defaultPort int
}

func (p *peersParser) errorf(format string, args ...any) error {
	return errors.Wrapf(ErrPeersParse, "at offset %d: "+format, append([]any{p.pos}, args...)...)
}

func (p *peersParser) eof() bool {
	return p.pos >= len(p.s)
}

func (p *peersParser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.s[p.pos]
}

func (p *peersParser) expect(c byte) error {
	if p.eof() {
		return p.errorf("expected %q, found end of input", c)
	}
	if p.s[p.pos] != c {
		return p.errorf("expected %q, found %q", c, p.s[p.pos])
	}
	p.pos++
	return nil
}

// readUntil consumes up to (not including) the first of the stop bytes.
func (p *peersParser) readUntil(stops string) (string, error) {
	start := p.pos
	for !p.eof() {
		for i := 0; i < len(stops); i++ {
			if p.s[p.pos] == stops[i] {
				return p.s[start:p.pos], nil
			}
		}
		p.pos++
	}
	return "", p.errorf("unterminated field starting at %d", start)
}

func (p *peersParser) parse() ([]*Peer, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}

	var peers []*Peer
	if p.peek() == ']' {
		p.pos++
		return peers, p.expectEnd()
	}

	for {
		peer, err := p.parsePeer()
		if err != nil {
			return nil, err
		}
		peers = append(peers, peer)

		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return peers, p.expectEnd()
		default:
			return nil, p.errorf("expected ',' or ']' after peer")
		}
	}
}

func (p *peersParser) expectEnd() error {
	if !p.eof() {
		return p.errorf("unexpected trailing data %q", p.s[p.pos:])
	}
	return nil
}

func (p *peersParser) parsePeer() (*Peer, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}

	nodeName, err := p.readUntil(",")
	if err != nil {
		return nil, err
	}
	p.pos++

	tlsName, err := p.readUntil(",")
	if err != nil {
		return nil, err
	}
	p.pos++

	hosts, err := p.parseHosts(tlsName)
	if err != nil {
		return nil, err
	}

	if err := p.expect(']'); err != nil {
		return nil, err
	}

	return &Peer{
		NodeName: nodeName,
		TLSName:  tlsName,
		Hosts:    hosts,
	}, nil
}

func (p *peersParser) parseHosts(tlsName string) ([]Host, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}

	var hosts []Host
	if p.peek() == ']' {
		p.pos++
		return hosts, nil
	}

	for {
		host, err := p.parseHost()
		if err != nil {
			return nil, err
		}
		host.TLSName = tlsName
		hosts = append(hosts, host)

		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return hosts, nil
		default:
			return nil, p.errorf("expected ',' or ']' after host")
		}
	}
}

func (p *peersParser) parseHost() (Host, error) {
	var name string

	if p.peek() == '[' {
		p.pos++
		addr, err := p.readUntil("]")
		if err != nil {
			return Host{}, err
		}
		p.pos++
		name = addr
	} else {
		addr, err := p.readUntil(":,]")
		if err != nil {
			return Host{}, err
		}
		name = addr
	}

	if name == "" {
		return Host{}, p.errorf("empty host address")
	}

	port := p.defaultPort
	if p.peek() == ':' {
		p.pos++
		portStr, err := p.readUntil(",]")
		if err != nil {
			return Host{}, err
		}

		port, err = strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return Host{}, p.errorf("invalid port %q", portStr)
		}
	}

	return Host{Name: name, Port: port}, nil
}
