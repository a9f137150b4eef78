package cluster

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultPort is used for hosts which carry no explicit port and for which no
// other default is known.
const DefaultPort = 3000

// Host is a network address of a server node.  Two hosts are the same
// address when their Name and Port match; TLSName does not take part.
type Host struct {
	Name    string
	Port    int
	TLSName string
}

type hostKey struct {
	name string
	port int
}

func NewHost(name string, port int) Host {
	return Host{Name: name, Port: port}
}

func (h Host) key() hostKey {
	return hostKey{name: h.Name, port: h.Port}
}

func (h Host) Equals(o Host) bool {
	return h.key() == o.key()
}

// Address returns the dialable `host:port` form.
func (h Host) Address() string {
	return net.JoinHostPort(h.Name, strconv.Itoa(h.Port))
}

func (h Host) String() string {
	if h.TLSName != "" {
		return h.Address() + "(" + h.TLSName + ")"
	}
	return h.Address()
}

// ParseHost parses `name`, `name:port`, `[ipv6]` or `[ipv6]:port`.  A bare
// IPv6 literal without brackets is accepted as a name with no port.
func ParseHost(s string, defaultPort int) (Host, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Host{}, errors.Wrap(ErrInvalidHost, "empty host")
	}

	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return Host{}, errors.Wrapf(ErrInvalidHost, "unterminated ipv6 literal %q", s)
		}

		name := s[1:end]
		rest := s[end+1:]
		if rest == "" {
			return Host{Name: name, Port: defaultPort}, nil
		}
		if !strings.HasPrefix(rest, ":") {
			return Host{}, errors.Wrapf(ErrInvalidHost, "unexpected %q after ipv6 literal", rest)
		}

		port, err := parsePort(rest[1:])
		if err != nil {
			return Host{}, err
		}
		return Host{Name: name, Port: port}, nil
	}

	if strings.Count(s, ":") > 1 {
		// unbracketed ipv6, no port possible
		return Host{Name: s, Port: defaultPort}, nil
	}

	name, portStr, hasPort := strings.Cut(s, ":")
	if !hasPort {
		return Host{Name: name, Port: defaultPort}, nil
	}

	port, err := parsePort(portStr)
	if err != nil {
		return Host{}, err
	}
	return Host{Name: name, Port: port}, nil
}

// ParseHosts parses a comma separated list of hosts.
func ParseHosts(s string, defaultPort int) ([]Host, error) {
	var hosts []Host
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}

		host, err := ParseHost(part, defaultPort)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, errors.Wrapf(ErrInvalidHost, "invalid port %q", s)
	}
	return port, nil
}
