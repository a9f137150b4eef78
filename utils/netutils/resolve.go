package netutils

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Resolver looks up the addresses of a host name.  *net.Resolver satisfies
// it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// ResolveHost returns the addresses of name.  IP literals are returned as
// they are without consulting the resolver.
func ResolveHost(ctx context.Context, resolver Resolver, name string) ([]string, error) {
	if ip := net.ParseIP(name); ip != nil {
		return []string{ip.String()}, nil
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}

	addrs, err := resolver.LookupHost(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", name)
	}
	if len(addrs) == 0 {
		return nil, errors.Errorf("no addresses found for %s", name)
	}

	return addrs, nil
}
