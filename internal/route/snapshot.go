// Package route installs and reverses the routing-table changes that make a
// tunnel device carry default traffic. All mutation goes through the
// network.Netlinker abstraction and is recorded so teardown removes exactly
// what setup added, in reverse order.
package route

import (
	"net"

	"github.com/vishvananda/netlink"

	"github.com/vpnse/vpnse/internal/network"
	"github.com/vpnse/vpnse/internal/vpnerr"
)

// Snapshot is the host's default route captured before any mutation.
// It is owned by the session and passed by reference; the manager never
// copies it into a second mutable value.
type Snapshot struct {
	Gateway   net.IP
	LinkIndex int
	Priority  int
}

// TakeSnapshot reads the current IPv4 default route's next hop via a
// structured route-table query.
func TakeSnapshot(nl network.Netlinker) (*Snapshot, error) {
	routes, err := nl.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, vpnerr.Wrap(vpnerr.KindTunnelFailed, err, "query route table")
	}

	var best *netlink.Route
	for i := range routes {
		r := &routes[i]
		if !network.IsDefaultRoute(r) || r.Gw == nil {
			continue
		}
		if best == nil || r.Priority < best.Priority {
			best = r
		}
	}
	if best == nil {
		return nil, vpnerr.New(vpnerr.KindTunnelFailed, "no default route with a gateway found")
	}

	return &Snapshot{
		Gateway:   best.Gw,
		LinkIndex: best.LinkIndex,
		Priority:  best.Priority,
	}, nil
}
