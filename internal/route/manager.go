package route

import (
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/vpnse/vpnse/internal/logging"
	"github.com/vpnse/vpnse/internal/network"
	"github.com/vpnse/vpnse/internal/vpnerr"
)

// TunnelRouteMetric is the metric used for the default route through the
// tunnel. When the original default route has a lower (stronger) metric the
// manager removes it instead, recording it for exact restoration.
const TunnelRouteMetric = 50

// Manager installs and removes the routes that divert traffic through the
// tunnel device while keeping the path to the VPN server itself outside it.
type Manager struct {
	nl         network.Netlinker
	log        *logging.Logger
	appManaged bool

	mu              sync.Mutex
	installed       []netlink.Route // in install order
	removedOriginal *netlink.Route  // original default, when displaced
}

// NewManager creates a route manager. In app-managed mode every mutating
// call succeeds without touching the host, since no local device exists to
// route through.
func NewManager(nl network.Netlinker, logger *logging.Logger, appManaged bool) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		nl:         nl,
		log:        logger.WithComponent("route"),
		appManaged: appManaged,
	}
}

// InstallServerBypass adds a host route sending traffic for the VPN server
// via the pre-tunnel gateway, so the tunnel's own carrier traffic is not
// swallowed by the default-route change that follows.
func (m *Manager) InstallServerBypass(server net.IP, snap *Snapshot) error {
	if m.appManaged {
		return nil
	}
	if snap == nil {
		return vpnerr.New(vpnerr.KindTunnelFailed, "no gateway snapshot captured")
	}

	r := netlink.Route{
		Dst:       network.HostNetmask(server),
		Gw:        snap.Gateway,
		LinkIndex: snap.LinkIndex,
	}
	if err := m.add(r); err != nil {
		return classify(err, "install server bypass route")
	}
	m.log.Debug("server bypass installed", "server", server.String(), "via", snap.Gateway.String())
	return nil
}

// InstallTunnelDefault makes the tunnel device carry default traffic. The
// original default route stays in the table when the tunnel metric wins on
// priority; otherwise it is removed and recorded for exact restoration.
func (m *Manager) InstallTunnelDefault(linkIndex int, gateway net.IP, snap *Snapshot) error {
	if m.appManaged {
		return nil
	}
	if snap == nil {
		return vpnerr.New(vpnerr.KindTunnelFailed, "no gateway snapshot captured")
	}

	if snap.Priority <= TunnelRouteMetric {
		original := netlink.Route{
			Gw:        snap.Gateway,
			LinkIndex: snap.LinkIndex,
			Priority:  snap.Priority,
		}
		if err := m.nl.RouteDel(&original); err != nil && !isNotFound(err) {
			return classify(err, "displace original default route")
		}
		m.mu.Lock()
		m.removedOriginal = &original
		m.mu.Unlock()
		m.log.Debug("original default route displaced", "via", snap.Gateway.String(), "metric", snap.Priority)
	}

	r := netlink.Route{
		Gw:        gateway,
		LinkIndex: linkIndex,
		Priority:  TunnelRouteMetric,
	}
	if err := m.add(r); err != nil {
		return classify(err, "install tunnel default route")
	}
	m.log.Info("default traffic diverted to tunnel", "gateway", gateway.String(), "metric", TunnelRouteMetric)
	return nil
}

// InstallNameServerRoutes adds explicit host routes for the configured DNS
// resolvers through the tunnel, so name resolution is not silently bypassed
// by route priority ties.
func (m *Manager) InstallNameServerRoutes(nameServers []net.IP, linkIndex int, gateway net.IP) error {
	if m.appManaged {
		return nil
	}
	for _, ns := range nameServers {
		r := netlink.Route{
			Dst:       network.HostNetmask(ns),
			Gw:        gateway,
			LinkIndex: linkIndex,
		}
		if err := m.add(r); err != nil {
			return classify(err, "install name server route")
		}
		m.log.Debug("name server routed through tunnel", "resolver", ns.String())
	}
	return nil
}

// Restore removes all routes this manager installed, in reverse install
// order, and puts back a displaced original default route. Already-removed
// routes are success, not error, which makes teardown safe after partial
// setup failures. A nil snapshot only skips restoring the original route;
// recorded routes are still removed exactly.
func (m *Manager) Restore(snap *Snapshot) error {
	if m.appManaged {
		return nil
	}

	m.mu.Lock()
	installed := m.installed
	removed := m.removedOriginal
	m.installed = nil
	m.removedOriginal = nil
	m.mu.Unlock()

	var firstErr error
	for i := len(installed) - 1; i >= 0; i-- {
		r := installed[i]
		if err := m.nl.RouteDel(&r); err != nil && !isNotFound(err) {
			m.log.Warn("failed to remove route", "route", r.String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if removed != nil {
		if snap == nil {
			// Without the snapshot there is no authority on what the
			// original default looked like; never guess at default routes.
			m.log.Warn("gateway snapshot missing, leaving default route untouched")
		} else if err := m.nl.RouteAdd(removed); err != nil && !isExists(err) {
			m.log.Warn("failed to restore original default route", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return classify(firstErr, "restore route table")
	}
	m.log.Info("route table restored", "removed", len(installed))
	return nil
}

// InstalledCount reports how many routes are currently recorded.
func (m *Manager) InstalledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.installed)
}

func (m *Manager) add(r netlink.Route) error {
	if err := m.nl.RouteAdd(&r); err != nil {
		if isExists(err) {
			// Treat as installed so teardown removes it; a stale entry
			// from a prior crashed session is ours to clean.
			m.mu.Lock()
			m.installed = append(m.installed, r)
			m.mu.Unlock()
			return nil
		}
		return err
	}
	m.mu.Lock()
	m.installed = append(m.installed, r)
	m.mu.Unlock()
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, unix.ESRCH) || strings.Contains(err.Error(), "no such process")
}

func isExists(err error) bool {
	return errors.Is(err, unix.EEXIST) || strings.Contains(err.Error(), "file exists")
}

func classify(err error, msg string) error {
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return vpnerr.Wrap(vpnerr.KindPermissionDenied, err, msg)
	}
	return vpnerr.Wrap(vpnerr.KindTunnelFailed, err, msg)
}
