package route

import (
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"github.com/vpnse/vpnse/internal/logging"
	"github.com/vpnse/vpnse/internal/network"
	"github.com/vpnse/vpnse/internal/vpnerr"
)

var (
	origGW   = net.ParseIP("192.0.2.1").To4()
	tunGW    = net.ParseIP("10.0.0.1").To4()
	serverIP = net.ParseIP("203.0.113.7").To4()
)

func defaultRoute(gw net.IP, link, metric int) netlink.Route {
	return netlink.Route{Gw: gw, LinkIndex: link, Priority: metric}
}

func TestTakeSnapshotPicksStrongestDefault(t *testing.T) {
	nl := new(network.MockNetlinker)
	_, homeNet, _ := net.ParseCIDR("192.0.2.0/24")
	nl.On("RouteList", nil, netlink.FAMILY_V4).Return([]netlink.Route{
		{Dst: homeNet, LinkIndex: 2},
		defaultRoute(net.ParseIP("192.0.2.254"), 3, 600),
		defaultRoute(origGW, 2, 100),
	}, nil).Once()

	snap, err := TakeSnapshot(nl)
	require.NoError(t, err)
	assert.True(t, snap.Gateway.Equal(origGW))
	assert.Equal(t, 2, snap.LinkIndex)
	assert.Equal(t, 100, snap.Priority)
	nl.AssertExpectations(t)
}

func TestTakeSnapshotNoDefaultRoute(t *testing.T) {
	nl := new(network.MockNetlinker)
	nl.On("RouteList", nil, netlink.FAMILY_V4).Return([]netlink.Route{}, nil).Once()

	snap, err := TakeSnapshot(nl)
	assert.Nil(t, snap)
	assert.Equal(t, vpnerr.KindTunnelFailed, vpnerr.KindOf(err))
}

func TestBypassRequiresSnapshot(t *testing.T) {
	m := NewManager(network.NewFakeNetlinker(), logging.Discard(), false)

	err := m.InstallServerBypass(serverIP, nil)
	assert.Equal(t, vpnerr.KindTunnelFailed, vpnerr.KindOf(err))

	err = m.InstallTunnelDefault(5, tunGW, nil)
	assert.Equal(t, vpnerr.KindTunnelFailed, vpnerr.KindOf(err))
}

func TestInstallAndRestoreRoundTrip(t *testing.T) {
	fake := network.NewFakeNetlinker()
	original := defaultRoute(origGW, 2, 100)
	require.NoError(t, fake.RouteAdd(&original))
	before := fake.RouteSnapshot()

	for i := 0; i < 3; i++ {
		m := NewManager(fake, logging.Discard(), false)
		snap, err := TakeSnapshot(fake)
		require.NoError(t, err)

		require.NoError(t, m.InstallServerBypass(serverIP, snap))
		require.NoError(t, m.InstallTunnelDefault(5, tunGW, snap))
		require.NoError(t, m.InstallNameServerRoutes([]net.IP{net.ParseIP("1.1.1.1")}, 5, tunGW))
		assert.Equal(t, 3, m.InstalledCount())

		require.NoError(t, m.Restore(snap))
		assert.Equal(t, before, fake.RouteSnapshot())
	}
}

func TestTunnelDefaultDisplacesStrongOriginal(t *testing.T) {
	fake := network.NewFakeNetlinker()
	// Metric 0 beats any added route, so the original must be removed.
	original := defaultRoute(origGW, 2, 0)
	require.NoError(t, fake.RouteAdd(&original))

	m := NewManager(fake, logging.Discard(), false)
	snap, err := TakeSnapshot(fake)
	require.NoError(t, err)

	require.NoError(t, m.InstallTunnelDefault(5, tunGW, snap))

	routes := fake.RouteSnapshot()
	require.Len(t, routes, 1)
	assert.True(t, routes[0].Gw.Equal(tunGW))
	assert.Equal(t, TunnelRouteMetric, routes[0].Priority)

	require.NoError(t, m.Restore(snap))
	routes = fake.RouteSnapshot()
	require.Len(t, routes, 1)
	assert.True(t, routes[0].Gw.Equal(origGW))
	assert.Equal(t, 0, routes[0].Priority)
}

func TestRestoreRemovesInReverseOrder(t *testing.T) {
	nl := new(network.MockNetlinker)
	m := NewManager(nl, logging.Discard(), false)
	snap := &Snapshot{Gateway: origGW, LinkIndex: 2, Priority: 100}

	nl.On("RouteAdd", mock.AnythingOfType("*netlink.Route")).Return(nil).Times(2)
	require.NoError(t, m.InstallServerBypass(serverIP, snap))
	require.NoError(t, m.InstallTunnelDefault(5, tunGW, snap))

	var deleted []netlink.Route
	nl.On("RouteDel", mock.AnythingOfType("*netlink.Route")).Run(func(args mock.Arguments) {
		deleted = append(deleted, *args.Get(0).(*netlink.Route))
	}).Return(nil).Times(2)

	require.NoError(t, m.Restore(snap))
	require.Len(t, deleted, 2)
	// Tunnel default came last, so it goes first.
	assert.Nil(t, deleted[0].Dst)
	assert.NotNil(t, deleted[1].Dst)
	nl.AssertExpectations(t)
}

func TestRestoreToleratesMissingRoutes(t *testing.T) {
	nl := new(network.MockNetlinker)
	m := NewManager(nl, logging.Discard(), false)
	snap := &Snapshot{Gateway: origGW, LinkIndex: 2, Priority: 100}

	nl.On("RouteAdd", mock.AnythingOfType("*netlink.Route")).Return(nil).Once()
	require.NoError(t, m.InstallServerBypass(serverIP, snap))

	nl.On("RouteDel", mock.AnythingOfType("*netlink.Route")).Return(syscall.ESRCH).Once()
	assert.NoError(t, m.Restore(snap))
	nl.AssertExpectations(t)
}

func TestRestoreWithoutSnapshotNeverTouchesDefault(t *testing.T) {
	fake := network.NewFakeNetlinker()
	original := defaultRoute(origGW, 2, 0)
	require.NoError(t, fake.RouteAdd(&original))

	m := NewManager(fake, logging.Discard(), false)
	snap, err := TakeSnapshot(fake)
	require.NoError(t, err)
	require.NoError(t, m.InstallTunnelDefault(5, tunGW, snap))

	// Snapshot lost before teardown: the tunnel route is removed but no
	// default route is invented.
	require.NoError(t, m.Restore(nil))
	routes := fake.RouteSnapshot()
	assert.Empty(t, routes)
}

func TestAppManagedModeIsNoOp(t *testing.T) {
	nl := new(network.MockNetlinker) // no expectations: any call fails the test
	m := NewManager(nl, logging.Discard(), true)
	snap := &Snapshot{Gateway: origGW, LinkIndex: 2, Priority: 100}

	assert.NoError(t, m.InstallServerBypass(serverIP, snap))
	assert.NoError(t, m.InstallTunnelDefault(5, tunGW, snap))
	assert.NoError(t, m.InstallNameServerRoutes([]net.IP{net.ParseIP("1.1.1.1")}, 5, tunGW))
	assert.NoError(t, m.Restore(snap))
	nl.AssertExpectations(t)
}

func TestPermissionDeniedClassification(t *testing.T) {
	nl := new(network.MockNetlinker)
	m := NewManager(nl, logging.Discard(), false)
	snap := &Snapshot{Gateway: origGW, LinkIndex: 2, Priority: 100}

	nl.On("RouteAdd", mock.AnythingOfType("*netlink.Route")).Return(syscall.EPERM).Once()
	err := m.InstallServerBypass(serverIP, snap)
	assert.Equal(t, vpnerr.KindPermissionDenied, vpnerr.KindOf(err))
	nl.AssertExpectations(t)
}
