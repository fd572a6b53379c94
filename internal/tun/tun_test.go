package tun

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"github.com/vpnse/vpnse/internal/logging"
	"github.com/vpnse/vpnse/internal/network"
	"github.com/vpnse/vpnse/internal/vpnerr"
)

type fakeDevice struct {
	name   string
	closed int
}

func (d *fakeDevice) Name() string { return d.name }
func (d *fakeDevice) Close() error {
	d.closed++
	return nil
}

type fakeOpener struct {
	err     error
	created []*fakeDevice
}

func (o *fakeOpener) Open(name string) (Device, error) {
	if o.err != nil {
		return nil, o.err
	}
	d := &fakeDevice{name: name}
	o.created = append(o.created, d)
	return d, nil
}

func TestCreateGeneratesDistinctNames(t *testing.T) {
	opener := &fakeOpener{}
	m := NewManager(network.NewFakeNetlinker(), logging.Discard(), opener, CapabilityNative, "vpnse")

	first, err := m.Create()
	require.NoError(t, err)
	second, err := m.Create()
	require.NoError(t, err)

	assert.NotEqual(t, first.Name, second.Name)
	assert.Contains(t, first.Name, "vpnse")
	assert.False(t, first.AppManaged)
	require.NotNil(t, first.Device)
}

func TestCreateAppManagedOutcome(t *testing.T) {
	opener := &fakeOpener{err: errors.New("must not be called")}
	m := NewManager(network.NewFakeNetlinker(), logging.Discard(), opener, CapabilityAppManaged, "vpnse")

	res, err := m.Create()
	require.NoError(t, err)
	assert.True(t, res.AppManaged)
	assert.Nil(t, res.Device)
	assert.Empty(t, opener.created)
}

func TestCreatePermissionDenied(t *testing.T) {
	opener := &fakeOpener{err: fmt.Errorf("open /dev/net/tun: %w", syscall.EPERM)}
	m := NewManager(network.NewFakeNetlinker(), logging.Discard(), opener, CapabilityNative, "vpnse")

	res, err := m.Create()
	assert.Nil(t, res)
	assert.Equal(t, vpnerr.KindPermissionDenied, vpnerr.KindOf(err))
}

func TestCreateDeviceRejected(t *testing.T) {
	opener := &fakeOpener{err: errors.New("ioctl TUNSETIFF: invalid argument")}
	m := NewManager(network.NewFakeNetlinker(), logging.Discard(), opener, CapabilityNative, "vpnse")

	_, err := m.Create()
	assert.Equal(t, vpnerr.KindTunnelFailed, vpnerr.KindOf(err))
}

func TestConfigureBringsLinkUp(t *testing.T) {
	nl := new(network.MockNetlinker)
	m := NewManager(nl, logging.Discard(), &fakeOpener{}, CapabilityNative, "vpnse")
	dev := &fakeDevice{name: "vpnse0"}

	link := &netlink.Tuntap{LinkAttrs: netlink.LinkAttrs{Name: "vpnse0", Index: 5}}
	addr, _ := netlink.ParseAddr("10.0.0.2/24")

	nl.On("LinkByName", "vpnse0").Return(link, nil).Once()
	nl.On("ParseAddr", "10.0.0.2/24").Return(addr, nil).Once()
	nl.On("AddrAdd", link, addr).Return(nil).Once()
	nl.On("LinkSetMTU", link, 1400).Return(nil).Once()
	nl.On("LinkSetUp", link).Return(nil).Once()

	assert.NoError(t, m.Configure(dev, "10.0.0.2", 24, 1400))
	nl.AssertExpectations(t)
}

func TestConfigureRollsBackOnPartialFailure(t *testing.T) {
	nl := new(network.MockNetlinker)
	m := NewManager(nl, logging.Discard(), &fakeOpener{}, CapabilityNative, "vpnse")
	dev := &fakeDevice{name: "vpnse0"}

	link := &netlink.Tuntap{LinkAttrs: netlink.LinkAttrs{Name: "vpnse0", Index: 5}}
	addr, _ := netlink.ParseAddr("10.0.0.2/24")

	nl.On("LinkByName", "vpnse0").Return(link, nil).Once()
	nl.On("ParseAddr", "10.0.0.2/24").Return(addr, nil).Once()
	nl.On("AddrAdd", link, addr).Return(nil).Once()
	nl.On("LinkSetMTU", link, 1400).Return(nil).Once()
	nl.On("LinkSetUp", link).Return(errors.New("netlink answers: device busy")).Once()
	// The device must end down and unaddressed.
	nl.On("AddrDel", link, addr).Return(nil).Once()
	nl.On("LinkSetDown", link).Return(nil).Once()

	err := m.Configure(dev, "10.0.0.2", 24, 1400)
	assert.Equal(t, vpnerr.KindTunnelFailed, vpnerr.KindOf(err))
	nl.AssertExpectations(t)
}

func TestConfigureToleratesMTUFailure(t *testing.T) {
	nl := new(network.MockNetlinker)
	m := NewManager(nl, logging.Discard(), &fakeOpener{}, CapabilityNative, "vpnse")
	dev := &fakeDevice{name: "vpnse0"}

	link := &netlink.Tuntap{LinkAttrs: netlink.LinkAttrs{Name: "vpnse0", Index: 5}}
	addr, _ := netlink.ParseAddr("10.0.0.2/24")

	nl.On("LinkByName", "vpnse0").Return(link, nil).Once()
	nl.On("ParseAddr", "10.0.0.2/24").Return(addr, nil).Once()
	nl.On("AddrAdd", link, addr).Return(nil).Once()
	nl.On("LinkSetMTU", link, 1400).Return(errors.New("not supported")).Once()
	nl.On("LinkSetUp", link).Return(nil).Once()

	assert.NoError(t, m.Configure(dev, "10.0.0.2", 24, 1400))
	nl.AssertExpectations(t)
}

func TestReleaseIsNilSafe(t *testing.T) {
	m := NewManager(network.NewFakeNetlinker(), logging.Discard(), &fakeOpener{}, CapabilityNative, "vpnse")

	assert.NoError(t, m.Release(nil))

	dev := &fakeDevice{name: "vpnse0"}
	assert.NoError(t, m.Release(dev))
	assert.Equal(t, 1, dev.closed)
}
