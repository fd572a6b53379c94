// Package tun obtains and configures the kernel point-to-point tunnel
// device. On platforms without raw tunnel access it reports an explicit
// app-managed outcome instead of a device, and the route layer skips all
// mutation in that mode.
package tun

import (
	"errors"
	"fmt"
	"io/fs"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/vpnse/vpnse/internal/logging"
	"github.com/vpnse/vpnse/internal/network"
	"github.com/vpnse/vpnse/internal/vpnerr"
)

// Capability describes what tunnel provisioning the platform supports.
// It is selected once at startup, never branched ad hoc in the logic.
type Capability int

const (
	// CapabilityNative means the host exposes a raw tunnel device node.
	CapabilityNative Capability = iota
	// CapabilityAppManaged means tunnel provisioning is delegated to a
	// host-provided VPN service; no local device or route mutation.
	CapabilityAppManaged
)

func (c Capability) String() string {
	if c == CapabilityAppManaged {
		return "app-managed"
	}
	return "native"
}

// Device is an owned tunnel device handle.
type Device interface {
	Name() string
	Close() error
}

// Opener creates the platform device. Tests substitute a fake.
type Opener interface {
	Open(name string) (Device, error)
}

// CreateResult reports the outcome of Create. Exactly one of Device or
// AppManaged is meaningful: an app-managed outcome carries no handle and
// is not an error.
type CreateResult struct {
	Device     Device
	Name       string
	AppManaged bool
}

// instanceSeq discriminates device names across sessions in one process,
// so a new session never collides with a prior one's leftover device.
var instanceSeq atomic.Uint32

// Manager creates, configures and releases tunnel devices.
type Manager struct {
	nl         network.Netlinker
	log        *logging.Logger
	opener     Opener
	capability Capability
	prefix     string
}

// NewManager creates a device manager for the given capability.
func NewManager(nl network.Netlinker, logger *logging.Logger, opener Opener, capability Capability, namePrefix string) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	if opener == nil {
		opener = defaultOpener()
	}
	return &Manager{
		nl:         nl,
		log:        logger.WithComponent("tun"),
		opener:     opener,
		capability: capability,
		prefix:     namePrefix,
	}
}

// Capability returns the capability the manager was built with.
func (m *Manager) Capability() Capability { return m.capability }

// Create requests a new tunnel device from the operating system under a
// generated name. In app-managed mode it returns the distinguished
// app-managed outcome instead.
func (m *Manager) Create() (*CreateResult, error) {
	if m.capability == CapabilityAppManaged {
		m.log.Info("app-managed mode, delegating tunnel provisioning to the host")
		return &CreateResult{AppManaged: true}, nil
	}

	name := fmt.Sprintf("%s%d", m.prefix, instanceSeq.Add(1)-1)
	dev, err := m.opener.Open(name)
	if err != nil {
		if isPermission(err) {
			return nil, vpnerr.Wrap(vpnerr.KindPermissionDenied, err, "open tunnel device")
		}
		return nil, vpnerr.Wrap(vpnerr.KindTunnelFailed, err, "open tunnel device")
	}

	m.log.Info("tunnel device created", "name", dev.Name())
	return &CreateResult{Device: dev, Name: dev.Name()}, nil
}

// Configure assigns an address to the device and brings it up. On partial
// failure the device is returned to down/unaddressed state before the
// error is reported.
func (m *Manager) Configure(dev Device, localAddress string, prefixLength, mtu int) error {
	link, err := m.nl.LinkByName(dev.Name())
	if err != nil {
		return vpnerr.Wrap(vpnerr.KindTunnelFailed, err, "look up tunnel link")
	}

	addr, err := m.nl.ParseAddr(fmt.Sprintf("%s/%d", localAddress, prefixLength))
	if err != nil {
		return vpnerr.Wrap(vpnerr.KindTunnelFailed, err, "parse tunnel address")
	}
	if err := m.nl.AddrAdd(link, addr); err != nil {
		return vpnerr.Wrap(vpnerr.KindTunnelFailed, err, "assign tunnel address")
	}

	if mtu > 0 {
		if err := m.nl.LinkSetMTU(link, mtu); err != nil {
			m.log.Warn("failed to set MTU", "mtu", mtu, "error", err)
		}
	}

	if err := m.nl.LinkSetUp(link); err != nil {
		if delErr := m.nl.AddrDel(link, addr); delErr != nil {
			m.log.Warn("rollback of tunnel address failed", "error", delErr)
		}
		if downErr := m.nl.LinkSetDown(link); downErr != nil {
			m.log.Warn("rollback of link state failed", "error", downErr)
		}
		return vpnerr.Wrap(vpnerr.KindTunnelFailed, err, "bring tunnel link up")
	}

	m.log.Info("tunnel device configured", "name", dev.Name(), "address", addr.String(), "mtu", mtu)
	return nil
}

// Release closes the device. A nil device is a no-op; the owning session
// nils its handle after release so a double release never reaches the OS.
func (m *Manager) Release(dev Device) error {
	if dev == nil {
		return nil
	}
	if err := dev.Close(); err != nil {
		return vpnerr.Wrap(vpnerr.KindTunnelFailed, err, "close tunnel device")
	}
	m.log.Info("tunnel device released", "name", dev.Name())
	return nil
}

func isPermission(err error) bool {
	return errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) || errors.Is(err, fs.ErrPermission)
}
