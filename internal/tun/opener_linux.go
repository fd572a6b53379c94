//go:build linux
// +build linux

package tun

import (
	"os"

	"github.com/songgao/water"
)

const tunDeviceNode = "/dev/net/tun"

// DetectCapability checks once at startup whether the host exposes a raw
// tunnel device node. Absence means a managed/sandboxed environment where
// provisioning is delegated to the host.
func DetectCapability() Capability {
	if _, err := os.Stat(tunDeviceNode); err != nil {
		return CapabilityAppManaged
	}
	return CapabilityNative
}

// waterOpener creates TUN devices through the water library.
type waterOpener struct{}

func defaultOpener() Opener { return waterOpener{} }

type waterDevice struct {
	ifce *water.Interface
}

func (d *waterDevice) Name() string { return d.ifce.Name() }
func (d *waterDevice) Close() error { return d.ifce.Close() }

func (waterOpener) Open(name string) (Device, error) {
	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = name
	ifce, err := water.New(cfg)
	if err != nil {
		return nil, err
	}
	return &waterDevice{ifce: ifce}, nil
}
