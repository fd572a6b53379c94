//go:build !linux
// +build !linux

package tun

import "fmt"

// DetectCapability reports app-managed on platforms without raw tunnel
// device access; the caller is expected to run under a host-provided
// tunnel provisioning service.
func DetectCapability() Capability {
	return CapabilityAppManaged
}

type stubOpener struct{}

func defaultOpener() Opener { return stubOpener{} }

func (stubOpener) Open(name string) (Device, error) {
	return nil, fmt.Errorf("raw tunnel devices not supported on this platform")
}
