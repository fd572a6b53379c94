//go:build !linux
// +build !linux

package network

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// DefaultNetlinker is the default backend (stub). Non-Linux hosts run in
// app-managed mode, so these are never reached by the session; they exist
// to keep the package buildable everywhere.
var DefaultNetlinker Netlinker = &RealNetlinker{}

// RealNetlinker is a stub implementation of Netlinker.
type RealNetlinker struct{}

func (r *RealNetlinker) LinkByName(name string) (netlink.Link, error) {
	return nil, fmt.Errorf("LinkByName not supported on this platform")
}

func (r *RealNetlinker) LinkSetUp(link netlink.Link) error {
	return nil
}

func (r *RealNetlinker) LinkSetDown(link netlink.Link) error {
	return nil
}

func (r *RealNetlinker) LinkSetMTU(link netlink.Link, mtu int) error {
	return nil
}

func (r *RealNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return nil
}

func (r *RealNetlinker) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	return nil
}

func (r *RealNetlinker) RouteList(link netlink.Link, family int) ([]netlink.Route, error) {
	return nil, nil
}

func (r *RealNetlinker) RouteAdd(route *netlink.Route) error {
	return nil
}

func (r *RealNetlinker) RouteDel(route *netlink.Route) error {
	return nil
}

func (r *RealNetlinker) ParseAddr(s string) (*netlink.Addr, error) {
	return netlink.ParseAddr(s)
}
