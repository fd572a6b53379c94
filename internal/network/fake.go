package network

import (
	"fmt"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// FakeNetlinker is an in-memory Netlinker with a real route table, used by
// tests that assert on route-set round trips rather than call sequences.
type FakeNetlinker struct {
	mu     sync.Mutex
	Links  map[string]netlink.Link
	Routes []netlink.Route
	Addrs  map[string][]netlink.Addr

	// Fail injects an error for the named operation ("RouteAdd", ...).
	Fail map[string]error
}

// NewFakeNetlinker returns an empty fake backend.
func NewFakeNetlinker() *FakeNetlinker {
	return &FakeNetlinker{
		Links: map[string]netlink.Link{},
		Addrs: map[string][]netlink.Addr{},
		Fail:  map[string]error{},
	}
}

// AddLink registers a link so LinkByName can find it.
func (f *FakeNetlinker) AddLink(link netlink.Link) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Links[link.Attrs().Name] = link
}

// RouteSnapshot returns a copy of the current route table.
func (f *FakeNetlinker) RouteSnapshot() []netlink.Route {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]netlink.Route, len(f.Routes))
	copy(out, f.Routes)
	return out
}

func (f *FakeNetlinker) fail(op string) error {
	return f.Fail[op]
}

func (f *FakeNetlinker) LinkByName(name string) (netlink.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("LinkByName"); err != nil {
		return nil, err
	}
	l, ok := f.Links[name]
	if !ok {
		return nil, fmt.Errorf("link %s not found", name)
	}
	return l, nil
}

func (f *FakeNetlinker) LinkSetUp(link netlink.Link) error {
	return f.fail("LinkSetUp")
}

func (f *FakeNetlinker) LinkSetDown(link netlink.Link) error {
	return f.fail("LinkSetDown")
}

func (f *FakeNetlinker) LinkSetMTU(link netlink.Link, mtu int) error {
	return f.fail("LinkSetMTU")
}

func (f *FakeNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddrAdd"); err != nil {
		return err
	}
	name := link.Attrs().Name
	f.Addrs[name] = append(f.Addrs[name], *addr)
	return nil
}

func (f *FakeNetlinker) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddrDel"); err != nil {
		return err
	}
	name := link.Attrs().Name
	kept := f.Addrs[name][:0]
	for _, a := range f.Addrs[name] {
		if !a.Equal(*addr) {
			kept = append(kept, a)
		}
	}
	f.Addrs[name] = kept
	return nil
}

func (f *FakeNetlinker) RouteList(link netlink.Link, family int) ([]netlink.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RouteList"); err != nil {
		return nil, err
	}
	out := make([]netlink.Route, 0, len(f.Routes))
	for _, r := range f.Routes {
		if link != nil && r.LinkIndex != link.Attrs().Index {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *FakeNetlinker) RouteAdd(route *netlink.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RouteAdd"); err != nil {
		return err
	}
	for _, r := range f.Routes {
		if routesEqual(r, *route) {
			return fmt.Errorf("route add: %w", unix.EEXIST)
		}
	}
	f.Routes = append(f.Routes, *route)
	return nil
}

func (f *FakeNetlinker) RouteDel(route *netlink.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RouteDel"); err != nil {
		return err
	}
	for i, r := range f.Routes {
		if routesEqual(r, *route) {
			f.Routes = append(f.Routes[:i], f.Routes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("route del: %w", unix.ESRCH)
}

func (f *FakeNetlinker) ParseAddr(s string) (*netlink.Addr, error) {
	return netlink.ParseAddr(s)
}

func routesEqual(a, b netlink.Route) bool {
	if (a.Dst == nil) != (b.Dst == nil) {
		return false
	}
	if a.Dst != nil && a.Dst.String() != b.Dst.String() {
		return false
	}
	return a.Gw.Equal(b.Gw) && a.LinkIndex == b.LinkIndex && a.Priority == b.Priority
}
