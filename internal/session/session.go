// Package session implements the client session lifecycle: connect,
// authenticate, establish tunnel, close tunnel, disconnect. A Session owns
// its tunnel device handle and gateway snapshot and is the only entity
// that mutates its status. All operations are synchronous; a mutex
// serializes callers rather than providing a concurrency model.
package session

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vpnse/vpnse/internal/clock"
	"github.com/vpnse/vpnse/internal/config"
	"github.com/vpnse/vpnse/internal/diag"
	"github.com/vpnse/vpnse/internal/logging"
	"github.com/vpnse/vpnse/internal/metrics"
	"github.com/vpnse/vpnse/internal/network"
	"github.com/vpnse/vpnse/internal/protocol"
	"github.com/vpnse/vpnse/internal/route"
	"github.com/vpnse/vpnse/internal/tun"
	"github.com/vpnse/vpnse/internal/vpnerr"
)

// Resolver turns the endpoint hostname into the address used for the
// server bypass route. Tests substitute a fixed answer.
type Resolver func(ctx context.Context, host string) (net.IP, error)

// Options carries the session's collaborators. Zero-valued fields get
// production defaults; tests inject fakes.
type Options struct {
	Engine protocol.Engine
	// Verifier, when set, replaces the engine for credential checks.
	// Diagnostic and offline modes only.
	Verifier   protocol.Verifier
	Netlinker  network.Netlinker
	Opener     tun.Opener
	Capability *tun.Capability // nil selects by platform detection
	Policy     HostPolicy
	Resolver   Resolver
	Providers  []diag.Provider
	Logger     *logging.Logger
	Clock      clock.Clock
	Metrics    *metrics.Registry
}

// Session is the top-level state machine for one client instance.
type Session struct {
	mu sync.Mutex

	id  uuid.UUID
	cfg *config.Settings
	log *logging.Logger
	clk clock.Clock
	reg *metrics.Registry

	engine    protocol.Engine
	verifier  protocol.Verifier
	policy    HostPolicy
	resolver  Resolver
	providers []diag.Provider
	nl        network.Netlinker
	opener    tun.Opener

	capability tun.Capability
	tunMgr     *tun.Manager
	routeMgr   *route.Manager

	status   Status
	hostname string
	port     int
	username string
	password string

	device     tun.Device
	ifaceName  string
	appManaged bool
	snapshot   *route.Snapshot
	serverIP   net.IP

	closed bool
}

// New creates a session from validated configuration.
func New(cfg *config.Settings, opts Options) (*Session, error) {
	if cfg == nil {
		return nil, vpnerr.New(vpnerr.KindInvalidConfig, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = &clock.RealClock{}
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.Get()
	}
	nl := opts.Netlinker
	if nl == nil {
		nl = network.DefaultNetlinker
	}
	engine := opts.Engine
	if engine == nil {
		wsOpts := protocol.DefaultWebSocketOptions()
		wsOpts.HandshakeTimeout = cfg.Timeout()
		wsOpts.VerifyCertificate = cfg.VerifyCertificate()
		engine = protocol.NewWebSocketEngine(wsOpts, logger)
	}
	policy := opts.Policy
	if policy == nil {
		policy = PolicyFromConfig(cfg.HostPolicy)
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = defaultResolver
	}
	providers := opts.Providers
	if providers == nil {
		providers = diag.DefaultProviders()
	}
	capability := tun.DetectCapability()
	if opts.Capability != nil {
		capability = *opts.Capability
	}

	s := &Session{
		id:         uuid.New(),
		cfg:        cfg,
		log:        logger.WithComponent("session"),
		clk:        clk,
		reg:        reg,
		engine:     engine,
		verifier:   opts.Verifier,
		policy:     policy,
		resolver:   resolver,
		providers:  providers,
		nl:         nl,
		opener:     opts.Opener,
		capability: capability,
		status:     StatusDisconnected,
	}
	s.buildManagers()

	s.log.Info("session created", "id", s.id.String(), "capability", capability.String())
	return s, nil
}

// buildManagers rebuilds the device and route managers for the current
// capability. Called at construction and on downgrade to app-managed mode.
func (s *Session) buildManagers() {
	s.tunMgr = tun.NewManager(s.nl, s.log, s.opener, s.capability, s.cfg.Tunnel.NamePrefix)
	s.routeMgr = route.NewManager(s.nl, s.log, s.capability == tun.CapabilityAppManaged)
}

// Connect validates the endpoint and performs the protocol handshake. On
// failure the status reverts to Disconnected.
func (s *Session) Connect(ctx context.Context, hostname string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vpnerr.New(vpnerr.KindInvalidParameter, "session is freed")
	}
	if s.status != StatusDisconnected {
		return vpnerr.New(vpnerr.KindInvalidParameter, "connect is only valid when disconnected (status %s)", s.status)
	}
	if err := validateHostname(hostname); err != nil {
		return err
	}
	if port < 1 || port > 65535 {
		return vpnerr.New(vpnerr.KindInvalidParameter, "port %d out of range", port)
	}
	if err := s.policy.Allow(hostname); err != nil {
		s.log.Warn("host rejected by policy", "host", hostname)
		return err
	}

	s.status = StatusConnecting
	s.reg.RecordConnectAttempt(hostname)
	s.publishStatus()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.engine.Connect(ctx, hostname, port); err != nil {
		s.status = StatusDisconnected
		s.publishStatus()
		err = ensureKind(err, vpnerr.KindConnectionFailed)
		s.reg.RecordConnectFailure(hostname, vpnerr.KindOf(err).String())
		s.log.Warn("connect failed", "host", hostname, "port", port, "error", err)
		return err
	}

	if ip, err := s.resolver(ctx, hostname); err != nil {
		// The bypass route needs the server address; without it the
		// tunnel still comes up, minus that one route.
		s.log.Warn("failed to resolve server address", "host", hostname, "error", err)
	} else {
		s.serverIP = ip
	}

	s.hostname = hostname
	s.port = port
	s.status = StatusConnected
	s.publishStatus()
	s.log.Info("connected", "host", hostname, "port", port)
	return nil
}

// Authenticate verifies credentials against the hub. A failure leaves the
// status at Connected; a fresh connect is not required to retry.
func (s *Session) Authenticate(ctx context.Context, username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusConnected {
		return vpnerr.New(vpnerr.KindInvalidParameter, "authenticate requires a connected session (status %s)", s.status)
	}
	if username == "" || password == "" {
		return vpnerr.New(vpnerr.KindAuthFailed, "username and password are required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.verify(ctx, username, password); err != nil {
		err = ensureKind(err, vpnerr.KindAuthFailed)
		s.reg.RecordAuth(false)
		s.log.Warn("authentication failed", "user", username, "error", err)
		return err
	}

	s.username = username
	s.password = password
	s.reg.RecordAuth(true)
	s.log.Info("authenticated", "user", username, "hub", s.cfg.Server.Hub)
	return nil
}

// verify checks credentials through the diagnostic verifier when one is
// configured, otherwise through the protocol engine.
func (s *Session) verify(ctx context.Context, username, password string) error {
	if s.verifier != nil {
		return s.verifier.Verify(username, password)
	}
	return s.engine.Authenticate(ctx, s.cfg.Server.Hub, username, password)
}

// EstablishTunnel captures the gateway snapshot, creates and configures the
// tunnel device, and diverts traffic through it. A failure after the device
// exists leaves the session Tunneling with degraded routing, so the caller
// can retry routing or close the tunnel.
func (s *Session) EstablishTunnel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusConnected {
		return vpnerr.New(vpnerr.KindConnectionFailed, "establish tunnel requires a connected session (status %s)", s.status)
	}

	start := s.clk.Now()

	if s.capability == tun.CapabilityNative {
		snap, err := route.TakeSnapshot(s.nl)
		if err != nil {
			s.reg.TunnelFailures.WithLabelValues(vpnerr.KindOf(err).String()).Inc()
			return err
		}
		s.snapshot = snap
	}

	res, err := s.tunMgr.Create()
	if err != nil {
		s.snapshot = nil
		s.reg.TunnelFailures.WithLabelValues(vpnerr.KindOf(err).String()).Inc()
		if vpnerr.IsKind(err, vpnerr.KindPermissionDenied) {
			// The OS refused the device node. Fall back to app-managed
			// provisioning so the next attempt has a defined path.
			s.capability = tun.CapabilityAppManaged
			s.buildManagers()
			s.log.Warn("device access denied, falling back to app-managed mode", "error", err)
		}
		return err
	}

	if res.AppManaged {
		s.appManaged = true
		s.device = nil
		s.ifaceName = ""
		s.status = StatusTunneling
		s.publishStatus()
		s.reg.SetTunnelActive(true)
		s.log.Info("tunnel delegated to host service")
		return nil
	}

	// From here on the device exists; the session owns it and reports
	// Tunneling even when later steps fail.
	s.device = res.Device
	s.ifaceName = res.Name
	s.appManaged = false
	s.status = StatusTunneling
	s.publishStatus()
	s.reg.SetTunnelActive(true)

	if err := s.tunMgr.Configure(res.Device, s.cfg.Tunnel.LocalAddress, s.cfg.Tunnel.PrefixLength, s.cfg.Tunnel.MTU); err != nil {
		s.reg.TunnelFailures.WithLabelValues(vpnerr.KindOf(err).String()).Inc()
		return err
	}

	if s.cfg.Routing != nil && s.cfg.Routing.AutoRoute {
		if err := s.installRoutes(); err != nil {
			s.reg.TunnelFailures.WithLabelValues(vpnerr.KindOf(err).String()).Inc()
			return err
		}
	}

	s.reg.TunnelSetupDuration.Observe(s.clk.Since(start).Seconds())
	s.log.Info("tunnel established", "interface", s.ifaceName, "took", s.clk.Since(start).String())
	return nil
}

func (s *Session) installRoutes() error {
	link, err := s.nl.LinkByName(s.ifaceName)
	if err != nil {
		return vpnerr.Wrap(vpnerr.KindTunnelFailed, err, "look up tunnel link for routing")
	}
	linkIndex := link.Attrs().Index
	gateway := net.ParseIP(s.cfg.Tunnel.GatewayAddress)

	if s.serverIP != nil {
		if err := s.routeMgr.InstallServerBypass(s.serverIP, s.snapshot); err != nil {
			s.reg.RecordRouteOp("server_bypass", err)
			return err
		}
		s.reg.RecordRouteOp("server_bypass", nil)
	} else {
		s.log.Warn("server address unknown, skipping bypass route")
	}

	if err := s.routeMgr.InstallTunnelDefault(linkIndex, gateway, s.snapshot); err != nil {
		s.reg.RecordRouteOp("tunnel_default", err)
		return err
	}
	s.reg.RecordRouteOp("tunnel_default", nil)

	if s.cfg.Routing.DNSOverride {
		if err := s.routeMgr.InstallNameServerRoutes(s.cfg.NameServerIPs(), linkIndex, gateway); err != nil {
			s.reg.RecordRouteOp("name_servers", err)
			return err
		}
		s.reg.RecordRouteOp("name_servers", nil)
	}
	return nil
}

// CloseTunnel reverses routing and releases the device, returning to
// Connected. Calling it when no tunnel is up is a no-op success.
func (s *Session) CloseTunnel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeTunnelLocked()
}

func (s *Session) closeTunnelLocked() error {
	if s.status != StatusTunneling {
		return nil
	}

	if err := s.routeMgr.Restore(s.snapshot); err != nil {
		s.log.Warn("route restoration incomplete", "error", err)
	}
	if err := s.tunMgr.Release(s.device); err != nil {
		s.log.Warn("device release failed", "error", err)
	}

	s.device = nil
	s.ifaceName = ""
	s.appManaged = false
	s.snapshot = nil
	s.status = StatusConnected
	s.publishStatus()
	s.reg.SetTunnelActive(false)
	s.log.Info("tunnel closed")
	return nil
}

// Disconnect closes any tunnel and tears down the protocol connection.
// Safe to call from any status.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectLocked()
}

func (s *Session) disconnectLocked() error {
	if s.status == StatusDisconnected {
		return nil
	}
	_ = s.closeTunnelLocked()
	if err := s.engine.Close(); err != nil {
		s.log.Warn("protocol close failed", "error", err)
	}
	s.hostname = ""
	s.port = 0
	s.serverIP = nil
	s.status = StatusDisconnected
	s.publishStatus()
	s.log.Info("disconnected")
	return nil
}

// Status reports the current lifecycle state. Pure read.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Mode reports the tunnel provisioning capability currently in effect. It
// changes only when a permission failure forces the app-managed fallback.
func (s *Session) Mode() tun.Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capability
}

// InterfaceName returns the tunnel device name, or "" when no native
// device is up.
func (s *Session) InterfaceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ifaceName
}

// DescribeTunnelInterface returns a descriptor of the active tunnel for
// display and verification. Only meaningful while Tunneling.
func (s *Session) DescribeTunnelInterface() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusTunneling {
		return "", vpnerr.New(vpnerr.KindInvalidParameter, "no tunnel is established (status %s)", s.status)
	}
	if s.appManaged {
		return "mode=app-managed", nil
	}
	return fmt.Sprintf("name=%s address=%s/%d gateway=%s",
		s.ifaceName, s.cfg.Tunnel.LocalAddress, s.cfg.Tunnel.PrefixLength, s.cfg.Tunnel.GatewayAddress), nil
}

// ProbeExternalAddress asks the diagnostic providers for the host's public
// address. Purely informational; it never changes the session status.
func (s *Session) ProbeExternalAddress(ctx context.Context) (netip.Addr, error) {
	s.mu.Lock()
	providers := s.providers
	timeout := s.cfg.Timeout()
	s.mu.Unlock()

	return diag.ExternalAddress(ctx, providers, timeout, s.log)
}

// Close releases every owned resource and zeroes credentials, regardless
// of status. Idempotent: a second call is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	_ = s.disconnectLocked()
	s.username = ""
	s.password = ""
	s.closed = true
	s.log.Info("session freed", "id", s.id.String())
	return nil
}

// withTimeout bounds an operation by the configured deadline unless the
// caller supplied a tighter one.
func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.Timeout())
}

func (s *Session) publishStatus() {
	s.reg.SetSessionStatus(int(s.status))
}

func validateHostname(hostname string) error {
	switch {
	case hostname == "":
		return vpnerr.New(vpnerr.KindInvalidParameter, "hostname is empty")
	case strings.HasPrefix(hostname, ".") || strings.HasSuffix(hostname, "."):
		return vpnerr.New(vpnerr.KindInvalidParameter, "hostname %q has a leading or trailing dot", hostname)
	case strings.Contains(hostname, ".."):
		return vpnerr.New(vpnerr.KindInvalidParameter, "hostname %q contains consecutive dots", hostname)
	}
	return nil
}

// ensureKind reclassifies an unclassified error; already-classified errors
// (including Timeout) pass through unchanged.
func ensureKind(err error, kind vpnerr.Kind) error {
	if vpnerr.KindOf(err) != vpnerr.KindUnknown {
		return err
	}
	return vpnerr.Wrap(kind, err, "")
}

func defaultResolver(ctx context.Context, host string) (net.IP, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	return ips[0], nil
}
