// Package config provides HCL configuration handling for the client.
// A loaded and validated Settings value is the only configuration object
// the rest of the code sees; parsing concerns stop at this boundary.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/vpnse/vpnse/internal/vpnerr"
)

// Settings is the top-level structure for the client configuration.
type Settings struct {
	Server     Server      `hcl:"server,block"`
	Auth       Auth        `hcl:"auth,block"`
	Tunnel     Tunnel      `hcl:"tunnel,block"`
	Routing    *Routing    `hcl:"routing,block"`
	HostPolicy *HostPolicy `hcl:"host_policy,block"`

	LogLevel      string `hcl:"log_level,optional"`
	MetricsListen string `hcl:"metrics_listen,optional"`
}

// Server identifies the remote VPN endpoint.
type Server struct {
	Hostname          string `hcl:"hostname"`
	Port              int    `hcl:"port,optional"`
	Hub               string `hcl:"hub,optional"`
	TimeoutSeconds    int    `hcl:"timeout_seconds,optional"`
	VerifyCertificate *bool  `hcl:"verify_certificate,optional"`
}

// Auth holds the authentication method and credentials.
type Auth struct {
	Method   string `hcl:"method,optional"`
	Username string `hcl:"username,optional"`
	Password string `hcl:"password,optional"`
}

// Tunnel holds virtual interface parameters.
type Tunnel struct {
	NamePrefix     string `hcl:"name_prefix,optional"`
	MTU            int    `hcl:"mtu,optional"`
	LocalAddress   string `hcl:"local_address,optional"`
	GatewayAddress string `hcl:"gateway_address,optional"`
	PrefixLength   int    `hcl:"prefix_length,optional"`
}

// Routing controls route-table changes made after the tunnel comes up.
type Routing struct {
	AutoRoute   bool     `hcl:"auto_route,optional"`
	DNSOverride bool     `hcl:"dns_override,optional"`
	NameServers []string `hcl:"name_servers,optional"`
}

// HostPolicy is the configured allow/deny policy for endpoint hostnames.
// An empty policy permits everything.
type HostPolicy struct {
	Allow []string `hcl:"allow,optional"`
	Deny  []string `hcl:"deny,optional"`
}

const (
	DefaultPort           = 443
	DefaultHub            = "DEFAULT"
	DefaultTimeoutSeconds = 30
	DefaultMTU            = 1400
	DefaultNamePrefix     = "vpnse"
	DefaultLocalAddress   = "10.0.0.2"
	DefaultGatewayAddress = "10.0.0.1"
	DefaultPrefixLength   = 24
)

// Default returns a Settings with every optional field at its default.
// The server hostname is intentionally left empty.
func Default() *Settings {
	return &Settings{
		Server: Server{
			Port:           DefaultPort,
			Hub:            DefaultHub,
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		Auth: Auth{Method: "password"},
		Tunnel: Tunnel{
			NamePrefix:     DefaultNamePrefix,
			MTU:            DefaultMTU,
			LocalAddress:   DefaultLocalAddress,
			GatewayAddress: DefaultGatewayAddress,
			PrefixLength:   DefaultPrefixLength,
		},
		Routing:  &Routing{AutoRoute: true},
		LogLevel: "info",
	}
}

// applyDefaults fills zero-valued optional fields in place.
func (s *Settings) applyDefaults() {
	d := Default()
	if s.Server.Port == 0 {
		s.Server.Port = d.Server.Port
	}
	if s.Server.Hub == "" {
		s.Server.Hub = d.Server.Hub
	}
	if s.Server.TimeoutSeconds == 0 {
		s.Server.TimeoutSeconds = d.Server.TimeoutSeconds
	}
	if s.Auth.Method == "" {
		s.Auth.Method = d.Auth.Method
	}
	if s.Tunnel.NamePrefix == "" {
		s.Tunnel.NamePrefix = d.Tunnel.NamePrefix
	}
	if s.Tunnel.MTU == 0 {
		s.Tunnel.MTU = d.Tunnel.MTU
	}
	if s.Tunnel.LocalAddress == "" {
		s.Tunnel.LocalAddress = d.Tunnel.LocalAddress
	}
	if s.Tunnel.GatewayAddress == "" {
		s.Tunnel.GatewayAddress = d.Tunnel.GatewayAddress
	}
	if s.Tunnel.PrefixLength == 0 {
		s.Tunnel.PrefixLength = d.Tunnel.PrefixLength
	}
	if s.Routing == nil {
		s.Routing = &Routing{AutoRoute: true}
	}
	if s.LogLevel == "" {
		s.LogLevel = d.LogLevel
	}
}

// Timeout returns the configured connect/establish deadline.
func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.Server.TimeoutSeconds) * time.Second
}

// VerifyCertificate reports whether server certificates must verify.
// Defaults to true when unset.
func (s *Settings) VerifyCertificate() bool {
	return s.Server.VerifyCertificate == nil || *s.Server.VerifyCertificate
}

// Validate checks the settings and returns an InvalidConfig error for the
// first problem found.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Server.Hostname) == "" {
		return vpnerr.New(vpnerr.KindInvalidConfig, "server hostname is required")
	}
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return vpnerr.New(vpnerr.KindInvalidConfig, "server port %d out of range", s.Server.Port)
	}
	switch s.Auth.Method {
	case "anonymous", "password":
	default:
		return vpnerr.New(vpnerr.KindInvalidConfig, "unknown auth method %q", s.Auth.Method)
	}
	if s.Tunnel.MTU < 576 || s.Tunnel.MTU > 9000 {
		return vpnerr.New(vpnerr.KindInvalidConfig, "mtu %d out of range", s.Tunnel.MTU)
	}
	if s.Tunnel.PrefixLength < 1 || s.Tunnel.PrefixLength > 32 {
		return vpnerr.New(vpnerr.KindInvalidConfig, "prefix_length %d out of range", s.Tunnel.PrefixLength)
	}
	if len(s.Tunnel.NamePrefix) == 0 || len(s.Tunnel.NamePrefix) > 12 {
		return vpnerr.New(vpnerr.KindInvalidConfig, "tunnel name_prefix must be 1-12 characters")
	}
	for _, field := range []struct{ name, value string }{
		{"tunnel local_address", s.Tunnel.LocalAddress},
		{"tunnel gateway_address", s.Tunnel.GatewayAddress},
	} {
		if ip := net.ParseIP(field.value); ip == nil || ip.To4() == nil {
			return vpnerr.New(vpnerr.KindInvalidConfig, "%s %q is not an IPv4 address", field.name, field.value)
		}
	}
	if s.Routing != nil {
		for _, ns := range s.Routing.NameServers {
			if net.ParseIP(ns) == nil {
				return vpnerr.New(vpnerr.KindInvalidConfig, "name server %q is not an IP address", ns)
			}
		}
	}
	return nil
}

// NameServerIPs returns the configured resolvers as parsed addresses.
// Only meaningful when DNSOverride is set; Validate has already checked
// that every entry parses.
func (s *Settings) NameServerIPs() []net.IP {
	if s.Routing == nil {
		return nil
	}
	ips := make([]net.IP, 0, len(s.Routing.NameServers))
	for _, ns := range s.Routing.NameServers {
		if ip := net.ParseIP(ns); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}

// Redacted returns a copy safe for logging, with the password masked.
func (s *Settings) Redacted() Settings {
	out := *s
	if out.Auth.Password != "" {
		out.Auth.Password = "******"
	}
	return out
}

// String implements fmt.Stringer on the redacted form so a Settings can
// never leak a credential through logging.
func (s *Settings) String() string {
	r := s.Redacted()
	return fmt.Sprintf("server=%s:%d hub=%s auth=%s auto_route=%t",
		r.Server.Hostname, r.Server.Port, r.Server.Hub, r.Auth.Method,
		r.Routing != nil && r.Routing.AutoRoute)
}
