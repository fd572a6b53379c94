// Package brand provides centralized naming constants so the client can be
// forked or white-labeled without touching the rest of the code.
package brand

const (
	Name        = "VPNSE"
	LowerName   = "vpnse"
	BinaryName  = "vpnse"
	Description = "SSL-VPN client session manager"

	DefaultConfigDir = "/etc/vpnse"
	ConfigFileName   = "vpnse.hcl"
)

// Version and BuildTime are set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// DefaultConfigPath is the config file looked up when -config is not given.
func DefaultConfigPath() string {
	return DefaultConfigDir + "/" + ConfigFileName
}
