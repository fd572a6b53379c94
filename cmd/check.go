package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/vpnse/vpnse/internal/brand"
	"github.com/vpnse/vpnse/internal/config"
)

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(configFile string, verbose bool) error {
	if len(configFile) == 0 {
		return fmt.Errorf("usage: %s check [-v] <config-file>", brand.BinaryName)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("Configuration valid!")
	fmt.Printf("Server: %s:%d (hub %s)\n", cfg.Server.Hostname, cfg.Server.Port, cfg.Server.Hub)
	fmt.Printf("Auth method: %s\n", cfg.Auth.Method)

	if verbose {
		fmt.Println()
		printSummary(cfg)
	}
	return nil
}

func printSummary(cfg *config.Settings) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)

	fmt.Fprintln(w, "SETTING\tVALUE")
	fmt.Fprintf(w, "tunnel prefix\t%s\n", cfg.Tunnel.NamePrefix)
	fmt.Fprintf(w, "tunnel address\t%s/%d\n", cfg.Tunnel.LocalAddress, cfg.Tunnel.PrefixLength)
	fmt.Fprintf(w, "tunnel gateway\t%s\n", cfg.Tunnel.GatewayAddress)
	fmt.Fprintf(w, "mtu\t%d\n", cfg.Tunnel.MTU)
	fmt.Fprintf(w, "verify certificate\t%t\n", cfg.VerifyCertificate())
	fmt.Fprintf(w, "timeout\t%s\n", cfg.Timeout())
	if cfg.Routing != nil {
		fmt.Fprintf(w, "auto route\t%t\n", cfg.Routing.AutoRoute)
		fmt.Fprintf(w, "dns override\t%t\n", cfg.Routing.DNSOverride)
		for _, ns := range cfg.Routing.NameServers {
			fmt.Fprintf(w, "name server\t%s\n", ns)
		}
	}
	if cfg.HostPolicy != nil {
		for _, a := range cfg.HostPolicy.Allow {
			fmt.Fprintf(w, "allow host\t%s\n", a)
		}
		for _, d := range cfg.HostPolicy.Deny {
			fmt.Fprintf(w, "deny host\t%s\n", d)
		}
	}
	if cfg.MetricsListen != "" {
		fmt.Fprintf(w, "metrics listen\t%s\n", cfg.MetricsListen)
	}
	w.Flush()
}
