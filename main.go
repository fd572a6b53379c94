package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vpnse/vpnse/cmd"
	"github.com/vpnse/vpnse/internal/brand"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "connect":
		connectFlags := flag.NewFlagSet("connect", flag.ExitOnError)
		configFile := connectFlags.String("config", brand.DefaultConfigPath(), "Configuration file")
		connectFlags.StringVar(configFile, "c", brand.DefaultConfigPath(), "Configuration file (short)")

		noTunnel := connectFlags.Bool("no-tunnel", false, "Connect and authenticate without establishing a tunnel")

		connectFlags.Parse(os.Args[2:])

		if err := cmd.RunConnect(*configFile, *noTunnel); err != nil {
			fmt.Fprintf(os.Stderr, "Connect failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := brand.DefaultConfigPath()
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}

		if err := cmd.RunCheck(configFile, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "probe":
		probeFlags := flag.NewFlagSet("probe", flag.ExitOnError)
		timeout := probeFlags.Duration("timeout", 5*time.Second, "Per-provider lookup timeout")
		probeFlags.Parse(os.Args[2:])

		if err := cmd.RunProbe(*timeout); err != nil {
			fmt.Fprintf(os.Stderr, "Probe failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		fmt.Printf("%s version %s\n", brand.Name, brand.Version)
		fmt.Printf("Build: %s\n", brand.BuildTime)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - %s

Usage:
  %s <command> [options]

Commands:
  connect   Connect, authenticate and establish the tunnel
            Options: --config (-c) <file>, --no-tunnel
  check     Validate a configuration file
            Options: --verbose (-v)
  probe     Print the host's current public address
            Options: --timeout <duration>
  version   Print version info

Examples:
  %s connect -c /etc/vpnse/vpnse.hcl
  %s check -v /etc/vpnse/vpnse.hcl
  %s probe --timeout 3s
`,
		brand.Name, brand.Description,
		brand.LowerName,
		brand.LowerName, brand.LowerName, brand.LowerName)
}
