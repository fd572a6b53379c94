package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/vpnse/vpnse/internal/diag"
	"github.com/vpnse/vpnse/internal/logging"
)

// RunProbe looks up the host's current public address through the
// diagnostic provider chain and prints it.
func RunProbe(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout*time.Duration(len(diag.DefaultProviders())))
	defer cancel()

	addr, err := diag.ExternalAddress(ctx, diag.DefaultProviders(), timeout, logging.Default())
	if err != nil {
		return fmt.Errorf("external address lookup: %w", err)
	}
	fmt.Println(addr.String())
	return nil
}
