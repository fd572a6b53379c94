// Package diag holds the diagnostics surface: public-address probing and
// tunnel reachability checks. Nothing in here mutates session state; all
// failures are diagnostic failures, distinct from protocol errors.
package diag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/vpnse/vpnse/internal/logging"
)

// ErrAllProvidersFailed reports that every configured lookup service failed
// to produce a plausible public address.
var ErrAllProvidersFailed = errors.New("all external address providers failed")

// Provider resolves the host's public address through one network service.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) (netip.Addr, error)
}

// HTTPProvider fetches the address from a plain-text HTTP endpoint.
type HTTPProvider struct {
	Label  string
	URL    string
	Client *http.Client
}

// Name returns the provider label.
func (p *HTTPProvider) Name() string { return p.Label }

// Fetch performs the lookup and validates the response syntactically.
func (p *HTTPProvider) Fetch(ctx context.Context) (netip.Addr, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return netip.Addr{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return netip.Addr{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("%s: unexpected status %d", p.Label, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return netip.Addr{}, err
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(string(body)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%s: implausible address %q", p.Label, strings.TrimSpace(string(body)))
	}
	return addr, nil
}

// DefaultProviders returns the built-in lookup services, tried in order.
func DefaultProviders() []Provider {
	return []Provider{
		&HTTPProvider{Label: "ipify", URL: "https://api.ipify.org"},
		&HTTPProvider{Label: "icanhazip", URL: "https://icanhazip.com"},
		&HTTPProvider{Label: "amazon", URL: "https://checkip.amazonaws.com"},
	}
}

// ExternalAddress tries each provider in priority order with a bounded
// per-provider timeout and returns the first plausible public address.
func ExternalAddress(ctx context.Context, providers []Provider, perProviderTimeout time.Duration, logger *logging.Logger) (netip.Addr, error) {
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.WithComponent("diag")

	var errs []error
	for _, p := range providers {
		pctx, cancel := context.WithTimeout(ctx, perProviderTimeout)
		addr, err := p.Fetch(pctx)
		cancel()
		if err != nil {
			log.Debug("provider failed", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		log.Debug("external address resolved", "provider", p.Name(), "address", addr.String())
		return addr, nil
	}
	return netip.Addr{}, errors.Join(append([]error{ErrAllProvidersFailed}, errs...)...)
}
