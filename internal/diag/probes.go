package diag

import (
	"context"
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/miekg/dns"
)

// PingGateway sends a single unprivileged echo to the tunnel gateway. A
// lost reply after a successful establish usually means the peer is not
// forwarding yet.
func PingGateway(ctx context.Context, gateway string, timeout time.Duration) error {
	pinger, err := probing.NewPinger(gateway)
	if err != nil {
		return fmt.Errorf("failed to create pinger: %w", err)
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("no echo reply from %s", gateway)
	}
	return nil
}

// ProbeNameServer asks a resolver for the A record of name, verifying the
// resolver actually answers through the tunnel path.
func ProbeNameServer(ctx context.Context, server net.IP, name string, timeout time.Duration) (time.Duration, error) {
	c := &dns.Client{Timeout: timeout}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.RecursionDesired = true

	resp, rtt, err := c.ExchangeContext(ctx, m, net.JoinHostPort(server.String(), "53"))
	if err != nil {
		return 0, fmt.Errorf("resolver %s unreachable: %w", server, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return rtt, fmt.Errorf("resolver %s answered %s", server, dns.RcodeToString[resp.Rcode])
	}
	return rtt, nil
}
