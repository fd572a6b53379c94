package session

import (
	"strings"

	"github.com/vpnse/vpnse/internal/config"
	"github.com/vpnse/vpnse/internal/vpnerr"
)

// HostPolicy decides whether a session may connect to a hostname. It is
// supplied by configuration, never hard-coded string matching.
type HostPolicy interface {
	Allow(hostname string) error
}

// AllowAll permits every hostname.
type AllowAll struct{}

func (AllowAll) Allow(string) error { return nil }

// ListPolicy is a suffix-matched allow/deny list. Deny wins over allow; an
// empty allow list permits anything not denied.
type ListPolicy struct {
	allow []string
	deny  []string
}

// NewListPolicy builds a policy from configured patterns. Patterns match a
// hostname exactly or as a dot-separated suffix ("example.com" matches
// "vpn.example.com" but not "notexample.com").
func NewListPolicy(allow, deny []string) *ListPolicy {
	return &ListPolicy{allow: normalize(allow), deny: normalize(deny)}
}

// PolicyFromConfig builds the host policy from settings. A nil or empty
// host_policy block permits everything.
func PolicyFromConfig(hp *config.HostPolicy) HostPolicy {
	if hp == nil || (len(hp.Allow) == 0 && len(hp.Deny) == 0) {
		return AllowAll{}
	}
	return NewListPolicy(hp.Allow, hp.Deny)
}

func (p *ListPolicy) Allow(hostname string) error {
	host := strings.ToLower(strings.TrimSuffix(hostname, "."))
	for _, pattern := range p.deny {
		if matchesSuffix(host, pattern) {
			return vpnerr.New(vpnerr.KindConnectionFailed, "host %q denied by policy", hostname)
		}
	}
	if len(p.allow) == 0 {
		return nil
	}
	for _, pattern := range p.allow {
		if matchesSuffix(host, pattern) {
			return nil
		}
	}
	return vpnerr.New(vpnerr.KindConnectionFailed, "host %q not in allow list", hostname)
}

func matchesSuffix(host, pattern string) bool {
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

func normalize(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.Trim(strings.TrimSpace(p), "."))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
