package diag

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnse/vpnse/internal/logging"
)

func textServer(t *testing.T, body string, status int) *HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return &HTTPProvider{Label: "test", URL: srv.URL, Client: srv.Client()}
}

func TestExternalAddressFirstProviderWins(t *testing.T) {
	p := textServer(t, "198.51.100.4\n", http.StatusOK)

	addr, err := ExternalAddress(context.Background(), []Provider{p}, time.Second, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.4", addr.String())
}

func TestExternalAddressFallsBack(t *testing.T) {
	bad := textServer(t, "<html>not an ip</html>", http.StatusOK)
	broken := textServer(t, "", http.StatusBadGateway)
	good := textServer(t, "203.0.113.9", http.StatusOK)

	addr, err := ExternalAddress(context.Background(), []Provider{bad, broken, good}, time.Second, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", addr.String())
}

func TestExternalAddressAllFail(t *testing.T) {
	bad := textServer(t, "nope", http.StatusOK)
	broken := textServer(t, "", http.StatusInternalServerError)

	_, err := ExternalAddress(context.Background(), []Provider{bad, broken}, time.Second, logging.Discard())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestExternalAddressPerProviderTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	providers := []Provider{
		&HTTPProvider{Label: "slow", URL: slow.URL, Client: slow.Client()},
		textServer(t, "192.0.2.10", http.StatusOK),
	}

	start := time.Now()
	addr, err := ExternalAddress(context.Background(), providers, 100*time.Millisecond, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", addr.String())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDefaultProvidersConfigured(t *testing.T) {
	providers := DefaultProviders()
	require.NotEmpty(t, providers)
	names := map[string]bool{}
	for _, p := range providers {
		names[p.Name()] = true
	}
	assert.True(t, names["ipify"])
}
