package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnse/vpnse/internal/logging"
)

func writeCounter(t *testing.T, root, iface, name, value string) {
	t.Helper()
	dir := filepath.Join(root, iface, "statistics")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o644))
}

func TestCollectorSamplesInterfaceCounters(t *testing.T) {
	root := t.TempDir()
	writeCounter(t, root, "vpnse0", "rx_bytes", "12345")
	writeCounter(t, root, "vpnse0", "tx_bytes", "678")

	reg := Get()
	c := NewCollector(reg, logging.Discard(), time.Second)
	c.statsRoot = root
	c.SetInterface("vpnse0")
	c.Sample()

	assert.Equal(t, 12345.0, testutil.ToFloat64(reg.TunnelRxBytes))
	assert.Equal(t, 678.0, testutil.ToFloat64(reg.TunnelTxBytes))
}

func TestCollectorSkipsMissingInterface(t *testing.T) {
	reg := Get()
	c := NewCollector(reg, logging.Discard(), time.Second)
	c.statsRoot = t.TempDir()
	c.SetInterface("gone0")

	// Must not panic or publish garbage.
	c.Sample()
}

func TestCollectorIdleWithoutInterface(t *testing.T) {
	reg := Get()
	c := NewCollector(reg, logging.Discard(), time.Second)
	c.statsRoot = t.TempDir()
	c.Sample()
}

func TestRegistryHelpers(t *testing.T) {
	reg := Get()

	reg.RecordConnectAttempt("vpn.example.com")
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.ConnectAttempts.WithLabelValues("vpn.example.com")))

	reg.RecordAuth(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.AuthAttempts.WithLabelValues("failure")))

	reg.RecordRouteOp("add", nil)
	reg.RecordRouteOp("add", os.ErrPermission)
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.RouteOperations.WithLabelValues("add")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.RouteFailures.WithLabelValues("add")))

	reg.SetTunnelActive(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.ActiveTunnel))
	reg.SetTunnelActive(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.ActiveTunnel))
}
