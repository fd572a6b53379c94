package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vpnse/vpnse/internal/logging"
)

const defaultStatsRoot = "/sys/class/net"

// Collector periodically samples tunnel interface traffic counters and
// publishes them to the Prometheus registry.
type Collector struct {
	registry *Registry
	logger   *logging.Logger
	interval time.Duration

	// statsRoot is the sysfs network class directory. Overridable in tests.
	statsRoot string

	mu    sync.Mutex
	iface string

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCollector creates a traffic collector that samples at the given interval.
func NewCollector(reg *Registry, logger *logging.Logger, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Collector{
		registry:  reg,
		logger:    logger.WithComponent("metrics"),
		interval:  interval,
		statsRoot: defaultStatsRoot,
	}
}

// SetInterface selects the tunnel interface to sample. An empty name
// suspends sampling until the next tunnel comes up.
func (c *Collector) SetInterface(name string) {
	c.mu.Lock()
	c.iface = name
	c.mu.Unlock()
}

// Start begins sampling in the background until Stop is called or the
// context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Sample()
			}
		}
	}()
}

// Stop halts background sampling and waits for the loop to exit.
func (c *Collector) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
	c.stopCh = nil
}

// Sample reads the current interface counters once. Missing interfaces
// are skipped silently since the tunnel may be down between samples.
func (c *Collector) Sample() {
	c.mu.Lock()
	iface := c.iface
	c.mu.Unlock()
	if iface == "" {
		return
	}

	rx, rxErr := c.readCounter(iface, "rx_bytes")
	tx, txErr := c.readCounter(iface, "tx_bytes")
	if rxErr != nil || txErr != nil {
		c.logger.Debug("interface counters unavailable", "interface", iface)
		return
	}
	c.registry.TunnelRxBytes.Set(float64(rx))
	c.registry.TunnelTxBytes.Set(float64(tx))
}

func (c *Collector) readCounter(iface, name string) (uint64, error) {
	path := filepath.Join(c.statsRoot, iface, "statistics", name)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}
