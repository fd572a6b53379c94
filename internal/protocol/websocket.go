package protocol

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vpnse/vpnse/internal/logging"
	"github.com/vpnse/vpnse/internal/vpnerr"
)

// WebSocketOptions configures the default engine.
type WebSocketOptions struct {
	// HandshakeTimeout bounds each dial attempt.
	HandshakeTimeout time.Duration
	// RetryAttempts is the number of additional dial attempts after the
	// first failure.
	RetryAttempts int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// KeepAliveInterval is the spacing of ping frames on an idle
	// connection. Zero disables keepalive.
	KeepAliveInterval time.Duration
	// VerifyCertificate controls server certificate verification.
	VerifyCertificate bool
}

// DefaultWebSocketOptions returns sensible defaults.
func DefaultWebSocketOptions() WebSocketOptions {
	return WebSocketOptions{
		HandshakeTimeout:  15 * time.Second,
		RetryAttempts:     2,
		RetryDelay:        2 * time.Second,
		KeepAliveInterval: 30 * time.Second,
		VerifyCertificate: true,
	}
}

// WebSocketEngine speaks the session protocol over a TLS websocket. Frames
// are small JSON control messages; the data plane is out of scope here.
type WebSocketEngine struct {
	opts WebSocketOptions
	log  *logging.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	stopCh chan struct{}
	id     string
}

// NewWebSocketEngine creates the default protocol engine.
func NewWebSocketEngine(opts WebSocketOptions, logger *logging.Logger) *WebSocketEngine {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebSocketEngine{
		opts: opts,
		log:  logger.WithComponent("protocol"),
		id:   uuid.NewString(),
	}
}

type controlFrame struct {
	Op       string `json:"op"`
	Client   string `json:"client,omitempty"`
	Hub      string `json:"hub,omitempty"`
	Method   string `json:"method,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	OK       bool   `json:"ok,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Connect dials the endpoint, retrying within the configured budget.
func (e *WebSocketEngine) Connect(ctx context.Context, host string, port int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return vpnerr.New(vpnerr.KindInvalidParameter, "already connected")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: e.opts.HandshakeTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: !e.opts.VerifyCertificate},
	}
	url := fmt.Sprintf("wss://%s/vpn/session", net.JoinHostPort(host, fmt.Sprintf("%d", port)))

	var lastErr error
	for attempt := 0; attempt <= e.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			e.log.Debug("retrying connect", "attempt", attempt, "endpoint", url)
			select {
			case <-ctx.Done():
				return classifyNetErr(ctx.Err(), "connect cancelled")
			case <-time.After(e.opts.RetryDelay):
			}
		}

		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			lastErr = err
			continue
		}

		hello := controlFrame{Op: "hello", Client: "vpnse/" + e.id}
		if err := conn.WriteJSON(hello); err != nil {
			conn.Close()
			lastErr = err
			continue
		}

		e.conn = conn
		if e.opts.KeepAliveInterval > 0 {
			e.stopCh = make(chan struct{})
			go e.keepalive(conn, e.stopCh)
		}
		e.log.Info("protocol connected", "endpoint", url)
		return nil
	}

	return classifyNetErr(lastErr, "protocol handshake failed")
}

// Authenticate sends the credentials and waits for the server verdict.
func (e *WebSocketEngine) Authenticate(ctx context.Context, hub, username, password string) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return vpnerr.New(vpnerr.KindInvalidParameter, "not connected")
	}

	deadline := time.Now().Add(e.opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	req := controlFrame{
		Op:       "auth",
		Hub:      hub,
		Method:   "password",
		Username: username,
		Password: password,
	}
	if err := conn.WriteJSON(req); err != nil {
		return classifyNetErr(err, "send credentials")
	}

	var resp controlFrame
	if err := conn.ReadJSON(&resp); err != nil {
		return classifyNetErr(err, "read auth verdict")
	}
	if !resp.OK {
		return vpnerr.New(vpnerr.KindAuthFailed, "server rejected credentials: %s", resp.Message)
	}

	e.log.Info("authenticated", "hub", hub, "user", username)
	return nil
}

// Close tears down the protocol connection. Safe to call repeatedly.
func (e *WebSocketEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
	deadline := time.Now().Add(time.Second)
	_ = e.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
	err := e.conn.Close()
	e.conn = nil
	return err
}

// keepalive pings the server on an idle connection until Close. A failed
// ping only logs; the next real operation surfaces the broken connection.
func (e *WebSocketEngine) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(e.opts.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(e.opts.HandshakeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				e.log.Debug("keepalive ping failed", "error", err)
				return
			}
		}
	}
}

func classifyNetErr(err error, msg string) error {
	if err == nil {
		return vpnerr.New(vpnerr.KindConnectionFailed, "%s", msg)
	}
	var nerr net.Error
	if (errors.As(err, &nerr) && nerr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return vpnerr.Wrap(vpnerr.KindTimeout, err, msg)
	}
	return vpnerr.Wrap(vpnerr.KindConnectionFailed, err, msg)
}
