// Package client is the widget-side counterpart of the realtime server: it
// owns the anonymous user token, keeps a websocket session alive, and surfaces
// incoming comment notifications through callbacks.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/JE-lee/whisper-comment/pkg/identity"
	"github.com/JE-lee/whisper-comment/pkg/protocol"
)

// Status describes the client's connection lifecycle.
type Status string

const (
	StatusDisconnected  Status = "disconnected"
	StatusConnecting    Status = "connecting"
	StatusConnected     Status = "connected"
	StatusAuthenticated Status = "authenticated"
	StatusReconnecting  Status = "reconnecting"
	StatusError         Status = "error"
)

// NotificationHandler receives every comment notification the server delivers.
type NotificationHandler func(n protocol.Notification)

// StatusHandler is invoked on every lifecycle transition.
type StatusHandler func(s Status)

// Config controls a Client. Only ServerURL is required.
type Config struct {
	// ServerURL is the websocket endpoint, e.g. ws://localhost:3000/ws.
	ServerURL string
	// Token pins an explicit user token. When empty the client loads one
	// from TokenFile or generates a fresh one.
	Token string
	// TokenFile persists the generated token across restarts. Empty
	// disables persistence.
	TokenFile string
	// TokenMaxAge invalidates persisted tokens older than this. Zero means
	// no age check.
	TokenMaxAge time.Duration

	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	MaxReconnects     int
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
}

// ErrReconnectExhausted is returned by Run when the server stays unreachable
// past the configured attempt limit.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Client maintains one authenticated websocket session, reconnecting with
// exponential backoff when the session drops.
type Client struct {
	config Config
	logger *slog.Logger

	onNotification NotificationHandler
	onStatus       StatusHandler

	mu           sync.Mutex
	conn         *websocket.Conn
	token        string
	connectionID string
	status       Status
}

// New resolves the user token and returns a ready-to-run client. The token is
// taken from config, then from the token file, and finally freshly generated
// (and persisted when a file is configured).
func New(config Config, logger *slog.Logger) (*Client, error) {
	if config.ServerURL == "" {
		return nil, errors.New("server URL is required")
	}
	config.applyDefaults()

	c := &Client{
		config: config,
		logger: logger.With(slog.String("component", "client")),
		status: StatusDisconnected,
	}
	token, err := c.resolveToken()
	if err != nil {
		return nil, err
	}
	c.token = token
	return c, nil
}

// SetNotificationHandler installs the callback for incoming notifications.
// Must be called before Run.
func (c *Client) SetNotificationHandler(h NotificationHandler) { c.onNotification = h }

// SetStatusHandler installs the lifecycle callback. Must be called before Run.
func (c *Client) SetStatusHandler(h StatusHandler) { c.onStatus = h }

// Token returns the user token this client authenticates with.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// ConnectionID returns the id assigned by the server on the last successful
// auth, or "" before the first handshake completes.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Status returns the current lifecycle status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) resolveToken() (string, error) {
	if c.config.Token != "" {
		if !identity.Valid(c.config.Token) {
			return "", fmt.Errorf("configured token is malformed")
		}
		return c.config.Token, nil
	}
	if c.config.TokenFile != "" {
		data, err := os.ReadFile(c.config.TokenFile)
		if err == nil {
			token := strings.TrimSpace(string(data))
			if identity.Valid(token) && !c.stale(token) {
				return token, nil
			}
			c.logger.Warn("Persisted token invalid or expired, generating a new one")
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
	}
	token := identity.Generate()
	if c.config.TokenFile != "" {
		if err := os.WriteFile(c.config.TokenFile, []byte(token+"\n"), 0o600); err != nil {
			return "", fmt.Errorf("failed to persist token: %w", err)
		}
	}
	return token, nil
}

func (c *Client) stale(token string) bool {
	if c.config.TokenMaxAge <= 0 {
		return false
	}
	return identity.Expired(token, c.config.TokenMaxAge)
}

// Run connects and serves the session until ctx is cancelled. Dropped
// sessions are retried with exponential backoff starting at ReconnectBase and
// doubling per attempt; the counter resets after every successful auth. Run
// returns ErrReconnectExhausted once MaxReconnects consecutive attempts fail.
func (c *Client) Run(ctx context.Context) error {
	attempts := 0
	for {
		if attempts > 0 {
			c.setStatus(StatusReconnecting)
			delay := c.config.ReconnectBase << (attempts - 1)
			c.logger.Info("Reconnecting",
				slog.Int("attempt", attempts),
				slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				c.setStatus(StatusDisconnected)
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		authed, err := c.runSession(ctx)
		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return ctx.Err()
		}
		if authed {
			attempts = 0
		}
		attempts++
		if attempts > c.config.MaxReconnects {
			c.setStatus(StatusError)
			return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, c.config.MaxReconnects, err)
		}
		c.logger.Warn("Session ended", slog.Any("error", err))
	}
}

// runSession dials, authenticates and reads until the connection fails. The
// returned bool reports whether auth completed at least once.
func (c *Client) runSession(ctx context.Context) (bool, error) {
	c.setStatus(StatusConnecting)
	conn, _, err := websocket.Dial(ctx, c.config.ServerURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "client closing")

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(StatusConnected)

	if err := c.send(ctx, protocol.Message{Type: protocol.TypeAuth, UserToken: c.Token()}); err != nil {
		return false, fmt.Errorf("auth send failed: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	authed := false
	var heartbeatOnce sync.Once
	for {
		_, data, err := conn.Read(sessionCtx)
		if err != nil {
			return authed, fmt.Errorf("read failed: %w", err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("Dropping malformed frame", slog.Any("error", err))
			continue
		}
		switch msg.Type {
		case protocol.TypeAuthSuccess:
			var ack protocol.AuthSuccess
			if err := json.Unmarshal(data, &ack); err != nil {
				c.logger.Warn("Bad auth_success frame", slog.Any("error", err))
				continue
			}
			c.mu.Lock()
			c.connectionID = ack.ConnectionID
			c.mu.Unlock()
			authed = true
			c.setStatus(StatusAuthenticated)
			heartbeatOnce.Do(func() { go c.heartbeat(sessionCtx) })
		case protocol.TypePing:
			if err := c.send(sessionCtx, protocol.NewPong()); err != nil {
				return authed, fmt.Errorf("pong send failed: %w", err)
			}
		case protocol.TypePong:
			// Reply to our own heartbeat, nothing to do.
		case protocol.TypeError:
			var errMsg protocol.ErrorMessage
			if err := json.Unmarshal(data, &errMsg); err == nil {
				c.logger.Warn("Server reported an error", slog.String("message", errMsg.Message))
			}
		default:
			if protocol.ValidNotificationType(msg.Type) {
				c.deliver(data)
			} else {
				c.logger.Debug("Ignoring unknown message type", slog.String("type", msg.Type))
			}
		}
	}
}

func (c *Client) deliver(data []byte) {
	var n protocol.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		c.logger.Warn("Bad notification frame", slog.Any("error", err))
		return
	}
	if c.onNotification != nil {
		c.onNotification(n)
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(ctx, protocol.NewPing()); err != nil {
				c.logger.Warn("Heartbeat send failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (c *Client) send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if changed && c.onStatus != nil {
		c.onStatus(s)
	}
}
