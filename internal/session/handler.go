// Package session drives the per-connection lifecycle: the auth handshake,
// the heartbeat, and teardown. Each live connection owns exactly one Handler,
// and that Handler is the sole writer of registry entries for its connection.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JE-lee/whisper-comment/pkg/identity"
	"github.com/JE-lee/whisper-comment/pkg/protocol"
	"github.com/JE-lee/whisper-comment/pkg/registry"
)

// State of a connection's lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Handler is the state machine for one connection.
type Handler struct {
	registry          *registry.Registry
	conn              registry.Socket
	heartbeatInterval time.Duration
	logger            *slog.Logger

	mu        sync.Mutex
	state     State
	connID    uuid.UUID
	userToken string

	heartbeatStop chan struct{}
}

func NewHandler(reg *registry.Registry, conn registry.Socket, heartbeatInterval time.Duration, logger *slog.Logger) *Handler {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &Handler{
		registry:          reg,
		conn:              conn,
		heartbeatInterval: heartbeatInterval,
		logger:            logger.With(slog.String("component", "session")),
		state:             StateConnecting,
	}
}

// State returns the current lifecycle state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ConnectionID returns the registry id assigned at authentication, or
// uuid.Nil before that.
func (h *Handler) ConnectionID() uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connID
}

// HandleMessage processes one inbound frame. A malformed or unexpected frame
// answers with an error message or a log line; it never tears the connection
// down.
func (h *Handler) HandleMessage(ctx context.Context, _ uuid.UUID, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		h.logger.Warn("dropping malformed frame", slog.Any("error", err))
		h.send(ctx, protocol.NewError("Invalid message format"))
		return
	}

	switch msg.Type {
	case protocol.TypeAuth:
		h.handleAuth(ctx, msg.UserToken)
	case protocol.TypePing:
		h.send(ctx, protocol.NewPong())
	case protocol.TypePong:
		// client acked our heartbeat; liveness is judged by socket errors,
		// not by pong arrival
	default:
		h.logger.Warn("ignoring unknown message type",
			slog.String("type", msg.Type), slog.String("state", h.State().String()))
	}
}

// handleAuth binds the connection to a user token. An auth on an
// already-authenticated connection silently replaces the binding: the old
// registry entry is released and a fresh one registered under the new token.
func (h *Handler) handleAuth(ctx context.Context, userToken string) {
	if !identity.Valid(userToken) {
		h.logger.Warn("rejected auth with malformed token")
		h.send(ctx, protocol.NewError("Invalid user token"))
		return
	}

	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return
	}
	previousID := h.connID
	h.mu.Unlock()

	if previousID != uuid.Nil {
		h.registry.Remove(ctx, previousID)
	}

	connID, err := h.registry.Add(ctx, userToken, h.conn)
	if err != nil {
		// the connection must not claim success without directory backing
		h.logger.Error("authentication failed", slog.Any("error", err))
		h.send(ctx, protocol.NewError("Authentication failed"))
		return
	}

	h.mu.Lock()
	if h.state == StateClosed {
		// the connection died while the directory round-trip was in
		// flight; OnClose already ran and saw no id, so the entry is
		// ours to release
		h.mu.Unlock()
		h.registry.Remove(ctx, connID)
		return
	}
	h.state = StateAuthenticated
	h.connID = connID
	h.userToken = userToken
	startHeartbeat := h.heartbeatStop == nil
	if startHeartbeat {
		h.heartbeatStop = make(chan struct{})
	}
	stop := h.heartbeatStop
	h.mu.Unlock()

	h.send(ctx, protocol.NewAuthSuccess(connID.String()))
	h.logger.Info("connection authenticated",
		slog.String("connID", connID.String()), slog.String("userToken", userToken))

	if startHeartbeat {
		go h.heartbeat(stop)
	}
}

// heartbeat sends a ping at a fixed interval. A failed write means the
// connection is going away; the transport close path handles cleanup.
func (h *Handler) heartbeat(stop chan struct{}) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), h.heartbeatInterval)
			err := h.write(ctx, protocol.NewPing())
			cancel()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// OnClose releases everything the connection owned. Safe to call more than
// once and regardless of whether authentication ever happened.
func (h *Handler) OnClose(_ uuid.UUID, err error) {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return
	}
	h.state = StateClosed
	connID := h.connID
	h.connID = uuid.Nil
	if h.heartbeatStop != nil {
		close(h.heartbeatStop)
		h.heartbeatStop = nil
	}
	h.mu.Unlock()

	if connID != uuid.Nil {
		// the connection's context is gone by now; cleanup gets its own
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.registry.Remove(ctx, connID)
	}
	h.logger.Info("session closed", slog.Any("reason", err))
}

func (h *Handler) send(ctx context.Context, msg any) {
	if err := h.write(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("failed to send frame", slog.Any("error", err))
	}
}

func (h *Handler) write(ctx context.Context, msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.conn.WriteText(ctx, raw)
}
