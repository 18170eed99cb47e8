// Package notify delivers comment notifications to live connections.
// Delivery is at-most-once and best-effort: a notification either reaches the
// socket now or it is dropped, and no delivery failure ever propagates back
// to the code that raised the notification.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JE-lee/whisper-comment/pkg/directory"
	"github.com/JE-lee/whisper-comment/pkg/protocol"
	"github.com/JE-lee/whisper-comment/pkg/registry"
)

type Dispatcher struct {
	registry *registry.Registry
	dir      directory.Directory
	logger   *slog.Logger
}

func NewDispatcher(reg *registry.Registry, dir directory.Directory, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		dir:      dir,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch delivers a notification to its target connection, or to every
// locally-registered connection when no target token is set. The only error
// it returns is a caller bug (bad type, unmarshalable payload); delivery
// failures are handled in place by reclaiming the dead connection.
func (d *Dispatcher) Dispatch(ctx context.Context, n *protocol.Notification) error {
	if !protocol.ValidNotificationType(n.Type) {
		return fmt.Errorf("invalid notification type %q", n.Type)
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if n.Targeted() {
		d.sendToToken(ctx, n.TargetToken, payload, n.Type)
		return nil
	}
	d.broadcast(ctx, payload, n.Type)
	return nil
}

// sendToToken resolves the token through the directory and writes to the
// local socket if this process owns it. A miss at any step is a silent skip.
func (d *Dispatcher) sendToToken(ctx context.Context, userToken string, payload []byte, msgType string) {
	connIDStr, err := d.dir.ConnectionID(ctx, userToken)
	if err != nil || connIDStr == "" {
		d.logger.Debug("target not online, dropping notification",
			slog.String("userToken", userToken), slog.String("type", msgType))
		return
	}
	connID, err := uuid.Parse(connIDStr)
	if err != nil {
		d.logger.Warn("directory returned malformed connection id",
			slog.String("connID", connIDStr), slog.Any("error", err))
		return
	}
	sock, ok := d.registry.Get(connID)
	if !ok {
		// directory entry exists but this process does not own the socket:
		// either it expired locally or another instance holds it
		d.logger.Debug("no local socket for directory entry, dropping notification",
			slog.String("connID", connIDStr), slog.String("type", msgType))
		return
	}

	if err := sock.WriteText(ctx, payload); err != nil {
		d.logger.Warn("write failed, reclaiming connection",
			slog.String("connID", connIDStr), slog.Any("error", err))
		d.registry.Remove(ctx, connID)
		return
	}
	d.logger.Debug("notification delivered",
		slog.String("userToken", userToken), slog.String("type", msgType))
}

// broadcast writes to a snapshot of every registered connection. One bad
// socket is reclaimed and must never block delivery to the rest.
func (d *Dispatcher) broadcast(ctx context.Context, payload []byte, msgType string) {
	entries := d.registry.Snapshot()
	delivered := 0
	for _, entry := range entries {
		if err := entry.Socket.WriteText(ctx, payload); err != nil {
			d.logger.Warn("broadcast write failed, reclaiming connection",
				slog.String("connID", entry.ConnectionID.String()), slog.Any("error", err))
			d.registry.Remove(ctx, entry.ConnectionID)
			continue
		}
		delivered++
	}
	d.logger.Debug("broadcast complete",
		slog.String("type", msgType),
		slog.Int("delivered", delivered),
		slog.Int("total", len(entries)))
}
