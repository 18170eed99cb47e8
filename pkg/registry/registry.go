// Package registry holds the only in-process mapping from connection id to a
// live, writable socket. It is owned by the server's startup routine and
// passed by reference to the session handlers and the dispatcher; nothing
// else ever sees the socket handles.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/JE-lee/whisper-comment/pkg/directory"
)

// Socket is the write-half of a live connection. transport.Connection
// implements it; tests substitute fakes.
type Socket interface {
	WriteText(ctx context.Context, message []byte) error
}

// Entry pairs a connection id with its socket, for broadcast snapshots.
type Entry struct {
	ConnectionID uuid.UUID
	Socket       Socket
}

type Registry struct {
	mu    sync.Mutex
	conns map[uuid.UUID]Socket

	dir    directory.Directory
	logger *slog.Logger
}

func New(dir directory.Directory, logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]Socket),
		dir:    dir,
		logger: logger.With(slog.String("component", "registry")),
	}
}

// Add allocates a fresh connection id, registers the directory entry and then
// stores the local mapping. The directory write happens first: if it fails
// the error propagates and no local entry is left behind, so the registry
// never claims a connection the directory does not know about.
func (r *Registry) Add(ctx context.Context, userToken string, sock Socket) (uuid.UUID, error) {
	connID := uuid.New()

	if err := r.dir.RegisterConnection(ctx, userToken, connID.String()); err != nil {
		r.logger.Error("directory registration failed, refusing connection",
			slog.String("connID", connID.String()), slog.Any("error", err))
		return uuid.Nil, fmt.Errorf("register directory entry: %w", err)
	}

	r.mu.Lock()
	r.conns[connID] = sock
	r.mu.Unlock()

	r.logger.Debug("connection registered",
		slog.String("connID", connID.String()), slog.String("userToken", userToken))
	return connID, nil
}

// Remove deletes the local mapping and the backing directory entry. It is
// idempotent: removing an unknown or already-removed id is a no-op. Directory
// failures are logged and swallowed; the local entry is gone either way and
// the directory keys expire with their TTL.
func (r *Registry) Remove(ctx context.Context, connID uuid.UUID) {
	r.mu.Lock()
	_, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	if err := r.dir.UnregisterConnection(ctx, connID.String()); err != nil {
		r.logger.Warn("directory unregister failed, entry will expire by TTL",
			slog.String("connID", connID.String()), slog.Any("error", err))
	}
	r.logger.Debug("connection removed", slog.String("connID", connID.String()))
}

// Get returns the socket for a locally-owned connection id.
func (r *Registry) Get(connID uuid.UUID) (Socket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sock, ok := r.conns[connID]
	return sock, ok
}

// Count returns the number of live local connections. Diagnostic only.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Snapshot returns the current entries. Broadcasts iterate the snapshot so a
// concurrent Remove cannot invalidate the loop.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, len(r.conns))
	for id, sock := range r.conns {
		entries = append(entries, Entry{ConnectionID: id, Socket: sock})
	}
	return entries
}
