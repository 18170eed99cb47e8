package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/JE-lee/whisper-comment/internal/server/middleware"
	"github.com/JE-lee/whisper-comment/internal/session"
	"github.com/JE-lee/whisper-comment/pkg/config"
	"github.com/JE-lee/whisper-comment/pkg/directory"
	"github.com/JE-lee/whisper-comment/pkg/notify"
	"github.com/JE-lee/whisper-comment/pkg/registry"
	"github.com/JE-lee/whisper-comment/pkg/transport"
)

type App struct {
	logger     *slog.Logger
	registry   *registry.Registry
	dispatcher *notify.Dispatcher
	notifySvc  *notify.Service
	wg         sync.WaitGroup
	http       *http.Server
	config     *config.Config

	// mu orders connection starts against shutdown: once draining is set
	// no new connection may join the wait group.
	mu       sync.Mutex
	draining bool

	ctx context.Context
}

// NewApp wires the fan-out core together. The directory and the collaborator
// clients are injected so tests and development setups can swap them out.
func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, dir directory.Directory, comments notify.Comments, pusher notify.Pusher) *App {
	reg := registry.New(dir, logger)
	dispatcher := notify.NewDispatcher(reg, dir, logger)
	notifySvc := notify.NewService(dispatcher, dir, comments, pusher, logger)

	app := &App{
		logger:     logger,
		registry:   reg,
		dispatcher: dispatcher,
		notifySvc:  notifySvc,
		config:     cfg,
		ctx:        rootCtx,
	}

	mux := http.NewServeMux()

	mux.Handle("GET /ws", middleware.Chain(
		http.HandlerFunc(app.upgradeHandler),
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(app.logger),
		middleware.NewConnectionLimiter(
			logger,
			reg.Count,
			cfg.Server.ConnectionLimit.MaxConnections,
		),
	))
	mux.Handle("GET /ws/status", middleware.Chain(
		http.HandlerFunc(app.statusHandler),
		middleware.RequestMetadataMiddleware(),
	))
	mux.Handle("POST /api/notify", middleware.Chain(
		http.HandlerFunc(app.notifyHandler),
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(app.logger),
		middleware.NewServiceAuthMiddleware(logger, cfg.Server.Auth.ServiceSecret),
	))

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

// upgradeHandler accepts the WebSocket, hands the connection its own session
// handler and blocks until the connection dies. The handler is the only code
// that ever touches registry entries for this connection.
func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger
	if reqMeta != nil {
		connLogger = a.logger.With(slog.String("remoteAddr", reqMeta.IP))
	}

	a.mu.Lock()
	if a.draining {
		a.mu.Unlock()
		http.Error(w, "Server Shutting Down", http.StatusServiceUnavailable)
		return
	}
	a.mu.Unlock()

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		connLogger,
	)
	handler := session.NewHandler(a.registry, conn, a.config.Heartbeat.Interval, connLogger)
	conn.SetOnMessageHandler(handler.HandleMessage)
	conn.SetOnCloseHandler(handler.OnClose)

	// Run registers the connection with the wait group, so it must not
	// happen once Shutdown is past the drain point.
	a.mu.Lock()
	if a.draining {
		a.mu.Unlock()
		wsConn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	conn.Run()
	a.mu.Unlock()

	connLogger.Info("WebSocket connection established")
	<-conn.Done()
}

func (a *App) statusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": a.registry.Count(),
		"status":      "running",
	})
}

// notifyRequest is the body backend collaborators post to trigger a
// notification fan-out.
type notifyRequest struct {
	Event   string `json:"event"`
	Comment struct {
		CommentID      string `json:"commentId"`
		SiteID         string `json:"siteId"`
		PageIdentifier string `json:"pageIdentifier"`
		Content        string `json:"content,omitempty"`
		AuthorNickname string `json:"authorNickname,omitempty"`
		AuthorToken    string `json:"authorToken,omitempty"`
		ParentID       string `json:"parentId,omitempty"`
	} `json:"comment"`
}

const (
	eventCommentCreated  = "comment_created"
	eventCommentApproved = "comment_approved"
	eventCommentRejected = "comment_rejected"
)

// notifyHandler turns a collaborator event into a fan-out. Delivery is
// fire-and-forget, so the response only acknowledges that the event was
// accepted, never that anyone received it.
func (a *App) notifyHandler(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	if req.Comment.CommentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "commentId is required"})
		return
	}

	ev := notify.CommentEvent{
		CommentID:      req.Comment.CommentID,
		SiteID:         req.Comment.SiteID,
		PageIdentifier: req.Comment.PageIdentifier,
		Content:        req.Comment.Content,
		AuthorNickname: req.Comment.AuthorNickname,
		AuthorToken:    req.Comment.AuthorToken,
		ParentID:       req.Comment.ParentID,
	}

	ctx := r.Context()
	switch req.Event {
	case eventCommentCreated:
		a.notifySvc.CommentCreated(ctx, ev)
	case eventCommentApproved:
		a.notifySvc.CommentApproved(ctx, ev)
	case eventCommentRejected:
		a.notifySvc.CommentRejected(ctx, ev)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown event"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	a.mu.Lock()
	a.draining = true
	a.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Every connection context derives from the root context, which is
	// already cancelled by the time Run reaches Shutdown; the pumps unwind
	// themselves and release their registry entries.
	a.logger.Info("Waiting for active connections to close...")
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
