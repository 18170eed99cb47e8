package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/JE-lee/whisper-comment/pkg/client"
	"github.com/JE-lee/whisper-comment/pkg/identity"
	"github.com/JE-lee/whisper-comment/pkg/protocol"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// wsURL rewrites an httptest server URL into a websocket one.
func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// echoAuthServer accepts a connection, verifies the auth frame and replies
// with auth_success, then hands the connection to script.
func echoAuthServer(t *testing.T, script func(ctx context.Context, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Errorf("accept failed: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var auth protocol.Message
		if err := json.Unmarshal(data, &auth); err != nil || auth.Type != protocol.TypeAuth {
			t.Errorf("expected auth frame, got %s", data)
			return
		}
		if !identity.Valid(auth.UserToken) {
			t.Errorf("client sent malformed token %q", auth.UserToken)
			return
		}
		ack, _ := json.Marshal(protocol.NewAuthSuccess("11111111-2222-4333-8444-555555555555"))
		if err := conn.Write(ctx, websocket.MessageText, ack); err != nil {
			return
		}
		if script != nil {
			script(ctx, conn)
		}
	}))
}

func TestTokenPersistedAcrossClients(t *testing.T) {
	file := filepath.Join(t.TempDir(), "token")

	first, err := client.New(client.Config{ServerURL: "ws://unused", TokenFile: file}, newTestLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !identity.Valid(first.Token()) {
		t.Fatalf("generated token %q is malformed", first.Token())
	}

	second, err := client.New(client.Config{ServerURL: "ws://unused", TokenFile: file}, newTestLogger())
	if err != nil {
		t.Fatalf("New failed on reload: %v", err)
	}
	if second.Token() != first.Token() {
		t.Fatalf("token not reused: %q vs %q", second.Token(), first.Token())
	}
}

func TestCorruptTokenFileRegenerates(t *testing.T) {
	file := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(file, []byte("not-a-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := client.New(client.Config{ServerURL: "ws://unused", TokenFile: file}, newTestLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !identity.Valid(c.Token()) {
		t.Fatalf("regenerated token %q is malformed", c.Token())
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != c.Token() {
		t.Fatalf("token file not rewritten, contains %q", data)
	}
}

func TestMalformedConfiguredTokenRejected(t *testing.T) {
	_, err := client.New(client.Config{ServerURL: "ws://unused", Token: "bogus"}, newTestLogger())
	if err == nil {
		t.Fatal("expected error for malformed configured token")
	}
}

func TestHandshakeAndNotificationDelivery(t *testing.T) {
	notified := make(chan protocol.Notification, 1)
	srv := echoAuthServer(t, func(ctx context.Context, conn *websocket.Conn) {
		frame, _ := json.Marshal(protocol.Notification{
			Type:      protocol.TypeNewComment,
			Data:      protocol.NotificationData{CommentID: "c-1", SiteID: "s-1", PageIdentifier: "/post"},
			Timestamp: time.Now().UTC(),
		})
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			return
		}
		// Keep the connection open until the client goes away.
		_, _, _ = conn.Read(ctx)
	})
	defer srv.Close()

	c, err := client.New(client.Config{ServerURL: wsURL(srv)}, newTestLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var mu sync.Mutex
	var statuses []client.Status
	c.SetStatusHandler(func(s client.Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})
	c.SetNotificationHandler(func(n protocol.Notification) {
		select {
		case notified <- n:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()

	select {
	case n := <-notified:
		if n.Type != protocol.TypeNewComment || n.Data.CommentID != "c-1" {
			t.Errorf("unexpected notification: %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}

	if got := c.ConnectionID(); got != "11111111-2222-4333-8444-555555555555" {
		t.Errorf("connection id not captured, got %q", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	sawAuthed := false
	for _, s := range statuses {
		if s == client.StatusAuthenticated {
			sawAuthed = true
		}
	}
	if !sawAuthed {
		t.Errorf("never reached authenticated status, saw %v", statuses)
	}
}

func TestServerPingGetsPong(t *testing.T) {
	gotPong := make(chan struct{})
	srv := echoAuthServer(t, func(ctx context.Context, conn *websocket.Conn) {
		ping, _ := json.Marshal(protocol.NewPing())
		if err := conn.Write(ctx, websocket.MessageText, ping); err != nil {
			return
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame protocol.Keepalive
		if err := json.Unmarshal(data, &frame); err == nil && frame.Type == protocol.TypePong {
			close(gotPong)
		}
		_, _, _ = conn.Read(ctx)
	})
	defer srv.Close()

	c, err := client.New(client.Config{ServerURL: wsURL(srv)}, newTestLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	select {
	case <-gotPong:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received a pong")
	}
}

func TestReconnectExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c, err := client.New(client.Config{
		ServerURL:     wsURL(srv),
		ReconnectBase: time.Millisecond,
		MaxReconnects: 2,
	}, newTestLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = c.Run(context.Background())
	if !errors.Is(err, client.ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", err)
	}
	if c.Status() != client.StatusError {
		t.Errorf("status = %q, want %q", c.Status(), client.StatusError)
	}
}

func TestReconnectCounterResetsAfterAuth(t *testing.T) {
	var mu sync.Mutex
	sessions := 0
	srv := echoAuthServer(t, func(ctx context.Context, conn *websocket.Conn) {
		mu.Lock()
		sessions++
		n := sessions
		mu.Unlock()
		if n < 3 {
			// Drop the session right after auth to force a reconnect.
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		_, _, _ = conn.Read(ctx)
	})
	defer srv.Close()

	c, err := client.New(client.Config{
		ServerURL:     wsURL(srv),
		ReconnectBase: time.Millisecond,
		MaxReconnects: 1,
	}, newTestLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	authed := make(chan client.Status, 16)
	c.SetStatusHandler(func(s client.Status) {
		if s == client.StatusAuthenticated {
			authed <- s
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	// Two dropped sessions plus the surviving one. With MaxReconnects=1 the
	// run only survives because each successful auth resets the counter.
	for i := 0; i < 3; i++ {
		select {
		case <-authed:
		case err := <-runErr:
			t.Fatalf("Run gave up early: %v", err)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for auth %d", i+1)
		}
	}
}
