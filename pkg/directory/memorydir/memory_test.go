package memorydir_test

import (
	"context"
	"testing"
	"time"

	"github.com/JE-lee/whisper-comment/pkg/directory/memorydir"
)

func TestRegisterRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := memorydir.New(time.Hour)

	if err := d.RegisterConnection(ctx, "wc_t1_u1", "conn-1"); err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}

	id, _ := d.ConnectionID(ctx, "wc_t1_u1")
	if id != "conn-1" {
		t.Errorf("ConnectionID = %q, want conn-1", id)
	}
	token, _ := d.UserToken(ctx, "conn-1")
	if token != "wc_t1_u1" {
		t.Errorf("UserToken = %q, want wc_t1_u1", token)
	}
	online, _ := d.IsOnline(ctx, "wc_t1_u1")
	if !online {
		t.Error("expected token to be online after registration")
	}
}

func TestUnregisterRemovesAllThreeKeys(t *testing.T) {
	ctx := context.Background()
	d := memorydir.New(time.Hour)
	_ = d.RegisterConnection(ctx, "wc_t1_u1", "conn-1")

	if err := d.UnregisterConnection(ctx, "conn-1"); err != nil {
		t.Fatalf("UnregisterConnection failed: %v", err)
	}

	if id, _ := d.ConnectionID(ctx, "wc_t1_u1"); id != "" {
		t.Errorf("ConnectionID still resolves after unregister: %q", id)
	}
	if token, _ := d.UserToken(ctx, "conn-1"); token != "" {
		t.Errorf("UserToken still resolves after unregister: %q", token)
	}
	if online, _ := d.IsOnline(ctx, "wc_t1_u1"); online {
		t.Error("token still online after unregister")
	}
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	ctx := context.Background()
	d := memorydir.New(time.Hour)
	_ = d.RegisterConnection(ctx, "wc_t1_u1", "conn-1")

	if err := d.UnregisterConnection(ctx, "never-registered"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id, _ := d.ConnectionID(ctx, "wc_t1_u1"); id != "conn-1" {
		t.Error("unrelated entry was affected by a no-op unregister")
	}
}

func TestReAuthOverwritesMapping(t *testing.T) {
	ctx := context.Background()
	d := memorydir.New(time.Hour)
	_ = d.RegisterConnection(ctx, "wc_t1_u1", "conn-1")
	_ = d.RegisterConnection(ctx, "wc_t1_u1", "conn-2")

	id, _ := d.ConnectionID(ctx, "wc_t1_u1")
	if id != "conn-2" {
		t.Errorf("ConnectionID = %q, want most recent conn-2", id)
	}
	// the old reverse mapping is orphaned until TTL, mirroring the Redis
	// behavior of a fresh auth overwriting token->conn only
	if token, _ := d.UserToken(ctx, "conn-1"); token != "wc_t1_u1" {
		t.Errorf("orphaned reverse mapping lost: %q", token)
	}
}

func TestEntriesExpireTogether(t *testing.T) {
	ctx := context.Background()
	d := memorydir.New(time.Hour)

	current := time.Now()
	d.SetClock(func() time.Time { return current })
	_ = d.RegisterConnection(ctx, "wc_t1_u1", "conn-1")

	current = current.Add(time.Hour + time.Second)

	if id, _ := d.ConnectionID(ctx, "wc_t1_u1"); id != "" {
		t.Errorf("ConnectionID survived TTL: %q", id)
	}
	if token, _ := d.UserToken(ctx, "conn-1"); token != "" {
		t.Errorf("UserToken survived TTL: %q", token)
	}
	if online, _ := d.IsOnline(ctx, "wc_t1_u1"); online {
		t.Error("online flag survived TTL")
	}
}
