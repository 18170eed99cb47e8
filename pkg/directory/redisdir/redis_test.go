package redisdir

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func TestRedisDirectory(t *testing.T) {
	// Skip test if Redis is not available
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   3, // separate DB for directory tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.FlushDB(ctx)

	d := NewWithClient(client, "test:", time.Hour, testLogger())
	defer d.Close()

	t.Run("RegisterRoundTrip", func(t *testing.T) {
		if err := d.RegisterConnection(ctx, "wc_t1_u1", "conn-1"); err != nil {
			t.Fatalf("RegisterConnection failed: %v", err)
		}
		id, err := d.ConnectionID(ctx, "wc_t1_u1")
		if err != nil || id != "conn-1" {
			t.Errorf("ConnectionID = %q, %v; want conn-1", id, err)
		}
		token, err := d.UserToken(ctx, "conn-1")
		if err != nil || token != "wc_t1_u1" {
			t.Errorf("UserToken = %q, %v; want wc_t1_u1", token, err)
		}
		online, _ := d.IsOnline(ctx, "wc_t1_u1")
		if !online {
			t.Error("expected online after registration")
		}
	})

	t.Run("KeysCarryTTL", func(t *testing.T) {
		_ = d.RegisterConnection(ctx, "wc_t2_u2", "conn-2")
		for _, key := range []string{
			"test:ws:conn:wc_t2_u2",
			"test:ws:reverse:conn-2",
			"test:user:online:wc_t2_u2",
		} {
			ttl, err := client.TTL(ctx, key).Result()
			if err != nil {
				t.Fatalf("TTL(%s) failed: %v", key, err)
			}
			if ttl <= 0 {
				t.Errorf("key %s has no expiry", key)
			}
		}
	})

	t.Run("Unregister", func(t *testing.T) {
		_ = d.RegisterConnection(ctx, "wc_t3_u3", "conn-3")
		if err := d.UnregisterConnection(ctx, "conn-3"); err != nil {
			t.Fatalf("UnregisterConnection failed: %v", err)
		}
		if id, _ := d.ConnectionID(ctx, "wc_t3_u3"); id != "" {
			t.Errorf("ConnectionID after unregister: %q", id)
		}
		if online, _ := d.IsOnline(ctx, "wc_t3_u3"); online {
			t.Error("still online after unregister")
		}
	})

	t.Run("UnregisterUnknownIsNoop", func(t *testing.T) {
		if err := d.UnregisterConnection(ctx, "never-registered"); err != nil {
			t.Errorf("expected no-op, got %v", err)
		}
	})

	t.Run("LookupMissReturnsEmpty", func(t *testing.T) {
		id, err := d.ConnectionID(ctx, "wc_missing_token")
		if err != nil || id != "" {
			t.Errorf("ConnectionID = %q, %v; want empty, nil", id, err)
		}
		online, err := d.IsOnline(ctx, "wc_missing_token")
		if err != nil || online {
			t.Errorf("IsOnline = %v, %v; want false, nil", online, err)
		}
	})
}
