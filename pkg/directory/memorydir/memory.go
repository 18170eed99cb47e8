// Package memorydir is an in-process connection directory with the same TTL
// semantics as the Redis implementation. It backs tests and single-binary
// development setups where no external store is available.
package memorydir

import (
	"context"
	"sync"
	"time"

	"github.com/JE-lee/whisper-comment/pkg/directory"
)

type entry struct {
	value     string
	expiresAt time.Time
}

type Dir struct {
	mu  sync.Mutex
	ttl time.Duration
	// now is swappable so tests can advance time.
	now func() time.Time

	conns   map[string]entry // userToken -> connectionID
	reverse map[string]entry // connectionID -> userToken
	online  map[string]entry // userToken -> "1"
}

var _ directory.Directory = (*Dir)(nil)

func New(ttl time.Duration) *Dir {
	if ttl <= 0 {
		ttl = directory.DefaultTTL
	}
	return &Dir{
		ttl:     ttl,
		now:     time.Now,
		conns:   make(map[string]entry),
		reverse: make(map[string]entry),
		online:  make(map[string]entry),
	}
}

// SetClock overrides the time source. Test hook.
func (d *Dir) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

func (d *Dir) RegisterConnection(_ context.Context, userToken, connectionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp := d.now().Add(d.ttl)
	d.conns[userToken] = entry{value: connectionID, expiresAt: exp}
	d.reverse[connectionID] = entry{value: userToken, expiresAt: exp}
	d.online[userToken] = entry{value: "1", expiresAt: exp}
	return nil
}

func (d *Dir) UnregisterConnection(_ context.Context, connectionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rev, ok := d.reverse[connectionID]
	if !ok || d.expired(rev) {
		return nil
	}
	delete(d.conns, rev.value)
	delete(d.reverse, connectionID)
	delete(d.online, rev.value)
	return nil
}

func (d *Dir) ConnectionID(_ context.Context, userToken string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.get(d.conns, userToken), nil
}

func (d *Dir) UserToken(_ context.Context, connectionID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.get(d.reverse, connectionID), nil
}

func (d *Dir) IsOnline(_ context.Context, userToken string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.get(d.online, userToken) == "1", nil
}

// get returns the live value for key, lazily dropping expired entries.
func (d *Dir) get(m map[string]entry, key string) string {
	e, ok := m[key]
	if !ok {
		return ""
	}
	if d.expired(e) {
		delete(m, key)
		return ""
	}
	return e.value
}

func (d *Dir) expired(e entry) bool {
	return !d.now().Before(e.expiresAt)
}
