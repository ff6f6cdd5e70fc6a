package cache

import (
	"sync"
	"time"
)

// Record is the cached resolution of one hostname. Addresses and expiry
// never change after creation; only the round-robin cursor moves.
type Record struct {
	mu        sync.Mutex
	expiry    time.Time
	addresses []string
	cursor    int
}

// NewRecord returns nil when addresses is empty: an empty resolution is
// never cached.
func NewRecord(addresses []string, ttl time.Duration, now time.Time) *Record {
	if len(addresses) == 0 {
		return nil
	}
	return &Record{
		expiry:    now.Add(ttl),
		addresses: append([]string(nil), addresses...),
	}
}

// First returns the address handed out by the lookup that created r.
func (r *Record) First() string {
	return r.addresses[0]
}

// Next advances the cursor and returns the address under it. It reports
// false, without moving the cursor, once now is past the expiry.
func (r *Record) Next(now time.Time) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.After(r.expiry) {
		return "", false
	}
	r.cursor = (r.cursor + 1) % len(r.addresses)
	return r.addresses[r.cursor], true
}

func (r *Record) Expired(now time.Time) bool {
	return now.After(r.expiry)
}

func (r *Record) Expiry() time.Time {
	return r.expiry
}

func (r *Record) Addresses() []string {
	return append([]string(nil), r.addresses...)
}

func (r *Record) Cursor() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}
