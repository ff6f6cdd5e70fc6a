package bootstrap

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	ip string
	ts time.Time
}

var (
	records    = make(map[string]entry)
	recordsMux sync.RWMutex
	ttl        = 10 * time.Minute
)

// Cache resolves domain through Resolve and remembers the answer for ten
// minutes.
func Cache(domain string) (string, error) {
	recordsMux.RLock()
	e, ok := records[domain]
	recordsMux.RUnlock()

	// 命中缓存
	if ok && time.Since(e.ts) < ttl {
		slog.Debug("bootstrap cache hit", "domain", domain, "ip", e.ip)
		return e.ip, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*queryTimeout)
	defer cancel()
	ip, err := Resolve(ctx, domain)
	if err != nil {
		return "", err
	}

	// 更新缓存
	recordsMux.Lock()
	records[domain] = entry{ip: ip, ts: time.Now()}
	recordsMux.Unlock()

	slog.Info("bootstrap cache update", "domain", domain, "ip", ip)

	return ip, nil
}
