package users

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

// Per-IP brute-force protection, independent of and additional to each
// SipUser's own lockout counter: a single source IP hammering many
// different (or nonexistent) usernames would otherwise never trip any one
// user's failure counter.
const (
	ipMaxFailedAttempts = 10
	ipBlockDuration     = 5 * time.Minute
	ipMaxBlockDuration  = 24 * time.Hour
	ipFailureWindow     = 10 * time.Minute
)

type ipRecord struct {
	failures  []time.Time
	blocked   bool
	blockedAt time.Time
	blockFor  time.Duration
}

// IPGuard blocks source IPs that rack up too many failed authentications
// across any username, with progressive backoff on repeat offenders.
type IPGuard struct {
	mu      sync.Mutex
	records map[string]*ipRecord
	log     *slog.Logger
}

// NewIPGuard creates an empty guard.
func NewIPGuard(log *slog.Logger) *IPGuard {
	if log == nil {
		log = slog.Default()
	}
	return &IPGuard{records: make(map[string]*ipRecord), log: log.With("subsystem", "ipguard")}
}

// IsBlocked reports whether source ("ip" or "ip:port") is currently blocked.
func (g *IPGuard) IsBlocked(source string) bool {
	ip := extractIP(source)
	if ip == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[ip]
	if !ok || !rec.blocked {
		return false
	}
	if time.Since(rec.blockedAt) > rec.blockFor {
		rec.blocked = false
		rec.failures = nil
		return false
	}
	return true
}

// RecordFailure records a failed auth attempt from source, blocking it once
// ipMaxFailedAttempts is reached within ipFailureWindow.
func (g *IPGuard) RecordFailure(source string) {
	ip := extractIP(source)
	if ip == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[ip]
	if !ok {
		rec = &ipRecord{blockFor: ipBlockDuration}
		g.records[ip] = rec
	}
	if rec.blocked {
		return
	}

	now := time.Now()
	rec.failures = pruneOldFailures(rec.failures, now, ipFailureWindow)
	rec.failures = append(rec.failures, now)

	if len(rec.failures) >= ipMaxFailedAttempts {
		rec.blocked = true
		rec.blockedAt = now
		rec.failures = nil
		g.log.Warn("ip blocked for excessive failed sip auth attempts", "ip", ip, "block_duration", rec.blockFor.String())

		next := rec.blockFor * 2
		if next > ipMaxBlockDuration {
			next = ipMaxBlockDuration
		}
		rec.blockFor = next
	}
}

// RecordSuccess clears the failure counter for source on successful auth.
func (g *IPGuard) RecordSuccess(source string) {
	ip := extractIP(source)
	if ip == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.records[ip]; ok {
		rec.failures = nil
	}
}

// Cleanup expires stale blocks and drops empty records. Intended to run
// alongside nonce cleanup on a periodic ticker.
func (g *IPGuard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for ip, rec := range g.records {
		if rec.blocked && now.Sub(rec.blockedAt) > rec.blockFor {
			rec.blocked = false
			rec.failures = nil
		}
		if !rec.blocked && len(rec.failures) == 0 {
			delete(g.records, ip)
		}
	}
}

func extractIP(source string) string {
	if source == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(source)
	if err != nil {
		if net.ParseIP(source) != nil {
			return source
		}
		return ""
	}
	return host
}

func pruneOldFailures(failures []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	var pruned []time.Time
	for _, t := range failures {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	return pruned
}
