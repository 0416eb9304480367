package digestauth

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rustalk/sbc/internal/clock"
)

const (
	maxFailedAttempts = 10
	blockDuration     = 5 * time.Minute
	maxBlockDuration  = 24 * time.Hour
	failureWindow     = 10 * time.Minute

	// challengeRatePerSecond bounds how many fresh challenges a single
	// source may provoke per second, independent of the failure-count
	// guard above; it absorbs bursts before they ever reach MD5 work.
	challengeRatePerSecond = 5
	challengeBurst         = 10
)

type ipRecord struct {
	failures  []time.Time
	blocked   bool
	blockedAt time.Time
	blockFor  time.Duration
	limiter   *rate.Limiter
}

// Guard implements fail2ban-style progressive blocking: repeated digest
// failures from the same source within a sliding window trigger a block
// whose duration doubles on each subsequent offense, capped at 24 hours.
type Guard struct {
	mu      sync.Mutex
	records map[string]*ipRecord
	logger  *slog.Logger
	clock   clock.Clock
}

// NewGuard creates an empty brute-force guard.
func NewGuard(logger *slog.Logger) *Guard {
	return &Guard{
		records: make(map[string]*ipRecord),
		logger:  logger.With("subsystem", "bruteforce"),
		clock:   clock.System,
	}
}

// IsBlocked reports whether source is currently within an active block
// window, also consulting the per-source challenge-rate limiter.
func (g *Guard) IsBlocked(source string) bool {
	ip := extractIP(source)

	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.records[ip]
	if rec == nil {
		return false
	}
	if rec.blocked {
		if g.clock.Now().Sub(rec.blockedAt) < rec.blockFor {
			return true
		}
		rec.blocked = false
	}
	if rec.limiter != nil && !rec.limiter.Allow() {
		return true
	}
	return false
}

// RecordFailure logs a failed authentication attempt for source. Once
// maxFailedAttempts occur within failureWindow, the source is blocked for
// blockFor, doubling on each repeat offense up to maxBlockDuration.
func (g *Guard) RecordFailure(source string) {
	ip := extractIP(source)
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.records[ip]
	if rec == nil {
		rec = &ipRecord{limiter: rate.NewLimiter(rate.Limit(challengeRatePerSecond), challengeBurst)}
		g.records[ip] = rec
	}

	rec.failures = append(rec.failures, now)
	rec.failures = pruneOlderThan(rec.failures, now, failureWindow)

	if len(rec.failures) < maxFailedAttempts {
		return
	}

	if rec.blockFor == 0 {
		rec.blockFor = blockDuration
	} else {
		rec.blockFor *= 2
		if rec.blockFor > maxBlockDuration {
			rec.blockFor = maxBlockDuration
		}
	}
	rec.blocked = true
	rec.blockedAt = now
	rec.failures = nil

	g.logger.Warn("source blocked after repeated auth failures", "source", ip, "block_for", rec.blockFor)
}

// RecordSuccess clears the failure history for source; it does not lift an
// already-active block, which must expire on its own.
func (g *Guard) RecordSuccess(source string) {
	ip := extractIP(source)

	g.mu.Lock()
	defer g.mu.Unlock()

	if rec := g.records[ip]; rec != nil {
		rec.failures = nil
	}
}

// Cleanup drops records with no recent failures and no active block,
// bounding memory use under sustained traffic.
func (g *Guard) Cleanup() {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for ip, rec := range g.records {
		if rec.blocked && now.Sub(rec.blockedAt) < rec.blockFor {
			continue
		}
		rec.failures = pruneOlderThan(rec.failures, now, failureWindow)
		if len(rec.failures) == 0 && !rec.blocked {
			delete(g.records, ip)
		} else if rec.blocked {
			rec.blocked = false
		}
	}
}

// BlockedIPs returns the set of sources currently under an active block.
func (g *Guard) BlockedIPs() []string {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	var out []string
	for ip, rec := range g.records {
		if rec.blocked && now.Sub(rec.blockedAt) < rec.blockFor {
			out = append(out, ip)
		}
	}
	return out
}

// UnblockIP clears any active block and failure history for ip immediately,
// an operator escape hatch for false positives.
func (g *Guard) UnblockIP(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records, ip)
}

func pruneOlderThan(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// extractIP strips a port suffix from a "host:port" source, tolerating bare
// host strings (e.g. a source already normalized by the caller).
func extractIP(source string) string {
	if host, _, err := net.SplitHostPort(source); err == nil {
		return host
	}
	return source
}
