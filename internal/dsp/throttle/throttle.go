// Package throttle implements the DSP bandwidth governor described in
// spec.md §4.6: a wall-clock token bucket with two consumption modes
// (try-consume for ordinary dispatch, force-consume-with-debt for
// commands already committed to the pending queue) and a running
// estimate of the wire compression ratio used to size a command's
// token cost before compression actually runs.
//
// The locking and config-struct shape follows
// internal/protocol/smb/session/credits.go's credit system (a
// conceptually adjacent flow-control mechanism — SMB2 grants fixed
// credit units per response, DSP meters continuous bytes/sec), adapted
// from a per-response grant counter to a continuously refilling bucket
// because spec.md §4.6 calls for "a configurable bandwidth limit in
// bytes/sec", not a discrete per-exchange grant.
package throttle

import (
	"sync"
	"time"
)

// compressionRatioAlpha is the EWMA smoothing factor applied to each
// realized compression-ratio sample. A new sample moves the running
// estimate by compressionRatioAlpha of the distance to the sample.
const compressionRatioAlpha = 0.2

// burstSeconds bounds token accumulation to this many seconds' worth
// of bandwidth, so a long-idle throttler cannot grant an unbounded
// burst the moment traffic resumes.
const burstSeconds = 1.0

// Throttler meters outgoing bytes against a bytes/sec bandwidth limit.
// A zero BandwidthLimit means unlimited: both consumption modes always
// succeed and no tokens are tracked.
type Throttler struct {
	mu sync.Mutex

	bandwidthLimit float64 // bytes/sec; 0 = unlimited
	tokens         float64 // may go negative (debt) after ForceConsume
	lastRefill     time.Time

	// compressionRatio is the running estimate of compressedBytes/rawBytes,
	// used to size a command's token cost before its payload is
	// actually compressed. Starts at 1.0 (spec.md §9 open question:
	// "a reasonable initial value (1.0, i.e. no compression benefit)
	// is implied but must be made explicit").
	compressionRatio float64

	clock func() time.Time
}

// New returns a Throttler limited to bandwidthLimit bytes/sec. A limit
// of 0 or less means unlimited.
func New(bandwidthLimit float64) *Throttler {
	return newWithClock(bandwidthLimit, time.Now)
}

func newWithClock(bandwidthLimit float64, clock func() time.Time) *Throttler {
	return &Throttler{
		bandwidthLimit:   bandwidthLimit,
		compressionRatio: 1.0,
		lastRefill:       clock(),
		clock:            clock,
	}
}

// Unlimited reports whether this throttler imposes no bandwidth cap.
func (t *Throttler) Unlimited() bool {
	return t.bandwidthLimit <= 0
}

// estimatedCost returns the token cost of dispatching rawBytes of
// payload, applying the current compression ratio estimate.
func (t *Throttler) estimatedCost(rawBytes int) float64 {
	return float64(rawBytes) * t.compressionRatio
}

func (t *Throttler) refillLocked() {
	now := t.clock()
	elapsed := now.Sub(t.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	t.tokens += elapsed * t.bandwidthLimit
	if cap := t.bandwidthLimit * burstSeconds; t.tokens > cap {
		t.tokens = cap
	}
	t.lastRefill = now
}

// TryConsume attempts to spend the estimated token cost of rawBytes.
// It refuses (returning false, spending nothing) if the bucket lacks
// sufficient tokens; the caller is expected to push the command to
// PENDING and retry later, per spec.md §4.6.
func (t *Throttler) TryConsume(rawBytes int) bool {
	if t.Unlimited() {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.refillLocked()
	cost := t.estimatedCost(rawBytes)
	if t.tokens < cost {
		return false
	}
	t.tokens -= cost
	return true
}

// ForceConsume spends the estimated token cost of rawBytes
// unconditionally, driving the bucket into debt if necessary. The
// channel package does not call it: its restart and retry tasks both
// dispatch through TryConsume.
func (t *Throttler) ForceConsume(rawBytes int) {
	if t.Unlimited() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.refillLocked()
	t.tokens -= t.estimatedCost(rawBytes)
}

// Available reports the current token balance (may be negative).
func (t *Throttler) Available() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refillLocked()
	return t.tokens
}

// RecordCompression folds one realized (compressedBytes, rawBytes)
// sample into the running compression-ratio estimate via EWMA.
// rawBytes <= 0 is ignored (nothing to divide by).
func (t *Throttler) RecordCompression(compressedBytes, rawBytes int) {
	if rawBytes <= 0 {
		return
	}
	sample := float64(compressedBytes) / float64(rawBytes)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.compressionRatio += compressionRatioAlpha * (sample - t.compressionRatio)
}

// CompressionRatio returns the current running estimate.
func (t *Throttler) CompressionRatio() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.compressionRatio
}
