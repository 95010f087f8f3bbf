// Package keys manages the ordered API keys of the primary search provider.
// The rotation cursor lives on the active configuration record; callers read
// and advance it only through a Rotator.
package keys

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/metrics"
)

// Rotator is passive: it advances only when a caller reports a rate limit.
// Safe for concurrent use; Advance is an atomic compare-and-rotate.
type Rotator struct {
	mu       sync.Mutex
	cfg      *config.PrimarySearchConfig
	onRotate func(index int) // Persist hook, called with the new index under the lock
	log      *logrus.Entry
}

// NewRotator wraps cfg. onRotate may be nil.
func NewRotator(cfg *config.PrimarySearchConfig, onRotate func(index int), log *logrus.Entry) *Rotator {
	r := &Rotator{cfg: cfg, onRotate: onRotate, log: log}
	r.mu.Lock()
	r.clampLocked()
	r.mu.Unlock()
	return r
}

// clampLocked resets the cursor when the key list shrank below it
func (r *Rotator) clampLocked() {
	n := len(r.cfg.APIKeys)
	if n == 0 || r.cfg.CurrentKeyIndex < 0 || r.cfg.CurrentKeyIndex >= n {
		r.cfg.CurrentKeyIndex = 0
	}
}

// Current returns the key at the cursor, or false when no keys are configured
func (r *Rotator) Current() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clampLocked()
	if len(r.cfg.APIKeys) == 0 {
		return "", false
	}
	return r.cfg.APIKeys[r.cfg.CurrentKeyIndex], true
}

// Rotate advances the cursor modulo the key count.
// Returns false if one or fewer keys are available.
func (r *Rotator) Rotate(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateLocked(reason)
}

// Advance rotates only if usedKey is still current, so two in-flight callers
// that hit the same limit move the cursor once. Returns true when the
// current key now differs from usedKey.
func (r *Rotator) Advance(reason, usedKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clampLocked()
	if len(r.cfg.APIKeys) > 1 && r.cfg.APIKeys[r.cfg.CurrentKeyIndex] != usedKey {
		return true
	}
	return r.rotateLocked(reason)
}

func (r *Rotator) rotateLocked(reason string) bool {
	r.clampLocked()
	n := len(r.cfg.APIKeys)
	if n <= 1 {
		r.log.WithField("reason", reason).Warn("Key rotation unavailable: fewer than two API keys configured")
		return false
	}
	from := r.cfg.CurrentKeyIndex
	r.cfg.CurrentKeyIndex = (from + 1) % n
	metrics.KeyRotations.Inc()
	r.log.WithFields(logrus.Fields{
		"reason": reason, "from_index": from, "to_index": r.cfg.CurrentKeyIndex,
	}).Info("Rotated primary search API key")
	if r.onRotate != nil {
		r.onRotate(r.cfg.CurrentKeyIndex)
	}
	return true
}

// Reset moves the cursor back to the first key
func (r *Rotator) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.CurrentKeyIndex = 0
	if r.onRotate != nil {
		r.onRotate(0)
	}
}

// Index returns the cursor position
func (r *Rotator) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clampLocked()
	return r.cfg.CurrentKeyIndex
}

// Len returns the number of configured keys
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cfg.APIKeys)
}
