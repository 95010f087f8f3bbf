package fetch

import (
	"fmt"
	"sync/atomic"

	"github.com/trionica/catalog-enricher/pkg/utils"
)

// RequestBudget caps outbound provider calls for one run.
// A zero limit means unlimited. A nil budget is unlimited too.
type RequestBudget struct {
	limit int64
	used  atomic.Int64
}

// NewRequestBudget creates a budget of limit calls
func NewRequestBudget(limit int) *RequestBudget {
	return &RequestBudget{limit: int64(limit)}
}

// Take reserves one call, or returns ErrBudgetExhausted
func (b *RequestBudget) Take() error {
	if b == nil || b.limit <= 0 {
		return nil
	}
	if n := b.used.Add(1); n > b.limit {
		b.used.Add(-1)
		return fmt.Errorf("%w: %d requests used", utils.ErrBudgetExhausted, b.limit)
	}
	return nil
}

// Exhausted reports whether no calls remain
func (b *RequestBudget) Exhausted() bool {
	if b == nil || b.limit <= 0 {
		return false
	}
	return b.used.Load() >= b.limit
}

// Used returns the number of reserved calls
func (b *RequestBudget) Used() int64 {
	if b == nil {
		return 0
	}
	return b.used.Load()
}

// Remaining returns calls left, or -1 when unlimited
func (b *RequestBudget) Remaining() int64 {
	if b == nil || b.limit <= 0 {
		return -1
	}
	if r := b.limit - b.used.Load(); r > 0 {
		return r
	}
	return 0
}
