package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/go-faster/errors"

	"github.com/ecomkit/promostack/internal/domain/coupon"
)

// entry holds one coupon's counters. Its mutex serializes check-then-
// increment per coupon, so a commit never races a cap past its limit.
type entry struct {
	mu     sync.Mutex
	global int
	users  map[string]int
}

// Memory is an in-process Ledger. Counter mutation is guarded per coupon,
// not by a whole-ledger lock: concurrent commits touching disjoint coupons
// never contend.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
}

var _ Ledger = (*Memory)(nil)

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*entry)}
}

// entryFor returns the coupon's entry, creating it on first use.
func (m *Memory) entryFor(couponID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[couponID]
	if !ok {
		e = &entry{users: make(map[string]int)}
		m.entries[couponID] = e
	}
	return e
}

// Counts returns a snapshot of one coupon's counters for the given user.
func (m *Memory) Counts(_ context.Context, couponID, userID string) (coupon.Counts, error) {
	e := m.entryFor(couponID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return coupon.Counts{Global: e.global, User: e.users[userID]}, nil
}

// Commit atomically consumes one use of every reserved coupon for the user.
// Entries are locked in sorted coupon-ID order so concurrent batches cannot
// deadlock. All caps are re-checked under lock before any counter moves;
// the first exhausted cap aborts the batch with a ConflictError and leaves
// every counter untouched.
func (m *Memory) Commit(_ context.Context, userID string, reservations []Reservation) error {
	if len(reservations) == 0 {
		return nil
	}

	sorted := make([]Reservation, len(reservations))
	copy(sorted, reservations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CouponID < sorted[j].CouponID })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].CouponID == sorted[i-1].CouponID {
			return errors.Errorf("duplicate coupon %s in commit batch", sorted[i].CouponID)
		}
	}

	locked := make([]*entry, 0, len(sorted))
	unlock := func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}

	for _, r := range sorted {
		e := m.entryFor(r.CouponID)
		e.mu.Lock()
		locked = append(locked, e)
	}
	defer unlock()

	// Phase one: verify every slot is still available.
	for i, r := range sorted {
		e := locked[i]
		if r.GlobalCap > 0 && e.global >= r.GlobalCap {
			return &ConflictError{CouponID: r.CouponID}
		}
		if r.PerUserCap > 0 && e.users[userID] >= r.PerUserCap {
			return &ConflictError{CouponID: r.CouponID, PerUser: true}
		}
	}

	// Phase two: consume. Nothing below can fail, so the batch is atomic.
	for i := range sorted {
		e := locked[i]
		e.global++
		e.users[userID]++
	}
	return nil
}
