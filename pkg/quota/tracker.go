// Package quota enforces the per-identity daily query limit.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agorai/agorai/pkg/models"
	"github.com/agorai/agorai/pkg/store"
)

var (
	// ErrQuotaExceeded is returned when an identity has used its daily queries.
	ErrQuotaExceeded = errors.New("daily query limit reached")
	// ErrStoreUnavailable is returned when the quota store cannot be reached.
	// Callers must fail closed.
	ErrStoreUnavailable = errors.New("quota store unavailable")
)

// Day formats t as the UTC calendar date used for quota windows.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Tracker decides admission and records usage against a Store.
type Tracker struct {
	store store.Store
	limit int
	locks *keyLocks
}

// New creates a Tracker allowing limit queries per identity per day.
func New(s store.Store, limit int) *Tracker {
	return &Tracker{store: s, limit: limit, locks: newKeyLocks()}
}

// Limit returns the configured daily limit.
func (t *Tracker) Limit() int {
	return t.limit
}

// Admission is an admitted request holding its identity's quota slot.
// Exactly one of Record or Release must be called.
type Admission struct {
	tracker *Tracker
	key     string
	day     string
	once    sync.Once
	unlock  func()
}

// Admit checks whether key may issue a query on today. On success the
// identity stays locked until the Admission is recorded or released, so the
// decision and the later increment form one unit.
func (t *Tracker) Admit(ctx context.Context, key string, today time.Time) (*Admission, error) {
	unlock, err := t.locks.lock(ctx, key)
	if err != nil {
		return nil, err
	}

	day := Day(today)
	rec, ok, err := t.store.Get(ctx, key)
	if err != nil {
		unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if ok && rec.WindowDate >= day && rec.Count >= t.limit {
		unlock()
		return nil, ErrQuotaExceeded
	}

	return &Admission{tracker: t, key: key, day: day, unlock: unlock}, nil
}

// Record consumes one quota unit for the admitted request and releases the
// identity.
func (a *Admission) Record(ctx context.Context) error {
	defer a.Release()

	_, err := a.tracker.store.Increment(ctx, a.key, a.day, a.tracker.limit)
	switch {
	case errors.Is(err, store.ErrLimitReached):
		return ErrQuotaExceeded
	case err != nil:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Release gives the identity back without consuming quota. Safe to call
// after Record.
func (a *Admission) Release() {
	a.once.Do(a.unlock)
}

// Status returns usage for key on today.
func (t *Tracker) Status(ctx context.Context, key string, today time.Time) (models.QuotaStatus, error) {
	day := Day(today)
	st := models.QuotaStatus{IdentityKey: key, WindowDate: day, Limit: t.limit}

	rec, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return st, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if ok && rec.WindowDate >= day {
		st.Used = rec.Count
	}
	st.Remaining = t.limit - st.Used
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	return st, nil
}

// Reset clears the record for key.
func (t *Tracker) Reset(ctx context.Context, key string) error {
	return t.store.Reset(ctx, key)
}
