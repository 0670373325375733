// Package guard blocks re-submission of an already-attempted symbol+side
// order within the same trading day.
package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/tradewire/execd/internal/ledger"
	"github.com/tradewire/execd/internal/types"
)

// DuplicateGuard answers "has this symbol+side already been attempted
// today". Entries are keyed by trading day so they self-expire; Prune only
// exists to keep the table from growing without bound.
//
// Check followed by Record is safe without extra locking because the
// sequencer processes intents one at a time within a phase; the ledger's
// unique constraint backstops any external writer regardless.
type DuplicateGuard struct {
	store     ledger.Store
	loc       *time.Location
	retention time.Duration
	logger    *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a duplicate guard over the given ledger store. Trading days
// are computed in loc, the market timezone.
func New(store ledger.Store, loc *time.Location, retention time.Duration, logger *slog.Logger) *DuplicateGuard {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	return &DuplicateGuard{
		store:     store,
		loc:       loc,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// TradingDay returns the guard key for the current trading day.
func (g *DuplicateGuard) TradingDay() string {
	return g.now().In(g.loc).Format("2006-01-02")
}

// Check reports whether symbol+side was already attempted today.
func (g *DuplicateGuard) Check(ctx context.Context, symbol string, side types.Side) (bool, error) {
	return g.store.HasGuardEntry(ctx, symbol, side, g.TradingDay())
}

// Record marks symbol+side as attempted today. Called atomically with a
// successful submission; returns types.ErrDuplicateIntent if the entry
// already exists.
func (g *DuplicateGuard) Record(ctx context.Context, symbol string, side types.Side) error {
	return g.store.RecordGuardEntry(ctx, symbol, side, g.TradingDay())
}

// Prune removes guard entries older than the retention window.
func (g *DuplicateGuard) Prune(ctx context.Context) (int64, error) {
	cutoff := g.now().In(g.loc).Add(-g.retention).Format("2006-01-02")

	n, err := g.store.PruneGuardEntries(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		g.logger.Debug("pruned guard entries", "count", n, "before", cutoff)
	}
	return n, nil
}
