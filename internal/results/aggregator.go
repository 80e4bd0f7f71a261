// Package results accumulates per-link records into a stable mapping keyed by
// the original input link.
package results

import (
	"sync"

	"github.com/ikun245/telegram-linkstools/internal/check"
)

// Aggregator stores the latest record per original link. It is safe for
// concurrent producers; Snapshot never blocks them beyond the copy itself.
// Duplicate submissions overwrite: last write wins, matching the behavior of
// the tool this engine replaced.
type Aggregator struct {
	mu      sync.RWMutex
	records map[string]check.Record
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{records: make(map[string]check.Record)}
}

// Record stores or overwrites the entry for the record's original link.
func (a *Aggregator) Record(rec check.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[rec.Original] = rec
}

// Snapshot returns a copy of the current mapping.
func (a *Aggregator) Snapshot() map[string]check.Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]check.Record, len(a.records))
	for k, v := range a.records {
		out[k] = v
	}
	return out
}

// Len reports the number of distinct original links recorded.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// Clear resets the aggregator. Callers must only clear between runs; the
// engine never clears on its own.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = make(map[string]check.Record)
}
