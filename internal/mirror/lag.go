package mirror

import (
	"sync/atomic"

	"main/internal/model/enum"
)

// LagRecord is a point-in-time view of mirror drift for one entity.
// Drift is observed and reported, never auto-healed.
type LagRecord struct {
	Entity     enum.Entity
	Primary    uint64
	Mirrored   uint64
	Failures   uint64
	LagRecords uint64
}

type lagCell struct {
	primary  atomic.Uint64
	mirrored atomic.Uint64
	failures atomic.Uint64
}

// LagTracker counts primary and mirror record sequences per entity. It
// is mutated only by the dual-write path and read as snapshots.
type LagTracker struct {
	cells map[enum.Entity]*lagCell
}

func NewLagTracker() *LagTracker {
	cells := make(map[enum.Entity]*lagCell, len(enum.Entities()))
	for _, entity := range enum.Entities() {
		cells[entity] = &lagCell{}
	}
	return &LagTracker{cells: cells}
}

// RecordPrimary advances the primary sequence after a durable write.
func (t *LagTracker) RecordPrimary(entity enum.Entity, count int) {
	if cell, ok := t.cells[entity]; ok && count > 0 {
		cell.primary.Add(uint64(count))
	}
}

// RecordMirrored advances the confirmed mirror sequence.
func (t *LagTracker) RecordMirrored(entity enum.Entity, count int) {
	if cell, ok := t.cells[entity]; ok && count > 0 {
		cell.mirrored.Add(uint64(count))
	}
}

// RecordFailure counts a failed mirror write.
func (t *LagTracker) RecordFailure(entity enum.Entity) {
	if cell, ok := t.cells[entity]; ok {
		cell.failures.Add(1)
	}
}

// Snapshot returns current lag records for every entity.
func (t *LagTracker) Snapshot() []LagRecord {
	out := make([]LagRecord, 0, len(t.cells))
	for _, entity := range enum.Entities() {
		cell := t.cells[entity]
		primary := cell.primary.Load()
		mirrored := cell.mirrored.Load()
		var lag uint64
		if primary > mirrored {
			lag = primary - mirrored
		}
		out = append(out, LagRecord{
			Entity:     entity,
			Primary:    primary,
			Mirrored:   mirrored,
			Failures:   cell.failures.Load(),
			LagRecords: lag,
		})
	}
	return out
}
