// Package collector ingests raw records from external market data and
// news sources. Each collector owns one upstream connection or polling
// schedule, normalizes payloads into model batches, and emits them to
// the pipeline fan-in. Reconnect and retry state never leaks past the
// owning collector.
package collector

import (
	"context"

	"github.com/yanun0323/errors"

	"main/internal/model/enum"
)

var (
	// ErrMalformedRecord marks a payload that failed normalization.
	// The record is dropped with a warning; connection state is not
	// affected.
	ErrMalformedRecord = errors.New("collector: malformed record")

	ErrAlreadyRunning = errors.New("collector: already running")
	ErrNotRunning     = errors.New("collector: not running")
)

// Batch is a normalized set of records of one entity from one source.
type Batch struct {
	Source  enum.Source
	Entity  enum.Entity
	Records any
	Count   int
}

// Emitter receives normalized batches. Emit may block briefly under
// backpressure; the fan-in side bounds the wait and sheds load, so a
// collector is never stalled indefinitely.
type Emitter interface {
	Emit(ctx context.Context, batch Batch) error
}

// Collector is the lifecycle contract shared by streaming and polling
// variants. After a Stop/Start cycle a collector resumes from "now":
// sources here do not support replay offsets.
type Collector interface {
	Name() string
	Start(ctx context.Context, emitter Emitter) error
	Stop(ctx context.Context) error
	State() State
}
