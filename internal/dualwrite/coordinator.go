// Package dualwrite sequences every persisted batch: the relational
// primary store first, then the search mirror on a best-effort basis.
package dualwrite

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/mirror"
	"main/internal/model"
	"main/internal/model/enum"
)

var (
	ErrClosed         = errors.New("dualwrite: coordinator closed")
	ErrAlreadyStarted = errors.New("dualwrite: coordinator already started")
)

const (
	defaultMirrorQueueSize = 1024
	defaultMirrorWorkers   = 2
	defaultMirrorTimeout   = 10 * time.Second
)

// Primary is the durable write surface. A failure here fails the call.
type Primary interface {
	Write(ctx context.Context, entity enum.Entity, records any) error
	ApplyNewsAssessments(ctx context.Context, assessments []model.NewsAssessment) error
}

// Mirror is the best-effort secondary write surface.
type Mirror interface {
	Write(ctx context.Context, entity enum.Entity, records any) error
	ApplyNewsAssessments(ctx context.Context, assessments []model.NewsAssessment) error
}

// Option tunes the coordinator. Zero values take defaults.
type Option struct {
	MirrorQueueSize int
	MirrorWorkers   int
	MirrorTimeout   time.Duration
}

func (opt Option) withDefaults() Option {
	if opt.MirrorQueueSize <= 0 {
		opt.MirrorQueueSize = defaultMirrorQueueSize
	}
	if opt.MirrorWorkers <= 0 {
		opt.MirrorWorkers = defaultMirrorWorkers
	}
	if opt.MirrorTimeout <= 0 {
		opt.MirrorTimeout = defaultMirrorTimeout
	}
	return opt
}

type mirrorJob struct {
	entity      enum.Entity
	records     any
	count       int
	assessments []model.NewsAssessment
}

// Coordinator writes primary-then-mirror. Mirror writes run on their
// own worker pool so mirror latency or failure never blocks ingestion.
// A nil mirror disables mirroring entirely; the primary path does not
// change and no lag is recorded.
type Coordinator struct {
	primary Primary
	mirror  Mirror
	lag     *mirror.LagTracker
	opt     Option

	jobs    chan mirrorJob
	wg      sync.WaitGroup
	started uint32
	closed  uint32
}

func New(primary Primary, secondary Mirror, opt Option) *Coordinator {
	opt = opt.withDefaults()
	return &Coordinator{
		primary: primary,
		mirror:  secondary,
		lag:     mirror.NewLagTracker(),
		opt:     opt,
		jobs:    make(chan mirrorJob, opt.MirrorQueueSize),
	}
}

// Start launches the mirror worker pool. A coordinator without a mirror
// still starts cleanly and skips the pool.
func (c *Coordinator) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&c.started, 0, 1) {
		return ErrAlreadyStarted
	}
	if c.mirror == nil {
		return nil
	}
	for i := 0; i < c.opt.MirrorWorkers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runMirrorWorker(ctx)
		}()
	}
	return nil
}

// Write persists one batch. The primary write is synchronous; if it
// fails the mirror is never attempted and the error is returned. On
// primary success the batch is handed to the mirror pool and the call
// returns nil regardless of the mirror outcome.
func (c *Coordinator) Write(ctx context.Context, entity enum.Entity, records any, count int) error {
	if atomic.LoadUint32(&c.closed) != 0 {
		return ErrClosed
	}
	if err := c.primary.Write(ctx, entity, records); err != nil {
		return errors.Wrap(err, "primary write failed")
	}
	if c.mirror == nil {
		return nil
	}
	c.lag.RecordPrimary(entity, count)

	select {
	case c.jobs <- mirrorJob{entity: entity, records: records, count: count}:
	default:
		c.lag.RecordFailure(entity)
		logs.Warnf("dualwrite: mirror queue full, dropped %d %s records", count, entity)
	}
	return nil
}

// ApplyNewsAssessments pushes enrichment verdicts onto stored articles,
// primary first, mirror best-effort like any other write. Assessments
// update rows in place, so they do not move the lag counters.
func (c *Coordinator) ApplyNewsAssessments(ctx context.Context, assessments []model.NewsAssessment) error {
	if len(assessments) == 0 {
		return nil
	}
	if atomic.LoadUint32(&c.closed) != 0 {
		return ErrClosed
	}
	if err := c.primary.ApplyNewsAssessments(ctx, assessments); err != nil {
		return errors.Wrap(err, "primary assessment update failed")
	}
	if c.mirror == nil {
		return nil
	}
	select {
	case c.jobs <- mirrorJob{entity: enum.EntityNews, assessments: assessments}:
	default:
		c.lag.RecordFailure(enum.EntityNews)
		logs.Warnf("dualwrite: mirror queue full, dropped %d assessment updates", len(assessments))
	}
	return nil
}

// Close stops accepting writes and drains queued mirror jobs.
func (c *Coordinator) Close() {
	if atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		close(c.jobs)
	}
	c.wg.Wait()
}

// Lag reports per-entity mirror drift.
func (c *Coordinator) Lag() []mirror.LagRecord {
	return c.lag.Snapshot()
}

func (c *Coordinator) runMirrorWorker(ctx context.Context) {
	for job := range c.jobs {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opt.MirrorTimeout)
		var err error
		if len(job.assessments) != 0 {
			err = c.mirror.ApplyNewsAssessments(writeCtx, job.assessments)
		} else {
			err = c.mirror.Write(writeCtx, job.entity, job.records)
		}
		cancel()
		if err != nil {
			c.lag.RecordFailure(job.entity)
			logs.Warnf("dualwrite: mirror write failed for %d %s records, err: %+v", job.count, job.entity, err)
			continue
		}
		if len(job.assessments) == 0 {
			c.lag.RecordMirrored(job.entity, job.count)
		}
	}
}
