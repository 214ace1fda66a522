// Package pipeline wires collectors, the dual-write path and feature
// extraction into one supervised run loop.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/collector"
	"main/internal/knowledge"
	"main/internal/mirror"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
)

const (
	defaultQueueSize       = 256
	defaultBlockWait       = 500 * time.Millisecond
	defaultWriteTimeout    = 15 * time.Second
	defaultExtractInterval = 10 * time.Minute
	defaultStatusInterval  = time.Minute
	defaultStopTimeout     = 10 * time.Second
)

var ErrUnknownEntity = errors.New("pipeline: no queue for entity")

// Writer is the persistence surface batches are flushed to.
type Writer interface {
	Write(ctx context.Context, entity enum.Entity, records any, count int) error
	ApplyNewsAssessments(ctx context.Context, assessments []model.NewsAssessment) error
}

// Options tunes the orchestrator run loop.
type Options struct {
	QueueSize       int
	BlockWait       time.Duration
	WriteTimeout    time.Duration
	ExtractInterval time.Duration
	StatusInterval  time.Duration
	StopTimeout     time.Duration

	// Lag, when set, is included in the periodic status log. The
	// dual-write coordinator's Lag method fits here.
	Lag func() []mirror.LagRecord
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.BlockWait <= 0 {
		o.BlockWait = defaultBlockWait
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ExtractInterval <= 0 {
		o.ExtractInterval = defaultExtractInterval
	}
	if o.StatusInterval <= 0 {
		o.StatusInterval = defaultStatusInterval
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = defaultStopTimeout
	}
	return o
}

// Orchestrator owns the run loop: it starts collectors, drains the
// per-entity queues into the writer, and runs extraction rounds on its
// own schedule. Collectors stay decoupled from storage, a slow write
// path never propagates past the bounded queues.
type Orchestrator struct {
	opts       Options
	writer     Writer
	collectors []collector.Collector
	extractor  *knowledge.Extractor // nil disables extraction
	metrics    *obs.Metrics
	trace      *obs.TraceGenerator
	queues     map[enum.Entity]*Queue
}

func NewOrchestrator(writer Writer, collectors []collector.Collector, extractor *knowledge.Extractor, metrics *obs.Metrics, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	queues := make(map[enum.Entity]*Queue, len(enum.Entities()))
	for _, entity := range enum.Entities() {
		queues[entity] = NewQueue(entity, opts.QueueSize, opts.BlockWait, metrics)
	}
	return &Orchestrator{
		opts:       opts,
		writer:     writer,
		collectors: collectors,
		extractor:  extractor,
		metrics:    metrics,
		trace:      obs.NewTraceGenerator(0),
		queues:     queues,
	}
}

// Emit routes a collected batch into its entity queue. Implements
// collector.Emitter.
func (o *Orchestrator) Emit(ctx context.Context, batch collector.Batch) error {
	q, ok := o.queues[batch.Entity]
	if !ok {
		return errors.Wrap(ErrUnknownEntity, batch.Entity.String())
	}
	o.metrics.ObserveBatch(batch.Source, batch.Entity, batch.Count)
	return q.Publish(ctx, batch)
}

// Run blocks until the context ends, then shuts the pipeline down in
// order: collectors first, queues drained next, and only then returns
// so the caller can close the write path.
func (o *Orchestrator) Run(ctx context.Context) error {
	var writers sync.WaitGroup
	for entity, q := range o.queues {
		writers.Add(1)
		go func(entity enum.Entity, q *Queue) {
			defer writers.Done()
			// drains past cancellation; exits when the queue closes
			q.Run(context.Background(), func(batch collector.Batch) {
				o.flush(ctx, batch)
			})
		}(entity, q)
	}

	started := make([]collector.Collector, 0, len(o.collectors))
	for _, c := range o.collectors {
		if err := c.Start(ctx, o); err != nil {
			o.stopCollectors(started)
			o.closeQueues()
			writers.Wait()
			return errors.Wrapf(err, "start collector %s", c.Name())
		}
		started = append(started, c)
		logs.Infof("pipeline: collector %s started", c.Name())
	}

	var background sync.WaitGroup
	if o.extractor != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			o.extractLoop(ctx)
		}()
	}
	background.Add(1)
	go func() {
		defer background.Done()
		o.statusLoop(ctx)
	}()

	<-ctx.Done()
	logs.Info("pipeline: shutting down")

	o.stopCollectors(started)
	background.Wait()
	o.closeQueues()
	writers.Wait()
	logs.Info("pipeline: drained")
	return nil
}

// flush writes one batch, detached from the run context so queued data
// still lands during shutdown.
func (o *Orchestrator) flush(ctx context.Context, batch collector.Batch) {
	traceID := o.trace.Next()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.WriteTimeout)
	defer cancel()

	begin := time.Now()
	if err := o.writer.Write(writeCtx, batch.Entity, batch.Records, batch.Count); err != nil {
		logs.Errorf("pipeline: write %s failed, trace: %d, err: %+v", batch.Entity, traceID, err)
		return
	}
	o.metrics.ObserveWrite(time.Since(begin))
}

func (o *Orchestrator) extractLoop(ctx context.Context) {
	ticker := time.NewTicker(o.opts.ExtractInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.extractOnce(ctx)
		}
	}
}

func (o *Orchestrator) extractOnce(ctx context.Context) {
	begin := time.Now()
	items, assessments, err := o.extractor.Extract(ctx, begin)
	if err != nil {
		if ctx.Err() == nil {
			logs.Errorf("pipeline: extraction round failed, err: %+v", err)
		}
		return
	}
	o.metrics.ObserveExtract(time.Since(begin))
	o.applyAssessments(ctx, assessments)
	if len(items) == 0 {
		return
	}
	if err := o.Emit(ctx, collector.Batch{
		Entity:  enum.EntityKnowledge,
		Records: items,
		Count:   len(items),
	}); err != nil && ctx.Err() == nil {
		logs.Errorf("pipeline: enqueue knowledge items failed, err: %+v", err)
		return
	}
	logs.Infof("pipeline: extraction round produced %d items in %s", len(items), time.Since(begin))
}

// applyAssessments writes enrichment verdicts back onto the source
// articles. A failure costs only this round's write-back; the next
// round re-derives the same verdicts.
func (o *Orchestrator) applyAssessments(ctx context.Context, assessments []model.NewsAssessment) {
	if len(assessments) == 0 {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.WriteTimeout)
	defer cancel()
	if err := o.writer.ApplyNewsAssessments(writeCtx, assessments); err != nil && ctx.Err() == nil {
		logs.Warnf("pipeline: apply news assessments failed, err: %+v", err)
	}
}

func (o *Orchestrator) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(o.opts.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.logStatus()
		}
	}
}

func (o *Orchestrator) logStatus() {
	snapshot := o.metrics.Snapshot()
	logs.Infof("pipeline: records=%v drops=%d write_avg=%s",
		snapshot.RecordCounts, snapshot.QueueDrops, snapshot.WriteLatency.Avg)
	for _, c := range o.collectors {
		state := c.State()
		logs.Infof("pipeline: collector %s status=%s failures=%d", c.Name(), state.Status, state.Failures)
	}
	if o.opts.Lag == nil {
		return
	}
	for _, record := range o.opts.Lag() {
		if record.Primary == 0 && record.Failures == 0 {
			continue
		}
		logs.Infof("pipeline: mirror %s primary=%d mirrored=%d failures=%d",
			record.Entity, record.Primary, record.Mirrored, record.Failures)
	}
}

func (o *Orchestrator) stopCollectors(collectors []collector.Collector) {
	stopCtx, cancel := context.WithTimeout(context.Background(), o.opts.StopTimeout)
	defer cancel()
	for _, c := range collectors {
		if err := c.Stop(stopCtx); err != nil {
			logs.Warnf("pipeline: stop collector %s, err: %+v", c.Name(), err)
		}
	}
}

func (o *Orchestrator) closeQueues() {
	for _, q := range o.queues {
		q.Close()
	}
}
