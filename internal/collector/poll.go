package collector

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/model/enum"
)

const (
	defaultPollInterval  = time.Minute
	defaultRetryInterval = 5 * time.Second
	defaultMaxRetries    = 3
)

// PollSource fetches one round of records on demand.
type PollSource interface {
	FetchOnce(ctx context.Context) ([]Batch, error)
}

// PollConfig configures a polling collector.
type PollConfig struct {
	Source        enum.Source
	Interval      time.Duration
	RetryInterval time.Duration
	MaxRetries    int
	StopGrace     time.Duration
	OnState       func(State)
}

func (cfg PollConfig) withDefaults() PollConfig {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	return cfg
}

// Poll runs a source on a fixed schedule. A failed tick is retried up
// to MaxRetries with RetryInterval spacing, then logged and skipped;
// the next scheduled tick still fires on time and a missed tick never
// escalates to Backoff.
type Poll struct {
	cfg   PollConfig
	src   PollSource
	state *stateTracker

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoll(src PollSource, cfg PollConfig) *Poll {
	cfg = cfg.withDefaults()
	return &Poll{
		cfg:   cfg,
		src:   src,
		state: newStateTracker(cfg.Source, cfg.OnState),
	}
}

func (p *Poll) Name() string { return p.cfg.Source.String() }

func (p *Poll) State() State { return p.state.snapshot() }

func (p *Poll) Start(ctx context.Context, emitter Emitter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		p.run(runCtx, emitter)
	}()
	return nil
}

func (p *Poll) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return ErrNotRunning
	}
	cancel()

	select {
	case <-done:
	case <-time.After(p.cfg.StopGrace):
		logs.Warnf("collector %s: stop grace period expired, forcing shutdown", p.cfg.Source)
	case <-ctx.Done():
	}
	p.state.setStatus(enum.CollectorDisconnected)
	return nil
}

func (p *Poll) run(ctx context.Context, emitter Emitter) {
	p.state.setStatus(enum.CollectorConnecting)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// first collection happens immediately, then on the fixed schedule
	p.tick(ctx, emitter)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, emitter)
		}
	}
}

// tick runs one scheduled collection with bounded retries.
func (p *Poll) tick(ctx context.Context, emitter Emitter) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}
		batches, err := p.src.FetchOnce(ctx)
		if err == nil {
			p.state.resetFailures()
			p.state.setStatus(enum.CollectorStreaming)
			p.emit(ctx, emitter, batches)
			return
		}
		lastErr = err
		if attempt < p.cfg.MaxRetries {
			logs.Warnf("collector %s: fetch attempt %d/%d failed, err: %+v",
				p.cfg.Source, attempt, p.cfg.MaxRetries, err)
			p.sleepRetry(ctx)
		}
	}
	// interval surfaced as failed, skipped; resume at the next tick
	p.state.tickFailure()
	logs.Errorf("collector %s: interval skipped after %d attempts, err: %+v",
		p.cfg.Source, p.cfg.MaxRetries, lastErr)
}

func (p *Poll) emit(ctx context.Context, emitter Emitter, batches []Batch) {
	for _, batch := range batches {
		if batch.Count == 0 {
			continue
		}
		if err := emitter.Emit(ctx, batch); err != nil && ctx.Err() == nil {
			logs.Warnf("collector %s: emit failed, err: %+v", p.cfg.Source, err)
		}
	}
}

func (p *Poll) sleepRetry(ctx context.Context) {
	timer := time.NewTimer(p.cfg.RetryInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
