package collector

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/model/enum"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultStopGrace   = 5 * time.Second
)

// StreamSource dials the upstream and yields a subscribed connection.
// The concrete wire protocol lives behind this capability.
type StreamSource interface {
	Dial(ctx context.Context) (StreamConn, error)
}

// StreamConn is one logical upstream connection. Read blocks until the
// next normalized batch, a malformed payload (ErrMalformedRecord), or a
// connection-level error.
type StreamConn interface {
	Subscribe(ctx context.Context, symbols []string) error
	Read(ctx context.Context) (Batch, error)
	Close() error
}

// StreamConfig configures a streaming collector.
type StreamConfig struct {
	Source      enum.Source
	Symbols     []string
	DialTimeout time.Duration
	StopGrace   time.Duration
	Backoff     Backoff
	OnState     func(State)
}

func (cfg StreamConfig) withDefaults() StreamConfig {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	return cfg
}

// Stream maintains one logical subscription to a streaming source. On
// unexpected disconnect it re-dials with exponential backoff and
// unlimited retries; a connect attempt that cannot establish within
// DialTimeout counts as a failure.
type Stream struct {
	cfg   StreamConfig
	src   StreamSource
	state *stateTracker

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	conn   StreamConn
}

func NewStream(src StreamSource, cfg StreamConfig) *Stream {
	cfg = cfg.withDefaults()
	return &Stream{
		cfg:   cfg,
		src:   src,
		state: newStateTracker(cfg.Source, cfg.OnState),
	}
}

func (s *Stream) Name() string { return s.cfg.Source.String() }

func (s *Stream) State() State { return s.state.snapshot() }

// Start launches the connect/read loop in its own goroutine.
func (s *Stream) Start(ctx context.Context, emitter Emitter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.run(runCtx, emitter)
	}()
	return nil
}

// Stop cancels the loop and waits for in-flight work up to the stop
// grace period. The upstream read is not context aware, so once the
// grace period expires the live connection is closed, which unblocks
// the reader and lets the loop exit.
func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return ErrNotRunning
	}
	cancel()

	select {
	case <-done:
	case <-time.After(s.cfg.StopGrace):
		logs.Warnf("collector %s: stop grace period expired, closing connection", s.cfg.Source)
		s.closeConn()
		<-done
	case <-ctx.Done():
		s.closeConn()
	}
	s.state.setStatus(enum.CollectorDisconnected)
	return nil
}

func (s *Stream) trackConn(conn StreamConn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Stream) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Stream) run(ctx context.Context, emitter Emitter) {
	attempt := 0
	for ctx.Err() == nil {
		conn, ok := s.connect(ctx)
		if !ok {
			attempt++
			s.sleepBackoff(ctx, attempt)
			continue
		}

		s.trackConn(conn)
		s.state.setStatus(enum.CollectorStreaming)
		if s.readLoop(ctx, conn, emitter) {
			attempt = 0
		} else {
			attempt++
		}
		s.trackConn(nil)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		s.sleepBackoff(ctx, attempt)
	}
}

// connect dials and subscribes within the dial timeout. Failures count
// against the backoff schedule.
func (s *Stream) connect(ctx context.Context) (StreamConn, bool) {
	s.state.setStatus(enum.CollectorConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	conn, err := s.src.Dial(dialCtx)
	if err != nil {
		if ctx.Err() == nil {
			logs.Warnf("collector %s: dial failed, err: %+v", s.cfg.Source, err)
		}
		return nil, false
	}
	if err := conn.Subscribe(dialCtx, s.cfg.Symbols); err != nil {
		_ = conn.Close()
		if ctx.Err() == nil {
			logs.Warnf("collector %s: subscribe failed, err: %+v", s.cfg.Source, err)
		}
		return nil, false
	}
	return conn, true
}

// readLoop pumps batches until the connection breaks. It reports
// whether at least one record was received, which resets the failure
// count per the reconnect policy.
func (s *Stream) readLoop(ctx context.Context, conn StreamConn, emitter Emitter) (received bool) {
	for {
		batch, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, ErrMalformedRecord) {
				logs.Warnf("collector %s: dropped malformed record, err: %+v", s.cfg.Source, err)
				continue
			}
			if ctx.Err() == nil {
				logs.Warnf("collector %s: connection lost, err: %+v", s.cfg.Source, err)
			}
			return received
		}
		if !received {
			received = true
			s.state.resetFailures()
		}
		if batch.Count == 0 {
			continue
		}
		if err := emitter.Emit(ctx, batch); err != nil && ctx.Err() == nil {
			logs.Warnf("collector %s: emit failed, err: %+v", s.cfg.Source, err)
		}
	}
}

func (s *Stream) sleepBackoff(ctx context.Context, attempt int) {
	wait := s.cfg.Backoff.Next(attempt)
	s.state.fail(time.Now().Add(wait))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
