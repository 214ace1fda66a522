package collector

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/internal/model/enum"
)

type readResult struct {
	batch Batch
	err   error
}

// scriptedConn replays a fixed read script, then blocks until closed.
type scriptedConn struct {
	script []readResult
	idx    int
	closed chan struct{}
	once   sync.Once
}

func newScriptedConn(script ...readResult) *scriptedConn {
	return &scriptedConn{script: script, closed: make(chan struct{})}
}

func (c *scriptedConn) Subscribe(context.Context, []string) error { return nil }

func (c *scriptedConn) Read(ctx context.Context) (Batch, error) {
	if c.idx < len(c.script) {
		r := c.script[c.idx]
		c.idx++
		return r.batch, r.err
	}
	select {
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	case <-c.closed:
		return Batch{}, io.EOF
	}
}

func (c *scriptedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// scriptedSource returns one scripted outcome per dial. A nil entry
// means the dial attempt fails.
type scriptedSource struct {
	mu    sync.Mutex
	conns []*scriptedConn
	dials int
}

func (s *scriptedSource) Dial(context.Context) (StreamConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.dials
	s.dials++
	if idx >= len(s.conns) || s.conns[idx] == nil {
		return nil, errors.New("dial refused")
	}
	return s.conns[idx], nil
}

func (s *scriptedSource) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

type captureEmitter struct {
	mu      sync.Mutex
	batches []Batch
}

func (e *captureEmitter) Emit(_ context.Context, batch Batch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, batch)
	return nil
}

func (e *captureEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) statuses() []enum.CollectorStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]enum.CollectorStatus, 0, len(l.states))
	for _, s := range l.states {
		out = append(out, s.Status)
	}
	return out
}

func tickerBatch(symbol string) Batch {
	return Batch{
		Source:  enum.SourceBinanceStream,
		Entity:  enum.EntityTicker,
		Records: []model.Ticker{{Source: enum.SourceBinanceStream, Symbol: symbol}},
		Count:   1,
	}
}

func fastBackoff() Backoff {
	return Backoff{Base: time.Millisecond, Cap: 4 * time.Millisecond, Factor: 2.0}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Fail(t, "condition not met within timeout")
}

func TestStreamReconnectResetsFailures(t *testing.T) {
	// first connection delivers three records then drops; the next
	// three dials are refused; the fifth dial succeeds and streams.
	first := newScriptedConn(
		readResult{batch: tickerBatch("BTCUSDT")},
		readResult{batch: tickerBatch("BTCUSDT")},
		readResult{batch: tickerBatch("BTCUSDT")},
		readResult{err: io.EOF},
	)
	second := newScriptedConn(readResult{batch: tickerBatch("BTCUSDT")})
	src := &scriptedSource{conns: []*scriptedConn{first, nil, nil, nil, second}}

	log := &stateLog{}
	emitter := &captureEmitter{}
	stream := NewStream(src, StreamConfig{
		Source:  enum.SourceBinanceStream,
		Symbols: []string{"BTCUSDT"},
		Backoff: fastBackoff(),
		OnState: log.record,
	})

	require.NoError(t, stream.Start(context.Background(), emitter))
	defer stream.Stop(context.Background())

	waitFor(t, 5*time.Second, func() bool { return emitter.count() >= 4 })
	waitFor(t, time.Second, func() bool { return stream.State().Failures == 0 })

	require.Equal(t, 5, src.dialCount())
	require.Equal(t, enum.CollectorStreaming, stream.State().Status)

	statuses := log.statuses()
	backoffs, streamings := 0, 0
	for _, s := range statuses {
		switch s {
		case enum.CollectorBackoff:
			backoffs++
		case enum.CollectorStreaming:
			streamings++
		}
	}
	assert.GreaterOrEqual(t, backoffs, 3)
	assert.Equal(t, 2, streamings)
}

func TestStreamDropsMalformedRecords(t *testing.T) {
	conn := newScriptedConn(
		readResult{err: errors.Wrap(ErrMalformedRecord, "bad payload")},
		readResult{batch: tickerBatch("ETHUSDT")},
	)
	src := &scriptedSource{conns: []*scriptedConn{conn}}

	emitter := &captureEmitter{}
	stream := NewStream(src, StreamConfig{
		Source:  enum.SourceBinanceStream,
		Symbols: []string{"ETHUSDT"},
		Backoff: fastBackoff(),
	})

	require.NoError(t, stream.Start(context.Background(), emitter))
	defer stream.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool { return emitter.count() == 1 })

	// a malformed record never drops the connection
	require.Equal(t, 1, src.dialCount())
	require.Equal(t, enum.CollectorStreaming, stream.State().Status)
}

// stuckConn ignores context cancellation the way a raw websocket read
// does; only Close unblocks it.
type stuckConn struct {
	closed chan struct{}
	once   sync.Once
}

func newStuckConn() *stuckConn { return &stuckConn{closed: make(chan struct{})} }

func (c *stuckConn) Subscribe(context.Context, []string) error { return nil }

func (c *stuckConn) Read(context.Context) (Batch, error) {
	<-c.closed
	return Batch{}, io.EOF
}

func (c *stuckConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *stuckConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type stuckSource struct{ conn *stuckConn }

func (s *stuckSource) Dial(context.Context) (StreamConn, error) { return s.conn, nil }

func TestStreamStopForceClosesStuckConnection(t *testing.T) {
	conn := newStuckConn()
	stream := NewStream(&stuckSource{conn: conn}, StreamConfig{
		Source:    enum.SourceBinanceStream,
		Symbols:   []string{"BTCUSDT"},
		Backoff:   fastBackoff(),
		StopGrace: 20 * time.Millisecond,
	})

	require.NoError(t, stream.Start(context.Background(), &captureEmitter{}))
	waitFor(t, time.Second, func() bool { return stream.State().Status == enum.CollectorStreaming })

	// the read never observes cancellation, so Stop has to close the
	// connection to unblock it rather than leak the goroutine
	require.NoError(t, stream.Stop(context.Background()))
	assert.True(t, conn.isClosed())
	assert.Equal(t, enum.CollectorDisconnected, stream.State().Status)
}

func TestStreamLifecycle(t *testing.T) {
	src := &scriptedSource{conns: []*scriptedConn{newScriptedConn()}}
	stream := NewStream(src, StreamConfig{
		Source:  enum.SourceBinanceStream,
		Backoff: fastBackoff(),
	})

	require.ErrorIs(t, stream.Stop(context.Background()), ErrNotRunning)
	require.NoError(t, stream.Start(context.Background(), &captureEmitter{}))
	require.ErrorIs(t, stream.Start(context.Background(), &captureEmitter{}), ErrAlreadyRunning)

	require.NoError(t, stream.Stop(context.Background()))
	require.Equal(t, enum.CollectorDisconnected, stream.State().Status)

	// restartable after a clean stop
	require.NoError(t, stream.Start(context.Background(), &captureEmitter{}))
	require.NoError(t, stream.Stop(context.Background()))
}
