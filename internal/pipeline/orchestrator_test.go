package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/collector"
	"main/internal/knowledge"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
)

type recordingWriter struct {
	mu          sync.Mutex
	counts      map[enum.Entity]int
	fail        map[enum.Entity]error
	assessments []model.NewsAssessment
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{counts: make(map[enum.Entity]int)}
}

func (w *recordingWriter) Write(_ context.Context, entity enum.Entity, _ any, _ int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail[entity]; err != nil {
		return err
	}
	w.counts[entity]++
	return nil
}

func (w *recordingWriter) ApplyNewsAssessments(_ context.Context, assessments []model.NewsAssessment) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.assessments = append(w.assessments, assessments...)
	return nil
}

func (w *recordingWriter) count(entity enum.Entity) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts[entity]
}

func (w *recordingWriter) assessmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.assessments)
}

// burstCollector emits a fixed set of batches once started.
type burstCollector struct {
	name    string
	batches []collector.Batch
	stopped sync.WaitGroup
}

func newBurstCollector(name string, batches ...collector.Batch) *burstCollector {
	c := &burstCollector{name: name, batches: batches}
	c.stopped.Add(1)
	return c
}

func (c *burstCollector) Name() string { return c.name }

func (c *burstCollector) Start(ctx context.Context, emitter collector.Emitter) error {
	go func() {
		defer c.stopped.Done()
		for _, batch := range c.batches {
			_ = emitter.Emit(ctx, batch)
		}
	}()
	return nil
}

func (c *burstCollector) Stop(context.Context) error {
	c.stopped.Wait()
	return nil
}

func (c *burstCollector) State() collector.State {
	return collector.State{Status: enum.CollectorStreaming}
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

func TestOrchestratorFlushesCollectedBatches(t *testing.T) {
	writer := newRecordingWriter()
	tickerSource := newBurstCollector("tickers",
		collector.Batch{Source: enum.SourceBinanceStream, Entity: enum.EntityTicker, Records: []model.Ticker{{}}, Count: 1},
		collector.Batch{Source: enum.SourceBinanceStream, Entity: enum.EntityTicker, Records: []model.Ticker{{}}, Count: 1},
	)
	newsSource := newBurstCollector("news",
		collector.Batch{Source: enum.SourceCryptoPanic, Entity: enum.EntityNews, Records: []model.News{{}}, Count: 1},
	)

	metrics := obs.NewMetrics()
	orch := NewOrchestrator(writer, []collector.Collector{tickerSource, newsSource}, nil, metrics, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool {
		return writer.count(enum.EntityTicker) == 2 && writer.count(enum.EntityNews) == 1
	})

	cancel()
	require.NoError(t, <-done)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(2), snapshot.RecordCounts[enum.EntityTicker])
	assert.Equal(t, uint64(1), snapshot.RecordCounts[enum.EntityNews])
	assert.Equal(t, uint64(3), snapshot.WriteLatency.Count)
}

func TestOrchestratorDrainsQueuesOnShutdown(t *testing.T) {
	writer := newRecordingWriter()
	batches := make([]collector.Batch, 20)
	for i := range batches {
		batches[i] = collector.Batch{
			Source: enum.SourceBinance, Entity: enum.EntityCandle,
			Records: []model.Candle{{}}, Count: 1,
		}
	}
	src := newBurstCollector("candles", batches...)

	orch := NewOrchestrator(writer, []collector.Collector{src}, nil, obs.NewMetrics(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	// cancel immediately: everything already enqueued must still land
	src.stopped.Wait()
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 20, writer.count(enum.EntityCandle))
}

func TestOrchestratorWriteFailureDoesNotStopPipeline(t *testing.T) {
	writer := newRecordingWriter()
	writer.fail = map[enum.Entity]error{enum.EntityTicker: errors.New("primary offline")}

	src := newBurstCollector("mixed",
		collector.Batch{Source: enum.SourceBinanceStream, Entity: enum.EntityTicker, Records: []model.Ticker{{}}, Count: 1},
		collector.Batch{Source: enum.SourceCryptoPanic, Entity: enum.EntityNews, Records: []model.News{{}}, Count: 1},
	)

	orch := NewOrchestrator(writer, []collector.Collector{src}, nil, obs.NewMetrics(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return writer.count(enum.EntityNews) == 1 })
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, writer.count(enum.EntityTicker))
}

type staticReader struct{}

func (staticReader) Tickers(context.Context, string, time.Time, int) ([]model.Ticker, error) {
	return nil, nil
}

func (staticReader) News(_ context.Context, currency string, _ time.Time, _ int) ([]model.News, error) {
	return []model.News{{
		ExternalID:  "cryptopanic-1",
		Title:       currency + " rallies",
		Currency:    currency,
		PublishedAt: time.Now().UTC(),
	}}, nil
}

type staticEnricher struct{}

func (staticEnricher) Assess(context.Context, string, string) (knowledge.Assessment, error) {
	return knowledge.Assessment{Sentiment: "positive", Importance: 0.7}, nil
}

func TestOrchestratorRunsExtractionRounds(t *testing.T) {
	writer := newRecordingWriter()
	extractor := knowledge.NewExtractor(staticReader{}, knowledge.Config{
		Symbols:  []string{"BTCUSDT"},
		Enricher: staticEnricher{},
	})

	orch := NewOrchestrator(writer, nil, extractor, obs.NewMetrics(), Options{
		ExtractInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return writer.count(enum.EntityKnowledge) >= 1 })
	// each round hands the enrichment verdicts to the write path
	waitFor(t, 5*time.Second, func() bool { return writer.assessmentCount() >= 1 })
	cancel()
	require.NoError(t, <-done)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Equal(t, "cryptopanic-1", writer.assessments[0].ExternalID)
	assert.Equal(t, "positive", writer.assessments[0].Sentiment)
}

func TestOrchestratorEmitUnknownEntity(t *testing.T) {
	orch := NewOrchestrator(newRecordingWriter(), nil, nil, obs.NewMetrics(), Options{})
	err := orch.Emit(context.Background(), collector.Batch{Entity: enum.Entity(99)})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnknownEntity))
}
