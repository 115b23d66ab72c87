package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/listing-score-service/internal/domain"
	"github.com/couchcryptid/listing-score-service/internal/observability"
	"github.com/couchcryptid/listing-score-service/internal/pipeline"
)

// --- mocks ---

type mockExtractor struct {
	mu       sync.Mutex
	batches  [][]domain.RawMessage
	err      error
	requests atomic.Int32
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawMessage, error) {
	m.requests.Add(1)
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}
	if len(m.batches) > 0 {
		b := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return b, nil
	}
	m.mu.Unlock()
	// Block until cancelled to simulate an idle topic.
	<-ctx.Done()
	return nil, ctx.Err()
}

type mockTransformer struct {
	failKey string
}

func (m *mockTransformer) Transform(_ context.Context, raw domain.RawMessage) (domain.EnrichedListing, error) {
	if string(raw.Key) == m.failKey {
		return domain.EnrichedListing{}, errors.New("bad data")
	}
	return domain.EnrichedListing{Listing: domain.RawListing{ID: string(raw.Key)}}, nil
}

type mockLoader struct {
	mu       sync.Mutex
	loaded   []domain.EnrichedListing
	failures int // number of LoadBatch calls to fail before succeeding
}

func (m *mockLoader) LoadBatch(_ context.Context, listings []domain.EnrichedListing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("broker unavailable")
	}
	m.loaded = append(m.loaded, listings...)
	return nil
}

func (m *mockLoader) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, l := range m.loaded {
		out = append(out, l.Listing.ID)
	}
	return out
}

type commitLog struct {
	mu      sync.Mutex
	offsets []int64
}

func (c *commitLog) commitFor(offset int64) func(context.Context) error {
	return func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.offsets = append(c.offsets, offset)
		return nil
	}
}

func (c *commitLog) committed() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.offsets...)
}

func rawMessage(t *testing.T, id string, offset int64, commits *commitLog) domain.RawMessage {
	t.Helper()
	value, err := json.Marshal(domain.RawListing{ID: id, Address: "Calle Uría 10, Oviedo"})
	require.NoError(t, err)
	msg := domain.RawMessage{Key: []byte(id), Value: value, Topic: "raw-listings", Offset: offset}
	if commits != nil {
		msg.Commit = commits.commitFor(offset)
	}
	return msg
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	commits := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.RawMessage{{
		rawMessage(t, "L1", 0, commits),
		rawMessage(t, "L2", 1, commits),
	}}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), metrics, 10)
	require.Error(t, p.CheckReadiness(context.Background()))

	runFor(t, p, 300*time.Millisecond)

	assert.ElementsMatch(t, []string{"L1", "L2"}, ldr.ids())
	assert.ElementsMatch(t, []int64{0, 1}, commits.committed())
	assert.NoError(t, p.CheckReadiness(context.Background()))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.MessagesConsumed))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.MessagesProduced))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning))
}

func TestPipeline_Run_KeepsBatchOrder(t *testing.T) {
	var batch []domain.RawMessage
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		batch = append(batch, rawMessage(t, id, int64(i), nil))
	}
	ldr := &mockLoader{}

	p := pipeline.New(&mockExtractor{batches: [][]domain.RawMessage{batch}}, &mockTransformer{}, ldr,
		discardLogger(), observability.NewMetricsForTesting(), 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ldr.ids())
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ldr := &mockLoader{}
	p := pipeline.New(&mockExtractor{}, &mockTransformer{}, ldr, discardLogger(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
}

func TestPipeline_Run_TransformErrorSkipsAndCommits(t *testing.T) {
	commits := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.RawMessage{{
		rawMessage(t, "poison", 0, commits),
		rawMessage(t, "L2", 1, commits),
	}}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(ext, &mockTransformer{failKey: "poison"}, ldr, discardLogger(), metrics, 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"L2"}, ldr.ids())
	assert.ElementsMatch(t, []int64{0, 1}, commits.committed(), "poison pill is committed so it is not redelivered")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProcessErrors))
}

func TestPipeline_Run_AllTransformsFail(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawMessage{{rawMessage(t, "poison", 0, nil)}}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{failKey: "poison"}, ldr, discardLogger(), observability.NewMetricsForTesting(), 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Empty(t, ldr.loaded)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_LoadFailureDoesNotCommit(t *testing.T) {
	commits := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.RawMessage{{rawMessage(t, "L1", 7, commits)}}}
	ldr := &mockLoader{failures: 1000}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), observability.NewMetricsForTesting(), 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Empty(t, ldr.loaded)
	assert.Empty(t, commits.committed(), "offsets stay uncommitted so the batch is redelivered")
}

func TestPipeline_Run_ExtractErrorBacksOff(t *testing.T) {
	ext := &mockExtractor{err: errors.New("broker down")}

	p := pipeline.New(ext, &mockTransformer{}, &mockLoader{}, discardLogger(), observability.NewMetricsForTesting(), 10)
	runFor(t, p, 500*time.Millisecond)

	// 200ms then 400ms backoff leaves room for at most three attempts.
	assert.LessOrEqual(t, ext.requests.Load(), int32(3))
	assert.GreaterOrEqual(t, ext.requests.Load(), int32(2))
}

// --- ListingTransformer ---

func TestListingTransformer_Transform(t *testing.T) {
	f := newFixture(t)
	tr := pipeline.NewTransformer(f.service, discardLogger())

	value, err := json.Marshal(domain.ListingMessage{Listing: testListing("L1")})
	require.NoError(t, err)

	out, err := tr.Transform(context.Background(), domain.RawMessage{Key: []byte("L1"), Value: value, Timestamp: now})
	require.NoError(t, err)
	assert.Equal(t, "L1", out.Listing.ID)
	assert.NotNil(t, out.Score)
}

func TestListingTransformer_IncompleteIsNotAnError(t *testing.T) {
	f := newFixture(t, domain.CategoryInfrastructure)
	tr := pipeline.NewTransformer(f.service, discardLogger())

	value, err := json.Marshal(testListing("L1"))
	require.NoError(t, err)

	out, err := tr.Transform(context.Background(), domain.RawMessage{Value: value, Timestamp: now})
	require.NoError(t, err)
	assert.True(t, out.Incomplete)
	assert.Nil(t, out.Score)
}

func TestListingTransformer_Undecodable(t *testing.T) {
	f := newFixture(t)
	tr := pipeline.NewTransformer(f.service, discardLogger())

	_, err := tr.Transform(context.Background(), domain.RawMessage{Value: []byte("{not json")})
	require.Error(t, err)
	assert.Zero(t, f.resolver.calls.Load())
}

type failingLoader struct{ calls int }

func (f *failingLoader) LoadBatch(context.Context, []domain.EnrichedListing) error {
	f.calls++
	return errors.New("disk full")
}

func TestMultiLoader(t *testing.T) {
	first, last := &mockLoader{}, &mockLoader{}
	listings := []domain.EnrichedListing{{Listing: domain.RawListing{ID: "L1"}}}

	require.NoError(t, pipeline.MultiLoader{first, last}.LoadBatch(context.Background(), listings))
	assert.Equal(t, []string{"L1"}, first.ids())
	assert.Equal(t, []string{"L1"}, last.ids())

	failing, after := &failingLoader{}, &mockLoader{}
	err := pipeline.MultiLoader{failing, after}.LoadBatch(context.Background(), listings)
	require.Error(t, err)
	assert.Empty(t, after.ids(), "loaders after a failure are not called")
}
