package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
	"github.com/couchcryptid/chlorophyll-emd/internal/observability"
	"github.com/couchcryptid/chlorophyll-emd/internal/pipeline"
	"github.com/couchcryptid/chlorophyll-emd/internal/transport"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockReader struct {
	tiles map[string][]domain.Observation
	err   error
	reads []string
}

func (m *mockReader) ReadObservations(_ context.Context, path string) ([]domain.Observation, error) {
	m.reads = append(m.reads, path)
	if m.err != nil {
		return nil, m.err
	}
	return m.tiles[path], nil
}

type failingOracle struct{ err error }

func (f failingOracle) Transport(context.Context, domain.Signature, domain.Signature) (domain.Transport, error) {
	return domain.Transport{}, f.err
}

type mockWriter struct {
	mu      sync.Mutex
	reports []domain.Report
	err     error
}

func (m *mockWriter) WriteReport(_ context.Context, r domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, r)
	return nil
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

// --- fixtures ---

// tile lays out a 2x2 grid over [0,1]x[0,1]; cell (r, c) sits at lon=c, lat=r.
func tile(months map[int][4]float64) []domain.Observation {
	var obs []domain.Observation
	for month, w := range months {
		for k, v := range w {
			obs = append(obs, domain.Observation{Lon: float64(k % 2), Lat: float64(k / 2), Month: month, Value: v})
		}
	}
	return obs
}

// twoGroups has source a concentrated at the origin and source b at the
// opposite corner, with each month a small variation of its source.
func twoGroups() *mockReader {
	return &mockReader{tiles: map[string][]domain.Observation{
		"a.csv": tile(map[int][4]float64{1: {1, 0, 0, 0}, 2: {3, 1, 0, 0}}),
		"b.csv": tile(map[int][4]float64{1: {0, 0, 0, 1}, 2: {0, 0, 1, 3}}),
	}}
}

func testConfig() pipeline.Config {
	return pipeline.Config{
		Sources: []domain.Source{{Name: "a", Path: "a.csv"}, {Name: "b", Path: "b.csv"}},
		Grid: domain.GridSpec{
			BBox:       domain.BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1},
			Resolution: 1,
			Frame:      domain.FrameIndex,
		},
		Months:       []int{1, 2},
		CostExponent: 2,
		Workers:      2,
		Linkage:      "complete",
		Clusters:     2,
		Dimensions:   2,
	}
}

func freezeClock(t *testing.T) time.Time {
	t.Helper()
	fixed := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(fixed))
	t.Cleanup(func() { domain.SetClock(nil) })
	return fixed
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	fixed := freezeClock(t)
	writer := &mockWriter{}
	metrics := newTestMetrics()

	p := pipeline.New(twoGroups(), transport.NewSolver(), writer, testConfig(), slog.Default(), metrics)

	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, writer.reports, 1)
	if diff := cmp.Diff(rep, writer.reports[0]); diff != "" {
		t.Errorf("written report differs from returned (-returned +written):\n%s", diff)
	}

	assert.Equal(t, fixed, rep.GeneratedAt)
	assert.Equal(t, []string{"a-01", "a-02", "b-01", "b-02"}, rep.Labels)
	require.Len(t, rep.Distances, 4)
	for i := range rep.Distances {
		assert.Zero(t, rep.Distances[i][i])
		for j := range rep.Distances {
			assert.Equal(t, rep.Distances[i][j], rep.Distances[j][i])
		}
	}
	// 0.25 of the mass moves one cell.
	assert.InDelta(t, 0.5, rep.Distances[1][0], 1e-9)
	assert.InDelta(t, 0.5, rep.Distances[3][2], 1e-9)

	require.NotNil(t, rep.Dendrogram)
	assert.Len(t, rep.Dendrogram.Merges, 3)
	assert.Equal(t, []int{0, 0, 1, 1}, rep.Clusters)
	require.NotNil(t, rep.Embedding)
	assert.Len(t, rep.Embedding.Coords, 4)
	assert.Nil(t, rep.Plans)

	assert.Equal(t, domain.Parameters{
		BBox:         domain.BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1},
		Resolution:   1,
		Frame:        domain.FrameIndex,
		CostExponent: 2,
		Linkage:      "complete",
		Clusters:     2,
		Dimensions:   2,
	}, rep.Parameters)
	require.Len(t, rep.Signatures, 4)
	assert.Equal(t, 4.0, rep.Signatures[1].Mass)

	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.SignaturesBuilt))
	assert.Equal(t, 6.0, testutil.ToFloat64(metrics.PairsComputed))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.TriangleViolation))
}

func TestPipeline_Run_KeepPlans(t *testing.T) {
	cfg := testConfig()
	cfg.KeepPlans = true

	rep, err := pipeline.New(twoGroups(), transport.NewSolver(), &mockWriter{}, cfg, slog.Default(), newTestMetrics()).
		Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Plans, 6)
	assert.Equal(t, "a-02", rep.Plans[0].From)
	assert.Equal(t, "a-01", rep.Plans[0].To)
}

func TestPipeline_Run_NoFlatCut(t *testing.T) {
	cfg := testConfig()
	cfg.Clusters = 0

	rep, err := pipeline.New(twoGroups(), transport.NewSolver(), &mockWriter{}, cfg, slog.Default(), newTestMetrics()).
		Run(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, rep.Dendrogram)
	assert.Nil(t, rep.Clusters)
}

func TestPipeline_Run_SingleSignatureSkipsAnalysis(t *testing.T) {
	cfg := testConfig()
	cfg.Sources = cfg.Sources[:1]
	cfg.Months = []int{1}
	writer := &mockWriter{}

	rep, err := pipeline.New(twoGroups(), transport.NewSolver(), writer, cfg, slog.Default(), newTestMetrics()).
		Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0}}, rep.Distances)
	assert.Nil(t, rep.Dendrogram)
	assert.Nil(t, rep.Embedding)
	assert.Len(t, writer.reports, 1)
}

func TestPipeline_Run_ReadError(t *testing.T) {
	reader := &mockReader{err: errors.New("permission denied")}
	writer := &mockWriter{}

	_, err := pipeline.New(reader, transport.NewSolver(), writer, testConfig(), slog.Default(), newTestMetrics()).
		Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `read source "a"`)
	assert.Empty(t, writer.reports)
	assert.Equal(t, []string{"a.csv"}, reader.reads, "aborts at the first failure")
}

func TestPipeline_Run_EmptySignature(t *testing.T) {
	cfg := testConfig()
	cfg.Months = []int{1, 5}
	writer := &mockWriter{}
	metrics := newTestMetrics()

	_, err := pipeline.New(twoGroups(), transport.NewSolver(), writer, cfg, slog.Default(), metrics).
		Run(context.Background())
	require.ErrorIs(t, err, domain.ErrEmptySignature)
	assert.Contains(t, err.Error(), `source "a" month 5`)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SignatureErrors.WithLabelValues("empty")))
	assert.Empty(t, writer.reports)
}

func TestPipeline_Run_DegenerateSignature(t *testing.T) {
	reader := twoGroups()
	reader.tiles["b.csv"] = tile(map[int][4]float64{1: {0, 0, 0, 0}, 2: {0, 0, 1, 3}})
	metrics := newTestMetrics()

	_, err := pipeline.New(reader, transport.NewSolver(), &mockWriter{}, testConfig(), slog.Default(), metrics).
		Run(context.Background())
	require.ErrorIs(t, err, domain.ErrDegenerateSignature)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SignatureErrors.WithLabelValues("degenerate")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SignaturesBuilt))
}

func TestPipeline_Run_OracleError(t *testing.T) {
	boom := errors.New("did not converge")
	writer := &mockWriter{}
	metrics := newTestMetrics()

	_, err := pipeline.New(twoGroups(), failingOracle{err: boom}, writer, testConfig(), slog.Default(), metrics).
		Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "assemble distance matrix")
	assert.Empty(t, writer.reports)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning))
}

func TestPipeline_Run_WriteError(t *testing.T) {
	writer := &mockWriter{err: errors.New("disk full")}

	_, err := pipeline.New(twoGroups(), transport.NewSolver(), writer, testConfig(), slog.Default(), newTestMetrics()).
		Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write report: disk full")
}

func TestPipeline_Run_TooManyClusters(t *testing.T) {
	cfg := testConfig()
	cfg.Clusters = 9

	_, err := pipeline.New(twoGroups(), transport.NewSolver(), &mockWriter{}, cfg, slog.Default(), newTestMetrics()).
		Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cut tree")
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately
	writer := &mockWriter{}

	_, err := pipeline.New(twoGroups(), transport.NewSolver(), writer, testConfig(), slog.Default(), newTestMetrics()).
		Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, writer.reports)
}
