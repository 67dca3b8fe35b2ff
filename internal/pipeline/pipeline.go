package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/chlorophyll-emd/internal/analysis"
	"github.com/couchcryptid/chlorophyll-emd/internal/distance"
	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
	"github.com/couchcryptid/chlorophyll-emd/internal/observability"
)

// triangleTolerance is the slack allowed before a matrix is reported as non-metric.
const triangleTolerance = 1e-9

// ObservationReader loads every observation row of one source tile.
type ObservationReader interface {
	ReadObservations(ctx context.Context, path string) ([]domain.Observation, error)
}

// Oracle computes the optimal transport between two signatures.
type Oracle interface {
	Transport(ctx context.Context, a, b domain.Signature) (domain.Transport, error)
}

// ReportWriter persists the finished report.
type ReportWriter interface {
	WriteReport(ctx context.Context, r domain.Report) error
}

// Config is the explicit run configuration. Grid.TrimRows is replaced by
// each source's own TrimRows.
type Config struct {
	Sources      []domain.Source
	Grid         domain.GridSpec
	Months       []int
	CostExponent float64
	Workers      int
	KeepPlans    bool

	Linkage    string
	Clusters   int // 0 skips the flat cut
	Dimensions int
}

// Pipeline orchestrates extract, transform, assemble, analyze and load.
type Pipeline struct {
	reader  ObservationReader
	oracle  Oracle
	writer  ReportWriter
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Pipeline with the given stages and observability.
func New(r ObservationReader, o Oracle, w ReportWriter, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		reader:  r,
		oracle:  o,
		writer:  w,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Run builds every signature, assembles the distance matrix, derives the
// clustering and embedding, and writes the report. Any failure aborts the
// run; nothing is written unless every stage succeeded.
func (p *Pipeline) Run(ctx context.Context) (domain.Report, error) {
	p.logger.Info("pipeline started",
		"sources", len(p.cfg.Sources),
		"months", len(p.cfg.Months),
		"workers", p.cfg.Workers,
	)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)
	start := time.Now()

	sigs, err := p.BuildSignatures(ctx)
	if err != nil {
		return domain.Report{}, err
	}

	done := p.stage("assemble")
	asm := distance.NewAssembler(p.oracle, p.logger, p.metrics,
		distance.WithWorkers(p.cfg.Workers),
		distance.WithKeepPlans(p.cfg.KeepPlans),
	)
	res, err := asm.Assemble(ctx, sigs)
	done()
	if err != nil {
		return domain.Report{}, fmt.Errorf("assemble distance matrix: %w", err)
	}
	p.checkTriangle(res.Matrix)

	rep := domain.NewReport(p.parameters(), sigs)
	rep.Distances = res.Matrix.Rows()
	rep.Plans = res.Plans

	done = p.stage("analyze")
	err = p.analyze(res.Matrix, &rep)
	done()
	if err != nil {
		return domain.Report{}, err
	}

	done = p.stage("load")
	err = p.writer.WriteReport(ctx, rep)
	done()
	if err != nil {
		return domain.Report{}, fmt.Errorf("write report: %w", err)
	}

	p.logger.Info("pipeline finished",
		"signatures", len(sigs),
		"duration", time.Since(start),
	)
	return rep, nil
}

// analyze fills the dendrogram, flat clusters and embedding. Fewer than two
// signatures carry no structure to analyze.
func (p *Pipeline) analyze(m *distance.Matrix, rep *domain.Report) error {
	if m.Len() < 2 {
		p.logger.Warn("skipping analysis", "signatures", m.Len())
		return nil
	}

	dendro, err := analysis.Cluster(m, p.cfg.Linkage)
	if err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	rep.Dendrogram = &dendro

	if p.cfg.Clusters > 0 {
		labels, err := analysis.CutTree(dendro, p.cfg.Clusters)
		if err != nil {
			return fmt.Errorf("cut tree: %w", err)
		}
		rep.Clusters = labels
	}

	emb, err := analysis.ClassicalMDS(m, p.cfg.Dimensions)
	if err != nil {
		return fmt.Errorf("classical mds: %w", err)
	}
	rep.Embedding = &emb

	p.logger.Info("analysis complete",
		"linkage", dendro.Linkage,
		"root_height", dendro.Merges[len(dendro.Merges)-1].Height,
		"gof", emb.GOF[0],
	)
	return nil
}

func (p *Pipeline) checkTriangle(m *distance.Matrix) {
	worst, bad := m.CheckTriangle(triangleTolerance)
	p.metrics.TriangleViolation.Set(worst.Excess)
	if !bad {
		return
	}
	labels := m.Labels()
	p.logger.Warn("distance matrix violates triangle inequality",
		"from", labels[worst.I],
		"via", labels[worst.J],
		"to", labels[worst.K],
		"excess", worst.Excess,
	)
}

func (p *Pipeline) parameters() domain.Parameters {
	return domain.Parameters{
		BBox:         p.cfg.Grid.BBox,
		Resolution:   p.cfg.Grid.Resolution,
		Frame:        p.cfg.Grid.Frame,
		CostExponent: p.cfg.CostExponent,
		Linkage:      p.cfg.Linkage,
		Clusters:     p.cfg.Clusters,
		Dimensions:   p.cfg.Dimensions,
	}
}

// stage starts the timer for one pipeline stage; call the result when it ends.
func (p *Pipeline) stage(name string) func() {
	start := time.Now()
	return func() {
		p.metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}
