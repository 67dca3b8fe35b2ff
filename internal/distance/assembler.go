package distance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
	"github.com/couchcryptid/chlorophyll-emd/internal/observability"
)

// Oracle computes the optimal transport between two signatures.
type Oracle interface {
	Transport(ctx context.Context, a, b domain.Signature) (domain.Transport, error)
}

// Result is the output of an assembly run.
type Result struct {
	Matrix *Matrix
	// Plans holds one entry per pair i > j in row order when plans are kept.
	Plans []domain.PairPlan
}

// Assembler fills a distance matrix by calling the oracle once per unordered pair.
type Assembler struct {
	oracle    Oracle
	workers   int
	keepPlans bool
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithWorkers bounds the number of concurrent oracle calls. Values below 1
// fall back to runtime.NumCPU; 1 runs pairs sequentially.
func WithWorkers(n int) Option {
	return func(a *Assembler) { a.workers = n }
}

// WithKeepPlans retains every transport plan in the Result.
func WithKeepPlans(keep bool) Option {
	return func(a *Assembler) { a.keepPlans = keep }
}

// NewAssembler creates an Assembler. metrics may be nil.
func NewAssembler(oracle Oracle, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Assembler {
	a := &Assembler{
		oracle:  oracle,
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.workers < 1 {
		a.workers = runtime.NumCPU()
	}
	return a
}

type pair struct{ i, j int }

// pairs lists every i > j in row order; pair k of row i is at i*(i-1)/2 + j.
func pairs(n int) []pair {
	out := make([]pair, 0, n*(n-1)/2)
	for i := 1; i < n; i++ {
		for j := 0; j < i; j++ {
			out = append(out, pair{i: i, j: j})
		}
	}
	return out
}

// Assemble computes the distance matrix for sigs. The matrix is only
// returned, and only marked complete, once every pair has succeeded.
func (a *Assembler) Assemble(ctx context.Context, sigs []domain.Signature) (Result, error) {
	labels := make([]string, len(sigs))
	for i, s := range sigs {
		labels[i] = s.Label()
	}
	m := newMatrix(labels)
	work := pairs(len(sigs))

	var plans []domain.PairPlan
	if a.keepPlans {
		plans = make([]domain.PairPlan, len(work))
	}
	if a.metrics != nil {
		a.metrics.PairsTotal.Set(float64(len(work)))
	}
	a.logger.Info("assembling distance matrix",
		"signatures", len(sigs),
		"pairs", len(work),
		"workers", a.workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for k, p := range work {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			t, err := a.solve(gctx, sigs[p.i], sigs[p.j])
			if err != nil {
				return fmt.Errorf("pair (%d, %d) %s/%s: %w", p.i, p.j, labels[p.i], labels[p.j], err)
			}
			if math.IsNaN(t.Distance) || t.Distance < 0 {
				return fmt.Errorf("pair (%d, %d) %s/%s: %w: %g", p.i, p.j, labels[p.i], labels[p.j], ErrInvalidDistance, t.Distance)
			}
			m.set(p.i, p.j, t.Distance)
			if plans != nil {
				plans[k] = domain.PairPlan{I: p.i, J: p.j, From: labels[p.i], To: labels[p.j], Plan: t.Plan}
			}
			if a.metrics != nil {
				a.metrics.PairsComputed.Inc()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	// The loop can stop scheduling on a parent cancellation without any
	// goroutine reporting it.
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.complete = true
	return Result{Matrix: m, Plans: plans}, nil
}

func (a *Assembler) solve(ctx context.Context, x, y domain.Signature) (domain.Transport, error) {
	start := time.Now()
	t, err := a.oracle.Transport(ctx, x, y)
	if a.metrics != nil {
		a.metrics.OracleDuration.Observe(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		a.metrics.OracleCalls.WithLabelValues(outcome).Inc()
	}
	return t, err
}
