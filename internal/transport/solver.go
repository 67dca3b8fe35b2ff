package transport

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
)

var (
	// ErrEmptySupport means a signature has no cell with positive weight.
	ErrEmptySupport = errors.New("signature has empty support")
	// ErrUnbalanced means the two signatures do not carry the same total mass.
	ErrUnbalanced = errors.New("signatures carry unequal mass")
	// ErrNotConverged means the solver hit its iteration cap.
	ErrNotConverged = errors.New("transport solver did not converge")
	// ErrSupportTooLarge means a signature has more weighted cells than the
	// solver is allowed to place in its dense cost matrix.
	ErrSupportTooLarge = errors.New("signature support too large")
)

const (
	// massTolerance is the relative mass imbalance accepted between signatures.
	massTolerance = 1e-9
	// flowEpsilon is the smallest flow or residual treated as non-zero.
	flowEpsilon = 1e-15

	// DefaultMaxSupport bounds the weighted cells per signature. Two dense
	// n*m float64 arrays are allocated per pair, so 2500 cells on each side
	// cost about 100 MB.
	DefaultMaxSupport = 2500
)

// Oracle computes the optimal transport between two signatures.
type Oracle interface {
	Transport(ctx context.Context, a, b domain.Signature) (domain.Transport, error)
}

// Solver is an exact Wasserstein oracle: it solves the transportation
// problem between the supports of two signatures by successive shortest
// paths, keeping node potentials so every Dijkstra run sees non-negative
// reduced costs.
type Solver struct {
	exponent   float64
	maxIter    int
	maxSupport int
	withPlan   bool
}

// Option configures a Solver.
type Option func(*Solver)

// WithExponent sets the cost exponent p; ground cost is distance^p and the
// returned distance is (cost/flow)^(1/p). Default 2.
func WithExponent(p float64) Option {
	return func(s *Solver) { s.exponent = p }
}

// WithMaxIterations caps the number of augmenting paths. Zero picks a cap
// proportional to the support sizes.
func WithMaxIterations(n int) Option {
	return func(s *Solver) { s.maxIter = n }
}

// WithMaxSupport caps the weighted cells allowed on either side of a pair.
// Zero or less removes the cap.
func WithMaxSupport(n int) Option {
	return func(s *Solver) { s.maxSupport = n }
}

// WithoutPlan skips building the plan slice when only distances are needed.
func WithoutPlan() Option {
	return func(s *Solver) { s.withPlan = false }
}

// NewSolver creates a Solver. Exponents below 1 are rejected by Transport.
func NewSolver(opts ...Option) *Solver {
	s := &Solver{exponent: 2, maxSupport: DefaultMaxSupport, withPlan: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type point struct {
	x, y float64
	cell domain.Cell
	w    float64
}

func support(sig domain.Signature) ([]point, float64) {
	var pts []point
	var total float64
	for r := 0; r < sig.Rows; r++ {
		for c := 0; c < sig.Cols; c++ {
			w := sig.Weight(r, c)
			if !(w > 0) {
				continue
			}
			x, y := sig.Coord(r, c)
			pts = append(pts, point{x: x, y: y, cell: domain.Cell{Row: r, Col: c}, w: w})
			total += w
		}
	}
	return pts, total
}

// Transport computes the p-Wasserstein distance and an optimal plan from a to b.
func (s *Solver) Transport(ctx context.Context, a, b domain.Signature) (domain.Transport, error) {
	if !(s.exponent >= 1) {
		return domain.Transport{}, fmt.Errorf("cost exponent must be >= 1, got %g", s.exponent)
	}
	src, massA := support(a)
	dst, massB := support(b)
	if len(src) == 0 {
		return domain.Transport{}, fmt.Errorf("%w: %s", ErrEmptySupport, a.Label())
	}
	if len(dst) == 0 {
		return domain.Transport{}, fmt.Errorf("%w: %s", ErrEmptySupport, b.Label())
	}
	if math.Abs(massA-massB) > massTolerance*math.Max(massA, massB) {
		return domain.Transport{}, fmt.Errorf("%w: %s=%g %s=%g", ErrUnbalanced, a.Label(), massA, b.Label(), massB)
	}
	if err := s.checkSupport(a, src); err != nil {
		return domain.Transport{}, err
	}
	if err := s.checkSupport(b, dst); err != nil {
		return domain.Transport{}, err
	}

	n, m := len(src), len(dst)
	cost := make([]float64, n*m)
	for i, p := range src {
		for j, q := range dst {
			cost[i*m+j] = s.groundCost(p, q)
		}
	}

	supply := make([]float64, n)
	for i, p := range src {
		supply[i] = p.w
	}
	// Rescale demand so both sides carry exactly the same total.
	demand := make([]float64, m)
	for j, q := range dst {
		demand[j] = q.w * massA / massB
	}

	maxIter := s.maxIter
	if maxIter <= 0 {
		maxIter = 50*(n+m) + 1000
	}

	flow, err := minCostFlow(ctx, supply, demand, cost, maxIter)
	if err != nil {
		return domain.Transport{}, fmt.Errorf("%s -> %s: %w", a.Label(), b.Label(), err)
	}

	var out domain.Transport
	for i := range n {
		for j := range m {
			f := flow[i*m+j]
			if f <= 0 {
				continue
			}
			out.Cost += f * cost[i*m+j]
			out.TotalFlow += f
			if s.withPlan {
				out.Plan = append(out.Plan, domain.Flow{From: src[i].cell, To: dst[j].cell, Mass: f})
			}
		}
	}
	if out.TotalFlow > 0 {
		out.Distance = math.Pow(out.Cost/out.TotalFlow, 1/s.exponent)
	}
	return out, nil
}

func (s *Solver) checkSupport(sig domain.Signature, pts []point) error {
	if s.maxSupport > 0 && len(pts) > s.maxSupport {
		return fmt.Errorf("%w: %s has %d weighted cells, limit %d", ErrSupportTooLarge, sig.Label(), len(pts), s.maxSupport)
	}
	return nil
}

func (s *Solver) groundCost(p, q point) float64 {
	dx, dy := p.x-q.x, p.y-q.y
	sq := dx*dx + dy*dy
	switch s.exponent {
	case 2:
		return sq
	case 1:
		return math.Sqrt(sq)
	default:
		return math.Pow(math.Sqrt(sq), s.exponent)
	}
}

// minCostFlow solves the dense transportation problem with supplies on n
// source nodes, demands on m sink nodes and cost[i*m+j] per unit shipped
// from i to j. It returns the flow matrix in the same layout.
//
// Node layout: sources 0..n-1, sinks n..n+m-1, super source n+m, super sink
// n+m+1. Forward arcs source->sink are uncapacitated; a residual arc
// sink->source exists wherever flow is positive.
func minCostFlow(ctx context.Context, supply, demand, cost []float64, maxIter int) ([]float64, error) {
	n, m := len(supply), len(demand)
	nodes := n + m + 2
	superSrc, superSink := n+m, n+m+1

	flow := make([]float64, n*m)
	remSupply := append([]float64(nil), supply...)
	remDemand := append([]float64(nil), demand...)

	var remaining float64
	for _, v := range remSupply {
		remaining += v
	}
	stop := flowEpsilon * math.Max(remaining, 1) * float64(n+m)

	pot := make([]float64, nodes)
	dist := make([]float64, nodes)
	prev := make([]int, nodes)
	done := make([]bool, nodes)

	relax := func(u, v int, reduced float64) {
		if reduced < 0 {
			reduced = 0
		}
		if d := dist[u] + reduced; d < dist[v] {
			dist[v] = d
			prev[v] = u
		}
	}

	for iter := 0; remaining > stop; iter++ {
		if iter >= maxIter {
			return nil, fmt.Errorf("%w after %d augmentations, %g mass unassigned", ErrNotConverged, iter, remaining)
		}
		if iter%32 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		for v := range nodes {
			dist[v] = math.Inf(1)
			prev[v] = -1
			done[v] = false
		}
		dist[superSrc] = 0

		for {
			u := -1
			for v := range nodes {
				if !done[v] && !math.IsInf(dist[v], 1) && (u < 0 || dist[v] < dist[u]) {
					u = v
				}
			}
			if u < 0 || u == superSink {
				break
			}
			done[u] = true

			switch {
			case u == superSrc:
				for i := range n {
					if remSupply[i] > flowEpsilon {
						relax(u, i, pot[superSrc]-pot[i])
					}
				}
			case u < n:
				row := cost[u*m : (u+1)*m]
				for j := range m {
					relax(u, n+j, row[j]+pot[u]-pot[n+j])
				}
			default:
				j := u - n
				for i := range n {
					if flow[i*m+j] > flowEpsilon {
						relax(u, i, -cost[i*m+j]+pot[u]-pot[i])
					}
				}
				if remDemand[j] > flowEpsilon {
					relax(u, superSink, pot[u]-pot[superSink])
				}
			}
		}

		if math.IsInf(dist[superSink], 1) {
			// Only rounding residue can be left once every sink is saturated.
			if remaining <= massTolerance {
				break
			}
			return nil, fmt.Errorf("%w: no augmenting path, %g mass unassigned", ErrNotConverged, remaining)
		}

		limit := dist[superSink]
		for v := range nodes {
			if done[v] && dist[v] < limit {
				pot[v] += dist[v]
			} else {
				pot[v] += limit
			}
		}

		// Walk the path back from the super sink to find the bottleneck.
		last := prev[superSink] - n
		delta := remDemand[last]
		v := prev[superSink]
		for {
			u := prev[v]
			if u == superSrc {
				delta = math.Min(delta, remSupply[v])
				break
			}
			if u >= n { // backward arc sink u -> source v
				delta = math.Min(delta, flow[v*m+(u-n)])
			}
			v = u
		}

		v = prev[superSink]
		for {
			u := prev[v]
			if u == superSrc {
				remSupply[v] -= delta
				break
			}
			if u < n {
				flow[u*m+(v-n)] += delta
			} else {
				k := v*m + (u - n)
				flow[k] -= delta
				if flow[k] < flowEpsilon {
					flow[k] = 0
				}
			}
			v = u
		}
		remDemand[last] -= delta
		remaining -= delta
	}

	return flow, nil
}
