// Package transport computes Earth Mover's (Wasserstein) distances between
// grid signatures.
//
// The ground cost between two cells is their Euclidean distance in the
// signature frame raised to the exponent p. The distance reported is
//
//	W_p(a, b) = (Σ flow_ij · cost_ij / Σ flow_ij)^(1/p)
//
// Both signatures carry unit mass so the denominator is 1 for built
// signatures. [Solver] finds an optimal plan exactly; [CachedOracle] memoizes
// any [Oracle] by signature fingerprint.
package transport
