// Package distance assembles the pairwise distance matrix over a set of
// signatures.
//
// The [Assembler] asks an optimal-transport oracle for every unordered pair
// exactly once (i > j), writes the scalar into both (i, j) and (j, i), and
// leaves the diagonal at zero. Pairs run on a bounded errgroup pool; each
// goroutine owns its two cells, so no locking is needed and the group Wait
// is the only barrier. A single failed or invalid pair aborts the run and
// no partially filled matrix is returned.
package distance
