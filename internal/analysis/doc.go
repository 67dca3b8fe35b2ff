// Package analysis derives structure from a completed distance matrix:
// agglomerative clustering ([Cluster], [CutTree]) and classical
// multidimensional scaling ([ClassicalMDS]). Every entry point refuses a
// matrix that is not marked complete.
package analysis
