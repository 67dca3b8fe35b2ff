package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/chlorophyll-emd/internal/distance"
	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
)

var (
	// ErrIncompleteMatrix means the distance matrix has unfilled pairs.
	ErrIncompleteMatrix = errors.New("distance matrix is incomplete")
	// ErrUnknownLinkage means the linkage name is not supported.
	ErrUnknownLinkage = errors.New("unknown linkage")
)

// Linkage names accepted by Cluster.
const (
	LinkageSingle   = "single"
	LinkageComplete = "complete"
	LinkageAverage  = "average"
	LinkageWard     = "ward.D2"
)

// ParseLinkage validates a linkage name.
func ParseLinkage(s string) (string, error) {
	switch s {
	case LinkageSingle, LinkageComplete, LinkageAverage, LinkageWard:
		return s, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownLinkage, s)
	}
}

func checkMatrix(m *distance.Matrix) error {
	if m == nil || !m.Complete() {
		return ErrIncompleteMatrix
	}
	if m.Len() == 0 {
		return errors.New("distance matrix is empty")
	}
	return nil
}

// Cluster runs agglomerative hierarchical clustering with Lance-Williams
// updates. At each step the closest pair of active clusters is merged; ties
// go to the pair with the lowest smallest leaf index, then the lowest second.
// ward.D2 merges on squared distances and reports heights on the distance
// scale.
func Cluster(m *distance.Matrix, linkage string) (domain.Dendrogram, error) {
	if err := checkMatrix(m); err != nil {
		return domain.Dendrogram{}, err
	}
	if _, err := ParseLinkage(linkage); err != nil {
		return domain.Dendrogram{}, err
	}

	n := m.Len()
	ward := linkage == LinkageWard

	// Working distances between slots. A merged cluster keeps the lower slot,
	// so a slot always holds the cluster containing its leaf as minimum.
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
		for j := range d[i] {
			v := m.At(i, j)
			if ward {
				v *= v
			}
			d[i][j] = v
		}
	}
	id := make([]int, n)
	size := make([]int, n)
	active := make([]bool, n)
	for i := range n {
		id[i] = i
		size[i] = 1
		active[i] = true
	}

	merges := make([]domain.Merge, 0, n-1)
	for step := 0; step < n-1; step++ {
		a, b := -1, -1
		best := math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if active[j] && d[i][j] < best {
					a, b, best = i, j, d[i][j]
				}
			}
		}

		height := best
		if ward {
			height = math.Sqrt(best)
		}
		left, right := id[a], id[b]
		if left > right {
			left, right = right, left
		}
		na, nb := size[a], size[b]
		merges = append(merges, domain.Merge{Left: left, Right: right, Height: height, Size: na + nb})

		for k := 0; k < n; k++ {
			if !active[k] || k == a || k == b {
				continue
			}
			nk := float64(size[k])
			var v float64
			switch linkage {
			case LinkageSingle:
				v = math.Min(d[k][a], d[k][b])
			case LinkageComplete:
				v = math.Max(d[k][a], d[k][b])
			case LinkageAverage:
				v = (float64(na)*d[k][a] + float64(nb)*d[k][b]) / float64(na+nb)
			case LinkageWard:
				v = ((nk+float64(na))*d[k][a] + (nk+float64(nb))*d[k][b] - nk*best) / (nk + float64(na+nb))
			}
			d[k][a], d[a][k] = v, v
		}

		active[b] = false
		id[a] = n + step
		size[a] = na + nb
	}

	return domain.Dendrogram{
		Linkage: linkage,
		Labels:  m.Labels(),
		Merges:  merges,
		Order:   leafOrder(n, merges),
	}, nil
}

// leafOrder walks the tree from the root, left child first.
func leafOrder(n int, merges []domain.Merge) []int {
	if len(merges) == 0 {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	order := make([]int, 0, n)
	var walk func(node int)
	walk = func(node int) {
		if node < n {
			order = append(order, node)
			return
		}
		mg := merges[node-n]
		walk(mg.Left)
		walk(mg.Right)
	}
	walk(n + len(merges) - 1)
	return order
}

// CutTree assigns each leaf to one of k flat clusters by undoing the last
// k-1 merges. Cluster numbers start at 0 and follow the first appearance of
// each cluster in leaf order 0..n-1.
func CutTree(d domain.Dendrogram, k int) ([]int, error) {
	n := len(d.Merges) + 1
	if len(d.Labels) > 0 && len(d.Labels) != n {
		return nil, fmt.Errorf("dendrogram has %d labels but %d merges", len(d.Labels), len(d.Merges))
	}
	if k < 1 || k > n {
		return nil, fmt.Errorf("cannot cut %d leaves into %d clusters", n, k)
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	// rep maps every node id to one leaf in its subtree.
	rep := make([]int, n+len(d.Merges))
	for i := range n {
		rep[i] = i
	}
	for step, mg := range d.Merges {
		if mg.Left >= n+step || mg.Right >= n+step || mg.Left < 0 || mg.Right < 0 {
			return nil, fmt.Errorf("merge %d references unknown cluster", step)
		}
		rep[n+step] = rep[mg.Left]
		if step >= n-k {
			continue
		}
		parent[find(rep[mg.Right])] = find(rep[mg.Left])
	}

	labels := make([]int, n)
	next := 0
	seen := make(map[int]int, k)
	for i := range n {
		root := find(i)
		c, ok := seen[root]
		if !ok {
			c = next
			seen[root] = c
			next++
		}
		labels[i] = c
	}
	return labels, nil
}
