package domain

// Merge joins clusters Left and Right at Height. Leaves are numbered
// 0..n-1 and the k-th merge creates cluster n+k. Left < Right.
type Merge struct {
	Left   int     `json:"left"`
	Right  int     `json:"right"`
	Height float64 `json:"height"`
	Size   int     `json:"size"`
}

// Dendrogram is the result of agglomerative clustering over n leaves.
type Dendrogram struct {
	Linkage string   `json:"linkage"`
	Labels  []string `json:"labels"`
	Merges  []Merge  `json:"merges"`
	// Order lists leaves left to right as drawn.
	Order []int `json:"order"`
}

// Embedding holds classical MDS coordinates.
type Embedding struct {
	Labels []string    `json:"labels"`
	Coords [][]float64 `json:"coords"`
	// Eigenvalues of the doubly centred matrix, descending.
	Eigenvalues []float64 `json:"eigenvalues"`
	// GOF is the share of the spectrum captured by the kept dimensions,
	// relative to sum(|λ|) and to sum(max(λ, 0)).
	GOF [2]float64 `json:"gof"`
}
