package domain

import "time"

// Parameters records the knobs a report was produced with.
type Parameters struct {
	BBox         BoundingBox `json:"bbox"`
	Resolution   float64     `json:"resolution"`
	Frame        Frame       `json:"frame"`
	CostExponent float64     `json:"cost_exponent"`
	Linkage      string      `json:"linkage"`
	Clusters     int         `json:"clusters"`
	Dimensions   int         `json:"dimensions"`
}

// SignatureSummary describes one signature without its weights.
type SignatureSummary struct {
	Label       string  `json:"label"`
	Source      string  `json:"source"`
	Month       int     `json:"month"`
	Rows        int     `json:"rows"`
	Cols        int     `json:"cols"`
	Observed    int     `json:"observed"`
	Mass        float64 `json:"mass"`
	Fingerprint string  `json:"fingerprint"`
}

// Summarize builds the report summary of a signature.
func Summarize(s Signature) SignatureSummary {
	return SignatureSummary{
		Label:       s.Label(),
		Source:      s.Key.Source,
		Month:       s.Key.Month,
		Rows:        s.Rows,
		Cols:        s.Cols,
		Observed:    s.Observed,
		Mass:        s.Mass,
		Fingerprint: s.Fingerprint(),
	}
}

// Report is the complete output of one analysis run.
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Parameters  Parameters         `json:"parameters"`
	Signatures  []SignatureSummary `json:"signatures"`
	Labels      []string           `json:"labels"`
	Distances   [][]float64        `json:"distances"`
	Dendrogram  *Dendrogram        `json:"dendrogram,omitempty"`
	Clusters    []int              `json:"clusters,omitempty"`
	Embedding   *Embedding         `json:"embedding,omitempty"`
	Plans       []PairPlan         `json:"plans,omitempty"`
}

// NewReport creates a report stamped with the package clock.
func NewReport(params Parameters, sigs []Signature) Report {
	r := Report{
		GeneratedAt: Now(),
		Parameters:  params,
		Signatures:  make([]SignatureSummary, len(sigs)),
		Labels:      make([]string, len(sigs)),
	}
	for i, s := range sigs {
		r.Signatures[i] = Summarize(s)
		r.Labels[i] = s.Label()
	}
	return r
}
