package domain

// Cell addresses a grid cell by row and column.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Flow moves Mass from a cell of the first signature to a cell of the second.
type Flow struct {
	From Cell    `json:"from"`
	To   Cell    `json:"to"`
	Mass float64 `json:"mass"`
}

// Transport is the outcome of an optimal-transport computation between two
// signatures. Distance is (Cost/TotalFlow)^(1/p) for cost exponent p.
type Transport struct {
	Distance  float64 `json:"distance"`
	Cost      float64 `json:"cost"`
	TotalFlow float64 `json:"total_flow"`
	Plan      []Flow  `json:"plan,omitempty"`
}

// Reversed returns the same transport seen from the second signature: every
// flow swaps its endpoints. The receiver is left untouched.
func (t Transport) Reversed() Transport {
	out := t
	if t.Plan != nil {
		out.Plan = make([]Flow, len(t.Plan))
		for i, f := range t.Plan {
			out.Plan[i] = Flow{From: f.To, To: f.From, Mass: f.Mass}
		}
	}
	return out
}

// PairPlan is a retained transport plan between signatures I and J (I > J).
type PairPlan struct {
	I    int    `json:"i"`
	J    int    `json:"j"`
	From string `json:"from"`
	To   string `json:"to"`
	Plan []Flow `json:"plan"`
}
