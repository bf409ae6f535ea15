package match

import (
	"github.com/sells-group/campaignfin/internal/model"
)

// Hints are optional constraints that narrow a name match. Values are
// normalized before use; empty means unconstrained.
type Hints struct {
	State  string `json:"state,omitempty"`
	Office string `json:"office,omitempty"`
}

// step is one rung of the relaxation ladder.
type step struct {
	name  string
	hints Hints
}

// Relaxation step names.
const (
	StepFull       = "full"
	StepDropOffice = "drop_office"
	StepDropState  = "drop_state"
	StepNameOnly   = "name_only"
)

// ladder returns the ordered relaxation steps for the given hints. Steps
// that would repeat an earlier filter are dropped, so a query without
// hints has a single name-only step.
func ladder(h Hints) []step {
	all := []step{
		{StepFull, h},
		{StepDropOffice, Hints{State: h.State}},
		{StepDropState, Hints{Office: h.Office}},
		{StepNameOnly, Hints{}},
	}
	var out []step
	seen := make(map[Hints]bool, len(all))
	for _, s := range all {
		if seen[s.hints] {
			continue
		}
		seen[s.hints] = true
		if s.hints == (Hints{}) && len(out) == 0 {
			s.name = StepNameOnly
		}
		out = append(out, s)
	}
	return out
}

// filter keeps the rows satisfying every hint.
func (h Hints) filter(cands []model.Candidate) []model.Candidate {
	var out []model.Candidate
	for _, c := range cands {
		if h.State != "" && c.State != h.State {
			continue
		}
		if h.Office != "" && c.Office != h.Office {
			continue
		}
		out = append(out, c)
	}
	return out
}

// applied lists the hints in force, in a fixed order.
func (h Hints) applied() []string {
	out := []string{}
	if h.State != "" {
		out = append(out, "state="+h.State)
	}
	if h.Office != "" {
		out = append(out, "office="+h.Office)
	}
	return out
}
