package optipass

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// SummaryRow is one budget level of a sweep.
type SummaryRow struct {
	Budget float64
	// Habitat is the value the optimizer reported: PTNL_HABITAT, or
	// WT_PTNL_HAB for multi-target runs.
	Habitat  float64
	Selected []string
	// Potential holds the computed potential habitat per target.
	Potential []float64
	// WPH is the weighted sum of Potential.
	WPH float64
	// NetGain is Habitat minus Habitat at the first budget level.
	NetGain float64
}

// Summary has one row per budget level in ascending budget order.
type Summary struct {
	Targets []string
	Rows    []SummaryRow
}

// Budgets returns the budget column.
func (s *Summary) Budgets() []float64 {
	out := make([]float64, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = r.Budget
	}
	return out
}

// Column returns the potential habitat of target i at every budget level.
func (s *Summary) Column(i int) []float64 {
	out := make([]float64, len(s.Rows))
	for j, r := range s.Rows {
		out[j] = r.Potential[i]
	}
	return out
}

// WPHColumn returns the weighted potential habitat at every budget level.
func (s *Summary) WPHColumn() []float64 {
	out := make([]float64, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = r.WPH
	}
	return out
}

// MatrixRow is one barrier of the selection matrix.
type MatrixRow struct {
	ID string
	// Selected has one 0/1 entry per budget level.
	Selected []int
	Count    int
	// Unscaled and Gain have one entry per target.
	Unscaled []float64
	Gain     []float64
}

// Matrix records which barriers were selected at each budget level.
type Matrix struct {
	Budgets []float64
	Targets []string
	// UnscaledColumns names the passability column holding each target's
	// unscaled habitat.
	UnscaledColumns []string
	Rows            []MatrixRow
}

// Row returns the row for barrier id, or nil.
func (m *Matrix) Row(id string) *MatrixRow {
	for i := range m.Rows {
		if m.Rows[i].ID == id {
			return &m.Rows[i]
		}
	}
	return nil
}

// Aggregator reduces parsed budget runs into the summary and selection
// matrix for one dataset.
type Aggregator struct {
	ds    *Dataset
	frame *InputFrame
	paths *PathIndex
}

// NewAggregator creates an Aggregator over the run's dataset, input frame
// and downstream paths.
func NewAggregator(ds *Dataset, frame *InputFrame, paths *PathIndex) *Aggregator {
	return &Aggregator{ds: ds, frame: frame, paths: paths}
}

// Aggregate builds the summary and matrix from runs. Runs are ordered by
// ascending budget; the first becomes the net-gain baseline.
func (a *Aggregator) Aggregate(runs []*BudgetRun) (*Summary, *Matrix, error) {
	if len(runs) == 0 {
		return nil, nil, runtimef("no budget runs to aggregate")
	}
	runs = slices.Clone(runs)
	slices.SortStableFunc(runs, func(x, y *BudgetRun) int {
		switch {
		case x.Budget < y.Budget:
			return -1
		case x.Budget > y.Budget:
			return 1
		}
		return 0
	})

	m := a.matrix(runs)
	s := &Summary{Targets: a.ds.TargetAbbrevs(), Rows: make([]SummaryRow, len(runs))}
	for i, r := range runs {
		s.Rows[i] = SummaryRow{
			Budget:    r.Budget,
			Habitat:   r.Habitat,
			Selected:  slices.Clone(r.Selected),
			Potential: make([]float64, len(a.ds.Targets)),
			NetGain:   r.Habitat - runs[0].Habitat,
		}
	}

	wph := make([]float64, len(runs))
	for t := range a.ds.Targets {
		cp := a.potentialHabitat(t, m)
		floats.AddScaled(wph, float64(a.ds.Weights[t]), cp)
		for i := range s.Rows {
			s.Rows[i].Potential[t] = cp[i]
		}
	}
	for i := range s.Rows {
		s.Rows[i].WPH = wph[i]
	}
	return s, m, nil
}

func (a *Aggregator) matrix(runs []*BudgetRun) *Matrix {
	m := &Matrix{
		Budgets:         make([]float64, len(runs)),
		Targets:         a.ds.TargetAbbrevs(),
		UnscaledColumns: make([]string, len(a.ds.Targets)),
		Rows:            make([]MatrixRow, len(a.frame.Rows)),
	}
	for i, r := range runs {
		m.Budgets[i] = r.Budget
	}
	for t, tgt := range a.ds.Targets {
		m.UnscaledColumns[t] = tgt.Columns.Unscaled
	}

	for i, fr := range a.frame.Rows {
		row := MatrixRow{
			ID:       fr.ID,
			Selected: make([]int, len(runs)),
			Unscaled: make([]float64, len(a.ds.Targets)),
			Gain:     make([]float64, len(a.ds.Targets)),
		}
		for j, r := range runs {
			if r.IsSelected(fr.ID) {
				row.Selected[j] = 1
				row.Count++
			}
		}
		for t, tgt := range a.ds.Targets {
			unscaled := a.value(fr.ID, tgt.Columns.Unscaled)
			row.Unscaled[t] = a.ds.Passability.Value(fr.ID, tgt.Columns.Unscaled)
			row.Gain[t] = (a.value(fr.ID, tgt.Columns.Postpass) - a.value(fr.ID, tgt.Columns.Prepass)) * unscaled
		}
		m.Rows[i] = row
	}
	return m
}

// potentialHabitat computes the expected accessible habitat of target t at
// each budget level: for every barrier, the product of the chosen
// passability along its downstream path times its unscaled habitat.
func (a *Aggregator) potentialHabitat(t int, m *Matrix) []float64 {
	cols := a.ds.Targets[t].Columns
	res := make([]float64, len(m.Budgets))
	chosen := make(map[string]float64, len(m.Rows))
	terms := make([]float64, len(m.Rows))

	for j := range m.Budgets {
		for _, row := range m.Rows {
			col := cols.Prepass
			if row.Selected[j] == 1 {
				col = cols.Postpass
			}
			chosen[row.ID] = a.value(row.ID, col)
		}
		for i, row := range m.Rows {
			path := a.paths.Path(row.ID)
			pvec := make([]float64, len(path))
			for k, id := range path {
				pvec[k] = chosen[id]
			}
			terms[i] = floats.Prod(pvec) * a.value(row.ID, cols.Unscaled)
		}
		res[j] = floats.Sum(terms)
	}
	return res
}

// value returns a passability cell with missing values as zero.
func (a *Aggregator) value(id, column string) float64 {
	v := a.ds.Passability.Value(id, column)
	if math.IsNaN(v) {
		return 0
	}
	return v
}
