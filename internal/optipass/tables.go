package optipass

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
)

// Result table file names inside a kept run directory.
const (
	SummaryFileName = "summary.txt"
	MatrixFileName  = "matrix.txt"
)

// summaryHeader returns budget, habitat, gates, one column per target, wph
// and netgain.
func summaryHeader(targets []string) []string {
	h := []string{"budget", "habitat", "gates"}
	h = append(h, targets...)
	return append(h, "wph", "netgain")
}

// WriteSummary writes s as CSV. Missing values are written as NA.
func WriteSummary(w io.Writer, s *Summary, crlf bool) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = crlf

	if err := cw.Write(summaryHeader(s.Targets)); err != nil {
		return err
	}
	for _, r := range s.Rows {
		rec := []string{formatValue(r.Budget), formatValue(r.Habitat), strings.Join(r.Selected, " ")}
		rec = appendValues(rec, r.Potential)
		rec = append(rec, formatValue(r.WPH), formatValue(r.NetGain))
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSummary parses a table written by WriteSummary.
func ReadSummary(r io.Reader) (*Summary, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, runtimef("summary header: %v", err)
	}
	if len(header) < 5 || header[0] != "budget" || header[len(header)-1] != "netgain" {
		return nil, runtimef("summary header %v is not a sweep summary", header)
	}
	targets := summaryTargets(header)
	s := &Summary{Targets: targets}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, runtimef("summary: %v", err)
		}
		nums, err := parseValues(append([]string{rec[0], rec[1]}, rec[3:]...))
		if err != nil {
			return nil, runtimef("summary row %d: %v", len(s.Rows)+2, err)
		}
		n := len(targets)
		row := SummaryRow{
			Budget:    nums[0],
			Habitat:   nums[1],
			Potential: nums[2 : 2+n],
			WPH:       nums[2+n],
			NetGain:   nums[3+n],
		}
		if rec[2] != "" {
			row.Selected = strings.Fields(rec[2])
		}
		s.Rows = append(s.Rows, row)
	}
	return s, nil
}

// summaryTargets returns the target columns between gates and wph.
func summaryTargets(header []string) []string {
	return append([]string(nil), header[3:len(header)-2]...)
}

// WriteMatrix writes m as CSV: the barrier ID, one 0/1 column per budget,
// count, then each target's unscaled habitat and GAIN_ columns.
func WriteMatrix(w io.Writer, m *Matrix, crlf bool) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = crlf

	header := []string{"ID"}
	for _, b := range m.Budgets {
		header = append(header, formatValue(b))
	}
	header = append(header, "count")
	for i, t := range m.Targets {
		header = append(header, m.UnscaledColumns[i], "GAIN_"+t)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range m.Rows {
		rec := []string{r.ID}
		for _, v := range r.Selected {
			rec = append(rec, strconv.Itoa(v))
		}
		rec = append(rec, strconv.Itoa(r.Count))
		for i := range m.Targets {
			rec = append(rec, formatValue(r.Unscaled[i]), formatValue(r.Gain[i]))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
