package optipass

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"
	"slices"
	"strconv"
	"strings"
)

// naMarker encodes a missing numeric value in every file this package writes.
const naMarker = "NA"

// Column name prefixes for the per-target columns of the input file.
const (
	habitatPrefix = "HAB_"
	prePrefix     = "PRE_"
	postPrefix    = "POST_"
)

// FrameRow is one barrier row of the optimizer input file. Habitat, Pre and
// Post hold one value per target, in target order.
type FrameRow struct {
	ID      string
	Region  string
	Focus   int
	DSID    string
	Habitat []float64
	Pre     []float64
	NProj   int
	Action  int
	Cost    float64
	Post    []float64
}

// InputFrame is the optimizer's barrier file: a fixed column schema with one
// row per selected barrier.
type InputFrame struct {
	Targets []string
	Rows    []FrameRow
}

// BuildInputFrame projects the dataset onto the optimizer's input schema.
// Every row is in focus and uses the single submitted scenario.
func BuildInputFrame(ds *Dataset) *InputFrame {
	f := &InputFrame{
		Targets: ds.TargetAbbrevs(),
		Rows:    make([]FrameRow, 0, len(ds.Barriers)),
	}
	for _, b := range ds.Barriers {
		row := FrameRow{
			ID:      b.ID,
			Region:  b.Region,
			Focus:   1,
			DSID:    b.DSID,
			Habitat: make([]float64, len(ds.Targets)),
			Pre:     make([]float64, len(ds.Targets)),
			NProj:   b.NProj,
			Action:  0,
			Cost:    b.Cost,
			Post:    make([]float64, len(ds.Targets)),
		}
		for i, t := range ds.Targets {
			row.Habitat[i] = ds.Passability.Value(b.ID, t.Columns.Habitat)
			row.Pre[i] = ds.Passability.Value(b.ID, t.Columns.Prepass)
			row.Post[i] = ds.Passability.Value(b.ID, t.Columns.Postpass)
		}
		f.Rows = append(f.Rows, row)
	}
	return f
}

// Columns returns the header of the input file in schema order.
func (f *InputFrame) Columns() []string {
	return frameColumns(f.Targets)
}

func frameColumns(targets []string) []string {
	cols := []string{"ID", "REG", "FOCUS", "DSID"}
	for _, t := range targets {
		cols = append(cols, habitatPrefix+t)
	}
	for _, t := range targets {
		cols = append(cols, prePrefix+t)
	}
	cols = append(cols, "NPROJ", "ACTION", "COST")
	for _, t := range targets {
		cols = append(cols, postPrefix+t)
	}
	return cols
}

// IDs returns the barrier IDs in row order.
func (f *InputFrame) IDs() []string {
	out := make([]string, len(f.Rows))
	for i, r := range f.Rows {
		out[i] = r.ID
	}
	return out
}

// TotalCost sums the COST column, skipping missing values.
func (f *InputFrame) TotalCost() float64 {
	var sum float64
	for _, r := range f.Rows {
		if !math.IsNaN(r.Cost) {
			sum += r.Cost
		}
	}
	return sum
}

func (r FrameRow) record() []string {
	rec := []string{r.ID, r.Region, strconv.Itoa(r.Focus), formatID(r.DSID)}
	rec = appendValues(rec, r.Habitat)
	rec = appendValues(rec, r.Pre)
	rec = append(rec, strconv.Itoa(r.NProj), strconv.Itoa(r.Action), formatValue(r.Cost))
	return appendValues(rec, r.Post)
}

// WriteTSV writes the frame as a tab-delimited file with a header row.
// Missing values are written as NA. Lines end in CRLF when crlf is set.
func (f *InputFrame) WriteTSV(w io.Writer, crlf bool) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	cw.UseCRLF = crlf

	if err := cw.Write(f.Columns()); err != nil {
		return err
	}
	for _, r := range f.Rows {
		if err := cw.Write(r.record()); err != nil {
			return fmt.Errorf("failed to write row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// nativeCRLF reports whether files written for the optimizer should use
// the host's CRLF line ending.
func nativeCRLF() bool { return runtime.GOOS == "windows" }

// ReadInputFrame parses a file written by WriteTSV. The target list is
// recovered from the HAB_ columns and the header must match the schema.
func ReadInputFrame(r io.Reader) (*InputFrame, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'

	header, err := cr.Read()
	if err != nil {
		return nil, validationf("input frame header: %v", err)
	}
	var targets []string
	for _, h := range header {
		if t, ok := strings.CutPrefix(h, habitatPrefix); ok {
			targets = append(targets, t)
		}
	}
	if want := frameColumns(targets); !slices.Equal(header, want) {
		return nil, validationf("input frame header %v does not match schema %v", header, want)
	}

	f := &InputFrame{Targets: targets}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, validationf("input frame: %v", err)
		}
		row, err := parseFrameRow(rec, len(targets))
		if err != nil {
			return nil, validationf("input frame line %d: %v", line, err)
		}
		f.Rows = append(f.Rows, row)
	}
	return f, nil
}

func parseFrameRow(rec []string, n int) (FrameRow, error) {
	row := FrameRow{ID: rec[0], Region: rec[1], DSID: parseID(rec[3])}
	var err error
	if row.Focus, err = strconv.Atoi(rec[2]); err != nil {
		return row, fmt.Errorf("FOCUS: %w", err)
	}
	if row.Habitat, err = parseValues(rec[4 : 4+n]); err != nil {
		return row, fmt.Errorf("habitat: %w", err)
	}
	if row.Pre, err = parseValues(rec[4+n : 4+2*n]); err != nil {
		return row, fmt.Errorf("prepass: %w", err)
	}
	if row.NProj, err = strconv.Atoi(rec[4+2*n]); err != nil {
		return row, fmt.Errorf("NPROJ: %w", err)
	}
	if row.Action, err = strconv.Atoi(rec[5+2*n]); err != nil {
		return row, fmt.Errorf("ACTION: %w", err)
	}
	if row.Cost, err = parseCell(rec[6+2*n]); err != nil {
		return row, fmt.Errorf("COST: %w", err)
	}
	if row.Post, err = parseValues(rec[7+2*n:]); err != nil {
		return row, fmt.Errorf("postpass: %w", err)
	}
	return row, nil
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return naMarker
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatID(id string) string {
	if id == "" {
		return naMarker
	}
	return id
}

func parseID(s string) string {
	if s == naMarker {
		return ""
	}
	return s
}

func appendValues(rec []string, values []float64) []string {
	for _, v := range values {
		rec = append(rec, formatValue(v))
	}
	return rec
}

func parseValues(cells []string) ([]float64, error) {
	out := make([]float64, len(cells))
	for i, c := range cells {
		v, err := parseCell(c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
