package optipass

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/banshee-data/tidegates/internal/fsutil"
	"github.com/banshee-data/tidegates/internal/monitoring"
)

// File names inside a project's barrier directory.
const (
	BarrierFile     = "barriers.csv"
	PassabilityFile = "passability.csv"
)

// Barrier is one row of the barrier table. An empty DSID marks an outlet.
type Barrier struct {
	ID     string
	Region string
	DSID   string
	Cost   float64
	NProj  int
}

// TargetColumns names the passability columns that hold a target's values.
type TargetColumns struct {
	Habitat  string
	Prepass  string
	Postpass string
	Unscaled string
}

func (c TargetColumns) roles() [][2]string {
	return [][2]string{
		{"habitat", c.Habitat},
		{"prepass", c.Prepass},
		{"postpass", c.Postpass},
		{"unscaled", c.Unscaled},
	}
}

// Target is a restoration objective. Columns are the passability columns
// after any project mapping has been applied.
type Target struct {
	Abbrev  string
	Name    string
	Long    string
	Short   string
	Label   string
	Infra   bool
	Columns TargetColumns
}

// PassabilityTable holds the numeric passability columns keyed by barrier
// ID. Missing cells are NaN.
type PassabilityTable struct {
	Columns []string
	index   map[string]int
	rows    map[string][]float64
}

func newPassabilityTable(columns []string) *PassabilityTable {
	p := &PassabilityTable{
		Columns: columns,
		index:   make(map[string]int, len(columns)),
		rows:    make(map[string][]float64),
	}
	for i, c := range columns {
		p.index[c] = i
	}
	return p
}

// HasColumn reports whether column is present in the table.
func (p *PassabilityTable) HasColumn(column string) bool {
	_, ok := p.index[column]
	return ok
}

// HasBarrier reports whether the table has a row for id.
func (p *PassabilityTable) HasBarrier(id string) bool {
	_, ok := p.rows[id]
	return ok
}

// Value returns the cell for barrier id and column, or NaN when either is
// missing or the cell is empty.
func (p *PassabilityTable) Value(id, column string) float64 {
	row, ok := p.rows[id]
	if !ok {
		return math.NaN()
	}
	i, ok := p.index[column]
	if !ok {
		return math.NaN()
	}
	return row[i]
}

// Len returns the number of barrier rows.
func (p *PassabilityTable) Len() int { return len(p.rows) }

// Sources locates a project's datasets. MappingFile may be empty, in which
// case the column references in the target table are used as-is.
type Sources struct {
	BarrierDir  string
	TargetFile  string
	MappingFile string
}

// Selection is the caller's choice of regions, targets and optional weights.
// Weights, when present, align with Targets by position.
type Selection struct {
	Regions []string
	Targets []string
	Weights []int
}

// Dataset is the filtered input to one pipeline run.
type Dataset struct {
	Barriers    []Barrier
	Passability *PassabilityTable
	Targets     []Target
	Mapping     map[string]TargetColumns
	Weights     []int
	Weighted    bool
}

// TargetAbbrevs returns the selected target abbreviations in order.
func (d *Dataset) TargetAbbrevs() []string {
	out := make([]string, len(d.Targets))
	for i, t := range d.Targets {
		out[i] = t.Abbrev
	}
	return out
}

// Loader reads and filters project datasets.
type Loader struct {
	fs fsutil.FileSystem
}

// NewLoader creates a Loader that reads through fs.
func NewLoader(fs fsutil.FileSystem) *Loader {
	return &Loader{fs: fs}
}

// Load reads the barrier, passability, target and mapping tables and
// filters them to the selection.
func (l *Loader) Load(src Sources, sel Selection) (*Dataset, error) {
	if err := sel.validate(); err != nil {
		return nil, err
	}

	barriers, err := l.readBarriers(filepath.Join(src.BarrierDir, BarrierFile), sel.Regions)
	if err != nil {
		return nil, err
	}
	if len(barriers) == 0 {
		return nil, validationf("no barriers in regions %v", sel.Regions)
	}
	keep := make(map[string]bool, len(barriers))
	for _, b := range barriers {
		keep[b.ID] = true
	}

	pass, err := l.readPassability(filepath.Join(src.BarrierDir, PassabilityFile), keep)
	if err != nil {
		return nil, err
	}
	for _, b := range barriers {
		if !pass.HasBarrier(b.ID) {
			monitoring.Logf("optipass: barrier %s has no passability row; values will be NA", b.ID)
		}
	}

	all, err := l.readTargets(src.TargetFile)
	if err != nil {
		return nil, err
	}
	mapping := map[string]TargetColumns{}
	if src.MappingFile != "" {
		if mapping, err = l.readMapping(src.MappingFile, sel.Targets); err != nil {
			return nil, err
		}
	}

	targets := make([]Target, 0, len(sel.Targets))
	for _, abbrev := range sel.Targets {
		t, ok := all[abbrev]
		if !ok {
			return nil, validationf("unknown target %q", abbrev)
		}
		if cols, ok := mapping[abbrev]; ok {
			t.Columns = mergeColumns(t.Columns, cols)
		}
		for _, role := range t.Columns.roles() {
			if role[1] == "" {
				return nil, validationf("target %s has no %s column", abbrev, role[0])
			}
			if !pass.HasColumn(role[1]) {
				return nil, validationf("target %s: %s column %q not in %s", abbrev, role[0], role[1], PassabilityFile)
			}
		}
		targets = append(targets, t)
	}

	ds := &Dataset{
		Barriers:    barriers,
		Passability: pass,
		Targets:     targets,
		Mapping:     mapping,
	}
	ds.setWeights(sel.Weights)

	monitoring.Logf("optipass: loaded %d barriers, %d passability rows, targets %v (weights %v)",
		len(ds.Barriers), ds.Passability.Len(), ds.TargetAbbrevs(), ds.Weights)
	return ds, nil
}

func (s Selection) validate() error {
	if len(s.Regions) == 0 {
		return validationf("no regions selected")
	}
	for _, r := range s.Regions {
		if strings.TrimSpace(r) == "" {
			return validationf("empty region name in %q", s.Regions)
		}
	}
	if len(s.Targets) == 0 {
		return validationf("no targets selected")
	}
	seen := make(map[string]bool, len(s.Targets))
	for _, t := range s.Targets {
		if strings.TrimSpace(t) == "" {
			return validationf("empty target name in %q", s.Targets)
		}
		if seen[t] {
			return validationf("target %q selected twice", t)
		}
		seen[t] = true
	}
	if len(s.Weights) > 0 {
		if len(s.Weights) != len(s.Targets) {
			return validationf("got %d weights for %d targets", len(s.Weights), len(s.Targets))
		}
		for _, w := range s.Weights {
			if w < 0 {
				return validationf("target weights must be non-negative, got %v", s.Weights)
			}
		}
	}
	return nil
}

func (d *Dataset) setWeights(weights []int) {
	if len(weights) > 0 {
		d.Weights = slices.Clone(weights)
		d.Weighted = true
		return
	}
	d.Weights = make([]int, len(d.Targets))
	for i := range d.Weights {
		d.Weights[i] = 1
	}
	d.Weighted = false
}

func mergeColumns(base, override TargetColumns) TargetColumns {
	if override.Habitat != "" {
		base.Habitat = override.Habitat
	}
	if override.Prepass != "" {
		base.Prepass = override.Prepass
	}
	if override.Postpass != "" {
		base.Postpass = override.Postpass
	}
	if override.Unscaled != "" {
		base.Unscaled = override.Unscaled
	}
	return base
}

// table is a CSV file read into memory with a header index.
type table struct {
	path   string
	header map[string]int
	rows   [][]string
}

func (t *table) require(columns ...string) error {
	for _, c := range columns {
		if _, ok := t.header[c]; !ok {
			return validationf("%s: missing column %q", t.path, c)
		}
	}
	return nil
}

// get returns the trimmed cell for column in row, or "" when the row is short.
func (t *table) get(row []string, column string) string {
	i, ok := t.header[column]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (l *Loader) readTable(path string) (*table, error) {
	f, err := l.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, validationf("%s: empty file", path)
	}
	if err != nil {
		return nil, validationf("%s: %v", path, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := &table{path: path, header: make(map[string]int, len(header))}
	for i, h := range header {
		t.header[strings.TrimSpace(h)] = i
	}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, validationf("%s: %v", path, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

func (l *Loader) readBarriers(path string, regions []string) ([]Barrier, error) {
	t, err := l.readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require("ID", "region", "DSID", "cost", "NPROJ"); err != nil {
		return nil, err
	}

	var out []Barrier
	for i, row := range t.rows {
		region := t.get(row, "region")
		if !slices.Contains(regions, region) {
			continue
		}
		b := Barrier{
			ID:     t.get(row, "ID"),
			Region: region,
			DSID:   t.get(row, "DSID"),
		}
		if b.ID == "" {
			return nil, validationf("%s: row %d has no ID", path, i+2)
		}
		if b.DSID == "NA" {
			b.DSID = ""
		}
		if b.Cost, err = parseCell(t.get(row, "cost")); err != nil {
			return nil, validationf("%s: row %d: cost: %v", path, i+2, err)
		}
		if b.Cost < 0 {
			return nil, validationf("%s: row %d: negative cost %v", path, i+2, b.Cost)
		}
		nproj, err := parseCell(t.get(row, "NPROJ"))
		if err != nil {
			return nil, validationf("%s: row %d: NPROJ: %v", path, i+2, err)
		}
		if !math.IsNaN(nproj) {
			b.NProj = int(nproj)
		}
		out = append(out, b)
	}
	return out, nil
}

func (l *Loader) readPassability(path string, keep map[string]bool) (*PassabilityTable, error) {
	t, err := l.readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require("ID"); err != nil {
		return nil, err
	}

	columns := make([]string, 0, len(t.header)-1)
	for name := range t.header {
		if name != "ID" {
			columns = append(columns, name)
		}
	}
	slices.SortFunc(columns, func(a, b string) int { return t.header[a] - t.header[b] })

	pass := newPassabilityTable(columns)
	for i, row := range t.rows {
		id := t.get(row, "ID")
		if !keep[id] {
			continue
		}
		values := make([]float64, len(columns))
		for j, c := range columns {
			if values[j], err = parseCell(t.get(row, c)); err != nil {
				return nil, validationf("%s: row %d: %s: %v", path, i+2, c, err)
			}
		}
		pass.rows[id] = values
	}
	return pass, nil
}

// Targets returns the targets described in the table at path, in file order.
func (l *Loader) Targets(path string) ([]Target, error) {
	t, err := l.readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require("abbrev"); err != nil {
		return nil, err
	}

	out := make([]Target, 0, len(t.rows))
	for _, row := range t.rows {
		tgt := Target{
			Abbrev: t.get(row, "abbrev"),
			Name:   t.get(row, "name"),
			Long:   t.get(row, "long"),
			Short:  t.get(row, "short"),
			Label:  t.get(row, "label"),
			Columns: TargetColumns{
				Habitat:  t.get(row, "habitat"),
				Prepass:  t.get(row, "prepass"),
				Postpass: t.get(row, "postpass"),
				Unscaled: t.get(row, "unscaled"),
			},
		}
		tgt.Infra, _ = strconv.ParseBool(t.get(row, "infra"))
		out = append(out, tgt)
	}
	return out, nil
}

func (l *Loader) readTargets(path string) (map[string]Target, error) {
	list, err := l.Targets(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Target, len(list))
	for _, t := range list {
		out[t.Abbrev] = t
	}
	return out, nil
}

// Regions returns the distinct region names in dir's barrier table, sorted.
func (l *Loader) Regions(dir string) ([]string, error) {
	t, err := l.readTable(filepath.Join(dir, BarrierFile))
	if err != nil {
		return nil, err
	}
	if err := t.require("region"); err != nil {
		return nil, err
	}
	var out []string
	for _, row := range t.rows {
		if r := t.get(row, "region"); r != "" && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (l *Loader) readMapping(path string, selected []string) (map[string]TargetColumns, error) {
	t, err := l.readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require("abbrev"); err != nil {
		return nil, err
	}

	out := make(map[string]TargetColumns)
	for _, row := range t.rows {
		abbrev := t.get(row, "abbrev")
		if !slices.Contains(selected, abbrev) {
			continue
		}
		out[abbrev] = TargetColumns{
			Habitat:  t.get(row, "habitat"),
			Prepass:  t.get(row, "prepass"),
			Postpass: t.get(row, "postpass"),
			Unscaled: t.get(row, "unscaled"),
		}
	}
	return out, nil
}

// parseCell parses a numeric cell. Empty and "NA" cells are NaN.
func parseCell(s string) (float64, error) {
	if s == "" || s == naMarker {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
