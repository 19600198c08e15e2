package optipass

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/banshee-data/tidegates/internal/fsutil"
)

// Header tags of an optimizer output artifact.
const (
	tagBudget       = "BUDGET"
	tagStatus       = "STATUS"
	tagOptGap       = "OPTGAP"
	tagHabitat      = "PTNL_HABITAT"
	tagNetGain      = "NETGAIN"
	tagTargetWeight = "TARGET_WT_"
	tagTargetHab    = "TARGET_HAB_"
	tagWtHabitat    = "WT_PTNL_HAB"
	tagWtNetGain    = "WT_NETGAIN"

	statusNoSolution = "NO_SOLN"
)

// OutputKind discriminates the two artifact layouts.
type OutputKind int

const (
	// SingleTarget artifacts report PTNL_HABITAT and NETGAIN.
	SingleTarget OutputKind = iota + 1
	// MultiTarget artifacts list per-target lines before WT_PTNL_HAB and
	// WT_NETGAIN.
	MultiTarget
)

func (k OutputKind) String() string {
	switch k {
	case SingleTarget:
		return "single"
	case MultiTarget:
		return "multi"
	default:
		return "unknown"
	}
}

// BudgetRun is the parsed result of one optimizer invocation.
type BudgetRun struct {
	Kind   OutputKind
	Budget float64
	// Habitat is PTNL_HABITAT for single-target runs and WT_PTNL_HAB for
	// multi-target runs.
	Habitat float64
	// Selected lists the barriers with action flag 1, in file order.
	Selected []string
	// TargetWeights and TargetHabitat hold the TARGET_WT_i and
	// TARGET_HAB_i lines of multi-target artifacts, indexed from zero.
	TargetWeights []float64
	TargetHabitat []float64
}

// IsSelected reports whether barrier id was selected in this run.
func (r *BudgetRun) IsSelected(id string) bool {
	return slices.Contains(r.Selected, id)
}

type lineReader struct {
	name string
	sc   *bufio.Scanner
	line int
	text string
}

func (lr *lineReader) next() bool {
	if !lr.sc.Scan() {
		return false
	}
	lr.line++
	lr.text = strings.TrimRight(lr.sc.Text(), "\r")
	return true
}

func (lr *lineReader) fault(want string) *ParseError {
	return &ParseError{Path: lr.name, Line: lr.line, Want: want, Got: lr.text}
}

// eof reports an artifact that ended while want was expected.
func (lr *lineReader) eof(want string) *ParseError {
	return &ParseError{Path: lr.name, Line: lr.line + 1, Want: want, Got: "<EOF>"}
}

// tagged reads the next line, checks that its first field starts with tag,
// and returns the value field.
func (lr *lineReader) tagged(tag string) (string, error) {
	if !lr.next() {
		return "", lr.eof(tag)
	}
	return lr.value(tag)
}

func (lr *lineReader) value(tag string) (string, error) {
	fields := strings.Fields(lr.text)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], tag) {
		return "", lr.fault(tag)
	}
	return fields[1], nil
}

func (lr *lineReader) number(tag string) (float64, error) {
	v, err := lr.value(tag)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, lr.fault(tag + " <number>")
	}
	return f, nil
}

// ParseOutput parses one optimizer output artifact. name is used in error
// messages. A NO_SOLN status and any malformed line reject the whole
// artifact.
func ParseOutput(name string, r io.Reader) (*BudgetRun, error) {
	lr := &lineReader{name: name, sc: bufio.NewScanner(r)}
	run := &BudgetRun{}

	if !lr.next() {
		return nil, lr.eof(tagBudget)
	}
	budget, err := lr.number(tagBudget)
	if err != nil {
		return nil, err
	}
	run.Budget = budget

	status, err := lr.tagged(tagStatus)
	if err != nil {
		return nil, err
	}
	if status == statusNoSolution {
		return nil, runtimef("%s: optimizer found no solution at budget %s", name, formatValue(budget))
	}
	if _, err := lr.tagged(tagOptGap); err != nil {
		return nil, err
	}

	if !lr.next() {
		return nil, lr.eof(tagHabitat + " or " + tagWtHabitat)
	}
	if strings.HasPrefix(lr.text, tagHabitat) {
		run.Kind = SingleTarget
		if run.Habitat, err = lr.number(tagHabitat); err != nil {
			return nil, err
		}
		if _, err := lr.tagged(tagNetGain); err != nil {
			return nil, err
		}
	} else {
		run.Kind = MultiTarget
		if err := parseTargetBlock(lr, run); err != nil {
			return nil, err
		}
	}

	if !lr.next() {
		return nil, lr.eof("blank line")
	}
	if strings.TrimSpace(lr.text) != "" {
		return nil, lr.fault("blank line")
	}
	if !lr.next() {
		return nil, lr.eof("column header")
	}

	for lr.next() {
		fields := strings.Fields(lr.text)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, &ParseError{Path: name, Line: lr.line, Got: lr.text}
		}
		if fields[1] == "1" {
			run.Selected = append(run.Selected, fields[0])
		}
	}
	if err := lr.sc.Err(); err != nil {
		return nil, runtimef("%s: %v", name, err)
	}
	return run, nil
}

// parseTargetBlock scans the per-target lines of a multi-target artifact up
// to WT_PTNL_HAB, then checks the WT_NETGAIN line. lr is positioned on the
// first line of the block.
func parseTargetBlock(lr *lineReader, run *BudgetRun) error {
	for {
		switch {
		case strings.HasPrefix(lr.text, tagWtHabitat):
			v, err := lr.number(tagWtHabitat)
			if err != nil {
				return err
			}
			run.Habitat = v
			_, err = lr.tagged(tagWtNetGain)
			return err
		case strings.HasPrefix(lr.text, tagTargetWeight):
			v, err := lr.number(tagTargetWeight)
			if err != nil {
				return err
			}
			run.TargetWeights = append(run.TargetWeights, v)
		case strings.HasPrefix(lr.text, tagTargetHab):
			v, err := lr.number(tagTargetHab)
			if err != nil {
				return err
			}
			run.TargetHabitat = append(run.TargetHabitat, v)
		}
		if !lr.next() {
			return lr.eof(tagWtHabitat)
		}
	}
}

// ParseOutputFile parses the artifact at path.
func ParseOutputFile(fs fsutil.FileSystem, path string) (*BudgetRun, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, runtimef("failed to open output %s: %v", path, err)
	}
	defer f.Close()
	return ParseOutput(path, f)
}

// outputName is the artifact file name for budget level i.
func outputName(i int) string {
	return fmt.Sprintf("output_%d.txt", i)
}

// ListOutputs returns the output artifacts in dir ordered by their numeric
// index, so output_10 follows output_9.
func ListOutputs(fs fsutil.FileSystem, dir string) ([]string, error) {
	matches, err := fs.Glob(filepath.Join(dir, "output_*.txt"))
	if err != nil {
		return nil, runtimef("failed to list outputs in %s: %v", dir, err)
	}
	type indexed struct {
		path string
		n    int
	}
	var found []indexed
	for _, m := range matches {
		base := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), "output_"), ".txt")
		n, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		found = append(found, indexed{m, n})
	}
	slices.SortFunc(found, func(a, b indexed) int { return a.n - b.n })

	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.path
	}
	return out, nil
}
