// Package optipass prepares barrier datasets for the OptiPass optimizer,
// runs it across a budget sweep and reduces the per-budget outputs into a
// summary table and a barrier selection matrix.
package optipass

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/banshee-data/tidegates/internal/config"
	"github.com/banshee-data/tidegates/internal/fsutil"
	"github.com/banshee-data/tidegates/internal/monitoring"
)

// TokenPrefix starts every run token and run directory name.
const TokenPrefix = "op-"

// Request describes one pipeline run.
type Request struct {
	Sources   Sources
	Selection Selection
	Budgets   BudgetSpec
	// ReplayDir, if set, names a directory of existing output artifacts.
	// The optimizer is not run and no run directory is created.
	ReplayDir string
}

// Result is the outcome of a successful run.
type Result struct {
	// Token names the run directory under the work root. It is empty for
	// replayed runs.
	Token   string
	Dir     string
	Dataset *Dataset
	Frame   *InputFrame
	Paths   *PathIndex
	Summary *Summary
	Matrix  *Matrix
}

// PipelineConfig controls where runs execute and what they leave behind.
type PipelineConfig struct {
	WorkRoot string
	// KeepWorkDirs keeps each run directory with its input, outputs,
	// result tables and plot. Otherwise the directory is removed once the
	// tables are built.
	KeepWorkDirs bool
}

// Pipeline runs load, path indexing, frame building, the sweep and
// aggregation in order. A Pipeline may serve concurrent runs; each run
// gets its own directory.
type Pipeline struct {
	fs       fsutil.FileSystem
	executor *Executor
	cfg      PipelineConfig
}

// NewPipeline creates a Pipeline.
func NewPipeline(fs fsutil.FileSystem, executor *Executor, cfg PipelineConfig) *Pipeline {
	return &Pipeline{fs: fs, executor: executor, cfg: cfg}
}

// NewPipelineFromConfig wires the optimizer, executor and pipeline described
// by cfg. Processes are started with builder.
func NewPipelineFromConfig(cfg *config.OptiPassConfig, fs fsutil.FileSystem, builder CommandBuilder) *Pipeline {
	opt := NewOptimizer(cfg.GetOptimizerPath(), cfg.GetLauncher(), fs, builder)
	executor := NewExecutor(opt, fs,
		WithInvocationTimeout(cfg.GetInvocationTimeout()),
		WithErrorMarker(cfg.GetErrorMarker()),
	)
	return NewPipeline(fs, executor, PipelineConfig{
		WorkRoot:     cfg.GetWorkRoot(),
		KeepWorkDirs: cfg.GetKeepWorkDirs(),
	})
}

// NewToken returns a fresh run token.
func NewToken() string {
	return TokenPrefix + uuid.NewString()
}

// ValidToken reports whether token has the form produced by NewToken.
func ValidToken(token string) bool {
	id, ok := strings.CutPrefix(token, TokenPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Run executes req. Faults are returned unmodified and no partial tables
// are produced.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Budgets.Validate(); err != nil {
		return nil, err
	}

	ds, err := NewLoader(p.fs).Load(req.Sources, req.Selection)
	if err != nil {
		return nil, err
	}
	paths, err := NewPathIndex(ds.Barriers)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Dataset: ds,
		Frame:   BuildInputFrame(ds),
		Paths:   paths,
	}

	var outputs []string
	if req.ReplayDir != "" {
		res.Dir = req.ReplayDir
		if outputs, err = Replay(p.fs, req.ReplayDir, req.Budgets); err != nil {
			return nil, err
		}
	} else {
		res.Token = NewToken()
		res.Dir = filepath.Join(p.cfg.WorkRoot, res.Token)
		logf := monitoring.RunLogf(res.Token)
		if err := p.fs.MkdirAll(res.Dir, 0755); err != nil {
			return nil, runtimef("failed to create run directory: %v", err)
		}
		logf("optipass: sweep %s over %d barriers, targets %v", req.Budgets, len(res.Frame.Rows), res.Frame.Targets)

		outputs, err = p.executor.Sweep(ctx, res.Frame, res.Dir, req.Budgets, ds.Weights)
		if err != nil {
			p.cleanup(res.Dir, logf)
			return nil, err
		}
	}

	runs := make([]*BudgetRun, 0, len(outputs))
	for _, path := range outputs {
		run, err := ParseOutputFile(p.fs, path)
		if err != nil {
			p.cleanupRun(res)
			return nil, err
		}
		runs = append(runs, run)
	}

	res.Summary, res.Matrix, err = NewAggregator(ds, res.Frame, paths).Aggregate(runs)
	if err != nil {
		p.cleanupRun(res)
		return nil, err
	}

	if res.Token != "" {
		if p.cfg.KeepWorkDirs {
			if err := p.saveResults(res); err != nil {
				return nil, err
			}
		} else {
			p.cleanupRun(res)
		}
	}
	return res, nil
}

func (p *Pipeline) saveResults(res *Result) error {
	crlf := nativeCRLF()
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{SummaryFileName, func(w io.Writer) error { return WriteSummary(w, res.Summary, crlf) }},
		{MatrixFileName, func(w io.Writer) error { return WriteMatrix(w, res.Matrix, crlf) }},
		{PlotFileName, func(w io.Writer) error { return WritePlot(w, res.Summary) }},
	}
	for _, f := range files {
		path := filepath.Join(res.Dir, f.name)
		w, err := p.fs.Create(path)
		if err != nil {
			return runtimef("failed to create %s: %v", path, err)
		}
		if err := f.write(w); err != nil {
			w.Close()
			return fmt.Errorf("%w: failed to write %s: %v", ErrRuntime, path, err)
		}
		if err := w.Close(); err != nil {
			return runtimef("failed to write %s: %v", path, err)
		}
	}
	return nil
}

// cleanupRun removes a run directory unless directories are kept. Replay
// directories are never touched.
func (p *Pipeline) cleanupRun(res *Result) {
	if res.Token == "" {
		return
	}
	p.cleanup(res.Dir, monitoring.RunLogf(res.Token))
}

func (p *Pipeline) cleanup(dir string, logf func(string, ...interface{})) {
	if p.cfg.KeepWorkDirs {
		logf("optipass: keeping %s", dir)
		return
	}
	if err := p.fs.RemoveAll(dir); err != nil {
		logf("optipass: failed to remove %s: %v", dir, err)
		return
	}
	logf("optipass: removed %s", dir)
}
