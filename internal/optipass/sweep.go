package optipass

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/tidegates/internal/fsutil"
	"github.com/banshee-data/tidegates/internal/monitoring"
	"github.com/banshee-data/tidegates/internal/timeutil"
)

// InputFileName is the optimizer input file written into a run directory.
const InputFileName = "input.txt"

// Executor drives the optimizer across a budget sweep. Invocations run one
// at a time in ascending budget order; the optimizer is not safe to run
// concurrently on shared files.
type Executor struct {
	optimizer   *Optimizer
	fs          fsutil.FileSystem
	timeout     time.Duration
	errorMarker string
	logf        func(format string, v ...interface{})
	clock       timeutil.Clock
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithInvocationTimeout bounds each optimizer call. Zero disables the limit.
func WithInvocationTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithErrorMarker sets the text whose presence in the optimizer's output,
// matched case-insensitively, marks a failed invocation.
func WithErrorMarker(marker string) ExecutorOption {
	return func(e *Executor) { e.errorMarker = marker }
}

// WithLogger sets the logger used for per-invocation progress.
func WithLogger(logf func(format string, v ...interface{})) ExecutorOption {
	return func(e *Executor) { e.logf = logf }
}

// WithClock sets the clock used to time invocations.
func WithClock(c timeutil.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = c }
}

// NewExecutor creates an Executor for opt that writes through fs.
func NewExecutor(opt *Optimizer, fs fsutil.FileSystem, opts ...ExecutorOption) *Executor {
	e := &Executor{
		optimizer:   opt,
		fs:          fs,
		errorMarker: "error",
		logf:        monitoring.Logf,
		clock:       timeutil.RealClock{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Sweep writes frame to dir, runs the optimizer once per budget level and
// returns the output artifacts in budget order. The first failed
// invocation aborts the sweep.
func (e *Executor) Sweep(ctx context.Context, frame *InputFrame, dir string, budgets BudgetSpec, weights []int) ([]string, error) {
	if err := e.optimizer.CheckInstalled(); err != nil {
		return nil, err
	}

	input := filepath.Join(dir, InputFileName)
	if err := e.writeInput(frame, input); err != nil {
		return nil, err
	}

	for i, budget := range budgets.Levels() {
		inv := Invocation{
			InputPath:  input,
			OutputPath: filepath.Join(dir, outputName(i)),
			Budget:     budget,
			Weights:    weights,
		}
		if err := e.invoke(ctx, inv); err != nil {
			return nil, err
		}
	}

	return collectOutputs(e.fs, dir, budgets)
}

func (e *Executor) writeInput(frame *InputFrame, path string) error {
	f, err := e.fs.Create(path)
	if err != nil {
		return runtimef("failed to create %s: %v", path, err)
	}
	if err := frame.WriteTSV(f, nativeCRLF()); err != nil {
		f.Close()
		return runtimef("failed to write %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return runtimef("failed to write %s: %v", path, err)
	}
	return nil
}

func (e *Executor) invoke(ctx context.Context, inv Invocation) error {
	if err := ctx.Err(); err != nil {
		return &ProcessError{Budget: inv.Budget, Err: err}
	}

	ictx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	name, args := e.optimizer.Command(inv)
	monitoring.Debugf("optipass: exec %s %s", name, strings.Join(args, " "))

	start := e.clock.Now()
	out, err := e.optimizer.Run(ictx, inv)
	elapsed := e.clock.Since(start)

	switch {
	case ictx.Err() != nil:
		// A killed process reports "signal: killed"; surface the deadline or
		// cancellation instead.
		err = ictx.Err()
	case err == nil && e.hasErrorMarker(out):
		err = errors.New("optimizer reported an error")
	}
	if err != nil {
		e.logf("optipass: budget %d failed after %v: %v", inv.Budget, elapsed.Round(time.Millisecond), err)
		return &ProcessError{Budget: inv.Budget, Args: append([]string{name}, args...), Output: string(out), Err: err}
	}

	e.logf("optipass: budget %d done in %v", inv.Budget, elapsed.Round(time.Millisecond))
	monitoring.Debugf("optipass: budget %d output: %s", inv.Budget, strings.TrimSpace(string(out)))
	return nil
}

func (e *Executor) hasErrorMarker(out []byte) bool {
	if e.errorMarker == "" {
		return false
	}
	return strings.Contains(strings.ToLower(string(out)), strings.ToLower(e.errorMarker))
}

// Replay treats the artifacts already present in dir as the result of a
// sweep over budgets. Nothing is executed.
func Replay(fs fsutil.FileSystem, dir string, budgets BudgetSpec) ([]string, error) {
	monitoring.Logf("optipass: replaying outputs from %s", dir)
	return collectOutputs(fs, dir, budgets)
}

// collectOutputs lists the artifacts in dir and fails when there are fewer
// than the sweep's budget levels.
func collectOutputs(fs fsutil.FileSystem, dir string, budgets BudgetSpec) ([]string, error) {
	if err := budgets.Validate(); err != nil {
		return nil, err
	}
	outputs, err := ListOutputs(fs, dir)
	if err != nil {
		return nil, err
	}
	want := budgets.Count + 1
	if len(outputs) < want {
		return nil, fmt.Errorf("%w: expected %d output files in %s, found %d", ErrRuntime, want, dir, len(outputs))
	}
	if len(outputs) > want {
		monitoring.Logf("optipass: %s has %d output files for %d budget levels; ignoring the rest", dir, len(outputs), want)
		outputs = outputs[:want]
	}
	return outputs, nil
}
