package optipass

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/banshee-data/tidegates/internal/fsutil"
)

// Invocation is one optimizer run at a single budget level.
type Invocation struct {
	InputPath  string
	OutputPath string
	Budget     int64
	// Weights holds one weight per target. It is passed to the optimizer
	// only when there is more than one target.
	Weights []int
}

// Args returns the optimizer's argument vector for inv.
func (inv Invocation) Args() []string {
	args := []string{
		"-f", inv.InputPath,
		"-o", inv.OutputPath,
		"-b", strconv.FormatInt(inv.Budget, 10),
	}
	if n := len(inv.Weights); n > 1 {
		w := make([]string, n)
		for i, v := range inv.Weights {
			w[i] = strconv.Itoa(v)
		}
		args = append(args, "-t", strconv.Itoa(n), "-w", strings.Join(w, ","))
	}
	return args
}

// Optimizer describes the external optimizer executable and how to start it.
type Optimizer struct {
	// Path is the optimizer executable.
	Path string
	// Launcher, if set, runs Path on hosts that cannot execute it
	// directly (e.g. "wine").
	Launcher string

	fs       fsutil.FileSystem
	builder  CommandBuilder
	lookPath func(string) (string, error)
	goos     string
}

// NewOptimizer creates an Optimizer that checks for its binary through fs
// and starts processes with builder.
func NewOptimizer(path, launcher string, fs fsutil.FileSystem, builder CommandBuilder) *Optimizer {
	return &Optimizer{
		Path:     path,
		Launcher: launcher,
		fs:       fs,
		builder:  builder,
		lookPath: exec.LookPath,
		goos:     runtime.GOOS,
	}
}

// CheckInstalled reports whether this host can run the optimizer. The
// returned error wraps ErrUnsupported.
func (o *Optimizer) CheckInstalled() error {
	info, err := o.fs.Stat(o.Path)
	if err != nil {
		return fmt.Errorf("%w: optimizer %s not found: %v", ErrUnsupported, o.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: optimizer %s is a directory", ErrUnsupported, o.Path)
	}

	if o.Launcher != "" {
		if _, err := o.lookPath(o.Launcher); err != nil {
			return fmt.Errorf("%w: launcher %s not available: %v", ErrUnsupported, o.Launcher, err)
		}
		return nil
	}
	if o.goos == "windows" {
		return nil
	}
	if strings.EqualFold(filepath.Ext(o.Path), ".exe") {
		return fmt.Errorf("%w: %s is a Windows executable and no launcher is configured", ErrUnsupported, o.Path)
	}
	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%w: optimizer %s is not executable", ErrUnsupported, o.Path)
	}
	return nil
}

// Command returns the program name and full argument vector for inv,
// including the launcher when one is configured.
func (o *Optimizer) Command(inv Invocation) (string, []string) {
	if o.Launcher != "" {
		return o.Launcher, append([]string{o.Path}, inv.Args()...)
	}
	return o.Path, inv.Args()
}

// Run starts the optimizer for inv and waits for it to exit, returning its
// combined output.
func (o *Optimizer) Run(ctx context.Context, inv Invocation) ([]byte, error) {
	name, args := o.Command(inv)
	return o.builder.BuildCommand(ctx, name, args...).Run()
}
