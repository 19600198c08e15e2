// Command sweep runs one OptiPass budget sweep from the command line and
// writes the summary table, selection matrix and habitat plot.
//
// The sweep runs locally against a project data root, replays the output
// files of an earlier run, or is delegated to a tidegates server with
// -remote.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/banshee-data/tidegates/internal/api"
	"github.com/banshee-data/tidegates/internal/config"
	"github.com/banshee-data/tidegates/internal/fsutil"
	"github.com/banshee-data/tidegates/internal/httputil"
	"github.com/banshee-data/tidegates/internal/monitoring"
	"github.com/banshee-data/tidegates/internal/optipass"
)

// Exit statuses by failure category.
const (
	exitRuntime     = 1
	exitValidation  = 2
	exitUnsupported = 3
)

// parseCSVIntSlice parses a comma-separated list of ints
func parseCSVIntSlice(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// exitCode maps a pipeline fault to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, optipass.ErrValidation):
		return exitValidation
	case errors.Is(err, optipass.ErrUnsupported):
		return exitUnsupported
	default:
		return exitRuntime
	}
}

type options struct {
	configFile string
	dataRoot   string
	project    string
	colnames   string
	regions    []string
	targets    []string
	weights    []int
	budgets    optipass.BudgetSpec
	replayDir  string
	outDir     string
	remote     string
	debug      bool
}

func parseFlags(fset *flag.FlagSet, args []string) (*options, error) {
	o := &options{}
	var regions, targets, weights, budgets string
	fset.StringVar(&o.configFile, "config", "", "Path to the JSON config file (defaults are used when empty)")
	fset.StringVar(&o.dataRoot, "data", "", "Project data root (overrides data_root from the config)")
	fset.StringVar(&o.project, "project", "", "Project name")
	fset.StringVar(&o.colnames, "colnames", "", "Alternative column mapping of the project")
	fset.StringVar(&regions, "regions", "", "Comma-separated regions (e.g. Coos,Coquille)")
	fset.StringVar(&targets, "targets", "", "Comma-separated target abbreviations (e.g. CO,FI)")
	fset.StringVar(&weights, "weights", "", "Comma-separated integer weights, one per target")
	fset.StringVar(&budgets, "budgets", "0:100000:5", "Budget sweep as start:delta:count")
	fset.StringVar(&o.replayDir, "replay", "", "Directory of existing optimizer output files; the optimizer is not run")
	fset.StringVar(&o.outDir, "out", "", "Directory for summary.txt, matrix.txt and habitat.png (tables go to stdout when empty)")
	fset.StringVar(&o.remote, "remote", "", "Base URL of a tidegates server to run the sweep on (e.g. http://localhost:8000)")
	fset.BoolVar(&o.debug, "debug", false, "Log optimizer command lines and output")
	if err := fset.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", optipass.ErrValidation, err)
	}

	if o.project == "" {
		return nil, fmt.Errorf("%w: -project is required", optipass.ErrValidation)
	}
	o.regions = splitList(regions)
	o.targets = splitList(targets)
	w, err := parseCSVIntSlice(weights)
	if err != nil {
		return nil, fmt.Errorf("%w: -weights: %v", optipass.ErrValidation, err)
	}
	o.weights = w
	if o.budgets, err = optipass.ParseBudgetSpec(budgets); err != nil {
		return nil, err
	}
	if o.remote != "" && o.replayDir != "" {
		return nil, fmt.Errorf("%w: -replay cannot be used with -remote", optipass.ErrValidation)
	}
	return o, nil
}

// loadConfig reads path, or returns the built-in defaults when path is empty.
func loadConfig(path string) (*config.OptiPassConfig, error) {
	if path == "" {
		return config.DefaultOptiPassConfig(), nil
	}
	return config.LoadOptiPassConfig(path)
}

// runLocal runs the pipeline in this process. Its run directory is always
// removed; results are written by writeResults.
func runLocal(ctx context.Context, o *options) (*optipass.Summary, *optipass.Matrix, error) {
	cfg, err := loadConfig(o.configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", optipass.ErrValidation, err)
	}
	if o.dataRoot != "" {
		cfg.DataRoot = &o.dataRoot
	}
	keep := false
	cfg.KeepWorkDirs = &keep

	fs := fsutil.OSFileSystem{}
	catalog, err := api.LoadCatalog(fs, cfg.GetDataRoot())
	if err != nil {
		return nil, nil, err
	}
	src, err := catalog.Sources(o.project, o.colnames)
	if err != nil {
		if errors.Is(err, api.ErrUnknownProject) {
			return nil, nil, fmt.Errorf("%w: %v", optipass.ErrValidation, err)
		}
		return nil, nil, err
	}

	pipeline := optipass.NewPipelineFromConfig(cfg, fs, optipass.NewRealCommandBuilder())
	res, err := pipeline.Run(ctx, optipass.Request{
		Sources: src,
		Selection: optipass.Selection{
			Regions: o.regions,
			Targets: o.targets,
			Weights: o.weights,
		},
		Budgets:   o.budgets,
		ReplayDir: o.replayDir,
	})
	if err != nil {
		return nil, nil, err
	}
	return res.Summary, res.Matrix, nil
}

// runRemote runs the sweep on a server and parses the returned tables.
func runRemote(ctx context.Context, o *options) (*optipass.Summary, string, error) {
	client := api.NewClient(o.remote, httputil.NewStandardClient(nil))
	token, err := client.Run(ctx, o.project, api.RunParams{
		Regions:  o.regions,
		Targets:  o.targets,
		Weights:  o.weights,
		Budgets:  o.budgets,
		Colnames: o.colnames,
	})
	if err != nil {
		return nil, "", err
	}
	monitoring.Logf("sweep: remote run %s finished", token)

	tables, err := client.Tables(ctx, token)
	if err != nil {
		return nil, "", err
	}
	summary, err := optipass.ReadSummary(strings.NewReader(tables.Summary))
	if err != nil {
		return nil, "", err
	}
	return summary, tables.Matrix, nil
}

// writeFile creates path and fills it with write.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// writeResults writes the tables and plot to dir. matrix is the CSV text of
// the selection matrix.
func writeResults(dir string, summary *optipass.Summary, matrix string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{optipass.SummaryFileName, func(w io.Writer) error { return optipass.WriteSummary(w, summary, false) }},
		{optipass.MatrixFileName, func(w io.Writer) error { _, err := io.WriteString(w, matrix); return err }},
		{optipass.PlotFileName, func(w io.Writer) error { return optipass.WritePlot(w, summary) }},
	}
	for _, f := range files {
		if err := writeFile(filepath.Join(dir, f.name), f.write); err != nil {
			return err
		}
	}
	return nil
}

// printResults writes the summary and the matrix to w, separated by a
// blank line.
func printResults(w io.Writer, summary *optipass.Summary, matrix string) error {
	if err := optipass.WriteSummary(w, summary, false); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, matrix)
	return err
}

func matrixText(m *optipass.Matrix) (string, error) {
	var sb strings.Builder
	if err := optipass.WriteMatrix(&sb, m, false); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	o, err := parseFlags(flag.NewFlagSet("sweep", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	monitoring.SetDebug(o.debug)

	var (
		summary *optipass.Summary
		matrix  string
	)
	if o.remote != "" {
		if summary, matrix, err = runRemote(ctx, o); err != nil {
			return err
		}
	} else {
		s, m, err := runLocal(ctx, o)
		if err != nil {
			return err
		}
		summary = s
		if matrix, err = matrixText(m); err != nil {
			return err
		}
	}

	if o.outDir == "" {
		return printResults(stdout, summary, matrix)
	}
	if err := writeResults(o.outDir, summary, matrix); err != nil {
		return fmt.Errorf("%w: %v", optipass.ErrRuntime, err)
	}
	log.Printf("wrote %s, %s and %s to %s", optipass.SummaryFileName, optipass.MatrixFileName, optipass.PlotFileName, o.outDir)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Printf("sweep failed: %v", err)
		stop()
		os.Exit(exitCode(err))
	}
}
