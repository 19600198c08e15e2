package optipass

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tidegates/internal/config"
	"github.com/banshee-data/tidegates/internal/fsutil"
	"github.com/banshee-data/tidegates/internal/testutil"
)

func fixtureRequest(targets []string, weights []int) Request {
	return Request{
		Sources:   fixtureSources(),
		Selection: Selection{Regions: fixtureRegions, Targets: targets, Weights: weights},
		Budgets:   fixtureBudgets,
	}
}

func TestPipeline_Run(t *testing.T) {
	tests := []struct {
		name string
		keep bool
	}{
		{"work dir kept", true},
		{"work dir removed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.QuietLogs(t)
			mfs := fixtureFS(t)
			opt, builder := fakeOptimizer(t, mfs, "Example_4")
			p := NewPipeline(mfs, NewExecutor(opt, mfs), PipelineConfig{WorkRoot: "tmp", KeepWorkDirs: tt.keep})

			res, err := p.Run(context.Background(), fixtureRequest([]string{"T1", "T2"}, []int{3, 1}))
			require.NoError(t, err)

			assert.True(t, ValidToken(res.Token), res.Token)
			assert.Equal(t, filepath.Join("tmp", res.Token), res.Dir)
			assert.Len(t, builder.Commands, 6)
			require.Len(t, res.Summary.Rows, 6)
			assert.InDelta(t, 32.936, res.Summary.Rows[5].WPH, 1e-9)
			assert.Equal(t, []int{0, 0, 0, 0, 1, 1}, res.Matrix.Row("A").Selected)
			assert.Equal(t, 6, res.Paths.Len())

			for _, name := range []string{InputFileName, "output_5.txt", SummaryFileName, MatrixFileName, PlotFileName} {
				assert.Equal(t, tt.keep, mfs.Exists(filepath.Join(res.Dir, name)), name)
			}
			if !tt.keep {
				assert.False(t, mfs.Exists(res.Dir))
				return
			}

			data, err := mfs.ReadFile(filepath.Join(res.Dir, SummaryFileName))
			require.NoError(t, err)
			saved, err := ReadSummary(strings.NewReader(string(data)))
			require.NoError(t, err)
			assert.Equal(t, res.Summary.Budgets(), saved.Budgets())

			png, err := mfs.ReadFile(filepath.Join(res.Dir, PlotFileName))
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(string(png), string(pngMagic)))
		})
	}
}

func TestPipeline_RunsGetDistinctDirectories(t *testing.T) {
	testutil.QuietLogs(t)
	mfs := fixtureFS(t)
	opt, _ := fakeOptimizer(t, mfs, "Example_1")
	p := NewPipeline(mfs, NewExecutor(opt, mfs), PipelineConfig{WorkRoot: "tmp", KeepWorkDirs: true})

	a, err := p.Run(context.Background(), fixtureRequest([]string{"T1"}, nil))
	require.NoError(t, err)
	b, err := p.Run(context.Background(), fixtureRequest([]string{"T1"}, nil))
	require.NoError(t, err)
	assert.NotEqual(t, a.Dir, b.Dir)
}

func TestPipeline_Replay(t *testing.T) {
	testutil.QuietLogs(t)
	fs := fsutil.OSFileSystem{}
	opt := NewOptimizer("absent", "", fs, NewMockCommandBuilder())
	p := NewPipeline(fs, NewExecutor(opt, fs), PipelineConfig{WorkRoot: t.TempDir(), KeepWorkDirs: true})

	req := fixtureRequest([]string{"T1"}, nil)
	req.ReplayDir = "testdata/Example_1"
	res, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, res.Token)
	assert.Equal(t, "testdata/Example_1", res.Dir)
	assert.InDelta(t, 6.6344, res.Summary.Rows[5].NetGain, 1e-9)
	assert.False(t, fs.Exists(filepath.Join(res.Dir, SummaryFileName)), "replay leaves the directory untouched")
}

func TestPipeline_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		factory func(*fsutil.MemoryFileSystem) func(context.Context, string, []string) *MockCommandExecutor
		wantErr error
	}{
		{
			name:    "bad budgets",
			mutate:  func(r *Request) { r.Budgets = BudgetSpec{Start: 0, Delta: 0, Count: 3} },
			wantErr: ErrValidation,
		},
		{
			name: "replayed level count wraps",
			mutate: func(r *Request) {
				r.Budgets = BudgetSpec{Start: 0, Delta: 1, Count: math.MaxInt}
				r.ReplayDir = "testdata/Example_1"
			},
			wantErr: ErrValidation,
		},
		{
			name:    "top budget overflows",
			mutate:  func(r *Request) { r.Budgets = BudgetSpec{Start: 9223372036854775000, Delta: 1000, Count: 2} },
			wantErr: ErrValidation,
		},
		{
			name:    "no targets",
			mutate:  func(r *Request) { r.Selection.Targets = nil },
			wantErr: ErrValidation,
		},
		{
			name:    "unknown region",
			mutate:  func(r *Request) { r.Selection.Regions = []string{"Nowhere"} },
			wantErr: ErrValidation,
		},
		{
			name: "optimizer fails",
			factory: func(*fsutil.MemoryFileSystem) func(context.Context, string, []string) *MockCommandExecutor {
				return func(context.Context, string, []string) *MockCommandExecutor {
					return &MockCommandExecutor{Err: errors.New("exit status 1")}
				}
			},
			wantErr: ErrRuntime,
		},
		{
			name: "unparseable artifact",
			factory: func(mfs *fsutil.MemoryFileSystem) func(context.Context, string, []string) *MockCommandExecutor {
				return func(_ context.Context, _ string, args []string) *MockCommandExecutor {
					return &MockCommandExecutor{OnRun: func() error {
						return mfs.WriteFile(argValue(args, "-o"), []byte("garbage\n"), 0644)
					}}
				}
			},
			wantErr: ErrRuntime,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.QuietLogs(t)
			mfs := fixtureFS(t)
			opt, builder := fakeOptimizer(t, mfs, "Example_1")
			if tt.factory != nil {
				builder.ExecutorFactory = tt.factory(mfs)
			}
			p := NewPipeline(mfs, NewExecutor(opt, mfs), PipelineConfig{WorkRoot: "tmp"})

			req := fixtureRequest([]string{"T1"}, nil)
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			res, err := p.Run(context.Background(), req)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)

			left, err := mfs.Glob("tmp/*")
			require.NoError(t, err)
			assert.Empty(t, left, "failed runs leave no work directory")
		})
	}
}

func TestValidToken(t *testing.T) {
	assert.True(t, ValidToken(NewToken()))
	assert.NotEqual(t, NewToken(), NewToken())

	for _, bad := range []string{"", "op-", "op-123", "xx-" + strings.TrimPrefix(NewToken(), TokenPrefix), "../op-etc"} {
		assert.False(t, ValidToken(bad), bad)
	}
}

func TestNewPipelineFromConfig(t *testing.T) {
	cfg := config.DefaultOptiPassConfig()
	cfg.InvocationTimeout = ptrTo("90s")
	cfg.Launcher = ptrTo("wine")
	cfg.ErrorMarker = ptrTo("fatal")
	cfg.KeepWorkDirs = ptrTo(false)

	p := NewPipelineFromConfig(cfg, fsutil.NewMemoryFileSystem(), NewMockCommandBuilder())
	assert.Equal(t, PipelineConfig{WorkRoot: "tmp", KeepWorkDirs: false}, p.cfg)
	assert.Equal(t, 90*time.Second, p.executor.timeout)
	assert.Equal(t, "fatal", p.executor.errorMarker)
	assert.Equal(t, "bin/OptiPassMain.exe", p.executor.optimizer.Path)
	assert.Equal(t, "wine", p.executor.optimizer.Launcher)
}

func ptrTo[T any](v T) *T { return &v }
