package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tidegates/internal/fsutil"
	"github.com/banshee-data/tidegates/internal/optipass"
	"github.com/banshee-data/tidegates/internal/testutil"
	"github.com/banshee-data/tidegates/internal/version"
)

const testWorkRoot = "tmp"

type fakeRunner struct {
	requests []optipass.Request
	token    string
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, req optipass.Request) (*optipass.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &optipass.Result{Token: f.token}, nil
}

func newTestServer(t *testing.T, runner Runner) (*Server, *fsutil.MemoryFileSystem) {
	t.Helper()
	mfs := testFS(t)
	return NewServer(testCatalog(t, mfs), runner, mfs, testWorkRoot), mfs
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.Get(s.ServeMux(), target)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v), rec.Body.String())
}

func TestServer_Projects(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})

	rec := serve(t, s, "/projects")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []string
	decode(t, rec, &got)
	assert.Equal(t, []string{"coast", "demo"}, got)
}

func TestServer_Barriers(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})

	rec := serve(t, s, "/barriers/demo")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Project  string   `json:"project"`
		Barriers string   `json:"barriers"`
		Regions  []string `json:"regions"`
	}
	decode(t, rec, &got)
	assert.Equal(t, "demo", got.Project)
	lines := strings.Split(got.Barriers, "\n")
	assert.Len(t, lines, 8)
	assert.True(t, strings.HasPrefix(lines[0], "ID,"))
	assert.True(t, strings.HasSuffix(lines[0], ",comment"))
	assert.Equal(t, []string{"Red Fork", "Siletz", "Trident"}, got.Regions)
}

func TestServer_Targets(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})

	rec := serve(t, s, "/targets/demo")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]string
	decode(t, rec, &got)
	assert.Equal(t, "demo", got["project"])
	assert.Len(t, strings.Split(got["targets"], "\n"), 3)
	assert.Equal(t, "T1 T2", got["layout"])
}

func TestServer_Colnames(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})

	rec := serve(t, s, "/colnames/demo")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name": null, "files": ["colnames.csv"]}`, rec.Body.String())

	rec = serve(t, s, "/colnames/coast")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name": "scenarios", "files": ["current", "future"]}`, rec.Body.String())
}

func TestServer_Maps(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})

	rec := serve(t, s, "/mapinfo/demo")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]string
	decode(t, rec, &got)
	assert.JSONEq(t, `{"center": [44.97, -123.9], "zoom": 12}`, got["mapinfo"])

	rec = serve(t, s, "/map/demo/static.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))

	assert.Equal(t, http.StatusNotFound, serve(t, s, "/map/demo/missing.png").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, s, "/mapinfo/coast").Code)
}

func TestServer_UnknownProject(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestServer(t, runner)

	for _, path := range []string{
		"/barriers/foo",
		"/targets/foo",
		"/colnames/foo",
		"/mapinfo/foo",
		"/map/foo/static.png",
		"/optipass/foo?regions=Trident&targets=T1&bmin=0&bcount=1&bdelta=100",
	} {
		t.Run(path, func(t *testing.T) {
			rec := serve(t, s, path)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			var got map[string]string
			decode(t, rec, &got)
			assert.Contains(t, got["error"], "unknown project")
		})
	}
	assert.Empty(t, runner.requests)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})

	testutil.AssertStatusCode(t, testutil.Serve(s.ServeMux(), http.MethodPost, "/projects"), http.StatusMethodNotAllowed)
}

func TestServer_OptiPass(t *testing.T) {
	runner := &fakeRunner{token: optipass.NewToken()}
	s, _ := newTestServer(t, runner)

	rec := serve(t, s, "/optipass/coast?regions=Trident,Red+Fork&targets=T1,T2&bmin=0&bcount=5&bdelta=100000&weights=3,1&colnames=current")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, fmt.Sprintf(`{"status": "ok", "token": %q}`, runner.token), rec.Body.String())

	require.Len(t, runner.requests, 1)
	req := runner.requests[0]
	assert.Equal(t, []string{"Trident", "Red Fork"}, req.Selection.Regions)
	assert.Equal(t, []string{"T1", "T2"}, req.Selection.Targets)
	assert.Equal(t, []int{3, 1}, req.Selection.Weights)
	assert.Equal(t, optipass.BudgetSpec{Start: 0, Delta: 100000, Count: 5}, req.Budgets)
	assert.Equal(t, filepath.Join(testDataRoot, "colnames", "coast", "scenarios", "current.csv"), req.Sources.MappingFile)
	assert.Empty(t, req.ReplayDir)
}

func TestServer_OptiPassBadRequest(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"missing bmin", "regions=Trident&targets=T1&bcount=1&bdelta=100"},
		{"bcount not a number", "regions=Trident&targets=T1&bmin=0&bcount=many&bdelta=100"},
		{"weight not a number", "regions=Trident&targets=T1&bmin=0&bcount=1&bdelta=100&weights=x"},
		{"unknown colnames", "regions=Trident&targets=T1&bmin=0&bcount=1&bdelta=100&colnames=past"},
		{"bcount wraps level total", "regions=Trident&targets=T1&bmin=0&bcount=9223372036854775807&bdelta=1"},
		{"bcount over level cap", "regions=Trident&targets=T1&bmin=0&bcount=10000&bdelta=1"},
		{"top budget overflows", "regions=Trident&targets=T1&bmin=9223372036854775000&bcount=2&bdelta=1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			s, _ := newTestServer(t, runner)

			rec := serve(t, s, "/optipass/coast?"+tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, runner.requests)
		})
	}
}

func TestServer_OptiPassFaults(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("%w: unknown target \"XX\"", optipass.ErrValidation), http.StatusBadRequest},
		{"unsupported", fmt.Errorf("%w: optimizer not found", optipass.ErrUnsupported), http.StatusNotImplemented},
		{"runtime", &optipass.ProcessError{Budget: 0, Err: errors.New("exit status 1")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &fakeRunner{err: tt.err})

			rec := serve(t, s, "/optipass/demo?regions=Trident&targets=T1&bmin=0&bcount=1&bdelta=100")
			assert.Equal(t, tt.want, rec.Code)
			var got map[string]string
			decode(t, rec, &got)
			assert.Equal(t, tt.err.Error(), got["error"])
		})
	}
}

func seedRun(t *testing.T, mfs *fsutil.MemoryFileSystem) string {
	t.Helper()
	token := optipass.NewToken()
	dir := filepath.Join(testWorkRoot, token)
	summary := "budget,habitat,gates,T1,T2,wph,netgain\n" +
		"0,7.8304,,1.8856,2.1736,7.8304,0\n" +
		"100000,8.3968,E,2.0296,2.308,8.3968,0.5664\n"
	require.NoError(t, mfs.WriteFile(filepath.Join(dir, optipass.SummaryFileName), []byte(summary), 0644))
	require.NoError(t, mfs.WriteFile(filepath.Join(dir, optipass.MatrixFileName), []byte("ID,0,100000,count\nE,0,1,1\n"), 0644))
	return token
}

func TestServer_Tables(t *testing.T) {
	s, mfs := newTestServer(t, &fakeRunner{})
	token := seedRun(t, mfs)

	rec := serve(t, s, "/tables/"+token)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]string
	decode(t, rec, &got)
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, "ID,0,100000,count\nE,0,1,1\n", got["matrix"])
	assert.True(t, strings.HasPrefix(got["summary"], "budget,habitat,gates,T1,T2,wph,netgain\n"))

	assert.Equal(t, http.StatusNotFound, serve(t, s, "/tables/"+optipass.NewToken()).Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, s, "/tables/not-a-token").Code)
}

func TestServer_Chart(t *testing.T) {
	s, mfs := newTestServer(t, &fakeRunner{})
	token := seedRun(t, mfs)

	rec := serve(t, s, "/chart/"+token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "Potential habitat by budget")
	assert.Contains(t, body, "wph")
	assert.Contains(t, body, "100000")

	assert.Equal(t, http.StatusNotFound, serve(t, s, "/chart/"+optipass.NewToken()).Code)
}

func TestServer_Version(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})

	rec := serve(t, s, "/version")
	require.Equal(t, http.StatusOK, rec.Code)
	var got version.BuildInfo
	decode(t, rec, &got)
	assert.Equal(t, version.Info(), got)
}

func TestLoggingMiddleware(t *testing.T) {
	logs := testutil.CaptureLogs(t)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := testutil.Get(h, "/projects?x=1")

	assert.Equal(t, http.StatusTeapot, rec.Code)
	lines := *logs
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "418")
	assert.Contains(t, lines[0], "GET")
	assert.Contains(t, lines[0], "/projects?x=1")
}

func TestStatusCodeColor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, colorBoldGreen + "200" + colorReset},
		{302, colorYellow + "302" + colorReset},
		{404, colorBoldRed + "404" + colorReset},
		{500, colorBoldRed + "500" + colorReset},
		{100, "100"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCodeColor(tt.code))
	}
}
