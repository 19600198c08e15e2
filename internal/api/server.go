// Package api serves project datasets and runs the OptiPass pipeline over
// HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/tidegates/internal/fsutil"
	"github.com/banshee-data/tidegates/internal/httputil"
	"github.com/banshee-data/tidegates/internal/monitoring"
	"github.com/banshee-data/tidegates/internal/optipass"
	"github.com/banshee-data/tidegates/internal/security"
	"github.com/banshee-data/tidegates/internal/version"
)

// ANSI escape codes for the request log.
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Runner executes one pipeline request. *optipass.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, req optipass.Request) (*optipass.Result, error)
}

// Server answers the project catalog and optimizer routes.
type Server struct {
	catalog  *Catalog
	runner   Runner
	fs       fsutil.FileSystem
	workRoot string
}

// NewServer creates a Server. Result tables of finished runs are read from
// workRoot through fsys.
func NewServer(catalog *Catalog, runner Runner, fsys fsutil.FileSystem, workRoot string) *Server {
	return &Server{
		catalog:  catalog,
		runner:   runner,
		fs:       fsys,
		workRoot: workRoot,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /projects", s.listProjects)
	mux.HandleFunc("GET /barriers/{project}", s.showBarriers)
	mux.HandleFunc("GET /targets/{project}", s.showTargets)
	mux.HandleFunc("GET /colnames/{project}", s.showColnames)
	mux.HandleFunc("GET /mapinfo/{project}", s.showMapInfo)
	mux.HandleFunc("GET /map/{project}/{file}", s.serveMap)
	mux.HandleFunc("GET /optipass/{project}", s.runOptiPass)
	mux.HandleFunc("GET /tables/{token}", s.showTables)
	mux.HandleFunc("GET /chart/{token}", s.showChart)
	mux.HandleFunc("GET /version", s.showVersion)
	return mux
}

// writeLookupError maps catalog and file lookup failures to responses.
func writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownProject), errors.Is(err, ErrNoColnames), errors.Is(err, fs.ErrNotExist):
		httputil.NotFound(w, err.Error())
	default:
		httputil.WriteError(w, err)
	}
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.catalog.Projects())
}

func (s *Server) showBarriers(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	text, err := s.catalog.ReadText(BarriersArea, project, optipass.BarrierFile)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"project":  project,
		"barriers": text,
		"regions":  s.catalog.Regions(project),
	})
}

func (s *Server) showTargets(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	text, err := s.catalog.ReadText(TargetsArea, project, TargetFile)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	layout, err := s.catalog.Layout(project)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"project": project,
		"targets": text,
		"layout":  layout,
	})
}

func (s *Server) showColnames(w http.ResponseWriter, r *http.Request) {
	info, err := s.catalog.Colnames(r.PathValue("project"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	httputil.WriteJSONOK(w, info)
}

func (s *Server) showMapInfo(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	text, err := s.catalog.ReadText(MapsArea, project, MapInfoFile)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"project": project, "mapinfo": text})
}

func (s *Server) serveMap(w http.ResponseWriter, r *http.Request) {
	path, err := s.catalog.MapFile(r.PathValue("project"), r.PathValue("file"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	data, err := s.fs.ReadFile(path)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	ctype := mime.TypeByExtension(filepath.Ext(path))
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ctype)
	_, _ = w.Write(data)
}

func (s *Server) runOptiPass(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	req, err := s.parseRunRequest(project, r.URL.Query())
	if err != nil {
		writeLookupError(w, err)
		return
	}

	res, err := s.runner.Run(r.Context(), req)
	if err != nil {
		monitoring.Logf("optipass %s: %v", project, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok", "token": res.Token})
}

// parseRunRequest builds a pipeline request from the query parameters
// regions, targets, bmin, bcount, bdelta and the optional weights and
// colnames.
func (s *Server) parseRunRequest(project string, q url.Values) (optipass.Request, error) {
	var req optipass.Request
	src, err := s.catalog.Sources(project, q.Get("colnames"))
	if err != nil {
		return req, err
	}
	req.Sources = src
	req.Selection.Regions = splitList(q.Get("regions"))
	req.Selection.Targets = splitList(q.Get("targets"))

	if req.Budgets.Start, err = queryInt(q, "bmin"); err != nil {
		return req, err
	}
	if req.Budgets.Delta, err = queryInt(q, "bdelta"); err != nil {
		return req, err
	}
	count, err := queryInt(q, "bcount")
	if err != nil {
		return req, err
	}
	if count > math.MaxInt32 {
		return req, fmt.Errorf("%w: parameter bcount: %d is too large", optipass.ErrValidation, count)
	}
	req.Budgets.Count = int(count)
	if err := req.Budgets.Validate(); err != nil {
		return req, err
	}

	for _, w := range splitList(q.Get("weights")) {
		n, err := strconv.Atoi(w)
		if err != nil {
			return req, fmt.Errorf("%w: weight %q is not an integer", optipass.ErrValidation, w)
		}
		req.Selection.Weights = append(req.Selection.Weights, n)
	}
	return req, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func queryInt(q url.Values, name string) (int64, error) {
	v := q.Get(name)
	if v == "" {
		return 0, fmt.Errorf("%w: missing parameter %s", optipass.ErrValidation, name)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %s: %q is not an integer", optipass.ErrValidation, name, v)
	}
	return n, nil
}

// runFile returns the path of a result file of the run named by token.
func (s *Server) runFile(token, name string) (string, error) {
	if !optipass.ValidToken(token) {
		return "", fmt.Errorf("%w: invalid token %q", optipass.ErrValidation, token)
	}
	path := filepath.Join(s.workRoot, token, name)
	if err := security.ValidatePathWithinDirectory(path, s.workRoot); err != nil {
		return "", fmt.Errorf("%w: %v", optipass.ErrValidation, err)
	}
	return path, nil
}

func (s *Server) readRunFile(token, name string) ([]byte, error) {
	path, err := s.runFile(token, name)
	if err != nil {
		return nil, err
	}
	return s.fs.ReadFile(path)
}

func (s *Server) showTables(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	matrix, err := s.readRunFile(token, optipass.MatrixFileName)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	summary, err := s.readRunFile(token, optipass.SummaryFileName)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"matrix":  string(matrix),
		"summary": string(summary),
	})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Info())
}
