// Package testutil provides helpers shared by package tests.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/tidegates/internal/fsutil"
	"github.com/banshee-data/tidegates/internal/monitoring"
)

// MemoryFS returns an in-memory copy of the directory tree at root. Paths
// in the copy keep the root prefix.
func MemoryFS(t testing.TB, root string) *fsutil.MemoryFileSystem {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	if err := mfs.CopyFrom(root); err != nil {
		t.Fatalf("failed to copy %s: %v", root, err)
	}
	return mfs
}

// QuietLogs mutes package logging until the test ends.
func QuietLogs(t testing.TB) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}

// CaptureLogs routes package logging into the returned slice until the
// test ends.
func CaptureLogs(t testing.TB) *[]string {
	t.Helper()
	original := monitoring.Logf
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.Logf = original })
	return &lines
}

// Get serves a GET request for target on h.
func Get(h http.Handler, target string) *httptest.ResponseRecorder {
	return Serve(h, http.MethodGet, target)
}

// Serve serves a body-less request on h.
func Serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Errorf("status code = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}
