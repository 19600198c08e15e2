package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/banshee-data/tidegates/internal/httputil"
	"github.com/banshee-data/tidegates/internal/optipass"
)

// RunParams are the query parameters of a remote optimizer run.
type RunParams struct {
	Regions  []string
	Targets  []string
	Weights  []int
	Budgets  optipass.BudgetSpec
	Colnames string
}

func (p RunParams) query() url.Values {
	q := url.Values{}
	q.Set("regions", strings.Join(p.Regions, ","))
	q.Set("targets", strings.Join(p.Targets, ","))
	q.Set("bmin", strconv.FormatInt(p.Budgets.Start, 10))
	q.Set("bdelta", strconv.FormatInt(p.Budgets.Delta, 10))
	q.Set("bcount", strconv.Itoa(p.Budgets.Count))
	if len(p.Weights) > 0 {
		w := make([]string, len(p.Weights))
		for i, v := range p.Weights {
			w[i] = strconv.Itoa(v)
		}
		q.Set("weights", strings.Join(w, ","))
	}
	if p.Colnames != "" {
		q.Set("colnames", p.Colnames)
	}
	return q
}

// Tables are the result tables of a finished run, as CSV text.
type Tables struct {
	Status  string `json:"status"`
	Matrix  string `json:"matrix"`
	Summary string `json:"summary"`
}

// Client calls a remote server.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient creates a Client for the server at base, e.g.
// "http://localhost:8000".
func NewClient(base string, c httputil.HTTPClient) *Client {
	return &Client{base: strings.TrimRight(base, "/"), http: c}
}

// Projects lists the server's projects.
func (c *Client) Projects(ctx context.Context) ([]string, error) {
	var out []string
	err := c.get(ctx, "/projects", nil, &out)
	return out, err
}

// Run starts a sweep on the server and returns its token. The call returns
// when the sweep has finished.
func (c *Client) Run(ctx context.Context, project string, p RunParams) (string, error) {
	var out struct {
		Status string `json:"status"`
		Token  string `json:"token"`
	}
	if err := c.get(ctx, "/optipass/"+url.PathEscape(project), p.query(), &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// Tables fetches the result tables of the run named by token.
func (c *Client) Tables(ctx context.Context, token string) (*Tables, error) {
	var out Tables
	if err := c.get(ctx, "/tables/"+url.PathEscape(token), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return remoteError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("GET %s: failed to decode response: %w", path, err)
	}
	return nil
}

// remoteError turns an error response back into the pipeline's fault
// categories.
func remoteError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}

	switch status {
	case http.StatusBadRequest:
		return fmt.Errorf("%w (remote): %s", optipass.ErrValidation, msg)
	case http.StatusNotImplemented:
		return fmt.Errorf("%w (remote): %s", optipass.ErrUnsupported, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w (remote): %s", ErrNotFound, msg)
	default:
		return fmt.Errorf("%w (remote %d): %s", optipass.ErrRuntime, status, msg)
	}
}
