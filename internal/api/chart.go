package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/tidegates/internal/httputil"
	"github.com/banshee-data/tidegates/internal/optipass"
)

// showChart renders the summary table of a finished run as an interactive
// line chart (HTML) using go-echarts.
func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	data, err := s.readRunFile(token, optipass.SummaryFileName)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	summary, err := optipass.ReadSummary(bytes.NewReader(data))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := renderSummaryChart(&buf, token, summary); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func renderSummaryChart(w io.Writer, token string, s *optipass.Summary) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "OptiPass " + token, Width: "900px", Height: "540px"}),
		charts.WithTitleOpts(opts.Title{Title: "Potential habitat by budget", Subtitle: token}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Budget", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Potential habitat", NameLocation: "middle", NameGap: 40}),
	)

	budgets := s.Budgets()
	x := make([]string, len(budgets))
	for i, b := range budgets {
		x[i] = strconv.FormatFloat(b, 'f', -1, 64)
	}
	line.SetXAxis(x)

	for i, t := range s.Targets {
		line.AddSeries(t, lineData(s.Column(i)))
	}
	if len(s.Targets) > 1 {
		line.AddSeries("wph", lineData(s.WPHColumn()))
	}
	return line.Render(w)
}

func lineData(values []float64) []opts.LineData {
	out := make([]opts.LineData, len(values))
	for i, v := range values {
		out[i] = opts.LineData{Value: v}
	}
	return out
}
