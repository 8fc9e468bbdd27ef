package visuals

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"time"

	"crm-sla/internal/orders"
	"crm-sla/internal/stats"

	"github.com/evanw/esbuild/pkg/api"
)

// ReportData is everything the HTML report shows.
type ReportData struct {
	ProjectID   int64
	GeneratedAt time.Time
	Stage       stats.StageTimeReport
	SLA         stats.SLAReport
	Orders      []orders.View
	Warnings    []string
}

const reportCSS = `
body {
  font-family: -apple-system, "Segoe UI", Roboto, sans-serif;
  margin: 2rem;
  color: #1f2328;
}
h1, h2 {
  font-weight: 600;
}
table {
  border-collapse: collapse;
  margin-bottom: 2rem;
  min-width: 40rem;
}
th, td {
  border: 1px solid #d0d7de;
  padding: 0.3rem 0.6rem;
  text-align: right;
}
th {
  background-color: #f6f8fa;
}
.state-ok {
  background-color: #dafbe1;
}
.state-near {
  background-color: #fff8c5;
}
.state-over {
  background-color: #ffebe9;
}
.warning {
  color: #9a6700;
}
`

const reportHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Project {{.ProjectID}} SLA report</title>
<style>{{.CSS}}</style>
</head>
<body>
<h1>Project {{.ProjectID}}</h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04 MST"}} over {{.Stage.Orders}} orders.</p>
{{range .Warnings}}<p class="warning">{{.}}</p>{{end}}

<h2>Stage time</h2>
<table>
<tr><th>Group</th><th>Orders</th><th>Avg working h</th><th>Median working h</th><th>Max working h</th><th>Median calendar h</th></tr>
{{range .Stage.Groups}}<tr><td>{{.GroupID}}</td><td>{{.Orders}}</td><td>{{hours .AvgWorkingSeconds}}</td><td>{{hours .MedianWorkingSeconds}}</td><td>{{hoursInt .MaxWorkingSeconds}}</td><td>{{hours .MedianCalendarSeconds}}</td></tr>
{{end}}</table>
{{with .Stage.MedianCycleSeconds}}<p>Median cycle: {{hours .}} working hours over {{$.Stage.CycleOrders}} orders.</p>{{end}}

<h2>SLA</h2>
<p>{{.SLA.OrdersOver}} orders over, {{.SLA.OrdersNear}} near ({{percent .SLA.BreachShare}} breached).</p>
<table>
<tr><th>Group</th><th>Ok</th><th>Near</th><th>Over</th><th>Neutral</th><th>Breach share</th></tr>
{{range .SLA.Groups}}<tr><td>{{.GroupID}}</td><td class="state-ok">{{.Ok}}</td><td class="state-near">{{.Near}}</td><td class="state-over">{{.Over}}</td><td>{{.Neutral}}</td><td>{{percent .BreachShare}}</td></tr>
{{end}}</table>

<h2>Orders</h2>
<table>
<tr><th>Order</th><th>Started</th><th>Group</th><th>Urgent</th><th>Cycle h</th><th>Stages</th></tr>
{{range .Orders}}<tr><td>{{.OrderID}}</td><td>{{.StartedAt.Format "2006-01-02 15:04"}}</td><td>{{.LastGroupID}}</td><td>{{if .IsUrgent}}yes{{end}}</td><td>{{with .CycleSeconds}}{{hoursInt .}}{{end}}</td><td>{{range $g, $s := .SLAStates}}<span class="state-{{$s}}">{{$g}}:{{$s}}</span> {{end}}</td></tr>
{{end}}</table>
</body>
</html>
`

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"hours":    func(s float64) string { return fmt.Sprintf("%.1f", s/3600) },
	"hoursInt": func(s int64) string { return hours(s) },
	"percent":  func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
}).Parse(reportHTML))

// MinifyCSS strips whitespace and redundant syntax from a stylesheet.
func MinifyCSS(css string) (string, error) {
	result := api.Transform(css, api.TransformOptions{
		Loader:           api.LoaderCSS,
		MinifyWhitespace: true,
		MinifySyntax:     true,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("minify css: %s", result.Errors[0].Text)
	}
	return string(result.Code), nil
}

// RenderReport writes the standalone HTML report to w.
func RenderReport(w io.Writer, data ReportData) error {
	css, err := MinifyCSS(reportCSS)
	if err != nil {
		return err
	}
	return reportTemplate.Execute(w, struct {
		ReportData
		CSS template.CSS
	}{ReportData: data, CSS: template.CSS(css)})
}

// WriteReport renders the report into dir and returns the file path.
func WriteReport(dir string, data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := RenderReport(&buf, data); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("project-%d-report.html", data.ProjectID))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
