package report

import (
	"html/template"
	"os"
	"time"
)

var htmlTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"ms": func(v int64) string {
		return (time.Duration(v) * time.Millisecond).String()
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.FlowName}} run report</title>
<style>
  body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2em; color: #222; }
  h1 { font-size: 1.4em; }
  .summary { margin: 1em 0; }
  .badge { display: inline-block; padding: 2px 10px; border-radius: 10px; color: #fff; font-size: 0.85em; }
  .passed { background: #2e7d32; }
  .failed { background: #c62828; }
  .running { background: #f9a825; }
  table { border-collapse: collapse; width: 100%; }
  th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #ddd; font-size: 0.9em; }
  th { background: #f5f5f5; }
  td.num { text-align: right; white-space: nowrap; }
</style>
</head>
<body>
<h1>{{.FlowName}}
  {{if .Success}}<span class="badge passed">passed</span>
  {{else}}<span class="badge failed">failed</span>{{end}}
</h1>
<div class="summary">
  {{.Summary.Total}} steps, {{.Summary.Passed}} passed, {{.Summary.Failed}} failed
  &middot; {{ms .Duration}}
  &middot; {{.StartTime.Format "2006-01-02 15:04:05"}}
</div>
<table>
<tr><th>#</th><th>Action</th><th>Status</th><th>Message</th><th>Duration</th></tr>
{{range .Steps}}
<tr>
  <td class="num">{{.Index}}</td>
  <td>{{.ActionID}}{{if .Label}} &mdash; {{.Label}}{{end}}</td>
  <td><span class="badge {{.Status}}">{{.Status}}</span></td>
  <td>{{.Message}}</td>
  <td class="num">{{ms .Duration}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`))

// WriteHTML renders the report as a standalone HTML page.
func (r *Report) WriteHTML(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return htmlTmpl.Execute(f, r)
}
