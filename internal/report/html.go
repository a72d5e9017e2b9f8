package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"redline/internal/diff"
)

type htmlData struct {
	Slot        string
	GeneratedAt time.Time
	Stats       diff.Stats
	Runs        []diff.Run
	NoChanges   string
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"deleted":  func(run diff.Run) bool { return run.Tag == diff.Deleted },
	"inserted": func(run diff.Run) bool { return run.Tag == diff.Inserted },
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(reportTemplate))

// HTML renders a printable page for the record.
func HTML(rec diff.Record, slot string, generatedAt time.Time) (string, error) {
	data := htmlData{
		Slot:        slot,
		GeneratedAt: generatedAt,
		Stats:       rec.Stats(),
	}
	if rec.HasChanges() {
		data.Runs = rec.Runs
	} else {
		data.NoChanges = NoChangesMessage
	}
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render report html: %w", err)
	}
	return buf.String(), nil
}

const reportTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Document Change History: {{.Slot}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    pre { white-space: pre-wrap; word-wrap: break-word; font-family: Georgia, serif; font-size: 1rem; }
    del { color: #b00020; background: #fde8ea; }
    ins { color: #1b5e20; background: #e6f4ea; text-decoration: none; }
  </style>
</head>
<body>
  <h1>Document Change History: {{.Slot}}</h1>
  <div class="meta">{{formatDate .GeneratedAt "Jan 2, 2006 15:04 MST"}} | <del>Removals</del> <ins>Insertions</ins></div>
  <h3>Word-by-Word Changes Since First Commit</h3>
  {{if .NoChanges}}<p>{{.NoChanges}}</p>{{else}}
  <div class="meta">{{.Stats.DeletedWords}} words removed, {{.Stats.InsertedWords}} words inserted</div>
  <pre>{{range .Runs}}{{if deleted .}}<del>{{.Text}}</del>{{else if inserted .}}<ins>{{.Text}}</ins>{{else}}{{.Text}}{{end}}{{end}}</pre>
  {{end}}
</body>
</html>`
