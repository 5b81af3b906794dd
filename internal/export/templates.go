package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

var documentTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}
	documentTemplate = template.Must(template.New("document").Funcs(funcMap).Parse(documentTemplateHTML))
}

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title         string
	Emoji         string
	ContentHTML   template.HTML
	Author        string
	UpdatedAt     time.Time
	WorkspaceName string
	Tags          []string
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const documentTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .tag { display: inline-block; background: #f0f0f0; border-radius: 3px; padding: 2px 8px; margin-right: 6px; font-size: 0.85em; }
    blockquote { border-left: 3px solid #ccc; margin-left: 0; padding-left: 1rem; color: #555; }
    pre { background: #f5f5f5; padding: 1rem; overflow-x: auto; }
    table { border-collapse: collapse; }
    td, th { border: 1px solid #ccc; padding: 4px 8px; }
  </style>
</head>
<body>
  <h1>{{if .Emoji}}{{.Emoji}} {{end}}{{.Title}}</h1>
  <div class="meta">{{.WorkspaceName}} | {{.Author}} | {{.UpdatedAt.Format "Jan 2, 2006"}}</div>
  {{if .Tags}}<div class="meta">{{range .Tags}}<span class="tag">{{.}}</span>{{end}}</div>{{end}}
  <div>{{.ContentHTML | safeHTML}}</div>
</body>
</html>`
