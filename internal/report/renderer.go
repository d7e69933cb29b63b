package report

import (
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/pdnlabs/pdn-chat/internal/domain"
)

// Renderer turns a report into a presentation format.
type Renderer interface {
	Render(w io.Writer, r *domain.Report) error
}

// rtlLanguages are the primary language subtags presented right-to-left.
var rtlLanguages = map[string]bool{
	"he": true,
	"ar": true,
	"fa": true,
	"ur": true,
}

// Direction returns "rtl" or "ltr" for a BCP 47 language tag.
func Direction(lang string) string {
	primary := strings.ToLower(lang)
	if i := strings.IndexAny(primary, "-_"); i > 0 {
		primary = primary[:i]
	}
	if rtlLanguages[primary] {
		return "rtl"
	}
	return "ltr"
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}" dir="{{.Dir}}">
<head>
<meta charset="utf-8">
<title>{{.Report.Title}}</title>
</head>
<body>
<h1>{{.Report.Title}}</h1>
{{if .Report.PDNCode}}<p class="pdn-code"><strong>{{.Report.PDNCode}}</strong></p>{{end}}
{{if .Report.Components}}
<section class="components">
<h2>Your Code Decoded</h2>
{{range .Report.Components}}
<p><strong>{{.Letter}} &mdash; {{.Name}}</strong> ({{.Aspect}}): {{.Description}}</p>
{{end}}
{{if .Report.Summary}}<p>{{.Report.Summary}}</p>{{end}}
</section>
{{end}}
{{range .Report.Sections}}
<section>
<h2>{{.Heading}}</h2>
<p>{{.Narrative}}</p>
</section>
{{end}}
<footer><small>Report {{.Report.ID}} generated {{.Report.GeneratedAt.Format "2006-01-02 15:04"}}</small></footer>
</body>
</html>
`))

// HTMLRenderer renders reports as standalone HTML documents, honoring the
// user's language for text direction.
type HTMLRenderer struct{}

// NewHTMLRenderer creates an HTML renderer.
func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{}
}

// Render writes the report as HTML.
func (hr *HTMLRenderer) Render(w io.Writer, r *domain.Report) error {
	lang := r.Language
	if lang == "" {
		lang = "en"
	}
	data := struct {
		Report *domain.Report
		Lang   string
		Dir    string
	}{Report: r, Lang: lang, Dir: Direction(lang)}

	if err := reportTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
