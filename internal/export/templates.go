package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var sheetTemplate = template.Must(template.New("sheet.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"inc": func(i int) int { return i + 1 },
}).ParseFS(templateFS, "templates/sheet.html"))

// RenderHTML renders a sheet to a standalone HTML page.
func RenderHTML(sheet Sheet) (string, error) {
	if strings.TrimSpace(sheet.Title) == "" {
		sheet.Title = "Call script"
	}
	var buf bytes.Buffer
	if err := sheetTemplate.Execute(&buf, sheet); err != nil {
		return "", err
	}
	return buf.String(), nil
}
