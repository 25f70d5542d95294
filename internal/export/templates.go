package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"closingdocs/api/internal/catalog"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(
	template.New("checklist.html").Funcs(template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"text": reportText,
	}).ParseFS(templateFS, "templates/checklist.html"),
)

// RenderReportHTML renders the checklist template with provided data
func RenderReportHTML(report Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var reportStrings = map[string]catalog.Label{
	"progress":  catalog.NewLabel("Avance", "Progress"),
	"generated": catalog.NewLabel("Generado", "Generated"),
	"required":  catalog.NewLabel("Obligatorio", "Required"),
	"optional":  catalog.NewLabel("Opcional", "Optional"),
	"received":  catalog.NewLabel("Recibido", "Received"),
	"pending":   catalog.NewLabel("Pendiente", "Pending"),
	"document":  catalog.NewLabel("Documento", "Document"),
	"status":    catalog.NewLabel("Estado", "Status"),
	"closed":    catalog.NewLabel("Operación cerrada", "Operation closed"),
}

func reportText(lang catalog.Lang, key string) string {
	return reportStrings[key].Get(lang)
}
