package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"agendas/api/internal/richtext"
)

//go:embed templates/*.html
var templateFS embed.FS

var minutesTemplate = template.Must(template.ParseFS(templateFS, "templates/minutes.html"))

// TemplateData holds data for minutes template rendering
type TemplateData struct {
	Title       string
	Mission     string
	Branch      string
	Date        string
	Facilitator string
	Editor      string
	ReadingList []string
	Groups      []TemplateGroup
	GeneratedAt time.Time
}

type TemplateGroup struct {
	Category  string
	Objective string
	Rows      []TemplateRow
}

type TemplateRow struct {
	KPIName     string
	Explanation string
	Target      string
	Actual      string
	Status      string
	StatusLabel string
	ActionsHTML template.HTML
}

// NewTemplateData flattens minutes into what the template shows. Actions
// are rendered to the restricted markup subset, which is safe to embed.
func NewTemplateData(m Minutes) TemplateData {
	data := TemplateData{
		Title:       m.Scope.Kind,
		Branch:      m.Scope.BranchID,
		Date:        m.Scope.Date.Time().Format("Monday, January 2, 2006"),
		Facilitator: m.Metadata.Facilitator,
		Editor:      m.Editor,
		ReadingList: m.Metadata.ReadingList,
		GeneratedAt: m.GeneratedAt,
	}
	objectives := map[string]string{}
	if cat := m.Catalogue; cat != nil {
		data.Title = cat.Title
		data.Mission = cat.Mission
		for _, branch := range cat.Branches {
			if branch.ID == m.Scope.BranchID {
				data.Branch = branch.Name
			}
		}
		for _, category := range cat.Categories {
			objectives[category.Name] = category.Objective
		}
	}

	for _, group := range m.Matrix.Groups {
		tg := TemplateGroup{Category: group.Category, Objective: objectives[group.Category]}
		for _, record := range group.Records {
			tg.Rows = append(tg.Rows, TemplateRow{
				KPIName:     record.KPIName,
				Explanation: record.Explanation,
				Target:      record.Target,
				Actual:      record.Actual,
				Status:      string(record.Status),
				StatusLabel: record.Status.Label(),
				ActionsHTML: template.HTML(richtext.Render(record.Actions)),
			})
		}
		data.Groups = append(data.Groups, tg)
	}
	return data
}

// RenderMinutesHTML renders the minutes template with provided data
func RenderMinutesHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := minutesTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
