package export

import (
	"context"
	"fmt"
	"time"

	"closingdocs/api/internal/catalog"
	"closingdocs/api/internal/progress"
	"closingdocs/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetOperation(ctx context.Context, operationID string) (store.Operation, error)
	ListDocuments(ctx context.Context, filter store.DocumentFilter) ([]store.Document, error)
}

type converter func(ctx context.Context, html, title string) (*Result, error)

// Service provides checklist export functionality
type Service struct {
	store      DataStore
	converters map[Format]converter
	now        func() time.Time
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{
		store: store,
		converters: map[Format]converter{
			FormatPDF:  exportPDF,
			FormatDOCX: exportDOCX,
		},
		now: time.Now,
	}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	convert, ok := s.converters[req.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	op, err := s.store.GetOperation(ctx, req.OperationID)
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	docs, err := s.store.ListDocuments(ctx, store.DocumentFilter{OperationID: req.OperationID})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	report := BuildReport(op, docs, req.Lang, s.now())
	if req.OnlyMissing {
		report = report.missingOnly()
	}

	html, err := RenderReportHTML(report)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return convert(ctx, html, op.Name)
}

// BuildReport groups docs into one section per party, in party order,
// followed by one section per general category. Progress figures count
// required items only.
func BuildReport(op store.Operation, docs []store.Document, lang catalog.Lang, now time.Time) Report {
	overall := progress.ForOperation(docs, op.ID)
	report := Report{
		Title:         op.Name,
		OperationType: catalog.OperationLabels[catalog.OperationType(op.Type)].Get(lang),
		Status:        op.Status,
		Lang:          lang,
		GeneratedAt:   now,
		Percent:       overall.Percent,
		Completed:     overall.Completed,
		Total:         overall.Total,
	}
	if report.OperationType == "" {
		report.OperationType = op.Type
	}

	for _, party := range op.Parties {
		partyID := party.ID
		section := newSection(docs, func(d store.Document) bool {
			return d.PartyID != nil && *d.PartyID == partyID
		}, lang)
		section.Title = party.Name
		section.Subtitle = catalog.RoleLabels[party.Role].Get(lang)
		if legal := catalog.LegalTypeLabels[catalog.LegalType(party.LegalType)].Get(lang); legal != "" {
			section.Subtitle += " · " + legal
		}
		p := progress.ForParty(docs, op.ID, party.ID)
		section.Percent, section.Completed, section.Total = p.Percent, p.Completed, p.Total
		report.Sections = append(report.Sections, section)
	}

	for _, category := range catalog.GeneralCategories() {
		name := string(category)
		section := newSection(docs, func(d store.Document) bool {
			return d.PartyID == nil && d.Category != nil && *d.Category == name
		}, lang)
		if len(section.Items) == 0 {
			continue
		}
		section.Title = catalog.CategoryLabels[category].Get(lang)
		p := progress.ForCategory(docs, op.ID, name)
		section.Percent, section.Completed, section.Total = p.Percent, p.Completed, p.Total
		report.Sections = append(report.Sections, section)
	}

	return report
}

func newSection(docs []store.Document, keep func(store.Document) bool, lang catalog.Lang) Section {
	var section Section
	for _, doc := range docs {
		if !keep(doc) {
			continue
		}
		item := Item{
			Label:      doc.Label.Get(lang),
			Required:   doc.Required,
			Uploaded:   doc.Uploaded(),
			UploadedAt: doc.UploadedAt,
		}
		if doc.UploadedBy != nil {
			item.UploadedBy = *doc.UploadedBy
		}
		section.Items = append(section.Items, item)
	}
	return section
}

func (r Report) missingOnly() Report {
	out := r
	out.Sections = nil
	for _, section := range r.Sections {
		filtered := section
		filtered.Items = nil
		for _, item := range section.Items {
			if !item.Uploaded {
				filtered.Items = append(filtered.Items, item)
			}
		}
		if len(filtered.Items) > 0 {
			out.Sections = append(out.Sections, filtered)
		}
	}
	return out
}
