// Package checklist turns an operation's parties into the ordered set of
// documents that must be collected before closing.
package checklist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"closingdocs/api/internal/catalog"
	"closingdocs/api/internal/metrics"
	"closingdocs/api/internal/store"
	"closingdocs/api/internal/util"
)

// ErrDataIntegrity is returned in strict mode when a party cannot be mapped
// to a template list.
var ErrDataIntegrity = errors.New("checklist data integrity")

// Defect describes a party that produced no documents.
type Defect struct {
	OperationID string
	PartyID     string
	LegalType   string
	Reason      string
}

func (d Defect) String() string {
	return fmt.Sprintf("operation %s party %s: %s", d.OperationID, d.PartyID, d.Reason)
}

const (
	companyInfix  = "emp"
	attorneyInfix = "apo"
)

// validPartySegment reports whether id can sit between the operation id and
// the index of a document id. Document ids are globally unique only while a
// party id holds no "-" and is not one of the infixes.
func validPartySegment(id string) bool {
	if id == "" || strings.Contains(id, "-") {
		return false
	}
	return id != companyInfix && id != attorneyInfix
}

// Build generates the checklist for op without touching any store. Party
// documents come first in stored party order, then the general categories.
// The trailing index in every ID runs across the whole batch.
func Build(op store.Operation) ([]store.Document, []Defect) {
	var docs []store.Document
	var defects []Defect
	idx := 0

	add := func(tpl catalog.Template, partyID, category *string, scope ...string) {
		scope = append(scope, strconv.Itoa(idx))
		docs = append(docs, store.Document{
			ID:          util.ChecklistID(op.ID, scope...),
			OperationID: op.ID,
			PartyID:     partyID,
			Category:    category,
			Label:       tpl.Label,
			Required:    tpl.Required,
			Position:    idx,
		})
		idx++
	}

	for _, party := range op.Parties {
		partyID := party.ID
		if !validPartySegment(partyID) {
			defects = append(defects, Defect{
				OperationID: op.ID,
				PartyID:     party.ID,
				LegalType:   party.LegalType,
				Reason:      fmt.Sprintf("party id %q cannot form a document id", party.ID),
			})
			continue
		}
		switch catalog.LegalType(party.LegalType) {
		case catalog.LegalIndividual:
			for _, tpl := range catalog.IndividualDocs() {
				add(tpl, &partyID, nil, partyID)
			}
		case catalog.LegalEntity:
			for _, tpl := range catalog.CompanyDocs() {
				add(tpl, &partyID, nil, partyID, companyInfix)
			}
			for _, tpl := range catalog.AttorneyDocsPrefixed() {
				add(tpl, &partyID, nil, partyID, attorneyInfix)
			}
		default:
			defects = append(defects, Defect{
				OperationID: op.ID,
				PartyID:     party.ID,
				LegalType:   party.LegalType,
				Reason:      fmt.Sprintf("unknown legal type %q", party.LegalType),
			})
		}
	}

	for _, category := range catalog.GeneralCategories() {
		name := string(category)
		for _, tpl := range catalog.CategoryDocs(category) {
			add(tpl, nil, &name, name)
		}
	}

	return docs, defects
}

type documentWriter interface {
	InsertDocumentsIfAbsent(ctx context.Context, operationID string, docs []store.Document) (bool, error)
}

// Result reports what Ensure did.
type Result struct {
	Created bool
	Count   int
	Defects []Defect
}

type Generator struct {
	store  documentWriter
	logger *zap.Logger
	strict bool
}

// NewGenerator returns a generator. In strict mode any defect aborts the
// call with ErrDataIntegrity; otherwise defective parties are logged and skipped.
func NewGenerator(s documentWriter, logger *zap.Logger, strict bool) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{store: s, logger: logger.Named("checklist"), strict: strict}
}

// Ensure creates the checklist for op unless one already exists. Repeated
// calls are no-ops.
func (g *Generator) Ensure(ctx context.Context, op store.Operation) (Result, error) {
	docs, defects := Build(op)

	if len(defects) > 0 {
		metrics.ChecklistDefectsTotal.Add(float64(len(defects)))
		if g.strict {
			metrics.ChecklistGenerationsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
			return Result{Defects: defects}, fmt.Errorf("%w: %s", ErrDataIntegrity, describe(defects))
		}
		for _, defect := range defects {
			g.logger.Warn("skipping defective party",
				zap.String("operation_id", defect.OperationID),
				zap.String("party_id", defect.PartyID),
				zap.String("legal_type", defect.LegalType),
				zap.String("reason", defect.Reason),
			)
		}
	}

	created, err := g.store.InsertDocumentsIfAbsent(ctx, op.ID, docs)
	if err != nil {
		metrics.ChecklistGenerationsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return Result{Defects: defects}, fmt.Errorf("ensure documents for %s: %w", op.ID, err)
	}

	result := Result{Created: created, Defects: defects}
	if created {
		result.Count = len(docs)
		metrics.ChecklistGenerationsTotal.WithLabelValues(metrics.OutcomeCreated).Inc()
		g.logger.Info("checklist generated", zap.String("operation_id", op.ID), zap.Int("documents", len(docs)))
	} else {
		metrics.ChecklistGenerationsTotal.WithLabelValues(metrics.OutcomeExisting).Inc()
	}
	return result, nil
}

func describe(defects []Defect) string {
	parts := make([]string, 0, len(defects))
	for _, d := range defects {
		parts = append(parts, d.String())
	}
	return strings.Join(parts, "; ")
}
