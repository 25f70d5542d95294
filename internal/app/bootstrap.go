package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"closingdocs/api/internal/catalog"
	"closingdocs/api/internal/store"
)

const demoBackground = "https://images.unsplash.com/photo-1507525428034-b723cf961d3e?w=1920&q=80"

func demoOperation() store.Operation {
	background := demoBackground
	return store.Operation{
		ID:              "op-001",
		Name:            "Coral and Sandy",
		Type:            string(catalog.TrustConstitution),
		PIN:             "143414",
		Status:          store.StatusActive,
		BackgroundImage: &background,
		CreatedAt:       time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC),
		Parties: []store.Party{
			{ID: "p1", Name: "Coral", Role: "buyer", LegalType: string(catalog.LegalIndividual)},
			{ID: "p2", Name: "Sandy", Role: "buyer", LegalType: string(catalog.LegalIndividual)},
			{ID: "p3", Name: "Desarrollos Costa SA de CV", Role: "seller", LegalType: string(catalog.LegalEntity)},
		},
	}
}

// Bootstrap seeds the demo operation into an empty database when enabled
// and refreshes the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.SeedDemo {
		if err := s.seedDemo(ctx); err != nil {
			return err
		}
	}
	if s.search != nil {
		s.search.Reindex(ctx)
	}
	return nil
}

func (s *Service) seedDemo(ctx context.Context) error {
	count, err := s.store.CountOperations(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	op := demoOperation()
	if err := s.store.InsertOperation(ctx, op); err != nil {
		return err
	}
	result, err := s.generator.Ensure(ctx, op)
	if err != nil {
		return err
	}
	s.logger.Info("seeded demo operation",
		zap.String("operation_id", op.ID),
		zap.Int("documents", result.Count),
	)
	return nil
}
