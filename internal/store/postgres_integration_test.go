package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"closingdocs/api/internal/catalog"
)

func migratedStore(t *testing.T) *PostgresStore {
	t.Helper()
	db := testDatabase(t)
	if _, err := ApplyMigrations(context.Background(), db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func seedOperation(t *testing.T, s *PostgresStore, id, pin string, createdAt time.Time) {
	t.Helper()
	err := s.InsertOperation(context.Background(), Operation{
		ID:        id,
		Name:      "Operation " + id,
		Type:      "trust-constitution",
		PIN:       pin,
		CreatedAt: createdAt,
		Parties: []Party{
			{ID: "p1", Name: "Coral", Role: "buyer", LegalType: "individual"},
			{ID: "p2", Name: "Costa SA", Role: "seller", LegalType: "legal-entity"},
		},
	})
	if err != nil {
		t.Fatalf("insert operation: %v", err)
	}
}

func testDocs(operationID string) []Document {
	party := "p1"
	category := "closing"
	return []Document{
		{ID: "doc-" + operationID + "-p1-1", PartyID: &party, Label: catalog.NewLabel("INE", "ID"), Required: true, Position: 0},
		{ID: "doc-" + operationID + "-closing-2", Category: &category, Label: catalog.NewLabel("Avalúo", "Appraisal"), Required: true, Position: 1},
	}
}

func TestFindOperationByPINIsCaseInsensitiveAndPrefersOldest(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	seedOperation(t, s, "op-new", "ab12cd", base.Add(time.Hour))
	seedOperation(t, s, "op-old", "AB12CD", base)

	op, err := s.FindOperationByPIN(ctx, "Ab12Cd")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if op == nil || op.ID != "op-old" {
		t.Fatalf("expected op-old, got %+v", op)
	}
	if len(op.Parties) != 2 || op.Parties[0].ID != "p1" {
		t.Fatalf("expected ordered parties, got %+v", op.Parties)
	}

	missing, err := s.FindOperationByPIN(ctx, "ZZZZZZ")
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown pin, got %+v", missing)
	}
}

func TestInsertDocumentsIfAbsentWritesOnce(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()
	seedOperation(t, s, "op-1", "111111", time.Now())

	var wg sync.WaitGroup
	results := make([]bool, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.InsertDocumentsIfAbsent(ctx, "op-1", testDocs("op-1"))
		}(i)
	}
	wg.Wait()

	inserted := 0
	for i, ok := range results {
		if errs[i] != nil {
			t.Fatalf("insert %d: %v", i, errs[i])
		}
		if ok {
			inserted++
		}
	}
	if inserted != 1 {
		t.Fatalf("expected exactly one writer, got %d", inserted)
	}

	docs, err := s.ListDocuments(ctx, DocumentFilter{OperationID: "op-1"})
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[1].Label.Get(catalog.LangEN) != "Appraisal" {
		t.Fatalf("unexpected label: %+v", docs[1].Label)
	}
}

func TestDocumentFileLifecycle(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()
	seedOperation(t, s, "op-1", "111111", time.Now())
	if _, err := s.InsertDocumentsIfAbsent(ctx, "op-1", testDocs("op-1")); err != nil {
		t.Fatalf("insert documents: %v", err)
	}

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.SetDocumentFile(ctx, "doc-op-1-p1-1", "op-1/doc-op-1-p1-1/1_ine.pdf", "usuario", at); err != nil {
		t.Fatalf("set file: %v", err)
	}

	doc, err := s.GetDocument(ctx, "doc-op-1-p1-1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if !doc.Uploaded() || *doc.UploadedBy != "usuario" || !doc.UploadedAt.Equal(at) {
		t.Fatalf("unexpected document after upload: %+v", doc)
	}

	refs, err := s.ListFileReferences(ctx)
	if err != nil {
		t.Fatalf("list refs: %v", err)
	}
	if len(refs) != 1 || refs[0].Path != "op-1/doc-op-1-p1-1/1_ine.pdf" {
		t.Fatalf("unexpected refs: %+v", refs)
	}

	if err := s.ClearDocumentFile(ctx, "doc-op-1-p1-1"); err != nil {
		t.Fatalf("clear file: %v", err)
	}
	doc, err = s.GetDocument(ctx, "doc-op-1-p1-1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if doc.Uploaded() || doc.UploadedBy != nil || doc.UploadedAt != nil {
		t.Fatalf("expected cleared file fields, got %+v", doc)
	}

	if err := s.SetDocumentFile(ctx, "doc-missing", "x", "usuario", at); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for unknown document, got %v", err)
	}
}

func TestListDocumentsFilters(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()
	seedOperation(t, s, "op-1", "111111", time.Now())
	if _, err := s.InsertDocumentsIfAbsent(ctx, "op-1", testDocs("op-1")); err != nil {
		t.Fatalf("insert documents: %v", err)
	}

	byParty, err := s.ListDocuments(ctx, DocumentFilter{OperationID: "op-1", PartyID: "p1"})
	if err != nil {
		t.Fatalf("list by party: %v", err)
	}
	if len(byParty) != 1 || byParty[0].PartyID == nil {
		t.Fatalf("unexpected party docs: %+v", byParty)
	}

	byCategory, err := s.ListDocuments(ctx, DocumentFilter{OperationID: "op-1", Category: "closing"})
	if err != nil {
		t.Fatalf("list by category: %v", err)
	}
	if len(byCategory) != 1 || byCategory[0].Category == nil {
		t.Fatalf("unexpected category docs: %+v", byCategory)
	}
}
