package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"closingdocs/api/internal/access"
	"closingdocs/api/internal/auth"
	"closingdocs/api/internal/catalog"
	"closingdocs/api/internal/checklist"
	"closingdocs/api/internal/config"
	"closingdocs/api/internal/filestore"
	"closingdocs/api/internal/session"
	"closingdocs/api/internal/store"
)

type memoryStore struct {
	mu         sync.Mutex
	operations []store.Operation
	documents  []store.Document

	pingErr    error
	findErr    error
	setFileErr error
	findCalls  int
	inserts    int
}

func (m *memoryStore) ListOperations(context.Context) ([]store.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Operation(nil), m.operations...), nil
}

func (m *memoryStore) GetOperation(_ context.Context, id string) (store.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.operations {
		if op.ID == id {
			return op, nil
		}
	}
	return store.Operation{}, sql.ErrNoRows
}

func (m *memoryStore) FindOperationByPIN(_ context.Context, pin string) (*store.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, op := range m.operations {
		if strings.EqualFold(op.PIN, pin) {
			found := op
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) CountOperations(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.operations), nil
}

func (m *memoryStore) InsertOperation(_ context.Context, op store.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.operations {
		if existing.ID == op.ID {
			return nil
		}
	}
	m.operations = append(m.operations, op)
	return nil
}

func (m *memoryStore) InsertDocumentsIfAbsent(_ context.Context, operationID string, docs []store.Document) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.documents {
		if doc.OperationID == operationID {
			return false, nil
		}
	}
	m.inserts++
	m.documents = append(m.documents, docs...)
	return true, nil
}

func (m *memoryStore) ListDocuments(_ context.Context, filter store.DocumentFilter) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Document
	for _, doc := range m.documents {
		if filter.OperationID != "" && doc.OperationID != filter.OperationID {
			continue
		}
		if filter.PartyID != "" && (doc.PartyID == nil || *doc.PartyID != filter.PartyID) {
			continue
		}
		if filter.Category != "" && (doc.PartyID != nil || doc.Category == nil || *doc.Category != filter.Category) {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (m *memoryStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.documents {
		if doc.ID == id {
			return doc, nil
		}
	}
	return store.Document{}, sql.ErrNoRows
}

func (m *memoryStore) SetDocumentFile(_ context.Context, id, path, uploadedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setFileErr != nil {
		return m.setFileErr
	}
	for i := range m.documents {
		if m.documents[i].ID == id {
			m.documents[i].FilePath = &path
			m.documents[i].UploadedBy = &uploadedBy
			m.documents[i].UploadedAt = &at
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memoryStore) ClearDocumentFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.documents {
		if m.documents[i].ID == id {
			m.documents[i].FilePath = nil
			m.documents[i].UploadedBy = nil
			m.documents[i].UploadedAt = nil
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memoryStore) ListFileReferences(context.Context) ([]store.FileReference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []store.FileReference
	for _, doc := range m.documents {
		if doc.FilePath != nil {
			refs = append(refs, store.FileReference{DocumentID: doc.ID, OperationID: doc.OperationID, Path: *doc.FilePath})
		}
	}
	return refs, nil
}

func (m *memoryStore) Ping(context.Context) error {
	return m.pingErr
}

func (m *memoryStore) document(t *testing.T, id string) store.Document {
	t.Helper()
	doc, err := m.GetDocument(context.Background(), id)
	if err != nil {
		t.Fatalf("document %s: %v", id, err)
	}
	return doc
}

type memoryFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	deleted []string
}

func newMemoryFiles() *memoryFiles {
	return &memoryFiles{objects: map[string][]byte{}}
}

func (f *memoryFiles) Put(_ context.Context, objectPath string, reader io.Reader, _ int64, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectPath] = data
	return nil
}

func (f *memoryFiles) Delete(_ context.Context, objectPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectPath)
	f.deleted = append(f.deleted, objectPath)
	return nil
}

func (f *memoryFiles) SignedURL(_ context.Context, objectPath string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[objectPath]; !ok {
		return "", filestore.ErrNotFound
	}
	return "https://files.test/" + objectPath + "?sig=1", nil
}

func (f *memoryFiles) List(_ context.Context, prefix string) ([]filestore.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []filestore.Object
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, filestore.Object{Path: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (f *memoryFiles) Ping(context.Context) error { return nil }

func (f *memoryFiles) has(objectPath string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[objectPath]
	return ok
}

func testConfig() config.Config {
	return config.Config{
		TokenSecret:    "test-secret",
		AccessTTL:      time.Hour,
		FileURLTTL:     5 * time.Minute,
		MaxUploadBytes: 1 << 20,
	}
}

func newTestService(t *testing.T, ms *memoryStore, files *memoryFiles) *Service {
	t.Helper()
	gate, err := access.NewGate(ms, access.AdminConfig{PIN: "ADM926"})
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	svc := &Service{
		cfg:       testConfig(),
		store:     ms,
		gate:      gate,
		generator: checklist.NewGenerator(ms, zap.NewNop(), false),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	if files != nil {
		svc.files = files
	}
	return svc
}

// seededStore holds the demo operation with its generated checklist.
func seededStore(t *testing.T) *memoryStore {
	t.Helper()
	ms := &memoryStore{operations: []store.Operation{demoOperation()}}
	docs, defects := checklist.Build(demoOperation())
	if len(defects) != 0 {
		t.Fatalf("demo operation has defects: %v", defects)
	}
	ms.documents = docs
	return ms
}

func participant(operationID string) Session {
	return Session{Role: "participant", OperationID: operationID}
}

func admin() Session {
	return Session{Role: "admin"}
}

func expectDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, domainErr.Status, domainErr.Code)
	}
}

func TestAccessWithOperationPINGeneratesChecklistOnce(t *testing.T) {
	ms := &memoryStore{operations: []store.Operation{demoOperation()}}
	svc := newTestService(t, ms, nil)

	first, err := svc.Access(context.Background(), "10.0.0.1", " 143414 ")
	if err != nil {
		t.Fatalf("Access() error = %v", err)
	}
	if first.Operation == nil || first.Operation.ID != "op-001" {
		t.Fatalf("expected op-001 grant, got %+v", first.Operation)
	}
	if first.Checklist == nil || !first.Checklist.Created || first.Checklist.Count != 47 {
		t.Fatalf("expected 47 created documents, got %+v", first.Checklist)
	}
	if first.Session.Role != "participant" || first.Session.OperationID != "op-001" {
		t.Fatalf("unexpected session %+v", first.Session)
	}

	second, err := svc.Access(context.Background(), "10.0.0.1", "143414")
	if err != nil {
		t.Fatalf("second Access() error = %v", err)
	}
	if second.Checklist.Created {
		t.Fatal("second access must not create documents")
	}
	if ms.inserts != 1 || len(ms.documents) != 47 {
		t.Fatalf("expected one insert of 47 documents, got %d inserts and %d documents", ms.inserts, len(ms.documents))
	}

	parsed, err := svc.SessionFromToken(context.Background(), first.Session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.OperationID != "op-001" || parsed.JTI != first.Session.JTI {
		t.Fatalf("token did not round-trip: %+v", parsed)
	}
}

func TestAccessPINIsCaseInsensitive(t *testing.T) {
	op := demoOperation()
	op.PIN = "CS2026"
	svc := newTestService(t, &memoryStore{operations: []store.Operation{op}}, nil)

	result, err := svc.Access(context.Background(), "client", "cs2026")
	if err != nil {
		t.Fatalf("Access() error = %v", err)
	}
	if result.Operation == nil || result.Operation.ID != op.ID {
		t.Fatalf("expected operation grant, got %+v", result)
	}
}

func TestAccessAdminPIN(t *testing.T) {
	ms := &memoryStore{operations: []store.Operation{demoOperation()}}
	svc := newTestService(t, ms, nil)

	result, err := svc.Access(context.Background(), "client", "adm926")
	if err != nil {
		t.Fatalf("Access() error = %v", err)
	}
	if result.Operation != nil || result.Checklist != nil {
		t.Fatalf("admin grant must not bind an operation: %+v", result)
	}
	if !result.Session.IsAdmin() || result.Session.OperationID != "" {
		t.Fatalf("expected global admin session, got %+v", result.Session)
	}
	if ms.inserts != 0 {
		t.Fatal("admin access must not generate checklists")
	}
}

func TestAccessDenied(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		wantLookups int
	}{
		{name: "unknown code", code: "999999", wantLookups: 1},
		{name: "too short", code: "12", wantLookups: 0},
		{name: "symbols", code: "12-34", wantLookups: 0},
		{name: "empty", code: "", wantLookups: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := &memoryStore{operations: []store.Operation{demoOperation()}}
			svc := newTestService(t, ms, nil)

			_, err := svc.Access(context.Background(), "client", tt.code)
			expectDomainError(t, err, http.StatusUnauthorized, "ACCESS_DENIED")
			if ms.findCalls != tt.wantLookups {
				t.Fatalf("expected %d lookups, got %d", tt.wantLookups, ms.findCalls)
			}
		})
	}
}

func TestAccessStoreFailureIsNotDenial(t *testing.T) {
	ms := &memoryStore{findErr: errors.New("connection reset")}
	svc := newTestService(t, ms, nil)

	_, err := svc.Access(context.Background(), "client", "143414")
	if err == nil {
		t.Fatal("expected error")
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		t.Fatalf("store failure must not be reported as %s", domainErr.Code)
	}
}

func TestAccessLockedAfterRepeatedFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lockout := session.NewLockout(client, 2, time.Minute)
	ms := &memoryStore{operations: []store.Operation{demoOperation()}}
	svc := newTestService(t, ms, nil)
	svc.gate.WithLimiter(lockout)
	svc.lockout = lockout

	for i := 0; i < 2; i++ {
		_, err := svc.Access(context.Background(), "10.0.0.9", "000000")
		expectDomainError(t, err, http.StatusUnauthorized, "ACCESS_DENIED")
	}

	_, err := svc.Access(context.Background(), "10.0.0.9", "143414")
	expectDomainError(t, err, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS")
	var domainErr *DomainError
	errors.As(err, &domainErr)
	details, _ := domainErr.Details.(map[string]any)
	if details["retryAfterSeconds"] != 60 {
		t.Fatalf("expected retryAfterSeconds=60, got %v", details["retryAfterSeconds"])
	}

	if _, err := svc.Access(context.Background(), "10.0.0.10", "143414"); err != nil {
		t.Fatalf("other clients must not be locked: %v", err)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := newTestService(t, seededStore(t), nil)
	svc.tokens = session.NewRedisStoreWithClient(client)

	result, err := svc.Access(context.Background(), "client", "143414")
	if err != nil {
		t.Fatalf("Access() error = %v", err)
	}
	current, err := svc.SessionFromToken(context.Background(), result.Session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if err := svc.Logout(context.Background(), current); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), result.Session.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected revoked token to be invalid, got %v", err)
	}
}

func TestListOperationsScope(t *testing.T) {
	ms := seededStore(t)
	other := store.Operation{ID: "op-002", Name: "Other", Type: "direct-purchase", PIN: "555555", Status: store.StatusClosed}
	ms.operations = append(ms.operations, other)
	svc := newTestService(t, ms, nil)

	own, err := svc.ListOperations(context.Background(), participant("op-001"), catalog.LangEN)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(own) != 1 || own[0].ID != "op-001" || own[0].TypeLabel != "Trust Constitution" {
		t.Fatalf("participant must only see its operation, got %+v", own)
	}

	all, err := svc.ListOperations(context.Background(), admin(), catalog.LangES)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("admin must see every operation, got %d", len(all))
	}
	if all[0].Progress.Total == 0 || all[1].Progress.Total != 0 {
		t.Fatalf("unexpected progress: %+v %+v", all[0].Progress, all[1].Progress)
	}
}

func TestGetOperationSummaries(t *testing.T) {
	ms := seededStore(t)
	svc := newTestService(t, ms, newMemoryFiles())

	detail, err := svc.GetOperation(context.Background(), participant("op-001"), "op-001", catalog.LangEN)
	if err != nil {
		t.Fatalf("GetOperation() error = %v", err)
	}
	if len(detail.Parties) != 3 || len(detail.Categories) != 3 {
		t.Fatalf("unexpected groups: %d parties, %d categories", len(detail.Parties), len(detail.Categories))
	}
	if detail.Parties[2].LegalTypeLabel != "Legal entity" || detail.Parties[2].RoleLabel != "Seller" {
		t.Fatalf("unexpected seller labels: %+v", detail.Parties[2])
	}
	if detail.Parties[0].Summary.Items != 11 || detail.Parties[2].Summary.Items != 14 {
		t.Fatalf("unexpected item counts: %d, %d", detail.Parties[0].Summary.Items, detail.Parties[2].Summary.Items)
	}
	if detail.Progress.Percent != 0 {
		t.Fatalf("expected 0%% before uploads, got %d", detail.Progress.Percent)
	}
}

func TestGetOperationOutsideScopeForbidden(t *testing.T) {
	svc := newTestService(t, seededStore(t), nil)

	_, err := svc.GetOperation(context.Background(), participant("op-999"), "op-001", catalog.LangES)
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestListDocumentsFilters(t *testing.T) {
	svc := newTestService(t, seededStore(t), nil)
	ctx := context.Background()

	byParty, err := svc.ListDocuments(ctx, participant("op-001"), "op-001", DocumentQuery{PartyID: "p3"}, catalog.LangEN)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(byParty) != 14 {
		t.Fatalf("expected 14 seller documents, got %d", len(byParty))
	}
	if !strings.HasPrefix(byParty[7].Label, "(Attorney) ") {
		t.Fatalf("expected attorney prefix, got %q", byParty[7].Label)
	}

	closing, err := svc.ListDocuments(ctx, participant("op-001"), "op-001", DocumentQuery{Category: "closing"}, catalog.LangES)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(closing) != 5 {
		t.Fatalf("expected 5 closing documents, got %d", len(closing))
	}

	_, err = svc.ListDocuments(ctx, participant("op-001"), "op-001", DocumentQuery{Category: "appraisal"}, catalog.LangES)
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.ListDocuments(ctx, participant("op-001"), "op-001", DocumentQuery{PartyID: "p1", Category: "closing"}, catalog.LangES)
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestUploadThenDeleteLeavesSiblingsUntouched(t *testing.T) {
	ms := seededStore(t)
	files := newMemoryFiles()
	svc := newTestService(t, ms, files)
	ctx := context.Background()

	sibling := ms.document(t, "doc-op-001-p1-1")
	view, err := svc.UploadDocument(ctx, participant("op-001"), UploadInput{
		DocumentID:  "doc-op-001-p1-0",
		Filename:    "../INE frente.pdf",
		ContentType: "application/pdf",
		Size:        5,
		Body:        bytes.NewReader([]byte("%PDF-")),
	}, catalog.LangES)
	if err != nil {
		t.Fatalf("UploadDocument() error = %v", err)
	}
	wantPath := "doc-op-001-p1-0/INE_frente.pdf"
	if view.FileRef == nil || *view.FileRef != wantPath || !files.has(wantPath) {
		t.Fatalf("expected object %s, got %+v", wantPath, view.FileRef)
	}
	if view.UploadedBy == nil || *view.UploadedBy != "usuario" {
		t.Fatalf("expected default uploader, got %v", view.UploadedBy)
	}

	p, err := svc.Progress(ctx, participant("op-001"), "op-001", DocumentQuery{PartyID: "p1"})
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if p.Completed != 1 {
		t.Fatalf("expected one completed document, got %+v", p)
	}

	if _, err := svc.DeleteDocumentFile(ctx, participant("op-001"), "doc-op-001-p1-0", wantPath, catalog.LangES); err != nil {
		t.Fatalf("DeleteDocumentFile() error = %v", err)
	}
	if ms.document(t, "doc-op-001-p1-0").FilePath != nil {
		t.Fatal("expected file path cleared")
	}
	if files.has(wantPath) {
		t.Fatal("expected object removed")
	}
	after := ms.document(t, "doc-op-001-p1-1")
	if after.FilePath != sibling.FilePath || after.Label.Get(catalog.LangES) != sibling.Label.Get(catalog.LangES) {
		t.Fatal("sibling document changed")
	}
}

func TestUploadReplacesPreviousObject(t *testing.T) {
	ms := seededStore(t)
	files := newMemoryFiles()
	svc := newTestService(t, ms, files)
	ctx := context.Background()

	upload := func(name string) {
		t.Helper()
		_, err := svc.UploadDocument(ctx, participant("op-001"), UploadInput{
			DocumentID: "doc-op-001-p2-11",
			Filename:   name,
			Size:       3,
			Body:       strings.NewReader("abc"),
			Uploader:   "Sandy",
		}, catalog.LangES)
		if err != nil {
			t.Fatalf("UploadDocument(%s) error = %v", name, err)
		}
	}
	upload("first.pdf")
	upload("second.pdf")

	if files.has("doc-op-001-p2-11/first.pdf") {
		t.Fatal("expected previous object removed")
	}
	doc := ms.document(t, "doc-op-001-p2-11")
	if *doc.FilePath != "doc-op-001-p2-11/second.pdf" || *doc.UploadedBy != "Sandy" {
		t.Fatalf("unexpected record %+v", doc)
	}
}

func TestUploadRejected(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		mutate  func(*memoryStore)
		size    int64
		status  int
		code    string
		message string
	}{
		{
			name:    "closed operation",
			session: participant("op-001"),
			mutate:  func(ms *memoryStore) { ms.operations[0].Status = store.StatusClosed },
			size:    3,
			status:  http.StatusConflict,
			code:    "OPERATION_CLOSED",
		},
		{
			name:    "other operation",
			session: participant("op-002"),
			size:    3,
			status:  http.StatusForbidden,
			code:    "FORBIDDEN",
		},
		{
			name:    "too large",
			session: participant("op-001"),
			size:    2 << 20,
			status:  http.StatusRequestEntityTooLarge,
			code:    "FILE_TOO_LARGE",
		},
		{
			name:    "empty",
			session: admin(),
			size:    0,
			status:  http.StatusUnprocessableEntity,
			code:    "VALIDATION_ERROR",
			message: "file is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := seededStore(t)
			if tt.mutate != nil {
				tt.mutate(ms)
			}
			files := newMemoryFiles()
			svc := newTestService(t, ms, files)

			_, err := svc.UploadDocument(context.Background(), tt.session, UploadInput{
				DocumentID: "doc-op-001-p1-0",
				Filename:   "a.pdf",
				Size:       tt.size,
				Body:       strings.NewReader("abc"),
			}, catalog.LangES)
			expectDomainError(t, err, tt.status, tt.code)
			var domainErr *DomainError
			if tt.message != "" && errors.As(err, &domainErr) && domainErr.Message != tt.message {
				t.Fatalf("expected message %q, got %q", tt.message, domainErr.Message)
			}
			if len(files.objects) != 0 {
				t.Fatal("rejected upload must not store bytes")
			}
		})
	}
}

func TestUploadRecordFailureRemovesNewObject(t *testing.T) {
	ms := seededStore(t)
	ms.setFileErr = errors.New("deadlock detected")
	files := newMemoryFiles()
	svc := newTestService(t, ms, files)

	_, err := svc.UploadDocument(context.Background(), participant("op-001"), UploadInput{
		DocumentID: "doc-op-001-p1-0",
		Filename:   "a.pdf",
		Size:       3,
		Body:       strings.NewReader("abc"),
	}, catalog.LangES)
	if err == nil {
		t.Fatal("expected error")
	}
	if files.has("doc-op-001-p1-0/a.pdf") {
		t.Fatal("expected orphan object removed")
	}
}

func TestDeleteDocumentFile(t *testing.T) {
	ms := seededStore(t)
	files := newMemoryFiles()
	svc := newTestService(t, ms, files)
	ctx := context.Background()

	// No file yet: no-op.
	if _, err := svc.DeleteDocumentFile(ctx, participant("op-001"), "doc-op-001-p1-0", "", catalog.LangES); err != nil {
		t.Fatalf("DeleteDocumentFile() on empty item error = %v", err)
	}
	if len(files.deleted) != 0 {
		t.Fatal("expected no storage call")
	}

	if _, err := svc.UploadDocument(ctx, participant("op-001"), UploadInput{
		DocumentID: "doc-op-001-p1-0",
		Filename:   "new.pdf",
		Size:       3,
		Body:       strings.NewReader("abc"),
	}, catalog.LangES); err != nil {
		t.Fatalf("UploadDocument() error = %v", err)
	}

	_, err := svc.DeleteDocumentFile(ctx, participant("op-001"), "doc-op-001-p1-0", "doc-op-001-p1-0/old.pdf", catalog.LangES)
	expectDomainError(t, err, http.StatusConflict, "FILE_REFERENCE_MISMATCH")
	if !files.has("doc-op-001-p1-0/new.pdf") {
		t.Fatal("mismatched delete must keep the current object")
	}

	_, err = svc.DeleteDocumentFile(ctx, participant("op-001"), "doc-missing", "", catalog.LangES)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestViewURL(t *testing.T) {
	ms := seededStore(t)
	files := newMemoryFiles()
	svc := newTestService(t, ms, files)
	ctx := context.Background()

	_, err := svc.ViewURL(ctx, participant("op-001"), "doc-op-001-p1-0")
	expectDomainError(t, err, http.StatusNotFound, "FILE_NOT_FOUND")

	dangling := "doc-op-001-p1-0/gone.pdf"
	ms.documents[0].FilePath = &dangling
	_, err = svc.ViewURL(ctx, participant("op-001"), "doc-op-001-p1-0")
	expectDomainError(t, err, http.StatusNotFound, "FILE_MISSING")

	files.objects[dangling] = []byte("x")
	url, err := svc.ViewURL(ctx, participant("op-001"), "doc-op-001-p1-0")
	if err != nil {
		t.Fatalf("ViewURL() error = %v", err)
	}
	if !strings.HasPrefix(url.URL, "https://files.test/"+dangling) {
		t.Fatalf("unexpected url %q", url.URL)
	}
}

func TestReconcile(t *testing.T) {
	ms := seededStore(t)
	files := newMemoryFiles()
	svc := newTestService(t, ms, files)
	ctx := context.Background()

	kept := "doc-op-001-p1-0/kept.pdf"
	missing := "doc-op-001-p1-1/missing.pdf"
	ms.documents[0].FilePath = &kept
	ms.documents[1].FilePath = &missing
	files.objects[kept] = []byte("a")
	files.objects["doc-op-001-p1-2/orphan.pdf"] = []byte("b")

	_, err := svc.Reconcile(ctx, participant("op-001"), false)
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	report, err := svc.Reconcile(ctx, admin(), false)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(report.Orphans) != 1 || report.Orphans[0] != "doc-op-001-p1-2/orphan.pdf" {
		t.Fatalf("unexpected orphans %v", report.Orphans)
	}
	if len(report.Dangling) != 1 || report.Dangling[0].Path != missing {
		t.Fatalf("unexpected dangling %v", report.Dangling)
	}
	if len(report.Deleted) != 0 || !files.has("doc-op-001-p1-2/orphan.pdf") {
		t.Fatal("dry run must not delete")
	}

	report, err = svc.Reconcile(ctx, admin(), true)
	if err != nil {
		t.Fatalf("Reconcile(apply) error = %v", err)
	}
	if len(report.Deleted) != 1 || files.has("doc-op-001-p1-2/orphan.pdf") || !files.has(kept) {
		t.Fatalf("unexpected apply result %+v", report)
	}
}

func TestAdminOverview(t *testing.T) {
	ms := seededStore(t)
	ms.operations = append(ms.operations, store.Operation{ID: "op-002", Name: "Other", Type: "escrow-purchase", Status: store.StatusClosed})
	path := "doc-op-001-p1-0/a.pdf"
	ms.documents[0].FilePath = &path
	svc := newTestService(t, ms, nil)

	_, err := svc.AdminOverview(context.Background(), participant("op-001"), catalog.LangES)
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	overview, err := svc.AdminOverview(context.Background(), admin(), catalog.LangES)
	if err != nil {
		t.Fatalf("AdminOverview() error = %v", err)
	}
	if overview.Operations != 2 || overview.Active != 1 || overview.Closed != 1 {
		t.Fatalf("unexpected counts %+v", overview)
	}
	if overview.Progress.Completed != 1 || overview.Items[0].Progress.Completed != 1 {
		t.Fatalf("unexpected progress %+v", overview.Progress)
	}
}

func TestBootstrapSeedsDemoOnce(t *testing.T) {
	ms := &memoryStore{}
	svc := newTestService(t, ms, nil)
	svc.cfg.SeedDemo = true

	for i := 0; i < 2; i++ {
		if err := svc.Bootstrap(context.Background()); err != nil {
			t.Fatalf("Bootstrap() error = %v", err)
		}
	}
	if len(ms.operations) != 1 || ms.operations[0].PIN != "143414" {
		t.Fatalf("expected demo operation, got %+v", ms.operations)
	}
	if len(ms.documents) != 47 || ms.inserts != 1 {
		t.Fatalf("expected 47 documents from one insert, got %d/%d", len(ms.documents), ms.inserts)
	}
}
