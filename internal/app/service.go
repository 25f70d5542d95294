package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"closingdocs/api/internal/access"
	"closingdocs/api/internal/auth"
	"closingdocs/api/internal/catalog"
	"closingdocs/api/internal/checklist"
	"closingdocs/api/internal/config"
	"closingdocs/api/internal/email"
	"closingdocs/api/internal/export"
	"closingdocs/api/internal/filestore"
	"closingdocs/api/internal/progress"
	"closingdocs/api/internal/rbac"
	"closingdocs/api/internal/search"
	"closingdocs/api/internal/store"
	"closingdocs/api/internal/util"
)

// Session is an authenticated PIN grant. OperationID is empty for a global
// admin session.
type Session struct {
	Token       string
	JTI         string
	Role        string
	OperationID string
	ExpiresAt   time.Time
}

func (s Session) IsAdmin() bool {
	return rbac.Normalize(s.Role) == rbac.RoleAdmin
}

type dataStore interface {
	ListOperations(context.Context) ([]store.Operation, error)
	GetOperation(context.Context, string) (store.Operation, error)
	FindOperationByPIN(context.Context, string) (*store.Operation, error)
	CountOperations(context.Context) (int, error)
	InsertOperation(context.Context, store.Operation) error
	InsertDocumentsIfAbsent(context.Context, string, []store.Document) (bool, error)
	ListDocuments(context.Context, store.DocumentFilter) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	SetDocumentFile(context.Context, string, string, string, time.Time) error
	ClearDocumentFile(context.Context, string) error
	ListFileReferences(context.Context) ([]store.FileReference, error)
	Ping(ctx context.Context) error
}

type fileStore interface {
	Put(ctx context.Context, objectPath string, reader io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, objectPath string) error
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
	List(ctx context.Context, prefix string) ([]filestore.Object, error)
	Ping(ctx context.Context) error
}

type tokenRevoker interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type retryReporter interface {
	RetryAfter(ctx context.Context, key string) (time.Duration, error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexItems(items []search.ItemRecord)
	IndexOperation(op search.OperationRecord)
	Reindex(ctx context.Context)
}

type notifier interface {
	IsConfigured() bool
	SendUploadNotification(to string, data email.UploadData) error
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Dependencies are the adapters the service runs on. Only Store and Gate are
// required; a nil adapter disables the feature it backs.
type Dependencies struct {
	Store   *store.PostgresStore
	Files   *filestore.MinioStore
	Tokens  tokenRevoker
	Lockout retryReporter
	Gate    *access.Gate
	Search  *search.Service
	Email   *email.Service
	Export  *export.Service
	Logger  *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	files     fileStore
	tokens    tokenRevoker
	lockout   retryReporter
	gate      *access.Gate
	generator *checklist.Generator
	search    searchIndex
	email     notifier
	export    exporter
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		tokens:    deps.Tokens,
		lockout:   deps.Lockout,
		gate:      deps.Gate,
		generator: checklist.NewGenerator(deps.Store, logger, cfg.Strict()),
		logger:    logger,
		now:       time.Now,
	}
	if deps.Files != nil {
		s.files = deps.Files
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if deps.Email != nil {
		s.email = deps.Email
	}
	if deps.Export != nil {
		s.export = deps.Export
	}
	return s
}

// AccessResult is returned by a successful Access call.
type AccessResult struct {
	Session   Session
	Operation *store.Operation
	Checklist *checklist.Result
	// Progress covers the bound operation; zero for an admin-only grant.
	Progress progress.Progress
}

// Access exchanges a PIN for a session. A PIN bound to an operation also
// makes sure the operation's checklist exists.
func (s *Service) Access(ctx context.Context, clientKey, code string) (AccessResult, error) {
	grant, ok, err := s.gate.Attempt(ctx, clientKey, code)
	if errors.Is(err, access.ErrLocked) {
		return AccessResult{}, s.lockedError(ctx, clientKey)
	}
	if err != nil {
		return AccessResult{}, err
	}
	if !ok {
		return AccessResult{}, errAccessDenied()
	}

	result := AccessResult{Operation: grant.Operation}
	if grant.Operation != nil {
		generated, err := s.generator.Ensure(ctx, *grant.Operation)
		if err != nil {
			if errors.Is(err, checklist.ErrDataIntegrity) {
				return AccessResult{}, domainError(http.StatusInternalServerError, "DATA_INTEGRITY", "Operation data is inconsistent", nil)
			}
			return AccessResult{}, err
		}
		result.Checklist = &generated
		if generated.Created {
			s.indexOperation(ctx, *grant.Operation)
		}

		docs, err := s.store.ListDocuments(ctx, store.DocumentFilter{OperationID: grant.Operation.ID})
		if err != nil {
			return AccessResult{}, err
		}
		result.Progress = progress.ForOperation(docs, grant.Operation.ID)
	}

	role := rbac.RoleParticipant
	if grant.Admin {
		role = rbac.RoleAdmin
	}
	operationID := ""
	if grant.Operation != nil {
		operationID = grant.Operation.ID
	}

	session, err := s.issueSession(string(role), operationID)
	if err != nil {
		return AccessResult{}, err
	}
	result.Session = session
	return result, nil
}

func (s *Service) lockedError(ctx context.Context, clientKey string) error {
	details := map[string]any{}
	if s.lockout != nil {
		if wait, err := s.lockout.RetryAfter(ctx, clientKey); err == nil && wait > 0 {
			details["retryAfterSeconds"] = int(wait.Round(time.Second) / time.Second)
		}
	}
	return domainError(http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many attempts, try again later", details)
}

func (s *Service) issueSession(role, operationID string) (Session, error) {
	expiresAt := s.now().Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	subject := operationID
	if subject == "" {
		subject = string(rbac.RoleAdmin)
	}

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:         subject,
		OperationID: operationID,
		Role:        role,
		JTI:         jti,
		Exp:         expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:       token,
		JTI:         jti,
		Role:        role,
		OperationID: operationID,
		ExpiresAt:   expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	if s.tokens != nil {
		revoked, err := s.tokens.IsRevoked(ctx, claims.JTI)
		if err != nil {
			return Session{}, err
		}
		if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}

	return Session{
		Token:       token,
		JTI:         claims.JTI,
		Role:        string(rbac.Normalize(claims.Role)),
		OperationID: claims.OperationID,
		ExpiresAt:   claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" || s.tokens == nil {
		return nil
	}
	return s.tokens.RevokeToken(ctx, session.JTI, session.ExpiresAt)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) authorize(session Session, action rbac.Action, operationID string) error {
	role := rbac.Normalize(session.Role)
	if !rbac.Can(role, action) || !rbac.InScope(role, session.OperationID, operationID) {
		return errForbidden()
	}
	return nil
}

// OperationView is the public shape of an operation. The PIN is never exposed.
type OperationView struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Type            string            `json:"type"`
	TypeLabel       string            `json:"typeLabel"`
	Status          string            `json:"status"`
	BackgroundImage *string           `json:"backgroundImage"`
	CreatedAt       time.Time         `json:"createdAt"`
	Progress        progress.Progress `json:"progress"`
}

type PartyView struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Role           string           `json:"role"`
	RoleLabel      string           `json:"roleLabel"`
	LegalType      string           `json:"legalType"`
	LegalTypeLabel string           `json:"legalTypeLabel"`
	Summary        progress.Summary `json:"summary"`
}

type CategoryView struct {
	Category string           `json:"category"`
	Label    string           `json:"label"`
	Summary  progress.Summary `json:"summary"`
}

type OperationDetail struct {
	OperationView
	Parties    []PartyView    `json:"parties"`
	Categories []CategoryView `json:"categories"`
}

type DocumentView struct {
	ID          string        `json:"id"`
	OperationID string        `json:"operationId"`
	PartyID     *string       `json:"partyId"`
	Category    *string       `json:"category"`
	Label       string        `json:"label"`
	Labels      catalog.Label `json:"labels"`
	Required    bool          `json:"required"`
	Uploaded    bool          `json:"uploaded"`
	FileRef     *string       `json:"fileRef"`
	UploadedBy  *string       `json:"uploadedBy"`
	UploadedAt  *time.Time    `json:"uploadedAt"`
	Position    int           `json:"position"`
}

func newOperationView(op store.Operation, p progress.Progress, lang catalog.Lang) OperationView {
	typeLabel := catalog.OperationLabels[catalog.OperationType(op.Type)].Get(lang)
	if typeLabel == "" {
		typeLabel = op.Type
	}
	return OperationView{
		ID:              op.ID,
		Name:            op.Name,
		Type:            op.Type,
		TypeLabel:       typeLabel,
		Status:          op.Status,
		BackgroundImage: op.BackgroundImage,
		CreatedAt:       op.CreatedAt,
		Progress:        p,
	}
}

func newDocumentView(doc store.Document, lang catalog.Lang) DocumentView {
	return DocumentView{
		ID:          doc.ID,
		OperationID: doc.OperationID,
		PartyID:     doc.PartyID,
		Category:    doc.Category,
		Label:       doc.Label.Get(lang),
		Labels:      doc.Label,
		Required:    doc.Required,
		Uploaded:    doc.Uploaded(),
		FileRef:     doc.FilePath,
		UploadedBy:  doc.UploadedBy,
		UploadedAt:  doc.UploadedAt,
		Position:    doc.Position,
	}
}

// ListOperations returns every operation to an admin and only the bound
// operation to a participant.
func (s *Service) ListOperations(ctx context.Context, session Session, lang catalog.Lang) ([]OperationView, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}

	var operations []store.Operation
	var docs []store.Document
	if session.IsAdmin() {
		var err error
		operations, err = s.store.ListOperations(ctx)
		if err != nil {
			return nil, err
		}
		docs, err = s.store.ListDocuments(ctx, store.DocumentFilter{})
		if err != nil {
			return nil, err
		}
	} else {
		if session.OperationID == "" {
			return []OperationView{}, nil
		}
		op, err := s.store.GetOperation(ctx, session.OperationID)
		if err != nil {
			return nil, err
		}
		operations = []store.Operation{op}
		docs, err = s.store.ListDocuments(ctx, store.DocumentFilter{OperationID: op.ID})
		if err != nil {
			return nil, err
		}
	}

	byOperation := progress.ByOperation(docs)
	items := make([]OperationView, 0, len(operations))
	for _, op := range operations {
		items = append(items, newOperationView(op, byOperation[op.ID], lang))
	}
	return items, nil
}

func (s *Service) GetOperation(ctx context.Context, session Session, operationID string, lang catalog.Lang) (OperationDetail, error) {
	if err := s.authorize(session, rbac.ActionRead, operationID); err != nil {
		return OperationDetail{}, err
	}
	op, err := s.store.GetOperation(ctx, operationID)
	if err != nil {
		return OperationDetail{}, err
	}
	docs, err := s.store.ListDocuments(ctx, store.DocumentFilter{OperationID: operationID})
	if err != nil {
		return OperationDetail{}, err
	}

	detail := OperationDetail{
		OperationView: newOperationView(op, progress.ForOperation(docs, op.ID), lang),
		Parties:       make([]PartyView, 0, len(op.Parties)),
		Categories:    make([]CategoryView, 0, len(catalog.GeneralCategories())),
	}
	for _, party := range op.Parties {
		partyID := party.ID
		detail.Parties = append(detail.Parties, PartyView{
			ID:             party.ID,
			Name:           party.Name,
			Role:           party.Role,
			RoleLabel:      catalog.RoleLabels[party.Role].Get(lang),
			LegalType:      party.LegalType,
			LegalTypeLabel: catalog.LegalTypeLabels[catalog.LegalType(party.LegalType)].Get(lang),
			Summary: progress.Summarize(filterDocuments(docs, func(d store.Document) bool {
				return d.PartyID != nil && *d.PartyID == partyID
			})),
		})
	}
	for _, category := range catalog.GeneralCategories() {
		name := string(category)
		detail.Categories = append(detail.Categories, CategoryView{
			Category: name,
			Label:    catalog.CategoryLabels[category].Get(lang),
			Summary: progress.Summarize(filterDocuments(docs, func(d store.Document) bool {
				return d.PartyID == nil && d.Category != nil && *d.Category == name
			})),
		})
	}
	return detail, nil
}

// DocumentQuery narrows ListDocuments to one party or one general category.
type DocumentQuery struct {
	PartyID  string
	Category string
}

func (q DocumentQuery) validate() error {
	if q.PartyID != "" && q.Category != "" {
		return errValidation("partyId and category are mutually exclusive")
	}
	if q.Category != "" {
		if _, err := catalog.ParseCategory(q.Category); err != nil {
			return errValidation("unknown category")
		}
	}
	return nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session, operationID string, query DocumentQuery, lang catalog.Lang) ([]DocumentView, error) {
	if err := s.authorize(session, rbac.ActionRead, operationID); err != nil {
		return nil, err
	}
	if err := query.validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetOperation(ctx, operationID); err != nil {
		return nil, err
	}

	docs, err := s.store.ListDocuments(ctx, store.DocumentFilter{
		OperationID: operationID,
		PartyID:     query.PartyID,
		Category:    query.Category,
	})
	if err != nil {
		return nil, err
	}
	items := make([]DocumentView, 0, len(docs))
	for _, doc := range docs {
		items = append(items, newDocumentView(doc, lang))
	}
	return items, nil
}

// Progress reports required-document progress for the whole operation, one
// party or one general category.
func (s *Service) Progress(ctx context.Context, session Session, operationID string, query DocumentQuery) (progress.Progress, error) {
	if err := s.authorize(session, rbac.ActionRead, operationID); err != nil {
		return progress.Progress{}, err
	}
	if err := query.validate(); err != nil {
		return progress.Progress{}, err
	}
	if _, err := s.store.GetOperation(ctx, operationID); err != nil {
		return progress.Progress{}, err
	}
	docs, err := s.store.ListDocuments(ctx, store.DocumentFilter{OperationID: operationID})
	if err != nil {
		return progress.Progress{}, err
	}

	switch {
	case query.PartyID != "":
		return progress.ForParty(docs, operationID, query.PartyID), nil
	case query.Category != "":
		return progress.ForCategory(docs, operationID, query.Category), nil
	default:
		return progress.ForOperation(docs, operationID), nil
	}
}

// Overview is the admin dashboard aggregate.
type Overview struct {
	Operations int               `json:"operations"`
	Active     int               `json:"active"`
	Closed     int               `json:"closed"`
	Progress   progress.Progress `json:"progress"`
	Items      []OperationView   `json:"items"`
}

func (s *Service) AdminOverview(ctx context.Context, session Session, lang catalog.Lang) (Overview, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return Overview{}, errForbidden()
	}
	operations, err := s.store.ListOperations(ctx)
	if err != nil {
		return Overview{}, err
	}
	docs, err := s.store.ListDocuments(ctx, store.DocumentFilter{})
	if err != nil {
		return Overview{}, err
	}

	byOperation := progress.ByOperation(docs)
	overview := Overview{
		Operations: len(operations),
		Progress:   progress.Compute(docs),
		Items:      make([]OperationView, 0, len(operations)),
	}
	for _, op := range operations {
		if op.Status == store.StatusClosed {
			overview.Closed++
		} else {
			overview.Active++
		}
		overview.Items = append(overview.Items, newOperationView(op, byOperation[op.ID], lang))
	}
	return overview, nil
}

func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return search.Response{}, errForbidden()
	}
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.FilterType != "" && q.FilterType != search.ResultItem && q.FilterType != search.ResultOperation {
		return search.Response{}, errValidation("type must be item or operation")
	}
	if s.search == nil || q.Text == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) Export(ctx context.Context, session Session, req export.Request) (*export.Result, error) {
	if err := s.authorize(session, rbac.ActionExport, req.OperationID); err != nil {
		return nil, err
	}
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	result, err := s.export.Export(ctx, req)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return nil, errValidation("format must be pdf or docx")
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export dependency is not installed", map[string]any{"format": req.Format})
	default:
		return nil, err
	}
}

// Ping checks the health of service dependencies (database)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingFiles checks object storage reachability. It reports nil when file
// storage is not configured.
func (s *Service) PingFiles(ctx context.Context) error {
	if s.files == nil {
		return nil
	}
	return s.files.Ping(ctx)
}

func (s *Service) indexOperation(ctx context.Context, op store.Operation) {
	if s.search == nil {
		return
	}
	s.search.IndexOperation(search.OperationRecord{ID: op.ID, Name: op.Name, Type: op.Type, Status: op.Status})
	docs, err := s.store.ListDocuments(ctx, store.DocumentFilter{OperationID: op.ID})
	if err != nil {
		s.logger.Warn("load documents for indexing", zap.String("operation_id", op.ID), zap.Error(err))
		return
	}
	records := make([]search.ItemRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, itemRecord(doc))
	}
	s.search.IndexItems(records)
}

func itemRecord(doc store.Document) search.ItemRecord {
	return search.ItemRecord{
		ID:          doc.ID,
		OperationID: doc.OperationID,
		PartyID:     derefString(doc.PartyID),
		Category:    derefString(doc.Category),
		LabelES:     doc.Label.Get(catalog.LangES),
		LabelEN:     doc.Label.Get(catalog.LangEN),
		Required:    doc.Required,
		Uploaded:    doc.Uploaded(),
	}
}

func filterDocuments(docs []store.Document, keep func(store.Document) bool) []store.Document {
	out := make([]store.Document, 0, len(docs))
	for _, doc := range docs {
		if keep(doc) {
			out = append(out, doc)
		}
	}
	return out
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
