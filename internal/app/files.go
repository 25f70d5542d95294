package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"closingdocs/api/internal/catalog"
	"closingdocs/api/internal/email"
	"closingdocs/api/internal/filestore"
	"closingdocs/api/internal/metrics"
	"closingdocs/api/internal/progress"
	"closingdocs/api/internal/rbac"
	"closingdocs/api/internal/search"
	"closingdocs/api/internal/store"
)

const defaultUploader = "usuario"

const notifyTimeout = 30 * time.Second

type UploadInput struct {
	DocumentID  string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
	Uploader    string
}

// UploadDocument stores the file and points the checklist item at it. When
// two uploads race, the last record update wins.
func (s *Service) UploadDocument(ctx context.Context, session Session, input UploadInput, lang catalog.Lang) (DocumentView, error) {
	doc, op, err := s.loadMutableDocument(ctx, session, rbac.ActionUpload, input.DocumentID)
	if err != nil {
		return DocumentView{}, err
	}
	if input.Body == nil {
		return DocumentView{}, errValidation("file is required")
	}
	if input.Size <= 0 {
		return DocumentView{}, errValidation("file is empty")
	}
	if s.cfg.MaxUploadBytes > 0 && input.Size > s.cfg.MaxUploadBytes {
		return DocumentView{}, domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload limit", map[string]any{"maxBytes": s.cfg.MaxUploadBytes})
	}
	if s.files == nil {
		return DocumentView{}, errStorageUnavailable()
	}

	objectPath := filestore.ObjectPath(doc.ID, input.Filename)
	contentType := firstNonBlank(input.ContentType, "application/octet-stream")
	if err := s.files.Put(ctx, objectPath, input.Body, input.Size, contentType); err != nil {
		metrics.FileMutationsTotal.WithLabelValues("upload", "error").Inc()
		return DocumentView{}, err
	}

	uploader := firstNonBlank(input.Uploader, defaultUploader)
	uploadedAt := s.now().UTC()
	if err := s.store.SetDocumentFile(ctx, doc.ID, objectPath, uploader, uploadedAt); err != nil {
		metrics.FileMutationsTotal.WithLabelValues("upload", "error").Inc()
		// The object is orphaned unless the record already pointed at the same path.
		if doc.FilePath == nil || *doc.FilePath != objectPath {
			s.removeObject(ctx, objectPath)
		}
		return DocumentView{}, err
	}
	metrics.FileMutationsTotal.WithLabelValues("upload", "ok").Inc()
	metrics.UploadBytes.Observe(float64(input.Size))

	previous := doc.FilePath
	if previous != nil && *previous != objectPath {
		s.removeObject(ctx, *previous)
	}

	doc.FilePath = &objectPath
	doc.UploadedBy = &uploader
	doc.UploadedAt = &uploadedAt

	s.logger.Info("document uploaded",
		zap.String("operation_id", op.ID),
		zap.String("document_id", doc.ID),
		zap.Int64("bytes", input.Size),
	)
	if s.search != nil {
		s.search.IndexItems([]search.ItemRecord{itemRecord(doc)})
	}
	s.notifyUpload(op, doc)

	return newDocumentView(doc, lang), nil
}

// DeleteDocumentFile removes the stored file of a checklist item. fileRef,
// when given, must match the stored path so a stale client cannot remove a
// newer upload. Deleting an item without a file is a no-op.
func (s *Service) DeleteDocumentFile(ctx context.Context, session Session, documentID, fileRef string, lang catalog.Lang) (DocumentView, error) {
	doc, op, err := s.loadMutableDocument(ctx, session, rbac.ActionDelete, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	if doc.FilePath == nil {
		return newDocumentView(doc, lang), nil
	}
	if fileRef != "" && fileRef != *doc.FilePath {
		return DocumentView{}, domainError(http.StatusConflict, "FILE_REFERENCE_MISMATCH", "File was replaced, reload and try again", map[string]any{"documentId": doc.ID})
	}
	if s.files == nil {
		return DocumentView{}, errStorageUnavailable()
	}

	if err := s.files.Delete(ctx, *doc.FilePath); err != nil {
		metrics.FileMutationsTotal.WithLabelValues("delete", "error").Inc()
		return DocumentView{}, err
	}
	if err := s.store.ClearDocumentFile(ctx, doc.ID); err != nil {
		metrics.FileMutationsTotal.WithLabelValues("delete", "error").Inc()
		return DocumentView{}, err
	}
	metrics.FileMutationsTotal.WithLabelValues("delete", "ok").Inc()

	s.logger.Info("document file deleted",
		zap.String("operation_id", op.ID),
		zap.String("document_id", doc.ID),
	)
	doc.FilePath = nil
	doc.UploadedBy = nil
	doc.UploadedAt = nil
	if s.search != nil {
		s.search.IndexItems([]search.ItemRecord{itemRecord(doc)})
	}
	return newDocumentView(doc, lang), nil
}

// FileURL is a time-limited link to a stored file.
type FileURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Service) ViewURL(ctx context.Context, session Session, documentID string) (FileURL, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return FileURL{}, err
	}
	if err := s.authorize(session, rbac.ActionRead, doc.OperationID); err != nil {
		return FileURL{}, err
	}
	if doc.FilePath == nil {
		return FileURL{}, domainError(http.StatusNotFound, "FILE_NOT_FOUND", "Document has no file", nil)
	}
	if s.files == nil {
		return FileURL{}, errStorageUnavailable()
	}

	url, err := s.files.SignedURL(ctx, *doc.FilePath, s.cfg.FileURLTTL)
	if errors.Is(err, filestore.ErrNotFound) {
		s.logger.Warn("dangling file reference", zap.String("document_id", doc.ID), zap.String("path", *doc.FilePath))
		return FileURL{}, domainError(http.StatusNotFound, "FILE_MISSING", "Stored file is missing", nil)
	}
	if err != nil {
		return FileURL{}, err
	}
	return FileURL{URL: url, ExpiresAt: s.now().Add(s.cfg.FileURLTTL)}, nil
}

func (s *Service) loadMutableDocument(ctx context.Context, session Session, action rbac.Action, documentID string) (store.Document, store.Operation, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, store.Operation{}, err
	}
	if err := s.authorize(session, action, doc.OperationID); err != nil {
		return store.Document{}, store.Operation{}, err
	}
	op, err := s.store.GetOperation(ctx, doc.OperationID)
	if err != nil {
		return store.Document{}, store.Operation{}, err
	}
	if op.Status == store.StatusClosed {
		return store.Document{}, store.Operation{}, errOperationClosed(op.ID)
	}
	return doc, op, nil
}

func (s *Service) removeObject(ctx context.Context, objectPath string) {
	if err := s.files.Delete(ctx, objectPath); err != nil {
		s.logger.Warn("remove stale object", zap.String("path", objectPath), zap.Error(err))
	}
}

func (s *Service) notifyUpload(op store.Operation, doc store.Document) {
	if s.email == nil || !s.email.IsConfigured() || s.cfg.NotifyEmail == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		docs, err := s.store.ListDocuments(ctx, store.DocumentFilter{OperationID: op.ID})
		if err != nil {
			s.logger.Warn("load progress for notification", zap.String("operation_id", op.ID), zap.Error(err))
			return
		}
		p := progress.ForOperation(docs, op.ID)
		data := email.UploadData{
			OperationName: op.Name,
			DocumentLabel: doc.Label.Get(catalog.DefaultLang),
			PartyName:     partyName(op, doc.PartyID),
			UploadedBy:    derefString(doc.UploadedBy),
			Percent:       p.Percent,
			Completed:     p.Completed,
			Total:         p.Total,
		}
		if doc.UploadedAt != nil {
			data.UploadedAt = *doc.UploadedAt
		}
		if err := s.email.SendUploadNotification(s.cfg.NotifyEmail, data); err != nil {
			s.logger.Warn("send upload notification", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}()
}

func partyName(op store.Operation, partyID *string) string {
	if partyID == nil {
		return ""
	}
	for _, party := range op.Parties {
		if party.ID == *partyID {
			return party.Name
		}
	}
	return ""
}

// ReconcileReport lists where object storage and checklist records disagree.
type ReconcileReport struct {
	Objects    int                   `json:"objects"`
	References int                   `json:"references"`
	Orphans    []string              `json:"orphans"`
	Dangling   []store.FileReference `json:"dangling"`
	Deleted    []string              `json:"deleted"`
	Applied    bool                  `json:"applied"`
}

// Reconcile compares stored objects with file references. With apply set,
// orphan objects are deleted. Dangling references are only reported since
// clearing them would hide a lost upload.
func (s *Service) Reconcile(ctx context.Context, session Session, apply bool) (ReconcileReport, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return ReconcileReport{}, errForbidden()
	}
	if s.files == nil {
		return ReconcileReport{}, errStorageUnavailable()
	}

	objects, err := s.files.List(ctx, "")
	if err != nil {
		return ReconcileReport{}, err
	}
	refs, err := s.store.ListFileReferences(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}

	stored := make(map[string]struct{}, len(objects))
	for _, object := range objects {
		stored[object.Path] = struct{}{}
	}
	referenced := make(map[string]struct{}, len(refs))
	report := ReconcileReport{
		Objects:    len(objects),
		References: len(refs),
		Orphans:    []string{},
		Dangling:   []store.FileReference{},
		Deleted:    []string{},
		Applied:    apply,
	}
	for _, ref := range refs {
		referenced[ref.Path] = struct{}{}
		if _, ok := stored[ref.Path]; !ok {
			report.Dangling = append(report.Dangling, ref)
		}
	}
	for _, object := range objects {
		if _, ok := referenced[object.Path]; !ok {
			report.Orphans = append(report.Orphans, object.Path)
		}
	}
	sort.Strings(report.Orphans)

	if apply {
		for _, orphan := range report.Orphans {
			if err := s.files.Delete(ctx, orphan); err != nil {
				s.logger.Warn("delete orphan object", zap.String("path", orphan), zap.Error(err))
				continue
			}
			report.Deleted = append(report.Deleted, orphan)
		}
	}

	s.logger.Info("reconcile complete",
		zap.Int("objects", report.Objects),
		zap.Int("references", report.References),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("dangling", len(report.Dangling)),
		zap.Int("deleted", len(report.Deleted)),
	)
	return report, nil
}

func errStorageUnavailable() *DomainError {
	return domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
}
