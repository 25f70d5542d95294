package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"closingdocs/api/internal/catalog"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const operationColumns = `id, name, type, pin, status, background_image, created_at`

func scanOperation(row interface{ Scan(...any) error }) (Operation, error) {
	var op Operation
	var background sql.NullString
	if err := row.Scan(&op.ID, &op.Name, &op.Type, &op.PIN, &op.Status, &background, &op.CreatedAt); err != nil {
		return Operation{}, err
	}
	op.BackgroundImage = stringPtr(background)
	return op, nil
}

func (s *PostgresStore) ListOperations(ctx context.Context) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+operationColumns+` FROM operations ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	items := make([]Operation, 0)
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		items = append(items, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}

	parties, err := s.listParties(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Parties = parties[items[i].ID]
	}
	return items, nil
}

func (s *PostgresStore) GetOperation(ctx context.Context, operationID string) (Operation, error) {
	op, err := scanOperation(s.db.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations WHERE id=$1`, operationID))
	if err != nil {
		return Operation{}, err
	}
	parties, err := s.listParties(ctx, operationID)
	if err != nil {
		return Operation{}, err
	}
	op.Parties = parties[op.ID]
	return op, nil
}

// FindOperationByPIN matches the PIN case-insensitively. When several
// operations share a PIN the oldest one wins. It returns nil when nothing matches.
func (s *PostgresStore) FindOperationByPIN(ctx context.Context, pin string) (*Operation, error) {
	op, err := scanOperation(s.db.QueryRowContext(ctx, `
		SELECT `+operationColumns+`
		FROM operations
		WHERE UPPER(pin) = UPPER($1)
		ORDER BY created_at, id
		LIMIT 1
	`, pin))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find operation by pin: %w", err)
	}
	parties, err := s.listParties(ctx, op.ID)
	if err != nil {
		return nil, err
	}
	op.Parties = parties[op.ID]
	return &op, nil
}

func (s *PostgresStore) listParties(ctx context.Context, operationID string) (map[string][]Party, error) {
	query := `SELECT id, operation_id, name, role, legal_type, position FROM parties`
	var args []any
	if operationID != "" {
		query += ` WHERE operation_id=$1`
		args = append(args, operationID)
	}
	query += ` ORDER BY operation_id, position, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list parties: %w", err)
	}
	defer rows.Close()

	byOperation := make(map[string][]Party)
	for rows.Next() {
		var p Party
		if err := rows.Scan(&p.ID, &p.OperationID, &p.Name, &p.Role, &p.LegalType, &p.Position); err != nil {
			return nil, fmt.Errorf("scan party: %w", err)
		}
		byOperation[p.OperationID] = append(byOperation[p.OperationID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parties: %w", err)
	}
	return byOperation, nil
}

func (s *PostgresStore) CountOperations(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}
	return count, nil
}

// InsertOperation stores an operation and its parties. Existing rows are left untouched.
func (s *PostgresStore) InsertOperation(ctx context.Context, op Operation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert operation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := op.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	status := op.Status
	if status == "" {
		status = StatusActive
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO operations (id, name, type, pin, status, background_image, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, op.ID, op.Name, op.Type, op.PIN, status, op.BackgroundImage, createdAt); err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}

	for i, p := range op.Parties {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO parties (id, operation_id, name, role, legal_type, position)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (operation_id, id) DO NOTHING
		`, p.ID, op.ID, p.Name, p.Role, p.LegalType, i); err != nil {
			return fmt.Errorf("insert party %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert operation: %w", err)
	}
	return nil
}

// InsertDocumentsIfAbsent inserts docs in one statement unless the operation
// already has documents. The operation row is locked for the duration of the
// check so two concurrent first accesses cannot both insert. The bool reports
// whether the batch was written.
func (s *PostgresStore) InsertDocumentsIfAbsent(ctx context.Context, operationID string, docs []Document) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin ensure documents: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM operations WHERE id=$1 FOR UPDATE`, operationID).Scan(&locked); err != nil {
		return false, fmt.Errorf("lock operation: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE operation_id=$1)`, operationID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check documents: %w", err)
	}
	if exists {
		return false, nil
	}
	if len(docs) == 0 {
		return false, nil
	}

	const columns = 8
	placeholders := make([]string, 0, len(docs))
	args := make([]any, 0, len(docs)*columns)
	for i, doc := range docs {
		base := i * columns
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args,
			doc.ID,
			operationID,
			doc.PartyID,
			doc.Category,
			doc.Label[catalog.LangES],
			doc.Label[catalog.LangEN],
			doc.Required,
			doc.Position,
		)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, operation_id, party_id, category, label_es, label_en, required, position)
		VALUES `+strings.Join(placeholders, ", "), args...); err != nil {
		return false, fmt.Errorf("insert documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit documents: %w", err)
	}
	return true, nil
}

const documentColumns = `id, operation_id, party_id, category, label_es, label_en, required, file_path, uploaded_by, uploaded_at, position`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var doc Document
	var partyID, category, filePath, uploadedBy sql.NullString
	var uploadedAt sql.NullTime
	var labelES, labelEN string
	if err := row.Scan(&doc.ID, &doc.OperationID, &partyID, &category, &labelES, &labelEN, &doc.Required, &filePath, &uploadedBy, &uploadedAt, &doc.Position); err != nil {
		return Document{}, err
	}
	doc.PartyID = stringPtr(partyID)
	doc.Category = stringPtr(category)
	doc.FilePath = stringPtr(filePath)
	doc.UploadedBy = stringPtr(uploadedBy)
	if uploadedAt.Valid {
		at := uploadedAt.Time
		doc.UploadedAt = &at
	}
	doc.Label = catalog.NewLabel(labelES, labelEN)
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error) {
	var where []string
	var args []any
	if filter.OperationID != "" {
		args = append(args, filter.OperationID)
		where = append(where, fmt.Sprintf("operation_id = $%d", len(args)))
	}
	if filter.PartyID != "" {
		args = append(args, filter.PartyID)
		where = append(where, fmt.Sprintf("party_id = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d AND party_id IS NULL", len(args)))
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY operation_id, position, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID))
}

// SetDocumentFile records an upload. The last writer wins.
func (s *PostgresStore) SetDocumentFile(ctx context.Context, documentID, path, uploadedBy string, uploadedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET file_path=$2, uploaded_by=$3, uploaded_at=$4
		WHERE id=$1
	`, documentID, path, uploadedBy, uploadedAt)
	if err != nil {
		return fmt.Errorf("set document file: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) ClearDocumentFile(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET file_path=NULL, uploaded_by=NULL, uploaded_at=NULL
		WHERE id=$1
	`, documentID)
	if err != nil {
		return fmt.Errorf("clear document file: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) ListFileReferences(ctx context.Context) ([]FileReference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation_id, file_path
		FROM documents
		WHERE file_path IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list file references: %w", err)
	}
	defer rows.Close()

	refs := make([]FileReference, 0)
	for rows.Next() {
		var ref FileReference
		if err := rows.Scan(&ref.DocumentID, &ref.OperationID, &ref.Path); err != nil {
			return nil, fmt.Errorf("scan file reference: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file references: %w", err)
	}
	return refs, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
