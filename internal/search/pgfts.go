package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over checklist items and operations. Labels are
// bilingual so the 'simple' configuration is used; a prefix ILIKE match
// catches partial words the tsquery misses.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text, "%" + escapeLike(q.Text) + "%"}
	argN := 3

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultItem {
		where := "(d.fts @@ " + tsQuery + " OR d.label_es ILIKE $2 OR d.label_en ILIKE $2)"
		if q.FilterOperationID != "" {
			where += fmt.Sprintf(" AND d.operation_id = $%d", argN)
			args = append(args, q.FilterOperationID)
			argN++
		}
		if q.OnlyMissing {
			where += " AND d.file_path IS NULL"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'item'::text AS type, d.id, d.label_es AS title, d.label_en AS snippet,
				d.operation_id, coalesce(d.party_id, '') AS party_id, coalesce(d.category, '') AS category,
				d.file_path IS NOT NULL AS uploaded,
				ts_rank(d.fts, %s) AS rank
			FROM documents d
			WHERE %s`, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultOperation {
		where := "(o.fts @@ " + tsQuery + " OR o.name ILIKE $2)"
		if q.FilterOperationID != "" {
			where += fmt.Sprintf(" AND o.id = $%d", argN)
			args = append(args, q.FilterOperationID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'operation'::text AS type, o.id, o.name AS title, o.status AS snippet,
				o.id AS operation_id, ''::text AS party_id, ''::text AS category,
				false AS uploaded,
				ts_rank(o.fts, %s) AS rank
			FROM operations o
			WHERE %s`, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, title, snippet, operation_id, party_id, category, uploaded
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.OperationID, &r.PartyID, &r.Category, &r.Uploaded); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.TrimSpace(value))
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]OperationRecord, []ItemRecord, error) {
	opRows, err := p.db.QueryContext(ctx, `SELECT id, name, type, status FROM operations`)
	if err != nil {
		return nil, nil, fmt.Errorf("load operations: %w", err)
	}
	defer opRows.Close()

	operations := make([]OperationRecord, 0)
	for opRows.Next() {
		var o OperationRecord
		if err := opRows.Scan(&o.ID, &o.Name, &o.Type, &o.Status); err != nil {
			return nil, nil, fmt.Errorf("scan operation: %w", err)
		}
		operations = append(operations, o)
	}
	if err := opRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate operations: %w", err)
	}

	itemRows, err := p.db.QueryContext(ctx, `
		SELECT id, operation_id, coalesce(party_id, ''), coalesce(category, ''), label_es, label_en, required, file_path IS NOT NULL
		FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load items: %w", err)
	}
	defer itemRows.Close()

	items := make([]ItemRecord, 0)
	for itemRows.Next() {
		var i ItemRecord
		if err := itemRows.Scan(&i.ID, &i.OperationID, &i.PartyID, &i.Category, &i.LabelES, &i.LabelEN, &i.Required, &i.Uploaded); err != nil {
			return nil, nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, i)
	}
	if err := itemRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate items: %w", err)
	}

	return operations, items, nil
}
