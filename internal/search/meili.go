package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"

	"closingdocs/api/internal/metrics"
)

const (
	idxItems      = "closingdocs_items"
	idxOperations = "closingdocs_operations"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is tolerated; the health loop picks it up later.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.Named("meili"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.setHealthy(false)
	} else {
		m.setHealthy(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) setHealthy(ok bool) {
	m.healthy.Store(ok)
	if ok {
		metrics.SearchBackendAvailable.Set(1)
	} else {
		metrics.SearchBackendAvailable.Set(0)
	}
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxItems,
			filterable: []string{"operationId", "partyId", "category", "uploaded", "required"},
			searchable: []string{"labelEs", "labelEn"},
		},
		{
			uid:        idxOperations,
			filterable: []string{"status", "type"},
			searchable: []string{"name"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			m.logger.Debug("create index (may already exist)", zap.String("index", idx.uid), zap.Error(err))
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("update filterable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.logger.Warn("update searchable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.setHealthy(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or a filtered subset) and merges results.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	targets := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxItems, ResultItem},
		{idxOperations, ResultOperation},
	}

	var queries []*meili.SearchRequest
	for _, target := range targets {
		if q.FilterType != "" && q.FilterType != target.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              target.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if filters := meiliFilters(q, target.rtyp); len(filters) > 0 {
			sr.Filter = filters
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.setHealthy(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func meiliFilters(q Query, rtyp ResultType) []string {
	var filters []string
	switch rtyp {
	case ResultItem:
		if q.FilterOperationID != "" {
			filters = append(filters, fmt.Sprintf("operationId = %q", q.FilterOperationID))
		}
		if q.OnlyMissing {
			filters = append(filters, "uploaded = false")
		}
	case ResultOperation:
		if q.FilterOperationID != "" {
			filters = append(filters, fmt.Sprintf("id = %q", q.FilterOperationID))
		}
	}
	return filters
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxItems:
		return ResultItem
	case idxOperations:
		return ResultOperation
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")

	switch rtyp {
	case ResultItem:
		r.OperationID = decodeString(hit, "operationId")
		r.PartyID = decodeString(hit, "partyId")
		r.Category = decodeString(hit, "category")
		r.Uploaded = decodeBool(hit, "uploaded")
		r.Title = firstNonBlank(decodeFormattedString(hit, "labelEs"), decodeString(hit, "labelEs"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "labelEn"), decodeString(hit, "labelEn"))
	case ResultOperation:
		r.OperationID = r.ID
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = decodeString(hit, "status")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeBool(hit meili.Hit, key string) bool {
	raw, ok := hit[key]
	if !ok {
		return false
	}
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexItems adds or updates checklist items in the search index.
func (m *Meili) IndexItems(items []ItemRecord) error {
	if len(items) == 0 {
		return nil
	}
	_, err := m.client.Index(idxItems).AddDocuments(items, nil)
	return err
}

// IndexOperation adds or updates an operation in the search index.
func (m *Meili) IndexOperation(op OperationRecord) error {
	_, err := m.client.Index(idxOperations).AddDocuments([]OperationRecord{op}, nil)
	return err
}

// IndexOperations bulk-indexes operations.
func (m *Meili) IndexOperations(ops []OperationRecord) error {
	if len(ops) == 0 {
		return nil
	}
	_, err := m.client.Index(idxOperations).AddDocuments(ops, nil)
	return err
}
