package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultItem      ResultType = "item"
	ResultOperation ResultType = "operation"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	OperationID string     `json:"operationId"`
	PartyID     string     `json:"partyId,omitempty"`
	Category    string     `json:"category,omitempty"`
	Uploaded    bool       `json:"uploaded"`
}

// Query describes a search request.
type Query struct {
	Text              string
	FilterType        ResultType // empty = all types
	FilterOperationID string
	OnlyMissing       bool
	Limit             int
	Offset            int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexItems(items []ItemRecord) error
	IndexOperation(op OperationRecord) error
}

// ItemRecord is the data we index for a checklist item. Both label
// translations are searchable.
type ItemRecord struct {
	ID          string `json:"id"`
	OperationID string `json:"operationId"`
	PartyID     string `json:"partyId"`
	Category    string `json:"category"`
	LabelES     string `json:"labelEs"`
	LabelEN     string `json:"labelEn"`
	Required    bool   `json:"required"`
	Uploaded    bool   `json:"uploaded"`
}

// OperationRecord is the data we index for an operation.
type OperationRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}
