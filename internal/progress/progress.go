// Package progress computes completion figures over checklist documents.
// Only required documents count toward a percentage.
package progress

import "closingdocs/api/internal/store"

type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Percent   int `json:"percent"`
}

// Compute counts required documents and those with a file attached. Percent
// rounds half up and is 0 for an empty set.
func Compute(docs []store.Document) Progress {
	var p Progress
	for _, doc := range docs {
		if !doc.Required {
			continue
		}
		p.Total++
		if doc.Uploaded() {
			p.Completed++
		}
	}
	p.Percent = percent(p.Completed, p.Total)
	return p
}

func percent(completed, total int) int {
	if total == 0 {
		return 0
	}
	return (200*completed + total) / (2 * total)
}

func ForOperation(docs []store.Document, operationID string) Progress {
	return Compute(filter(docs, func(d store.Document) bool {
		return d.OperationID == operationID
	}))
}

func ForParty(docs []store.Document, operationID, partyID string) Progress {
	return Compute(filter(docs, func(d store.Document) bool {
		return d.OperationID == operationID && d.PartyID != nil && *d.PartyID == partyID
	}))
}

func ForCategory(docs []store.Document, operationID, category string) Progress {
	return Compute(filter(docs, func(d store.Document) bool {
		return d.OperationID == operationID && d.PartyID == nil && d.Category != nil && *d.Category == category
	}))
}

// ByOperation groups docs by operation and computes each group.
func ByOperation(docs []store.Document) map[string]Progress {
	groups := make(map[string][]store.Document)
	for _, doc := range docs {
		groups[doc.OperationID] = append(groups[doc.OperationID], doc)
	}
	out := make(map[string]Progress, len(groups))
	for id, group := range groups {
		out[id] = Compute(group)
	}
	return out
}

// Summary adds display counters over every item, optional ones included.
// Items and Uploaded never feed Percent.
type Summary struct {
	Progress
	Items    int `json:"items"`
	Uploaded int `json:"uploaded"`
}

func Summarize(docs []store.Document) Summary {
	s := Summary{Progress: Compute(docs), Items: len(docs)}
	for _, doc := range docs {
		if doc.Uploaded() {
			s.Uploaded++
		}
	}
	return s
}

func filter(docs []store.Document, keep func(store.Document) bool) []store.Document {
	out := make([]store.Document, 0, len(docs))
	for _, doc := range docs {
		if keep(doc) {
			out = append(out, doc)
		}
	}
	return out
}
