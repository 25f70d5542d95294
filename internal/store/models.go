package store

import (
	"time"

	"closingdocs/api/internal/catalog"
)

type Operation struct {
	ID              string
	Name            string
	Type            string
	PIN             string
	Status          string
	BackgroundImage *string
	CreatedAt       time.Time
	Parties         []Party
}

const (
	StatusActive = "active"
	StatusClosed = "closed"
)

type Party struct {
	ID          string
	OperationID string
	Name        string
	Role        string // 'buyer' or 'seller'
	LegalType   string // 'individual' or 'legal-entity'
	Position    int
}

// Document is one checklist item. Exactly one of PartyID and Category is set.
type Document struct {
	ID          string
	OperationID string
	PartyID     *string
	Category    *string
	Label       catalog.Label
	Required    bool
	FilePath    *string
	UploadedBy  *string
	UploadedAt  *time.Time
	Position    int
}

func (d Document) Uploaded() bool {
	return d.FilePath != nil
}

// DocumentFilter narrows ListDocuments. Empty fields match everything.
type DocumentFilter struct {
	OperationID string
	PartyID     string
	Category    string
}

// FileReference links a stored object path to the checklist item that owns it.
type FileReference struct {
	DocumentID  string `json:"documentId"`
	OperationID string `json:"operationId"`
	Path        string `json:"path"`
}
