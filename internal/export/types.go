// Package export renders an operation's checklist as a PDF or DOCX report.
package export

import (
	"errors"
	"time"

	"closingdocs/api/internal/catalog"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case FormatPDF, FormatDOCX:
		return Format(value), nil
	case "":
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	OperationID string
	Format      Format
	Lang        catalog.Lang
	// OnlyMissing leaves uploaded items out of the report.
	OnlyMissing bool
}

// Report is the rendered view of one operation's checklist.
type Report struct {
	Title         string
	OperationType string
	Status        string
	Lang          catalog.Lang
	GeneratedAt   time.Time
	Percent       int
	Completed     int
	Total         int
	Sections      []Section
}

// Section is a party or a general category.
type Section struct {
	Title     string
	Subtitle  string
	Percent   int
	Completed int
	Total     int
	Items     []Item
}

type Item struct {
	Label      string
	Required   bool
	Uploaded   bool
	UploadedBy string
	UploadedAt *time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat is returned for formats other than pdf and docx.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
