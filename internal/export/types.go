// Package export renders applied field values as standalone HTML, PDF, or DOCX files.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts a format name; an empty name means HTML.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	FieldID string
	Version string // "" or "latest" for the current value, otherwise a commit hash
	Format  Format
	// Upload stores the result in the artifact store. It fails with
	// ErrUploadUnavailable when no store is configured.
	Upload bool
}

// Content is the field value an export is rendered from.
type Content struct {
	Label     string
	Markup    string
	UpdatedBy string
	UpdatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	// ObjectKey and URL are set when the result was uploaded.
	ObjectKey string
	URL       string
}

var (
	// ErrContentUnavailable indicates field content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrUnsupportedFormat indicates the requested format is not known.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	// ErrUploadUnavailable indicates an upload was requested without an artifact store.
	ErrUploadUnavailable = errors.New("export upload not configured")
)
