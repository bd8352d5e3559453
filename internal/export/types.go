// Package export renders the minutes of one meeting scope as HTML, PDF or
// DOCX.
package export

import (
	"errors"
	"fmt"
	"time"

	"agendas/api/internal/board"
	"agendas/api/internal/catalogue"
	"agendas/api/internal/scope"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case FormatHTML, FormatPDF, FormatDOCX:
		return Format(value), nil
	case "":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

// Minutes is everything shown for one scope.
type Minutes struct {
	Catalogue   *catalogue.Catalogue
	Scope       scope.Key
	Matrix      board.Matrix
	Metadata    board.Metadata
	Editor      string
	GeneratedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
