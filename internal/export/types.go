// Package export renders printable call-script sheets as HTML or PDF.
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
)

// ParseFormat accepts a format name; empty means HTML.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Sheet is a rendered script: every step with the wording the agent would read.
type Sheet struct {
	Title       string
	Agent       string
	GeneratedAt time.Time
	Steps       []SheetStep
}

// SheetStep is one step of a sheet.
type SheetStep struct {
	Step         string
	Text         string
	Origin       string // original, alternative or submission
	Alternatives int
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	ErrUnsupportedFormat    = errors.New("unsupported export format")
)
