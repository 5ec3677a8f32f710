package export

import (
	"context"
	"fmt"
)

// PDFRenderer prints a sheet's rendered HTML to PDF bytes.
type PDFRenderer func(ctx context.Context, sheet Sheet, html string) ([]byte, error)

// Service produces sheet exports in the requested format.
type Service struct {
	pdf PDFRenderer
}

// NewService creates an export service backed by headless Chrome for PDFs.
func NewService() *Service {
	return &Service{pdf: PrintSheet}
}

// WithPDFRenderer returns a copy of s that renders PDFs with fn.
func (s *Service) WithPDFRenderer(fn PDFRenderer) *Service {
	return &Service{pdf: fn}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, sheet Sheet, format Format) (*Result, error) {
	html, err := RenderHTML(sheet)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(sheet.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		data, err := s.pdf(ctx, sheet, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(sheet.Title) + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
