// Package ingest turns uploaded form files into text the pipeline can work
// with. PDFs get validated and their text extracted page by page; plain-text
// formats pass through; images produce a degraded placeholder document.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	fmodel "github.com/scribeworks/formfill-cli/internal/model"
)

// Document is the text view of an ingested form file.
type Document struct {
	Text   string `json:"text"`
	Pages  int    `json:"pages"`
	Format string `json:"format"`

	// Degraded is set when no text could be extracted (scanned PDFs,
	// images). The pipeline still runs, with reduced confidence.
	Degraded bool `json:"degraded,omitempty"`
}

// ValidationError reports a file rejected before any extraction was tried.
type ValidationError struct {
	File   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ingest: %s: %s", e.File, e.Reason)
}

// Ingestor validates and extracts text from uploaded files.
type Ingestor struct {
	maxBytes int64
	accepted map[string]bool
}

// NewIngestor creates an Ingestor. maxFileSizeMB bounds file size; accepted
// lists permitted extensions without the dot.
func NewIngestor(maxFileSizeMB int, accepted []string) *Ingestor {
	m := make(map[string]bool, len(accepted))
	for _, ext := range accepted {
		m[strings.ToLower(ext)] = true
	}
	return &Ingestor{
		maxBytes: int64(maxFileSizeMB) * 1024 * 1024,
		accepted: m,
	}
}

// Extract validates ref and returns its text content. Image formats and
// PDFs with no extractable text come back Degraded rather than failing,
// so a scanned form still flows through the pipeline.
func (ing *Ingestor) Extract(ctx context.Context, ref fmodel.FileRef) (*Document, error) {
	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(ref.Name), "."))
	if err := ing.validate(ref, format); err != nil {
		return nil, err
	}

	switch format {
	case "pdf":
		return ing.extractPDF(ctx, ref)
	case "txt", "md":
		data, err := os.ReadFile(ref.Path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read %s", ref.Name)
		}
		return &Document{Text: string(data), Pages: 1, Format: format}, nil
	case "png", "jpg", "jpeg":
		// No OCR support; the analyzer works from the file name alone.
		zap.L().Warn("image upload, no text extraction",
			zap.String("file", ref.Name))
		return &Document{
			Text:     fmt.Sprintf("[image document: %s]", ref.Name),
			Pages:    1,
			Format:   "image",
			Degraded: true,
		}, nil
	default:
		return nil, &ValidationError{File: ref.Name, Reason: "unsupported format " + format}
	}
}

func (ing *Ingestor) validate(ref fmodel.FileRef, format string) error {
	if ing.maxBytes > 0 && ref.Size > ing.maxBytes {
		return &ValidationError{
			File:   ref.Name,
			Reason: fmt.Sprintf("file size %d exceeds limit %d", ref.Size, ing.maxBytes),
		}
	}
	if len(ing.accepted) > 0 {
		ext := format
		if ext == "jpeg" {
			ext = "jpg"
		}
		if !ing.accepted[ext] {
			return &ValidationError{File: ref.Name, Reason: "unsupported format " + format}
		}
	}
	return nil
}

func (ing *Ingestor) extractPDF(ctx context.Context, ref fmodel.FileRef) (*Document, error) {
	// Relaxed validation accepts the slightly malformed PDFs that form
	// generators tend to produce.
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(ref.Path, conf); err != nil {
		return nil, &ValidationError{File: ref.Name, Reason: "invalid PDF: " + err.Error()}
	}

	f, reader, err := pdf.Open(ref.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open pdf %s", ref.Name)
	}
	defer f.Close()

	pages := reader.NumPage()
	var sb strings.Builder
	extracted := 0
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "ingest: extract pdf")
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			zap.L().Warn("page text extraction failed",
				zap.String("file", ref.Name),
				zap.Int("page", i),
				zap.Error(err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if extracted > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[page %d]\n%s", i, text)
		extracted++
	}

	if extracted == 0 {
		// Likely a scanned document. Degrade instead of failing.
		return &Document{
			Text:     fmt.Sprintf("[scanned document: %s, %d pages]", ref.Name, pages),
			Pages:    pages,
			Format:   "pdf",
			Degraded: true,
		}, nil
	}

	return &Document{Text: sb.String(), Pages: pages, Format: "pdf"}, nil
}
