package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/formfill-cli/internal/model"
)

func testIngestor() *Ingestor {
	return NewIngestor(25, []string{"pdf", "txt", "md", "png", "jpg"})
}

func writeTempFile(t *testing.T, name, content string) model.FileRef {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return model.FileRef{
		Name: name,
		Size: int64(len(content)),
		Path: path,
	}
}

func TestExtractText(t *testing.T) {
	ing := testIngestor()
	ref := writeTempFile(t, "form.txt", "Name: ___\nDate: ___\n")

	doc, err := ing.Extract(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "Name: ___\nDate: ___\n", doc.Text)
	assert.Equal(t, "txt", doc.Format)
	assert.Equal(t, 1, doc.Pages)
	assert.False(t, doc.Degraded)
}

func TestExtractMarkdown(t *testing.T) {
	ing := testIngestor()
	ref := writeTempFile(t, "form.md", "# Application\n\n- Name:\n- Email:\n")

	doc, err := ing.Extract(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "md", doc.Format)
	assert.Contains(t, doc.Text, "Application")
}

func TestExtractImageDegrades(t *testing.T) {
	ing := testIngestor()
	ref := writeTempFile(t, "scan.png", "not-really-a-png")

	doc, err := ing.Extract(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, doc.Degraded)
	assert.Equal(t, "image", doc.Format)
	assert.Contains(t, doc.Text, "scan.png")
}

func TestExtractRejectsOversizedFile(t *testing.T) {
	ing := NewIngestor(1, []string{"txt"})
	ref := writeTempFile(t, "big.txt", "x")
	ref.Size = 2 * 1024 * 1024

	_, err := ing.Extract(context.Background(), ref)
	require.Error(t, err)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestExtractRejectsUnsupportedFormat(t *testing.T) {
	ing := testIngestor()
	ref := writeTempFile(t, "form.docx", "whatever")

	_, err := ing.Extract(context.Background(), ref)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "unsupported format")
}

func TestExtractRejectsCorruptPDF(t *testing.T) {
	ing := testIngestor()
	ref := writeTempFile(t, "broken.pdf", "this is not a pdf")

	_, err := ing.Extract(context.Background(), ref)
	require.Error(t, err)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}
