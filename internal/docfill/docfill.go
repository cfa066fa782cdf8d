// Package docfill renders completed form artifacts from field mappings.
// Every run produces JSON and text artifacts; PDF templates with an AcroForm
// additionally get their fields filled in place.
package docfill

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scribeworks/formfill-cli/internal/model"
)

// Artifact is one rendered output file.
type Artifact struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Path   string `json:"path"`
}

// Filler renders artifacts into an output directory.
type Filler struct {
	outDir string
}

// NewFiller creates a Filler writing under outDir.
func NewFiller(outDir string) *Filler {
	return &Filler{outDir: outDir}
}

// Render writes artifacts for the given record's mappings and returns them.
// JSON and text always succeed; a PDF fill failure is logged and skipped so
// a template without an AcroForm does not fail the run.
func (f *Filler) Render(recordID string, form model.FileRef, mappings []model.FieldMapping) ([]Artifact, error) {
	dir := filepath.Join(f.outDir, recordID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, eris.Wrap(err, "docfill: create output dir")
	}

	base := strings.TrimSuffix(form.Name, filepath.Ext(form.Name))
	var artifacts []Artifact

	jsonArt, err := f.renderJSON(dir, base, mappings)
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, *jsonArt)

	textArt, err := f.renderText(dir, base, mappings)
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, *textArt)

	if strings.EqualFold(filepath.Ext(form.Name), ".pdf") {
		pdfArt, err := f.renderPDF(dir, base, form, mappings)
		if err != nil {
			zap.L().Warn("pdf form fill skipped",
				zap.String("record_id", recordID),
				zap.String("file", form.Name),
				zap.Error(err))
		} else {
			artifacts = append(artifacts, *pdfArt)
		}
	}

	return artifacts, nil
}

func (f *Filler) renderJSON(dir, base string, mappings []model.FieldMapping) (*Artifact, error) {
	values := make(map[string]string, len(mappings))
	for _, m := range mappings {
		values[m.Field] = m.Value
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "docfill: marshal values")
	}

	name := base + "_filled.json"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, eris.Wrap(err, "docfill: write json artifact")
	}
	return &Artifact{Name: name, Format: "json", Path: path}, nil
}

func (f *Filler) renderText(dir, base string, mappings []model.FieldMapping) (*Artifact, error) {
	sorted := make([]model.FieldMapping, len(mappings))
	copy(sorted, mappings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Field < sorted[j].Field })

	var sb strings.Builder
	for _, m := range sorted {
		fmt.Fprintf(&sb, "%s: %s\n", m.Field, m.Value)
	}

	name := base + "_filled.txt"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return nil, eris.Wrap(err, "docfill: write text artifact")
	}
	return &Artifact{Name: name, Format: "txt", Path: path}, nil
}

// pdfcpu form-fill JSON schema, text fields only. Checkbox and radio
// values pass through as text; pdfcpu coerces where the field allows.
type pdfForm struct {
	Forms []pdfFormFields `json:"forms"`
}

type pdfFormFields struct {
	TextFields []pdfTextField `json:"textfield"`
}

type pdfTextField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (f *Filler) renderPDF(dir, base string, form model.FileRef, mappings []model.FieldMapping) (*Artifact, error) {
	fields := make([]pdfTextField, 0, len(mappings))
	for _, m := range mappings {
		fields = append(fields, pdfTextField{Name: m.Field, Value: m.Value})
	}
	fill := pdfForm{Forms: []pdfFormFields{{TextFields: fields}}}

	fillJSON, err := json.Marshal(fill)
	if err != nil {
		return nil, eris.Wrap(err, "docfill: marshal fill data")
	}
	jsonPath := filepath.Join(dir, base+"_fill_data.json")
	if err := os.WriteFile(jsonPath, fillJSON, 0644); err != nil {
		return nil, eris.Wrap(err, "docfill: write fill data")
	}
	defer os.Remove(jsonPath)

	name := base + "_filled.pdf"
	outPath := filepath.Join(dir, name)

	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	if err := api.FillFormFile(form.Path, jsonPath, outPath, conf); err != nil {
		return nil, eris.Wrap(err, "docfill: fill pdf form")
	}
	return &Artifact{Name: name, Format: "pdf", Path: outPath}, nil
}
