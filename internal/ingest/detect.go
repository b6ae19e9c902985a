// Package ingest identifies uploaded files and gathers routing hints.
package ingest

import (
	"archive/zip"
	"bytes"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/model"
)

// extTypes maps file extensions to detected types.
var extTypes = map[string]model.FileType{
	".xlsx": model.FileTypeExcel,
	".xls":  model.FileTypeExcel,
	".csv":  model.FileTypeCSV,
	".pdf":  model.FileTypePDF,
	".png":  model.FileTypeImage,
	".jpg":  model.FileTypeImage,
	".jpeg": model.FileTypeImage,
	".gif":  model.FileTypeImage,
	".webp": model.FileTypeImage,
	".xmind": model.FileTypeMindmapXMind,
	".mm":    model.FileTypeMindmapFreeMind,
	".docx":  model.FileTypeDocx,
	".txt":   model.FileTypeText,
	".md":    model.FileTypeText,
	".pptx":  model.FileTypePptx,
}

// DetectType determines the file type from the extension, falling back to
// magic-byte sniffing when the extension is missing or unrecognized.
func DetectType(name string, data []byte) model.FileType {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extTypes[ext]; ok {
		return t
	}
	return sniffType(data)
}

func sniffType(data []byte) model.FileType {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return model.FileTypePDF
	case bytes.HasPrefix(data, []byte("\x89PNG")),
		bytes.HasPrefix(data, []byte("\xff\xd8\xff")),
		bytes.HasPrefix(data, []byte("GIF87a")),
		bytes.HasPrefix(data, []byte("GIF89a")):
		return model.FileTypeImage
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return model.FileTypeImage
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return sniffZipType(data)
	case bytes.HasPrefix(bytes.TrimSpace(data), []byte("<map")):
		return model.FileTypeMindmapFreeMind
	}
	return model.FileTypeUnknown
}

// sniffZipType distinguishes OOXML and XMind containers by their internal layout.
func sniffZipType(data []byte) model.FileType {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return model.FileTypeUnknown
	}
	for _, f := range r.File {
		switch {
		case strings.HasPrefix(f.Name, "xl/"):
			return model.FileTypeExcel
		case strings.HasPrefix(f.Name, "word/"):
			return model.FileTypeDocx
		case strings.HasPrefix(f.Name, "ppt/"):
			return model.FileTypePptx
		case f.Name == "content.json" || f.Name == "content.xml":
			return model.FileTypeMindmapXMind
		}
	}
	return model.FileTypeUnknown
}

// InspectPDF gathers routing hints from raw PDF bytes. Inspection is best
// effort: any failure returns nil and routing falls back to content-free
// heuristics.
func InspectPDF(data []byte) *model.PDFHints {
	count, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		zap.L().Debug("ingest: pdf page count failed", zap.Error(err))
		return nil
	}

	hints := &model.PDFHints{
		PageCount:         count,
		HasTextLayer:      bytes.Contains(data, []byte("/Font")),
		HasEmbeddedImages: bytes.Contains(data, []byte("/Image")) || bytes.Contains(data, []byte("/DCTDecode")),
	}
	// Table structures in generated PDFs almost always draw ruled lines.
	hints.HasTables = hints.HasTextLayer && bytes.Contains(data, []byte(" re\n"))
	hints.IsScanned = !hints.HasTextLayer && hints.HasEmbeddedImages
	return hints
}

// InspectSheet gathers hints from a spreadsheet. Returns nil for non-xlsx
// content or on parse failure.
func InspectSheet(fileType model.FileType, data []byte) *model.SheetHints {
	switch fileType {
	case model.FileTypeExcel:
		f, err := xlsx.OpenBinary(data)
		if err != nil {
			zap.L().Debug("ingest: xlsx open failed", zap.Error(err))
			return nil
		}
		hints := &model.SheetHints{SheetCount: len(f.Sheets)}
		if len(f.Sheets) > 0 && len(f.Sheets[0].Rows) > 0 {
			for _, cell := range f.Sheets[0].Rows[0].Cells {
				hints.SampleHeaders = append(hints.SampleHeaders, cell.String())
			}
		}
		return hints
	case model.FileTypeCSV:
		line := data
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			line = data[:idx]
		}
		hints := &model.SheetHints{SheetCount: 1}
		for _, h := range strings.Split(strings.TrimRight(string(line), "\r"), ",") {
			hints.SampleHeaders = append(hints.SampleHeaders, strings.TrimSpace(h))
		}
		return hints
	default:
		return nil
	}
}

// NewTask builds a FileTask for one uploaded file, detecting its type and
// collecting whatever hints apply.
func NewTask(jobID, name, locator string, data []byte) model.FileTask {
	fileType := DetectType(name, data)

	task := model.FileTask{
		FileID:  uuid.NewString(),
		JobID:   jobID,
		Name:    name,
		Type:    fileType,
		Locator: locator,
	}

	switch fileType {
	case model.FileTypePDF:
		task.PDF = InspectPDF(data)
	case model.FileTypeExcel, model.FileTypeCSV:
		task.Sheet = InspectSheet(fileType, data)
	}

	return task
}
