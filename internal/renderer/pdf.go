package renderer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
)

// PDFSource renders pages of PDF documents on local disk. A rendered page
// artifact is a standalone single-page PDF extracted from the source file;
// low quality additionally runs the optimizer to shrink the payload.
type PDFSource struct {
	workDir string
	conf    *model.Configuration
}

// NewPDFSource creates a source using workDir for temporary extraction files.
func NewPDFSource(workDir string) *PDFSource {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	return &PDFSource{
		workDir: workDir,
		conf:    conf,
	}
}

// PageCount returns the number of pages of the document's source file.
func (s *PDFSource) PageCount(ctx context.Context, doc *reading.Document) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n, err := api.PageCountFile(doc.SourcePath)
	if err != nil {
		return 0, s.wrap(doc.ID, 0, err)
	}
	if n < 1 {
		return 0, reading.NewRenderError(reading.RenderCorrupt, doc.ID, 0, fmt.Errorf("document has no pages"))
	}
	return n, nil
}

// RenderPage extracts a single page into a standalone PDF artifact.
func (s *PDFSource) RenderPage(ctx context.Context, doc *reading.Document, page int, quality reading.RenderQuality) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if !doc.ContainsPage(page) {
		return Artifact{}, reading.NewRenderError(reading.RenderOutOfRange, doc.ID, page, nil)
	}

	out := filepath.Join(s.workDir, fmt.Sprintf("%s_p%d_%s.pdf", doc.ID, page, quality))
	defer os.Remove(out)

	pages := []string{strconv.Itoa(page)}
	if err := api.TrimFile(doc.SourcePath, out, pages, s.conf); err != nil {
		return Artifact{}, s.wrap(doc.ID, page, err)
	}

	if quality == reading.QualityLow {
		// Smaller payload for constrained clients; in-place rewrite.
		if err := api.OptimizeFile(out, out, s.conf); err != nil {
			return Artifact{}, s.wrap(doc.ID, page, err)
		}
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return Artifact{}, s.wrap(doc.ID, page, err)
	}

	return Artifact{
		DocumentID: doc.ID,
		Page:       page,
		Quality:    quality,
		Format:     "pdf",
		Data:       data,
	}, nil
}

// wrap classifies a pdfcpu failure into a render error kind.
func (s *PDFSource) wrap(docID reading.DocumentID, page int, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "encrypt") || strings.Contains(msg, "password"):
		return reading.NewRenderError(reading.RenderUnsupported, docID, page, err)
	case strings.Contains(msg, "no such file"):
		return reading.NewRenderError(reading.RenderUnsupported, docID, page, err)
	default:
		return reading.NewRenderError(reading.RenderCorrupt, docID, page, err)
	}
}
