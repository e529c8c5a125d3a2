package ocr

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/config"
)

// Tesseract rasterizes a PDF with pdftoppm and runs tesseract on each page.
type Tesseract struct {
	pdftoppm  string
	tesseract string
	lang      string
	dpi       int
	runner    Runner
}

// NewTesseract creates a Tesseract extractor, filling in defaults.
func NewTesseract(cfg config.OCRConfig) *Tesseract {
	t := &Tesseract{
		pdftoppm:  cfg.PdfToPPMPath,
		tesseract: cfg.TesseractPath,
		lang:      cfg.Lang,
		dpi:       cfg.DPI,
		runner:    execRunner{},
	}
	if t.pdftoppm == "" {
		t.pdftoppm = "pdftoppm"
	}
	if t.tesseract == "" {
		t.tesseract = "tesseract"
	}
	if t.lang == "" {
		t.lang = "eng"
	}
	if t.dpi <= 0 {
		t.dpi = 300
	}
	return t
}

// ExtractText OCRs every page and joins the results with form feeds. Pages
// that fail OCR are logged and skipped; it is an error only if none succeed.
func (t *Tesseract) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "intake-ocr-*")
	if err != nil {
		return "", eris.Wrap(err, "ocr: create temp dir")
	}
	defer os.RemoveAll(tmpDir) //nolint:errcheck

	prefix := filepath.Join(tmpDir, "page")
	_, stderr, err := t.runner.Run(ctx, t.pdftoppm, "-r", strconv.Itoa(t.dpi), "-png", pdfPath, prefix)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: pdftoppm failed for %s: %s", pdfPath, strings.TrimSpace(string(stderr)))
	}

	pages, _ := filepath.Glob(prefix + "-*.png")
	if len(pages) == 0 {
		return "", eris.Errorf("ocr: pdftoppm rendered no pages for %s", pdfPath)
	}
	sort.Strings(pages)

	var sb strings.Builder
	var ok int
	for _, img := range pages {
		out, stderr, err := t.runner.Run(ctx, t.tesseract, img, "stdout", "-l", t.lang, "--psm", "6")
		if err != nil {
			zap.L().Warn("tesseract page failed",
				zap.String("page", filepath.Base(img)),
				zap.String("stderr", strings.TrimSpace(string(stderr))),
				zap.Error(err),
			)
			continue
		}
		if ok > 0 {
			sb.WriteString("\f")
		}
		sb.WriteString(string(out))
		ok++
	}
	if ok == 0 {
		return "", eris.Errorf("ocr: tesseract failed on every page of %s", pdfPath)
	}
	return sb.String(), nil
}
