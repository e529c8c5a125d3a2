// Package ocr provides the text sources for invoice documents: the native
// PDF text layer and OCR fallbacks.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-intake/internal/config"
)

// Extractor extracts text content from a document file.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// NewNative returns the configured text-layer provider.
func NewNative(cfg config.TextConfig) (Extractor, error) {
	switch cfg.NativeProvider {
	case "native", "":
		return NewNativePDF(), nil
	case "pdftotext":
		return NewPdfToText(cfg.PdfToTextPath), nil
	default:
		return nil, eris.Errorf("ocr: unknown native provider %q", cfg.NativeProvider)
	}
}

// NewOCR returns the configured OCR provider.
func NewOCR(cfg config.TextConfig) (Extractor, error) {
	switch cfg.OCRProvider {
	case "tesseract", "":
		return NewTesseract(cfg.Tesseract), nil
	case "mistral":
		if cfg.Mistral.Key == "" {
			return nil, eris.New("ocr: mistral provider requires text.mistral.key")
		}
		return NewMistralOCR(cfg.Mistral), nil
	default:
		return nil, eris.Errorf("ocr: unknown ocr provider %q", cfg.OCRProvider)
	}
}
