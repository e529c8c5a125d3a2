package ocr

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
)

// NativePDF reads the embedded text layer of a PDF in-process.
type NativePDF struct{}

// NewNativePDF creates a NativePDF extractor.
func NewNativePDF() *NativePDF {
	return &NativePDF{}
}

// ExtractText returns the plain text of every page, separated by form feeds.
// Plain-text inputs are returned as-is.
func (n *NativePDF) ExtractText(ctx context.Context, path string) (string, error) {
	if isPlainText(path) {
		return readPlainText(path)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: open pdf %s", path)
	}
	defer f.Close() //nolint:errcheck

	var sb strings.Builder
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := page.Font(name)
				fonts[name] = &font
			}
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return "", eris.Wrapf(err, "ocr: read page %d of %s", i, path)
		}
		if sb.Len() > 0 {
			sb.WriteString("\f")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

func isPlainText(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".txt")
}

func readPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: read %s", path)
	}
	return string(bytes.ToValidUTF8(data, []byte("�"))), nil
}
