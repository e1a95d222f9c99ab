package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-crawler/internal/config"
)

// Extractor turns a PDF document into plain text.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath, cfg.Layout), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires ocr.mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
