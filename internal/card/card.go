// Package card reads insurance cards: an OCR provider turns the card image
// into text and ParseCard pulls the insurer, member ID and patient name out
// of it.
package card

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/BoweryJG/clearverify-patient/internal/config"
)

// Extractor returns the text printed on a card image.
type Extractor interface {
	ExtractText(ctx context.Context, image []byte, mimeType string) (string, error)
}

// NewExtractor creates an Extractor for the configured provider.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewTesseract(cfg.TesseractPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("card: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("card: unknown provider %q", cfg.Provider)
	}
}
