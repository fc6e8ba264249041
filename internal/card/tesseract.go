package card

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/rotisserie/eris"
)

// Tesseract extracts text with the tesseract CLI.
type Tesseract struct {
	binPath string
}

// NewTesseract creates a Tesseract extractor. If binPath is empty,
// "tesseract" is used.
func NewTesseract(binPath string) *Tesseract {
	if binPath == "" {
		binPath = "tesseract"
	}
	return &Tesseract{binPath: binPath}
}

// ExtractText pipes the image through tesseract and returns stdout. The
// image format is detected by tesseract itself.
func (t *Tesseract) ExtractText(ctx context.Context, image []byte, _ string) (string, error) {
	if len(image) == 0 {
		return "", eris.New("card: empty image")
	}
	cmd := exec.CommandContext(ctx, t.binPath, "stdin", "stdout", "-l", "eng")
	cmd.Stdin = bytes.NewReader(image)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "card: tesseract failed: %s", stderr.String())
	}
	return stdout.String(), nil
}
