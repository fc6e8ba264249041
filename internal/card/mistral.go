package card

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

const (
	mistralOCREndpoint  = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "mistral-ocr-latest"
)

// MistralOCR extracts text from card images using the Mistral OCR API.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *resty.Client
}

// NewMistralOCR creates a MistralOCR extractor. If model is empty, the
// default is used.
func NewMistralOCR(apiKey, model string) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralOCREndpoint,
		client:   resty.New(),
	}
}

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

type mistralOCRResponse struct {
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// ExtractText sends the image to Mistral OCR as a data URL and joins the
// returned pages.
func (m *MistralOCR) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", eris.New("card: empty image")
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}

	var out mistralOCRResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetAuthToken(m.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(mistralOCRRequest{
			Model: m.model,
			Document: mistralOCRDocument{
				Type:     "image_url",
				ImageURL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image),
			},
		}).
		SetResult(&out).
		Post(m.endpoint)
	if err != nil {
		return "", eris.Wrap(err, "card: mistral API call")
	}
	if resp.StatusCode() != http.StatusOK {
		return "", eris.Errorf("card: mistral API returned %d: %s", resp.StatusCode(), resp.String())
	}

	var sb strings.Builder
	for i, page := range out.Pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(page.Markdown)
	}
	return sb.String(), nil
}
