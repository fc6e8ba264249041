package card

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BoweryJG/clearverify-patient/internal/config"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestNewExtractor_Local(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: "local", TesseractPath: "/usr/bin/tesseract"})
	require.NoError(t, err)
	assert.IsType(t, &Tesseract{}, ext)
}

func TestNewExtractor_LocalDefault(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{})
	require.NoError(t, err)
	assert.IsType(t, &Tesseract{}, ext)
}

func TestNewExtractor_MistralMissingKey(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Provider: "mistral"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral provider requires mistral_api_key")
}

func TestNewExtractor_MistralWithKey(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: "mistral", MistralKey: "test-key"})
	require.NoError(t, err)
	assert.IsType(t, &MistralOCR{}, ext)
}

func TestNewExtractor_UnknownProvider(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Provider: "unknown"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "unknown"`)
}

func TestTesseract_BinPath(t *testing.T) {
	assert.Equal(t, "tesseract", NewTesseract("").binPath)
	assert.Equal(t, "/custom/tesseract", NewTesseract("/custom/tesseract").binPath)
}

func TestTesseract_ExtractText(t *testing.T) {
	// The fake binary echoes its input/output arguments and the image it read.
	fakeBin := filepath.Join(t.TempDir(), "tesseract")
	script := "#!/bin/sh\necho \"$1 $2\"\ncat\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0o755))

	text, err := NewTesseract(fakeBin).ExtractText(context.Background(), []byte("DELTA DENTAL"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "stdin stdout\nDELTA DENTAL", text)
}

func TestTesseract_BinaryNotFound(t *testing.T) {
	_, err := NewTesseract("/nonexistent/tesseract").ExtractText(context.Background(), pngHeader, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tesseract failed")
}

func TestTesseract_EmptyImage(t *testing.T) {
	_, err := NewTesseract("").ExtractText(context.Background(), nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty image")
}

func TestMistralOCR_DefaultModel(t *testing.T) {
	m := NewMistralOCR("key", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)
	assert.Equal(t, "custom-model", NewMistralOCR("key", "custom-model").model)
}

func newTestMistral(endpoint string) *MistralOCR {
	return &MistralOCR{
		apiKey:   "test-key",
		model:    "test-model",
		endpoint: endpoint,
		client:   resty.New(),
	}
}

func TestMistralOCR_ExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "image_url", req.Document.Type)
		assert.Contains(t, req.Document.ImageURL, "data:image/jpeg;base64,")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mistralOCRResponse{ //nolint:errcheck
			Pages: []mistralOCRPage{
				{Index: 0, Markdown: "Delta Dental"},
				{Index: 1, Markdown: "Member ID: DD1234567"},
			},
		})
	}))
	defer srv.Close()

	text, err := newTestMistral(srv.URL).ExtractText(context.Background(), []byte("jpeg bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "Delta Dental\n\nMember ID: DD1234567", text)
}

func TestMistralOCR_DetectsMimeType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Document.ImageURL, "data:image/png;base64,")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pages":[]}`))
	}))
	defer srv.Close()

	text, err := newTestMistral(srv.URL).ExtractText(context.Background(), pngHeader, "")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestMistralOCR_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	_, err := newTestMistral(srv.URL).ExtractText(context.Background(), pngHeader, "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral API returned 401")
}

func TestMistralOCR_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{invalid json`))
	}))
	defer srv.Close()

	_, err := newTestMistral(srv.URL).ExtractText(context.Background(), pngHeader, "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral API call")
}

func TestMistralOCR_EmptyImage(t *testing.T) {
	_, err := NewMistralOCR("key", "").ExtractText(context.Background(), nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty image")
}
