package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BoweryJG/clearverify-patient/internal/card"
	"github.com/BoweryJG/clearverify-patient/internal/catalog"
	"github.com/BoweryJG/clearverify-patient/internal/model"
	"github.com/BoweryJG/clearverify-patient/internal/verification"
)

// maxCardBytes bounds uploaded card images.
const maxCardBytes = 10 << 20

// verifier is the verification surface the API exposes.
type verifier interface {
	Verify(ctx context.Context, ins model.InsuranceInfo, creds model.PatientCredentials, procedureCode string) *model.VerificationResponse
	ConfirmPending(ctx context.Context, verificationID string, creds model.PatientCredentials) (*model.VerificationResponse, error)
	SupportedInsurers(ctx context.Context) ([]model.SupportedInsurer, error)
	PortalStatus(ctx context.Context, insurerName string) (model.PortalStatus, error)
	Procedures() []model.Procedure
	Stats(ctx context.Context, since time.Time) (*model.Stats, error)
}

// cardScanner reads uploaded insurance cards.
type cardScanner struct {
	extractor card.Extractor
	catalog   *catalog.Catalog
}

func (s *cardScanner) Scan(ctx context.Context, image []byte, mimeType string) (*card.Result, error) {
	text, err := s.extractor.ExtractText(ctx, image, mimeType)
	if err != nil {
		return nil, err
	}
	res := card.ParseCard(text, s.catalog)
	return &res, nil
}

type consentRequest struct {
	Credentials model.PatientCredentials `json:"credentials"`
}

var requestValidator = validator.New()

type api struct {
	svc     verifier
	scanner *cardScanner
}

// buildRouter wires the HTTP API. scanner may be nil, in which case card
// scanning answers 503.
func buildRouter(svc verifier, scanner *cardScanner, gatherer prometheus.Gatherer, origins []string) http.Handler {
	a := &api{svc: svc, scanner: scanner}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/verification/instant", a.instant)
		r.Post("/verification/{id}/consent", a.consent)
		r.Get("/supported-insurers", a.supportedInsurers)
		r.Get("/verification-stats", a.stats)
		r.Get("/portals/{insurer}/status", a.portalStatus)
		r.Get("/procedures", a.procedures)
		r.Post("/card/scan", a.scanCard)
	})
	return r
}

func (a *api) instant(w http.ResponseWriter, r *http.Request) {
	var req verification.Request
	if !decodeValid(w, r, &req) {
		return
	}
	resp := a.svc.Verify(r.Context(), req.Insurance, req.Credentials, req.Procedure)
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) consent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if !decodeValid(w, r, &req) {
		return
	}
	resp, err := a.svc.ConfirmPending(r.Context(), chi.URLParam(r, "id"), req.Credentials)
	if errors.Is(err, verification.ErrUnknownVerification) {
		writeError(w, http.StatusNotFound, "verification not found or expired")
		return
	}
	if err != nil {
		zap.L().Error("api: confirm consent", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) supportedInsurers(w http.ResponseWriter, r *http.Request) {
	insurers, err := a.svc.SupportedInsurers(r.Context())
	if err != nil {
		zap.L().Error("api: supported insurers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if insurers == nil {
		insurers = []model.SupportedInsurer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"insurers": insurers})
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		since = t
	}
	stats, err := a.svc.Stats(r.Context(), since)
	if err != nil {
		zap.L().Error("api: stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) portalStatus(w http.ResponseWriter, r *http.Request) {
	insurer, err := url.PathUnescape(chi.URLParam(r, "insurer"))
	if err != nil || insurer == "" {
		writeError(w, http.StatusBadRequest, "invalid insurer")
		return
	}
	status, err := a.svc.PortalStatus(r.Context(), insurer)
	if err != nil {
		zap.L().Error("api: portal status", zap.String("insurer", insurer), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *api) procedures(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"procedures": a.svc.Procedures()})
}

func (a *api) scanCard(w http.ResponseWriter, r *http.Request) {
	if a.scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "card scanning is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxCardBytes)
	if err := r.ParseMultipartForm(maxCardBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart form with an image field")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	defer file.Close() //nolint:errcheck

	image, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable image")
		return
	}

	res, err := a.scanner.Scan(r.Context(), image, header.Header.Get("Content-Type"))
	if err != nil {
		zap.L().Warn("api: card scan failed", zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, "could not read card")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeValid decodes a JSON body into dst and validates it, answering 400
// on failure.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := requestValidator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, verrs[0].Namespace()+" failed "+verrs[0].Tag())
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
