// Package verification is the entry point for insurance eligibility checks.
// It decides between running a learned portal configuration and learning a
// new one, runs the consent round trip for new portals, normalizes what the
// portal showed and keeps the verification history.
package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BoweryJG/clearverify-patient/internal/automator"
	"github.com/BoweryJG/clearverify-patient/internal/catalog"
	"github.com/BoweryJG/clearverify-patient/internal/consent"
	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/learner"
	"github.com/BoweryJG/clearverify-patient/internal/model"
	"github.com/BoweryJG/clearverify-patient/internal/monitoring"
	"github.com/BoweryJG/clearverify-patient/internal/store"
)

// PortalLearner is the learner surface the service drives.
type PortalLearner interface {
	Status(ctx context.Context, insurerName string) (model.PortalStatus, error)
	Config(ctx context.Context, insurerName string) (*model.PortalConfig, error)
	Discover(ctx context.Context, insurerName string, patient model.InsuranceInfo) (*model.Discovery, error)
	Test(ctx context.Context, d *model.Discovery, creds model.PatientCredentials, token string) (*model.PortalConfig, *automator.Result, error)
	Feedback(ctx context.Context, insurerName string, success bool, details learner.FeedbackDetails) error
	Supported(ctx context.Context) ([]model.SupportedInsurer, error)
}

// Runner executes a learned configuration.
type Runner interface {
	Execute(ctx context.Context, cfg *model.PortalConfig, creds model.PatientCredentials, token string) (*automator.Result, error)
}

// ConsentIssuer grants consent tokens.
type ConsentIssuer interface {
	Issue(patientID string) (string, *consent.Token, error)
}

// ErrUnknownVerification is returned when a consent continuation names a
// verification with no pending discovery.
var ErrUnknownVerification = eris.New("verification: no pending discovery for this verification")

// Options tunes the service.
type Options struct {
	// PendingTTL is how long a discovery waits for consent.
	PendingTTL time.Duration
	// PendingSize caps the number of discoveries awaiting consent.
	PendingSize int
}

// pending is a discovery awaiting the patient's consent.
type pending struct {
	discovery *model.Discovery
	insurance model.InsuranceInfo
	procedure string
}

// Service orchestrates verifications.
type Service struct {
	learner PortalLearner
	runner  Runner
	issuer  ConsentIssuer
	history store.HistoryStore
	catalog *catalog.Catalog
	metrics *monitoring.Metrics
	pending *expirable.LRU[string, pending]
	now     func() time.Time
	newID   func() string
}

// New creates a Service. cat defaults to the built-in catalog and metrics
// may be nil.
func New(l PortalLearner, r Runner, issuer ConsentIssuer, history store.HistoryStore, cat *catalog.Catalog, opts Options, metrics *monitoring.Metrics) *Service {
	if cat == nil {
		cat = catalog.Default()
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 30 * time.Minute
	}
	if opts.PendingSize <= 0 {
		opts.PendingSize = 1024
	}
	return &Service{
		learner: l,
		runner:  r,
		issuer:  issuer,
		history: history,
		catalog: cat,
		metrics: metrics,
		pending: expirable.NewLRU[string, pending](opts.PendingSize, nil, opts.PendingTTL),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return "verify_" + uuid.NewString() },
	}
}

// call tracks one request through the service.
type call struct {
	id        string
	insurer   string
	procedure string
	start     time.Time
}

// Verify checks a patient's eligibility. A known insurer's portal is run
// straight away with a fresh consent token. An unknown insurer is analyzed
// and the response asks for the patient's consent to test the proposed
// configuration; the discovery is kept under the verification ID for
// ConfirmPending. The response is always structured, whatever fails.
func (s *Service) Verify(ctx context.Context, ins model.InsuranceInfo, creds model.PatientCredentials, procedureCode string) (resp *model.VerificationResponse) {
	c := &call{id: s.newID(), insurer: ins.InsuranceName, procedure: procedureCode, start: time.Now()}
	defer s.recoverInto(c, &resp)

	log := zap.L().With(zap.String("verification_id", c.id), zap.String("insurer", model.InsurerKey(ins.InsuranceName)))

	status, err := s.learner.Status(ctx, ins.InsuranceName)
	if err != nil {
		return s.systemFailure(ctx, c, err)
	}

	if status.State == model.PortalUnknown {
		log.Info("verification: unknown insurer, discovering portal")
		return s.discover(ctx, c, ins)
	}

	log.Info("verification: known insurer", zap.Float64("confidence", status.Confidence))
	cfg, err := s.learner.Config(ctx, ins.InsuranceName)
	if err != nil {
		return s.systemFailure(ctx, c, err)
	}
	if cfg == nil {
		return s.discover(ctx, c, ins)
	}

	token, _, err := s.issuer.Issue(ins.PatientID())
	if err != nil {
		return s.systemFailure(ctx, c, err)
	}
	return s.execute(ctx, c, cfg, creds, token, false)
}

func (s *Service) discover(ctx context.Context, c *call, ins model.InsuranceInfo) *model.VerificationResponse {
	d, err := s.learner.Discover(ctx, ins.InsuranceName, ins)
	if err != nil {
		kind := failure.KindOf(err)
		if kind == failure.KindSystem {
			return s.systemFailure(ctx, c, err)
		}
		s.record(ctx, c, false, kind, 0, nil)
		resp := s.failed(c, err, kind, 0)
		resp.RequiresManualSetup = kind == failure.KindPortalAnalysis
		return resp
	}

	s.pending.Add(c.id, pending{discovery: d, insurance: ins, procedure: c.procedure})

	return s.respond(c, &model.VerificationResponse{
		RequiresPatientConsent: true,
		ConsentMessage:         ConsentMessage(ins.InsuranceName),
		Discovery:              d,
	})
}

// ConsentMessage asks the patient to allow a test of a newly found portal.
func ConsentMessage(insurerName string) string {
	return fmt.Sprintf("We found %s's portal, but need your permission to test our automation. This will help us support future patients instantly.", insurerName)
}

// ConfirmConsent continues a discovery once the patient has consented. The
// proposed configuration is tested with the patient's credentials; when the
// test passes the configuration is stored and run to produce the
// verification.
func (s *Service) ConfirmConsent(ctx context.Context, d *model.Discovery, creds model.PatientCredentials) *model.VerificationResponse {
	patient := model.InsuranceInfo{InsuranceName: d.InsurerName, MemberID: creds.MemberID}
	return s.confirm(ctx, s.newID(), d, patient, creds, "")
}

// ConfirmPending continues the discovery returned by an earlier Verify
// call. The discovery is consumed whatever the outcome, and only the caller
// whose Remove takes the entry goes on to run it.
func (s *Service) ConfirmPending(ctx context.Context, verificationID string, creds model.PatientCredentials) (*model.VerificationResponse, error) {
	p, ok := s.pending.Peek(verificationID)
	if !ok || !s.pending.Remove(verificationID) {
		return nil, ErrUnknownVerification
	}

	if creds.MemberID == "" {
		creds.MemberID = p.insurance.MemberID
	}
	return s.confirm(ctx, verificationID, p.discovery, p.insurance, creds, p.procedure), nil
}

// Pending returns the discovery awaiting consent under a verification ID.
func (s *Service) Pending(verificationID string) (*model.Discovery, bool) {
	p, ok := s.pending.Peek(verificationID)
	if !ok {
		return nil, false
	}
	return p.discovery, true
}

func (s *Service) confirm(ctx context.Context, id string, d *model.Discovery, ins model.InsuranceInfo, creds model.PatientCredentials, procedure string) (resp *model.VerificationResponse) {
	c := &call{id: id, insurer: d.InsurerName, procedure: procedure, start: time.Now()}
	defer s.recoverInto(c, &resp)

	log := zap.L().With(zap.String("verification_id", c.id), zap.String("insurer", d.InsurerKey))
	log.Info("verification: testing new portal with patient consent", zap.String("portal_url", d.PortalURL))

	token, _, err := s.issuer.Issue(ins.PatientID())
	if err != nil {
		return s.systemFailure(ctx, c, err)
	}

	cfg, _, err := s.learner.Test(ctx, d, creds, token)
	if err != nil {
		kind := failure.KindOf(err)
		if kind == failure.KindSystem {
			return s.systemFailure(ctx, c, err)
		}
		log.Warn("verification: portal test failed", zap.String("kind", string(kind)), zap.Error(err))
		s.record(ctx, c, false, kind, 0, nil)
		resp := s.failed(c, err, kind, failure.StepOf(err))
		resp.LearningFailed = true
		resp.RetryAvailable = !kind.Terminal()
		return resp
	}

	log.Info("verification: new portal learned")
	return s.execute(ctx, c, cfg, creds, token, true)
}

// execute runs a stored configuration and folds the outcome into the
// learner and the history.
func (s *Service) execute(ctx context.Context, c *call, cfg *model.PortalConfig, creds model.PatientCredentials, token string, learned bool) *model.VerificationResponse {
	res, err := s.runner.Execute(ctx, cfg, creds, token)
	if err != nil {
		kind := failure.KindOf(err)
		step := failure.StepOf(err)
		var elapsed time.Duration
		if res != nil {
			elapsed = res.ExecutionTime
		}

		// Rejections before the portal was touched and caller aborts say
		// nothing about the configuration.
		if !kind.Gating() && kind != failure.KindAborted {
			s.feedback(ctx, cfg.InsurerName, false, learner.FeedbackDetails{Step: step, ErrorKind: kind, ExecutionTime: elapsed})
		}
		s.record(ctx, c, false, kind, elapsed, nil)

		resp := s.failed(c, err, kind, step)
		resp.RetryAvailable = !kind.Terminal()
		resp.NewPortalLearned = learned
		return resp
	}

	data := Normalize(res.Extracted, cfg.Confidence, s.now())
	s.feedback(ctx, cfg.InsurerName, true, learner.FeedbackDetails{ExecutionTime: res.ExecutionTime})
	s.record(ctx, c, true, failure.KindNone, res.ExecutionTime, &data)

	zap.L().Info("verification: completed",
		zap.String("verification_id", c.id),
		zap.String("insurer", cfg.InsurerKey),
		zap.String("eligibility", data.EligibilityStatus),
		zap.Float64("data_quality", DataQuality(&data)),
		zap.Duration("elapsed", res.ExecutionTime),
	)
	return s.respond(c, &model.VerificationResponse{
		Success:          true,
		Data:             &data,
		NewPortalLearned: learned,
	})
}

func (s *Service) feedback(ctx context.Context, insurerName string, success bool, details learner.FeedbackDetails) {
	if err := s.learner.Feedback(context.WithoutCancel(ctx), insurerName, success, details); err != nil {
		zap.L().Warn("verification: feedback failed", zap.String("insurer", insurerName), zap.Error(err))
	}
}

// record appends a history entry and counts the outcome. History is
// written even when the caller has gone away.
func (s *Service) record(ctx context.Context, c *call, success bool, kind failure.Kind, elapsed time.Duration, data *model.EligibilityData) {
	if elapsed <= 0 {
		elapsed = time.Since(c.start)
	}
	rec := model.VerificationRecord{
		ID:            c.id,
		InsurerKey:    model.InsurerKey(c.insurer),
		Timestamp:     s.now(),
		Success:       success,
		ExecutionTime: elapsed,
		ErrorKind:     kind,
		DataQuality:   DataQuality(data),
	}
	if err := s.history.RecordVerification(context.WithoutCancel(ctx), rec); err != nil {
		zap.L().Warn("verification: record history", zap.String("verification_id", c.id), zap.Error(err))
	}
	s.metrics.Verification(success, kind, elapsed)
}

// failed builds a failure response. Every failure except consent and
// capacity rejections offers the manual fallbacks.
func (s *Service) failed(c *call, err error, kind failure.Kind, step int) *model.VerificationResponse {
	resp := &model.VerificationResponse{
		Error:      err.Error(),
		ErrorKind:  kind,
		FailedStep: step,
	}
	if !kind.Gating() {
		resp.FallbackOptions = FallbackOptions(c.insurer, s.catalog)
	}
	return s.respond(c, resp)
}

func (s *Service) systemFailure(ctx context.Context, c *call, err error) *model.VerificationResponse {
	zap.L().Error("verification: system error", zap.String("verification_id", c.id), zap.Error(err))
	s.record(ctx, c, false, failure.KindSystem, 0, nil)
	return s.failed(c, failure.Wrap(failure.KindSystem, err), failure.KindSystem, 0)
}

// recoverInto turns a panic anywhere below the service into a system
// failure response.
func (s *Service) recoverInto(c *call, resp **model.VerificationResponse) {
	r := recover()
	if r == nil {
		return
	}
	err := eris.Errorf("verification: panic: %v", r)
	*resp = s.systemFailure(context.Background(), c, err)
}

func (s *Service) respond(c *call, resp *model.VerificationResponse) *model.VerificationResponse {
	resp.VerificationID = c.id
	resp.ExecutionTimeMs = time.Since(c.start).Milliseconds()
	if c.procedure != "" {
		if p, ok := s.catalog.Procedure(c.procedure); ok {
			resp.Procedure = p
		}
	}
	return resp
}

// Request is one verification in a batch.
type Request struct {
	Insurance   model.InsuranceInfo      `json:"insurance" validate:"required"`
	Credentials model.PatientCredentials `json:"credentials"`
	Procedure   string                   `json:"procedureCode,omitempty"`
}

// VerifyBatch runs requests with at most concurrency in flight. Responses
// are in request order. Requests beyond the automator's session cap come
// back as capacity failures, so concurrency should not exceed it.
func (s *Service) VerifyBatch(ctx context.Context, reqs []Request, concurrency int) []*model.VerificationResponse {
	if concurrency <= 0 {
		concurrency = 1
	}
	out := make([]*model.VerificationResponse, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			out[i] = s.Verify(gctx, req.Insurance, req.Credentials, req.Procedure)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// SupportedInsurers lists the insurers with learned portals.
func (s *Service) SupportedInsurers(ctx context.Context) ([]model.SupportedInsurer, error) {
	return s.learner.Supported(ctx)
}

// PortalStatus reports an insurer's learning state.
func (s *Service) PortalStatus(ctx context.Context, insurerName string) (model.PortalStatus, error) {
	return s.learner.Status(ctx, insurerName)
}

// Procedures lists the procedure catalog.
func (s *Service) Procedures() []model.Procedure {
	return s.catalog.Procedures
}
