// Package automator executes learned automation scripts against live portal
// pages. Every run is gated by a consent token, admitted against a session
// cap, bounded by a script deadline and guaranteed to release its page.
package automator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BoweryJG/clearverify-patient/internal/browser"
	"github.com/BoweryJG/clearverify-patient/internal/consent"
	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/model"
	"github.com/BoweryJG/clearverify-patient/internal/monitoring"
)

// ConsentValidator checks a patient consent token.
type ConsentValidator interface {
	Validate(raw string) (*consent.Token, error)
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionAborted   SessionStatus = "aborted"
)

// Session is one Execute call's hold on a browser page.
type Session struct {
	ID        string
	StartedAt time.Time
	Status    SessionStatus

	page    browser.Page
	release sync.Once
}

// Result is the outcome of one script run.
type Result struct {
	SessionID string                       `json:"sessionId"`
	Success   bool                         `json:"success"`
	Steps     map[string]*model.StepResult `json:"steps"`
	// Extracted merges the fields of every extract step.
	Extracted map[string]*string `json:"extracted"`
	ErrorKind failure.Kind       `json:"errorKind,omitempty"`
	// FailedStep is the 1-based index of the failing step.
	FailedStep    int           `json:"failedStep,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"executionTime"`
}

// finishedLimit bounds how many finished session statuses are remembered.
const finishedLimit = 1024

// Automator runs scripts on pages from a shared browser.
type Automator struct {
	browser browser.Browser
	consent ConsentValidator
	opts    Options
	metrics *monitoring.Metrics

	mu            sync.Mutex
	sessions      map[string]*Session
	pending       int
	finished      map[string]SessionStatus
	finishedOrder []string
	closed        bool
}

// New creates an Automator. metrics may be nil.
func New(b browser.Browser, cv ConsentValidator, opts Options, metrics *monitoring.Metrics) *Automator {
	return &Automator{
		browser:  b,
		consent:  cv,
		opts:     opts.withDefaults(),
		metrics:  metrics,
		sessions: make(map[string]*Session),
		finished: make(map[string]SessionStatus),
	}
}

// Execute runs cfg's script with the patient's credentials. Consent and
// capacity failures return a nil Result. Once a session is admitted the
// Result is always returned; on failure it is accompanied by a
// *failure.Error naming the kind and the 1-based failing step.
func (a *Automator) Execute(ctx context.Context, cfg *model.PortalConfig, creds model.PatientCredentials, token string) (*Result, error) {
	start := time.Now()

	if _, err := a.consent.Validate(token); err != nil {
		return nil, err
	}

	sess, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	status := SessionFailed
	defer func() { a.release(sess, status) }()

	log := zap.L().With(
		zap.String("component", "automator"),
		zap.String("session", sess.ID),
		zap.String("insurer", cfg.InsurerKey),
	)
	log.Info("automator: session started", zap.Int("steps", len(cfg.Script.Steps)))

	timeout := a.opts.ScriptTimeout
	if cfg.Script.Timeout > 0 {
		timeout = cfg.Script.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := &Result{
		SessionID: sess.ID,
		Steps:     make(map[string]*model.StepResult),
		Extracted: make(map[string]*string),
	}
	exec := &stepExecutor{
		page:   sess.page,
		portal: cfg,
		creds:  creds,
		opts:   a.opts,
		log:    log,
	}

	runErr := a.run(runCtx, exec, cfg.Script, res, log)
	res.ExecutionTime = time.Since(start)

	if runErr == nil {
		status = SessionCompleted
		res.Success = true
		log.Info("automator: session completed", zap.Duration("elapsed", res.ExecutionTime))
		return res, nil
	}

	fe := failure.AtStep(runErr, failure.StepOf(runErr))
	if errors.Is(ctx.Err(), context.Canceled) {
		fe.Kind = failure.KindAborted
		status = SessionAborted
	}
	res.ErrorKind = fe.Kind
	res.FailedStep = fe.Step
	res.Error = fe.Error()

	log.Warn("automator: session failed",
		zap.String("kind", string(fe.Kind)),
		zap.Int("step", fe.Step),
		zap.Duration("elapsed", res.ExecutionTime),
		zap.Error(runErr),
	)
	return res, fe
}

// run executes the steps in order. A failing step is replaced once by its
// fallback unless the failure is terminal or the deadline has passed.
func (a *Automator) run(ctx context.Context, exec *stepExecutor, script model.AutomationScript, res *Result, log *zap.Logger) error {
	for i, step := range script.Steps {
		if i > 0 {
			if err := sleep(ctx, a.opts.Pacer.StepDelay()); err != nil {
				return failure.AtStep(err, i+1)
			}
		}

		sr, err := step.Accept(ctx, exec)
		if err != nil {
			kind := failure.KindOf(err)
			a.metrics.StepFailed(string(step.Kind()), kind)

			fallback, ok := script.Fallbacks[i]
			if !ok || kind.Terminal() || ctx.Err() != nil {
				return failure.AtStep(err, i+1)
			}

			log.Info("automator: step failed, trying fallback",
				zap.Int("step", i+1),
				zap.String("target", step.Key()),
				zap.String("fallback", fallback.Key()),
				zap.Error(err),
			)
			sr, err = fallback.Accept(ctx, exec)
			if err != nil {
				a.metrics.StepFailed(string(fallback.Kind()), failure.KindOf(err))
				return failure.AtStep(err, i+1)
			}
		}

		res.Steps[step.Key()] = sr
		for name, v := range sr.Fields {
			res.Extracted[name] = v
		}
	}
	return nil
}

func (a *Automator) acquire(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, failure.New(failure.KindSystem, "automator: shut down")
	}
	if active := len(a.sessions) + a.pending; active >= a.opts.MaxSessions {
		a.mu.Unlock()
		return nil, failure.New(failure.KindCapacity, "automator: %d of %d sessions in use", active, a.opts.MaxSessions)
	}
	a.pending++
	a.mu.Unlock()

	page, err := a.browser.NewPage(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending--
	if err != nil {
		if ctx.Err() != nil {
			return nil, failure.Wrap(failure.KindOf(ctx.Err()), eris.Wrap(err, "automator: open page"))
		}
		return nil, failure.Wrap(failure.KindSystem, eris.Wrap(err, "automator: open page"))
	}
	if a.closed {
		page.Close() //nolint:errcheck
		return nil, failure.New(failure.KindSystem, "automator: shut down")
	}

	sess := &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    SessionActive,
		page:      page,
	}
	a.sessions[sess.ID] = sess
	a.metrics.SessionStarted()
	return sess, nil
}

// release closes the session's page and records its final status. Only the
// first call has any effect.
func (a *Automator) release(sess *Session, status SessionStatus) {
	sess.release.Do(func() {
		if err := sess.page.Close(); err != nil {
			zap.L().Warn("automator: close page", zap.String("session", sess.ID), zap.Error(err))
		}

		a.mu.Lock()
		sess.Status = status
		delete(a.sessions, sess.ID)
		a.finished[sess.ID] = status
		a.finishedOrder = append(a.finishedOrder, sess.ID)
		if len(a.finishedOrder) > finishedLimit {
			delete(a.finished, a.finishedOrder[0])
			a.finishedOrder = a.finishedOrder[1:]
		}
		a.mu.Unlock()

		a.metrics.SessionFinished(string(status))
	})
}

// ActiveSessions returns the number of sessions holding a page.
func (a *Automator) ActiveSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// SessionStatus reports the status of an active or recently finished
// session.
func (a *Automator) SessionStatus(id string) (SessionStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[id]; ok {
		return s.Status, true
	}
	status, ok := a.finished[id]
	return status, ok
}

// Shutdown stops admitting sessions, aborts the active ones concurrently and
// closes the browser.
func (a *Automator) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	active := make([]*Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		active = append(active, s)
	}
	a.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, s := range active {
		g.Go(func() error {
			a.release(s, SessionAborted)
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("automator: shut down", zap.Int("aborted_sessions", len(active)))
	if err := a.browser.Close(); err != nil {
		return eris.Wrap(err, "automator: close browser")
	}
	return nil
}
