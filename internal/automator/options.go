package automator

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/BoweryJG/clearverify-patient/internal/config"
)

// Options bounds sessions and paces step execution.
type Options struct {
	// MaxSessions caps concurrent sessions. Excess calls are rejected.
	MaxSessions       int
	ScriptTimeout     time.Duration
	ElementTimeout    time.Duration
	NavigationTimeout time.Duration
	ClickNavTimeout   time.Duration
	// Settle is the pause after a navigation; ExtractSettle the pause before
	// reading data.
	Settle        time.Duration
	ExtractSettle time.Duration
	Pacer         Pacer
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxSessions:       5,
		ScriptTimeout:     30 * time.Second,
		ElementTimeout:    10 * time.Second,
		NavigationTimeout: 30 * time.Second,
		ClickNavTimeout:   15 * time.Second,
		Settle:            2 * time.Second,
		ExtractSettle:     3 * time.Second,
		Pacer:             DefaultHumanPacer(),
	}
}

// FromConfig converts automation config into Options.
func FromConfig(cfg config.AutomationConfig) Options {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	secs := func(v int) time.Duration { return time.Duration(v) * time.Second }
	return Options{
		MaxSessions:       cfg.MaxSessions,
		ScriptTimeout:     secs(cfg.ScriptTimeoutSecs),
		ElementTimeout:    secs(cfg.ElementTimeoutSecs),
		NavigationTimeout: secs(cfg.NavigationTimeoutSecs),
		ClickNavTimeout:   secs(cfg.ClickNavTimeoutSecs),
		Settle:            ms(cfg.SettleMs),
		ExtractSettle:     ms(cfg.ExtractSettleMs),
		Pacer: HumanPacer{
			MinType: ms(cfg.MinTypeDelayMs),
			MaxType: ms(cfg.MaxTypeDelayMs),
			MinStep: ms(cfg.MinStepDelayMs),
			MaxStep: ms(cfg.MaxStepDelayMs),
		},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxSessions <= 0 {
		o.MaxSessions = d.MaxSessions
	}
	if o.ScriptTimeout <= 0 {
		o.ScriptTimeout = d.ScriptTimeout
	}
	if o.ElementTimeout <= 0 {
		o.ElementTimeout = d.ElementTimeout
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = d.NavigationTimeout
	}
	if o.ClickNavTimeout <= 0 {
		o.ClickNavTimeout = d.ClickNavTimeout
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	if o.ExtractSettle < 0 {
		o.ExtractSettle = 0
	}
	if o.Pacer == nil {
		o.Pacer = d.Pacer
	}
	return o
}

// Pacer spaces out keystrokes and steps.
type Pacer interface {
	TypeDelay() time.Duration
	StepDelay() time.Duration
}

// HumanPacer draws uniform delays from the configured ranges.
type HumanPacer struct {
	MinType, MaxType time.Duration
	MinStep, MaxStep time.Duration
}

// DefaultHumanPacer types every 50-150ms and waits 0.5-2s between steps.
func DefaultHumanPacer() HumanPacer {
	return HumanPacer{
		MinType: 50 * time.Millisecond,
		MaxType: 150 * time.Millisecond,
		MinStep: 500 * time.Millisecond,
		MaxStep: 2 * time.Second,
	}
}

func (p HumanPacer) TypeDelay() time.Duration { return uniform(p.MinType, p.MaxType) }
func (p HumanPacer) StepDelay() time.Duration { return uniform(p.MinStep, p.MaxStep) }

func uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return max(lo, 0)
	}
	return lo + rand.N(hi-lo+1)
}

// NoDelay is a Pacer that never waits.
type NoDelay struct{}

func (NoDelay) TypeDelay() time.Duration { return 0 }
func (NoDelay) StepDelay() time.Duration { return 0 }

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
