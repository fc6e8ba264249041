// Package store persists learned portal configurations and the append-only
// verification and learning histories.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/BoweryJG/clearverify-patient/internal/model"
)

// SchemaVersion tags every stored portal configuration. Records with any
// other version are ignored.
const SchemaVersion = 1

// UpdateFunc mutates a portal configuration inside an update.
type UpdateFunc func(cfg *model.PortalConfig) error

// PortalStore maps insurer keys to learned portal configurations.
type PortalStore interface {
	// GetPortal returns nil, nil when the insurer is unknown or its record
	// cannot be read.
	GetPortal(ctx context.Context, insurerKey string) (*model.PortalConfig, error)
	// SavePortal inserts or replaces a configuration.
	SavePortal(ctx context.Context, cfg *model.PortalConfig) error
	// UpdatePortal applies fn atomically. It returns nil, nil when the
	// insurer is unknown.
	UpdatePortal(ctx context.Context, insurerKey string, fn UpdateFunc) (*model.PortalConfig, error)
	ListPortals(ctx context.Context) ([]model.PortalConfig, error)
}

// HistoryStore appends and lists verification and learning records.
type HistoryStore interface {
	RecordVerification(ctx context.Context, rec model.VerificationRecord) error
	// ListVerifications returns records at or after since, oldest first.
	ListVerifications(ctx context.Context, since time.Time) ([]model.VerificationRecord, error)
	RecordLearningEvent(ctx context.Context, ev model.LearningEvent) error
	// ListLearningEvents returns events for one insurer, or all insurers
	// when insurerKey is empty, oldest first.
	ListLearningEvents(ctx context.Context, insurerKey string) ([]model.LearningEvent, error)
}

// Store is the full persistence interface.
type Store interface {
	PortalStore
	HistoryStore

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func encodePortal(cfg *model.PortalConfig) ([]byte, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal portal %s", cfg.InsurerKey)
	}
	return payload, nil
}

// decodePortal fails closed: a record with an unexpected schema version or an
// unreadable payload is reported as unknown so the insurer is re-learned.
func decodePortal(insurerKey string, version int, payload []byte) *model.PortalConfig {
	if version != SchemaVersion {
		zap.L().Warn("store: ignoring portal config with unsupported schema version",
			zap.String("insurer", insurerKey),
			zap.Int("version", version),
		)
		return nil
	}
	var cfg model.PortalConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		zap.L().Warn("store: ignoring unreadable portal config",
			zap.String("insurer", insurerKey),
			zap.Error(err),
		)
		return nil
	}
	cfg.InsurerKey = insurerKey
	return &cfg
}

func encodeLearningEvent(ev model.LearningEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal learning event")
	}
	return payload, nil
}

func decodeLearningEvent(payload []byte) (model.LearningEvent, error) {
	var ev model.LearningEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, eris.Wrap(err, "store: unmarshal learning event")
	}
	return ev, nil
}

func nullableKind(rec model.VerificationRecord) *string {
	if rec.ErrorKind == "" {
		return nil
	}
	s := string(rec.ErrorKind)
	return &s
}
