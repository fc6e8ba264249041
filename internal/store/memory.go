package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BoweryJG/clearverify-patient/internal/model"
)

type memoryRecord struct {
	version int
	payload []byte
}

// MemoryStore implements Store in process memory. Portal records go through
// the same encoding as the durable stores so reads never alias stored state.
type MemoryStore struct {
	mu            sync.Mutex
	portals       map[string]memoryRecord
	verifications []model.VerificationRecord
	learning      []model.LearningEvent
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{portals: make(map[string]memoryRecord)}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetPortal(_ context.Context, insurerKey string) (*model.PortalConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.portals[insurerKey]
	if !ok {
		return nil, nil
	}
	return decodePortal(insurerKey, rec.version, rec.payload), nil
}

func (s *MemoryStore) SavePortal(_ context.Context, cfg *model.PortalConfig) error {
	payload, err := encodePortal(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portals[cfg.InsurerKey] = memoryRecord{version: SchemaVersion, payload: payload}
	return nil
}

func (s *MemoryStore) UpdatePortal(_ context.Context, insurerKey string, fn UpdateFunc) (*model.PortalConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.portals[insurerKey]
	if !ok {
		return nil, nil
	}
	cfg := decodePortal(insurerKey, rec.version, rec.payload)
	if cfg == nil {
		return nil, nil
	}
	if err := fn(cfg); err != nil {
		return nil, err
	}
	payload, err := encodePortal(cfg)
	if err != nil {
		return nil, err
	}
	s.portals[insurerKey] = memoryRecord{version: SchemaVersion, payload: payload}
	return cfg, nil
}

func (s *MemoryStore) ListPortals(context.Context) ([]model.PortalConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.portals))
	for k := range s.portals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]model.PortalConfig, 0, len(keys))
	for _, k := range keys {
		rec := s.portals[k]
		if cfg := decodePortal(k, rec.version, rec.payload); cfg != nil {
			out = append(out, *cfg)
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordVerification(_ context.Context, rec model.VerificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications = append(s.verifications, rec)
	return nil
}

func (s *MemoryStore) ListVerifications(_ context.Context, since time.Time) ([]model.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.VerificationRecord
	for _, rec := range s.verifications {
		if !rec.Timestamp.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordLearningEvent(_ context.Context, ev model.LearningEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learning = append(s.learning, ev)
	return nil
}

func (s *MemoryStore) ListLearningEvents(_ context.Context, insurerKey string) ([]model.LearningEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.LearningEvent
	for _, ev := range s.learning {
		if insurerKey == "" || ev.InsurerKey == insurerKey {
			out = append(out, ev)
		}
	}
	return out, nil
}
