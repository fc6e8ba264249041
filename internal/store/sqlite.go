package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	// mu serializes read-modify-write updates; SQLite allows one writer.
	mu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS portal_configs (
	insurer_key    TEXT PRIMARY KEY,
	schema_version INTEGER NOT NULL,
	payload        TEXT NOT NULL,
	updated_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS verification_history (
	id           TEXT PRIMARY KEY,
	insurer_key  TEXT NOT NULL,
	recorded_at  INTEGER NOT NULL,
	success      INTEGER NOT NULL,
	execution_ms INTEGER NOT NULL DEFAULT 0,
	error_kind   TEXT,
	data_quality REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS learning_history (
	id          TEXT PRIMARY KEY,
	insurer_key TEXT NOT NULL,
	recorded_at INTEGER NOT NULL,
	payload     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verification_history_recorded_at ON verification_history(recorded_at);
CREATE INDEX IF NOT EXISTS idx_learning_history_insurer ON learning_history(insurer_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetPortal(ctx context.Context, insurerKey string) (*model.PortalConfig, error) {
	return s.getPortal(ctx, s.db, insurerKey)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getPortal(ctx context.Context, q queryRower, insurerKey string) (*model.PortalConfig, error) {
	var (
		version int
		payload string
	)
	err := q.QueryRowContext(ctx,
		`SELECT schema_version, payload FROM portal_configs WHERE insurer_key = ?`,
		insurerKey,
	).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get portal %s", insurerKey)
	}
	return decodePortal(insurerKey, version, []byte(payload)), nil
}

func (s *SQLiteStore) SavePortal(ctx context.Context, cfg *model.PortalConfig) error {
	payload, err := encodePortal(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO portal_configs (insurer_key, schema_version, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(insurer_key) DO UPDATE SET schema_version = excluded.schema_version, payload = excluded.payload, updated_at = excluded.updated_at`,
		cfg.InsurerKey, SchemaVersion, string(payload), time.Now().UTC().UnixMilli(),
	)
	return eris.Wrapf(err, "sqlite: save portal %s", cfg.InsurerKey)
}

func (s *SQLiteStore) UpdatePortal(ctx context.Context, insurerKey string, fn UpdateFunc) (*model.PortalConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin update")
	}
	defer tx.Rollback() //nolint:errcheck

	cfg, err := s.getPortal(ctx, tx, insurerKey)
	if err != nil || cfg == nil {
		return nil, err
	}
	if err := fn(cfg); err != nil {
		return nil, err
	}
	payload, err := encodePortal(cfg)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE portal_configs SET schema_version = ?, payload = ?, updated_at = ? WHERE insurer_key = ?`,
		SchemaVersion, string(payload), time.Now().UTC().UnixMilli(), insurerKey,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update portal %s", insurerKey)
	}
	if err := checkRowsAffected(res, "portal", insurerKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit update")
	}
	return cfg, nil
}

func (s *SQLiteStore) ListPortals(ctx context.Context) ([]model.PortalConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT insurer_key, schema_version, payload FROM portal_configs ORDER BY insurer_key`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list portals")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PortalConfig
	for rows.Next() {
		var (
			key     string
			version int
			payload string
		)
		if err := rows.Scan(&key, &version, &payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan portal")
		}
		if cfg := decodePortal(key, version, []byte(payload)); cfg != nil {
			out = append(out, *cfg)
		}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate portals")
}

func (s *SQLiteStore) RecordVerification(ctx context.Context, rec model.VerificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verification_history (id, insurer_key, recorded_at, success, execution_ms, error_kind, data_quality)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.InsurerKey, rec.Timestamp.UTC().UnixMilli(), rec.Success,
		rec.ExecutionTime.Milliseconds(), nullableKind(rec), rec.DataQuality,
	)
	return eris.Wrap(err, "sqlite: insert verification")
}

func (s *SQLiteStore) ListVerifications(ctx context.Context, since time.Time) ([]model.VerificationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, insurer_key, recorded_at, success, execution_ms, error_kind, data_quality
		 FROM verification_history WHERE recorded_at >= ? ORDER BY recorded_at, id`,
		since.UTC().UnixMilli(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list verifications")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.VerificationRecord
	for rows.Next() {
		rec, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate verifications")
}

func (s *SQLiteStore) RecordLearningEvent(ctx context.Context, ev model.LearningEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	payload, err := encodeLearningEvent(ev)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO learning_history (id, insurer_key, recorded_at, payload) VALUES (?, ?, ?, ?)`,
		ev.ID, ev.InsurerKey, ev.Timestamp.UTC().UnixMilli(), string(payload),
	)
	return eris.Wrap(err, "sqlite: insert learning event")
}

func (s *SQLiteStore) ListLearningEvents(ctx context.Context, insurerKey string) ([]model.LearningEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM learning_history WHERE (? = '' OR insurer_key = ?) ORDER BY recorded_at, id`,
		insurerKey, insurerKey,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list learning events")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.LearningEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan learning event")
		}
		ev, err := decodeLearningEvent([]byte(payload))
		if err != nil {
			zap.L().Warn("sqlite: skipping unreadable learning event", zap.Error(err))
			continue
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate learning events")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanVerification(row scannable) (*model.VerificationRecord, error) {
	var (
		rec        model.VerificationRecord
		recordedMs int64
		execMs     int64
		kind       sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.InsurerKey, &recordedMs, &rec.Success, &execMs, &kind, &rec.DataQuality); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan verification")
	}
	rec.Timestamp = time.UnixMilli(recordedMs).UTC()
	rec.ExecutionTime = time.Duration(execMs) * time.Millisecond
	if kind.Valid {
		rec.ErrorKind = failure.Kind(kind.String)
	}
	return &rec, nil
}
