package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/BoweryJG/clearverify-patient/internal/db"
	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"get_portal":          `SELECT schema_version, payload FROM portal_configs WHERE insurer_key = $1`,
	"insert_verification": `INSERT INTO verification_history (id, insurer_key, recorded_at, success, execution_ms, error_kind, data_quality) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS portal_configs (
	insurer_key    TEXT PRIMARY KEY,
	schema_version INTEGER NOT NULL,
	payload        JSONB NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS verification_history (
	id           TEXT PRIMARY KEY,
	insurer_key  TEXT NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL,
	success      BOOLEAN NOT NULL,
	execution_ms BIGINT NOT NULL DEFAULT 0,
	error_kind   TEXT,
	data_quality DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS learning_history (
	id          TEXT PRIMARY KEY,
	insurer_key TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	payload     JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verification_history_recorded_at ON verification_history(recorded_at);
CREATE INDEX IF NOT EXISTS idx_learning_history_insurer ON learning_history(insurer_key);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgQueryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPortalRow(ctx context.Context, q pgQueryRower, insurerKey string, lock bool) (*model.PortalConfig, error) {
	query := `SELECT schema_version, payload FROM portal_configs WHERE insurer_key = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		version int
		payload []byte
	)
	err := q.QueryRow(ctx, query, insurerKey).Scan(&version, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get portal %s", insurerKey)
	}
	return decodePortal(insurerKey, version, payload), nil
}

func (s *PostgresStore) GetPortal(ctx context.Context, insurerKey string) (*model.PortalConfig, error) {
	return getPortalRow(ctx, s.pool, insurerKey, false)
}

func (s *PostgresStore) SavePortal(ctx context.Context, cfg *model.PortalConfig) error {
	payload, err := encodePortal(cfg)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO portal_configs (insurer_key, schema_version, payload, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (insurer_key) DO UPDATE SET schema_version = EXCLUDED.schema_version, payload = EXCLUDED.payload, updated_at = now()`,
		cfg.InsurerKey, SchemaVersion, payload,
	)
	return eris.Wrapf(err, "postgres: save portal %s", cfg.InsurerKey)
}

func (s *PostgresStore) UpdatePortal(ctx context.Context, insurerKey string, fn UpdateFunc) (*model.PortalConfig, error) {
	var updated *model.PortalConfig
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		cfg, err := getPortalRow(ctx, tx, insurerKey, true)
		if err != nil || cfg == nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		payload, err := encodePortal(cfg)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE portal_configs SET schema_version = $1, payload = $2, updated_at = now() WHERE insurer_key = $3`,
			SchemaVersion, payload, insurerKey,
		); err != nil {
			return eris.Wrapf(err, "postgres: update portal %s", insurerKey)
		}
		updated = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) ListPortals(ctx context.Context) ([]model.PortalConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT insurer_key, schema_version, payload FROM portal_configs ORDER BY insurer_key`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list portals")
	}
	defer rows.Close()

	var out []model.PortalConfig
	for rows.Next() {
		var (
			key     string
			version int
			payload []byte
		)
		if err := rows.Scan(&key, &version, &payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan portal")
		}
		if cfg := decodePortal(key, version, payload); cfg != nil {
			out = append(out, *cfg)
		}
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate portals")
}

func (s *PostgresStore) RecordVerification(ctx context.Context, rec model.VerificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO verification_history (id, insurer_key, recorded_at, success, execution_ms, error_kind, data_quality) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.InsurerKey, rec.Timestamp.UTC(), rec.Success,
		rec.ExecutionTime.Milliseconds(), nullableKind(rec), rec.DataQuality,
	)
	return eris.Wrap(err, "postgres: insert verification")
}

func (s *PostgresStore) ListVerifications(ctx context.Context, since time.Time) ([]model.VerificationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, insurer_key, recorded_at, success, execution_ms, error_kind, data_quality
		 FROM verification_history WHERE recorded_at >= $1 ORDER BY recorded_at, id`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list verifications")
	}
	defer rows.Close()

	var out []model.VerificationRecord
	for rows.Next() {
		var (
			rec    model.VerificationRecord
			execMs int64
			kind   *string
		)
		if err := rows.Scan(&rec.ID, &rec.InsurerKey, &rec.Timestamp, &rec.Success, &execMs, &kind, &rec.DataQuality); err != nil {
			return nil, eris.Wrap(err, "postgres: scan verification")
		}
		rec.ExecutionTime = time.Duration(execMs) * time.Millisecond
		if kind != nil {
			rec.ErrorKind = failure.Kind(*kind)
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate verifications")
}

func (s *PostgresStore) RecordLearningEvent(ctx context.Context, ev model.LearningEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	payload, err := encodeLearningEvent(ev)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO learning_history (id, insurer_key, recorded_at, payload) VALUES ($1, $2, $3, $4)`,
		ev.ID, ev.InsurerKey, ev.Timestamp.UTC(), payload,
	)
	return eris.Wrap(err, "postgres: insert learning event")
}

func (s *PostgresStore) ListLearningEvents(ctx context.Context, insurerKey string) ([]model.LearningEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM learning_history WHERE ($1 = '' OR insurer_key = $1) ORDER BY recorded_at, id`,
		insurerKey,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list learning events")
	}
	defer rows.Close()

	var out []model.LearningEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan learning event")
		}
		ev, err := decodeLearningEvent(payload)
		if err != nil {
			zap.L().Warn("postgres: skipping unreadable learning event", zap.Error(err))
			continue
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate learning events")
}
