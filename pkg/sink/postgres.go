package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/stacksampler/pkg/config"
	"github.com/ajitpratap0/stacksampler/pkg/errors"
)

// pgExecer is the part of pgxpool.Pool the sink uses.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink stores each object as a row: name, metadata as JSONB and the
// payload as BYTEA.
type PostgresSink struct {
	db        pgExecer
	table     string
	insertSQL string
	logger    *zap.Logger
}

// OpenPostgres connects a pool and creates the table if it does not exist.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, log *zap.Logger) (*PostgresSink, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid postgres dsn")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create postgres pool")
	}

	s := newPostgresSink(db, cfg.Table, log)
	if err := s.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresSink(db pgExecer, table string, log *zap.Logger) *PostgresSink {
	ident := pgx.Identifier{table}.Sanitize()
	return &PostgresSink{
		db:    db,
		table: ident,
		insertSQL: fmt.Sprintf(
			"INSERT INTO %s (name, meta, payload) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING", ident),
		logger: log,
	}
}

func (s *PostgresSink) createTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name       TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	meta       JSONB NOT NULL DEFAULT '{}'::jsonb,
	payload    BYTEA NOT NULL
)`, s.table)
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create profile table").
			WithDetail("table", s.table)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, name string, data []byte, meta map[string]string) error {
	if meta == nil {
		meta = map[string]string{}
	}
	tag, err := s.db.Exec(ctx, s.insertSQL, name, meta, data)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to insert profile batch").
			WithDetail("table", s.table).
			WithDetail("name", name)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("object already stored", zap.String("name", name))
		return nil
	}

	s.logger.Debug("object stored", zap.String("name", name), zap.Int("bytes", len(data)))
	return nil
}

func (s *PostgresSink) Type() string { return config.SinkPostgres }

func (s *PostgresSink) Close() error {
	s.db.Close()
	return nil
}
