package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/common"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id                 TEXT PRIMARY KEY,
	status             TEXT NOT NULL,
	progress           INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL,
	completed_at       TIMESTAMPTZ,
	total_messages     INTEGER NOT NULL,
	processed_messages INTEGER NOT NULL DEFAULT 0,
	provider_batch_id  TEXT,
	error              TEXT,
	results            TEXT,
	config             TEXT
);
CREATE INDEX IF NOT EXISTS idx_batch_jobs_completed_at ON batch_jobs(completed_at);
`

// PostgresConfig mirrors the pool settings the server daemon exposes.
type PostgresConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// PostgresStore is the job store used in server mode.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// OpenPostgres creates a pgx pool and ensures the job table exists.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("jobstore.postgres.connecting", "dsn", cfg.DSN)

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("jobstore.postgres.bad_dsn", "error", err)
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "promptsheet"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout.String()
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("jobstore.postgres.connect_failed", "error", err)
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate batch_jobs: %w", err)
	}

	logger.Info("jobstore.postgres.connected")
	return &PostgresStore{pool: pool, log: logger}, nil
}

func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	results, config, err := marshalComposite(job)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO batch_jobs
			(id, status, progress, created_at, completed_at, total_messages,
			 processed_messages, provider_batch_id, error, results, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, string(job.Status), job.Progress, job.CreatedAt, job.CompletedAt,
		job.TotalMessages, job.ProcessedMessages, job.ProviderBatchID, job.Error,
		results, config,
	)
	if err != nil {
		s.log.Error("jobstore.create_failed", "job_id", job.ID, "error", err)
		return common.NewAppError("JOBSTORE_ERROR", "create job", common.ErrDatabase)
	}
	s.log.Info("jobstore.created", "job_id", job.ID, "total_messages", job.TotalMessages)
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, upd Update) error {
	sets, args, err := updateClauses(upd)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	// rewrite '?' placeholders to postgres positional style
	for i := range sets {
		sets[i] = strings.Replace(sets[i], "?", fmt.Sprintf("$%d", i+1), 1)
	}
	args = append(args, id)

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("UPDATE batch_jobs SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		s.log.Error("jobstore.update_failed", "job_id", id, "error", err)
		return common.NewAppError("JOBSTORE_ERROR", "update job", common.ErrDatabase)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, progress, created_at, completed_at, total_messages,
		       processed_messages, provider_batch_id, error, results, config
		FROM batch_jobs WHERE id = $1`, id)

	var (
		job         Job
		status      string
		completedAt *time.Time
		batchID     *string
		errText     *string
		results     *string
		config      *string
	)
	err := row.Scan(&job.ID, &status, &job.Progress, &job.CreatedAt, &completedAt,
		&job.TotalMessages, &job.ProcessedMessages, &batchID, &errText, &results, &config)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		s.log.Error("jobstore.get_failed", "job_id", id, "error", err)
		return nil, err
	}

	job.Status = constants.JobStatus(status)
	job.CompletedAt = completedAt
	if batchID != nil {
		job.ProviderBatchID = *batchID
	}
	if errText != nil {
		job.Error = *errText
	}
	if results != nil && *results != "" {
		if err := json.Unmarshal([]byte(*results), &job.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	if config != nil && *config != "" {
		if err := json.Unmarshal([]byte(*config), &job.Config); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	return &job, nil
}

func (s *PostgresStore) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM batch_jobs WHERE completed_at IS NOT NULL AND completed_at < $1", cutoff)
	if err != nil {
		s.log.Error("jobstore.purge_failed", "error", err)
		return 0, common.NewAppError("JOBSTORE_ERROR", "purge jobs", common.ErrDatabase)
	}
	n := tag.RowsAffected()
	if n > 0 {
		s.log.Info("jobstore.purged", "removed", n, "older_than_days", days)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
