package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/common"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id                 TEXT PRIMARY KEY,
	status             TEXT NOT NULL,
	progress           INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMP NOT NULL,
	completed_at       TIMESTAMP,
	total_messages     INTEGER NOT NULL,
	processed_messages INTEGER NOT NULL DEFAULT 0,
	provider_batch_id  TEXT,
	error              TEXT,
	results            TEXT,
	config             TEXT
);
CREATE INDEX IF NOT EXISTS idx_batch_jobs_completed_at ON batch_jobs(completed_at);
`

// SQLiteStore is the single-file job store used in local and CLI modes.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (and migrates) the job table at path. Use ":memory:" for
// throwaway runs.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite is single-writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate batch_jobs: %w", err)
	}

	logger.Info("jobstore.sqlite.opened", "path", path)
	return &SQLiteStore{db: db, log: logger}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	results, config, err := marshalComposite(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batch_jobs
			(id, status, progress, created_at, completed_at, total_messages,
			 processed_messages, provider_batch_id, error, results, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *SQLiteStore) Update(ctx context.Context, id string, upd Update) error {
	sets, args, err := updateClauses(upd)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE batch_jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		s.log.Error("jobstore.update_failed", "job_id", id, "error", err)
		return common.NewAppError("JOBSTORE_ERROR", "update job", common.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, progress, created_at, completed_at, total_messages,
		       processed_messages, provider_batch_id, error, results, config
		FROM batch_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		s.log.Error("jobstore.get_failed", "job_id", id, "error", err)
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM batch_jobs WHERE completed_at IS NOT NULL AND completed_at < ?", cutoff)
	if err != nil {
		s.log.Error("jobstore.purge_failed", "error", err)
		return 0, common.NewAppError("JOBSTORE_ERROR", "purge jobs", common.ErrDatabase)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("jobstore.purged", "removed", n, "older_than_days", days)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var (
		job         Job
		status      string
		completedAt sql.NullTime
		batchID     sql.NullString
		errText     sql.NullString
		results     sql.NullString
		config      sql.NullString
	)
	err := r.Scan(&job.ID, &status, &job.Progress, &job.CreatedAt, &completedAt,
		&job.TotalMessages, &job.ProcessedMessages, &batchID, &errText, &results, &config)
	if err != nil {
		return nil, err
	}
	job.Status = constants.JobStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	job.ProviderBatchID = batchID.String
	job.Error = errText.String
	if results.Valid && results.String != "" {
		if err := json.Unmarshal([]byte(results.String), &job.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	if config.Valid && config.String != "" {
		if err := json.Unmarshal([]byte(config.String), &job.Config); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	return &job, nil
}

func marshalComposite(job *Job) (results, config string, err error) {
	rb, err := json.Marshal(job.Results)
	if err != nil {
		return "", "", fmt.Errorf("encode results: %w", err)
	}
	cb, err := json.Marshal(job.Config)
	if err != nil {
		return "", "", fmt.Errorf("encode config: %w", err)
	}
	return string(rb), string(cb), nil
}

// updateClauses turns a partial Update into SET fragments with '?'
// placeholders, sqlite style.
func updateClauses(upd Update) ([]string, []any, error) {
	var sets []string
	var args []any
	if upd.Status != nil {
		sets, args = append(sets, "status = ?"), append(args, string(*upd.Status))
	}
	if upd.Progress != nil {
		sets, args = append(sets, "progress = ?"), append(args, *upd.Progress)
	}
	if upd.CompletedAt != nil {
		sets, args = append(sets, "completed_at = ?"), append(args, *upd.CompletedAt)
	}
	if upd.ProcessedMessages != nil {
		sets, args = append(sets, "processed_messages = ?"), append(args, *upd.ProcessedMessages)
	}
	if upd.ProviderBatchID != nil {
		sets, args = append(sets, "provider_batch_id = ?"), append(args, *upd.ProviderBatchID)
	}
	if upd.Error != nil {
		sets, args = append(sets, "error = ?"), append(args, *upd.Error)
	}
	if upd.Results != nil {
		b, err := json.Marshal(*upd.Results)
		if err != nil {
			return nil, nil, fmt.Errorf("encode results: %w", err)
		}
		sets, args = append(sets, "results = ?"), append(args, string(b))
	}
	return sets, args, nil
}

var _ Store = (*SQLiteStore)(nil)
