package jobstore

import (
	"context"
	"time"

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/llm"
)

// Job is the durable record of one bulk submission.
type Job struct {
	ID                string             `json:"id"`
	Status            constants.JobStatus `json:"status"`
	Progress          int                `json:"progress"`
	CreatedAt         time.Time          `json:"created_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	TotalMessages     int                `json:"total_messages"`
	ProcessedMessages int                `json:"processed_messages"`
	ProviderBatchID   string             `json:"provider_batch_id,omitempty"`
	Error             string             `json:"error,omitempty"`
	Results           []string           `json:"results,omitempty"`
	Config            llm.ModelConfig    `json:"config"`
}

// Update carries a partial merge: only non-nil fields change.
type Update struct {
	Status            *constants.JobStatus
	Progress          *int
	CompletedAt       *time.Time
	ProcessedMessages *int
	ProviderBatchID   *string
	Error             *string
	Results           *[]string
}

// Store is the narrow contract every job access goes through. Get returns
// common.ErrNotFound for unknown ids, never a default-valued record.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, id string, upd Update) error
	Get(ctx context.Context, id string) (*Job, error)
	// PurgeOlderThan deletes jobs whose completion timestamp is more than
	// days in the past and returns how many were removed.
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
	Close() error
}

// Pointer helpers for building partial updates.
func StatusPtr(s constants.JobStatus) *constants.JobStatus { return &s }
func IntPtr(n int) *int                                    { return &n }
func StringPtr(s string) *string                           { return &s }
func TimePtr(t time.Time) *time.Time                       { return &t }
