package batch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/common"
	"github.com/promptsheet/promptsheet/internal/jobstore"
	"github.com/promptsheet/promptsheet/internal/llm"
)

// Message is one already-expanded row request inside a bulk submission.
type Message struct {
	Content   string   `json:"content"`
	ImageURLs []string `json:"imageUrls,omitempty"`
}

// Coordinator drives a bulk job through its lifecycle:
// created -> processing -> waiting -> completed | failed.
// One coordinator instance owns a given job at a time; all durable state goes
// through the job store.
type Coordinator struct {
	store  jobstore.Store
	svc    llm.BatchService
	logger *slog.Logger
	http   *http.Client

	pollInterval    time.Duration
	maxPollAttempts int
}

type Option func(*Coordinator)

func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithMaxPollAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxPollAttempts = n
		}
	}
}

func NewCoordinator(store jobstore.Store, svc llm.BatchService, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:           store,
		svc:             svc,
		logger:          logger,
		http:            &http.Client{Timeout: 30 * time.Second},
		pollInterval:    constants.BatchPollInterval,
		maxPollAttempts: constants.MaxBatchPollAttempts,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateJob persists a new job record in the created state and returns it.
func (c *Coordinator) CreateJob(ctx context.Context, totalMessages int, cfg llm.ModelConfig) (*jobstore.Job, error) {
	if totalMessages <= 0 {
		return nil, common.NewAppError("BATCH_ERROR", "messages are required", common.ErrInvalidInput)
	}
	job := &jobstore.Job{
		ID:            uuid.New().String(),
		Status:        constants.JobStatusCreated,
		CreatedAt:     time.Now().UTC(),
		TotalMessages: totalMessages,
		Config:        cfg,
	}
	if err := c.store.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Run drives jobID to a terminal state: partition, submit each chunk, poll
// until the provider reports completion, and reconcile the result stream back
// into row order. Any error marks the job failed with the message captured
// verbatim; partial results already persisted are kept. Cancellation is not a
// failure and leaves the job as-is.
func (c *Coordinator) Run(ctx context.Context, jobID string, messages []Message, cfg llm.ModelConfig) ([]string, error) {
	total := len(messages)
	results := make([]string, total)

	runErr := c.run(ctx, jobID, messages, cfg, results)
	if runErr != nil {
		if common.IsStopped(runErr) {
			c.logger.Info("batch.run.stopped", "job_id", jobID)
			return results, common.ErrStopped
		}
		c.fail(jobID, runErr)
		return results, runErr
	}

	c.complete(jobID, results)
	return results, nil
}

func (c *Coordinator) run(ctx context.Context, jobID string, messages []Message, cfg llm.ModelConfig, results []string) error {
	if err := c.store.Update(ctx, jobID, jobstore.Update{
		Status: jobstore.StatusPtr(constants.JobStatusProcessing),
	}); err != nil {
		return err
	}

	items := make([]llm.BatchItem, 0, len(messages))
	for i, msg := range messages {
		req := llm.Request{Prompt: msg.Content, Config: cfg}
		if cfg.VisionEnabled && cfg.VisionModel != "" && len(msg.ImageURLs) > 0 {
			if imgs := llm.FetchImages(ctx, c.http, msg.ImageURLs, c.logger); len(imgs) > 0 {
				req.Config.Model = cfg.VisionModel
				req.Images = imgs
			}
		}
		items = append(items, llm.BatchItem{
			CustomID: ItemID{JobID: jobID, Index: i}.String(),
			Request:  req,
		})
	}

	chunks := Partition(items, constants.MaxBatchItems, constants.MaxBatchBytes)
	c.logger.Info("batch.run.partitioned", "job_id", jobID, "items", len(items), "chunks", len(chunks))

	processed := 0
	for chunkIdx, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return common.ErrStopped
		}

		batchID, err := c.svc.CreateBatch(ctx, chunk)
		if err != nil {
			return fmt.Errorf("submit chunk %d: %w", chunkIdx, err)
		}
		if err := c.store.Update(ctx, jobID, jobstore.Update{
			Status:          jobstore.StatusPtr(constants.JobStatusWaiting),
			ProviderBatchID: jobstore.StringPtr(batchID),
		}); err != nil {
			return err
		}
		c.logger.Info("batch.chunk.submitted",
			"job_id", jobID, "chunk", chunkIdx, "items", len(chunk), "batch_id", batchID)

		if err := c.pollUntilEnded(ctx, jobID, batchID); err != nil {
			return err
		}

		streamed, err := c.svc.BatchResults(ctx, batchID)
		if err != nil {
			return fmt.Errorf("fetch results for chunk %d: %w", chunkIdx, err)
		}
		n, err := c.reconcile(ctx, jobID, streamed, results, &processed, len(results))
		if err != nil {
			return err
		}
		c.logger.Info("batch.chunk.reconciled",
			"job_id", jobID, "chunk", chunkIdx, "entries", n, "processed", processed)
	}
	return nil
}

// pollUntilEnded checks the provider at a fixed interval until it reports the
// batch terminal, or fails the job when the attempt budget runs out.
func (c *Coordinator) pollUntilEnded(ctx context.Context, jobID, batchID string) error {
	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return common.ErrStopped
		case <-time.After(c.pollInterval):
		}

		ended, err := c.svc.BatchEnded(ctx, batchID)
		if err != nil {
			return fmt.Errorf("poll batch %s: %w", batchID, err)
		}
		c.logger.Debug("batch.poll.tick", "job_id", jobID, "batch_id", batchID, "attempt", attempt, "ended", ended)
		if ended {
			return nil
		}
	}
	return fmt.Errorf("batch %s did not complete within %d poll attempts", batchID, c.maxPollAttempts)
}

// reconcile writes each streamed result into its index-derived slot. Arrival
// order is ignored entirely; only the custom id positions an entry. Errored
// and expired items get a readable placeholder instead of failing the batch.
func (c *Coordinator) reconcile(ctx context.Context, jobID string, streamed []llm.BatchResult, results []string, processed *int, total int) (int, error) {
	n := 0
	for _, r := range streamed {
		id, err := ParseItemID(r.CustomID)
		if err != nil {
			c.logger.Warn("batch.reconcile.bad_custom_id", "job_id", jobID, "custom_id", r.CustomID, "error", err)
			continue
		}
		if id.JobID != jobID || id.Index >= total {
			c.logger.Warn("batch.reconcile.foreign_result", "job_id", jobID, "custom_id", r.CustomID)
			continue
		}

		switch r.Type {
		case llm.BatchResultSucceeded:
			results[id.Index] = r.Text
		case llm.BatchResultExpired:
			results[id.Index] = "Error: Request expired"
		default:
			msg := r.Error
			if msg == "" {
				msg = "request failed"
			}
			results[id.Index] = "Error: " + msg
		}
		n++

		*processed++
		progress := *processed * 100 / total
		if progress >= 100 {
			// 100 is reserved for terminal success
			progress = 99
		}
		if err := c.store.Update(ctx, jobID, jobstore.Update{
			ProcessedMessages: jobstore.IntPtr(*processed),
			Progress:          jobstore.IntPtr(progress),
		}); err != nil {
			return n, err
		}
	}

	// persist what this chunk produced so a later failure discards nothing
	if err := c.store.Update(ctx, jobID, jobstore.Update{Results: &results}); err != nil {
		return n, err
	}
	return n, nil
}

// complete marks the job terminal-success and opportunistically sweeps
// expired jobs.
func (c *Coordinator) complete(jobID string, results []string) {
	ctx := context.Background()
	now := time.Now().UTC()
	if err := c.store.Update(ctx, jobID, jobstore.Update{
		Status:      jobstore.StatusPtr(constants.JobStatusCompleted),
		Progress:    jobstore.IntPtr(100),
		CompletedAt: jobstore.TimePtr(now),
		Results:     &results,
	}); err != nil {
		c.logger.Error("batch.complete.update_failed", "job_id", jobID, "error", err)
		return
	}
	c.logger.Info("batch.run.completed", "job_id", jobID, "results", len(results))

	if _, err := c.store.PurgeOlderThan(ctx, constants.RetentionDays); err != nil {
		c.logger.Warn("batch.retention.sweep_failed", "error", err)
	}
}

// fail records a terminal failure with the error message verbatim. Uses a
// fresh context so a canceled run context cannot block the final write.
func (c *Coordinator) fail(jobID string, cause error) {
	now := time.Now().UTC()
	if err := c.store.Update(context.Background(), jobID, jobstore.Update{
		Status:      jobstore.StatusPtr(constants.JobStatusFailed),
		CompletedAt: jobstore.TimePtr(now),
		Error:       jobstore.StringPtr(cause.Error()),
	}); err != nil {
		c.logger.Error("batch.fail.update_failed", "job_id", jobID, "error", err)
		return
	}
	c.logger.Error("batch.run.failed", "job_id", jobID, "error", cause)
}
