package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/promptsheet/promptsheet/internal/batch"
	"github.com/promptsheet/promptsheet/internal/common"
	"github.com/promptsheet/promptsheet/internal/jobstore"
	"github.com/promptsheet/promptsheet/internal/llm"
)

// memJobStore is the minimal in-memory store the bulk-path tests need.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*jobstore.Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*jobstore.Job)}
}

func (m *memJobStore) Create(_ context.Context, job *jobstore.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobStore) Update(_ context.Context, id string, upd jobstore.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Progress != nil {
		job.Progress = *upd.Progress
	}
	if upd.CompletedAt != nil {
		job.CompletedAt = upd.CompletedAt
	}
	if upd.ProcessedMessages != nil {
		job.ProcessedMessages = *upd.ProcessedMessages
	}
	if upd.ProviderBatchID != nil {
		job.ProviderBatchID = *upd.ProviderBatchID
	}
	if upd.Error != nil {
		job.Error = *upd.Error
	}
	if upd.Results != nil {
		job.Results = append([]string(nil), (*upd.Results)...)
	}
	return nil
}

func (m *memJobStore) Get(_ context.Context, id string) (*jobstore.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobStore) PurgeOlderThan(context.Context, int) (int64, error) { return 0, nil }
func (m *memJobStore) Close() error                                      { return nil }

// bulkEcho is a bulk API fake answering each item with "B:" plus its prompt.
type bulkEcho struct {
	mu        sync.Mutex
	submitted [][]llm.BatchItem
	createErr error
}

func (b *bulkEcho) CreateBatch(_ context.Context, items []llm.BatchItem) (string, error) {
	if b.createErr != nil {
		return "", b.createErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, items)
	return fmt.Sprintf("msgbatch_%d", len(b.submitted)), nil
}

func (b *bulkEcho) BatchEnded(context.Context, string) (bool, error) { return true, nil }

func (b *bulkEcho) BatchResults(_ context.Context, batchID string) ([]llm.BatchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []llm.BatchResult
	for i, chunk := range b.submitted {
		if fmt.Sprintf("msgbatch_%d", i+1) != batchID {
			continue
		}
		for _, item := range chunk {
			out = append(out, llm.BatchResult{
				CustomID: item.CustomID,
				Type:     llm.BatchResultSucceeded,
				Text:     "B:" + item.Request.Prompt,
			})
		}
	}
	return out, nil
}

func newTestCoordinator(store jobstore.Store, svc llm.BatchService) *batch.Coordinator {
	return batch.NewCoordinator(store, svc, slog.New(slog.DiscardHandler),
		batch.WithPollInterval(time.Millisecond), batch.WithMaxPollAttempts(10))
}
