package pipeline

import (
	"context"
	"log/slog"

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/batch"
	"github.com/promptsheet/promptsheet/internal/common"
	"github.com/promptsheet/promptsheet/internal/dataset"
	"github.com/promptsheet/promptsheet/internal/dispatch"
	"github.com/promptsheet/promptsheet/internal/llm"
	"github.com/promptsheet/promptsheet/internal/prompts"
	"github.com/promptsheet/promptsheet/internal/template"
)

// FailedCell records one row/prompt pair that raised a non-recoverable error.
// It stays queued until a reprocessing attempt succeeds.
type FailedCell struct {
	RowIndex     int    `json:"rowIndex"`
	PromptName   string `json:"promptName"`
	OutputColumn string `json:"outputColumn"`
	Error        string `json:"error"`
}

// ProgressEvent is emitted after each row (or reconciled bulk submission).
type ProgressEvent struct {
	Prompt   string
	Column   string
	RowIndex int
	Total    int
}

// RunConfig holds the run-level defaults every prompt inherits.
type RunConfig struct {
	Provider     constants.Provider
	Model        string
	MaxTokens    int
	SystemPrompt string
	VisionModel  string
	// UseBatch routes bulk-capable prompts through the batch coordinator
	// instead of the per-row path.
	UseBatch bool
}

// Orchestrator drives the dataset x prompt-list processing loop. It owns the
// rows for the duration of a run and accumulates failed cells for later
// reprocessing.
type Orchestrator struct {
	dispatcher  *dispatch.Dispatcher
	coordinator *batch.Coordinator
	logger      *slog.Logger
	onProgress  func(ProgressEvent)

	failed []FailedCell
}

func New(dispatcher *dispatch.Dispatcher, coordinator *batch.Coordinator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		dispatcher:  dispatcher,
		coordinator: coordinator,
		logger:      logger,
	}
}

// OnProgress registers a progress callback. Optional.
func (o *Orchestrator) OnProgress(fn func(ProgressEvent)) {
	o.onProgress = fn
}

// FailedCells returns the current retry queue.
func (o *Orchestrator) FailedCells() []FailedCell {
	return append([]FailedCell(nil), o.failed...)
}

// Run processes every active prompt against every row, in order. Per-row
// failures become failed cells and the loop keeps going; cancellation halts
// silently, returning common.ErrStopped with all already-written output
// intact.
func (o *Orchestrator) Run(ctx context.Context, table *dataset.Table, list []prompts.Prompt, cfg RunConfig) error {
	computed := make([]map[string]string, len(table.Rows))
	for i := range computed {
		computed[i] = make(map[string]string)
	}

	for _, p := range prompts.Active(list) {
		if err := ctx.Err(); err != nil {
			return common.ErrStopped
		}
		table.EnsureColumn(p.OutputColumn)
		modelCfg := o.modelConfig(p, cfg)

		o.logger.Info("pipeline.prompt.start",
			"prompt", p.Name,
			"column", p.OutputColumn,
			"provider", modelCfg.Provider,
			"rows", len(table.Rows),
			"bulk", cfg.UseBatch && constants.IsBulkCapable(modelCfg.Provider),
		)

		var err error
		if cfg.UseBatch && constants.IsBulkCapable(modelCfg.Provider) && o.coordinator != nil {
			err = o.runBulk(ctx, table, computed, p, modelCfg)
		} else {
			err = o.runRows(ctx, table, computed, p, modelCfg)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// runRows is the synchronous per-row path, in dataset order.
func (o *Orchestrator) runRows(ctx context.Context, table *dataset.Table, computed []map[string]string, p prompts.Prompt, modelCfg llm.ModelConfig) error {
	for i, row := range table.Rows {
		if err := ctx.Err(); err != nil {
			return common.ErrStopped
		}

		exp := template.Expand(p.Template, row, computed[i], modelCfg.VisionEnabled)
		if exp.Empty {
			o.setCell(table, computed, i, p.OutputColumn, "")
			o.emit(p, i, len(table.Rows))
			continue
		}

		result, err := o.dispatcher.Dispatch(ctx, dispatch.Request{
			Prompt:       exp.Text,
			Config:       modelCfg,
			ImageURLs:    exp.Images,
			TargetColumn: p.OutputColumn,
		}, i)
		if err != nil {
			if common.IsStopped(err) {
				return common.ErrStopped
			}
			o.failed = append(o.failed, FailedCell{
				RowIndex:     i,
				PromptName:   p.Name,
				OutputColumn: p.OutputColumn,
				Error:        err.Error(),
			})
			o.setCell(table, computed, i, p.OutputColumn, "Error: "+err.Error())
			o.emit(p, i, len(table.Rows))
			continue
		}

		o.setCell(table, computed, i, p.OutputColumn, result)
		o.emit(p, i, len(table.Rows))
	}
	return nil
}

// runBulk expands the whole column up front and hands it to the batch
// coordinator. Rows with empty expansions keep their position but are never
// submitted.
func (o *Orchestrator) runBulk(ctx context.Context, table *dataset.Table, computed []map[string]string, p prompts.Prompt, modelCfg llm.ModelConfig) error {
	var messages []batch.Message
	var rowForMessage []int
	for i, row := range table.Rows {
		exp := template.Expand(p.Template, row, computed[i], modelCfg.VisionEnabled)
		if exp.Empty {
			o.setCell(table, computed, i, p.OutputColumn, "")
			continue
		}
		messages = append(messages, batch.Message{Content: exp.Text, ImageURLs: exp.Images})
		rowForMessage = append(rowForMessage, i)
	}
	if len(messages) == 0 {
		return nil
	}

	job, err := o.coordinator.CreateJob(ctx, len(messages), modelCfg)
	if err != nil {
		return err
	}
	results, err := o.coordinator.Run(ctx, job.ID, messages, modelCfg)
	if err != nil {
		if common.IsStopped(err) {
			return common.ErrStopped
		}
		// a batch-level failure leaves every submitted row retryable through
		// the per-row path
		o.logger.Error("pipeline.bulk.failed", "prompt", p.Name, "job_id", job.ID, "error", err)
		for _, i := range rowForMessage {
			o.failed = append(o.failed, FailedCell{
				RowIndex:     i,
				PromptName:   p.Name,
				OutputColumn: p.OutputColumn,
				Error:        err.Error(),
			})
		}
		return nil
	}

	for k, result := range results {
		i := rowForMessage[k]
		o.setCell(table, computed, i, p.OutputColumn, result)
		o.emit(p, i, len(table.Rows))
	}
	return nil
}

// ReprocessFailed replays the failed-cell queue through the per-row path
// (never the bulk path) and drops the entries whose retry succeeds.
func (o *Orchestrator) ReprocessFailed(ctx context.Context, table *dataset.Table, list []prompts.Prompt, cfg RunConfig) error {
	byName := make(map[string]prompts.Prompt, len(list))
	for _, p := range list {
		byName[p.Name] = p
	}

	var remaining []FailedCell
	for n, cell := range o.failed {
		if err := ctx.Err(); err != nil {
			// keep everything not yet attempted
			remaining = append(remaining, o.failed[n:]...)
			o.failed = remaining
			return common.ErrStopped
		}

		p, ok := byName[cell.PromptName]
		if !ok || cell.RowIndex >= len(table.Rows) {
			continue
		}
		modelCfg := o.modelConfig(p, cfg)
		row := table.Rows[cell.RowIndex]

		exp := template.Expand(p.Template, row, nil, modelCfg.VisionEnabled)
		if exp.Empty {
			row[cell.OutputColumn] = ""
			continue
		}

		result, err := o.dispatcher.Dispatch(ctx, dispatch.Request{
			Prompt:       exp.Text,
			Config:       modelCfg,
			ImageURLs:    exp.Images,
			TargetColumn: cell.OutputColumn,
		}, cell.RowIndex)
		if err != nil {
			if common.IsStopped(err) {
				remaining = append(remaining, o.failed[n:]...)
				o.failed = remaining
				return common.ErrStopped
			}
			cell.Error = err.Error()
			remaining = append(remaining, cell)
			continue
		}
		row[cell.OutputColumn] = result
		o.logger.Info("pipeline.reprocess.ok", "prompt", cell.PromptName, "row", cell.RowIndex)
	}
	o.failed = remaining
	return nil
}

func (o *Orchestrator) modelConfig(p prompts.Prompt, cfg RunConfig) llm.ModelConfig {
	provider := cfg.Provider
	if p.Provider != "" {
		provider = constants.Provider(p.Provider)
	}
	visionModel := p.VisionModel
	if visionModel == "" {
		visionModel = cfg.VisionModel
	}
	return llm.ModelConfig{
		Provider:      provider,
		Model:         cfg.Model,
		MaxTokens:     cfg.MaxTokens,
		SystemPrompt:  cfg.SystemPrompt,
		VisionEnabled: p.VisionEnabled,
		VisionModel:   visionModel,
	}
}

func (o *Orchestrator) setCell(table *dataset.Table, computed []map[string]string, rowIdx int, column, value string) {
	table.Rows[rowIdx][column] = value
	computed[rowIdx][column] = value
}

func (o *Orchestrator) emit(p prompts.Prompt, rowIdx, total int) {
	if o.onProgress != nil {
		o.onProgress(ProgressEvent{
			Prompt:   p.Name,
			Column:   p.OutputColumn,
			RowIndex: rowIdx,
			Total:    total,
		})
	}
}
