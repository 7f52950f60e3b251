package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/common"
	"github.com/promptsheet/promptsheet/internal/dataset"
	"github.com/promptsheet/promptsheet/internal/dispatch"
	"github.com/promptsheet/promptsheet/internal/llm"
	"github.com/promptsheet/promptsheet/internal/prompts"
)

// echoProvider answers every prompt with "R:" plus the prompt text, unless
// failOn matches.
type echoProvider struct {
	name    constants.Provider
	mu      sync.Mutex
	calls   int
	failOn  string
	failure error
}

func (e *echoProvider) Name() constants.Provider { return e.name }

func (e *echoProvider) Complete(_ context.Context, req llm.Request) (llm.Result, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.failOn != "" && strings.Contains(req.Prompt, e.failOn) {
		err := e.failure
		if err == nil {
			err = errors.New("backend rejected request")
		}
		return llm.Result{}, err
	}
	return llm.Result{Text: "R:" + req.Prompt, InputTokens: 1, OutputTokens: 1}, nil
}

func testTable() *dataset.Table {
	return &dataset.Table{
		Columns: []string{"title"},
		Rows: []map[string]string{
			{"title": "Dune"},
			{"title": "Neuromancer"},
			{"title": ""},
		},
	}
}

func testOrchestrator(p *echoProvider) *Orchestrator {
	d := dispatch.NewDispatcher(llm.NewUsage(), slog.New(slog.DiscardHandler))
	d.Register(p, nil)
	return New(d, nil, slog.New(slog.DiscardHandler))
}

func runCfg() RunConfig {
	return RunConfig{Provider: constants.ProviderOpenAI}
}

func TestRunWritesOutputColumn(t *testing.T) {
	table := testTable()
	o := testOrchestrator(&echoProvider{name: constants.ProviderOpenAI})

	list := []prompts.Prompt{{
		Name:         "summary",
		OutputColumn: "summary",
		Template:     "Summarize {title}",
		Active:       true,
	}}

	require.NoError(t, o.Run(context.Background(), table, list, runCfg()))
	assert.Contains(t, table.Columns, "summary")
	assert.Equal(t, "R:Summarize Dune", table.Rows[0]["summary"])
	assert.Equal(t, "R:Summarize Neuromancer", table.Rows[1]["summary"])
	// empty source row is skipped, not dispatched
	assert.Equal(t, "", table.Rows[2]["summary"])
	assert.Empty(t, o.FailedCells())
}

func TestRunSkipsInactivePrompts(t *testing.T) {
	table := testTable()
	p := &echoProvider{name: constants.ProviderOpenAI}
	o := testOrchestrator(p)

	list := []prompts.Prompt{{
		Name:         "summary",
		OutputColumn: "summary",
		Template:     "Summarize {title}",
		Active:       false,
	}}

	require.NoError(t, o.Run(context.Background(), table, list, runCfg()))
	assert.Zero(t, p.calls)
	assert.NotContains(t, table.Columns, "summary")
}

func TestRunChainsPromptOutputs(t *testing.T) {
	table := testTable()
	o := testOrchestrator(&echoProvider{name: constants.ProviderOpenAI})

	list := []prompts.Prompt{
		{Name: "summary", OutputColumn: "summary", Template: "Summarize {title}", Active: true},
		{Name: "verdict", OutputColumn: "verdict", Template: "Rate: {summary}", Active: true, DependsOn: []string{"summary"}},
	}

	require.NoError(t, o.Run(context.Background(), table, list, runCfg()))
	// the second prompt sees the first prompt's freshly computed value
	assert.Equal(t, "R:Rate: R:Summarize Dune", table.Rows[0]["verdict"])
}

func TestRunRecordsFailedCells(t *testing.T) {
	table := testTable()
	p := &echoProvider{name: constants.ProviderOpenAI, failOn: "Neuromancer"}
	o := testOrchestrator(p)

	list := []prompts.Prompt{{
		Name:         "summary",
		OutputColumn: "summary",
		Template:     "Summarize {title}",
		Active:       true,
	}}

	require.NoError(t, o.Run(context.Background(), table, list, runCfg()))

	// the failure is captured in the cell and queued, the run keeps going
	assert.Equal(t, "R:Summarize Dune", table.Rows[0]["summary"])
	assert.Equal(t, "Error: backend rejected request", table.Rows[1]["summary"])

	failed := o.FailedCells()
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].RowIndex)
	assert.Equal(t, "summary", failed[0].PromptName)
	assert.Equal(t, "backend rejected request", failed[0].Error)
}

func TestReprocessFailedClearsQueueOnSuccess(t *testing.T) {
	table := testTable()
	p := &echoProvider{name: constants.ProviderOpenAI, failOn: "Neuromancer"}
	o := testOrchestrator(p)

	list := []prompts.Prompt{{
		Name:         "summary",
		OutputColumn: "summary",
		Template:     "Summarize {title}",
		Active:       true,
	}}
	require.NoError(t, o.Run(context.Background(), table, list, runCfg()))
	require.Len(t, o.FailedCells(), 1)

	// the backend recovers
	p.failOn = ""
	require.NoError(t, o.ReprocessFailed(context.Background(), table, list, runCfg()))
	assert.Empty(t, o.FailedCells())
	assert.Equal(t, "R:Summarize Neuromancer", table.Rows[1]["summary"])
}

func TestReprocessFailedKeepsStillFailing(t *testing.T) {
	table := testTable()
	p := &echoProvider{name: constants.ProviderOpenAI, failOn: "Neuromancer"}
	o := testOrchestrator(p)

	list := []prompts.Prompt{{
		Name:         "summary",
		OutputColumn: "summary",
		Template:     "Summarize {title}",
		Active:       true,
	}}
	require.NoError(t, o.Run(context.Background(), table, list, runCfg()))

	require.NoError(t, o.ReprocessFailed(context.Background(), table, list, runCfg()))
	assert.Len(t, o.FailedCells(), 1)
}

func TestRunCanceledBeforeStart(t *testing.T) {
	table := testTable()
	p := &echoProvider{name: constants.ProviderOpenAI}
	o := testOrchestrator(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	list := []prompts.Prompt{{
		Name:         "summary",
		OutputColumn: "summary",
		Template:     "Summarize {title}",
		Active:       true,
	}}
	err := o.Run(ctx, table, list, runCfg())
	require.ErrorIs(t, err, common.ErrStopped)
	assert.Zero(t, p.calls)
}

func TestRunBulkPath(t *testing.T) {
	table := testTable()
	store := newMemJobStore()
	svc := &bulkEcho{}

	d := dispatch.NewDispatcher(llm.NewUsage(), slog.New(slog.DiscardHandler))
	coord := newTestCoordinator(store, svc)
	o := New(d, coord, slog.New(slog.DiscardHandler))

	list := []prompts.Prompt{{
		Name:         "summary",
		OutputColumn: "summary",
		Template:     "Summarize {title}",
		Active:       true,
		Provider:     string(constants.ProviderAnthropic),
	}}

	cfg := runCfg()
	cfg.UseBatch = true
	require.NoError(t, o.Run(context.Background(), table, list, cfg))

	assert.Equal(t, "B:Summarize Dune", table.Rows[0]["summary"])
	assert.Equal(t, "B:Summarize Neuromancer", table.Rows[1]["summary"])
	// the empty row keeps its position but was never submitted
	assert.Equal(t, "", table.Rows[2]["summary"])
	require.Len(t, svc.submitted, 1)
	assert.Len(t, svc.submitted[0], 2)
}

func TestRunBulkFailureQueuesAllSubmittedRows(t *testing.T) {
	table := testTable()
	store := newMemJobStore()
	svc := &bulkEcho{createErr: errors.New("bulk api down")}

	d := dispatch.NewDispatcher(llm.NewUsage(), slog.New(slog.DiscardHandler))
	coord := newTestCoordinator(store, svc)
	o := New(d, coord, slog.New(slog.DiscardHandler))

	list := []prompts.Prompt{{
		Name:         "summary",
		OutputColumn: "summary",
		Template:     "Summarize {title}",
		Active:       true,
		Provider:     string(constants.ProviderAnthropic),
	}}

	cfg := runCfg()
	cfg.UseBatch = true
	require.NoError(t, o.Run(context.Background(), table, list, cfg))

	failed := o.FailedCells()
	require.Len(t, failed, 2)
	for _, cell := range failed {
		assert.Contains(t, cell.Error, "bulk api down")
	}
}
