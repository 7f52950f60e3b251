package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/batch"
	"github.com/promptsheet/promptsheet/internal/common"
	"github.com/promptsheet/promptsheet/internal/dataset"
	"github.com/promptsheet/promptsheet/internal/dispatch"
	"github.com/promptsheet/promptsheet/internal/jobstore"
	"github.com/promptsheet/promptsheet/internal/llm/anthropic"
	"github.com/promptsheet/promptsheet/internal/pipeline"
	"github.com/promptsheet/promptsheet/internal/prompts"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		in           = flag.String("in", "", "input dataset, CSV or XLSX (required)")
		out          = flag.String("out", "", "output file path (defaults next to the input)")
		promptsPath  = flag.String("prompts", "prompts.json", "prompts JSON file")
		providerName = flag.String("provider", string(constants.ProviderOpenAI), "default backend: openai, anthropic, gemini, ollama")
		model        = flag.String("model", "", "model override for the selected backend")
		useBatch     = flag.Bool("batch", false, "route bulk-capable prompts through the async batch API")
		retryFailed  = flag.Bool("retry", false, "reprocess failed cells once after the first pass")
		inmem        = flag.Bool("inmem", false, "use an in-memory SQLite job store")
	)
	flag.Parse()

	if *in == "" {
		printError("Error: --in is required\n")
		os.Exit(1)
	}
	provider := constants.Provider(*providerName)
	if !constants.IsValidProvider(provider) {
		printError("Error: unknown provider %q\n", *providerName)
		os.Exit(1)
	}
	if *out == "" {
		base := strings.TrimSuffix(*in, filepath.Ext(*in))
		*out = base + ".out" + filepath.Ext(*in)
	}

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	cfg := common.LoadConfig()

	storePath := cfg.Database.SQLitePath
	if *inmem {
		storePath = ":memory:"
	}
	store, err := jobstore.OpenSQLite(ctx, storePath, logger)
	if err != nil {
		printError("Error: opening job store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	anthropicClient := anthropic.NewClient(anthropic.Config{
		APIKey:  cfg.Anthropic.APIKey,
		BaseURL: cfg.Anthropic.BaseURL,
		Model:   cfg.Anthropic.Model,
		Timeout: cfg.Anthropic.Timeout,
	}, logger)

	dispatcher := dispatch.FromConfig(cfg, anthropicClient, logger)
	coordinator := batch.NewCoordinator(store, anthropicClient, logger)

	table, err := dataset.Load(*in)
	if err != nil {
		printError("Error: loading dataset: %v\n", err)
		os.Exit(1)
	}
	list, err := prompts.Load(*promptsPath)
	if err != nil {
		printError("Error: loading prompts: %v\n", err)
		os.Exit(1)
	}
	active := prompts.Active(list)
	if len(active) == 0 {
		printError("Error: no active prompts in %s\n", *promptsPath)
		os.Exit(1)
	}
	logger.Info("run.start", "rows", len(table.Rows), "prompts", len(active), "provider", provider, "batch", *useBatch)

	orch := pipeline.New(dispatcher, coordinator, logger)
	orch.OnProgress(func(ev pipeline.ProgressEvent) {
		logger.Info("run.progress", "prompt", ev.Prompt, "row", ev.RowIndex, "total", ev.Total)
	})

	runCfg := pipeline.RunConfig{
		Provider:    provider,
		Model:       *model,
		VisionModel: cfg.VisionModelFor(provider),
		UseBatch:    *useBatch,
	}
	if err := orch.Run(ctx, table, active, runCfg); err != nil {
		printError("Error: run failed: %v\n", err)
		os.Exit(1)
	}

	if failed := orch.FailedCells(); len(failed) > 0 {
		logger.Warn("run.failed_cells", "count", len(failed))
		if *retryFailed {
			if err := orch.ReprocessFailed(ctx, table, active, runCfg); err != nil {
				printError("Error: retry pass failed: %v\n", err)
				os.Exit(1)
			}
			logger.Info("run.retry_done", "remaining", len(orch.FailedCells()))
		}
	}

	if err := writeOutput(table, *out); err != nil {
		printError("Error: writing output: %v\n", err)
		os.Exit(1)
	}

	usage := dispatcher.Usage().Snapshot()
	logger.Info("run.done",
		"output", *out,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"cost_usd", usage.CostUSD)
}

func writeOutput(table *dataset.Table, path string) error {
	if constants.NormalizeExt(filepath.Ext(path)) == "xlsx" {
		data, err := table.ExportXLSX()
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	}
	return table.SaveCSV(path)
}
