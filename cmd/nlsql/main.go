// Command nlsql is a minimal driver that wires the NL->SQL pipeline
// together and runs it once against a single question. It is not a
// supported UI — just enough to construct the adapters, the LLM client,
// and the orchestrator from on-disk configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"reactsql/internal/adapter"
	"reactsql/internal/llm"
	"reactsql/internal/logger"
	"reactsql/internal/pipeline"
)

func main() {
	var (
		dbType     = flag.String("db-type", "sqlite", "mysql | postgresql | sqlite")
		dbHost     = flag.String("db-host", "127.0.0.1", "database host")
		dbPort     = flag.Int("db-port", 0, "database port")
		dbName     = flag.String("db-name", "", "database name")
		dbUser     = flag.String("db-user", "", "database user")
		dbPassword = flag.String("db-password", "", "database password")
		dbFile     = flag.String("db-file", "", "sqlite file path")
		profile    = flag.String("llm-profile", "", "named llm_config.json profile; default's Default when empty")
		question   = flag.String("question", "", "natural-language question to answer")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	log, err := logger.New(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *question == "" {
		log.Error("no question provided, pass -question")
		os.Exit(1)
	}

	dbAdapter, err := adapter.NewAdapter(&adapter.DBConfig{
		Type:     *dbType,
		Host:     *dbHost,
		Port:     *dbPort,
		Database: *dbName,
		User:     *dbUser,
		Password: *dbPassword,
		FilePath: *dbFile,
	})
	if err != nil {
		log.Error("adapter construction failed", zap.Error(err))
		os.Exit(1)
	}

	ctx := context.Background()
	if err := dbAdapter.Connect(ctx); err != nil {
		log.Error("database connect failed", zap.Error(err))
		os.Exit(1)
	}
	defer dbAdapter.Close()

	llmConfig, err := llm.LoadConfig()
	if err != nil {
		log.Error("llm config load failed", zap.Error(err))
		os.Exit(1)
	}
	completionClient, err := llmConfig.NewClient(*profile)
	if err != nil {
		log.Error("llm client construction failed", zap.Error(err))
		os.Exit(1)
	}

	cfg, err := pipeline.LoadConfig()
	if err != nil {
		log.Error("pipeline config load failed", zap.Error(err))
		os.Exit(1)
	}

	orchestrator := pipeline.NewOrchestrator(dbAdapter, completionClient, *dbHost, *dbName, cfg, log)

	result := orchestrator.Run(ctx, *question, nil)

	if !result.Success {
		log.Error("pipeline failed",
			zap.String("kind", string(result.ErrorKind)),
			zap.String("stage", string(result.Stage)),
			zap.String("message", result.Message))
		for _, w := range result.Warnings {
			log.Warn("warning", zap.String("detail", w))
		}
		os.Exit(1)
	}

	fmt.Println(result.Interpretation.NarrativeText)
	for _, s := range result.Interpretation.FollowUpSuggestions {
		fmt.Println("  -", s)
	}
	if result.Exports != nil {
		fmt.Println("csv:", result.Exports.CSVPath)
		fmt.Println("xlsx:", result.Exports.SpreadsheetPath)
	}
	if result.Visualization != nil && result.Visualization.ChartKind != pipeline.ChartKindNone {
		fmt.Println("chart:", result.Visualization.PNGPath)
	}
	for _, w := range result.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
}
