package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/storelift/cafe24-harvester/internal/audit"
	"github.com/storelift/cafe24-harvester/internal/config"
	"github.com/storelift/cafe24-harvester/internal/imaging"
	"github.com/storelift/cafe24-harvester/internal/pipeline"
	"github.com/storelift/cafe24-harvester/pkg/logger"
)

func main() {
	var (
		input          = flag.String("input", "", "CSV or JSON file listing product URLs")
		output         = flag.String("output", "", "Output directory (default: OUTPUT_ROOT/<run-id>)")
		updateTemplate = flag.Bool("update-template", false, "Record the current template hash and exit")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if *updateTemplate {
		if err := imaging.WriteMetadata(cfg.Imaging.TemplatePath, cfg.Imaging.MetadataPath); err != nil {
			logger.Error("Failed to update template metadata", "error", err)
			os.Exit(1)
		}
		logger.Info("Template metadata updated", "template", cfg.Imaging.TemplatePath)
		return
	}

	if *input == "" {
		fmt.Println("No input file. Use -input to point at a CSV or JSON URL list.")
		flag.Usage()
		os.Exit(1)
	}

	runID := uuid.New().String()
	outputDir := *output
	if outputDir == "" {
		outputDir = filepath.Join(cfg.Output.Root, runID)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		logger.Error("Failed to create output directory", "error", err)
		os.Exit(1)
	}

	sink := buildSink(cfg, logger)
	defer sink.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	logger.Info("Starting harvest", "run_id", runID, "input", *input, "output", outputDir)

	p := pipeline.New(cfg, sink, logger)
	rep, err := p.Execute(ctx, runID, *input, outputDir)
	if err != nil {
		logger.Error("Harvest failed", "run_id", runID, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Run %s finished in %s\n", runID, rep.Duration().Round(time.Second))
	fmt.Printf("  %d/%d products harvested (%d retried, %d failed)\n",
		rep.Succeeded, rep.TotalURLs, rep.RetriedThenSucceeded, rep.FailedPermanent)
	if len(rep.Flags) > 0 {
		fmt.Printf("  %d QA flags on %d products — review %s\n",
			len(rep.Flags), len(rep.FlaggedProducts()), rep.ExportCSV)
	}
	fmt.Printf("  export: %s\n", rep.ExportCSV)
	if rep.ImageArchive != "" {
		fmt.Printf("  images: %s\n", rep.ImageArchive)
	}
}

// buildSink publishes audit events to Redis when configured. The per-run
// JSONL audit log is opened by the pipeline in the run's output directory.
func buildSink(cfg *config.Config, logger *slog.Logger) audit.Sink {
	if cfg.Redis.Addr == "" {
		return audit.NopSink{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("Redis unreachable, audit stream disabled", "error", err)
		client.Close()
		return audit.NopSink{}
	}

	return audit.NewStreamSink(client, cfg.Output.AuditStream, logger)
}
