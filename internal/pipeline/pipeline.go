// Package pipeline wires a complete harvest run: template verification,
// URL ingestion, paced fetching, extraction, image processing and export.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/storelift/cafe24-harvester/internal/audit"
	"github.com/storelift/cafe24-harvester/internal/browser"
	"github.com/storelift/cafe24-harvester/internal/captcha"
	"github.com/storelift/cafe24-harvester/internal/config"
	"github.com/storelift/cafe24-harvester/internal/export"
	"github.com/storelift/cafe24-harvester/internal/fetch"
	"github.com/storelift/cafe24-harvester/internal/identity"
	"github.com/storelift/cafe24-harvester/internal/imaging"
	"github.com/storelift/cafe24-harvester/internal/ingest"
	"github.com/storelift/cafe24-harvester/internal/media"
	"github.com/storelift/cafe24-harvester/internal/models"
	"github.com/storelift/cafe24-harvester/internal/orchestrator"
	"github.com/storelift/cafe24-harvester/internal/parser"
	"github.com/storelift/cafe24-harvester/internal/qa"
	"github.com/storelift/cafe24-harvester/internal/ratelimit"
	"github.com/storelift/cafe24-harvester/internal/report"
	"github.com/storelift/cafe24-harvester/internal/transform"
)

type Pipeline struct {
	cfg    *config.Config
	parser parser.Parser
	sink   audit.Sink
	logger *slog.Logger

	// set by fetchAll, read for run stats afterwards
	orch *orchestrator.Orchestrator
}

func New(cfg *config.Config, sink audit.Sink, logger *slog.Logger) *Pipeline {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Pipeline{
		cfg:    cfg,
		parser: parser.NewCafe24Parser(),
		sink:   sink,
		logger: logger.With("component", "pipeline"),
	}
}

// Execute runs a full harvest and returns the run report. The crop template
// is verified against its recorded content hash before the first fetch: a
// drifted template aborts the run outright rather than producing a batch of
// silently mis-cropped images.
func (p *Pipeline) Execute(ctx context.Context, runID, inputPath, outputDir string) (*report.Report, error) {
	startedAt := time.Now()

	template, err := imaging.LoadTemplate(p.cfg.Imaging.TemplatePath, p.cfg.Imaging.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("template verification failed: %w", err)
	}

	inputs, err := ingest.LoadInputs(inputPath)
	if err != nil {
		return nil, err
	}

	imagesDir := filepath.Join(outputDir, "images")
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	auditPath := filepath.Join(outputDir, p.cfg.Output.AuditLogName)
	fileSink, err := audit.NewFileSink(auditPath)
	if err != nil {
		return nil, err
	}
	sink := audit.NewMultiSink(p.sink, fileSink)
	defer fileSink.Close()

	_ = sink.Append(audit.NewEvent(audit.EventRunStarted, map[string]string{
		"run_id":     runID,
		"input":      inputPath,
		"total_urls": fmt.Sprintf("%d", len(inputs)),
	}))

	flags := qa.NewCollector()

	tasks := make([]*orchestrator.UrlTask, 0, len(inputs))
	for _, input := range inputs {
		tasks = append(tasks, orchestrator.NewUrlTask(input.StoreLabel, input.URL))
	}

	if err := p.fetchAll(ctx, tasks, flags, sink, outputDir); err != nil {
		return nil, err
	}

	raws, parseFailures := p.extract(tasks)
	p.processImages(ctx, template, flags, raws, imagesDir)

	records := make([]*models.ImportRecord, 0, len(raws))
	for _, raw := range raws {
		record, err := transform.ToImportRecord(raw)
		if err != nil {
			p.logger.Warn("failed to transform product", "url", raw.SourceURL, "error", err)
			parseFailures++
			continue
		}
		records = append(records, record)
	}

	csvPath := filepath.Join(outputDir, p.cfg.Output.CSVName)
	if err := export.WriteCSV(csvPath, records); err != nil {
		return nil, err
	}

	archivePath := ""
	if p.cfg.Output.ZipOutputs {
		archivePath = filepath.Join(outputDir, p.cfg.Output.ZipImagesName)
		if err := export.ZipDirectory(imagesDir, archivePath); err != nil {
			return nil, err
		}

		// Render screenshots exist only when headless fallbacks occurred.
		shotsDir := filepath.Join(outputDir, "screenshots")
		if info, statErr := os.Stat(shotsDir); statErr == nil && info.IsDir() {
			shotsArchive := filepath.Join(outputDir, p.cfg.Output.ZipShotsName)
			if err := export.ZipDirectory(shotsDir, shotsArchive); err != nil {
				p.logger.Warn("failed to archive screenshots", "error", err)
			}
		}
	}

	stats := p.orch.Stats(tasks)
	rep := &report.Report{
		RunID:                runID,
		StartedAt:            startedAt,
		FinishedAt:           time.Now(),
		TotalURLs:            len(inputs),
		Succeeded:            stats.Succeeded,
		RetriedThenSucceeded: stats.RetriedThenSucceeded,
		FailedPermanent:      stats.FailedPermanent,
		ParseFailures:        parseFailures,
		CaptchaTriggers:      stats.CaptchaTriggers,
		IdentityRotations:    stats.IdentityRotations,
		Flags:                flags.Drain(),
		ExportCSV:            csvPath,
		ImageArchive:         archivePath,
		AuditLog:             auditPath,
	}

	summaryPath := filepath.Join(outputDir, p.cfg.Output.SummaryName)
	if err := export.WriteRunSummary(summaryPath, rep); err != nil {
		return nil, err
	}

	_ = sink.Append(audit.NewEvent(audit.EventRunFinished, map[string]string{
		"run_id":           runID,
		"succeeded":        fmt.Sprintf("%d", rep.Succeeded),
		"failed_permanent": fmt.Sprintf("%d", rep.FailedPermanent),
		"qa_flags":         fmt.Sprintf("%d", len(rep.Flags)),
	}))

	p.logger.Info("run finished",
		"run_id", runID,
		"total", rep.TotalURLs,
		"succeeded", rep.Succeeded,
		"failed", rep.FailedPermanent,
		"duration", rep.Duration())
	return rep, nil
}

// fetchAll drives every task to a terminal state. Stats are read afterwards
// through the tasks themselves.
func (p *Pipeline) fetchAll(ctx context.Context, tasks []*orchestrator.UrlTask, flags *qa.Collector, sink audit.Sink, outputDir string) error {
	proxies := p.cfg.Identity.Proxies
	if len(proxies) == 0 {
		// Single direct-connection identity when no proxies are configured.
		proxies = []string{""}
	}

	pool, err := identity.NewPool(proxies, identity.PoolOptions{
		CooldownAfter:    p.cfg.Identity.CooldownAfter,
		CooldownWindow:   p.cfg.Identity.CooldownWindow,
		BlacklistCeiling: p.cfg.Identity.BlacklistCeiling,
	}, sink, p.logger)
	if err != nil {
		return err
	}

	governor := ratelimit.NewGovernor(ratelimit.Options{
		DelayMin:       p.cfg.Scraper.DelayMin,
		DelayMax:       p.cfg.Scraper.DelayMax,
		RequestsPerMin: p.cfg.Scraper.RequestsPerMin,
		WindowSize:     p.cfg.Scraper.BlockRatioWindow,
	})

	b, err := browser.New(&browser.Options{
		Headless:       p.cfg.Browser.Headless,
		Timeout:        p.cfg.Browser.Timeout,
		ViewportWidth:  p.cfg.Browser.ViewportWidth,
		ViewportHeight: p.cfg.Browser.ViewportHeight,
		AcceptLanguage: p.cfg.Browser.AcceptLanguage,
		TimezoneID:     p.cfg.Browser.TimezoneID,
		Locale:         p.cfg.Browser.Locale,
		TraceDir:       p.cfg.Browser.TraceDir,
		ScreenshotDir:  filepath.Join(outputDir, "screenshots"),
	})
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer b.Close()

	renderer := fetch.NewHeadlessRenderer(b, p.logger)
	selector := fetch.NewSelector(renderer, fetch.Options{
		MaxSessions:  p.cfg.Browser.MaxSessions,
		FetchTimeout: p.cfg.Scraper.FetchTimeout,
		UserAgents:   p.cfg.Scraper.UserAgents,
	}, sink, p.logger)

	var solver captcha.Solver
	if p.cfg.Captcha.APIKey != "" {
		solver = captcha.NewHTTPSolver(captcha.Options{
			Endpoint:     p.cfg.Captcha.Endpoint,
			APIKey:       p.cfg.Captcha.APIKey,
			PollInterval: p.cfg.Captcha.PollInterval,
			Timeout:      p.cfg.Captcha.Timeout,
		}, sink, p.logger)
	}

	orch := orchestrator.New(pool, governor, selector, solver, flags, orchestrator.Options{
		MaxAttempts: p.cfg.Scraper.MaxAttempts,
		Workers:     p.cfg.Scraper.ConcurrentTasks,
	}, p.logger)

	p.orch = orch
	return orch.Run(ctx, tasks)
}

// extract parses every succeeded payload into a raw product.
func (p *Pipeline) extract(tasks []*orchestrator.UrlTask) ([]*models.RawProduct, int) {
	raws := make([]*models.RawProduct, 0, len(tasks))
	parseFailures := 0

	for _, task := range tasks {
		if task.State != orchestrator.StateSucceeded || task.Payload == nil {
			continue
		}

		raw, err := p.parser.ParseProductPage(task.Payload.HTML, task.StoreLabel, task.URL)
		if err != nil {
			parseFailures++
			p.logger.Warn("failed to parse product page", "url", task.URL, "error", err)
			continue
		}
		raws = append(raws, raw)
	}
	return raws, parseFailures
}

func (p *Pipeline) processImages(ctx context.Context, template *imaging.Template, flags *qa.Collector, raws []*models.RawProduct, imagesDir string) {
	mgr, err := media.NewManager(template, flags, media.Options{
		OutputDir:     imagesDir,
		Workers:       p.cfg.Imaging.Workers,
		MatchMin:      p.cfg.Imaging.MatchMin,
		NearThreshold: p.cfg.Imaging.NearThreshold,
		CropEpsilon:   p.cfg.Imaging.CropEpsilon,
		JPEGQuality:   p.cfg.Imaging.JPEGQuality,
		MaxWidth:      p.cfg.Imaging.MaxWidth,
	}, p.logger)
	if err != nil {
		p.logger.Error("failed to start media manager", "error", err)
		return
	}

	mgr.Start(ctx)
	for _, raw := range raws {
		prefix := transform.Handle(raw.StoreLabel, raw.Title)
		if prefix == "" {
			prefix = "product"
		}
		mgr.DownloadProduct(ctx, raw, prefix)
	}
	mgr.Close()
}

// SummaryJSON serializes a report for persistence alongside the run row.
func SummaryJSON(rep *report.Report) (json.RawMessage, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}
