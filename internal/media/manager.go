// Package media downloads product images and runs them through the imaging
// pipeline. Downloads are I/O-bound and happen on the caller's goroutine;
// template matching, cropping and optimization are CPU-bound and run on a
// dedicated worker pool so image processing never starves fetch concurrency.
package media

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/storelift/cafe24-harvester/internal/imaging"
	"github.com/storelift/cafe24-harvester/internal/models"
	"github.com/storelift/cafe24-harvester/internal/qa"
)

const (
	KindMain    = "main"
	KindGallery = "gallery"
	KindDetail  = "detail"
)

type Options struct {
	OutputDir     string
	Workers       int
	MatchMin      float64
	NearThreshold float64
	CropEpsilon   int
	JPEGQuality   int
	MaxWidth      int
	Timeout       time.Duration
}

type Manager struct {
	client   *http.Client
	template *imaging.Template
	flags    *qa.Collector
	opts     Options
	logger   *slog.Logger

	jobs chan processJob
	wg   sync.WaitGroup
}

type processJob struct {
	path      string
	kind      string
	productID string
	imageID   string
}

func NewManager(template *imaging.Template, flags *qa.Collector, opts Options, logger *slog.Logger) (*Manager, error) {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MatchMin <= 0 {
		opts.MatchMin = 0.8
	}
	if opts.NearThreshold <= 0 {
		opts.NearThreshold = 0.8
	}
	if opts.CropEpsilon <= 0 {
		opts.CropEpsilon = 10
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 90
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image output directory: %w", err)
	}

	return &Manager{
		client:   &http.Client{Timeout: opts.Timeout},
		template: template,
		flags:    flags,
		opts:     opts,
		logger:   logger.With("component", "media_manager"),
		jobs:     make(chan processJob, opts.Workers*4),
	}, nil
}

// Start launches the CPU worker pool.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-m.jobs:
					if !ok {
						return
					}
					m.processImage(job)
				}
			}
		}()
	}
}

// Close signals no more downloads and waits for in-flight processing.
func (m *Manager) Close() {
	close(m.jobs)
	m.wg.Wait()
}

// DownloadProduct fetches all of a product's images, rewrites the product's
// image references to local paths, and enqueues each file for processing.
// Per-image failures are logged and skipped, never fatal.
func (m *Manager) DownloadProduct(ctx context.Context, raw *models.RawProduct, prefix string) {
	if raw.MainImage != "" {
		if path, err := m.download(ctx, raw.MainImage, prefix, KindMain, 1); err == nil {
			raw.MainImage = path
			m.enqueue(ctx, processJob{path: path, kind: KindMain, productID: prefix})
		} else {
			m.logger.Warn("failed to download image", "url", raw.MainImage, "kind", KindMain, "error", err)
			raw.MainImage = ""
		}
	}

	raw.GalleryImages = m.downloadAll(ctx, raw.GalleryImages, prefix, KindGallery)
	raw.DetailImages = m.downloadAll(ctx, raw.DetailImages, prefix, KindDetail)
}

func (m *Manager) downloadAll(ctx context.Context, urls []string, prefix, kind string) []string {
	paths := make([]string, 0, len(urls))
	for i, src := range urls {
		path, err := m.download(ctx, src, prefix, kind, i+1)
		if err != nil {
			m.logger.Warn("failed to download image", "url", src, "kind", kind, "error", err)
			continue
		}
		paths = append(paths, path)
		m.enqueue(ctx, processJob{
			path:      path,
			kind:      kind,
			productID: prefix,
			imageID:   fmt.Sprintf("%s_%s_%d", prefix, kind, i+1),
		})
	}
	return paths
}

func (m *Manager) download(ctx context.Context, src, prefix, kind string, index int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	ext := inferExtension(src)
	filename := fmt.Sprintf("%s_%s_%d%s", prefix, kind, index, ext)
	destination := filepath.Join(m.opts.OutputDir, filename)

	file, err := os.Create(destination)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}

	return destination, nil
}

// enqueue hands a downloaded file to the CPU pool. The workers exit on ctx
// cancellation, so a full buffer must never be waited on unconditionally.
func (m *Manager) enqueue(ctx context.Context, job processJob) {
	select {
	case m.jobs <- job:
	case <-ctx.Done():
	}
}

// processImage runs on the CPU pool: detail images go through template
// matching and cropping, then everything is optimized and re-encoded.
func (m *Manager) processImage(job processJob) {
	img, err := imaging.LoadImage(job.path)
	if err != nil {
		m.logger.Warn("failed to load downloaded image", "path", job.path, "error", err)
		return
	}

	if job.kind == KindDetail && m.template != nil {
		img = m.cropDetail(job, img)
	}

	img = imaging.Optimize(img, m.opts.MaxWidth)

	if err := imaging.SaveImage(img, job.path, m.opts.JPEGQuality); err != nil {
		m.logger.Warn("failed to save processed image", "path", job.path, "error", err)
	}
}

// cropDetail matches the supplier block and crops below it. Rejected matches
// route to the QA flag path and leave the image untouched.
func (m *Manager) cropDetail(job processJob, img image.Image) image.Image {
	match := imaging.Match(job.imageID, img, m.template, imaging.MatchOptions{
		NearThreshold: m.opts.NearThreshold,
	})

	if !match.Accepted(m.opts.MatchMin) {
		reason := qa.ReasonLowConfidenceMatch
		if match.NearCount > 1 {
			reason = qa.ReasonMultiMatch
		}
		m.flags.Record(qa.Flag{
			ProductID: job.productID,
			ImageID:   job.imageID,
			Reason:    reason,
			Detail:    fmt.Sprintf("score=%.3f near=%d", match.Score, match.NearCount),
		})
		m.logger.Info("detail image flagged for review",
			"image", job.imageID, "score", match.Score, "near", match.NearCount)
		return img
	}

	cropped, err := imaging.Crop(img, match, m.template.Height, imaging.CropOptions{
		Epsilon:  m.opts.CropEpsilon,
		MinScore: m.opts.MatchMin,
	})
	if err != nil {
		m.logger.Warn("crop failed", "image", job.imageID, "error", err)
		return img
	}

	m.logger.Info("detail image cropped", "image", job.imageID, "y", match.Y, "score", match.Score)
	return cropped
}

func inferExtension(src string) string {
	parsed, err := url.Parse(src)
	if err != nil {
		return ".jpg"
	}
	ext := strings.ToLower(filepath.Ext(parsed.Path))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return ext
	}
	return ".jpg"
}
