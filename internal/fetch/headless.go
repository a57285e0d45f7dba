package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/storelift/cafe24-harvester/internal/browser"
)

// HeadlessRenderer renders pages through a shared playwright browser, one
// fresh context per render so the proxy identity and HAR trace are scoped to
// the page.
type HeadlessRenderer struct {
	browser *browser.Browser
	logger  *slog.Logger
}

func NewHeadlessRenderer(b *browser.Browser, logger *slog.Logger) *HeadlessRenderer {
	return &HeadlessRenderer{
		browser: b,
		logger:  logger.With("component", "headless_renderer"),
	}
}

func (r *HeadlessRenderer) Render(ctx context.Context, pageURL, proxy, traceID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	session, err := r.browser.NewSession(proxy, traceID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRenderError, err)
	}
	defer session.Close()

	page, err := session.NewPage()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRenderError, err)
	}
	defer page.Close()

	// Abort the render promptly when the run is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			page.Close()
		case <-done:
		}
	}()

	if err := r.browser.Navigate(page, pageURL); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if isTimeout(err) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrRenderError, err)
	}

	r.browser.HumanizeInteraction(page)

	hasChallenge, err := r.browser.CheckChallenge(page)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRenderError, err)
	}
	if hasChallenge {
		return "", ErrChallengeDetected
	}

	html, err := page.Content()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %v", ErrRenderError, err)
	}

	if shot, err := r.browser.Screenshot(page, traceID); err != nil {
		r.logger.Warn("screenshot capture failed", "url", pageURL, "error", err)
	} else if shot != "" {
		r.logger.Debug("captured render screenshot", "url", pageURL, "path", shot)
	}

	if session.HARPath != "" {
		r.logger.Debug("recorded render trace", "url", pageURL, "har", session.HARPath)
	}

	return html, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
