// Package captcha escalates blocked fetches to an external solving service.
// The orchestrator invokes it only after two consecutive challenge outcomes
// for the same URL; every invocation is audited regardless of result.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/storelift/cafe24-harvester/internal/audit"
)

var (
	ErrSolverUnavailable = errors.New("captcha solver unavailable")
	ErrSolverTimeout     = errors.New("captcha solver timed out")
)

// Challenge describes the blocking page a fetch ran into.
type Challenge struct {
	URL     string
	SiteKey string
	Kind    string // e.g. "recaptcha-v2", "image"
	Body    string // raw challenge markup for image challenges
}

type Solver interface {
	Resolve(ctx context.Context, ch Challenge) (string, error)
}

type Options struct {
	Endpoint     string
	APIKey       string
	PollInterval time.Duration
	Timeout      time.Duration
}

// HTTPSolver talks to a 2captcha-style submit-then-poll API.
type HTTPSolver struct {
	client *http.Client
	opts   Options
	sink   audit.Sink
	logger *slog.Logger
}

func NewHTTPSolver(opts Options, sink audit.Sink, logger *slog.Logger) *HTTPSolver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if sink == nil {
		sink = audit.NopSink{}
	}

	return &HTTPSolver{
		client: &http.Client{Timeout: 30 * time.Second},
		opts:   opts,
		sink:   sink,
		logger: logger.With("component", "captcha_solver"),
	}
}

type submitRequest struct {
	Key     string `json:"key"`
	Method  string `json:"method"`
	SiteKey string `json:"sitekey,omitempty"`
	PageURL string `json:"pageurl"`
	Body    string `json:"body,omitempty"`
	JSON    int    `json:"json"`
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Resolve submits the challenge and polls until a token is ready or the
// solver budget is exhausted.
func (s *HTTPSolver) Resolve(ctx context.Context, ch Challenge) (token string, err error) {
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = err.Error()
		}
		if auditErr := s.sink.Append(audit.NewEvent(audit.EventCaptchaInvocation, map[string]string{
			"url":     ch.URL,
			"kind":    ch.Kind,
			"outcome": outcome,
		})); auditErr != nil {
			s.logger.Error("failed to audit captcha invocation", "url", ch.URL, "error", auditErr)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	taskID, err := s.submit(ctx, ch)
	if err != nil {
		return "", err
	}

	s.logger.Info("captcha submitted", "url", ch.URL, "task_id", taskID)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrSolverTimeout
			}
			return "", ctx.Err()
		case <-ticker.C:
			token, ready, err := s.poll(ctx, taskID)
			if err != nil {
				return "", err
			}
			if ready {
				s.logger.Info("captcha resolved", "url", ch.URL, "task_id", taskID)
				return token, nil
			}
		}
	}
}

func (s *HTTPSolver) submit(ctx context.Context, ch Challenge) (string, error) {
	payload := submitRequest{
		Key:     s.opts.APIKey,
		Method:  "userrecaptcha",
		SiteKey: ch.SiteKey,
		PageURL: ch.URL,
		JSON:    1,
	}
	if ch.Kind == "image" {
		payload.Method = "base64"
		payload.Body = ch.Body
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal solver request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.Endpoint+"/in.php", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSolverUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrSolverUnavailable, resp.StatusCode)
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSolverUnavailable, err)
	}
	if parsed.Status != 1 {
		return "", fmt.Errorf("%w: %s", ErrSolverUnavailable, parsed.Request)
	}

	return parsed.Request, nil
}

func (s *HTTPSolver) poll(ctx context.Context, taskID string) (string, bool, error) {
	url := fmt.Sprintf("%s/res.php?key=%s&action=get&id=%s&json=1", s.opts.Endpoint, s.opts.APIKey, taskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to build poll request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrSolverUnavailable, err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrSolverUnavailable, err)
	}

	if parsed.Status == 1 {
		return parsed.Request, true, nil
	}
	if parsed.Request == "CAPCHA_NOT_READY" {
		return "", false, nil
	}

	return "", false, fmt.Errorf("%w: %s", ErrSolverUnavailable, parsed.Request)
}
