// Package fetch chooses between a lightweight HTTP fetch and a headless
// browser render per URL. The lightweight strategy runs first; pages whose
// responses miss the expected structural markers fall back to a capacity-
// limited headless render.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/semaphore"

	"github.com/storelift/cafe24-harvester/internal/audit"
	"github.com/storelift/cafe24-harvester/internal/identity"
)

// Renderer executes a headless render. Implemented by HeadlessRenderer;
// stubbed in tests.
type Renderer interface {
	Render(ctx context.Context, pageURL, proxy, traceID string) (string, error)
}

// structural markers expected on a fully rendered Cafe24 product page
var structuralSelectors = []string{
	"#prdDetail",
	".xans-product-detail",
	"meta[property='og:title']",
}

type Options struct {
	MaxSessions  int
	FetchTimeout time.Duration
	UserAgents   []string

	// Transport overrides the per-identity proxy transport when set. Tests
	// install a mock transport here.
	Transport http.RoundTripper
}

type Selector struct {
	renderer Renderer
	sessions *semaphore.Weighted
	opts     Options
	sink     audit.Sink
	logger   *slog.Logger
}

func NewSelector(renderer Renderer, opts Options, sink audit.Sink, logger *slog.Logger) *Selector {
	if opts.MaxSessions < 1 {
		opts.MaxSessions = 3
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if sink == nil {
		sink = audit.NopSink{}
	}

	return &Selector{
		renderer: renderer,
		sessions: semaphore.NewWeighted(int64(opts.MaxSessions)),
		opts:     opts,
		sink:     sink,
		logger:   logger.With("component", "fetch_selector"),
	}
}

// Target identifies one fetch, tying artifacts back to the owning task.
type Target struct {
	TaskID string
	URL    string
}

// Fetch retrieves the page for a target through the given identity. token is
// a resolved CAPTCHA token from a prior escalation, empty otherwise.
func (s *Selector) Fetch(ctx context.Context, target Target, ident *identity.Identity, token string) (*Payload, error) {
	result := s.FetchLightweight(ctx, target.URL, ident, token)

	switch result.Kind {
	case LightPayload:
		return result.Payload, nil
	case LightFailed:
		return nil, result.Err
	case LightNeedsRender:
		return s.fetchHeadless(ctx, target, ident)
	}

	return nil, fmt.Errorf("unknown lightweight result kind: %d", result.Kind)
}

// FetchLightweight runs the lightweight strategy and reports the tagged
// outcome without falling back.
func (s *Selector) FetchLightweight(ctx context.Context, pageURL string, ident *identity.Identity, token string) LightResult {
	client, err := s.clientFor(ident)
	if err != nil {
		return LightResult{Kind: LightFailed, Err: fmt.Errorf("%w: %v", ErrRenderError, err)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return LightResult{Kind: LightFailed, Err: fmt.Errorf("failed to build request: %w", err)}
	}

	req.Header.Set("User-Agent", s.pickUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en;q=0.8")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "g-recaptcha-response", Value: token})
	}

	resp, err := client.Do(req)
	if err != nil {
		return LightResult{Kind: LightFailed, Err: classifyTransportError(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return LightResult{Kind: LightFailed, Err: classifyTransportError(err)}
	}

	html := string(body)

	if challenged(resp.StatusCode, html) {
		return LightResult{Kind: LightFailed, Err: ErrChallengeDetected}
	}

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return LightResult{Kind: LightFailed, Err: ErrBlocked}
	case resp.StatusCode != http.StatusOK:
		return LightResult{Kind: LightFailed, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if !hasStructuralMarkers(html) {
		return LightResult{Kind: LightNeedsRender}
	}

	return LightResult{Kind: LightPayload, Payload: &Payload{
		URL:       pageURL,
		HTML:      html,
		Strategy:  StrategyLightweight,
		FetchedAt: time.Now(),
	}}
}

// fetchHeadless renders the page in a browser session. Sessions are capped;
// a request past capacity queues on the semaphore rather than failing.
func (s *Selector) fetchHeadless(ctx context.Context, target Target, ident *identity.Identity) (*Payload, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("%w: no renderer configured", ErrRenderError)
	}

	if err := s.sessions.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sessions.Release(1)

	proxy := ""
	identityID := ""
	if ident != nil {
		proxy = ident.Proxy
		identityID = ident.ID
	}

	if err := s.sink.Append(audit.NewEvent(audit.EventHeadlessFallback, map[string]string{
		"task_id":     target.TaskID,
		"url":         target.URL,
		"identity_id": identityID,
	})); err != nil {
		s.logger.Error("failed to audit headless fallback", "url", target.URL, "error", err)
	}

	html, err := s.renderer.Render(ctx, target.URL, proxy, target.TaskID)
	if err != nil {
		return nil, err
	}

	if challenged(http.StatusOK, html) {
		return nil, ErrChallengeDetected
	}

	return &Payload{
		URL:       target.URL,
		HTML:      html,
		Strategy:  StrategyHeadless,
		FetchedAt: time.Now(),
	}, nil
}

func (s *Selector) clientFor(ident *identity.Identity) (*http.Client, error) {
	if s.opts.Transport != nil {
		return &http.Client{
			Transport: s.opts.Transport,
			Timeout:   s.opts.FetchTimeout,
		}, nil
	}

	transport := &http.Transport{}

	if ident != nil && ident.Proxy != "" {
		proxyURL, err := url.Parse(ident.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", ident.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   s.opts.FetchTimeout,
	}, nil
}

func (s *Selector) pickUserAgent() string {
	if len(s.opts.UserAgents) == 0 {
		return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	return s.opts.UserAgents[rand.Intn(len(s.opts.UserAgents))]
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrRenderError, err)
}

var challengeMarkers = []string{
	"g-recaptcha",
	"hcaptcha",
	"captchacharacters",
	"cf-challenge",
	"verify you are human",
}

func challenged(status int, html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return status == http.StatusServiceUnavailable && strings.Contains(lower, "robot")
}

func hasStructuralMarkers(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	for _, selector := range structuralSelectors {
		if doc.Find(selector).Length() > 0 {
			return true
		}
	}
	return false
}
