package fetch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storelift/cafe24-harvester/internal/audit"
	"github.com/storelift/cafe24-harvester/internal/identity"
)

const productHTML = `<html><head><meta property="og:title" content="코트"/></head>
<body><div id="prdDetail"><img src="/d1.jpg"/></div></body></html>`

const shellHTML = `<html><head></head><body><div id="app"></div>
<script src="/bundle.js"></script></body></html>`

const challengeHTML = `<html><body><div class="g-recaptcha" data-sitekey="key"></div></body></html>`

type stubRenderer struct {
	html  string
	err   error
	calls int
}

func (r *stubRenderer) Render(_ context.Context, _, _, _ string) (string, error) {
	r.calls++
	return r.html, r.err
}

func newTestSelector(t *testing.T, renderer Renderer) (*Selector, *httpmock.MockTransport, *audit.MemorySink) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	sink := audit.NewMemorySink()
	s := NewSelector(renderer, Options{Transport: mt}, sink, slog.Default())
	return s, mt, sink
}

func TestFetchLightweightSuccess(t *testing.T) {
	s, mt, _ := newTestSelector(t, nil)
	mt.RegisterResponder("GET", "https://shop.example.com/p/1",
		httpmock.NewStringResponder(200, productHTML))

	result := s.FetchLightweight(context.Background(), "https://shop.example.com/p/1", nil, "")

	require.Equal(t, LightPayload, result.Kind)
	assert.Equal(t, StrategyLightweight, result.Payload.Strategy)
	assert.Contains(t, result.Payload.HTML, "prdDetail")
}

func TestFetchLightweightNeedsRender(t *testing.T) {
	s, mt, _ := newTestSelector(t, nil)
	mt.RegisterResponder("GET", "https://shop.example.com/p/1",
		httpmock.NewStringResponder(200, shellHTML))

	result := s.FetchLightweight(context.Background(), "https://shop.example.com/p/1", nil, "")
	assert.Equal(t, LightNeedsRender, result.Kind)
}

func TestFetchLightweightBlocked(t *testing.T) {
	for _, status := range []int{403, 429} {
		s, mt, _ := newTestSelector(t, nil)
		mt.RegisterResponder("GET", "https://shop.example.com/p/1",
			httpmock.NewStringResponder(status, "denied"))

		result := s.FetchLightweight(context.Background(), "https://shop.example.com/p/1", nil, "")
		require.Equal(t, LightFailed, result.Kind)
		assert.ErrorIs(t, result.Err, ErrBlocked, "status %d", status)
	}
}

func TestFetchLightweightChallengeDetected(t *testing.T) {
	s, mt, _ := newTestSelector(t, nil)
	mt.RegisterResponder("GET", "https://shop.example.com/p/1",
		httpmock.NewStringResponder(200, challengeHTML))

	result := s.FetchLightweight(context.Background(), "https://shop.example.com/p/1", nil, "")
	require.Equal(t, LightFailed, result.Kind)
	assert.ErrorIs(t, result.Err, ErrChallengeDetected)
}

func TestFetchLightweightSendsToken(t *testing.T) {
	s, mt, _ := newTestSelector(t, nil)

	var gotCookie string
	mt.RegisterResponder("GET", "https://shop.example.com/p/1",
		func(req *http.Request) (*http.Response, error) {
			if c, err := req.Cookie("g-recaptcha-response"); err == nil {
				gotCookie = c.Value
			}
			return httpmock.NewStringResponse(200, productHTML), nil
		})

	result := s.FetchLightweight(context.Background(), "https://shop.example.com/p/1", nil, "solved-token")
	require.Equal(t, LightPayload, result.Kind)
	assert.Equal(t, "solved-token", gotCookie)
}

func TestFetchFallsBackToHeadless(t *testing.T) {
	renderer := &stubRenderer{html: productHTML}
	s, mt, sink := newTestSelector(t, renderer)
	mt.RegisterResponder("GET", "https://shop.example.com/p/1",
		httpmock.NewStringResponder(200, shellHTML))

	ident := &identity.Identity{ID: "identity-0"}
	payload, err := s.Fetch(context.Background(), Target{TaskID: "t1", URL: "https://shop.example.com/p/1"}, ident, "")
	require.NoError(t, err)

	assert.Equal(t, StrategyHeadless, payload.Strategy)
	assert.Equal(t, 1, renderer.calls)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventHeadlessFallback, events[0].Kind)
	assert.Equal(t, "identity-0", events[0].Fields["identity_id"])
}

func TestFetchDoesNotFallBackOnLightweightSuccess(t *testing.T) {
	renderer := &stubRenderer{html: productHTML}
	s, mt, sink := newTestSelector(t, renderer)
	mt.RegisterResponder("GET", "https://shop.example.com/p/1",
		httpmock.NewStringResponder(200, productHTML))

	payload, err := s.Fetch(context.Background(), Target{TaskID: "t1", URL: "https://shop.example.com/p/1"}, nil, "")
	require.NoError(t, err)

	assert.Equal(t, StrategyLightweight, payload.Strategy)
	assert.Zero(t, renderer.calls)
	assert.Empty(t, sink.Events())
}

func TestFetchHeadlessChallenge(t *testing.T) {
	renderer := &stubRenderer{html: challengeHTML}
	s, mt, _ := newTestSelector(t, renderer)
	mt.RegisterResponder("GET", "https://shop.example.com/p/1",
		httpmock.NewStringResponder(200, shellHTML))

	_, err := s.Fetch(context.Background(), Target{TaskID: "t1", URL: "https://shop.example.com/p/1"}, nil, "")
	assert.ErrorIs(t, err, ErrChallengeDetected)
}

func TestFetchHeadlessRenderFailure(t *testing.T) {
	renderer := &stubRenderer{err: errors.New("browser crashed")}
	s, mt, _ := newTestSelector(t, renderer)
	mt.RegisterResponder("GET", "https://shop.example.com/p/1",
		httpmock.NewStringResponder(200, shellHTML))

	_, err := s.Fetch(context.Background(), Target{TaskID: "t1", URL: "https://shop.example.com/p/1"}, nil, "")
	assert.Error(t, err)
}

func TestClassifyChallengeMarkers(t *testing.T) {
	assert.True(t, challenged(200, `<div class="g-recaptcha"></div>`))
	assert.True(t, challenged(200, `<iframe src="https://hcaptcha.com/x"></iframe>`))
	assert.True(t, challenged(503, `<p>Confirm you are not a robot</p>`))
	assert.False(t, challenged(200, productHTML))
}
