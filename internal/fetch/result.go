package fetch

import (
	"errors"
	"time"
)

var (
	ErrBlocked           = errors.New("blocked by anti-bot")
	ErrTimeout           = errors.New("fetch timed out")
	ErrChallengeDetected = errors.New("challenge detected")
	ErrRenderError       = errors.New("render error")
)

type Strategy string

const (
	StrategyLightweight Strategy = "lightweight"
	StrategyHeadless    Strategy = "headless"
)

// Payload is a successfully rendered page.
type Payload struct {
	URL       string
	HTML      string
	Strategy  Strategy
	FetchedAt time.Time
}

// LightKind tags the outcome of a lightweight attempt. Modelling the
// fall-back decision as an explicit variant keeps the headless transition
// testable instead of inferred from side effects.
type LightKind int

const (
	LightPayload LightKind = iota
	LightNeedsRender
	LightFailed
)

// LightResult is the tagged result of the lightweight strategy:
// Lightweight(payload) | NeedsRender | Failed(err).
type LightResult struct {
	Kind    LightKind
	Payload *Payload
	Err     error
}
