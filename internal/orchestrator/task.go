package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/storelift/cafe24-harvester/internal/fetch"
)

type TaskState string

const (
	StatePending         TaskState = "pending"
	StateInFlight        TaskState = "in-flight"
	StateRetryQueued     TaskState = "retry-queued"
	StateSucceeded       TaskState = "succeeded"
	StateFailedPermanent TaskState = "failed-permanent"
)

func (s TaskState) Terminal() bool {
	return s == StateSucceeded || s == StateFailedPermanent
}

type AttemptOutcome string

const (
	OutcomeSuccess     AttemptOutcome = "success"
	OutcomeBlocked     AttemptOutcome = "blocked"
	OutcomeTimeout     AttemptOutcome = "timeout"
	OutcomeChallenge   AttemptOutcome = "challenge"
	OutcomeRenderError AttemptOutcome = "render-error"
	OutcomeError       AttemptOutcome = "error"
)

// FetchAttempt records one try to retrieve a URL. Immutable once appended.
type FetchAttempt struct {
	URL        string         `json:"url"`
	Strategy   fetch.Strategy `json:"strategy"`
	IdentityID string         `json:"identity_id"`
	Outcome    AttemptOutcome `json:"outcome"`
	Timestamp  time.Time      `json:"timestamp"`
	Ordinal    int            `json:"ordinal"`
}

// UrlTask is one unit of work progressing through the attempt state machine.
// Owned by the orchestrator; a task in a terminal state is never rescheduled.
type UrlTask struct {
	ID         string
	StoreLabel string
	URL        string
	State      TaskState
	Attempts   []FetchAttempt
	Payload    *fetch.Payload

	// consecutive ChallengeDetected outcomes, reset by any other outcome
	consecutiveChallenges int
	// resolved CAPTCHA token applied to the next fetch
	token string
}

func NewUrlTask(storeLabel, url string) *UrlTask {
	return &UrlTask{
		ID:         uuid.New().String(),
		StoreLabel: storeLabel,
		URL:        url,
		State:      StatePending,
		Attempts:   make([]FetchAttempt, 0),
	}
}

// recordAttempt appends the next attempt with a monotonically increasing
// ordinal.
func (t *UrlTask) recordAttempt(strategy fetch.Strategy, identityID string, outcome AttemptOutcome) FetchAttempt {
	attempt := FetchAttempt{
		URL:        t.URL,
		Strategy:   strategy,
		IdentityID: identityID,
		Outcome:    outcome,
		Timestamp:  time.Now(),
		Ordinal:    len(t.Attempts) + 1,
	}
	t.Attempts = append(t.Attempts, attempt)
	return attempt
}
