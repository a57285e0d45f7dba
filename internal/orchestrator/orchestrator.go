// Package orchestrator drives the per-URL retry state machine:
// pending → in-flight → {succeeded | retry-queued | failed-permanent}.
// It owns all run state (tasks, retry queue, counters); a fresh instance is
// constructed per run so there is no ambient global state.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/storelift/cafe24-harvester/internal/captcha"
	"github.com/storelift/cafe24-harvester/internal/fetch"
	"github.com/storelift/cafe24-harvester/internal/identity"
	"github.com/storelift/cafe24-harvester/internal/qa"
)

// Fetcher retrieves a page for a task through an identity. Implemented by
// fetch.Selector.
type Fetcher interface {
	Fetch(ctx context.Context, target fetch.Target, ident *identity.Identity, token string) (*fetch.Payload, error)
}

// Governor paces outbound requests. Implemented by ratelimit.Governor.
type Governor interface {
	Wait(ctx context.Context) error
	Record(blocked bool)
}

type Options struct {
	MaxAttempts int
	Workers     int
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts: 2,
		Workers:     8,
	}
}

type Orchestrator struct {
	pool     *identity.Pool
	governor Governor
	fetcher  Fetcher
	solver   captcha.Solver
	flags    *qa.Collector
	logger   *slog.Logger
	opts     Options

	mu              sync.Mutex
	captchaTriggers int
}

func New(pool *identity.Pool, governor Governor, fetcher Fetcher, solver captcha.Solver, flags *qa.Collector, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.Workers < 1 {
		opts.Workers = DefaultOptions().Workers
	}

	return &Orchestrator{
		pool:     pool,
		governor: governor,
		fetcher:  fetcher,
		solver:   solver,
		flags:    flags,
		opts:     opts,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Run processes all tasks to a terminal state or until ctx is cancelled.
// Tasks are mutated in place; inspect their state and payloads afterwards.
func (o *Orchestrator) Run(ctx context.Context, tasks []*UrlTask) error {
	queue := newTaskQueue()

	remaining := len(tasks)
	var remainingMu sync.Mutex
	markDone := func() {
		remainingMu.Lock()
		remaining--
		if remaining == 0 {
			queue.Close()
		}
		remainingMu.Unlock()
	}

	for _, task := range tasks {
		if err := queue.Push(task); err != nil {
			return err
		}
	}
	if remaining == 0 {
		queue.Close()
	}

	var wg sync.WaitGroup
	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := queue.Pop(ctx)
				if err != nil {
					return
				}

				o.process(ctx, task)

				if task.State.Terminal() {
					markDone()
					continue
				}

				// retry-queued: FIFO by time of failure
				if err := queue.Push(task); err != nil {
					return
				}
			}
		}()
	}

	wg.Wait()
	return ctx.Err()
}

// process performs one in-flight pass for the task.
func (o *Orchestrator) process(ctx context.Context, task *UrlTask) {
	task.State = StateInFlight

	if err := o.governor.Wait(ctx); err != nil {
		// run cancelled while pacing; nothing was attempted
		task.State = StateRetryQueued
		return
	}

	ident, err := o.pool.Acquire()
	if err != nil {
		o.logger.Warn("no identity available", "url", task.URL, "error", err)
		task.recordAttempt(fetch.StrategyLightweight, "", OutcomeError)
		o.settleFailure(task, OutcomeError)
		return
	}

	payload, err := o.fetcher.Fetch(ctx, fetch.Target{TaskID: task.ID, URL: task.URL}, ident, task.token)
	task.token = ""

	if ctx.Err() != nil {
		// A cancelled attempt is neither success nor failure: identity
		// bookkeeping is untouched and no attempt is recorded.
		o.pool.Release(ident, identity.OutcomeCancelled)
		task.State = StateRetryQueued
		return
	}

	if err == nil {
		o.pool.Release(ident, identity.OutcomeSuccess)
		o.governor.Record(false)
		task.recordAttempt(payload.Strategy, ident.ID, OutcomeSuccess)
		task.consecutiveChallenges = 0
		task.Payload = payload
		task.State = StateSucceeded
		o.logger.Info("task succeeded", "url", task.URL, "strategy", string(payload.Strategy), "attempts", len(task.Attempts))
		return
	}

	outcome := outcomeFor(err)
	o.pool.Release(ident, identity.OutcomeFailure)
	o.governor.Record(outcome == OutcomeBlocked || outcome == OutcomeChallenge)
	task.recordAttempt(strategyFor(outcome), ident.ID, outcome)

	o.logger.Warn("attempt failed", "url", task.URL, "outcome", string(outcome), "attempt", len(task.Attempts))

	if outcome == OutcomeChallenge {
		task.consecutiveChallenges++
		if task.consecutiveChallenges >= 2 {
			o.escalate(ctx, task)
			return
		}
	} else {
		task.consecutiveChallenges = 0
	}

	o.settleFailure(task, outcome)
}

// escalate hands the task to the CAPTCHA solver after the second consecutive
// challenge. Solver success re-enters the retry queue carrying the resolved
// token; the escalated re-entry is granted even when the attempt budget is
// already spent, since the budget was consumed detecting the challenge.
func (o *Orchestrator) escalate(ctx context.Context, task *UrlTask) {
	o.mu.Lock()
	o.captchaTriggers++
	o.mu.Unlock()

	var token string
	err := captcha.ErrSolverUnavailable
	if o.solver != nil {
		token, err = o.solver.Resolve(ctx, captcha.Challenge{
			URL:  task.URL,
			Kind: "recaptcha-v2",
		})
	}

	if err != nil {
		if ctx.Err() != nil {
			// Run cancelled mid-solve: neither a success nor a failure, the
			// task keeps its streak and is retried if the run resumes.
			task.State = StateRetryQueued
			return
		}

		o.logger.Error("captcha escalation failed", "url", task.URL, "error", err)
		task.State = StateFailedPermanent
		o.flags.Record(qa.Flag{
			ProductID: task.URL,
			Reason:    qa.ReasonCaptchaExhausted,
			Detail:    err.Error(),
		})
		return
	}

	o.logger.Info("captcha resolved, re-entering", "url", task.URL)
	task.token = token
	task.consecutiveChallenges = 0
	task.State = StateRetryQueued
}

// settleFailure decides between retry-queued and failed-permanent based on
// the attempt budget.
func (o *Orchestrator) settleFailure(task *UrlTask, outcome AttemptOutcome) {
	if len(task.Attempts) < o.opts.MaxAttempts {
		task.State = StateRetryQueued
		return
	}

	task.State = StateFailedPermanent
	o.flags.Record(qa.Flag{
		ProductID: task.URL,
		Reason:    qa.ReasonPermanentFailure,
		Detail:    string(outcome),
	})
	o.logger.Warn("task failed permanently", "url", task.URL, "attempts", len(task.Attempts))
}

// Stats summarise a finished run for the execution report.
type Stats struct {
	Succeeded            int `json:"succeeded"`
	RetriedThenSucceeded int `json:"retried_then_succeeded"`
	FailedPermanent      int `json:"failed_permanent"`
	CaptchaTriggers      int `json:"captcha_triggers"`
	IdentityRotations    int `json:"identity_rotations"`
}

func (o *Orchestrator) Stats(tasks []*UrlTask) Stats {
	o.mu.Lock()
	triggers := o.captchaTriggers
	o.mu.Unlock()

	stats := Stats{
		CaptchaTriggers:   triggers,
		IdentityRotations: o.pool.Rotations(),
	}

	for _, task := range tasks {
		switch task.State {
		case StateSucceeded:
			stats.Succeeded++
			if len(task.Attempts) > 1 {
				stats.RetriedThenSucceeded++
			}
		case StateFailedPermanent:
			stats.FailedPermanent++
		}
	}

	return stats
}

func outcomeFor(err error) AttemptOutcome {
	switch {
	case errors.Is(err, fetch.ErrBlocked):
		return OutcomeBlocked
	case errors.Is(err, fetch.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, fetch.ErrChallengeDetected):
		return OutcomeChallenge
	case errors.Is(err, fetch.ErrRenderError):
		return OutcomeRenderError
	default:
		return OutcomeError
	}
}

func strategyFor(outcome AttemptOutcome) fetch.Strategy {
	if outcome == OutcomeRenderError {
		return fetch.StrategyHeadless
	}
	return fetch.StrategyLightweight
}
