// Package executor implements the resilient call executor: every
// inference call is wrapped in a provision → attempt → classify → report
// loop that substitutes a fresh credential after auth or quota failures,
// bounded by an attempt ceiling. Streamed calls additionally obey the
// first-chunk rule: once output has reached the caller, a failed attempt
// is surfaced instead of silently replaced.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/abdhe/inferoxy-hub/pkg/metrics"
	"github.com/abdhe/inferoxy-hub/pkg/provider"
	"github.com/abdhe/inferoxy-hub/pkg/resilience"
	"github.com/abdhe/inferoxy-hub/pkg/tokenproxy"
)

// DefaultMaxAttempts is the attempt ceiling when none is configured.
const DefaultMaxAttempts = 3

// Provisioner obtains a fresh credential for one call attempt.
type Provisioner interface {
	Provision(ctx context.Context, capability tokenproxy.Capability) (tokenproxy.Credential, error)
}

// Reporter delivers an outcome report for one terminal call attempt.
// Implementations must not block the caller.
type Reporter interface {
	Report(cred tokenproxy.Credential, outcome provider.Outcome, meta tokenproxy.ReportMetadata)
}

// Executor drives the attempt loop. One Executor is safe for concurrent
// use; each call owns its own attempt counter and credential.
type Executor struct {
	provisioner Provisioner
	reporter    Reporter
	maxAttempts int
	backoff     resilience.Backoff
	logger      *slog.Logger
}

// Config tunes an Executor.
type Config struct {
	MaxAttempts int
	Backoff     resilience.Backoff
	Logger      *slog.Logger
}

// New creates an Executor.
func New(provisioner Provisioner, reporter Reporter, cfg Config) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff == (resilience.Backoff{}) {
		cfg.Backoff = resilience.DefaultBackoff()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		provisioner: provisioner,
		reporter:    reporter,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		logger:      logger.With("component", "executor"),
	}
}

// Do runs one unary operation to completion. call performs the provider
// request with the provisioned credential and returns a classified error
// on failure. The caller observes only the final success or the final
// user-facing error, never intermediate credential failures.
func (e *Executor) Do(ctx context.Context, capability tokenproxy.Capability, call func(ctx context.Context, token string) error) error {
	callID := uuid.NewString()
	logger := e.logger.With("call_id", callID, "capability", string(capability))

	for attempt := 1; ; attempt++ {
		cred, err := e.provision(ctx, capability)
		if err != nil {
			logger.Warn("provisioning failed", "attempt", attempt, "error", err)
			return &Error{Kind: KindProxyUnavailable, Attempts: attempt, cause: err}
		}

		err = call(ctx, cred.Token)
		outcome := provider.Classify(err)
		e.report(cred, outcome, capability, callID, err)
		metrics.AttemptsTotal.WithLabelValues(string(capability), string(outcome)).Inc()

		if err == nil {
			return nil
		}

		logger.Warn("attempt failed", "attempt", attempt, "outcome", string(outcome), "token_id", cred.ID)

		if outcome.Retryable() && attempt < e.maxAttempts {
			if waitErr := e.wait(ctx, attempt); waitErr != nil {
				return &Error{Kind: KindTransport, Attempts: attempt, cause: waitErr}
			}
			continue
		}
		return e.terminal(outcome, attempt, err)
	}
}

func (e *Executor) provision(ctx context.Context, capability tokenproxy.Capability) (tokenproxy.Credential, error) {
	start := time.Now()
	cred, err := e.provisioner.Provision(ctx, capability)
	metrics.ProvisionLatency.Observe(time.Since(start).Seconds())
	return cred, err
}

func (e *Executor) report(cred tokenproxy.Credential, outcome provider.Outcome, capability tokenproxy.Capability, callID string, err error) {
	meta := tokenproxy.ReportMetadata{
		Capability: capability,
		CallID:     callID,
	}
	if err != nil {
		meta.StatusCode = provider.StatusCode(err)
		meta.Detail = err.Error()
	}
	e.reporter.Report(cred, outcome, meta)
}

// wait sleeps the jittered backoff before retry number attempt, honoring
// cancellation.
func (e *Executor) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(e.backoff.Delay(attempt - 1))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// terminal maps the last attempt's failure to the single user-facing
// error of the call.
func (e *Executor) terminal(outcome provider.Outcome, attempts int, cause error) *Error {
	switch outcome {
	case provider.OutcomeInvalidRequest:
		detail := ""
		var ce *provider.CallError
		if errors.As(cause, &ce) {
			detail = ce.Detail
		}
		return &Error{Kind: KindInvalid, Attempts: attempts, Detail: detail, cause: cause}
	case provider.OutcomeAuthFailure, provider.OutcomeQuotaFailure:
		return &Error{Kind: KindExhausted, Attempts: attempts, cause: cause}
	default:
		return &Error{Kind: KindTransport, Attempts: attempts, cause: cause}
	}
}
