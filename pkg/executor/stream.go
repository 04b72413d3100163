package executor

import (
	"context"

	"github.com/google/uuid"

	"github.com/abdhe/inferoxy-hub/pkg/metrics"
	"github.com/abdhe/inferoxy-hub/pkg/provider"
	"github.com/abdhe/inferoxy-hub/pkg/tokenproxy"
)

// Stream runs one streaming operation. open performs the provider request
// with the provisioned credential and hands back the source chunk
// channel. Chunks are relayed to the returned channel in arrival order.
//
// A failed attempt is replaced with a fresh credential only while nothing
// has been relayed yet; once the caller has seen output, splicing in a
// second, differently-sourced stream would present an inconsistent
// conversation, so the failure is surfaced instead. The returned channel
// is closed after the terminal chunk (Done or Err).
func (e *Executor) Stream(ctx context.Context, capability tokenproxy.Capability, open func(ctx context.Context, token string) (<-chan provider.StreamChunk, error)) <-chan provider.StreamChunk {
	out := make(chan provider.StreamChunk)
	callID := uuid.NewString()
	logger := e.logger.With("call_id", callID, "capability", string(capability))

	go func() {
		defer close(out)

		for attempt := 1; ; attempt++ {
			cred, err := e.provision(ctx, capability)
			if err != nil {
				logger.Warn("provisioning failed", "attempt", attempt, "error", err)
				e.emit(ctx, out, provider.StreamChunk{Err: &Error{Kind: KindProxyUnavailable, Attempts: attempt, cause: err}})
				return
			}

			src, err := open(ctx, cred.Token)
			if err == nil {
				var delivered bool
				delivered, err = e.relay(ctx, src, out)
				if err == nil {
					e.report(cred, provider.OutcomeSuccess, capability, callID, nil)
					metrics.AttemptsTotal.WithLabelValues(string(capability), string(provider.OutcomeSuccess)).Inc()
					return
				}
				if delivered {
					// Output already reached the caller: report, then
					// disclose the discontinuity rather than retry.
					outcome := provider.Classify(err)
					e.report(cred, outcome, capability, callID, err)
					metrics.AttemptsTotal.WithLabelValues(string(capability), string(outcome)).Inc()
					logger.Warn("stream failed after delivery", "attempt", attempt, "outcome", string(outcome), "token_id", cred.ID)
					e.emit(ctx, out, provider.StreamChunk{Err: e.terminal(provider.OutcomeTransportFailure, attempt, err)})
					return
				}
			}

			outcome := provider.Classify(err)
			e.report(cred, outcome, capability, callID, err)
			metrics.AttemptsTotal.WithLabelValues(string(capability), string(outcome)).Inc()
			logger.Warn("stream attempt failed", "attempt", attempt, "outcome", string(outcome), "token_id", cred.ID)

			if outcome.Retryable() && attempt < e.maxAttempts {
				if waitErr := e.wait(ctx, attempt); waitErr != nil {
					e.emit(ctx, out, provider.StreamChunk{Err: &Error{Kind: KindTransport, Attempts: attempt, cause: waitErr}})
					return
				}
				continue
			}
			e.emit(ctx, out, provider.StreamChunk{Err: e.terminal(outcome, attempt, err)})
			return
		}
	}()

	return out
}

// relay forwards chunks from src to out until the stream ends. It returns
// whether any content chunk was delivered downstream, and the terminal
// error (nil on a clean end). Cancellation counts as a transport failure
// so the attempt is still reported and the proxy's bookkeeping stays
// accurate.
func (e *Executor) relay(ctx context.Context, src <-chan provider.StreamChunk, out chan<- provider.StreamChunk) (bool, error) {
	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, cancelled(ctx)
		case chunk, ok := <-src:
			if !ok {
				// Producer closed without a terminal chunk: clean end.
				return delivered, nil
			}
			if chunk.Err != nil {
				return delivered, chunk.Err
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				return delivered, cancelled(ctx)
			}
			metrics.StreamChunksTotal.Inc()
			if chunk.Done {
				return delivered, nil
			}
			if chunk.Text != "" {
				delivered = true
			}
		}
	}
}

func cancelled(ctx context.Context) error {
	detail := "stream cancelled by caller"
	if ctx.Err() == context.DeadlineExceeded {
		detail = "stream timed out"
	}
	return &provider.CallError{Outcome: provider.OutcomeTransportFailure, Detail: detail}
}

// emit sends the terminal chunk without wedging on a caller that already
// went away.
func (e *Executor) emit(ctx context.Context, out chan<- provider.StreamChunk, chunk provider.StreamChunk) {
	select {
	case out <- chunk:
	case <-ctx.Done():
	}
}
