// Package hub exposes the caller-facing operations of the AI hub:
// streamed chat messages and single-shot image generation, both executed
// through the resilient call executor with per-attempt credentials from
// the token proxy.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/abdhe/inferoxy-hub/pkg/executor"
	"github.com/abdhe/inferoxy-hub/pkg/metrics"
	"github.com/abdhe/inferoxy-hub/pkg/provider"
	"github.com/abdhe/inferoxy-hub/pkg/session"
	"github.com/abdhe/inferoxy-hub/pkg/tokenproxy"
)

// Hub wires the executor, the call adapters and the session store into
// the two user operations.
type Hub struct {
	exec     *executor.Executor
	chat     provider.ChatProvider
	image    provider.ImageProvider
	sessions session.Store
	logger   *slog.Logger
}

// New creates a Hub.
func New(exec *executor.Executor, chat provider.ChatProvider, image provider.ImageProvider, sessions session.Store, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		exec:     exec,
		chat:     chat,
		image:    image,
		sessions: sessions,
		logger:   logger.With("component", "hub"),
	}
}

// ChatOptions are the caller-tunable chat parameters.
type ChatOptions struct {
	Model         string
	Provider      string // may be "auto" or empty
	SystemMessage string
	Temperature   float64
	TopP          float64
	MaxTokens     int
}

// SendChatMessage streams the assistant's reply to message for the given
// session. History is loaded from the session store, the system message
// is prepended, and on a successful stream the user/assistant exchange is
// appended back to the store. The returned channel carries text chunks in
// order and ends with either a Done chunk or a single Err chunk holding
// the user-facing error.
func (h *Hub) SendChatMessage(ctx context.Context, sessionID, message string, opts ChatOptions) (<-chan provider.StreamChunk, error) {
	if strings.TrimSpace(message) == "" {
		return nil, &executor.Error{Kind: executor.KindInvalid, Detail: "message must not be empty"}
	}
	if opts.Model == "" {
		return nil, &executor.Error{Kind: executor.KindInvalid, Detail: "model must not be empty"}
	}

	history, err := h.sessions.History(ctx, sessionID)
	if err != nil {
		h.logger.Error("history load failed", "session_id", sessionID, "error", err)
		history = nil // degrade to a fresh conversation rather than fail the call
	}

	messages := make([]provider.Message, 0, len(history)+2)
	if opts.SystemMessage != "" {
		messages = append(messages, provider.Message{Role: "system", Content: opts.SystemMessage})
	}
	messages = append(messages, history...)
	messages = append(messages, provider.Message{Role: "user", Content: message})

	req := provider.ChatRequest{
		Model:       opts.Model,
		Provider:    opts.Provider,
		Messages:    messages,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
	}

	start := time.Now()
	metrics.ActiveCalls.Inc()

	src := h.exec.Stream(ctx, tokenproxy.CapabilityChat, func(ctx context.Context, token string) (<-chan provider.StreamChunk, error) {
		return h.chat.Stream(ctx, token, req)
	})

	out := make(chan provider.StreamChunk)
	go func() {
		defer close(out)
		defer metrics.ActiveCalls.Dec()

		var reply strings.Builder
		outcome := provider.OutcomeSuccess

		for chunk := range src {
			if chunk.Err != nil {
				outcome = provider.Classify(chunk.Err)
			}
			reply.WriteString(chunk.Text)
			select {
			case out <- chunk:
			case <-ctx.Done():
				outcome = provider.OutcomeTransportFailure
			}
		}

		metrics.CallsTotal.WithLabelValues(string(tokenproxy.CapabilityChat), string(outcome)).Inc()
		metrics.CallLatency.WithLabelValues(string(tokenproxy.CapabilityChat), string(outcome)).Observe(time.Since(start).Seconds())

		if outcome != provider.OutcomeSuccess {
			return
		}

		// Persist the exchange only once the reply is committed.
		storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.sessions.Append(storeCtx, sessionID,
			provider.Message{Role: "user", Content: message},
			provider.Message{Role: "assistant", Content: reply.String()},
		); err != nil {
			h.logger.Error("history append failed", "session_id", sessionID, "error", err)
		}
	}()

	return out, nil
}

// ClearSession wipes a session's conversation history.
func (h *Hub) ClearSession(ctx context.Context, sessionID string) error {
	return h.sessions.Clear(ctx, sessionID)
}

// GenerateImage performs one text-to-image generation. Parameters are
// validated before any provisioning or network call.
func (h *Hub) GenerateImage(ctx context.Context, req provider.ImageRequest) (provider.Image, error) {
	if err := req.Validate(); err != nil {
		var ce *provider.CallError
		detail := ""
		if errors.As(err, &ce) {
			detail = ce.Detail
		}
		return provider.Image{}, &executor.Error{Kind: executor.KindInvalid, Detail: detail}
	}

	start := time.Now()
	metrics.ActiveCalls.Inc()
	defer metrics.ActiveCalls.Dec()

	var img provider.Image
	err := h.exec.Do(ctx, tokenproxy.CapabilityImage, func(ctx context.Context, token string) error {
		var callErr error
		img, callErr = h.image.Generate(ctx, token, req)
		return callErr
	})

	outcome := provider.Classify(err)
	metrics.CallsTotal.WithLabelValues(string(tokenproxy.CapabilityImage), string(outcome)).Inc()
	metrics.CallLatency.WithLabelValues(string(tokenproxy.CapabilityImage), string(outcome)).Observe(time.Since(start).Seconds())

	if err != nil {
		return provider.Image{}, err
	}
	return img, nil
}
