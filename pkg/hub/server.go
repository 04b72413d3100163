package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/abdhe/inferoxy-hub/pkg/executor"
	"github.com/abdhe/inferoxy-hub/pkg/provider"
)

// Server is the HTTP/SSE front of the hub. The UI talks to these
// endpoints; everything behind them is the orchestration core.
type Server struct {
	hub               *Hub
	allowedOrgs       map[string]struct{}
	defaultChatModel  string
	defaultImageModel string
	logger            *slog.Logger
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	// AllowedOrgs is the read-once org allow-list; empty disables the
	// gate. Verifying that the caller actually belongs to the org it
	// claims is the upstream OAuth layer's job.
	AllowedOrgs []string

	// DefaultChatModel and DefaultImageModel fill in requests that name
	// no model. Empty means the model field is required.
	DefaultChatModel  string
	DefaultImageModel string

	Logger *slog.Logger
}

// NewServer creates the HTTP surface.
func NewServer(h *Hub, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	orgs := make(map[string]struct{}, len(cfg.AllowedOrgs))
	for _, o := range cfg.AllowedOrgs {
		orgs[o] = struct{}{}
	}
	return &Server{
		hub:               h,
		allowedOrgs:       orgs,
		defaultChatModel:  cfg.DefaultChatModel,
		defaultImageModel: cfg.DefaultImageModel,
		logger:            logger.With("component", "http"),
	}
}

// Routes returns the handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.requireOrg(s.handleChat))
	mux.HandleFunc("POST /api/images", s.requireOrg(s.handleImage))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.requireOrg(s.handleClearSession))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	return mux
}

// requireOrg enforces the org allow-list when one is configured.
func (s *Server) requireOrg(next http.HandlerFunc) http.HandlerFunc {
	if len(s.allowedOrgs) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		org := r.Header.Get("X-Hub-Org")
		if _, ok := s.allowedOrgs[org]; !ok {
			writeJSONError(w, http.StatusForbidden, "organization not allowed")
			return
		}
		next(w, r)
	}
}

type chatRequestBody struct {
	SessionID     string  `json:"session_id"`
	Message       string  `json:"message"`
	Model         string  `json:"model"`
	Provider      string  `json:"provider"`
	SystemMessage string  `json:"system_message"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	MaxTokens     int     `json:"max_tokens"`
}

type chatEvent struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleChat streams the assistant reply as server-sent events. Each text
// chunk is one `data:` event; the stream ends with `data: [DONE]` on
// success or a single error event on failure.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if body.Model == "" {
		body.Model = s.defaultChatModel
	}

	chunks, err := s.hub.SendChatMessage(r.Context(), sessionID, body.Message, ChatOptions{
		Model:         body.Model,
		Provider:      body.Provider,
		SystemMessage: body.SystemMessage,
		Temperature:   body.Temperature,
		TopP:          body.TopP,
		MaxTokens:     body.MaxTokens,
	})
	if err != nil {
		writeJSONError(w, httpStatus(err), err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Session-Id", sessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range chunks {
		if chunk.Err != nil {
			writeSSE(w, chatEvent{Error: chunk.Err.Error()})
			flusher.Flush()
			return
		}
		if chunk.Done {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		}
		if chunk.Text != "" {
			writeSSE(w, chatEvent{Text: chunk.Text})
			flusher.Flush()
		}
	}
	// Channel closed without a terminal chunk (caller went away).
}

type imageRequestBody struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Model          string  `json:"model"`
	Provider       string  `json:"provider"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Seed           *int64  `json:"seed"` // absent means backend-chosen
}

// handleImage returns the generated image bytes directly.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	var body imageRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Model == "" {
		body.Model = s.defaultImageModel
	}
	seed := int64(-1)
	if body.Seed != nil {
		seed = *body.Seed
	}

	img, err := s.hub.GenerateImage(r.Context(), provider.ImageRequest{
		Model:          body.Model,
		Provider:       body.Provider,
		Prompt:         body.Prompt,
		NegativePrompt: body.NegativePrompt,
		Width:          body.Width,
		Height:         body.Height,
		Steps:          body.Steps,
		GuidanceScale:  body.GuidanceScale,
		Seed:           seed,
	})
	if err != nil {
		writeJSONError(w, httpStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}

// handleClearSession wipes a session's conversation history.
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "session id required")
		return
	}
	if err := s.hub.ClearSession(r.Context(), sessionID); err != nil {
		s.logger.Error("session clear failed", "session_id", sessionID, "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeSSE(w http.ResponseWriter, event chatEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// httpStatus maps a user-facing error to a response status.
func httpStatus(err error) int {
	var ee *executor.Error
	if errors.As(err, &ee) {
		switch ee.Kind {
		case executor.KindInvalid:
			return http.StatusBadRequest
		case executor.KindExhausted:
			return http.StatusBadGateway
		default:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}
