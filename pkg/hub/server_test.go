package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdhe/inferoxy-hub/pkg/provider"
	"github.com/abdhe/inferoxy-hub/pkg/session"
)

func newTestServer(t *testing.T, chat provider.ChatProvider, image provider.ImageProvider, allowedOrgs []string) *httptest.Server {
	t.Helper()
	h, _, _ := newTestHub(chat, image, nil)
	ts := httptest.NewServer(NewServer(h, ServerConfig{AllowedOrgs: allowedOrgs}).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestChatEndpointStreamsSSE(t *testing.T) {
	chat := &fakeChat{script: []func() (<-chan provider.StreamChunk, error){
		textStream("Hel", "lo!"),
	}}
	ts := newTestServer(t, chat, &fakeImage{}, nil)

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{
		"session_id": "s-42",
		"message":    "hi",
		"model":      "org/model",
	}, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "s-42", resp.Header.Get("X-Session-Id"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `data: {"text":"Hel"}`)
	assert.Contains(t, text, `data: {"text":"lo!"}`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(text), "data: [DONE]"))
}

func TestChatEndpointGeneratesSessionID(t *testing.T) {
	chat := &fakeChat{script: []func() (<-chan provider.StreamChunk, error){
		textStream("ok"),
	}}
	ts := newTestServer(t, chat, &fakeImage{}, nil)

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{
		"message": "hi",
		"model":   "org/model",
	}, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Session-Id"))
}

func TestChatEndpointRejectsEmptyMessage(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, &fakeImage{}, nil)

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{
		"message": "",
		"model":   "org/model",
	}, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errBody map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
	assert.Contains(t, errBody["error"], "message must not be empty")
}

func TestChatEndpointStreamFailureEmitsErrorEvent(t *testing.T) {
	chat := &fakeChat{script: []func() (<-chan provider.StreamChunk, error){
		streamError(&provider.CallError{Outcome: provider.OutcomeTransportFailure, Detail: "reset"}),
	}}
	ts := newTestServer(t, chat, &fakeImage{}, nil)

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{
		"message": "hi",
		"model":   "org/model",
	}, nil)
	defer resp.Body.Close()

	// Headers are already committed when the stream fails, so the error
	// travels as an SSE event instead of a status code.
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"error":`)
	assert.NotContains(t, string(body), "[DONE]")
}

func TestOrgGate(t *testing.T) {
	chat := &fakeChat{script: []func() (<-chan provider.StreamChunk, error){
		textStream("ok"),
	}}
	ts := newTestServer(t, chat, &fakeImage{}, []string{"acme"})

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{
		"message": "hi", "model": "m",
	}, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/chat", map[string]any{
		"message": "hi", "model": "m",
	}, map[string]string{"X-Hub-Org": "evilcorp"})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/chat", map[string]any{
		"message": "hi", "model": "m",
	}, map[string]string{"X-Hub-Org": "acme"})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthzBypassesOrgGate(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, &fakeImage{}, []string{"acme"})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestImageEndpointReturnsBytes(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, &fakeImage{}, nil)

	resp := postJSON(t, ts.URL+"/api/images", map[string]any{
		"prompt": "a red bicycle",
		"model":  "org/sdxl",
		"width":  512,
		"height": 512,
		"seed":   -1,
	}, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, body)
}

func TestImageEndpointRejectsBadGeometry(t *testing.T) {
	img := &fakeImage{}
	h, prov, _ := newTestHub(&fakeChat{}, img, nil)
	ts := httptest.NewServer(NewServer(h, ServerConfig{}).Routes())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/images", map[string]any{
		"prompt": "a red bicycle",
		"model":  "org/sdxl",
		"width":  1000,
		"height": 1000,
	}, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errBody map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
	assert.Contains(t, errBody["error"], "width 1000")
	assert.Zero(t, prov.count())
	assert.Zero(t, img.calls)
}

func TestChatEndpointAppliesDefaultModel(t *testing.T) {
	chat := &fakeChat{script: []func() (<-chan provider.StreamChunk, error){
		textStream("ok"),
	}}
	h, _, _ := newTestHub(chat, &fakeImage{}, nil)
	ts := httptest.NewServer(NewServer(h, ServerConfig{DefaultChatModel: "org/default-model"}).Routes())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{"message": "hi"}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	io.Copy(io.Discard, resp.Body)

	chat.mu.Lock()
	defer chat.mu.Unlock()
	require.Len(t, chat.requests, 1)
	assert.Equal(t, "org/default-model", chat.requests[0].Model)
}

func TestImageEndpointDefaultsSeedToBackendChoice(t *testing.T) {
	img := &fakeImage{}
	ts := newTestServer(t, &fakeChat{}, img, nil)

	// No seed field at all: the generation must be independent, which
	// Validate only accepts as seed -1.
	resp := postJSON(t, ts.URL+"/api/images", map[string]any{
		"prompt": "a red bicycle",
		"model":  "org/sdxl",
		"width":  512,
		"height": 512,
	}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	img.mu.Lock()
	defer img.mu.Unlock()
	assert.Equal(t, int64(-1), img.last.Seed)
}

func TestClearSessionEndpoint(t *testing.T) {
	chat := &fakeChat{script: []func() (<-chan provider.StreamChunk, error){
		textStream("reply"),
	}}
	store := session.NewMemoryStore()
	h, _, _ := newTestHub(chat, &fakeImage{}, store)
	ts := httptest.NewServer(NewServer(h, ServerConfig{}).Routes())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{
		"session_id": "s1", "message": "hi", "model": "m",
	}, nil)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		history, err := store.History(context.Background(), "s1")
		return err == nil && len(history) == 2
	}, time.Second, 10*time.Millisecond)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/s1", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)

	history, err := store.History(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChatEndpointRejectsInvalidJSON(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, &fakeImage{}, nil)

	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
