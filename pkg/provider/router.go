package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const defaultRouterURL = "https://router.huggingface.co/v1"

// RouterClient implements ChatProvider against the inference router's
// OpenAI-compatible chat-completions API. Backend selection rides on the
// model id: "model:provider" pins a backend, a bare model id lets the
// router pick ("auto").
type RouterClient struct {
	client  *http.Client
	baseURL string
}

// NewRouterClient creates a chat adapter. baseURL may be empty to use the
// public router.
func NewRouterClient(httpClient *http.Client, baseURL string) *RouterClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if baseURL == "" {
		baseURL = defaultRouterURL
	}
	return &RouterClient{client: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

type routerRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type routerResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type routerStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// routedModel returns the model id with the backend suffix applied.
func routedModel(req ChatRequest) string {
	if req.Provider == "" || req.Provider == "auto" {
		return req.Model
	}
	return req.Model + ":" + req.Provider
}

func (c *RouterClient) newRequest(ctx context.Context, token string, body routerRequest) (*http.Request, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, &CallError{Outcome: OutcomeInvalidRequest, Detail: "marshal request: " + err.Error()}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, &CallError{Outcome: OutcomeInvalidRequest, Detail: "build request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	return httpReq, nil
}

// Complete performs a unary chat-completion call.
func (c *RouterClient) Complete(ctx context.Context, token string, req ChatRequest) (ChatResponse, error) {
	body := routerRequest{
		Model:       routedModel(req),
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}

	httpReq, err := c.newRequest(ctx, token, body)
	if err != nil {
		return ChatResponse{}, err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, transportError("chat", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return ChatResponse{}, statusError(httpResp.StatusCode, respBody)
	}

	var rr routerResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&rr); err != nil {
		return ChatResponse{}, transportError("chat decode", err)
	}

	var text string
	if len(rr.Choices) > 0 {
		text = rr.Choices[0].Message.Content
	}
	return ChatResponse{
		Text:         text,
		PromptTokens: rr.Usage.PromptTokens,
		OutputTokens: rr.Usage.CompletionTokens,
	}, nil
}

// Stream performs a streaming chat-completion call. Failures that happen
// before the response body is open are returned directly; failures during
// the stream arrive as a chunk with Err set. The returned channel is
// closed after the terminal chunk.
func (c *RouterClient) Stream(ctx context.Context, token string, req ChatRequest) (<-chan StreamChunk, error) {
	body := routerRequest{
		Model:       routedModel(req),
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}

	httpReq, err := c.newRequest(ctx, token, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError("chat stream", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, statusError(httpResp.StatusCode, respBody)
	}

	ch := make(chan StreamChunk, 16)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		// Every send must be abandonable: once the consumer stops reading
		// (cancellation mid-stream), this goroutine has to exit instead of
		// blocking on a full buffer forever.
		send := func(chunk StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(httpResp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			if data == "[DONE]" {
				send(StreamChunk{Done: true})
				return
			}

			var event routerStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				send(StreamChunk{Err: transportError("chat stream decode", err)})
				return
			}

			var text string
			if len(event.Choices) > 0 {
				text = event.Choices[0].Delta.Content
			}
			if text != "" && !send(StreamChunk{Text: text}) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			send(StreamChunk{Err: transportError("chat stream read", err)})
			return
		}
		// Clean EOF without [DONE]: the backend closed the stream after
		// the last delta.
		send(StreamChunk{Done: true})
	}()

	return ch, nil
}
