// Package tokenproxy is the HTTP client for the remote token-issuing proxy.
// It provisions a fresh, capability-scoped credential before every call
// attempt and reports the attempt's outcome afterwards so the proxy's
// rotation and quarantine policy can act on it.
package tokenproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/abdhe/inferoxy-hub/pkg/provider"
	"github.com/abdhe/inferoxy-hub/pkg/resilience"
)

// Capability identifies the target service a credential is scoped to.
type Capability string

const (
	CapabilityChat  Capability = "chat"
	CapabilityImage Capability = "image"
)

// Credential is a short-lived secret issued by the proxy. Token is the
// secret itself and must never be persisted or logged; ID is the handle
// used when reporting the attempt's outcome.
type Credential struct {
	Token string
	ID    string
}

// ErrProxyUnavailable means the proxy itself could not serve the request.
// It is fatal for the current call; retrying with this component would
// only hammer a proxy that is down.
var ErrProxyUnavailable = errors.New("token proxy unavailable")

// Client talks to the proxy's provision and report endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger
}

// ClientConfig holds the proxy endpoint configuration, read once at
// startup and injected here so tests can point at a fake proxy.
type ClientConfig struct {
	BaseURL string
	APIKey  string

	// HTTPClient overrides the default client (mainly for tests).
	HTTPClient *http.Client

	// Breaker optionally guards the provision endpoint. Nil disables it.
	Breaker *resilience.CircuitBreaker

	Logger *slog.Logger
}

// NewClient creates a proxy client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		breaker:    cfg.Breaker,
		logger:     logger.With("component", "tokenproxy"),
	}
}

type provisionRequest struct {
	Capability string `json:"capability"`
}

type provisionResponse struct {
	Token   string `json:"token"`
	TokenID string `json:"token_id"`
}

// Provision requests a fresh credential scoped to the given capability.
// Nothing is cached: every call attempt provisions anew, because the
// credential used by the previous attempt may have been quarantined in
// between. Failures map to ErrProxyUnavailable.
func (c *Client) Provision(ctx context.Context, capability Capability) (Credential, error) {
	var cred Credential
	call := func() error {
		var err error
		cred, err = c.provision(ctx, capability)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return Credential{}, fmt.Errorf("%w: circuit open", ErrProxyUnavailable)
		}
	} else {
		err = call()
	}
	if err != nil {
		return Credential{}, err
	}
	return cred, nil
}

func (c *Client) provision(ctx context.Context, capability Capability) (Credential, error) {
	body, err := json.Marshal(provisionRequest{Capability: string(capability)})
	if err != nil {
		return Credential{}, fmt.Errorf("tokenproxy: marshal provision request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/tokens/provision", bytes.NewReader(body))
	if err != nil {
		return Credential{}, fmt.Errorf("tokenproxy: build provision request: %w", err)
	}
	c.setHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrProxyUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return Credential{}, fmt.Errorf("%w: provision status %d: %s", ErrProxyUnavailable, httpResp.StatusCode, string(respBody))
	}

	var pr provisionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&pr); err != nil {
		return Credential{}, fmt.Errorf("%w: decode provision response: %v", ErrProxyUnavailable, err)
	}
	if pr.Token == "" || pr.TokenID == "" {
		return Credential{}, fmt.Errorf("%w: provision response missing token or token_id", ErrProxyUnavailable)
	}

	c.logger.Debug("credential provisioned", "capability", capability, "token_id", pr.TokenID)
	return Credential{Token: pr.Token, ID: pr.TokenID}, nil
}

// ReportMetadata carries optional context for an outcome report.
type ReportMetadata struct {
	Capability Capability
	StatusCode int
	Detail     string
	CallID     string
}

type reportRequest struct {
	TokenID    string `json:"token_id"`
	Outcome    string `json:"outcome"`
	Capability string `json:"capability,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
	CallID     string `json:"call_id,omitempty"`
}

// SendReport delivers one outcome report synchronously. Callers on the
// user-visible path should go through Reporter instead; this is the
// blocking primitive the reporter worker uses.
func (c *Client) SendReport(ctx context.Context, handle string, outcome provider.Outcome, meta ReportMetadata) error {
	body, err := json.Marshal(reportRequest{
		TokenID:    handle,
		Outcome:    string(outcome),
		Capability: string(meta.Capability),
		StatusCode: meta.StatusCode,
		Detail:     meta.Detail,
		CallID:     meta.CallID,
	})
	if err != nil {
		return fmt.Errorf("tokenproxy: marshal report: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/tokens/report", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("tokenproxy: build report request: %w", err)
	}
	c.setHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProxyUnavailable, err)
	}
	defer httpResp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1024))

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: report status %d", ErrProxyUnavailable, httpResp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
