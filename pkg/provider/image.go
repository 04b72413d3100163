package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultImageURL = "https://router.huggingface.co"

// maxImageBytes caps how much of an image response is read (32 MiB).
const maxImageBytes = 32 << 20

// ImageClient implements ImageProvider against the router's text-to-image
// endpoint. The response body is the binary image artifact.
type ImageClient struct {
	client  *http.Client
	baseURL string
}

// NewImageClient creates an image adapter. baseURL may be empty to use the
// public router.
func NewImageClient(httpClient *http.Client, baseURL string) *ImageClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if baseURL == "" {
		baseURL = defaultImageURL
	}
	return &ImageClient{client: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

type imageParameters struct {
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	Seed              *int64  `json:"seed,omitempty"`
}

type imageRequestBody struct {
	Inputs     string          `json:"inputs"`
	Parameters imageParameters `json:"parameters"`
}

// Validate rejects requests the backend would refuse, before any network
// call is made.
func (r ImageRequest) Validate() error {
	if r.Model == "" {
		return &CallError{Outcome: OutcomeInvalidRequest, Detail: "model must not be empty"}
	}
	if r.Prompt == "" {
		return &CallError{Outcome: OutcomeInvalidRequest, Detail: "prompt must not be empty"}
	}
	if r.Width <= 0 || r.Width%8 != 0 {
		return &CallError{Outcome: OutcomeInvalidRequest, Detail: fmt.Sprintf("width %d must be a positive multiple of 8", r.Width)}
	}
	if r.Height <= 0 || r.Height%8 != 0 {
		return &CallError{Outcome: OutcomeInvalidRequest, Detail: fmt.Sprintf("height %d must be a positive multiple of 8", r.Height)}
	}
	if r.Seed < -1 {
		return &CallError{Outcome: OutcomeInvalidRequest, Detail: fmt.Sprintf("seed %d must be -1 or non-negative", r.Seed)}
	}
	return nil
}

// Generate performs a text-to-image call and returns the decoded artifact.
func (c *ImageClient) Generate(ctx context.Context, token string, req ImageRequest) (Image, error) {
	if err := req.Validate(); err != nil {
		return Image{}, err
	}

	params := imageParameters{
		NegativePrompt:    req.NegativePrompt,
		Width:             req.Width,
		Height:            req.Height,
		NumInferenceSteps: req.Steps,
		GuidanceScale:     req.GuidanceScale,
	}
	// Seed -1 is "backend picks": the field is omitted so every call is
	// an independent generation.
	if req.Seed >= 0 {
		seed := req.Seed
		params.Seed = &seed
	}

	jsonBody, err := json.Marshal(imageRequestBody{Inputs: req.Prompt, Parameters: params})
	if err != nil {
		return Image{}, &CallError{Outcome: OutcomeInvalidRequest, Detail: "marshal request: " + err.Error()}
	}

	endpoint := c.baseURL + "/models/" + req.Model
	if req.Provider != "" && req.Provider != "auto" {
		endpoint += "?provider=" + url.QueryEscape(req.Provider)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return Image{}, &CallError{Outcome: OutcomeInvalidRequest, Detail: "build request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/png")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return Image{}, transportError("image", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return Image{}, statusError(httpResp.StatusCode, respBody)
	}

	// One byte past the cap distinguishes "exactly at the limit" from
	// "oversized"; a truncated artifact must never pass as success.
	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxImageBytes+1))
	if err != nil {
		return Image{}, transportError("image read", err)
	}
	if len(data) > maxImageBytes {
		return Image{}, &CallError{Outcome: OutcomeTransportFailure, Detail: "image response exceeds 32 MiB"}
	}
	if len(data) == 0 {
		return Image{}, &CallError{Outcome: OutcomeTransportFailure, Detail: "empty image response"}
	}

	contentType := httpResp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return Image{Data: data, ContentType: contentType}, nil
}
