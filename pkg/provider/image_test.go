package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validImageRequest() ImageRequest {
	return ImageRequest{
		Model:         "org/sdxl",
		Prompt:        "a lighthouse at dusk",
		Width:         1024,
		Height:        1024,
		Steps:         30,
		GuidanceScale: 7.5,
		Seed:          -1,
	}
}

func TestImageRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ImageRequest)
		wantErr string
	}{
		{"valid", func(*ImageRequest) {}, ""},
		{"missing model", func(r *ImageRequest) { r.Model = "" }, "model"},
		{"missing prompt", func(r *ImageRequest) { r.Prompt = "" }, "prompt"},
		{"width not multiple of 8", func(r *ImageRequest) { r.Width = 1000 }, "width 1000"},
		{"height not multiple of 8", func(r *ImageRequest) { r.Height = 1000 }, "height 1000"},
		{"zero width", func(r *ImageRequest) { r.Width = 0 }, "width 0"},
		{"negative height", func(r *ImageRequest) { r.Height = -8 }, "height -8"},
		{"seed below -1", func(r *ImageRequest) { r.Seed = -2 }, "seed -2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validImageRequest()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var ce *CallError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, OutcomeInvalidRequest, ce.Outcome)
			assert.Contains(t, ce.Detail, tt.wantErr)
		})
	}
}

func TestImageGenerate(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	var gotBody imageRequestBody
	var gotPath, gotQuery string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}))
	defer ts.Close()

	c := NewImageClient(ts.Client(), ts.URL)
	req := validImageRequest()
	req.Provider = "fal-ai"
	req.NegativePrompt = "blurry"

	img, err := c.Generate(context.Background(), "tok-img", req)
	require.NoError(t, err)

	assert.Equal(t, png, img.Data)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, "/models/org/sdxl", gotPath)
	assert.Equal(t, "provider=fal-ai", gotQuery)
	assert.Equal(t, "a lighthouse at dusk", gotBody.Inputs)
	assert.Equal(t, "blurry", gotBody.Parameters.NegativePrompt)
	assert.Equal(t, 1024, gotBody.Parameters.Width)
	assert.Equal(t, 30, gotBody.Parameters.NumInferenceSteps)
	// Seed -1 means backend-chosen: the field must be absent entirely.
	assert.Nil(t, gotBody.Parameters.Seed)
}

func TestImageGenerateFixedSeed(t *testing.T) {
	var gotBody imageRequestBody
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{1})
	}))
	defer ts.Close()

	c := NewImageClient(ts.Client(), ts.URL)
	req := validImageRequest()
	req.Seed = 42

	_, err := c.Generate(context.Background(), "tok", req)
	require.NoError(t, err)
	require.NotNil(t, gotBody.Parameters.Seed)
	assert.Equal(t, int64(42), *gotBody.Parameters.Seed)
}

func TestImageGenerateAutoProviderOmitsQuery(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte{1})
	}))
	defer ts.Close()

	c := NewImageClient(ts.Client(), ts.URL)
	req := validImageRequest()
	req.Provider = "auto"

	_, err := c.Generate(context.Background(), "tok", req)
	require.NoError(t, err)
	assert.Empty(t, gotQuery)
}

func TestImageGenerateClassifiesStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer ts.Close()

	c := NewImageClient(ts.Client(), ts.URL)
	_, err := c.Generate(context.Background(), "tok", validImageRequest())

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, OutcomeQuotaFailure, ce.Outcome)
	assert.Equal(t, http.StatusPaymentRequired, ce.StatusCode)
}

func TestImageGenerateOversizedResponseFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(make([]byte, maxImageBytes+1))
	}))
	defer ts.Close()

	c := NewImageClient(ts.Client(), ts.URL)
	_, err := c.Generate(context.Background(), "tok", validImageRequest())

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, OutcomeTransportFailure, ce.Outcome)
	assert.Contains(t, ce.Detail, "exceeds")
}

func TestImageGenerateInvalidBeforeNetwork(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls++
	}))
	defer ts.Close()

	c := NewImageClient(ts.Client(), ts.URL)
	req := validImageRequest()
	req.Width = 1000
	req.Height = 1000

	_, err := c.Generate(context.Background(), "tok", req)
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, OutcomeInvalidRequest, ce.Outcome)
	assert.Zero(t, calls)
}
