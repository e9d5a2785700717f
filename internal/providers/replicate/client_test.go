package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/sony/gobreaker"
)

func TestCreatePredictionSyncPayload(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse(http.StatusCreated, "/v1/models/black-forest-labs/flux-schnell/predictions", map[string]any{
		"id":     "pred-1",
		"status": "succeeded",
		"output": []string{"https://replicate.delivery/out-0.webp"},
	})
	client := newTestClient(t, transport)

	prediction, err := client.CreatePrediction(context.Background(), "black-forest-labs/flux-schnell", map[string]any{"prompt": "a cat"}, true)
	if err != nil {
		t.Fatalf("create prediction: %v", err)
	}
	if prediction.Status != PredictionSucceeded {
		t.Fatalf("status = %s, want succeeded", prediction.Status)
	}
	if got := prediction.OutputURL(); got != "https://replicate.delivery/out-0.webp" {
		t.Fatalf("output url = %q", got)
	}
	if prefer := transport.lastHeader.Get("Prefer"); prefer != "wait=60" {
		t.Fatalf("Prefer = %q, want wait=60", prefer)
	}
	if auth := transport.lastHeader.Get("Authorization"); auth != "Bearer token" {
		t.Fatalf("Authorization = %q", auth)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	input, ok := payload["input"].(map[string]any)
	if !ok || input["prompt"] != "a cat" {
		t.Fatalf("input = %#v", payload["input"])
	}
	if _, ok := payload["version"]; ok {
		t.Fatalf("version should be omitted for model endpoint")
	}
}

func TestCreatePredictionAsyncWithVersion(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse(http.StatusCreated, "/v1/predictions", map[string]any{
		"id":     "pred-2",
		"status": "starting",
	})
	client := newTestClient(t, transport)

	prediction, err := client.CreatePrediction(context.Background(), "nightmareai/real-esrgan:abc123", map[string]any{"image": "https://x"}, false)
	if err != nil {
		t.Fatalf("create prediction: %v", err)
	}
	if prediction.Status.Terminal() {
		t.Fatalf("starting prediction should not be terminal")
	}
	if transport.lastHeader.Get("Prefer") != "" {
		t.Fatalf("async call should not send Prefer header")
	}
	var payload map[string]any
	_ = json.Unmarshal(transport.lastBody, &payload)
	if payload["version"] != "abc123" {
		t.Fatalf("version = %v, want abc123", payload["version"])
	}
}

func TestGetPredictionFailure(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse(http.StatusOK, "/v1/predictions/pred-3", map[string]any{
		"id":     "pred-3",
		"status": "failed",
		"error":  "NSFW content detected",
	})
	client := newTestClient(t, transport)

	prediction, err := client.GetPrediction(context.Background(), "pred-3")
	if err != nil {
		t.Fatalf("get prediction: %v", err)
	}
	if prediction.Status != PredictionFailed {
		t.Fatalf("status = %s", prediction.Status)
	}
	if msg := prediction.ErrorMessage(); msg != "NSFW content detected" {
		t.Fatalf("error = %q", msg)
	}
}

func TestAPIErrorCarriesDetail(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse(http.StatusUnprocessableEntity, "/v1/models/a/b/predictions", map[string]any{
		"title":  "Input validation failed",
		"detail": "prompt is required",
	})
	client := newTestClient(t, transport)

	_, err := client.CreatePrediction(context.Background(), "a/b", map[string]any{}, true)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Detail != "prompt is required" {
		t.Fatalf("unexpected api error: %#v", apiErr)
	}
}

func TestBreakerOpensAfterServerErrors(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse(http.StatusBadGateway, "/v1/predictions/pred-x", map[string]any{"detail": "upstream"})
	client, err := NewClient(Options{
		APIToken:        "token",
		BaseURL:         "https://api.test/v1",
		HTTPClient:      &http.Client{Transport: transport},
		BreakerFailures: 2,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := client.GetPrediction(context.Background(), "pred-x"); err == nil {
			t.Fatalf("expected server error")
		}
	}
	calls := transport.calls
	_, err = client.GetPrediction(context.Background(), "pred-x")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if transport.calls != calls {
		t.Fatalf("open breaker should not reach the transport")
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse(http.StatusNotFound, "/v1/predictions/missing", map[string]any{"detail": "not found"})
	client, _ := NewClient(Options{
		APIToken:        "token",
		BaseURL:         "https://api.test/v1",
		HTTPClient:      &http.Client{Transport: transport},
		BreakerFailures: 1,
	})

	for i := 0; i < 3; i++ {
		_, err := client.GetPrediction(context.Background(), "missing")
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("call %d: expected APIError, got %v", i, err)
		}
	}
}

func TestMissingTokenAndBadModel(t *testing.T) {
	client, _ := NewClient(Options{})
	if _, err := client.CreatePrediction(context.Background(), "a/b", nil, true); !errors.Is(err, ErrMissingAPIToken) {
		t.Fatalf("expected ErrMissingAPIToken, got %v", err)
	}
	client, _ = NewClient(Options{APIToken: "x"})
	if _, err := client.CreatePrediction(context.Background(), "flux", nil, true); err == nil {
		t.Fatalf("expected error for model without owner")
	}
}

func TestOutputURLShapes(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"https://a/one.png"`, "https://a/one.png"},
		{`["", "https://a/two.png"]`, "https://a/two.png"},
		{`null`, ""},
		{`{"nested": true}`, ""},
	}
	for _, tc := range tests {
		p := &Prediction{Output: json.RawMessage(tc.raw)}
		if got := p.OutputURL(); got != tc.want {
			t.Fatalf("OutputURL(%s) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func newTestClient(t *testing.T, transport http.RoundTripper) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIToken:   "token",
		BaseURL:    "https://api.test/v1",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

type captureTransport struct {
	responses  map[string]responseStub
	lastBody   []byte
	lastHeader http.Header
	calls      int
}

type responseStub struct {
	status int
	header http.Header
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls++
	c.lastHeader = req.Header.Clone()
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
	}
	if stub, ok := c.responses[req.URL.Path]; ok {
		return stub.toResponse(), nil
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader(`{"detail":"not found"}`)),
	}, nil
}

func (c *captureTransport) setJSONResponse(status int, path string, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{
		status: status,
		header: http.Header{"Content-Type": []string{"application/json"}},
		body:   body,
	}
}

func (s responseStub) toResponse() *http.Response {
	return &http.Response{
		StatusCode: s.status,
		Header:     s.header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(s.body)),
	}
}
