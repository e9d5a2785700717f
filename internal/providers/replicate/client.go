package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/imaginethisprinted/aistudio/internal/infra"
)

// ErrMissingAPIToken indicates that the client was configured without credentials.
var ErrMissingAPIToken = errors.New("replicate: api token is required")

// Options configures the Replicate predictions client.
type Options struct {
	APIToken       string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	// WaitSeconds bounds how long a synchronous call asks the provider to hold the response.
	WaitSeconds int
	// BreakerFailures is the number of consecutive transport or 5xx failures that open the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client performs HTTP calls to the Replicate predictions API.
type Client struct {
	apiToken    string
	baseURL     string
	waitSeconds int
	httpClient  *http.Client
	logger      *infra.Logger
	breaker     *gobreaker.CircuitBreaker
}

// PredictionStatus mirrors the provider lifecycle of a prediction.
type PredictionStatus string

const (
	PredictionStarting   PredictionStatus = "starting"
	PredictionProcessing PredictionStatus = "processing"
	PredictionSucceeded  PredictionStatus = "succeeded"
	PredictionFailed     PredictionStatus = "failed"
	PredictionCanceled   PredictionStatus = "canceled"
)

// Terminal reports whether the prediction has finished.
func (s PredictionStatus) Terminal() bool {
	return s == PredictionSucceeded || s == PredictionFailed || s == PredictionCanceled
}

// Prediction is the provider's view of one model invocation.
type Prediction struct {
	ID     string           `json:"id"`
	Model  string           `json:"model"`
	Status PredictionStatus `json:"status"`
	Output json.RawMessage  `json:"output"`
	Error  json.RawMessage  `json:"error"`
}

// OutputURL returns the first image URL in the prediction output. Models return
// either a single URL or a list of URLs.
func (p *Prediction) OutputURL() string {
	if p == nil || len(p.Output) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil {
		for _, item := range list {
			if item = strings.TrimSpace(item); item != "" {
				return item
			}
		}
	}
	return ""
}

// ErrorMessage flattens the provider error field into text.
func (p *Prediction) ErrorMessage() string {
	if p == nil || len(p.Error) == 0 || string(p.Error) == "null" {
		return ""
	}
	var msg string
	if err := json.Unmarshal(p.Error, &msg); err == nil {
		return strings.TrimSpace(msg)
	}
	return strings.TrimSpace(string(p.Error))
}

// APIError is returned for non-2xx provider responses.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("replicate: status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("replicate: status %d", e.StatusCode)
}

// Permanent reports whether the provider rejected the request for good. Any
// other status, 429 and 5xx included, may succeed on a later call.
func (e *APIError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusGone, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

type createRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	waitSeconds := opts.WaitSeconds
	if waitSeconds <= 0 || waitSeconds > 60 {
		waitSeconds = 60
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.NopLogger()
		logger = &l
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breakerTimeout := opts.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	c := &Client{
		apiToken:    strings.TrimSpace(opts.APIToken),
		baseURL:     baseURL,
		waitSeconds: waitSeconds,
		httpClient:  httpClient,
		logger:      logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "replicate",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("replicate: circuit breaker state changed")
		},
	})
	return c, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiToken != ""
}

// CreatePrediction starts a prediction for model with the given input. Model is
// either "owner/name" or "owner/name:version". When wait is set the provider is
// asked to hold the response until the prediction finishes; callers must still
// handle a non-terminal result.
func (c *Client) CreatePrediction(ctx context.Context, model string, input map[string]any, wait bool) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIToken
	}
	model = strings.TrimSpace(model)
	name, version, _ := strings.Cut(model, ":")
	if !strings.Contains(name, "/") {
		return nil, fmt.Errorf("replicate: model %q must look like owner/name", model)
	}

	endpoint := c.baseURL + "/models/" + name + "/predictions"
	payload := createRequest{Input: input}
	if version != "" {
		endpoint = c.baseURL + "/predictions"
		payload.Version = version
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}

	header := http.Header{}
	if wait {
		header.Set("Prefer", fmt.Sprintf("wait=%d", c.waitSeconds))
	}
	prediction, err := c.do(ctx, http.MethodPost, endpoint, body, header)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("model", model).
		Str("prediction_id", prediction.ID).
		Str("status", string(prediction.Status)).
		Bool("wait", wait).
		Msg("replicate: prediction created")
	return prediction, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIToken
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("replicate: prediction id is required")
	}
	return c.do(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, header http.Header) (*Prediction, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, fmt.Errorf("replicate: build request: %w", err)
		}
		for k, values := range header {
			for _, v := range values {
				req.Header.Add(k, v)
			}
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("replicate: http request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("replicate: read response: %w", err)
		}
		if resp.StatusCode >= 300 {
			return nil, newAPIError(resp.StatusCode, raw)
		}

		var prediction Prediction
		if err := json.Unmarshal(raw, &prediction); err != nil {
			return nil, fmt.Errorf("replicate: decode response: %w", err)
		}
		return &prediction, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("replicate: %w", err)
		}
		return nil, err
	}
	return result.(*Prediction), nil
}

func newAPIError(status int, raw []byte) *APIError {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Detail != "" {
			return &APIError{StatusCode: status, Detail: detail.Detail}
		}
		if detail.Title != "" {
			return &APIError{StatusCode: status, Detail: detail.Title}
		}
	}
	return &APIError{StatusCode: status, Detail: strings.TrimSpace(string(raw))}
}
