package wizard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imaginethisprinted/aistudio/internal/api"
	"github.com/imaginethisprinted/aistudio/internal/service"
)

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Client talks to the admin product endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets baseURL. A nil httpClient gets a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) CreateProduct(ctx context.Context, req service.CreateProductRequest) (*api.CreateProductResponse, error) {
	var out api.CreateProductResponse
	if err := c.do(ctx, http.MethodPost, "/ai/products", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context, productID string) (*api.Status, error) {
	var out api.Status
	if err := c.do(ctx, http.MethodGet, productPath(productID, "status"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveBackground(ctx context.Context, productID, assetID string) (*api.Job, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodPost, productPath(productID, "remove-background"), api.AssetRequest{AssetID: assetID}, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

func (c *Client) CreateMockups(ctx context.Context, productID, sourceAssetID string) ([]api.Job, error) {
	var out api.JobsResponse
	if err := c.do(ctx, http.MethodPost, productPath(productID, "mockups"), api.MockupsRequest{SourceAssetID: sourceAssetID}, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *Client) Regenerate(ctx context.Context, productID string) (*api.Job, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodPost, productPath(productID, "regenerate"), nil, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

func (c *Client) Approve(ctx context.Context, productID string) (*api.Product, error) {
	var out api.ProductResponse
	if err := c.do(ctx, http.MethodPost, productPath(productID, "approve"), nil, &out); err != nil {
		return nil, err
	}
	return &out.Product, nil
}

func productPath(productID, action string) string {
	return "/ai/products/" + url.PathEscape(productID) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Code = payload.Error
			apiErr.Message = payload.Message
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
