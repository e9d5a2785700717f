// Package api holds the JSON shapes exchanged between the admin API and its clients.
package api

import (
	"time"

	"github.com/imaginethisprinted/aistudio/internal/domain"
)

type Product struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	PriceCents  int64                  `json:"price_cents"`
	Category    string                 `json:"category"`
	Status      domain.ProductStatus   `json:"status"`
	Images      []string               `json:"images"`
	Metadata    domain.ProductMetadata `json:"metadata"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

type Job struct {
	ID        string           `json:"id"`
	ProductID string           `json:"product_id"`
	Type      domain.JobType   `json:"type"`
	Status    domain.JobStatus `json:"status"`
	Attempt   int              `json:"attempt"`
	Input     domain.JobInput  `json:"input"`
	Output    domain.JobOutput `json:"output"`
	Error     *string          `json:"error"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type Asset struct {
	ID        string           `json:"id"`
	ProductID string           `json:"product_id"`
	JobID     string           `json:"job_id"`
	Kind      domain.AssetKind `json:"kind"`
	URL       string           `json:"url"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	Metadata  map[string]any   `json:"metadata"`
	CreatedAt time.Time        `json:"created_at"`
}

// Interpretation is the normalized reading of a creation request shown on review.
type Interpretation struct {
	Name     string              `json:"name"`
	Category string              `json:"category"`
	Prompt   string              `json:"prompt"`
	Style    domain.StyleOptions `json:"style"`
}

type CreateProductResponse struct {
	Product        Product        `json:"product"`
	Job            Job            `json:"job"`
	Interpretation Interpretation `json:"interpretation"`
}

type JobResponse struct {
	Job Job `json:"job"`
}

type JobsResponse struct {
	Jobs []Job `json:"jobs"`
}

type ProductResponse struct {
	Product Product `json:"product"`
}

// Status is the projection polled while a product moves through the pipeline.
type Status struct {
	Product      Product                      `json:"product"`
	Jobs         []Job                        `json:"jobs"`
	Assets       []Asset                      `json:"assets"`
	AssetsByKind map[domain.AssetKind][]Asset `json:"assets_by_kind"`
}

// AssetRequest selects an explicit input asset. Empty means the newest suitable one.
type AssetRequest struct {
	AssetID string `json:"asset_id,omitempty"`
}

type MockupsRequest struct {
	SourceAssetID string `json:"source_asset_id,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func FromProduct(p *domain.Product) Product {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	return Product{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		PriceCents:  p.PriceCents,
		Category:    p.Category,
		Status:      p.Status,
		Images:      images,
		Metadata:    p.Metadata,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func FromJob(j *domain.Job) Job {
	return Job{
		ID:        j.ID,
		ProductID: j.ProductID,
		Type:      j.Type,
		Status:    j.Status,
		Attempt:   j.Attempt,
		Input:     j.Input,
		Output:    j.Output,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func FromJobs(jobs []domain.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for i := range jobs {
		out = append(out, FromJob(&jobs[i]))
	}
	return out
}

func FromAsset(a domain.ProductAsset) Asset {
	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Asset{
		ID:        a.ID,
		ProductID: a.ProductID,
		JobID:     a.JobID,
		Kind:      a.Kind,
		URL:       a.URL,
		Width:     a.Width,
		Height:    a.Height,
		Metadata:  metadata,
		CreatedAt: a.CreatedAt,
	}
}

func FromAssets(assets []domain.ProductAsset) []Asset {
	out := make([]Asset, 0, len(assets))
	for _, a := range assets {
		out = append(out, FromAsset(a))
	}
	return out
}

func FromAssetsByKind(grouped map[domain.AssetKind][]domain.ProductAsset) map[domain.AssetKind][]Asset {
	out := make(map[domain.AssetKind][]Asset, len(grouped))
	for kind, assets := range grouped {
		out[kind] = FromAssets(assets)
	}
	return out
}

// Latest returns the newest job of the given type, or nil.
func (s Status) Latest(t domain.JobType) *Job {
	var latest *Job
	for i := range s.Jobs {
		job := &s.Jobs[i]
		if job.Type != t {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) {
			latest = job
		}
	}
	return latest
}

// SucceededMockups counts mockup jobs that finished successfully.
func (s Status) SucceededMockups() int {
	n := 0
	for _, job := range s.Jobs {
		if job.Type == domain.JobTypeMockup && job.Status == domain.JobStatusSucceeded {
			n++
		}
	}
	return n
}
