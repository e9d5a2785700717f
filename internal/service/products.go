package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/imaginethisprinted/aistudio/internal/domain"
	"github.com/imaginethisprinted/aistudio/internal/infra"
)

const (
	defaultArtStyle   = "realistic"
	defaultBackground = "white"
	defaultCategory   = "general"

	// enqueue retries when a concurrent request took the same attempt number.
	maxEnqueueAttempts  = 3
	maxDerivedNameWords = 6
)

// StyleInput holds the enumerated style options of a creation request.
type StyleInput struct {
	ArtStyle   string `json:"art_style" validate:"omitempty,oneof=realistic illustration watercolor minimalist vintage cartoon"`
	Background string `json:"background" validate:"omitempty,oneof=white transparent lifestyle gradient"`
	Category   string `json:"category" validate:"omitempty,max=60"`
}

// CreateProductRequest is the describe step of the wizard.
type CreateProductRequest struct {
	Prompt      string     `json:"prompt" validate:"required,min=3,max=1000"`
	Name        string     `json:"name" validate:"omitempty,max=120"`
	Description string     `json:"description" validate:"omitempty,max=2000"`
	PriceCents  int64      `json:"price_cents" validate:"gte=0"`
	Category    string     `json:"category" validate:"omitempty,max=60"`
	Style       StyleInput `json:"style"`
}

// Interpretation is the normalized reading of a creation request.
type Interpretation struct {
	Name     string              `json:"name"`
	Category string              `json:"category"`
	Prompt   string              `json:"prompt"`
	Style    domain.StyleOptions `json:"style"`
}

// CreateProductResult is returned once the draft and its first job exist.
type CreateProductResult struct {
	Product        *domain.Product
	Job            *domain.Job
	Interpretation Interpretation
}

// ProductStatus is the read model polled by clients.
type ProductStatus struct {
	Product      *domain.Product
	Jobs         []domain.Job
	Assets       []domain.ProductAsset
	AssetsByKind map[domain.AssetKind][]domain.ProductAsset
}

// ProductService creates products and the jobs that drive them through the pipeline.
type ProductService struct {
	jobs     domain.JobRepository
	assets   domain.AssetRepository
	products domain.ProductRepository
	logger   infra.Logger
}

// NewProductService wires the repositories. logger may be nil.
func NewProductService(jobs domain.JobRepository, assets domain.AssetRepository, products domain.ProductRepository, logger *infra.Logger) *ProductService {
	s := &ProductService{
		jobs:     jobs,
		assets:   assets,
		products: products,
		logger:   infra.NopLogger(),
	}
	if logger != nil {
		s.logger = *logger
	}
	return s
}

// Interpret validates req and fills in the defaults used for generation.
func Interpret(req CreateProductRequest) (Interpretation, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Style.ArtStyle = strings.ToLower(strings.TrimSpace(req.Style.ArtStyle))
	req.Style.Background = strings.ToLower(strings.TrimSpace(req.Style.Background))
	req.Style.Category = strings.TrimSpace(req.Style.Category)
	if err := ValidateStruct(req); err != nil {
		return Interpretation{}, err
	}

	category := req.Category
	if category == "" {
		category = req.Style.Category
	}
	if category == "" {
		category = defaultCategory
	}
	category = strings.ToLower(category)

	style := domain.StyleOptions{
		ArtStyle:   req.Style.ArtStyle,
		Background: req.Style.Background,
		Category:   category,
	}
	if style.ArtStyle == "" {
		style.ArtStyle = defaultArtStyle
	}
	if style.Background == "" {
		style.Background = defaultBackground
	}

	name := req.Name
	if name == "" {
		name = deriveName(req.Prompt)
	}
	return Interpretation{
		Name:     cases.Title(language.English).String(name),
		Category: category,
		Prompt:   req.Prompt,
		Style:    style,
	}, nil
}

func deriveName(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) > maxDerivedNameWords {
		words = words[:maxDerivedNameWords]
	}
	return strings.Trim(strings.Join(words, " "), ".,;:!?")
}

// CreateProduct stores a draft product and queues its first image-generation job.
func (s *ProductService) CreateProduct(ctx context.Context, req CreateProductRequest) (*CreateProductResult, error) {
	interp, err := Interpret(req)
	if err != nil {
		return nil, err
	}

	product := &domain.Product{
		ID:          uuid.NewString(),
		Name:        interp.Name,
		Description: strings.TrimSpace(req.Description),
		PriceCents:  req.PriceCents,
		Category:    interp.Category,
		Status:      domain.ProductStatusDraft,
		Images:      []string{},
		Metadata: domain.ProductMetadata{
			AIGenerated: true,
			Prompt:      interp.Prompt,
			Style:       interp.Style,
		},
	}
	if err := s.products.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	job, err := s.enqueue(ctx, product.ID, domain.JobTypeImageGeneration, domain.JobInput{
		Generation: &domain.GenerationInput{Prompt: interp.Prompt, Style: interp.Style},
	})
	if err != nil {
		if derr := s.products.DeleteDraft(context.WithoutCancel(ctx), product.ID); derr != nil {
			s.logger.Warn().Err(derr).Str("product_id", product.ID).Msg("api: draft cleanup after failed enqueue")
		}
		return nil, err
	}
	return &CreateProductResult{Product: product, Job: job, Interpretation: interp}, nil
}

// RemoveBackground queues a background-removal job. An empty assetID selects
// the newest source asset.
func (s *ProductService) RemoveBackground(ctx context.Context, productID, assetID string) (*domain.Job, error) {
	source, err := s.pickSource(ctx, productID, assetID, domain.AssetKindSource)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, productID, domain.JobTypeBackgroundRemoval, transformInput(source, ""))
}

// CreateMockups queues one flat lay and one lifestyle mockup job. An empty
// sourceAssetID selects the newest background-free asset, or the newest source
// asset when background removal was skipped.
func (s *ProductService) CreateMockups(ctx context.Context, productID, sourceAssetID string) ([]*domain.Job, error) {
	source, err := s.pickSource(ctx, productID, sourceAssetID, domain.AssetKindNoBackground, domain.AssetKindSource)
	if err != nil {
		return nil, err
	}
	templates := []domain.MockupTemplate{domain.MockupTemplateFlatLay, domain.MockupTemplateLifestyle}
	jobs := make([]*domain.Job, 0, len(templates))
	for _, template := range templates {
		job, err := s.enqueue(ctx, productID, domain.JobTypeMockup, transformInput(source, template))
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Upscale queues an upscale job, defaulting to the newest mockup.
func (s *ProductService) Upscale(ctx context.Context, productID, assetID string) (*domain.Job, error) {
	source, err := s.pickSource(ctx, productID, assetID, domain.AssetKindMockup)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, productID, domain.JobTypeUpscale, transformInput(source, ""))
}

// Regenerate queues a new image-generation job with the original prompt.
func (s *ProductService) Regenerate(ctx context.Context, productID string) (*domain.Job, error) {
	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	prompt := strings.TrimSpace(product.Metadata.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: product %s has no generation prompt", domain.ErrPrerequisiteMissing, productID)
	}
	return s.enqueue(ctx, productID, domain.JobTypeImageGeneration, domain.JobInput{
		Generation: &domain.GenerationInput{Prompt: prompt, Style: product.Metadata.Style},
	})
}

// Approve activates a draft product with its assets in display order.
func (s *ProductService) Approve(ctx context.Context, productID string) (*domain.Product, error) {
	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	assets, err := s.assets.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	if err := product.Approve(assets); err != nil {
		return nil, err
	}
	if err := s.products.Activate(ctx, productID, product.Images); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("product_id", productID).
		Int("images", len(product.Images)).
		Msg("api: product approved")
	return product, nil
}

// DeleteAsset removes an asset and its URL from the product images.
func (s *ProductService) DeleteAsset(ctx context.Context, productID, assetID string) error {
	asset, err := s.assets.GetByID(ctx, assetID)
	if err != nil {
		return err
	}
	if asset.ProductID != productID {
		return domain.ErrNotFound
	}
	if err := s.assets.Delete(ctx, assetID); err != nil {
		return err
	}
	if err := s.products.RemoveImage(ctx, productID, asset.URL); err != nil {
		return fmt.Errorf("remove product image: %w", err)
	}
	s.logger.Info().
		Str("product_id", productID).
		Str("asset_id", assetID).
		Str("kind", string(asset.Kind)).
		Msg("api: asset deleted")
	return nil
}

// Status returns the product with its jobs (newest first) and assets.
func (s *ProductService) Status(ctx context.Context, productID string) (*ProductStatus, error) {
	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobs.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	assets, err := s.assets.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return &ProductStatus{
		Product:      product,
		Jobs:         jobs,
		Assets:       assets,
		AssetsByKind: domain.GroupAssetsByKind(assets),
	}, nil
}

// pickSource resolves the input asset of a single-image job. An explicit id must
// belong to the product; otherwise the newest asset of the first kind present wins.
func (s *ProductService) pickSource(ctx context.Context, productID, assetID string, kinds ...domain.AssetKind) (*domain.ProductAsset, error) {
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, err
	}
	if assetID = strings.TrimSpace(assetID); assetID != "" {
		asset, err := s.assets.GetByID(ctx, assetID)
		if err != nil {
			return nil, err
		}
		if asset.ProductID != productID {
			return nil, fmt.Errorf("%w: asset %s", domain.ErrNotFound, assetID)
		}
		return asset, nil
	}
	assets, err := s.assets.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	for _, kind := range kinds {
		if latest, ok := domain.LatestAsset(assets, kind); ok {
			return &latest, nil
		}
	}
	return nil, fmt.Errorf("%w: no %s asset for product %s", domain.ErrPrerequisiteMissing, kinds[0], productID)
}

func transformInput(source *domain.ProductAsset, template domain.MockupTemplate) domain.JobInput {
	return domain.JobInput{Transform: &domain.TransformInput{
		SourceAssetID: source.ID,
		SourceURL:     source.URL,
		Template:      template,
	}}
}

// enqueue creates a queued job with the next attempt number for its type.
func (s *ProductService) enqueue(ctx context.Context, productID string, jobType domain.JobType, input domain.JobInput) (*domain.Job, error) {
	var lastErr error
	for i := 0; i < maxEnqueueAttempts; i++ {
		count, err := s.jobs.CountByProductAndType(ctx, productID, jobType)
		if err != nil {
			return nil, fmt.Errorf("count jobs: %w", err)
		}
		job := &domain.Job{
			ID:        uuid.NewString(),
			ProductID: productID,
			Type:      jobType,
			Status:    domain.JobStatusQueued,
			Attempt:   count + 1,
			Input:     input,
		}
		err = s.jobs.Create(ctx, job)
		if err == nil {
			s.logger.Info().
				Str("job_id", job.ID).
				Str("product_id", productID).
				Str("type", string(jobType)).
				Int("attempt", job.Attempt).
				Msg("api: job queued")
			return job, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("create job: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("create job: %w", lastErr)
}
