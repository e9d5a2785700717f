package domain

import "context"

// JobRepository defines persistence for job entities.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	// ClaimNext atomically moves the oldest queued job to running and returns it.
	// It returns ErrNoJobAvailable when the queue is empty.
	ClaimNext(ctx context.Context) (*Job, error)
	// Update persists status, output and error, guarded by the expected current status.
	Update(ctx context.Context, job *Job, from JobStatus) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// ListPollable returns running jobs that still wait on a provider
	// prediction, least recently polled first.
	ListPollable(ctx context.Context, limit int) ([]Job, error)
	// MarkPolled moves the given running jobs to the back of the poll order.
	MarkPolled(ctx context.Context, jobIDs []string) error
	// ListByProduct returns jobs newest first.
	ListByProduct(ctx context.Context, productID string) ([]Job, error)
	CountByProductAndType(ctx context.Context, productID string, jobType JobType) (int, error)
}

// AssetRepository handles persistence for product assets.
type AssetRepository interface {
	Create(ctx context.Context, asset *ProductAsset) error
	GetByID(ctx context.Context, assetID string) (*ProductAsset, error)
	// FindBySource returns the asset created for a job from a given provider result.
	FindBySource(ctx context.Context, jobID, sourceKey string) (*ProductAsset, error)
	// ListByProduct returns assets oldest first.
	ListByProduct(ctx context.Context, productID string) ([]ProductAsset, error)
	Delete(ctx context.Context, assetID string) error
}

// ProductRepository handles persistence for products.
type ProductRepository interface {
	Create(ctx context.Context, product *Product) error
	GetByID(ctx context.Context, productID string) (*Product, error)
	AppendImage(ctx context.Context, productID, url string) error
	RemoveImage(ctx context.Context, productID, url string) error
	// Activate flips a draft product to active with the given image snapshot.
	Activate(ctx context.Context, productID string, images []string) error
	// DeleteDraft removes a draft product that has no jobs yet.
	DeleteDraft(ctx context.Context, productID string) error
}
