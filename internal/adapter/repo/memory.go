package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/imaginethisprinted/aistudio/internal/domain"
)

// MemoryStore keeps products, jobs and assets in process memory. It backs the
// "memory" store driver used for local runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	last     time.Time
	seq      int64
	products map[string]*domain.Product
	jobs     map[string]*memJob
	assets   map[string]*memAsset
}

type memJob struct {
	job      domain.Job
	seq      int64
	polledAt time.Time
}

type memAsset struct {
	asset domain.ProductAsset
	seq   int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		products: make(map[string]*domain.Product),
		jobs:     make(map[string]*memJob),
		assets:   make(map[string]*memAsset),
	}
}

// Jobs exposes the store as a domain.JobRepository.
func (s *MemoryStore) Jobs() domain.JobRepository { return memJobs{s} }

// Assets exposes the store as a domain.AssetRepository.
func (s *MemoryStore) Assets() domain.AssetRepository { return memAssets{s} }

// Products exposes the store as a domain.ProductRepository.
func (s *MemoryStore) Products() domain.ProductRepository { return memProducts{s} }

// stamp returns strictly increasing timestamps so ordering by time is stable.
func (s *MemoryStore) stamp() time.Time {
	t := s.now()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *MemoryStore) next() int64 {
	s.seq++
	return s.seq
}

type memJobs struct{ s *MemoryStore }

func (r memJobs) Create(_ context.Context, job *domain.Job) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s", domain.ErrConflict, job.ID)
	}
	for _, existing := range s.jobs {
		if existing.job.ProductID == job.ProductID && existing.job.Type == job.Type && existing.job.Attempt == job.Attempt {
			return fmt.Errorf("%w: %s attempt %d", domain.ErrConflict, job.Type, job.Attempt)
		}
	}
	now := s.stamp()
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = &memJob{job: cloneJob(*job), seq: s.next()}
	return nil
}

func (r memJobs) ClaimNext(_ context.Context) (*domain.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *memJob
	for _, entry := range s.jobs {
		if entry.job.Status != domain.JobStatusQueued {
			continue
		}
		if oldest == nil || entry.seq < oldest.seq {
			oldest = entry
		}
	}
	if oldest == nil {
		return nil, domain.ErrNoJobAvailable
	}
	oldest.job.Status = domain.JobStatusRunning
	oldest.job.UpdatedAt = s.stamp()
	claimed := cloneJob(oldest.job)
	return &claimed, nil
}

func (r memJobs) Update(_ context.Context, job *domain.Job, from domain.JobStatus) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if entry.job.Status != from {
		return fmt.Errorf("%w: job %s is %s, not %s", domain.ErrStaleJob, job.ID, entry.job.Status, from)
	}
	entry.job.Status = job.Status
	entry.job.Output = cloneOutput(job.Output)
	entry.job.Error = cloneString(job.Error)
	entry.job.UpdatedAt = s.stamp()
	job.UpdatedAt = entry.job.UpdatedAt
	return nil
}

func (r memJobs) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	job := cloneJob(entry.job)
	return &job, nil
}

func (r memJobs) ListPollable(_ context.Context, limit int) ([]domain.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []*memJob
	for _, entry := range s.jobs {
		if entry.job.Status == domain.JobStatusRunning && entry.job.Output.Pollable() {
			entries = append(entries, entry)
		}
	}
	// never-polled first, then by poll time, then creation order
	sort.Slice(entries, func(i, k int) bool {
		a, b := entries[i], entries[k]
		if !a.polledAt.Equal(b.polledAt) {
			return a.polledAt.Before(b.polledAt)
		}
		return a.seq < b.seq
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	jobs := make([]domain.Job, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, cloneJob(entry.job))
	}
	return jobs, nil
}

func (r memJobs) MarkPolled(_ context.Context, jobIDs []string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.stamp()
	for _, id := range jobIDs {
		if entry, ok := s.jobs[id]; ok && entry.job.Status == domain.JobStatusRunning {
			entry.polledAt = now
		}
	}
	return nil
}

func (r memJobs) ListByProduct(_ context.Context, productID string) ([]domain.Job, error) {
	jobs := r.s.selectJobs(func(j domain.Job) bool { return j.ProductID == productID })
	// newest first
	for i, k := 0, len(jobs)-1; i < k; i, k = i+1, k-1 {
		jobs[i], jobs[k] = jobs[k], jobs[i]
	}
	return jobs, nil
}

func (r memJobs) CountByProductAndType(_ context.Context, productID string, jobType domain.JobType) (int, error) {
	jobs := r.s.selectJobs(func(j domain.Job) bool { return j.ProductID == productID && j.Type == jobType })
	return len(jobs), nil
}

// selectJobs returns matching jobs in creation order.
func (s *MemoryStore) selectJobs(match func(domain.Job) bool) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]*memJob, 0, len(s.jobs))
	for _, entry := range s.jobs {
		if match(entry.job) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].seq < entries[k].seq })
	jobs := make([]domain.Job, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, cloneJob(entry.job))
	}
	return jobs
}

type memAssets struct{ s *MemoryStore }

func (r memAssets) Create(_ context.Context, asset *domain.ProductAsset) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.assets {
		if entry.asset.JobID == asset.JobID && entry.asset.SourceKey == asset.SourceKey {
			return fmt.Errorf("%w: asset for job %s source %s", domain.ErrConflict, asset.JobID, asset.SourceKey)
		}
	}
	asset.CreatedAt = s.stamp()
	s.assets[asset.ID] = &memAsset{asset: cloneAsset(*asset), seq: s.next()}
	return nil
}

func (r memAssets) GetByID(_ context.Context, assetID string) (*domain.ProductAsset, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.assets[assetID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	asset := cloneAsset(entry.asset)
	return &asset, nil
}

func (r memAssets) FindBySource(_ context.Context, jobID, sourceKey string) (*domain.ProductAsset, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.assets {
		if entry.asset.JobID == jobID && entry.asset.SourceKey == sourceKey {
			asset := cloneAsset(entry.asset)
			return &asset, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r memAssets) ListByProduct(_ context.Context, productID string) ([]domain.ProductAsset, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]*memAsset, 0)
	for _, entry := range s.assets {
		if entry.asset.ProductID == productID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].seq < entries[k].seq })
	assets := make([]domain.ProductAsset, 0, len(entries))
	for _, entry := range entries {
		assets = append(assets, cloneAsset(entry.asset))
	}
	return assets, nil
}

func (r memAssets) Delete(_ context.Context, assetID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[assetID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.assets, assetID)
	return nil
}

type memProducts struct{ s *MemoryStore }

func (r memProducts) Create(_ context.Context, product *domain.Product) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[product.ID]; ok {
		return fmt.Errorf("%w: product %s", domain.ErrConflict, product.ID)
	}
	now := s.stamp()
	product.CreatedAt = now
	product.UpdatedAt = now
	stored := cloneProduct(*product)
	s.products[product.ID] = &stored
	return nil
}

func (r memProducts) GetByID(_ context.Context, productID string) (*domain.Product, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneProduct(*product)
	return &out, nil
}

func (r memProducts) AppendImage(_ context.Context, productID, url string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, existing := range product.Images {
		if existing == url {
			return nil
		}
	}
	product.Images = append(product.Images, url)
	product.UpdatedAt = s.stamp()
	return nil
}

func (r memProducts) RemoveImage(_ context.Context, productID, url string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return domain.ErrNotFound
	}
	kept := product.Images[:0]
	for _, existing := range product.Images {
		if existing != url {
			kept = append(kept, existing)
		}
	}
	product.Images = kept
	product.UpdatedAt = s.stamp()
	return nil
}

func (r memProducts) Activate(_ context.Context, productID string, images []string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return domain.ErrNotFound
	}
	if product.Status != domain.ProductStatusDraft {
		return fmt.Errorf("%w: product %s is not a draft", domain.ErrInvalidTransition, productID)
	}
	product.Status = domain.ProductStatusActive
	product.Images = append([]string{}, images...)
	product.UpdatedAt = s.stamp()
	return nil
}

func (r memProducts) DeleteDraft(_ context.Context, productID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok || product.Status != domain.ProductStatusDraft {
		return domain.ErrNotFound
	}
	for _, mj := range s.jobs {
		if mj.job.ProductID == productID {
			return domain.ErrNotFound
		}
	}
	delete(s.products, productID)
	return nil
}

func cloneJob(job domain.Job) domain.Job {
	out := job
	if job.Input.Generation != nil {
		gen := *job.Input.Generation
		out.Input.Generation = &gen
	}
	if job.Input.Transform != nil {
		tr := *job.Input.Transform
		out.Input.Transform = &tr
	}
	out.Output = cloneOutput(job.Output)
	out.Error = cloneString(job.Error)
	return out
}

func cloneOutput(output domain.JobOutput) domain.JobOutput {
	out := output
	if output.Outputs != nil {
		out.Outputs = append([]domain.ModelOutput(nil), output.Outputs...)
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneAsset(asset domain.ProductAsset) domain.ProductAsset {
	out := asset
	if asset.Metadata != nil {
		out.Metadata = make(map[string]any, len(asset.Metadata))
		for k, v := range asset.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func cloneProduct(product domain.Product) domain.Product {
	out := product
	out.Images = append([]string{}, product.Images...)
	return out
}
