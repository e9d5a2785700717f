// Package wizard drives the product creation flow from the operator side: it
// creates the draft, then polls the status projection while the operator
// triggers each pipeline stage by hand.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/imaginethisprinted/aistudio/internal/api"
	"github.com/imaginethisprinted/aistudio/internal/domain"
	"github.com/imaginethisprinted/aistudio/internal/service"
)

// DefaultPollInterval is the fixed status refresh period.
const DefaultPollInterval = 2 * time.Second

// requiredMockups must succeed before the product can be approved.
const requiredMockups = 2

// Step is a wizard screen.
type Step string

const (
	StepDescribe Step = "describe"
	StepReview   Step = "review"
	StepGenerate Step = "generate"
	StepSuccess  Step = "success"
)

var (
	ErrWrongStep      = errors.New("wizard: action not allowed in this step")
	ErrMockupsPending = errors.New("wizard: two mockups must succeed before approval")
	ErrNoSourceImage  = errors.New("wizard: no generated image yet")
)

// API is the admin surface the wizard calls.
type API interface {
	CreateProduct(ctx context.Context, req service.CreateProductRequest) (*api.CreateProductResponse, error)
	Status(ctx context.Context, productID string) (*api.Status, error)
	RemoveBackground(ctx context.Context, productID, assetID string) (*api.Job, error)
	CreateMockups(ctx context.Context, productID, sourceAssetID string) ([]api.Job, error)
	Regenerate(ctx context.Context, productID string) (*api.Job, error)
	Approve(ctx context.Context, productID string) (*api.Product, error)
}

// Snapshot is what a renderer needs to draw the current step.
type Snapshot struct {
	Step           Step
	ProductID      string
	Interpretation api.Interpretation
	Status         *api.Status
	Approved       *api.Product
	// Err is the last poll failure; polling continues regardless.
	Err error
}

// Wizard is safe for concurrent use: Poll runs in its own goroutine while
// operator actions arrive from another.
type Wizard struct {
	client   API
	interval time.Duration

	mu    sync.Mutex
	snap  Snapshot
	leave chan struct{}
}

// New builds a wizard in the describe step. interval <= 0 uses DefaultPollInterval.
func New(client API, interval time.Duration) *Wizard {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Wizard{client: client, interval: interval, snap: Snapshot{Step: StepDescribe}}
}

// Snapshot returns a copy of the current state.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

func (w *Wizard) Step() Step {
	return w.Snapshot().Step
}

// Describe submits the prompt and moves to review.
func (w *Wizard) Describe(ctx context.Context, req service.CreateProductRequest) (*api.CreateProductResponse, error) {
	if err := w.expect(StepDescribe); err != nil {
		return nil, err
	}
	res, err := w.client.CreateProduct(ctx, req)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.snap.Step != StepDescribe {
		return nil, fmt.Errorf("%w: %s", ErrWrongStep, w.snap.Step)
	}
	w.snap = Snapshot{
		Step:           StepReview,
		ProductID:      res.Product.ID,
		Interpretation: res.Interpretation,
	}
	return res, nil
}

// Confirm accepts the interpretation and starts the generate step.
func (w *Wizard) Confirm() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.snap.Step != StepReview {
		return fmt.Errorf("%w: %s", ErrWrongStep, w.snap.Step)
	}
	w.snap.Step = StepGenerate
	w.leave = make(chan struct{})
	return nil
}

// Reset starts over from describe, from any step.
func (w *Wizard) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.leaveGenerate()
	w.snap = Snapshot{Step: StepDescribe}
}

// Poll refreshes the status on a fixed interval and hands every snapshot to
// onUpdate. It stops when ctx is done or the wizard leaves the generate step;
// pipeline completion alone does not stop it.
func (w *Wizard) Poll(ctx context.Context, onUpdate func(Snapshot)) error {
	w.mu.Lock()
	if w.snap.Step != StepGenerate {
		step := w.snap.Step
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongStep, step)
	}
	leave := w.leave
	w.mu.Unlock()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.refresh(ctx, onUpdate)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-leave:
			return nil
		case <-ticker.C:
			w.refresh(ctx, onUpdate)
		}
	}
}

// Refresh fetches the status once.
func (w *Wizard) Refresh(ctx context.Context) (Snapshot, error) {
	productID, err := w.generating()
	if err != nil {
		return Snapshot{}, err
	}
	status, err := w.client.Status(ctx, productID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.snap.ProductID != productID {
		return w.snap, nil
	}
	w.snap.Err = err
	if err == nil {
		w.snap.Status = status
	}
	return w.snap, err
}

func (w *Wizard) refresh(ctx context.Context, onUpdate func(Snapshot)) {
	snap, err := w.Refresh(ctx)
	if errors.Is(err, ErrWrongStep) || ctx.Err() != nil {
		return
	}
	if onUpdate != nil {
		onUpdate(snap)
	}
}

// RemoveBackground queues background removal of the newest generated image.
func (w *Wizard) RemoveBackground(ctx context.Context) (*api.Job, error) {
	productID, err := w.generating()
	if err != nil {
		return nil, err
	}
	return w.client.RemoveBackground(ctx, productID, "")
}

// CreateMockups queues both mockups from the best available image.
func (w *Wizard) CreateMockups(ctx context.Context) ([]api.Job, error) {
	productID, err := w.generating()
	if err != nil {
		return nil, err
	}
	return w.client.CreateMockups(ctx, productID, "")
}

// SkipToMockups queues both mockups straight from the newest generated image,
// bypassing background removal.
func (w *Wizard) SkipToMockups(ctx context.Context) ([]api.Job, error) {
	productID, err := w.generating()
	if err != nil {
		return nil, err
	}
	snap, err := w.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	source := newestAsset(snap.Status, domain.AssetKindSource)
	if source == nil {
		return nil, ErrNoSourceImage
	}
	return w.client.CreateMockups(ctx, productID, source.ID)
}

// Regenerate queues a fresh image-generation job.
func (w *Wizard) Regenerate(ctx context.Context) (*api.Job, error) {
	productID, err := w.generating()
	if err != nil {
		return nil, err
	}
	return w.client.Regenerate(ctx, productID)
}

// Finish approves the product once two mockup jobs succeeded and moves to success.
func (w *Wizard) Finish(ctx context.Context) (*api.Product, error) {
	snap, err := w.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Status == nil || snap.Status.SucceededMockups() < requiredMockups {
		return nil, ErrMockupsPending
	}
	product, err := w.client.Approve(ctx, snap.ProductID)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.snap.Step == StepGenerate && w.snap.ProductID == snap.ProductID {
		w.leaveGenerate()
		w.snap.Step = StepSuccess
		w.snap.Approved = product
	}
	return product, nil
}

func (w *Wizard) expect(step Step) error {
	if current := w.Step(); current != step {
		return fmt.Errorf("%w: %s", ErrWrongStep, current)
	}
	return nil
}

func (w *Wizard) generating() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.snap.Step != StepGenerate {
		return "", fmt.Errorf("%w: %s", ErrWrongStep, w.snap.Step)
	}
	return w.snap.ProductID, nil
}

// leaveGenerate stops any running Poll. Callers hold mu.
func (w *Wizard) leaveGenerate() {
	if w.leave != nil {
		close(w.leave)
		w.leave = nil
	}
}

func newestAsset(status *api.Status, kind domain.AssetKind) *api.Asset {
	if status == nil {
		return nil
	}
	var newest *api.Asset
	for i := range status.Assets {
		asset := &status.Assets[i]
		if asset.Kind != kind {
			continue
		}
		if newest == nil || asset.CreatedAt.After(newest.CreatedAt) {
			newest = asset
		}
	}
	return newest
}
