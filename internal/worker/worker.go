package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/imaginethisprinted/aistudio/internal/domain"
	"github.com/imaginethisprinted/aistudio/internal/infra"
	imageprovider "github.com/imaginethisprinted/aistudio/internal/providers/image"
	"github.com/imaginethisprinted/aistudio/internal/storage"
)

const (
	defaultClaimInterval = 2 * time.Second
	defaultPollInterval  = 5 * time.Second
	defaultPollBatch     = 50
)

// Adapter is the model surface the worker drives.
type Adapter interface {
	Generate(ctx context.Context, req imageprovider.GenerateRequest) domain.JobOutput
	Transform(ctx context.Context, model imageprovider.Model, req imageprovider.TransformRequest) domain.JobOutput
	Poll(ctx context.Context, predictionID string) (imageprovider.PollResult, error)
}

// Models are the designated single-image models.
type Models struct {
	BackgroundRemoval imageprovider.Model
	Mockup            imageprovider.Model
	Upscale           imageprovider.Model
}

// Options configures a Worker.
type Options struct {
	Jobs       domain.JobRepository
	Assets     domain.AssetRepository
	Products   domain.ProductRepository
	Adapter    Adapter
	Store      storage.ObjectStore
	Models     Models
	Downloader Downloader
	Logger     *infra.Logger

	ClaimInterval time.Duration
	PollInterval  time.Duration
	PollBatch     int
}

// Worker claims queued jobs, runs them through the adapter and resolves pending
// predictions on a second, slower cycle.
type Worker struct {
	jobs     domain.JobRepository
	assets   domain.AssetRepository
	products domain.ProductRepository
	adapter  Adapter
	store    storage.ObjectStore
	models   Models
	download Downloader
	logger   infra.Logger

	claimInterval time.Duration
	pollInterval  time.Duration
	pollBatch     int
	now           func() time.Time
}

// New validates the options and builds a Worker.
func New(opts Options) (*Worker, error) {
	if opts.Jobs == nil || opts.Assets == nil || opts.Products == nil {
		return nil, errors.New("worker: repositories are required")
	}
	if opts.Adapter == nil {
		return nil, errors.New("worker: adapter is required")
	}
	if opts.Store == nil {
		return nil, errors.New("worker: object store is required")
	}
	w := &Worker{
		jobs:          opts.Jobs,
		assets:        opts.Assets,
		products:      opts.Products,
		adapter:       opts.Adapter,
		store:         opts.Store,
		models:        opts.Models,
		download:      opts.Downloader,
		claimInterval: opts.ClaimInterval,
		pollInterval:  opts.PollInterval,
		pollBatch:     opts.PollBatch,
		now:           time.Now,
	}
	if w.download == nil {
		w.download = NewHTTPDownloader(&http.Client{Timeout: 60 * time.Second})
	}
	if opts.Logger != nil {
		w.logger = *opts.Logger
	} else {
		w.logger = infra.NopLogger()
	}
	if w.claimInterval <= 0 {
		w.claimInterval = defaultClaimInterval
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.pollBatch <= 0 {
		w.pollBatch = defaultPollBatch
	}
	return w, nil
}

// Run drives the claim and poll cycles until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Dur("claim_interval", w.claimInterval).
		Dur("poll_interval", w.pollInterval).
		Msg("worker: started")

	claimTicker := time.NewTicker(w.claimInterval)
	defer claimTicker.Stop()
	pollTicker := time.NewTicker(w.pollInterval)
	defer pollTicker.Stop()

	w.drainQueue(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker: stopped")
			return ctx.Err()
		case <-claimTicker.C:
			w.drainQueue(ctx)
		case <-pollTicker.C:
			if err := w.PollPending(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("worker: poll pass failed")
			}
		}
	}
}

// drainQueue processes queued jobs back to back until the queue is empty.
func (w *Worker) drainQueue(ctx context.Context) {
	for ctx.Err() == nil {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("worker: failed to claim job")
			return
		}
		if !processed {
			return
		}
	}
}

// ProcessNext claims the oldest queued job and executes it. It reports false
// when the queue was empty.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNext(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoJobAvailable) {
			return false, nil
		}
		return false, err
	}
	w.logger.Info().
		Str("job_id", job.ID).
		Str("product_id", job.ProductID).
		Str("type", string(job.Type)).
		Int("attempt", job.Attempt).
		Msg("worker: picked job")

	w.guard(ctx, job, true, func() error { return w.execute(ctx, job) })
	return true, nil
}

// PollPending resolves processing outputs of running jobs, one batch per call.
// Polled jobs go to the back of the order so every pending prediction is
// reached even when the backlog exceeds the batch size.
func (w *Worker) PollPending(ctx context.Context) error {
	jobs, err := w.jobs.ListPollable(ctx, w.pollBatch)
	if err != nil {
		return fmt.Errorf("list pollable jobs: %w", err)
	}
	polled := make([]string, 0, len(jobs))
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		job := &jobs[i]
		w.guard(ctx, job, false, func() error { return w.pollJob(ctx, job) })
		polled = append(polled, job.ID)
	}
	if err := w.jobs.MarkPolled(context.WithoutCancel(ctx), polled); err != nil {
		w.logger.Warn().Err(err).Int("jobs", len(polled)).Msg("worker: mark polled failed")
	}
	return ctx.Err()
}

// guard runs one unit of job work so that a single bad job cannot stop the
// loop. Panics always fail the job; returned errors fail it only when
// failOnError is set, otherwise the job is retried on the next cycle.
func (w *Worker) guard(ctx context.Context, job *domain.Job, failOnError bool, fn func() error) {
	log := w.logger.With().Str("job_id", job.ID).Str("product_id", job.ProductID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("worker: recovered from panic")
			w.failJob(ctx, job, fmt.Sprintf("internal error: %v", r))
		}
	}()
	if err := fn(); err != nil {
		if errors.Is(err, domain.ErrStaleJob) {
			log.Warn().Err(err).Msg("worker: job changed concurrently, skipping")
			return
		}
		log.Error().Err(err).Msg("worker: job failed")
		if failOnError {
			w.failJob(ctx, job, err.Error())
		}
	}
}

func (w *Worker) failJob(ctx context.Context, job *domain.Job, msg string) {
	if job.Status != domain.JobStatusRunning {
		return
	}
	if err := job.Transition(domain.JobStatusFailed); err != nil {
		return
	}
	job.SetError(msg)
	if err := w.jobs.Update(ctx, job, domain.JobStatusRunning); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: update status failed")
	}
}

func (w *Worker) execute(ctx context.Context, job *domain.Job) error {
	switch job.Type {
	case domain.JobTypeImageGeneration:
		in := job.Input.Generation
		if in == nil {
			return fmt.Errorf("%w: image-generation job without generation input", domain.ErrValidation)
		}
		job.Output = w.adapter.Generate(ctx, imageprovider.GenerateRequest{Prompt: in.Prompt, Style: in.Style})
	case domain.JobTypeBackgroundRemoval, domain.JobTypeMockup, domain.JobTypeUpscale:
		in := job.Input.Transform
		if in == nil {
			return fmt.Errorf("%w: %s job without transform input", domain.ErrValidation, job.Type)
		}
		model := w.modelFor(job.Type)
		if model.ID == "" {
			return fmt.Errorf("no model configured for %s", job.Type)
		}
		req := imageprovider.TransformRequest{ImageURL: in.SourceURL, Template: in.Template}
		if job.Type == domain.JobTypeMockup {
			req.Prompt = imageprovider.MockupPrompt(in.Template, w.productCategory(ctx, job.ProductID))
		}
		job.Output = w.adapter.Transform(ctx, model, req)
	default:
		return fmt.Errorf("unsupported job type %q", job.Type)
	}

	w.persistSucceeded(ctx, job)
	return w.finalize(ctx, job)
}

func (w *Worker) pollJob(ctx context.Context, job *domain.Job) error {
	changed := false
	for i := range job.Output.Outputs {
		out := &job.Output.Outputs[i]
		if out.Status != domain.OutputStatusProcessing || out.PredictionID == "" {
			continue
		}
		res, err := w.adapter.Poll(ctx, out.PredictionID)
		if err != nil {
			// transient; the prediction is polled again next cycle
			w.logger.Warn().Err(err).
				Str("job_id", job.ID).
				Str("prediction_id", out.PredictionID).
				Msg("worker: prediction poll failed")
			continue
		}
		switch res.Status {
		case domain.OutputStatusSucceeded:
			out.Status = domain.OutputStatusSucceeded
			out.URL = res.URL
			changed = true
		case domain.OutputStatusFailed:
			out.Status = domain.OutputStatusFailed
			out.Error = res.Error
			changed = true
			w.logger.Warn().
				Str("job_id", job.ID).
				Str("model", out.ModelID).
				Str("prediction_id", out.PredictionID).
				Str("error", res.Error).
				Msg("worker: prediction failed")
		}
	}
	if changed {
		w.persistSucceeded(ctx, job)
	}
	resolution, _ := job.Resolve()
	if !changed && resolution == domain.ResolutionPending {
		return nil
	}
	return w.finalize(ctx, job)
}

// persistSucceeded uploads every succeeded output that has no asset yet. Upload
// failures are recorded on the job and leave the output unpersisted; the error
// is cleared again once a later pass stores every succeeded output.
func (w *Worker) persistSucceeded(ctx context.Context, job *domain.Job) {
	var failures []string
	for i := range job.Output.Outputs {
		out := &job.Output.Outputs[i]
		if out.Status != domain.OutputStatusSucceeded || out.Persisted() {
			continue
		}
		if err := w.persistOutput(ctx, job, out); err != nil {
			w.logger.Error().Err(err).
				Str("job_id", job.ID).
				Str("model", out.ModelID).
				Msg("worker: persist asset failed")
			failures = append(failures, fmt.Sprintf("%s: upload failed: %v", out.ModelName, err))
		}
	}
	if len(failures) > 0 {
		job.SetError(strings.Join(failures, "; "))
		return
	}
	// a running job only carries upload errors
	if job.Status == domain.JobStatusRunning {
		job.Error = nil
	}
}

// finalize applies the resolution rules and writes the job back, guarded by
// the running status it was read in.
func (w *Worker) finalize(ctx context.Context, job *domain.Job) error {
	resolution, msg := job.Resolve()
	switch resolution {
	case domain.ResolutionSucceeded:
		if err := job.Transition(domain.JobStatusSucceeded); err != nil {
			return err
		}
	case domain.ResolutionFailed:
		if err := job.Transition(domain.JobStatusFailed); err != nil {
			return err
		}
		job.SetError(msg)
	}
	if err := w.jobs.Update(ctx, job, domain.JobStatusRunning); err != nil {
		return err
	}
	w.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Int("outputs", len(job.Output.Outputs)).
		Msg("worker: job updated")
	return nil
}

func (w *Worker) modelFor(t domain.JobType) imageprovider.Model {
	switch t {
	case domain.JobTypeBackgroundRemoval:
		return w.models.BackgroundRemoval
	case domain.JobTypeMockup:
		return w.models.Mockup
	case domain.JobTypeUpscale:
		return w.models.Upscale
	default:
		return imageprovider.Model{}
	}
}

func (w *Worker) productCategory(ctx context.Context, productID string) string {
	product, err := w.products.GetByID(ctx, productID)
	if err != nil {
		return ""
	}
	return product.Category
}
