package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/imaginethisprinted/aistudio/internal/adapter/repo"
	"github.com/imaginethisprinted/aistudio/internal/domain"
	imageprovider "github.com/imaginethisprinted/aistudio/internal/providers/image"
)

type stubAdapter struct {
	mu          sync.Mutex
	generate    domain.JobOutput
	transform   domain.JobOutput
	polls       map[string]imageprovider.PollResult
	pollErr     error
	panicOnGen  bool
	genCalls    int
	pollCalls   int
	polled      []string
	lastModel   imageprovider.Model
	lastRequest imageprovider.TransformRequest
}

func (s *stubAdapter) Generate(context.Context, imageprovider.GenerateRequest) domain.JobOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.genCalls++
	if s.panicOnGen {
		panic("provider exploded")
	}
	return copyOutput(s.generate)
}

func (s *stubAdapter) Transform(_ context.Context, model imageprovider.Model, req imageprovider.TransformRequest) domain.JobOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastModel = model
	s.lastRequest = req
	return copyOutput(s.transform)
}

func (s *stubAdapter) Poll(_ context.Context, id string) (imageprovider.PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollCalls++
	s.polled = append(s.polled, id)
	if s.pollErr != nil {
		return imageprovider.PollResult{}, s.pollErr
	}
	res, ok := s.polls[id]
	if !ok {
		return imageprovider.PollResult{Status: domain.OutputStatusProcessing}, nil
	}
	return res, nil
}

type stubStore struct {
	err  error
	puts []string
}

func (s *stubStore) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.puts = append(s.puts, key)
	return "https://cdn.test/" + key, nil
}

type stubDownloader struct {
	calls int
}

func (d *stubDownloader) Download(_ context.Context, rawURL string) ([]byte, string, error) {
	d.calls++
	return []byte("image:" + rawURL), "image/png", nil
}

type fixture struct {
	store    *repo.MemoryStore
	adapter  *stubAdapter
	objects  *stubStore
	download *stubDownloader
	worker   *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    repo.NewMemoryStore(),
		adapter:  &stubAdapter{polls: map[string]imageprovider.PollResult{}},
		objects:  &stubStore{},
		download: &stubDownloader{},
	}
	w, err := New(Options{
		Jobs:       f.store.Jobs(),
		Assets:     f.store.Assets(),
		Products:   f.store.Products(),
		Adapter:    f.adapter,
		Store:      f.objects,
		Downloader: f.download,
		Models: Models{
			BackgroundRemoval: imageprovider.Model{ID: "851-labs/background-remover", Sync: true},
			Mockup:            imageprovider.Model{ID: "black-forest-labs/flux-kontext-pro", Sync: true},
			Upscale:           imageprovider.Model{ID: "nightmareai/real-esrgan", Sync: true},
		},
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	f.worker = w
	ctx := context.Background()
	if err := f.store.Products().Create(ctx, &domain.Product{ID: "p1", Name: "Red Mug", Category: "mug", Status: domain.ProductStatusDraft}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	return f
}

func (f *fixture) queue(t *testing.T, job *domain.Job) {
	t.Helper()
	job.ProductID = "p1"
	job.Status = domain.JobStatusQueued
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	if err := f.store.Jobs().Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
}

func (f *fixture) job(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := f.store.Jobs().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return job
}

func (f *fixture) assets(t *testing.T) []domain.ProductAsset {
	t.Helper()
	assets, err := f.store.Assets().ListByProduct(context.Background(), "p1")
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	return assets
}

func generationJob(id string) *domain.Job {
	return &domain.Job{
		ID:    id,
		Type:  domain.JobTypeImageGeneration,
		Input: domain.JobInput{Generation: &domain.GenerationInput{Prompt: "red mug"}},
	}
}

func syncAndAsyncOutput() domain.JobOutput {
	return domain.JobOutput{IsMultiModel: true, Outputs: []domain.ModelOutput{
		{ModelID: "bfl/schnell", ModelName: "Schnell", IsSynchronous: true, URL: "https://replicate.delivery/a.png", PredictionID: "sync-1", Status: domain.OutputStatusSucceeded},
		{ModelID: "bfl/dev", ModelName: "Dev", PredictionID: "async-1", Status: domain.OutputStatusProcessing},
	}}
}

func TestGenerationJobWithSyncAndAsyncModels(t *testing.T) {
	f := newFixture(t)
	f.adapter.generate = syncAndAsyncOutput()
	f.queue(t, generationJob("j1"))
	ctx := context.Background()

	processed, err := f.worker.ProcessNext(ctx)
	if err != nil || !processed {
		t.Fatalf("process next = %v, %v", processed, err)
	}

	job := f.job(t, "j1")
	if job.Status != domain.JobStatusRunning {
		t.Fatalf("status = %s, want running while async prediction is pending", job.Status)
	}
	if len(job.Output.Outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(job.Output.Outputs))
	}
	if !job.Output.Outputs[0].Persisted() {
		t.Fatalf("sync output should have an asset: %#v", job.Output.Outputs[0])
	}
	if job.Output.Outputs[1].Status != domain.OutputStatusProcessing || job.Output.Outputs[1].PredictionID != "async-1" {
		t.Fatalf("async output = %#v", job.Output.Outputs[1])
	}
	if assets := f.assets(t); len(assets) != 1 || assets[0].Kind != domain.AssetKindSource {
		t.Fatalf("assets = %#v, want one source asset", assets)
	}

	f.adapter.polls["async-1"] = imageprovider.PollResult{Status: domain.OutputStatusSucceeded, URL: "https://replicate.delivery/b.png"}
	if err := f.worker.PollPending(ctx); err != nil {
		t.Fatalf("poll pending: %v", err)
	}

	job = f.job(t, "j1")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", job.Status)
	}
	if len(f.assets(t)) != 2 {
		t.Fatalf("assets = %d, want 2", len(f.assets(t)))
	}
	product, _ := f.store.Products().GetByID(ctx, "p1")
	if len(product.Images) != 2 {
		t.Fatalf("product images = %#v, want 2", product.Images)
	}
}

func TestUploadFailureStallsJob(t *testing.T) {
	f := newFixture(t)
	f.adapter.generate = domain.JobOutput{Outputs: []domain.ModelOutput{
		{ModelID: "bfl/schnell", ModelName: "Schnell", IsSynchronous: true, URL: "https://replicate.delivery/a.png", Status: domain.OutputStatusSucceeded},
	}}
	f.objects.err = errors.New("bucket unavailable")
	f.queue(t, generationJob("j1"))

	if _, err := f.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process next: %v", err)
	}

	job := f.job(t, "j1")
	if job.Status == domain.JobStatusSucceeded {
		t.Fatalf("job must not succeed when upload failed")
	}
	if job.Error == nil || !strings.Contains(*job.Error, "bucket unavailable") {
		t.Fatalf("error = %v, want upload failure", job.Error)
	}
	if assets := f.assets(t); len(assets) != 0 {
		t.Fatalf("assets = %#v, want none", assets)
	}
	if job.Output.Outputs[0].Persisted() {
		t.Fatalf("output should stay unpersisted")
	}
}

func TestStalledJobsDoNotStarveNewPredictions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.worker.pollBatch = 3
	f.adapter.generate = domain.JobOutput{Outputs: []domain.ModelOutput{
		{ModelID: "bfl/schnell", ModelName: "Schnell", IsSynchronous: true, URL: "https://replicate.delivery/a.png", Status: domain.OutputStatusSucceeded},
	}}
	f.objects.err = errors.New("bucket unavailable")
	for i, id := range []string{"s1", "s2", "s3"} {
		job := generationJob(id)
		job.Attempt = i + 1
		f.queue(t, job)
		if _, err := f.worker.ProcessNext(ctx); err != nil {
			t.Fatalf("process %s: %v", id, err)
		}
	}
	f.objects.err = nil

	f.adapter.generate = domain.JobOutput{Outputs: []domain.ModelOutput{
		{ModelID: "bfl/dev", ModelName: "Dev", PredictionID: "async-1", Status: domain.OutputStatusProcessing},
	}}
	f.queue(t, &domain.Job{
		ID:      "fresh",
		Type:    domain.JobTypeImageGeneration,
		Attempt: 4,
		Input:   domain.JobInput{Generation: &domain.GenerationInput{Prompt: "red mug"}},
	})
	if _, err := f.worker.ProcessNext(ctx); err != nil {
		t.Fatalf("process fresh: %v", err)
	}
	f.adapter.polls["async-1"] = imageprovider.PollResult{Status: domain.OutputStatusSucceeded, URL: "https://replicate.delivery/b.png"}

	if err := f.worker.PollPending(ctx); err != nil {
		t.Fatalf("poll pending: %v", err)
	}
	if job := f.job(t, "fresh"); job.Status != domain.JobStatusSucceeded {
		t.Fatalf("fresh job status = %s, want succeeded", job.Status)
	}
	if f.adapter.pollCalls != 1 {
		t.Fatalf("poll calls = %d, want 1", f.adapter.pollCalls)
	}
	for _, id := range []string{"s1", "s2", "s3"} {
		if job := f.job(t, id); job.Status != domain.JobStatusRunning {
			t.Fatalf("stalled job %s = %s, want running", id, job.Status)
		}
	}
}

func TestPollBatchesRotateThroughBacklog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.worker.pollBatch = 1
	for i, id := range []string{"j1", "j2", "j3"} {
		f.adapter.generate = domain.JobOutput{Outputs: []domain.ModelOutput{
			{ModelID: "bfl/dev", PredictionID: "pred-" + id, Status: domain.OutputStatusProcessing},
		}}
		job := generationJob(id)
		job.Attempt = i + 1
		f.queue(t, job)
		if _, err := f.worker.ProcessNext(ctx); err != nil {
			t.Fatalf("process %s: %v", id, err)
		}
	}
	f.adapter.pollErr = errors.New("connection reset")

	for i := 0; i < 3; i++ {
		if err := f.worker.PollPending(ctx); err != nil {
			t.Fatalf("poll pending: %v", err)
		}
	}
	if got := strings.Join(f.adapter.polled, ","); got != "pred-j1,pred-j2,pred-j3" {
		t.Fatalf("polled = %s, want every job once", got)
	}
}

func TestRetriedUploadClearsJobError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapter.generate = syncAndAsyncOutput()
	f.objects.err = errors.New("bucket unavailable")
	f.queue(t, generationJob("j1"))
	if _, err := f.worker.ProcessNext(ctx); err != nil {
		t.Fatalf("process next: %v", err)
	}
	if job := f.job(t, "j1"); job.Error == nil {
		t.Fatalf("expected upload error on the job")
	}

	f.objects.err = nil
	f.adapter.polls["async-1"] = imageprovider.PollResult{Status: domain.OutputStatusSucceeded, URL: "https://replicate.delivery/b.png"}
	if err := f.worker.PollPending(ctx); err != nil {
		t.Fatalf("poll pending: %v", err)
	}

	job := f.job(t, "j1")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", job.Status)
	}
	if job.Error != nil {
		t.Fatalf("error = %q, want cleared after both uploads landed", *job.Error)
	}
	if len(f.assets(t)) != 2 {
		t.Fatalf("assets = %d, want 2", len(f.assets(t)))
	}
}

func TestRepollDoesNotDuplicateAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapter.generate = domain.JobOutput{Outputs: []domain.ModelOutput{
		{ModelID: "bfl/dev", ModelName: "Dev", PredictionID: "async-1", Status: domain.OutputStatusProcessing},
	}}
	f.queue(t, generationJob("j1"))
	if _, err := f.worker.ProcessNext(ctx); err != nil {
		t.Fatalf("process next: %v", err)
	}

	// An asset for the prediction already exists, e.g. from a pass whose job update was lost.
	if err := f.store.Assets().Create(ctx, &domain.ProductAsset{
		ID: "existing", ProductID: "p1", JobID: "j1", Kind: domain.AssetKindSource,
		URL: "https://cdn.test/existing.png", SourceKey: "async-1",
	}); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	f.adapter.polls["async-1"] = imageprovider.PollResult{Status: domain.OutputStatusSucceeded, URL: "https://replicate.delivery/b.png"}

	if err := f.worker.PollPending(ctx); err != nil {
		t.Fatalf("poll pending: %v", err)
	}
	if err := f.worker.PollPending(ctx); err != nil {
		t.Fatalf("second poll pending: %v", err)
	}

	assets := f.assets(t)
	if len(assets) != 1 || assets[0].ID != "existing" {
		t.Fatalf("assets = %#v, want only the existing asset", assets)
	}
	if f.download.calls != 0 {
		t.Fatalf("download calls = %d, want 0", f.download.calls)
	}
	job := f.job(t, "j1")
	if job.Status != domain.JobStatusSucceeded || job.Output.Outputs[0].AssetID != "existing" {
		t.Fatalf("job = %s %#v", job.Status, job.Output.Outputs)
	}
	if f.adapter.pollCalls != 1 {
		t.Fatalf("poll calls = %d, terminal jobs must not be polled again", f.adapter.pollCalls)
	}
}

func TestAsyncFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapter.generate = domain.JobOutput{Outputs: []domain.ModelOutput{
		{ModelID: "bfl/dev", ModelName: "Dev", PredictionID: "async-1", Status: domain.OutputStatusProcessing},
	}}
	f.queue(t, generationJob("j1"))
	if _, err := f.worker.ProcessNext(ctx); err != nil {
		t.Fatalf("process next: %v", err)
	}

	f.adapter.polls["async-1"] = imageprovider.PollResult{Status: domain.OutputStatusFailed, Error: "NSFW content detected"}
	if err := f.worker.PollPending(ctx); err != nil {
		t.Fatalf("poll pending: %v", err)
	}

	job := f.job(t, "j1")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Error == nil || *job.Error != "Dev: NSFW content detected" {
		t.Fatalf("error = %v", job.Error)
	}
}

func TestPartialFailureSucceeds(t *testing.T) {
	f := newFixture(t)
	f.adapter.generate = domain.JobOutput{IsMultiModel: true, Outputs: []domain.ModelOutput{
		{ModelID: "a", ModelName: "A", IsSynchronous: true, URL: "https://x/a.png", Status: domain.OutputStatusSucceeded},
		{ModelID: "b", ModelName: "B", IsSynchronous: true, Status: domain.OutputStatusFailed, Error: "rate limited"},
	}}
	f.queue(t, generationJob("j1"))

	if _, err := f.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process next: %v", err)
	}
	job := f.job(t, "j1")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", job.Status)
	}
	if job.Output.Outputs[1].Error != "rate limited" {
		t.Fatalf("failed output should keep its error: %#v", job.Output.Outputs[1])
	}
}

func TestTransientPollErrorKeepsJobRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapter.generate = domain.JobOutput{Outputs: []domain.ModelOutput{
		{ModelID: "bfl/dev", PredictionID: "async-1", Status: domain.OutputStatusProcessing},
	}}
	f.queue(t, generationJob("j1"))
	if _, err := f.worker.ProcessNext(ctx); err != nil {
		t.Fatalf("process next: %v", err)
	}
	f.adapter.pollErr = errors.New("connection reset")

	if err := f.worker.PollPending(ctx); err != nil {
		t.Fatalf("poll pending: %v", err)
	}
	job := f.job(t, "j1")
	if job.Status != domain.JobStatusRunning || job.Output.Outputs[0].Status != domain.OutputStatusProcessing {
		t.Fatalf("job = %s %#v", job.Status, job.Output.Outputs)
	}
}

func TestMockupJobUsesDesignatedModel(t *testing.T) {
	f := newFixture(t)
	f.adapter.transform = domain.JobOutput{Outputs: []domain.ModelOutput{
		{ModelID: "black-forest-labs/flux-kontext-pro", IsSynchronous: true, URL: "https://x/mockup.png", PredictionID: "m-1", Status: domain.OutputStatusSucceeded},
	}}
	f.queue(t, &domain.Job{
		ID:   "m1",
		Type: domain.JobTypeMockup,
		Input: domain.JobInput{Transform: &domain.TransformInput{
			SourceAssetID: "src",
			SourceURL:     "https://cdn.test/src.png",
			Template:      domain.MockupTemplateFlatLay,
		}},
	})

	if _, err := f.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process next: %v", err)
	}
	if f.adapter.lastModel.ID != "black-forest-labs/flux-kontext-pro" {
		t.Fatalf("model = %s", f.adapter.lastModel.ID)
	}
	if f.adapter.lastRequest.ImageURL != "https://cdn.test/src.png" || !strings.Contains(f.adapter.lastRequest.Prompt, "mug") {
		t.Fatalf("request = %#v", f.adapter.lastRequest)
	}
	assets := f.assets(t)
	if len(assets) != 1 || assets[0].Kind != domain.AssetKindMockup {
		t.Fatalf("assets = %#v", assets)
	}
	if assets[0].Metadata["template"] != "flat_lay" {
		t.Fatalf("metadata = %#v", assets[0].Metadata)
	}
	if f.job(t, "m1").Status != domain.JobStatusSucceeded {
		t.Fatalf("mockup job should succeed")
	}
}

func TestPanicFailsOnlyThatJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapter.panicOnGen = true
	f.queue(t, generationJob("bad"))
	f.adapter.transform = domain.JobOutput{Outputs: []domain.ModelOutput{
		{ModelID: "nightmareai/real-esrgan", IsSynchronous: true, URL: "https://x/up.png", Status: domain.OutputStatusSucceeded},
	}}
	f.queue(t, &domain.Job{
		ID:    "good",
		Type:  domain.JobTypeUpscale,
		Input: domain.JobInput{Transform: &domain.TransformInput{SourceURL: "https://cdn.test/m.png"}},
	})

	f.worker.drainQueue(ctx)

	bad := f.job(t, "bad")
	if bad.Status != domain.JobStatusFailed || bad.Error == nil || !strings.Contains(*bad.Error, "provider exploded") {
		t.Fatalf("bad job = %s %v", bad.Status, bad.Error)
	}
	if good := f.job(t, "good"); good.Status != domain.JobStatusSucceeded {
		t.Fatalf("good job status = %s", good.Status)
	}
}

func TestMissingInputFailsJob(t *testing.T) {
	f := newFixture(t)
	f.queue(t, &domain.Job{ID: "j1", Type: domain.JobTypeBackgroundRemoval})

	if _, err := f.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process next: %v", err)
	}
	if job := f.job(t, "j1"); job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
}

func TestProcessNextOnEmptyQueue(t *testing.T) {
	f := newFixture(t)
	processed, err := f.worker.ProcessNext(context.Background())
	if err != nil || processed {
		t.Fatalf("process next = %v, %v", processed, err)
	}
}

func copyOutput(out domain.JobOutput) domain.JobOutput {
	out.Outputs = append([]domain.ModelOutput(nil), out.Outputs...)
	return out
}
