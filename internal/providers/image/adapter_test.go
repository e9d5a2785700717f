package image

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/imaginethisprinted/aistudio/internal/domain"
	"github.com/imaginethisprinted/aistudio/internal/providers/replicate"
)

type stubPredictor struct {
	mu     sync.Mutex
	create map[string]func(wait bool) (*replicate.Prediction, error)
	get    map[string]*replicate.Prediction
	getErr error
	inputs map[string]map[string]any
	waits  map[string]bool
	calls  int
}

func newStubPredictor() *stubPredictor {
	return &stubPredictor{
		create: map[string]func(bool) (*replicate.Prediction, error){},
		get:    map[string]*replicate.Prediction{},
		inputs: map[string]map[string]any{},
		waits:  map[string]bool{},
	}
}

func (s *stubPredictor) CreatePrediction(_ context.Context, model string, input map[string]any, wait bool) (*replicate.Prediction, error) {
	s.mu.Lock()
	s.calls++
	s.inputs[model] = input
	s.waits[model] = wait
	fn := s.create[model]
	s.mu.Unlock()
	if fn == nil {
		return nil, errors.New("unexpected model " + model)
	}
	return fn(wait)
}

func (s *stubPredictor) GetPrediction(_ context.Context, id string) (*replicate.Prediction, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.get[id]
	if !ok {
		return nil, &replicate.APIError{StatusCode: 404, Detail: "not found"}
	}
	return p, nil
}

func succeeded(id, url string) *replicate.Prediction {
	raw, _ := json.Marshal([]string{url})
	return &replicate.Prediction{ID: id, Status: replicate.PredictionSucceeded, Output: raw}
}

func TestGenerateSyncAndAsyncModels(t *testing.T) {
	stub := newStubPredictor()
	stub.create["bfl/schnell"] = func(bool) (*replicate.Prediction, error) {
		return succeeded("sync-1", "https://replicate.delivery/mug.png"), nil
	}
	stub.create["bfl/dev"] = func(bool) (*replicate.Prediction, error) {
		return &replicate.Prediction{ID: "async-1", Status: replicate.PredictionStarting}, nil
	}
	adapter := NewAdapter(stub, []Model{
		{ID: "bfl/schnell", Name: "Schnell", Sync: true},
		{ID: "bfl/dev", Name: "Dev", Sync: false},
	}, nil)

	out := adapter.Generate(context.Background(), GenerateRequest{Prompt: "red mug"})

	if !out.IsMultiModel {
		t.Fatalf("expected multi-model output")
	}
	if len(out.Outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(out.Outputs))
	}
	syncOut, asyncOut := out.Outputs[0], out.Outputs[1]
	if !syncOut.IsSynchronous || syncOut.URL != "https://replicate.delivery/mug.png" || syncOut.Status != domain.OutputStatusSucceeded {
		t.Fatalf("unexpected sync output: %#v", syncOut)
	}
	if asyncOut.IsSynchronous || asyncOut.PredictionID != "async-1" || asyncOut.Status != domain.OutputStatusProcessing {
		t.Fatalf("unexpected async output: %#v", asyncOut)
	}
	if !stub.waits["bfl/schnell"] || stub.waits["bfl/dev"] {
		t.Fatalf("wait flags = %#v", stub.waits)
	}
	prompt, _ := stub.inputs["bfl/dev"]["prompt"].(string)
	if !strings.HasPrefix(prompt, "red mug") {
		t.Fatalf("prompt = %q", prompt)
	}
}

func TestGeneratePartialFailureKeepsSiblings(t *testing.T) {
	stub := newStubPredictor()
	stub.create["a/ok"] = func(bool) (*replicate.Prediction, error) {
		return succeeded("p-ok", "https://x/ok.png"), nil
	}
	stub.create["a/limited"] = func(bool) (*replicate.Prediction, error) {
		return nil, &replicate.APIError{StatusCode: 429, Detail: "rate limited"}
	}
	stub.create["a/broken"] = func(bool) (*replicate.Prediction, error) {
		return &replicate.Prediction{ID: "p-bad", Status: replicate.PredictionFailed, Error: json.RawMessage(`"out of memory"`)}, nil
	}
	adapter := NewAdapter(stub, []Model{
		{ID: "a/ok", Sync: true},
		{ID: "a/limited", Sync: true},
		{ID: "a/broken", Sync: true},
	}, nil)

	out := adapter.Generate(context.Background(), GenerateRequest{Prompt: "poster"})
	if len(out.Outputs) != 3 {
		t.Fatalf("outputs = %d, want 3", len(out.Outputs))
	}
	if out.Outputs[0].Status != domain.OutputStatusSucceeded {
		t.Fatalf("first output = %#v", out.Outputs[0])
	}
	if out.Outputs[1].Status != domain.OutputStatusFailed || !strings.Contains(out.Outputs[1].Error, "rate limited") {
		t.Fatalf("second output = %#v", out.Outputs[1])
	}
	if out.Outputs[2].Status != domain.OutputStatusFailed || out.Outputs[2].Error != "out of memory" {
		t.Fatalf("third output = %#v", out.Outputs[2])
	}
}

func TestGenerateSingleModelIsFlat(t *testing.T) {
	stub := newStubPredictor()
	stub.create["a/only"] = func(bool) (*replicate.Prediction, error) {
		return succeeded("p1", "https://x/only.png"), nil
	}
	adapter := NewAdapter(stub, []Model{{ID: "a/only", Sync: true}}, nil)

	out := adapter.Generate(context.Background(), GenerateRequest{Prompt: "tote"})
	if out.IsMultiModel || len(out.Outputs) != 1 {
		t.Fatalf("unexpected output: %#v", out)
	}
}

func TestSyncModelReturningPendingIsTreatedAsAsync(t *testing.T) {
	stub := newStubPredictor()
	stub.create["a/slow"] = func(bool) (*replicate.Prediction, error) {
		return &replicate.Prediction{ID: "p-slow", Status: replicate.PredictionProcessing}, nil
	}
	adapter := NewAdapter(stub, []Model{{ID: "a/slow", Sync: true}}, nil)

	out := adapter.Transform(context.Background(), Model{ID: "a/slow", Sync: true}, TransformRequest{ImageURL: "https://x/src.png"})
	got := out.Outputs[0]
	if got.IsSynchronous || got.Status != domain.OutputStatusProcessing || got.PredictionID != "p-slow" {
		t.Fatalf("unexpected output: %#v", got)
	}
}

func TestTransformInputs(t *testing.T) {
	stub := newStubPredictor()
	for _, id := range []string{"851-labs/background-remover", "black-forest-labs/flux-kontext-pro", "nightmareai/real-esrgan"} {
		id := id
		stub.create[id] = func(bool) (*replicate.Prediction, error) {
			return succeeded("p-"+id, "https://x/out.png"), nil
		}
	}
	adapter := NewAdapter(stub, nil, nil)
	ctx := context.Background()

	adapter.Transform(ctx, Model{ID: "851-labs/background-remover", Sync: true}, TransformRequest{ImageURL: "https://x/src.png"})
	if stub.inputs["851-labs/background-remover"]["image"] != "https://x/src.png" {
		t.Fatalf("background remover input = %#v", stub.inputs["851-labs/background-remover"])
	}

	adapter.Transform(ctx, Model{ID: "black-forest-labs/flux-kontext-pro", Sync: true}, TransformRequest{ImageURL: "https://x/nobg.png", Template: domain.MockupTemplateLifestyle})
	kontext := stub.inputs["black-forest-labs/flux-kontext-pro"]
	if kontext["input_image"] != "https://x/nobg.png" {
		t.Fatalf("kontext input = %#v", kontext)
	}
	if prompt, _ := kontext["prompt"].(string); !strings.Contains(prompt, "lifestyle") {
		t.Fatalf("mockup prompt = %q", prompt)
	}

	adapter.Transform(ctx, Model{ID: "nightmareai/real-esrgan", Sync: true}, TransformRequest{ImageURL: "https://x/m.png"})
	if stub.inputs["nightmareai/real-esrgan"]["scale"] != 4 {
		t.Fatalf("upscale input = %#v", stub.inputs["nightmareai/real-esrgan"])
	}
}

func TestTransformWithoutSourceFailsWithoutCallingProvider(t *testing.T) {
	stub := newStubPredictor()
	adapter := NewAdapter(stub, nil, nil)
	out := adapter.Transform(context.Background(), Model{ID: "a/b"}, TransformRequest{})
	if out.Outputs[0].Status != domain.OutputStatusFailed {
		t.Fatalf("expected failed output, got %#v", out.Outputs[0])
	}
	if stub.calls != 0 {
		t.Fatalf("provider should not be called")
	}
}

func TestPoll(t *testing.T) {
	stub := newStubPredictor()
	stub.get["done"] = succeeded("done", "https://x/done.png")
	stub.get["bad"] = &replicate.Prediction{ID: "bad", Status: replicate.PredictionCanceled}
	stub.get["busy"] = &replicate.Prediction{ID: "busy", Status: replicate.PredictionProcessing}
	adapter := NewAdapter(stub, nil, nil)
	ctx := context.Background()

	tests := []struct {
		id     string
		status domain.OutputStatus
		url    string
		errMsg string
	}{
		{"done", domain.OutputStatusSucceeded, "https://x/done.png", ""},
		{"bad", domain.OutputStatusFailed, "", "prediction canceled"},
		{"busy", domain.OutputStatusProcessing, "", ""},
		{"gone", domain.OutputStatusFailed, "", "replicate: status 404: not found"},
	}
	for _, tc := range tests {
		got, err := adapter.Poll(ctx, tc.id)
		if err != nil {
			t.Fatalf("poll %s: %v", tc.id, err)
		}
		if got.Status != tc.status || got.URL != tc.url || got.Error != tc.errMsg {
			t.Fatalf("poll %s = %#v", tc.id, got)
		}
	}

	stub.getErr = errors.New("connection reset")
	if _, err := adapter.Poll(ctx, "done"); !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("expected ErrProviderFailure, got %v", err)
	}
}

func TestPollRetriesRecoverableProviderErrors(t *testing.T) {
	stub := newStubPredictor()
	adapter := NewAdapter(stub, nil, nil)
	ctx := context.Background()

	for _, status := range []int{401, 403, 408, 429, 500, 503} {
		stub.getErr = &replicate.APIError{StatusCode: status, Detail: "Request was throttled"}
		got, err := adapter.Poll(ctx, "busy")
		if !errors.Is(err, domain.ErrProviderFailure) {
			t.Fatalf("status %d: expected ErrProviderFailure, got %#v, %v", status, got, err)
		}
		if got.Status == domain.OutputStatusFailed {
			t.Fatalf("status %d must not fail the output", status)
		}
	}

	for _, status := range []int{400, 404, 410, 422} {
		stub.getErr = &replicate.APIError{StatusCode: status, Detail: "rejected"}
		got, err := adapter.Poll(ctx, "busy")
		if err != nil || got.Status != domain.OutputStatusFailed {
			t.Fatalf("status %d: got %#v, %v; want failed output", status, got, err)
		}
	}
}

func TestBuildGenerationPrompt(t *testing.T) {
	got := BuildGenerationPrompt(" red mug ", domain.StyleOptions{ArtStyle: "watercolor", Background: "transparent", Category: "mug"})
	for _, want := range []string{"red mug", "watercolor style", "plain white background", "for a mug"} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt %q missing %q", got, want)
		}
	}
}
