package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJobTransitionsAreMonotonic(t *testing.T) {
	all := []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusSucceeded, JobStatusFailed}
	allowed := map[[2]JobStatus]bool{
		{JobStatusQueued, JobStatusRunning}:    true,
		{JobStatusRunning, JobStatusSucceeded}: true,
		{JobStatusRunning, JobStatusFailed}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			job := &Job{Status: from}
			err := job.Transition(to)
			if allowed[[2]JobStatus{from, to}] {
				if err != nil {
					t.Fatalf("%s -> %s: unexpected error %v", from, to, err)
				}
				if job.Status != to {
					t.Fatalf("%s -> %s: status = %s", from, to, job.Status)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", from, to, err)
			}
			if job.Status != from {
				t.Fatalf("%s -> %s: status mutated to %s", from, to, job.Status)
			}
		}
	}
}

func TestJobResolve(t *testing.T) {
	tests := []struct {
		name    string
		outputs []ModelOutput
		want    Resolution
		wantErr string
	}{
		{
			name:    "no outputs stays pending",
			outputs: nil,
			want:    ResolutionPending,
		},
		{
			name: "processing output stays pending",
			outputs: []ModelOutput{
				{ModelID: "a", Status: OutputStatusSucceeded, AssetID: "asset-1"},
				{ModelID: "b", Status: OutputStatusProcessing, PredictionID: "p-1"},
			},
			want: ResolutionPending,
		},
		{
			name: "succeeded without asset stays pending",
			outputs: []ModelOutput{
				{ModelID: "a", Status: OutputStatusSucceeded, URL: "https://x/a.png"},
			},
			want: ResolutionPending,
		},
		{
			name: "partial failure succeeds",
			outputs: []ModelOutput{
				{ModelID: "a", Status: OutputStatusSucceeded, AssetID: "asset-1"},
				{ModelID: "b", Status: OutputStatusFailed, Error: "rate limited"},
			},
			want: ResolutionSucceeded,
		},
		{
			name: "all failed",
			outputs: []ModelOutput{
				{ModelID: "a", ModelName: "Flux", Status: OutputStatusFailed, Error: "timeout"},
				{ModelID: "b", Status: OutputStatusFailed},
			},
			want:    ResolutionFailed,
			wantErr: "Flux: timeout; b: failed",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			job := &Job{Status: JobStatusRunning, Output: JobOutput{Outputs: tc.outputs}}
			got, msg := job.Resolve()
			if got != tc.want {
				t.Fatalf("resolution = %v, want %v", got, tc.want)
			}
			if msg != tc.wantErr {
				t.Fatalf("error = %q, want %q", msg, tc.wantErr)
			}
		})
	}
}

func TestJobOutputSingleModelEncodesFlat(t *testing.T) {
	out := JobOutput{Outputs: []ModelOutput{{
		ModelID:       "851-labs/background-remover",
		ModelName:     "Background Remover",
		IsSynchronous: true,
		URL:           "https://cdn.example.com/nobg.png",
		Status:        OutputStatusSucceeded,
	}}}
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "outputs") {
		t.Fatalf("single model output should be flat, got %s", raw)
	}
	var decoded JobOutput
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.IsMultiModel {
		t.Fatalf("decoded output should not be multi-model")
	}
	if len(decoded.Outputs) != 1 || decoded.Outputs[0].URL != out.Outputs[0].URL {
		t.Fatalf("unexpected decoded outputs: %#v", decoded.Outputs)
	}
}

func TestJobOutputMultiModelShape(t *testing.T) {
	out := JobOutput{IsMultiModel: true, Outputs: []ModelOutput{
		{ModelID: "a", Status: OutputStatusSucceeded, IsSynchronous: true, URL: "https://x/a.png"},
		{ModelID: "b", Status: OutputStatusProcessing, PredictionID: "pred-1"},
	}}
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"isMultiModel":true`) {
		t.Fatalf("expected multi-model tag, got %s", raw)
	}
	var decoded JobOutput
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.IsMultiModel || len(decoded.Outputs) != 2 {
		t.Fatalf("unexpected decoded output: %#v", decoded)
	}
	if !decoded.Pending() {
		t.Fatalf("output with processing entry should be pending")
	}
}

func TestJobOutputDecodesEmptyObject(t *testing.T) {
	var decoded JobOutput
	if err := json.Unmarshal([]byte(`{}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Outputs) != 0 {
		t.Fatalf("expected no outputs, got %#v", decoded.Outputs)
	}
}
