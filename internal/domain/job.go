package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType enumerates the pipeline stages a job can run.
type JobType string

const (
	JobTypeImageGeneration   JobType = "image-generation"
	JobTypeBackgroundRemoval JobType = "background-removal"
	JobTypeMockup            JobType = "mockup"
	JobTypeUpscale           JobType = "upscale"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// CanTransition reports whether from -> to is a legal job transition.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning
	case JobStatusRunning:
		return to == JobStatusSucceeded || to == JobStatusFailed
	default:
		return false
	}
}

// OutputStatus is the per-model status inside a job output.
type OutputStatus string

const (
	OutputStatusProcessing OutputStatus = "processing"
	OutputStatusSucceeded  OutputStatus = "succeeded"
	OutputStatusFailed     OutputStatus = "failed"
)

// Terminal reports whether the model output will not change anymore.
func (s OutputStatus) Terminal() bool {
	return s == OutputStatusSucceeded || s == OutputStatusFailed
}

// MockupTemplate selects the scene a mockup job renders.
type MockupTemplate string

const (
	MockupTemplateFlatLay   MockupTemplate = "flat_lay"
	MockupTemplateLifestyle MockupTemplate = "lifestyle"
)

// StyleOptions are the enumerated style parameters accepted at creation time.
type StyleOptions struct {
	ArtStyle   string `json:"art_style,omitempty"`
	Background string `json:"background,omitempty"`
	Category   string `json:"category,omitempty"`
}

// GenerationInput is the input of an image-generation job.
type GenerationInput struct {
	Prompt string       `json:"prompt"`
	Style  StyleOptions `json:"style"`
}

// TransformInput is the input of single-image jobs (background removal, mockup, upscale).
type TransformInput struct {
	SourceAssetID string         `json:"source_asset_id"`
	SourceURL     string         `json:"source_url"`
	Template      MockupTemplate `json:"template,omitempty"`
}

// JobInput carries exactly one variant matching the job type.
type JobInput struct {
	Generation *GenerationInput `json:"generation,omitempty"`
	Transform  *TransformInput  `json:"transform,omitempty"`
}

// ModelOutput is the normalized result of one model invocation.
type ModelOutput struct {
	ModelID       string       `json:"model_id"`
	ModelName     string       `json:"model_name"`
	IsSynchronous bool         `json:"is_synchronous"`
	URL           string       `json:"url,omitempty"`
	PredictionID  string       `json:"prediction_id,omitempty"`
	Status        OutputStatus `json:"status"`
	Error         string       `json:"error,omitempty"`
	AssetID       string       `json:"asset_id,omitempty"`
}

// SourceKey identifies the provider result an asset was created from.
func (o ModelOutput) SourceKey() string {
	if o.PredictionID != "" {
		return o.PredictionID
	}
	return o.ModelID
}

// Persisted reports whether the output already produced an asset.
func (o ModelOutput) Persisted() bool {
	return o.AssetID != ""
}

// JobOutput is the aggregate result stored on a job. Single-model outputs are
// encoded flat; multi-model outputs carry an outputs array.
type JobOutput struct {
	IsMultiModel bool
	Outputs      []ModelOutput
}

type multiModelJSON struct {
	IsMultiModel bool          `json:"isMultiModel"`
	Outputs      []ModelOutput `json:"outputs"`
}

// MarshalJSON implements json.Marshaler.
func (o JobOutput) MarshalJSON() ([]byte, error) {
	if !o.IsMultiModel && len(o.Outputs) == 1 {
		return json.Marshal(o.Outputs[0])
	}
	outputs := o.Outputs
	if outputs == nil {
		outputs = []ModelOutput{}
	}
	return json.Marshal(multiModelJSON{IsMultiModel: o.IsMultiModel, Outputs: outputs})
}

// UnmarshalJSON accepts both the flat and the multi-model shape.
func (o *JobOutput) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*o = JobOutput{}
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode job output: %w", err)
	}
	if _, ok := fields["outputs"]; ok {
		var multi multiModelJSON
		if err := json.Unmarshal(data, &multi); err != nil {
			return fmt.Errorf("decode job output: %w", err)
		}
		o.IsMultiModel = multi.IsMultiModel
		o.Outputs = multi.Outputs
		return nil
	}
	if len(fields) == 0 {
		*o = JobOutput{}
		return nil
	}
	var single ModelOutput
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("decode job output: %w", err)
	}
	o.IsMultiModel = false
	o.Outputs = []ModelOutput{single}
	return nil
}

// Pending reports whether any output still waits on the provider.
func (o JobOutput) Pending() bool {
	for _, out := range o.Outputs {
		if out.Status == OutputStatusProcessing {
			return true
		}
	}
	return false
}

// Pollable reports whether an output waits on a prediction the worker can poll.
func (o JobOutput) Pollable() bool {
	for _, out := range o.Outputs {
		if out.Status == OutputStatusProcessing && out.PredictionID != "" {
			return true
		}
	}
	return false
}

// Job encapsulates one unit of asynchronous pipeline work.
type Job struct {
	ID        string
	ProductID string
	Type      JobType
	Status    JobStatus
	Attempt   int
	Input     JobInput
	Output    JobOutput
	Error     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition moves the job to the next status, refusing illegal moves.
func (j *Job) Transition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	return nil
}

// SetError records a human readable error on the job.
func (j *Job) SetError(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		j.Error = nil
		return
	}
	j.Error = &msg
}

// Resolution describes what a job should become given its outputs.
type Resolution int

const (
	// ResolutionPending means the job must stay running.
	ResolutionPending Resolution = iota
	ResolutionSucceeded
	ResolutionFailed
)

// Resolve inspects the outputs: a job succeeds once every output is terminal,
// every succeeded output has been persisted and at least one succeeded; it fails
// when every output failed.
func (j *Job) Resolve() (Resolution, string) {
	if len(j.Output.Outputs) == 0 {
		return ResolutionPending, ""
	}
	succeeded := 0
	var failures []string
	for _, out := range j.Output.Outputs {
		switch out.Status {
		case OutputStatusProcessing:
			return ResolutionPending, ""
		case OutputStatusSucceeded:
			if !out.Persisted() {
				return ResolutionPending, ""
			}
			succeeded++
		case OutputStatusFailed:
			failures = append(failures, formatOutputError(out))
		}
	}
	if succeeded > 0 {
		return ResolutionSucceeded, ""
	}
	return ResolutionFailed, strings.Join(failures, "; ")
}

func formatOutputError(out ModelOutput) string {
	name := out.ModelName
	if name == "" {
		name = out.ModelID
	}
	msg := out.Error
	if msg == "" {
		msg = "failed"
	}
	return name + ": " + msg
}

// AssetKind returns the asset kind produced by jobs of this type.
func (t JobType) AssetKind() (AssetKind, error) {
	switch t {
	case JobTypeImageGeneration:
		return AssetKindSource, nil
	case JobTypeBackgroundRemoval:
		return AssetKindNoBackground, nil
	case JobTypeMockup:
		return AssetKindMockup, nil
	case JobTypeUpscale:
		return AssetKindUpscaled, nil
	default:
		return "", errors.New("unknown job type " + string(t))
	}
}
