package image

import (
	"context"
	"strings"

	"github.com/imaginethisprinted/aistudio/internal/domain"
	"github.com/imaginethisprinted/aistudio/internal/providers/replicate"
)

// Predictor is the provider surface the adapter needs.
type Predictor interface {
	CreatePrediction(ctx context.Context, model string, input map[string]any, wait bool) (*replicate.Prediction, error)
	GetPrediction(ctx context.Context, id string) (*replicate.Prediction, error)
}

// Model describes one configured provider model.
type Model struct {
	ID   string
	Name string
	// Sync models are called with a blocking wait for the final output.
	Sync bool
}

// DisplayName falls back to the model id.
func (m Model) DisplayName() string {
	if name := strings.TrimSpace(m.Name); name != "" {
		return name
	}
	return m.ID
}

// GenerateRequest is the uniform input passed to every generation model.
type GenerateRequest struct {
	Prompt string
	Style  domain.StyleOptions
}

// TransformRequest is the input of a single-image model.
type TransformRequest struct {
	ImageURL string
	Template domain.MockupTemplate
	// Prompt is optional guidance for image-conditioned models.
	Prompt string
}

// PollResult is the normalized state of a prediction.
type PollResult struct {
	Status domain.OutputStatus
	URL    string
	Error  string
}
