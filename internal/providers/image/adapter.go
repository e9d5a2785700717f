package image

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/imaginethisprinted/aistudio/internal/domain"
	"github.com/imaginethisprinted/aistudio/internal/infra"
	"github.com/imaginethisprinted/aistudio/internal/providers/replicate"
)

// Adapter normalizes sync and async provider results into domain.ModelOutput values.
type Adapter struct {
	client Predictor
	models []Model
	logger *infra.Logger
}

// NewAdapter wires a provider client with the configured generation models.
func NewAdapter(client Predictor, models []Model, logger *infra.Logger) *Adapter {
	if logger == nil {
		l := infra.NopLogger()
		logger = &l
	}
	return &Adapter{client: client, models: append([]Model(nil), models...), logger: logger}
}

// Generate invokes every configured generation model concurrently. It never
// fails as a whole: each model gets one output entry, in configuration order,
// carrying its own status.
func (a *Adapter) Generate(ctx context.Context, req GenerateRequest) domain.JobOutput {
	prompt := BuildGenerationPrompt(req.Prompt, req.Style)
	outputs := make([]domain.ModelOutput, len(a.models))

	var g errgroup.Group
	for i, model := range a.models {
		i, model := i, model
		g.Go(func() error {
			input := map[string]any{
				"prompt":        prompt,
				"aspect_ratio":  "1:1",
				"output_format": "png",
			}
			outputs[i] = a.run(ctx, model, input)
			return nil
		})
	}
	_ = g.Wait()

	return domain.JobOutput{IsMultiModel: len(a.models) > 1, Outputs: outputs}
}

// Transform runs one single-image model against imageURL.
func (a *Adapter) Transform(ctx context.Context, model Model, req TransformRequest) domain.JobOutput {
	if strings.TrimSpace(req.ImageURL) == "" {
		return domain.JobOutput{Outputs: []domain.ModelOutput{failedOutput(model, "source image url is required")}}
	}
	if req.Prompt == "" && req.Template != "" {
		req.Prompt = MockupPrompt(req.Template, "")
	}
	out := a.run(ctx, model, transformInput(model, req))
	return domain.JobOutput{Outputs: []domain.ModelOutput{out}}
}

// Poll fetches the state of a pending prediction. Only a permanent rejection of
// the lookup marks the output failed. Other errors are returned so the caller
// retries on the next cycle.
func (a *Adapter) Poll(ctx context.Context, predictionID string) (PollResult, error) {
	prediction, err := a.client.GetPrediction(ctx, predictionID)
	if err != nil {
		var apiErr *replicate.APIError
		if errors.As(err, &apiErr) && apiErr.Permanent() {
			return PollResult{Status: domain.OutputStatusFailed, Error: apiErr.Error()}, nil
		}
		return PollResult{}, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	switch prediction.Status {
	case replicate.PredictionSucceeded:
		url := prediction.OutputURL()
		if url == "" {
			return PollResult{Status: domain.OutputStatusFailed, Error: "prediction succeeded without an output url"}, nil
		}
		return PollResult{Status: domain.OutputStatusSucceeded, URL: url}, nil
	case replicate.PredictionFailed, replicate.PredictionCanceled:
		return PollResult{Status: domain.OutputStatusFailed, Error: predictionError(prediction)}, nil
	default:
		return PollResult{Status: domain.OutputStatusProcessing}, nil
	}
}

func (a *Adapter) run(ctx context.Context, model Model, input map[string]any) domain.ModelOutput {
	out := domain.ModelOutput{
		ModelID:       model.ID,
		ModelName:     model.DisplayName(),
		IsSynchronous: model.Sync,
	}
	log := a.logger.With().Str("model", model.ID).Bool("sync", model.Sync).Logger()

	prediction, err := a.client.CreatePrediction(ctx, model.ID, input, model.Sync)
	if err != nil {
		log.Warn().Err(err).Msg("adapter: model call failed")
		out.Status = domain.OutputStatusFailed
		out.Error = err.Error()
		return out
	}
	out.PredictionID = prediction.ID

	switch prediction.Status {
	case replicate.PredictionSucceeded:
		out.URL = prediction.OutputURL()
		if out.URL == "" {
			out.Status = domain.OutputStatusFailed
			out.Error = "prediction succeeded without an output url"
			return out
		}
		out.Status = domain.OutputStatusSucceeded
	case replicate.PredictionFailed, replicate.PredictionCanceled:
		out.Status = domain.OutputStatusFailed
		out.Error = predictionError(prediction)
		log.Warn().Str("prediction_id", prediction.ID).Str("error", out.Error).Msg("adapter: prediction failed")
	default:
		if prediction.ID == "" {
			out.Status = domain.OutputStatusFailed
			out.Error = "provider returned a pending prediction without an id"
			return out
		}
		// A sync call that outlived the provider's wait window is polled like an async one.
		out.IsSynchronous = false
		out.Status = domain.OutputStatusProcessing
	}
	return out
}

func failedOutput(model Model, msg string) domain.ModelOutput {
	return domain.ModelOutput{
		ModelID:       model.ID,
		ModelName:     model.DisplayName(),
		IsSynchronous: model.Sync,
		Status:        domain.OutputStatusFailed,
		Error:         msg,
	}
}

func predictionError(p *replicate.Prediction) string {
	if msg := p.ErrorMessage(); msg != "" {
		return msg
	}
	if p.Status == replicate.PredictionCanceled {
		return "prediction canceled"
	}
	return "prediction failed"
}
