package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imaginethisprinted/aistudio/internal/domain"
	"github.com/imaginethisprinted/aistudio/internal/storage"
)

// maxDownloadBytes caps a single provider output.
const maxDownloadBytes = 64 << 20

// Downloader fetches a provider output.
type Downloader interface {
	Download(ctx context.Context, rawURL string) ([]byte, string, error)
}

// HTTPDownloader fetches outputs over plain HTTP GET.
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader wraps client. A nil client gets a 60s timeout.
func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPDownloader{client: client}
}

// Download returns the body and content type of rawURL.
func (d *HTTPDownloader) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("invalid output url: %s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download output: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read output: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, "", fmt.Errorf("output exceeds %d bytes", maxDownloadBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// persistOutput stores a succeeded output as a product asset. An asset already
// recorded for the same job and provider result is reused, so re-polling a
// finished prediction never duplicates it.
func (w *Worker) persistOutput(ctx context.Context, job *domain.Job, out *domain.ModelOutput) error {
	sourceKey := out.SourceKey()
	existing, err := w.assets.FindBySource(ctx, job.ID, sourceKey)
	switch {
	case err == nil:
		out.AssetID = existing.ID
		w.attachImage(ctx, job.ProductID, existing.URL)
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("lookup asset: %w", err)
	}

	kind, err := job.Type.AssetKind()
	if err != nil {
		return err
	}
	data, contentType, err := w.download.Download(ctx, out.URL)
	if err != nil {
		return err
	}
	key := storage.AssetKey(job.ProductID, string(kind), contentType)
	assetURL, err := w.store.Put(ctx, key, data, contentType)
	if err != nil {
		return err
	}

	width, height := imageSize(data)
	asset := &domain.ProductAsset{
		ID:        uuid.NewString(),
		ProductID: job.ProductID,
		JobID:     job.ID,
		Kind:      kind,
		URL:       assetURL,
		Width:     width,
		Height:    height,
		SourceKey: sourceKey,
		Metadata:  w.assetMetadata(job, out),
	}
	if err := w.assets.Create(ctx, asset); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("create asset: %w", err)
		}
		existing, findErr := w.assets.FindBySource(ctx, job.ID, sourceKey)
		if findErr != nil {
			return fmt.Errorf("create asset: %w", err)
		}
		asset = existing
	}
	out.AssetID = asset.ID
	w.attachImage(ctx, job.ProductID, asset.URL)

	w.logger.Info().
		Str("job_id", job.ID).
		Str("asset_id", asset.ID).
		Str("kind", string(kind)).
		Str("model", out.ModelID).
		Msg("worker: asset stored")
	return nil
}

func (w *Worker) attachImage(ctx context.Context, productID, assetURL string) {
	if err := w.products.AppendImage(ctx, productID, assetURL); err != nil {
		w.logger.Warn().Err(err).Str("product_id", productID).Msg("worker: append product image failed")
	}
}

func (w *Worker) assetMetadata(job *domain.Job, out *domain.ModelOutput) map[string]any {
	metadata := map[string]any{
		"model_id":     out.ModelID,
		"model_name":   out.ModelName,
		"provider_url": out.URL,
		"generated_at": w.now().UTC().Format(time.RFC3339),
	}
	if out.PredictionID != "" {
		metadata["prediction_id"] = out.PredictionID
	}
	if in := job.Input.Transform; in != nil {
		metadata["source_asset_id"] = in.SourceAssetID
		if in.Template != "" {
			metadata["template"] = string(in.Template)
		}
	}
	return metadata
}

func imageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
