package domain

import "time"

// AssetKind tags an asset with the pipeline stage that produced it.
type AssetKind string

const (
	AssetKindSource       AssetKind = "source"
	AssetKindNoBackground AssetKind = "nobg"
	AssetKindMockup       AssetKind = "mockup"
	AssetKindUpscaled     AssetKind = "upscaled"
)

// displayPrecedence lists kinds in catalog display order.
var displayPrecedence = []AssetKind{
	AssetKindMockup,
	AssetKindUpscaled,
	AssetKindNoBackground,
	AssetKindSource,
}

// ProductAsset is a generated image file attached to a product.
type ProductAsset struct {
	ID        string
	ProductID string
	JobID     string
	Kind      AssetKind
	URL       string
	Width     int
	Height    int
	SourceKey string
	Metadata  map[string]any
	CreatedAt time.Time
}

// GroupAssetsByKind buckets assets by kind, keeping their relative order.
func GroupAssetsByKind(assets []ProductAsset) map[AssetKind][]ProductAsset {
	grouped := make(map[AssetKind][]ProductAsset)
	for _, asset := range assets {
		grouped[asset.Kind] = append(grouped[asset.Kind], asset)
	}
	return grouped
}

// LatestAsset returns the newest asset of the given kind.
func LatestAsset(assets []ProductAsset, kind AssetKind) (ProductAsset, bool) {
	var (
		latest ProductAsset
		found  bool
	)
	for _, asset := range assets {
		if asset.Kind != kind {
			continue
		}
		if !found || asset.CreatedAt.After(latest.CreatedAt) {
			latest = asset
			found = true
		}
	}
	return latest, found
}
