package domain

import (
	"fmt"
	"sort"
	"time"
)

// ProductStatus enumerates catalog states.
type ProductStatus string

const (
	ProductStatusDraft  ProductStatus = "draft"
	ProductStatusActive ProductStatus = "active"
)

// ProductMetadata records how a product was generated.
type ProductMetadata struct {
	AIGenerated bool         `json:"ai_generated"`
	Prompt      string       `json:"prompt"`
	Style       StyleOptions `json:"style"`
}

// Product is a sellable catalog item.
type Product struct {
	ID          string
	Name        string
	Description string
	PriceCents  int64
	Category    string
	Status      ProductStatus
	Images      []string
	Metadata    ProductMetadata
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Approve activates a draft product and snapshots the given assets into its image list.
func (p *Product) Approve(assets []ProductAsset) error {
	if p.Status != ProductStatusDraft {
		return fmt.Errorf("%w: product is %s", ErrInvalidTransition, p.Status)
	}
	p.Images = OrderedImages(assets)
	p.Status = ProductStatusActive
	return nil
}

// OrderedImages returns asset URLs in display precedence: mockups first, then
// upscaled, background-free and source images. Within a kind, older assets come first.
func OrderedImages(assets []ProductAsset) []string {
	grouped := GroupAssetsByKind(assets)
	images := make([]string, 0, len(assets))
	for _, kind := range displayPrecedence {
		bucket := append([]ProductAsset(nil), grouped[kind]...)
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].CreatedAt.Before(bucket[j].CreatedAt)
		})
		for _, asset := range bucket {
			if asset.URL != "" {
				images = append(images, asset.URL)
			}
		}
	}
	return images
}
