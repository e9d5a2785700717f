package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/imaginethisprinted/aistudio/internal/domain"
	"github.com/imaginethisprinted/aistudio/internal/infra"
	"github.com/imaginethisprinted/aistudio/internal/sqlinline"
)

// ProductRepositoryPG implements domain.ProductRepository backed by PostgreSQL.
type ProductRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewProductRepository creates a new ProductRepositoryPG.
func NewProductRepository(sql infra.SQLExecutor) *ProductRepositoryPG {
	return &ProductRepositoryPG{sql: sql}
}

// Create inserts a product row.
func (r *ProductRepositoryPG) Create(ctx context.Context, product *domain.Product) error {
	metadata, err := json.Marshal(product.Metadata)
	if err != nil {
		return fmt.Errorf("encode product metadata: %w", err)
	}
	images := product.Images
	if images == nil {
		images = []string{}
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertProduct,
		product.ID,
		product.Name,
		product.Description,
		product.PriceCents,
		product.Category,
		string(product.Status),
		images,
		metadata,
	)
	return row.Scan(&product.CreatedAt, &product.UpdatedAt)
}

// GetByID fetches a product by UUID.
func (r *ProductRepositoryPG) GetByID(ctx context.Context, productID string) (*domain.Product, error) {
	if !isUUID(productID) {
		return nil, domain.ErrNotFound
	}
	product, err := scanProduct(r.sql.QueryRow(ctx, sqlinline.QSelectProductByID, productID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

// AppendImage adds url to the product gallery unless it is already listed.
func (r *ProductRepositoryPG) AppendImage(ctx context.Context, productID, url string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QAppendProductImage, productID, url)
	return err
}

// RemoveImage drops url from the product gallery.
func (r *ProductRepositoryPG) RemoveImage(ctx context.Context, productID, url string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QRemoveProductImage, productID, url)
	return err
}

// Activate flips a draft product to active. A product that is not a draft is
// left untouched and reported as an invalid transition.
func (r *ProductRepositoryPG) Activate(ctx context.Context, productID string, images []string) error {
	if images == nil {
		images = []string{}
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QActivateProduct, productID, images)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %s is not a draft", domain.ErrInvalidTransition, productID)
	}
	return nil
}

// DeleteDraft removes a draft product that never got a job.
func (r *ProductRepositoryPG) DeleteDraft(ctx context.Context, productID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QDeleteDraftProduct, productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var (
		product  domain.Product
		status   string
		metadata []byte
	)
	if err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.PriceCents,
		&product.Category,
		&status,
		&product.Images,
		&metadata,
		&product.CreatedAt,
		&product.UpdatedAt,
	); err != nil {
		return nil, err
	}
	product.Status = domain.ProductStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &product.Metadata); err != nil {
			return nil, fmt.Errorf("decode product %s metadata: %w", product.ID, err)
		}
	}
	return &product, nil
}

var _ domain.ProductRepository = (*ProductRepositoryPG)(nil)

// isUUID keeps malformed path ids from reaching a ::uuid cast.
func isUUID(id string) bool {
	return uuid.Validate(id) == nil
}
