package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/imaginethisprinted/aistudio/internal/domain"
	"github.com/imaginethisprinted/aistudio/internal/infra"
	"github.com/imaginethisprinted/aistudio/internal/sqlinline"
)

// AssetRepositoryPG implements domain.AssetRepository using PostgreSQL.
type AssetRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAssetRepository constructs a new asset repository instance.
func NewAssetRepository(sql infra.SQLExecutor) *AssetRepositoryPG {
	return &AssetRepositoryPG{sql: sql}
}

// Create persists a single asset. The (job, source key) pair is unique.
func (r *AssetRepositoryPG) Create(ctx context.Context, asset *domain.ProductAsset) error {
	metadata, err := encodeMetadata(asset.Metadata)
	if err != nil {
		return err
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertProductAsset,
		asset.ID,
		asset.ProductID,
		asset.JobID,
		string(asset.Kind),
		asset.URL,
		asset.Width,
		asset.Height,
		asset.SourceKey,
		metadata,
	)
	if err := row.Scan(&asset.CreatedAt); err != nil {
		if infra.IsUniqueViolation(err) {
			return fmt.Errorf("%w: asset for job %s source %s", domain.ErrConflict, asset.JobID, asset.SourceKey)
		}
		return err
	}
	return nil
}

// GetByID fetches a single asset.
func (r *AssetRepositoryPG) GetByID(ctx context.Context, assetID string) (*domain.ProductAsset, error) {
	if !isUUID(assetID) {
		return nil, domain.ErrNotFound
	}
	return r.one(ctx, sqlinline.QSelectProductAssetByID, assetID)
}

// FindBySource returns the asset a job already stored for a provider result.
func (r *AssetRepositoryPG) FindBySource(ctx context.Context, jobID, sourceKey string) (*domain.ProductAsset, error) {
	return r.one(ctx, sqlinline.QSelectProductAssetBySource, jobID, sourceKey)
}

// ListByProduct returns all assets belonging to the product, oldest first.
func (r *AssetRepositoryPG) ListByProduct(ctx context.Context, productID string) ([]domain.ProductAsset, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListProductAssets, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.ProductAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}

// Delete removes an asset row. Missing rows report domain.ErrNotFound.
func (r *AssetRepositoryPG) Delete(ctx context.Context, assetID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QDeleteProductAsset, assetID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AssetRepositoryPG) one(ctx context.Context, query string, args ...any) (*domain.ProductAsset, error) {
	asset, err := scanAsset(r.sql.QueryRow(ctx, query, args...))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return asset, nil
}

func scanAsset(row pgx.Row) (*domain.ProductAsset, error) {
	var (
		asset    domain.ProductAsset
		kind     string
		metadata []byte
	)
	if err := row.Scan(
		&asset.ID,
		&asset.ProductID,
		&asset.JobID,
		&kind,
		&asset.URL,
		&asset.Width,
		&asset.Height,
		&asset.SourceKey,
		&metadata,
		&asset.CreatedAt,
	); err != nil {
		return nil, err
	}
	asset.Kind = domain.AssetKind(kind)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &asset.Metadata); err != nil {
			return nil, fmt.Errorf("decode asset %s metadata: %w", asset.ID, err)
		}
	}
	return &asset, nil
}

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return raw, nil
}

var _ domain.AssetRepository = (*AssetRepositoryPG)(nil)
