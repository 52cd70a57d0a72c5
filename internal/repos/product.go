package repos

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shelfsight/shelfsight-backend/internal/logger"
	"github.com/shelfsight/shelfsight-backend/internal/types"
)

type ProductRepo interface {
	FindByBarcode(ctx context.Context, tx *gorm.DB, barcode string) (*types.Product, error)
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Product, error)
	SearchByMetadata(ctx context.Context, tx *gorm.DB, meta *types.ProductMetadata, limit int) ([]*types.Product, error)
	UpsertByBarcode(ctx context.Context, tx *gorm.DB, product *types.Product) (*types.Product, error)
	AssociateBarcode(ctx context.Context, tx *gorm.DB, productID uuid.UUID, barcode string) error
	FlagForReview(ctx context.Context, tx *gorm.DB, productID uuid.UUID) error
	TouchLastScanned(ctx context.Context, tx *gorm.DB, productID uuid.UUID) error
}

type productRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return &productRepo{db: db, log: baseLog.With("repo", "ProductRepo")}
}

func (r *productRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *productRepo) FindByBarcode(ctx context.Context, tx *gorm.DB, barcode string) (*types.Product, error) {
	if strings.TrimSpace(barcode) == "" {
		return nil, fmt.Errorf("barcode is empty")
	}
	var product types.Product
	err := r.conn(tx).WithContext(ctx).
		Where("barcode = ?", barcode).
		First(&product).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Product, error) {
	var product types.Product
	err := r.conn(tx).WithContext(ctx).
		Where("id = ?", id).
		First(&product).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// SearchByMetadata returns candidates ranked by how many extracted
// signals (name, brand, keywords, category) match the row.
func (r *productRepo) SearchByMetadata(ctx context.Context, tx *gorm.DB, meta *types.ProductMetadata, limit int) ([]*types.Product, error) {
	if meta.Empty() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	q := r.conn(tx).WithContext(ctx).Model(&types.Product{})
	var conds []string
	var args []any
	if meta.ProductName != "" {
		conds = append(conds, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(meta.ProductName)+"%")
	}
	if meta.BrandName != "" {
		conds = append(conds, "LOWER(brand) LIKE ?")
		args = append(args, "%"+strings.ToLower(meta.BrandName)+"%")
	}
	if meta.Category != "" {
		conds = append(conds, "LOWER(category) = ?")
		args = append(args, strings.ToLower(meta.Category))
	}
	for _, kw := range meta.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		conds = append(conds, "LOWER(name) LIKE ?")
		args = append(args, "%"+kw+"%")
	}
	if len(conds) == 0 {
		return nil, nil
	}

	var rows []*types.Product
	if err := q.Where(strings.Join(conds, " OR "), args...).
		Limit(limit * 3).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return metadataMatchScore(rows[i], meta) > metadataMatchScore(rows[j], meta)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func metadataMatchScore(p *types.Product, meta *types.ProductMetadata) int {
	score := 0
	name := strings.ToLower(p.Name)
	brand := strings.ToLower(p.Brand)
	if meta.ProductName != "" && strings.Contains(name, strings.ToLower(meta.ProductName)) {
		score += 3
	}
	if meta.BrandName != "" && strings.Contains(brand, strings.ToLower(meta.BrandName)) {
		score += 2
	}
	if meta.Category != "" && strings.EqualFold(p.Category, meta.Category) {
		score++
	}
	for _, kw := range meta.Keywords {
		if kw != "" && strings.Contains(name, strings.ToLower(kw)) {
			score++
		}
	}
	return score
}

// UpsertByBarcode deduplicates on the unique barcode column. Products
// without a barcode are always inserted; there is nothing to collide on.
func (r *productRepo) UpsertByBarcode(ctx context.Context, tx *gorm.DB, product *types.Product) (*types.Product, error) {
	conn := r.conn(tx).WithContext(ctx)

	if product.Barcode == nil || strings.TrimSpace(*product.Barcode) == "" {
		if err := conn.Create(product).Error; err != nil {
			return nil, err
		}
		return product, nil
	}

	if err := conn.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "barcode"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "brand", "size", "category", "image_url", "metadata", "updated_at",
		}),
	}).Create(product).Error; err != nil {
		return nil, err
	}

	// Re-read so the caller sees the canonical row id after a conflict.
	return r.FindByBarcode(ctx, tx, *product.Barcode)
}

func (r *productRepo) AssociateBarcode(ctx context.Context, tx *gorm.DB, productID uuid.UUID, barcode string) error {
	if strings.TrimSpace(barcode) == "" {
		return fmt.Errorf("barcode is empty")
	}
	return r.conn(tx).WithContext(ctx).
		Model(&types.Product{}).
		Where("id = ?", productID).
		Updates(map[string]any{"barcode": barcode, "updated_at": time.Now()}).Error
}

func (r *productRepo) FlagForReview(ctx context.Context, tx *gorm.DB, productID uuid.UUID) error {
	res := r.conn(tx).WithContext(ctx).
		Model(&types.Product{}).
		Where("id = ?", productID).
		Updates(map[string]any{"flagged_for_review": true, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("product %s not found", productID)
	}
	return nil
}

func (r *productRepo) TouchLastScanned(ctx context.Context, tx *gorm.DB, productID uuid.UUID) error {
	now := time.Now()
	return r.conn(tx).WithContext(ctx).
		Model(&types.Product{}).
		Where("id = ?", productID).
		Updates(map[string]any{"last_scanned_at": now, "updated_at": now}).Error
}
