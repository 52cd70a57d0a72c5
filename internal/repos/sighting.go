package repos

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shelfsight/shelfsight-backend/internal/logger"
	"github.com/shelfsight/shelfsight-backend/internal/types"
)

type SightingRepo interface {
	RecordSighting(ctx context.Context, tx *gorm.DB, productID, storeID uuid.UUID) error
	GetStoresForProduct(ctx context.Context, tx *gorm.DB, productID uuid.UUID) ([]*types.Store, error)
	GetProductsAtStore(ctx context.Context, tx *gorm.DB, storeID uuid.UUID) ([]*types.Product, error)
	GetProductsNearLocation(ctx context.Context, tx *gorm.DB, lat, lon, radiusMeters float64) ([]*types.ProductNearby, error)
}

type sightingRepo struct {
	db     *gorm.DB
	log    *logger.Logger
	stores StoreRepo
}

func NewSightingRepo(db *gorm.DB, baseLog *logger.Logger, stores StoreRepo) SightingRepo {
	return &sightingRepo{
		db:     db,
		log:    baseLog.With("repo", "SightingRepo"),
		stores: stores,
	}
}

func (r *sightingRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// RecordSighting is an idempotent upsert on (product_id, store_id):
// repeats bump last_seen_at, never add a second row.
func (r *sightingRepo) RecordSighting(ctx context.Context, tx *gorm.DB, productID, storeID uuid.UUID) error {
	now := time.Now()
	sighting := &types.Sighting{
		ProductID:  productID,
		StoreID:    storeID,
		LastSeenAt: now,
	}
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}, {Name: "store_id"}},
		DoUpdates: clause.Assignments(map[string]any{"last_seen_at": now, "updated_at": now}),
	}).Create(sighting).Error
}

func (r *sightingRepo) GetStoresForProduct(ctx context.Context, tx *gorm.DB, productID uuid.UUID) ([]*types.Store, error) {
	var stores []*types.Store
	err := r.conn(tx).WithContext(ctx).
		Model(&types.Store{}).
		Joins("JOIN sighting ON sighting.store_id = store.id").
		Where("sighting.product_id = ?", productID).
		Order("sighting.last_seen_at DESC").
		Find(&stores).Error
	return stores, err
}

func (r *sightingRepo) GetProductsAtStore(ctx context.Context, tx *gorm.DB, storeID uuid.UUID) ([]*types.Product, error) {
	var products []*types.Product
	err := r.conn(tx).WithContext(ctx).
		Model(&types.Product{}).
		Joins("JOIN sighting ON sighting.product_id = product.id").
		Where("sighting.store_id = ?", storeID).
		Order("sighting.last_seen_at DESC").
		Find(&products).Error
	return products, err
}

// GetProductsNearLocation is the spatial join: products sighted at any
// store within the radius, grouped per product with matching stores
// sorted nearest-first.
func (r *sightingRepo) GetProductsNearLocation(ctx context.Context, tx *gorm.DB, lat, lon, radiusMeters float64) ([]*types.ProductNearby, error) {
	nearby, err := r.stores.FindNearby(ctx, tx, lat, lon, radiusMeters)
	if err != nil {
		return nil, err
	}
	if len(nearby) == 0 {
		return nil, nil
	}

	storeByID := make(map[uuid.UUID]*types.StoreWithDistance, len(nearby))
	storeIDs := make([]uuid.UUID, 0, len(nearby))
	for _, swd := range nearby {
		storeByID[swd.Store.ID] = swd
		storeIDs = append(storeIDs, swd.Store.ID)
	}

	var sightings []*types.Sighting
	err = r.conn(tx).WithContext(ctx).
		Preload("Product").
		Where("store_id IN ?", storeIDs).
		Find(&sightings).Error
	if err != nil {
		return nil, err
	}

	grouped := make(map[uuid.UUID]*types.ProductNearby)
	var order []uuid.UUID
	for _, s := range sightings {
		if s.Product == nil {
			continue
		}
		entry, ok := grouped[s.ProductID]
		if !ok {
			entry = &types.ProductNearby{Product: s.Product}
			grouped[s.ProductID] = entry
			order = append(order, s.ProductID)
		}
		if swd, ok := storeByID[s.StoreID]; ok {
			entry.Stores = append(entry.Stores, swd)
		}
	}

	out := make([]*types.ProductNearby, 0, len(order))
	for _, id := range order {
		entry := grouped[id]
		sort.Slice(entry.Stores, func(i, j int) bool {
			return entry.Stores[i].DistanceMeters < entry.Stores[j].DistanceMeters
		})
		out = append(out, entry)
	}
	return out, nil
}
