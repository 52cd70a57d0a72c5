package repos

import (
	"context"
	"sort"

	"gorm.io/gorm"

	"github.com/shelfsight/shelfsight-backend/internal/geo"
	"github.com/shelfsight/shelfsight-backend/internal/logger"
	"github.com/shelfsight/shelfsight-backend/internal/types"
)

// DefaultProximityThresholdMeters is the dedup radius: two Store rows
// closer than this are considered the same physical location.
const DefaultProximityThresholdMeters = 100.0

type StoreRepo interface {
	FindByID(ctx context.Context, tx *gorm.DB, id string) (*types.Store, error)
	FindNearby(ctx context.Context, tx *gorm.DB, lat, lon, radiusMeters float64) ([]*types.StoreWithDistance, error)
	FindOrCreateNearby(ctx context.Context, tx *gorm.DB, lat, lon float64, name, address string) (*types.Store, error)
}

type storeRepo struct {
	db                 *gorm.DB
	log                *logger.Logger
	proximityThreshold float64
}

func NewStoreRepo(db *gorm.DB, baseLog *logger.Logger) StoreRepo {
	return &storeRepo{
		db:                 db,
		log:                baseLog.With("repo", "StoreRepo"),
		proximityThreshold: DefaultProximityThresholdMeters,
	}
}

func (r *storeRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *storeRepo) FindByID(ctx context.Context, tx *gorm.DB, id string) (*types.Store, error) {
	var store types.Store
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&store).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &store, nil
}

// FindNearby prefilters with a bounding box in SQL, then applies the
// exact haversine check and sorts ascending by distance.
func (r *storeRepo) FindNearby(ctx context.Context, tx *gorm.DB, lat, lon, radiusMeters float64) ([]*types.StoreWithDistance, error) {
	if err := geo.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if err := geo.ValidateRadius(radiusMeters); err != nil {
		return nil, err
	}

	minLat, maxLat, minLon, maxLon := geo.BoundingBox(lat, lon, radiusMeters)

	var candidates []*types.Store
	err := r.conn(tx).WithContext(ctx).
		Where("latitude BETWEEN ? AND ?", minLat, maxLat).
		Where("longitude BETWEEN ? AND ?", minLon, maxLon).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	out := make([]*types.StoreWithDistance, 0, len(candidates))
	for _, s := range candidates {
		d := geo.HaversineMeters(lat, lon, s.Latitude, s.Longitude)
		if d <= radiusMeters {
			out = append(out, &types.StoreWithDistance{Store: s, DistanceMeters: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return out, nil
}

// FindOrCreateNearby returns the closest existing store within the
// proximity threshold, creating nothing; otherwise it inserts a new
// row. Dedup is best-effort by construction, not a database constraint.
func (r *storeRepo) FindOrCreateNearby(ctx context.Context, tx *gorm.DB, lat, lon float64, name, address string) (*types.Store, error) {
	nearby, err := r.FindNearby(ctx, tx, lat, lon, r.proximityThreshold)
	if err != nil {
		return nil, err
	}
	if len(nearby) > 0 {
		return nearby[0].Store, nil
	}

	store := &types.Store{
		Name:      name,
		Address:   address,
		Latitude:  lat,
		Longitude: lon,
	}
	if store.Name == "" {
		store.Name = "Unknown store"
	}
	if err := r.conn(tx).WithContext(ctx).Create(store).Error; err != nil {
		return nil, err
	}
	return store, nil
}
