package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Sighting records that a product was observed at a store. Unique on
// the (product, store) pair; repeats bump last_seen_at instead of
// inserting.
type Sighting struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_sighting_product_store" json:"product_id"`
	StoreID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_sighting_product_store" json:"store_id"`
	Product    *Product  `gorm:"foreignKey:ProductID;references:ID;constraint:OnDelete:CASCADE" json:"product,omitempty"`
	Store      *Store    `gorm:"foreignKey:StoreID;references:ID;constraint:OnDelete:CASCADE" json:"store,omitempty"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;not null" json:"last_seen_at"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (Sighting) TableName() string { return "sighting" }

func (s *Sighting) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// ProductNearby groups a product with the nearby stores it was sighted
// at, stores sorted by ascending distance.
type ProductNearby struct {
	Product *Product             `json:"product"`
	Stores  []*StoreWithDistance `json:"stores"`
}
