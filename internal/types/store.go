package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Store struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string         `gorm:"column:name;not null" json:"name"`
	Address   string         `gorm:"column:address" json:"address,omitempty"`
	Latitude  float64        `gorm:"column:latitude;not null;index" json:"latitude"`
	Longitude float64        `gorm:"column:longitude;not null;index" json:"longitude"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Store) TableName() string { return "store" }

func (s *Store) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// StoreWithDistance pairs a store row with its distance from a query
// point, for proximity results sorted nearest-first.
type StoreWithDistance struct {
	Store          *Store  `json:"store"`
	DistanceMeters float64 `json:"distance_meters"`
}
