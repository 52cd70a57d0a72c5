package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Product struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Barcode          *string        `gorm:"column:barcode;uniqueIndex" json:"barcode,omitempty"`
	Name             string         `gorm:"column:name;not null;index" json:"name"`
	Brand            string         `gorm:"column:brand;index" json:"brand"`
	Size             string         `gorm:"column:size" json:"size,omitempty"`
	Category         string         `gorm:"column:category;index" json:"category,omitempty"`
	ImageURL         string         `gorm:"column:image_url" json:"image_url,omitempty"`
	Metadata         datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	FlaggedForReview bool           `gorm:"column:flagged_for_review;not null;default:false" json:"flagged_for_review"`
	LastScannedAt    *time.Time     `gorm:"column:last_scanned_at" json:"last_scanned_at,omitempty"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Product) TableName() string { return "product" }

// UUIDs are generated in-process so the sqlite dev driver works without
// a uuid extension.
func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Snapshot denormalizes the row into the form cached and returned to
// scan callers.
func (p *Product) Snapshot() *ProductSnapshot {
	if p == nil {
		return nil
	}
	snap := &ProductSnapshot{
		ProductID: p.ID,
		Name:      p.Name,
		Brand:     p.Brand,
		Size:      p.Size,
		Category:  p.Category,
		ImageURL:  p.ImageURL,
		Metadata:  p.Metadata,
	}
	if p.Barcode != nil {
		snap.Barcode = *p.Barcode
	}
	return snap
}

// ProductSnapshot is the denormalized product payload embedded in cache
// entries and scan results. It never round-trips back into the registry.
type ProductSnapshot struct {
	ProductID uuid.UUID      `json:"product_id"`
	Barcode   string         `json:"barcode,omitempty"`
	Name      string         `json:"name"`
	Brand     string         `json:"brand,omitempty"`
	Size      string         `json:"size,omitempty"`
	Category  string         `json:"category,omitempty"`
	ImageURL  string         `json:"image_url,omitempty"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
}
