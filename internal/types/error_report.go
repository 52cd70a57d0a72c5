package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ErrorReportStatusOpen      = "open"
	ErrorReportStatusCorrected = "corrected"
	ErrorReportStatusDismissed = "dismissed"
)

// ErrorReport persists a user-reported misidentification so the
// correction loop has an audit trail independent of the cache.
type ErrorReport struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"product_id"`
	Product          *Product       `gorm:"foreignKey:ProductID;references:ID" json:"product,omitempty"`
	Barcode          string         `gorm:"column:barcode" json:"barcode,omitempty"`
	ImageFingerprint string         `gorm:"column:image_fingerprint" json:"image_fingerprint,omitempty"`
	UserFeedback     string         `gorm:"column:user_feedback" json:"user_feedback,omitempty"`
	Status           string         `gorm:"column:status;not null;default:'open'" json:"status"`
	Context          datatypes.JSON `gorm:"column:context;type:jsonb" json:"context,omitempty"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (ErrorReport) TableName() string { return "error_report" }

func (r *ErrorReport) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
