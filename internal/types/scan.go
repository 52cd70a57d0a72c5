package types

import (
	"time"

	"github.com/google/uuid"
)

type KeyType string

const (
	KeyTypeBarcode          KeyType = "barcode"
	KeyTypeImageFingerprint KeyType = "image_fingerprint"
)

// IdentificationKey is the cache lookup key: a raw barcode or the
// sha256 fingerprint of the scanned image. Immutable once built.
type IdentificationKey struct {
	Value   string  `json:"value"`
	KeyType KeyType `json:"key_type"`
}

func BarcodeKey(barcode string) IdentificationKey {
	return IdentificationKey{Value: barcode, KeyType: KeyTypeBarcode}
}

func FingerprintKey(fingerprint string) IdentificationKey {
	return IdentificationKey{Value: fingerprint, KeyType: KeyTypeImageFingerprint}
}

// CacheEntry is owned by the document cache store. An entry is
// logically absent once ExpiresAt has passed even if the row is still
// physically stored.
type CacheEntry struct {
	Key             string           `json:"key"`
	KeyType         KeyType          `json:"key_type"`
	ProductSnapshot *ProductSnapshot `json:"product_snapshot"`
	TierProduced    int              `json:"tier_produced"`
	Confidence      float64          `json:"confidence"`
	CreatedAt       time.Time        `json:"created_at"`
	LastAccessedAt  time.Time        `json:"last_accessed_at"`
	AccessCount     int64            `json:"access_count"`
	ExpiresAt       time.Time        `json:"expires_at"`
}

func (e *CacheEntry) Expired(now time.Time) bool {
	return e == nil || !now.Before(e.ExpiresAt)
}

// VisualCharacteristics captures what the full-analysis tier saw on
// the package beyond text.
type VisualCharacteristics struct {
	Colors    []string `json:"colors,omitempty"`
	Packaging string   `json:"packaging,omitempty"`
	Shape     string   `json:"shape,omitempty"`
}

// ProductMetadata is pipeline-internal and never persisted as-is; only
// the Product derived from it is.
type ProductMetadata struct {
	ProductName string                 `json:"product_name,omitempty"`
	BrandName   string                 `json:"brand_name,omitempty"`
	Size        string                 `json:"size,omitempty"`
	Category    string                 `json:"category,omitempty"`
	Keywords    []string               `json:"keywords,omitempty"`
	Visual      *VisualCharacteristics `json:"visual,omitempty"`
}

func (m *ProductMetadata) Empty() bool {
	if m == nil {
		return true
	}
	return m.ProductName == "" && m.BrandName == "" && m.Size == "" &&
		m.Category == "" && len(m.Keywords) == 0
}

type ScanRequest struct {
	Barcode   string   `json:"barcode,omitempty"`
	Image     []byte   `json:"image,omitempty"`
	MimeType  string   `json:"mime_type,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// ScanAnalysis describes how the returned product was identified.
type ScanAnalysis struct {
	Tier             int                    `json:"tier"`
	Confidence       float64                `json:"confidence"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
	Metadata         *ProductMetadata       `json:"metadata,omitempty"`
	Visual           *VisualCharacteristics `json:"visual,omitempty"`
}

type ScanResult struct {
	FromCache bool             `json:"from_cache"`
	Analysis  *ScanAnalysis    `json:"analysis,omitempty"`
	Product   *ProductSnapshot `json:"product"`
	StoreID   *uuid.UUID       `json:"store_id,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
}
