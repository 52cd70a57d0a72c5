package pipeline

import (
	"context"

	"github.com/shelfsight/shelfsight-backend/internal/types"
)

const (
	TierDirectLookup   = 1
	TierTextExtraction = 2
	TierDiscovery      = 3
	TierFullAnalysis   = 4
)

// DefaultMinConfidence is the acceptance floor for full-analysis
// results; below it the caller is told to retake the image.
const DefaultMinConfidence = 0.60

type TierError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *TierError) Error() string { return e.Code + ": " + e.Message }

// TierResult is the uniform envelope every tier returns so the runner
// can treat them polymorphically. Err.Retryable distinguishes failures
// worth escalating past from ones that abort the pipeline.
type TierResult struct {
	Success          bool                   `json:"success"`
	Tier             int                    `json:"tier"`
	Snapshot         *types.ProductSnapshot `json:"snapshot,omitempty"`
	Metadata         *types.ProductMetadata `json:"metadata,omitempty"`
	Confidence       float64                `json:"confidence"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
	// DiscoveredBarcode is set when the discovery tier resolved a
	// barcode for a product the registry does not know yet.
	DiscoveredBarcode string     `json:"discovered_barcode,omitempty"`
	Err               *TierError `json:"error,omitempty"`
}

// Input carries everything a scan gives the pipeline. Fingerprint is
// the sha256 of Image, precomputed by the orchestrator.
type Input struct {
	Barcode     string
	Image       []byte
	MimeType    string
	Fingerprint string
}

type Pipeline interface {
	Identify(ctx context.Context, input Input) (*TierResult, error)
	// Reanalyze runs only the full-analysis tier; the correction loop
	// uses it to attempt a corrected identification.
	Reanalyze(ctx context.Context, img []byte, mimeType string) (*TierResult, error)
}
