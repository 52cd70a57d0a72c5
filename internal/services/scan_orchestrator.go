package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/shelfsight/shelfsight-backend/internal/cache"
	"github.com/shelfsight/shelfsight-backend/internal/clients/gcp"
	"github.com/shelfsight/shelfsight-backend/internal/geo"
	"github.com/shelfsight/shelfsight-backend/internal/logger"
	"github.com/shelfsight/shelfsight-backend/internal/pipeline"
	"github.com/shelfsight/shelfsight-backend/internal/repos"
	"github.com/shelfsight/shelfsight-backend/internal/resilience"
	"github.com/shelfsight/shelfsight-backend/internal/types"
)

// ScanOrchestrator runs the full scan flow: cache check, tiered
// identification on a miss, persistence to registry and cache, and
// location enrichment.
type ScanOrchestrator interface {
	ProcessScan(ctx context.Context, req *types.ScanRequest) (*types.ScanResult, error)
}

type scanOrchestrator struct {
	log       *logger.Logger
	cache     cache.ProductCache
	products  repos.ProductRepo
	stores    repos.StoreRepo
	sightings repos.SightingRepo
	pipe      pipeline.Pipeline
	archive   gcp.ScanImageArchive

	retryCfg resilience.RetryConfig
	flight   singleflight.Group
}

// NewScanOrchestrator wires the orchestrator. archive may be nil; the
// image archive is an optional capability.
func NewScanOrchestrator(
	log *logger.Logger,
	productCache cache.ProductCache,
	products repos.ProductRepo,
	stores repos.StoreRepo,
	sightings repos.SightingRepo,
	pipe pipeline.Pipeline,
	archive gcp.ScanImageArchive,
	retryCfg resilience.RetryConfig,
) ScanOrchestrator {
	if retryCfg.MaxAttempts <= 0 {
		retryCfg = resilience.DefaultRetryConfig()
	}
	return &scanOrchestrator{
		log:       log.With("service", "ScanOrchestrator"),
		cache:     productCache,
		products:  products,
		stores:    stores,
		sightings: sightings,
		pipe:      pipe,
		archive:   archive,
		retryCfg:  retryCfg,
	}
}

// identification is the singleflight-shared part of a scan: everything
// except location enrichment, which is per-request.
type identification struct {
	snapshot *types.ProductSnapshot
	analysis *types.ScanAnalysis
	warnings []string
}

func (o *scanOrchestrator) ProcessScan(ctx context.Context, req *types.ScanRequest) (*types.ScanResult, error) {
	if req == nil || (req.Barcode == "" && len(req.Image) == 0) {
		return nil, &types.OrchestratorError{
			Code:        types.CodeValidation,
			Message:     "scan requires a barcode or an image",
			Source:      types.SourcePipeline,
			Recoverable: false,
		}
	}

	fingerprint := ""
	if len(req.Image) > 0 {
		fingerprint = ImageFingerprint(req.Image)
	}

	if result := o.checkCache(ctx, req.Barcode, fingerprint); result != nil {
		return result, nil
	}

	ident, err := o.identifyShared(ctx, req, fingerprint)
	if err != nil {
		return nil, err
	}

	result := &types.ScanResult{
		FromCache: false,
		Analysis:  ident.analysis,
		Product:   ident.snapshot,
		Warnings:  append([]string(nil), ident.warnings...),
	}
	o.processLocation(ctx, req, ident.snapshot.ProductID, result)
	return result, nil
}

// checkCache returns a completed result on a hit, nil on a miss. The
// barcode key is authoritative and checked before the fingerprint key.
func (o *scanOrchestrator) checkCache(ctx context.Context, barcode, fingerprint string) *types.ScanResult {
	var keys []types.IdentificationKey
	if barcode != "" {
		keys = append(keys, types.BarcodeKey(barcode))
	}
	if fingerprint != "" {
		keys = append(keys, types.FingerprintKey(fingerprint))
	}

	for _, key := range keys {
		entry, ok := o.cache.Lookup(ctx, key)
		if !ok || entry.ProductSnapshot == nil {
			continue
		}

		result := &types.ScanResult{
			FromCache: true,
			Product:   entry.ProductSnapshot,
			Analysis: &types.ScanAnalysis{
				Tier:       entry.TierProduced,
				Confidence: entry.Confidence,
			},
		}
		if err := resilience.Retry(ctx, o.log, o.retryCfg, func(ctx context.Context) error {
			return o.products.TouchLastScanned(ctx, nil, entry.ProductSnapshot.ProductID)
		}); err != nil {
			o.log.Warn("last-scanned timestamp update failed", "product_id", entry.ProductSnapshot.ProductID, "error", err)
			result.Warnings = append(result.Warnings, "registry timestamp update failed")
		}
		return result
	}
	return nil
}

// identifyShared collapses concurrent scans of the same key into one
// pipeline run. Location enrichment stays outside the collapsed work.
func (o *scanOrchestrator) identifyShared(ctx context.Context, req *types.ScanRequest, fingerprint string) (*identification, error) {
	key := "fp:" + fingerprint
	if req.Barcode != "" {
		key = "barcode:" + req.Barcode
	}

	v, err, _ := o.flight.Do(key, func() (interface{}, error) {
		return o.identify(ctx, req, fingerprint)
	})
	if err != nil {
		return nil, err
	}
	return v.(*identification), nil
}

func (o *scanOrchestrator) identify(ctx context.Context, req *types.ScanRequest, fingerprint string) (*identification, error) {
	res, err := o.pipe.Identify(ctx, pipeline.Input{
		Barcode:     req.Barcode,
		Image:       req.Image,
		MimeType:    req.MimeType,
		Fingerprint: fingerprint,
	})
	if err != nil {
		return nil, types.NewPipelineError(types.CodePipelineFailure, err.Error(), true, err)
	}
	if res == nil || !res.Success {
		return nil, orchestratorErrorFromTier(res)
	}

	ident := &identification{
		analysis: &types.ScanAnalysis{
			Tier:             res.Tier,
			Confidence:       res.Confidence,
			ProcessingTimeMs: res.ProcessingTimeMs,
			Metadata:         res.Metadata,
		},
	}
	if res.Metadata != nil {
		ident.analysis.Visual = res.Metadata.Visual
	}

	outcome := o.persistRegistry(ctx, req, res)
	if !outcome.Usable() {
		return nil, types.AsOrchestratorError(outcome.Err, types.SourceRegistry)
	}
	if outcome.Warning != "" {
		ident.warnings = append(ident.warnings, outcome.Warning)
	}
	snapshot := outcome.Value
	ident.snapshot = snapshot

	o.persistCache(ctx, req.Barcode, fingerprint, res, snapshot)

	if o.archive != nil && len(req.Image) > 0 && fingerprint != "" {
		if err := o.archive.SaveScanImage(ctx, fingerprint, req.MimeType, req.Image); err != nil {
			o.log.Warn("scan image archive write failed", "fingerprint", fingerprint, "error", err)
			ident.warnings = append(ident.warnings, "scan image not archived")
		}
	}
	return ident, nil
}

// persistRegistry makes the registry reflect the identification before
// the cache does. The registry is the system of record; a write failure
// for a new product fails the scan, while a missed timestamp bump on an
// existing row only degrades it.
func (o *scanOrchestrator) persistRegistry(ctx context.Context, req *types.ScanRequest, res *pipeline.TierResult) types.Outcome[*types.ProductSnapshot] {
	if res.Snapshot != nil {
		// Already a registry row; just refresh its scan timestamp.
		if err := resilience.Retry(ctx, o.log, o.retryCfg, func(ctx context.Context) error {
			return o.products.TouchLastScanned(ctx, nil, res.Snapshot.ProductID)
		}); err != nil {
			o.log.Warn("last-scanned timestamp update failed", "product_id", res.Snapshot.ProductID, "error", err)
			return types.Degraded(res.Snapshot, "registry timestamp update failed")
		}
		return types.Ok(res.Snapshot)
	}

	product, err := productFromIdentification(req, res)
	if err != nil {
		return types.Failed[*types.ProductSnapshot](types.NewRegistryError("building product row: "+err.Error(), false, err))
	}
	persisted, err := resilience.RetryValue(ctx, o.log, o.retryCfg, func(ctx context.Context) (*types.Product, error) {
		return o.products.UpsertByBarcode(ctx, nil, product)
	})
	if err != nil {
		return types.Failed[*types.ProductSnapshot](types.NewRegistryError("persisting identified product", true, err))
	}
	return types.Ok(persisted.Snapshot())
}

// persistCache is best-effort: the entry TTL depends on the tier that
// produced the identification.
func (o *scanOrchestrator) persistCache(ctx context.Context, barcode, fingerprint string, res *pipeline.TierResult, snapshot *types.ProductSnapshot) {
	code := snapshot.Barcode
	if code == "" {
		code = barcode
	}
	if code == "" {
		code = res.DiscoveredBarcode
	}
	if code != "" {
		o.cache.Store(ctx, types.BarcodeKey(code), snapshot, res.Tier, res.Confidence)
	}
	if fingerprint != "" {
		o.cache.Store(ctx, types.FingerprintKey(fingerprint), snapshot, res.Tier, res.Confidence)
	}
}

// processLocation enriches the result with a store association. It can
// only add to an already successful scan; every failure degrades to a
// warning.
func (o *scanOrchestrator) processLocation(ctx context.Context, req *types.ScanRequest, productID uuid.UUID, result *types.ScanResult) {
	if req.Latitude == nil || req.Longitude == nil {
		return
	}
	if err := geo.ValidateCoordinates(*req.Latitude, *req.Longitude); err != nil {
		o.log.Warn("invalid scan coordinates", "lat", *req.Latitude, "lon", *req.Longitude)
		result.Warnings = append(result.Warnings, "invalid coordinates, location skipped")
		return
	}

	store, err := resilience.RetryValue(ctx, o.log, o.retryCfg, func(ctx context.Context) (*types.Store, error) {
		return o.stores.FindOrCreateNearby(ctx, nil, *req.Latitude, *req.Longitude, "", "")
	})
	if err != nil {
		o.log.Warn("store resolution failed", "error", err)
		result.Warnings = append(result.Warnings, "store association unavailable")
		return
	}

	if err := resilience.Retry(ctx, o.log, o.retryCfg, func(ctx context.Context) error {
		return o.sightings.RecordSighting(ctx, nil, productID, store.ID)
	}); err != nil {
		o.log.Warn("sighting record failed", "product_id", productID, "store_id", store.ID, "error", err)
		result.Warnings = append(result.Warnings, "sighting not recorded")
		return
	}
	result.StoreID = &store.ID
}

// ImageFingerprint is the cache identity of an image: sha256 over the
// raw bytes, hex encoded.
func ImageFingerprint(img []byte) string {
	sum := sha256.Sum256(img)
	return hex.EncodeToString(sum[:])
}

func orchestratorErrorFromTier(res *pipeline.TierResult) *types.OrchestratorError {
	if res == nil || res.Err == nil {
		return &types.OrchestratorError{
			Code:        types.CodeNoProductsFound,
			Message:     "no product could be identified from the scan",
			Source:      types.SourcePipeline,
			Recoverable: false,
		}
	}
	switch res.Err.Code {
	case types.CodeRetakeSuggested:
		return types.NewPipelineError(types.CodeRetakeSuggested, res.Err.Message, false, res.Err)
	case types.CodeCircuitOpen, types.CodeRateLimited:
		return types.NewPipelineError(res.Err.Code, res.Err.Message, true, res.Err)
	default:
		return types.NewPipelineError(types.CodePipelineFailure, res.Err.Message, res.Err.Retryable, res.Err)
	}
}

func productFromIdentification(req *types.ScanRequest, res *pipeline.TierResult) (*types.Product, error) {
	meta := res.Metadata
	if meta.Empty() {
		return nil, fmt.Errorf("identification produced no metadata")
	}
	name := meta.ProductName
	if name == "" {
		name = "Unknown product"
	}
	product := &types.Product{
		Name:     name,
		Brand:    meta.BrandName,
		Size:     meta.Size,
		Category: meta.Category,
	}
	barcode := res.DiscoveredBarcode
	if barcode == "" {
		barcode = req.Barcode
	}
	if barcode != "" {
		product.Barcode = &barcode
	}
	if len(meta.Keywords) > 0 || meta.Visual != nil {
		raw, err := json.Marshal(map[string]any{
			"keywords": meta.Keywords,
			"visual":   meta.Visual,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal product metadata: %w", err)
		}
		product.Metadata = datatypes.JSON(raw)
	}
	return product, nil
}
