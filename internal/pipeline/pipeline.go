package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/shelfsight/shelfsight-backend/internal/cache"
	"github.com/shelfsight/shelfsight-backend/internal/clients/barcodelookup"
	"github.com/shelfsight/shelfsight-backend/internal/clients/gcp"
	"github.com/shelfsight/shelfsight-backend/internal/logger"
	"github.com/shelfsight/shelfsight-backend/internal/repos"
	"github.com/shelfsight/shelfsight-backend/internal/resilience"
	"github.com/shelfsight/shelfsight-backend/internal/types"
)

// nameMatchFloor is the minimum name similarity for a registry search
// hit to count as a text-extraction identification.
const nameMatchFloor = 0.5

type Config struct {
	MinConfidence float64
	Retry         resilience.RetryConfig
}

type pipeline struct {
	log      *logger.Logger
	cache    cache.ProductCache
	products repos.ProductRepo
	vision   gcp.Vision
	lookup   barcodelookup.Client

	visionGuard *resilience.Guard
	lookupGuard *resilience.Guard

	retryCfg      resilience.RetryConfig
	minConfidence float64
}

func New(
	log *logger.Logger,
	productCache cache.ProductCache,
	products repos.ProductRepo,
	vision gcp.Vision,
	lookup barcodelookup.Client,
	visionGuard *resilience.Guard,
	lookupGuard *resilience.Guard,
	cfg Config,
) Pipeline {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &pipeline{
		log:           log.With("service", "IdentificationPipeline"),
		cache:         productCache,
		products:      products,
		vision:        vision,
		lookup:        lookup,
		visionGuard:   visionGuard,
		lookupGuard:   lookupGuard,
		retryCfg:      cfg.Retry,
		minConfidence: cfg.MinConfidence,
	}
}

// runState threads intermediate signal between tiers: tier 2's metadata
// feeds tier 3's search terms, and a barcode-less registry candidate
// found by tier 2 is the natural owner of a tier 3 discovery.
type runState struct {
	input             Input
	metadata          *types.ProductMetadata
	registryCandidate *types.Product
}

// Identify escalates through the tiers in order and exits on the first
// sufficient result. A non-retryable tier failure aborts the
// escalation; retryable failures fall through to the next tier.
func (p *pipeline) Identify(ctx context.Context, input Input) (*TierResult, error) {
	state := &runState{input: input}

	tiers := []func(ctx context.Context, state *runState) *TierResult{
		p.directLookup,
		p.textExtraction,
		p.discovery,
		p.fullAnalysis,
	}

	var last *TierResult
	for _, tier := range tiers {
		res := tier(ctx, state)
		if res.Success {
			return res, nil
		}
		last = res
		if res.Err != nil && !res.Err.Retryable {
			p.log.Warn("pipeline aborted",
				"tier", res.Tier,
				"code", res.Err.Code,
				"message", res.Err.Message)
			return res, nil
		}
		p.log.Debug("tier insufficient, escalating", "tier", res.Tier)
	}
	return last, nil
}

func (p *pipeline) Reanalyze(ctx context.Context, img []byte, mimeType string) (*TierResult, error) {
	state := &runState{input: Input{Image: img, MimeType: mimeType}}
	return p.fullAnalysis(ctx, state), nil
}

// ---------- tier 1: direct lookup ----------

func (p *pipeline) directLookup(ctx context.Context, state *runState) *TierResult {
	started := time.Now()
	res := &TierResult{Tier: TierDirectLookup}

	var keys []types.IdentificationKey
	if state.input.Barcode != "" {
		keys = append(keys, types.BarcodeKey(state.input.Barcode))
	}
	if state.input.Fingerprint != "" {
		keys = append(keys, types.FingerprintKey(state.input.Fingerprint))
	}

	for _, key := range keys {
		if entry, ok := p.cache.Lookup(ctx, key); ok {
			res.Success = true
			res.Snapshot = entry.ProductSnapshot
			res.Confidence = entry.Confidence
			res.ProcessingTimeMs = msSince(started)
			return res
		}
	}

	if state.input.Barcode != "" {
		product, err := resilience.RetryValue(ctx, p.log, p.retryCfg, func(ctx context.Context) (*types.Product, error) {
			return p.products.FindByBarcode(ctx, nil, state.input.Barcode)
		})
		if err != nil {
			res.Err = &TierError{Code: "REGISTRY_LOOKUP_FAILED", Message: err.Error(), Retryable: true}
			res.ProcessingTimeMs = msSince(started)
			return res
		}
		if product != nil {
			res.Success = true
			res.Snapshot = product.Snapshot()
			res.Confidence = 1.0
			res.ProcessingTimeMs = msSince(started)
			return res
		}
	}

	res.ProcessingTimeMs = msSince(started)
	return res
}

// ---------- tier 2: visual text extraction ----------

func (p *pipeline) textExtraction(ctx context.Context, state *runState) *TierResult {
	started := time.Now()
	res := &TierResult{Tier: TierTextExtraction}

	if len(state.input.Image) == 0 {
		res.Err = &TierError{Code: "NO_IMAGE", Message: "no image supplied for text extraction", Retryable: true}
		res.ProcessingTimeMs = msSince(started)
		return res
	}

	ocr, err := p.guardedOCR(ctx, state.input.Image, state.input.MimeType)
	if err != nil {
		res.Err = tierErrorFromDependency(err)
		res.ProcessingTimeMs = msSince(started)
		return res
	}

	meta := ParseProductText(ocr.Text)
	if meta.Empty() {
		res.ProcessingTimeMs = msSince(started)
		return res
	}
	state.metadata = meta
	res.Metadata = meta

	candidates, err := resilience.RetryValue(ctx, p.log, p.retryCfg, func(ctx context.Context) ([]*types.Product, error) {
		return p.products.SearchByMetadata(ctx, nil, meta, 5)
	})
	if err != nil {
		res.Err = &TierError{Code: "REGISTRY_SEARCH_FAILED", Message: err.Error(), Retryable: true}
		res.ProcessingTimeMs = msSince(started)
		return res
	}

	if len(candidates) > 0 {
		top := candidates[0]
		if top.Barcode == nil || *top.Barcode == "" {
			state.registryCandidate = top
		}
		sim := JaccardSimilarity(meta.ProductName, top.Name)
		if sim >= nameMatchFloor {
			res.Success = true
			res.Snapshot = top.Snapshot()
			res.Confidence = clamp01(0.5 + 0.5*sim)
			res.ProcessingTimeMs = msSince(started)
			return res
		}
	}

	res.ProcessingTimeMs = msSince(started)
	return res
}

// ---------- tier 3: barcode discovery ----------

func (p *pipeline) discovery(ctx context.Context, state *runState) *TierResult {
	started := time.Now()
	res := &TierResult{Tier: TierDiscovery}

	meta := state.metadata
	if meta.Empty() {
		res.ProcessingTimeMs = msSince(started)
		return res
	}

	terms := searchTerms(meta)
	candidates, err := p.guardedSearch(ctx, terms)
	if err != nil {
		res.Err = tierErrorFromDependency(err)
		res.ProcessingTimeMs = msSince(started)
		return res
	}

	ranked := rankCandidates(candidates, meta)
	if len(ranked) == 0 {
		res.ProcessingTimeMs = msSince(started)
		return res
	}
	winner := ranked[0]

	// The discovered barcode may already belong to a registry row.
	existing, err := resilience.RetryValue(ctx, p.log, p.retryCfg, func(ctx context.Context) (*types.Product, error) {
		return p.products.FindByBarcode(ctx, nil, winner.Barcode)
	})
	if err != nil {
		res.Err = &TierError{Code: "REGISTRY_LOOKUP_FAILED", Message: err.Error(), Retryable: true}
		res.ProcessingTimeMs = msSince(started)
		return res
	}

	switch {
	case existing != nil:
		res.Snapshot = existing.Snapshot()
	case state.registryCandidate != nil:
		// A visually matched product that lacked a scannable code now
		// has one; persist the association.
		if err := resilience.Retry(ctx, p.log, p.retryCfg, func(ctx context.Context) error {
			return p.products.AssociateBarcode(ctx, nil, state.registryCandidate.ID, winner.Barcode)
		}); err != nil {
			res.Err = &TierError{Code: "BARCODE_ASSOCIATION_FAILED", Message: err.Error(), Retryable: true}
			res.ProcessingTimeMs = msSince(started)
			return res
		}
		state.registryCandidate.Barcode = &winner.Barcode
		res.Snapshot = state.registryCandidate.Snapshot()
	default:
		res.Metadata = mergeCandidate(meta, winner.Candidate)
		res.DiscoveredBarcode = winner.Barcode
	}

	res.Success = true
	res.Confidence = winner.Score
	res.ProcessingTimeMs = msSince(started)

	if res.Snapshot != nil {
		p.seedCache(ctx, state, winner.Barcode, res)
	}
	return res
}

// seedCache writes both key shapes so the next scan of either the code
// or the same photo is a tier-1 hit.
func (p *pipeline) seedCache(ctx context.Context, state *runState, barcode string, res *TierResult) {
	p.cache.Store(ctx, types.BarcodeKey(barcode), res.Snapshot, TierDiscovery, res.Confidence)
	if state.input.Fingerprint != "" {
		p.cache.Store(ctx, types.FingerprintKey(state.input.Fingerprint), res.Snapshot, TierDiscovery, res.Confidence)
	}
}

// ---------- tier 4: full visual analysis ----------

func (p *pipeline) fullAnalysis(ctx context.Context, state *runState) *TierResult {
	started := time.Now()
	res := &TierResult{Tier: TierFullAnalysis}

	if len(state.input.Image) == 0 {
		res.Err = &TierError{Code: "NO_IMAGE", Message: "no image supplied for full analysis", Retryable: false}
		res.ProcessingTimeMs = msSince(started)
		return res
	}

	analysis, err := p.guardedAnalyze(ctx, state.input.Image, state.input.MimeType)
	if err != nil {
		res.Err = tierErrorFromDependency(err)
		res.ProcessingTimeMs = msSince(started)
		return res
	}

	meta, confidence := metadataFromAnalysis(analysis)
	res.Metadata = meta
	res.Confidence = confidence
	res.ProcessingTimeMs = msSince(started)

	// Low confidence is a terminal soft-failure: tell the caller to
	// retake the image instead of accepting a shaky identification.
	if confidence < p.minConfidence {
		res.Err = &TierError{
			Code:      types.CodeRetakeSuggested,
			Message:   "analysis confidence below acceptance threshold",
			Retryable: false,
		}
		return res
	}
	if meta.Empty() {
		res.Err = &TierError{Code: "NO_METADATA", Message: "analysis produced no usable metadata", Retryable: false}
		return res
	}

	res.Success = true
	return res
}

// ---------- guarded external calls ----------

func (p *pipeline) guardedOCR(ctx context.Context, img []byte, mime string) (*gcp.OCRResult, error) {
	var out *gcp.OCRResult
	err := p.visionGuard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = resilience.RetryValue(ctx, p.log, p.retryCfg, func(ctx context.Context) (*gcp.OCRResult, error) {
			return p.vision.OCRImageBytes(ctx, img, mime)
		})
		return err
	})
	return out, err
}

func (p *pipeline) guardedAnalyze(ctx context.Context, img []byte, mime string) (*gcp.AnalysisResult, error) {
	var out *gcp.AnalysisResult
	err := p.visionGuard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = resilience.RetryValue(ctx, p.log, p.retryCfg, func(ctx context.Context) (*gcp.AnalysisResult, error) {
			return p.vision.AnalyzeProductImage(ctx, img, mime)
		})
		return err
	})
	return out, err
}

func (p *pipeline) guardedSearch(ctx context.Context, terms []string) ([]barcodelookup.Candidate, error) {
	var out []barcodelookup.Candidate
	err := p.lookupGuard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = resilience.RetryValue(ctx, p.log, p.retryCfg, func(ctx context.Context) ([]barcodelookup.Candidate, error) {
			return p.lookup.Search(ctx, terms)
		})
		return err
	})
	return out, err
}

// ---------- helpers ----------

func tierErrorFromDependency(err error) *TierError {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return &TierError{Code: types.CodeCircuitOpen, Message: err.Error(), Retryable: true}
	case errors.Is(err, resilience.ErrRateLimited):
		return &TierError{Code: types.CodeRateLimited, Message: err.Error(), Retryable: true}
	default:
		return &TierError{Code: types.CodeDependencyFailed, Message: err.Error(), Retryable: true}
	}
}

func searchTerms(meta *types.ProductMetadata) []string {
	var terms []string
	if meta.ProductName != "" {
		terms = append(terms, meta.ProductName)
	}
	if meta.BrandName != "" {
		terms = append(terms, meta.BrandName)
	}
	for i, kw := range meta.Keywords {
		if i >= 3 {
			break
		}
		terms = append(terms, kw)
	}
	return terms
}

func mergeCandidate(meta *types.ProductMetadata, c barcodelookup.Candidate) *types.ProductMetadata {
	merged := *meta
	if c.ProductName != "" {
		merged.ProductName = c.ProductName
	}
	if c.Brand != "" {
		merged.BrandName = c.Brand
	}
	if merged.Category == "" && c.Category != "" {
		merged.Category = c.Category
	}
	return &merged
}

func msSince(t time.Time) int64 {
	return time.Since(t).Milliseconds()
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
