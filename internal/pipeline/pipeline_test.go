package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shelfsight/shelfsight-backend/internal/cache"
	"github.com/shelfsight/shelfsight-backend/internal/clients/barcodelookup"
	"github.com/shelfsight/shelfsight-backend/internal/clients/gcp"
	"github.com/shelfsight/shelfsight-backend/internal/logger"
	"github.com/shelfsight/shelfsight-backend/internal/resilience"
	"github.com/shelfsight/shelfsight-backend/internal/types"
)

// ---------- fakes ----------

type fakeCache struct {
	entries             map[string]*types.CacheEntry
	storeCalls          int
	storedKeys          []types.IdentificationKey
	invalidatedKeys     []types.IdentificationKey
	invalidatedProducts []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]*types.CacheEntry{}}
}

func cacheMapKey(key types.IdentificationKey) string {
	return string(key.KeyType) + ":" + key.Value
}

func (f *fakeCache) Lookup(ctx context.Context, key types.IdentificationKey) (*types.CacheEntry, bool) {
	e, ok := f.entries[cacheMapKey(key)]
	if !ok || e.Expired(time.Now()) {
		return nil, false
	}
	e.AccessCount++
	return e, true
}

func (f *fakeCache) Store(ctx context.Context, key types.IdentificationKey, snapshot *types.ProductSnapshot, tier int, confidence float64) {
	f.storeCalls++
	f.storedKeys = append(f.storedKeys, key)
	f.entries[cacheMapKey(key)] = &types.CacheEntry{
		Key:             key.Value,
		KeyType:         key.KeyType,
		ProductSnapshot: snapshot,
		TierProduced:    tier,
		Confidence:      confidence,
		ExpiresAt:       time.Now().Add(cache.TTLForTier(tier)),
	}
}

func (f *fakeCache) Invalidate(ctx context.Context, key types.IdentificationKey) {
	f.invalidatedKeys = append(f.invalidatedKeys, key)
	delete(f.entries, cacheMapKey(key))
}

func (f *fakeCache) InvalidateByProductID(ctx context.Context, productID string) {
	f.invalidatedProducts = append(f.invalidatedProducts, productID)
}

func (f *fakeCache) Stats() cache.Stats { return cache.Stats{} }

type fakeProducts struct {
	byBarcode      map[string]*types.Product
	searchResults  []*types.Product
	associateCalls []struct {
		ProductID uuid.UUID
		Barcode   string
	}
	upserted []*types.Product
	flagged  []uuid.UUID
	touched  []uuid.UUID
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{byBarcode: map[string]*types.Product{}}
}

func (f *fakeProducts) FindByBarcode(ctx context.Context, tx *gorm.DB, barcode string) (*types.Product, error) {
	return f.byBarcode[barcode], nil
}

func (f *fakeProducts) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Product, error) {
	for _, p := range f.byBarcode {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeProducts) SearchByMetadata(ctx context.Context, tx *gorm.DB, meta *types.ProductMetadata, limit int) ([]*types.Product, error) {
	return f.searchResults, nil
}

func (f *fakeProducts) UpsertByBarcode(ctx context.Context, tx *gorm.DB, product *types.Product) (*types.Product, error) {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	f.upserted = append(f.upserted, product)
	if product.Barcode != nil {
		f.byBarcode[*product.Barcode] = product
	}
	return product, nil
}

func (f *fakeProducts) AssociateBarcode(ctx context.Context, tx *gorm.DB, productID uuid.UUID, barcode string) error {
	f.associateCalls = append(f.associateCalls, struct {
		ProductID uuid.UUID
		Barcode   string
	}{productID, barcode})
	return nil
}

func (f *fakeProducts) FlagForReview(ctx context.Context, tx *gorm.DB, productID uuid.UUID) error {
	f.flagged = append(f.flagged, productID)
	return nil
}

func (f *fakeProducts) TouchLastScanned(ctx context.Context, tx *gorm.DB, productID uuid.UUID) error {
	f.touched = append(f.touched, productID)
	return nil
}

type fakeVision struct {
	ocrText      string
	ocrCalls     int
	analysis     *gcp.AnalysisResult
	analyzeCalls int
}

func (f *fakeVision) OCRImageBytes(ctx context.Context, img []byte, mimeType string) (*gcp.OCRResult, error) {
	f.ocrCalls++
	return &gcp.OCRResult{Provider: "fake", Text: f.ocrText, Confidence: 0.9}, nil
}

func (f *fakeVision) AnalyzeProductImage(ctx context.Context, img []byte, mimeType string) (*gcp.AnalysisResult, error) {
	f.analyzeCalls++
	if f.analysis == nil {
		return &gcp.AnalysisResult{Provider: "fake"}, nil
	}
	return f.analysis, nil
}

func (f *fakeVision) Close() error { return nil }

type fakeLookup struct {
	candidates  []barcodelookup.Candidate
	searchCalls int
}

func (f *fakeLookup) Search(ctx context.Context, terms []string) ([]barcodelookup.Candidate, error) {
	f.searchCalls++
	return f.candidates, nil
}

// ---------- harness ----------

type pipelineFixture struct {
	cache    *fakeCache
	products *fakeProducts
	vision   *fakeVision
	lookup   *fakeLookup
	pipe     Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	f := &pipelineFixture{
		cache:    newFakeCache(),
		products: newFakeProducts(),
		vision:   &fakeVision{},
		lookup:   &fakeLookup{},
	}
	guardCfg := resilience.GuardConfig{MaxRequests: 100, Window: time.Minute, FailureThreshold: 5, ResetTimeout: time.Minute}
	f.pipe = New(
		log,
		f.cache,
		f.products,
		f.vision,
		f.lookup,
		resilience.NewGuard(guardCfg),
		resilience.NewGuard(guardCfg),
		Config{Retry: resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond}},
	)
	return f
}

func productWithBarcode(name, brand, barcode string) *types.Product {
	p := &types.Product{ID: uuid.New(), Name: name, Brand: brand}
	if barcode != "" {
		p.Barcode = &barcode
	}
	return p
}

// ---------- tests ----------

func TestDirectLookupCacheHitSkipsExternalCalls(t *testing.T) {
	f := newPipelineFixture(t)
	snap := &types.ProductSnapshot{ProductID: uuid.New(), Name: "Cached Milk"}
	f.cache.Store(context.Background(), types.BarcodeKey("012345678901"), snap, TierDiscovery, 0.9)

	res, err := f.pipe.Identify(context.Background(), Input{Barcode: "012345678901"})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !res.Success || res.Tier != TierDirectLookup {
		t.Fatalf("result: %+v", res)
	}
	if res.Snapshot.Name != "Cached Milk" {
		t.Fatalf("snapshot: %+v", res.Snapshot)
	}
	if f.vision.ocrCalls != 0 || f.vision.analyzeCalls != 0 || f.lookup.searchCalls != 0 {
		t.Fatalf("external calls on cache hit: ocr=%d analyze=%d search=%d",
			f.vision.ocrCalls, f.vision.analyzeCalls, f.lookup.searchCalls)
	}
}

func TestDirectLookupRegistryHitFullConfidence(t *testing.T) {
	f := newPipelineFixture(t)
	f.products.byBarcode["0123456789012"] = productWithBarcode("Rye Bread", "Bakehouse", "0123456789012")

	res, err := f.pipe.Identify(context.Background(), Input{Barcode: "0123456789012"})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !res.Success || res.Tier != TierDirectLookup || res.Confidence != 1.0 {
		t.Fatalf("result: %+v", res)
	}
	if res.Snapshot.Barcode != "0123456789012" {
		t.Fatalf("snapshot barcode: %q", res.Snapshot.Barcode)
	}
}

func TestTextExtractionMatchesRegistryProduct(t *testing.T) {
	f := newPipelineFixture(t)
	f.vision.ocrText = "Brand: Happy Farms\nProduct: Organic Whole Milk\n64 fl oz"
	f.products.searchResults = []*types.Product{
		productWithBarcode("Organic Whole Milk", "Happy Farms", "012345678901"),
	}

	res, err := f.pipe.Identify(context.Background(), Input{Image: []byte{1}, MimeType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !res.Success || res.Tier != TierTextExtraction {
		t.Fatalf("result: %+v", res)
	}
	if res.Snapshot.Name != "Organic Whole Milk" {
		t.Fatalf("snapshot: %+v", res.Snapshot)
	}
	if res.Confidence != 1.0 {
		t.Fatalf("confidence: %f", res.Confidence)
	}
}

func TestDiscoveryResolvesNewBarcode(t *testing.T) {
	f := newPipelineFixture(t)
	f.vision.ocrText = "Brand: Fizz\nProduct: Cherry Cola\n12 oz"
	f.lookup.candidates = []barcodelookup.Candidate{
		{Barcode: "ABC", Format: "EAN-13", ProductName: "Cherry Cola", Confidence: 0.9},
		{Barcode: "0123456789012", Format: "EAN-13", ProductName: "Cherry Cola", Brand: "Fizz", Confidence: 0.6},
	}

	res, err := f.pipe.Identify(context.Background(), Input{Image: []byte{1}, Fingerprint: "fp-1"})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !res.Success || res.Tier != TierDiscovery {
		t.Fatalf("result: %+v", res)
	}
	if res.DiscoveredBarcode != "0123456789012" {
		t.Fatalf("discovered barcode: %q", res.DiscoveredBarcode)
	}
	if res.Metadata == nil || res.Metadata.ProductName != "Cherry Cola" || res.Metadata.BrandName != "Fizz" {
		t.Fatalf("metadata: %+v", res.Metadata)
	}
}

func TestDiscoveryAssociatesBarcodelessRegistryCandidate(t *testing.T) {
	f := newPipelineFixture(t)
	f.vision.ocrText = "Brand: Fizz\nProduct: Cherry Cola Zero\n12 oz"
	candidate := productWithBarcode("Fizz Soda Variety", "Fizz", "")
	f.products.searchResults = []*types.Product{candidate}
	f.lookup.candidates = []barcodelookup.Candidate{
		{Barcode: "0123456789012", Format: "EAN-13", ProductName: "Cherry Cola Zero", Brand: "Fizz", Confidence: 0.6},
	}

	res, err := f.pipe.Identify(context.Background(), Input{Image: []byte{1}, Fingerprint: "fp-2"})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !res.Success || res.Tier != TierDiscovery {
		t.Fatalf("result: %+v", res)
	}
	if len(f.products.associateCalls) != 1 {
		t.Fatalf("associate calls: %d", len(f.products.associateCalls))
	}
	if f.products.associateCalls[0].ProductID != candidate.ID {
		t.Fatalf("associated wrong product")
	}
	if res.Snapshot == nil || res.Snapshot.Barcode != "0123456789012" {
		t.Fatalf("snapshot: %+v", res.Snapshot)
	}
	// discovery seeds both the barcode key and the fingerprint key
	if f.cache.storeCalls != 2 {
		t.Fatalf("cache seeds: %d", f.cache.storeCalls)
	}
	seen := map[types.KeyType]bool{}
	for _, k := range f.cache.storedKeys {
		seen[k.KeyType] = true
	}
	if !seen[types.KeyTypeBarcode] || !seen[types.KeyTypeImageFingerprint] {
		t.Fatalf("seeded key types: %+v", f.cache.storedKeys)
	}
}

func TestFullAnalysisConfidenceGate(t *testing.T) {
	f := newPipelineFixture(t)
	// 0.6 * avg(0.75) = 0.45, no logo, no text
	f.vision.analysis = &gcp.AnalysisResult{
		Labels: []gcp.Annotation{
			{Description: "Beverage", Score: 0.75},
			{Description: "Bottle", Score: 0.75},
			{Description: "Juice", Score: 0.75},
		},
	}

	res, err := f.pipe.Identify(context.Background(), Input{Image: []byte{1}})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if res.Success {
		t.Fatalf("low-confidence analysis accepted: %+v", res)
	}
	if res.Err == nil || res.Err.Code != types.CodeRetakeSuggested {
		t.Fatalf("expected retake signal, got %+v", res.Err)
	}
	if res.Err.Retryable {
		t.Fatalf("retake signal must be terminal")
	}
}

func TestFullAnalysisAcceptsAboveThreshold(t *testing.T) {
	f := newPipelineFixture(t)
	// 0.6 * avg(1.0) + 0.25 * 0.6 = 0.75
	f.vision.analysis = &gcp.AnalysisResult{
		Labels: []gcp.Annotation{
			{Description: "Beverage", Score: 1.0},
			{Description: "Bottle", Score: 1.0},
			{Description: "Juice", Score: 1.0},
		},
		Logos: []gcp.Annotation{{Description: "Fizz", Score: 0.6}},
	}

	res, err := f.pipe.Identify(context.Background(), Input{Image: []byte{1}})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !res.Success || res.Tier != TierFullAnalysis {
		t.Fatalf("result: %+v success=%v err=%+v", res, res.Success, res.Err)
	}
	if res.Confidence < 0.74 || res.Confidence > 0.76 {
		t.Fatalf("confidence: %f", res.Confidence)
	}
	if res.Metadata == nil || res.Metadata.BrandName != "Fizz" {
		t.Fatalf("metadata: %+v", res.Metadata)
	}
}

func TestReanalyzeRunsOnlyFullAnalysis(t *testing.T) {
	f := newPipelineFixture(t)
	f.vision.analysis = &gcp.AnalysisResult{
		Labels: []gcp.Annotation{{Description: "Soup", Score: 1.0}},
		Logos:  []gcp.Annotation{{Description: "SoupCo", Score: 1.0}},
	}

	res, err := f.pipe.Reanalyze(context.Background(), []byte{1}, "image/jpeg")
	if err != nil {
		t.Fatalf("Reanalyze: %v", err)
	}
	if !res.Success || res.Tier != TierFullAnalysis {
		t.Fatalf("result: %+v", res)
	}
	if f.vision.ocrCalls != 0 {
		t.Fatalf("reanalyze ran OCR")
	}
	if f.vision.analyzeCalls != 1 {
		t.Fatalf("analyze calls: %d", f.vision.analyzeCalls)
	}
}
