package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shelfsight/shelfsight-backend/internal/logger"
	"github.com/shelfsight/shelfsight-backend/internal/pipeline"
	"github.com/shelfsight/shelfsight-backend/internal/resilience"
	"github.com/shelfsight/shelfsight-backend/internal/types"
)

type fakeReports struct {
	created   []*types.ErrorReport
	createErr error
	statuses  map[uuid.UUID]string
}

func newFakeReports() *fakeReports {
	return &fakeReports{statuses: map[uuid.UUID]string{}}
}

func (f *fakeReports) Create(ctx context.Context, tx *gorm.DB, report *types.ErrorReport) (*types.ErrorReport, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	f.created = append(f.created, report)
	return report, nil
}

func (f *fakeReports) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ErrorReport, error) {
	for _, r := range f.created {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeReports) UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error {
	f.statuses[id] = status
	return nil
}

type correctionFixture struct {
	cache    *fakeCache
	products *fakeProducts
	reports  *fakeReports
	pipe     *fakePipeline
	archive  *fakeArchive
	svc      CorrectionService
}

func newCorrectionFixture(t *testing.T) *correctionFixture {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	f := &correctionFixture{
		cache:    newFakeCache(),
		products: newFakeProducts(),
		reports:  newFakeReports(),
		pipe:     &fakePipeline{},
		archive:  newFakeArchive(),
	}
	f.svc = NewCorrectionService(
		log,
		f.cache,
		f.products,
		f.reports,
		f.pipe,
		f.archive,
		resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond},
	)
	return f
}

func TestReportErrorRequiresProductID(t *testing.T) {
	f := newCorrectionFixture(t)
	_, err := f.svc.ReportError(context.Background(), &ErrorReportInput{})
	var oe *types.OrchestratorError
	if !errors.As(err, &oe) || oe.Code != types.CodeValidation {
		t.Fatalf("err: %v", err)
	}
}

func TestReportErrorInvalidatesAllKeyShapes(t *testing.T) {
	f := newCorrectionFixture(t)
	productID := uuid.New()
	f.products.byID[productID] = &types.Product{ID: productID, Name: "Wrong Product", Brand: "WrongCo"}

	res, err := f.svc.ReportError(context.Background(), &ErrorReportInput{
		ProductID:        productID,
		Barcode:          "012345678901",
		ImageFingerprint: "fp-1",
		UserFeedback:     "this is not what I scanned",
	})
	if err != nil {
		t.Fatalf("ReportError: %v", err)
	}
	if !res.Success || res.ReportID == uuid.Nil {
		t.Fatalf("result: %+v", res)
	}
	if len(f.reports.created) != 1 {
		t.Fatalf("reports: %d", len(f.reports.created))
	}
	if f.reports.created[0].Status != types.ErrorReportStatusOpen {
		t.Fatalf("status: %q", f.reports.created[0].Status)
	}

	wantKeys := map[string]bool{
		mapKey(types.BarcodeKey("012345678901")): true,
		mapKey(types.FingerprintKey("fp-1")):     true,
	}
	for _, k := range f.cache.invalidatedKeys {
		delete(wantKeys, mapKey(k))
	}
	if len(wantKeys) != 0 {
		t.Fatalf("keys not invalidated: %v", wantKeys)
	}
	if len(f.cache.invalidatedProducts) != 1 || f.cache.invalidatedProducts[0] != productID.String() {
		t.Fatalf("product-wide invalidation: %+v", f.cache.invalidatedProducts)
	}
	if len(f.products.flagged) != 1 || f.products.flagged[0] != productID {
		t.Fatalf("flagged: %+v", f.products.flagged)
	}
}

func TestReportErrorReanalysisProducesAlternative(t *testing.T) {
	f := newCorrectionFixture(t)
	productID := uuid.New()
	f.products.byID[productID] = &types.Product{ID: productID, Name: "Wrong Product", Brand: "WrongCo"}
	f.pipe.reanalyzeRes = &pipeline.TierResult{
		Success:  true,
		Tier:     pipeline.TierFullAnalysis,
		Metadata: &types.ProductMetadata{ProductName: "Right Product", BrandName: "RightCo"},
	}

	res, err := f.svc.ReportError(context.Background(), &ErrorReportInput{
		ProductID: productID,
		Image:     []byte{1, 2},
		MimeType:  "image/jpeg",
	})
	if err != nil {
		t.Fatalf("ReportError: %v", err)
	}
	if res.AlternativeProduct == nil || res.AlternativeProduct.Name != "Right Product" {
		t.Fatalf("alternative: %+v", res.AlternativeProduct)
	}
	if f.reports.statuses[res.ReportID] != types.ErrorReportStatusCorrected {
		t.Fatalf("report status: %q", f.reports.statuses[res.ReportID])
	}
}

func TestReportErrorDiscardsMatchingReanalysis(t *testing.T) {
	f := newCorrectionFixture(t)
	productID := uuid.New()
	f.products.byID[productID] = &types.Product{ID: productID, Name: "Organic Milk", Brand: "Happy Farms"}
	f.pipe.reanalyzeRes = &pipeline.TierResult{
		Success:  true,
		Tier:     pipeline.TierFullAnalysis,
		Metadata: &types.ProductMetadata{ProductName: "organic milk", BrandName: "HAPPY FARMS"},
	}

	res, err := f.svc.ReportError(context.Background(), &ErrorReportInput{
		ProductID: productID,
		Image:     []byte{1, 2},
	})
	if err != nil {
		t.Fatalf("ReportError: %v", err)
	}
	if res.AlternativeProduct != nil {
		t.Fatalf("same identification offered as a correction: %+v", res.AlternativeProduct)
	}
	if len(res.Warnings) == 0 {
		t.Fatalf("expected a warning about the reproduced identification")
	}
	if f.reports.statuses[res.ReportID] == types.ErrorReportStatusCorrected {
		t.Fatalf("report marked corrected without a correction")
	}
}

func TestReportErrorFetchesArchivedImage(t *testing.T) {
	f := newCorrectionFixture(t)
	productID := uuid.New()
	f.products.byID[productID] = &types.Product{ID: productID, Name: "Wrong Product", Brand: "WrongCo"}
	f.archive.loadImage = []byte{7, 7}
	f.archive.loadMime = "image/jpeg"
	f.pipe.reanalyzeRes = &pipeline.TierResult{
		Success:  true,
		Tier:     pipeline.TierFullAnalysis,
		Metadata: &types.ProductMetadata{ProductName: "Right Product", BrandName: "RightCo"},
	}

	res, err := f.svc.ReportError(context.Background(), &ErrorReportInput{
		ProductID:        productID,
		ImageFingerprint: "fp-9",
	})
	if err != nil {
		t.Fatalf("ReportError: %v", err)
	}
	if f.pipe.reanalyzeCalls != 1 {
		t.Fatalf("reanalyze calls: %d", f.pipe.reanalyzeCalls)
	}
	if res.AlternativeProduct == nil {
		t.Fatalf("expected alternative from archived image")
	}
}

func TestReportErrorNoImageSkipsReanalysis(t *testing.T) {
	f := newCorrectionFixture(t)
	productID := uuid.New()
	f.products.byID[productID] = &types.Product{ID: productID, Name: "Wrong Product"}

	res, err := f.svc.ReportError(context.Background(), &ErrorReportInput{ProductID: productID})
	if err != nil {
		t.Fatalf("ReportError: %v", err)
	}
	if f.pipe.reanalyzeCalls != 0 {
		t.Fatalf("reanalysis attempted without an image")
	}
	if !res.Success || len(res.Warnings) == 0 {
		t.Fatalf("result: %+v", res)
	}
}

func TestReportErrorPersistFailureStillPurgesAndFlags(t *testing.T) {
	f := newCorrectionFixture(t)
	f.reports.createErr = errors.New("connection refused")
	productID := uuid.New()
	f.products.byID[productID] = &types.Product{ID: productID, Name: "Wrong Product", Brand: "WrongCo"}
	f.pipe.reanalyzeRes = &pipeline.TierResult{
		Success:  true,
		Tier:     pipeline.TierFullAnalysis,
		Metadata: &types.ProductMetadata{ProductName: "Right Product", BrandName: "RightCo"},
	}

	res, err := f.svc.ReportError(context.Background(), &ErrorReportInput{
		ProductID:        productID,
		Barcode:          "012345678901",
		ImageFingerprint: "fp-1",
		Image:            []byte{1, 2},
	})
	if err != nil {
		t.Fatalf("ReportError: %v", err)
	}
	if res.Success || res.ReportID != uuid.Nil {
		t.Fatalf("unpersisted report claimed success: %+v", res)
	}
	if len(res.Warnings) == 0 {
		t.Fatalf("expected a warning about the unpersisted report")
	}

	// The remaining steps run regardless of the lost report row.
	if len(f.cache.invalidatedKeys) != 2 {
		t.Fatalf("invalidated keys: %+v", f.cache.invalidatedKeys)
	}
	if len(f.cache.invalidatedProducts) != 1 || f.cache.invalidatedProducts[0] != productID.String() {
		t.Fatalf("product-wide invalidation: %+v", f.cache.invalidatedProducts)
	}
	if len(f.products.flagged) != 1 || f.products.flagged[0] != productID {
		t.Fatalf("flagged: %+v", f.products.flagged)
	}
	if res.AlternativeProduct == nil || res.AlternativeProduct.Name != "Right Product" {
		t.Fatalf("alternative: %+v", res.AlternativeProduct)
	}
	if len(f.reports.statuses) != 0 {
		t.Fatalf("status update without a persisted report: %+v", f.reports.statuses)
	}
}
