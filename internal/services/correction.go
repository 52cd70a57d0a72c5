package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/shelfsight/shelfsight-backend/internal/cache"
	"github.com/shelfsight/shelfsight-backend/internal/clients/gcp"
	"github.com/shelfsight/shelfsight-backend/internal/logger"
	"github.com/shelfsight/shelfsight-backend/internal/pipeline"
	"github.com/shelfsight/shelfsight-backend/internal/repos"
	"github.com/shelfsight/shelfsight-backend/internal/resilience"
	"github.com/shelfsight/shelfsight-backend/internal/types"
)

// ErrorReportInput is a user's claim that a scan returned the wrong
// product. Image bytes are optional; when absent the archived scan
// image is fetched by fingerprint.
type ErrorReportInput struct {
	ProductID        uuid.UUID      `json:"product_id"`
	Barcode          string         `json:"barcode,omitempty"`
	ImageFingerprint string         `json:"image_fingerprint,omitempty"`
	UserFeedback     string         `json:"user_feedback,omitempty"`
	Image            []byte         `json:"image,omitempty"`
	MimeType         string         `json:"mime_type,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
}

type ErrorReportResult struct {
	Success            bool                   `json:"success"`
	ReportID           uuid.UUID              `json:"report_id"`
	AlternativeProduct *types.ProductSnapshot `json:"alternative_product,omitempty"`
	Warnings           []string               `json:"warnings,omitempty"`
}

// CorrectionService handles misidentification reports: it purges the
// bad cached identification, flags the product, and attempts a fresh
// analysis of the original image.
type CorrectionService interface {
	ReportError(ctx context.Context, input *ErrorReportInput) (*ErrorReportResult, error)
}

type correctionService struct {
	log      *logger.Logger
	cache    cache.ProductCache
	products repos.ProductRepo
	reports  repos.ErrorReportRepo
	pipe     pipeline.Pipeline
	archive  gcp.ScanImageArchive

	retryCfg resilience.RetryConfig
}

func NewCorrectionService(
	log *logger.Logger,
	productCache cache.ProductCache,
	products repos.ProductRepo,
	reports repos.ErrorReportRepo,
	pipe pipeline.Pipeline,
	archive gcp.ScanImageArchive,
	retryCfg resilience.RetryConfig,
) CorrectionService {
	if retryCfg.MaxAttempts <= 0 {
		retryCfg = resilience.DefaultRetryConfig()
	}
	return &correctionService{
		log:      log.With("service", "CorrectionService"),
		cache:    productCache,
		products: products,
		reports:  reports,
		pipe:     pipe,
		archive:  archive,
		retryCfg: retryCfg,
	}
}

func (s *correctionService) ReportError(ctx context.Context, input *ErrorReportInput) (*ErrorReportResult, error) {
	if input == nil || input.ProductID == uuid.Nil {
		return nil, &types.OrchestratorError{
			Code:        types.CodeValidation,
			Message:     "error report requires the misidentified product id",
			Source:      types.SourceRegistry,
			Recoverable: false,
		}
	}

	result := &ErrorReportResult{Success: true}
	report, err := s.persistReport(ctx, input)
	if err != nil {
		// The purge, review flag and re-analysis still run; a lost
		// report row must not keep the bad identification in
		// circulation.
		s.log.Warn("error report persistence failed", "product_id", input.ProductID, "error", err)
		result.Success = false
		result.Warnings = append(result.Warnings, "error report not persisted")
	} else {
		result.ReportID = report.ID
	}

	// The reported identification must stop being served immediately,
	// whichever key produced it.
	if input.Barcode != "" {
		s.cache.Invalidate(ctx, types.BarcodeKey(input.Barcode))
	}
	if input.ImageFingerprint != "" {
		s.cache.Invalidate(ctx, types.FingerprintKey(input.ImageFingerprint))
	}
	s.cache.InvalidateByProductID(ctx, input.ProductID.String())

	if err := resilience.Retry(ctx, s.log, s.retryCfg, func(ctx context.Context) error {
		return s.products.FlagForReview(ctx, nil, input.ProductID)
	}); err != nil {
		s.log.Warn("flag for review failed", "product_id", input.ProductID, "error", err)
		result.Warnings = append(result.Warnings, "product not flagged for review")
	}

	s.attemptReanalysis(ctx, input, result)
	return result, nil
}

func (s *correctionService) persistReport(ctx context.Context, input *ErrorReportInput) (*types.ErrorReport, error) {
	report := &types.ErrorReport{
		ProductID:        input.ProductID,
		Barcode:          input.Barcode,
		ImageFingerprint: input.ImageFingerprint,
		UserFeedback:     input.UserFeedback,
		Status:           types.ErrorReportStatusOpen,
	}
	if len(input.Context) > 0 {
		if raw, err := json.Marshal(input.Context); err == nil {
			report.Context = datatypes.JSON(raw)
		}
	}
	return resilience.RetryValue(ctx, s.log, s.retryCfg, func(ctx context.Context) (*types.ErrorReport, error) {
		return s.reports.Create(ctx, nil, report)
	})
}

// attemptReanalysis re-runs the full-analysis tier on the original
// image and surfaces the result only when it differs from the reported
// identification. Every failure here degrades to a warning; the purge
// and review flag have already run.
func (s *correctionService) attemptReanalysis(ctx context.Context, input *ErrorReportInput, result *ErrorReportResult) {
	img, mimeType := input.Image, input.MimeType
	if len(img) == 0 && input.ImageFingerprint != "" && s.archive != nil {
		var err error
		img, mimeType, err = s.archive.LoadScanImage(ctx, input.ImageFingerprint)
		if err != nil {
			s.log.Warn("archived scan image unavailable", "fingerprint", input.ImageFingerprint, "error", err)
			result.Warnings = append(result.Warnings, "original scan image unavailable, no re-analysis")
			return
		}
	}
	if len(img) == 0 {
		result.Warnings = append(result.Warnings, "no image available for re-analysis")
		return
	}

	res, err := s.pipe.Reanalyze(ctx, img, mimeType)
	if err != nil || res == nil || !res.Success || res.Metadata == nil {
		s.log.Warn("correction re-analysis failed", "report_id", result.ReportID, "error", err)
		result.Warnings = append(result.Warnings, "re-analysis did not produce an identification")
		return
	}

	original, err := resilience.RetryValue(ctx, s.log, s.retryCfg, func(ctx context.Context) (*types.Product, error) {
		return s.products.FindByID(ctx, nil, input.ProductID)
	})
	if err != nil {
		s.log.Warn("original product lookup failed", "product_id", input.ProductID, "error", err)
		result.Warnings = append(result.Warnings, "original product unavailable for comparison")
		return
	}
	if original != nil && sameIdentification(original, res.Metadata) {
		// Reproducing the reported result is not a correction.
		result.Warnings = append(result.Warnings, "re-analysis reproduced the reported identification")
		return
	}

	result.AlternativeProduct = &types.ProductSnapshot{
		Name:     res.Metadata.ProductName,
		Brand:    res.Metadata.BrandName,
		Size:     res.Metadata.Size,
		Category: res.Metadata.Category,
	}
	if result.ReportID == uuid.Nil {
		// No persisted report row to mark corrected.
		return
	}
	if err := resilience.Retry(ctx, s.log, s.retryCfg, func(ctx context.Context) error {
		return s.reports.UpdateStatus(ctx, nil, result.ReportID, types.ErrorReportStatusCorrected)
	}); err != nil {
		s.log.Warn("report status update failed", "report_id", result.ReportID, "error", err)
		result.Warnings = append(result.Warnings, "report status not updated")
	}
}

func sameIdentification(p *types.Product, meta *types.ProductMetadata) bool {
	return strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(meta.ProductName)) &&
		strings.EqualFold(strings.TrimSpace(p.Brand), strings.TrimSpace(meta.BrandName))
}
