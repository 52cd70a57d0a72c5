package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shelfsight/shelfsight-backend/internal/cache"
	"github.com/shelfsight/shelfsight-backend/internal/services"
	"github.com/shelfsight/shelfsight-backend/internal/types"
)

type ScanHandler struct {
	orchestrator services.ScanOrchestrator
	corrections  services.CorrectionService
	productCache cache.ProductCache
}

func NewScanHandler(orchestrator services.ScanOrchestrator, corrections services.CorrectionService, productCache cache.ProductCache) *ScanHandler {
	return &ScanHandler{
		orchestrator: orchestrator,
		corrections:  corrections,
		productCache: productCache,
	}
}

type scanRequestBody struct {
	Barcode     string   `json:"barcode,omitempty"`
	ImageBase64 string   `json:"image_base64,omitempty"`
	MimeType    string   `json:"mime_type,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

func (h *ScanHandler) ProcessScan(c *gin.Context) {
	var body scanRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var image []byte
	if body.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(body.ImageBase64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image_base64 is not valid base64"})
			return
		}
		image = decoded
	}

	result, err := h.orchestrator.ProcessScan(c.Request.Context(), &types.ScanRequest{
		Barcode:   body.Barcode,
		Image:     image,
		MimeType:  body.MimeType,
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, result)
}

type reportRequestBody struct {
	ProductID        string `json:"product_id"`
	Barcode          string `json:"barcode,omitempty"`
	ImageFingerprint string `json:"image_fingerprint,omitempty"`
	UserFeedback     string `json:"user_feedback,omitempty"`
	ImageBase64      string `json:"image_base64,omitempty"`
	MimeType         string `json:"mime_type,omitempty"`
}

func (h *ScanHandler) ReportError(c *gin.Context) {
	var body reportRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	productID, err := uuid.Parse(body.ProductID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_id must be a uuid"})
		return
	}

	var image []byte
	if body.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(body.ImageBase64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image_base64 is not valid base64"})
			return
		}
		image = decoded
	}

	result, err := h.corrections.ReportError(c.Request.Context(), &services.ErrorReportInput{
		ProductID:        productID,
		Barcode:          body.Barcode,
		ImageFingerprint: body.ImageFingerprint,
		UserFeedback:     body.UserFeedback,
		Image:            image,
		MimeType:         body.MimeType,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, result)
}

func (h *ScanHandler) CacheStats(c *gin.Context) {
	RespondOK(c, h.productCache.Stats())
}
