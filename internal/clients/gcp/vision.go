package gcp

import (
	"context"
	"fmt"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/shelfsight/shelfsight-backend/internal/logger"
)

// Vision is the vision-analysis capability consumed by the
// identification pipeline: plain OCR for the text-extraction tier and
// structured annotation for the full-analysis tier.
type Vision interface {
	OCRImageBytes(ctx context.Context, img []byte, mimeType string) (*OCRResult, error)
	AnalyzeProductImage(ctx context.Context, img []byte, mimeType string) (*AnalysisResult, error)
	Close() error
}

type OCRResult struct {
	Provider   string  `json:"provider"`
	MimeType   string  `json:"mime_type,omitempty"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type Annotation struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type DominantColor struct {
	Red      int     `json:"red"`
	Green    int     `json:"green"`
	Blue     int     `json:"blue"`
	Fraction float64 `json:"fraction"`
}

// AnalysisResult is the raw structured output; the pipeline derives
// ProductMetadata and a confidence score from it.
type AnalysisResult struct {
	Provider string          `json:"provider"`
	Labels   []Annotation    `json:"labels,omitempty"`
	Logos    []Annotation    `json:"logos,omitempty"`
	Text     string          `json:"text,omitempty"`
	Colors   []DominantColor `json:"colors,omitempty"`
}

type visionService struct {
	log *logger.Logger

	client *vision.ImageAnnotatorClient

	ocrTimeout     time.Duration
	analyzeTimeout time.Duration
}

func NewVision(log *logger.Logger) (Vision, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Vision")

	ctx := context.Background()
	client, err := vision.NewImageAnnotatorClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}

	return &visionService{
		log:    slog,
		client: client,
		// SLA targets: OCR gates later tiers, full analysis is the
		// last resort and gets more room.
		ocrTimeout:     3 * time.Second,
		analyzeTimeout: 8 * time.Second,
	}, nil
}

func (s *visionService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *visionService) OCRImageBytes(ctx context.Context, img []byte, mimeType string) (*OCRResult, error) {
	if len(img) == 0 {
		return &OCRResult{Provider: "gcp_vision", MimeType: mimeType}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.ocrTimeout)
	defer cancel()

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: img},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}
	resp, err := s.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	r0 := firstResponse(resp)
	if r0 == nil {
		return &OCRResult{Provider: "gcp_vision", MimeType: mimeType}, nil
	}
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}

	out := &OCRResult{Provider: "gcp_vision", MimeType: mimeType}
	if fta := r0.FullTextAnnotation; fta != nil {
		// keep line structure: the metadata parser works line by line
		out.Text = fta.Text
		out.Confidence = fullTextConfidence(fta)
	}
	return out, nil
}

func (s *visionService) AnalyzeProductImage(ctx context.Context, img []byte, mimeType string) (*AnalysisResult, error) {
	if len(img) == 0 {
		return &AnalysisResult{Provider: "gcp_vision"}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.analyzeTimeout)
	defer cancel()

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: img},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: 15},
					{Type: visionpb.Feature_LOGO_DETECTION, MaxResults: 5},
					{Type: visionpb.Feature_TEXT_DETECTION},
					{Type: visionpb.Feature_IMAGE_PROPERTIES},
				},
			},
		},
	}
	resp, err := s.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	r0 := firstResponse(resp)
	if r0 == nil {
		return &AnalysisResult{Provider: "gcp_vision"}, nil
	}
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}

	out := &AnalysisResult{Provider: "gcp_vision"}
	for _, la := range r0.LabelAnnotations {
		if la == nil {
			continue
		}
		out.Labels = append(out.Labels, Annotation{
			Description: la.Description,
			Score:       float64(la.Score),
		})
	}
	for _, lo := range r0.LogoAnnotations {
		if lo == nil {
			continue
		}
		out.Logos = append(out.Logos, Annotation{
			Description: lo.Description,
			Score:       float64(lo.Score),
		})
	}
	if len(r0.TextAnnotations) > 0 && r0.TextAnnotations[0] != nil {
		out.Text = r0.TextAnnotations[0].Description
	}
	if props := r0.ImagePropertiesAnnotation; props != nil && props.DominantColors != nil {
		for _, ci := range props.DominantColors.Colors {
			if ci == nil || ci.Color == nil {
				continue
			}
			out.Colors = append(out.Colors, DominantColor{
				Red:      int(ci.Color.Red),
				Green:    int(ci.Color.Green),
				Blue:     int(ci.Color.Blue),
				Fraction: float64(ci.PixelFraction),
			})
		}
	}
	return out, nil
}

func firstResponse(resp *visionpb.BatchAnnotateImagesResponse) *visionpb.AnnotateImageResponse {
	if resp == nil || len(resp.Responses) == 0 {
		return nil
	}
	return resp.Responses[0]
}

func fullTextConfidence(fta *visionpb.TextAnnotation) float64 {
	if fta == nil || len(fta.Pages) == 0 {
		return 0
	}
	var sum float64
	n := 0
	for _, pg := range fta.Pages {
		if pg == nil {
			continue
		}
		for _, b := range pg.Blocks {
			if b == nil || b.Confidence <= 0 {
				continue
			}
			sum += float64(b.Confidence)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
