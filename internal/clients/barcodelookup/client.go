package barcodelookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shelfsight/shelfsight-backend/internal/logger"
	"github.com/shelfsight/shelfsight-backend/internal/utils"
)

// Candidate is one ranked result from the external barcode discovery
// API: a barcode that may belong to the visually identified product.
type Candidate struct {
	Barcode     string  `json:"barcode"`
	Format      string  `json:"format"`
	ProductName string  `json:"product_name,omitempty"`
	Brand       string  `json:"brand,omitempty"`
	Category    string  `json:"category,omitempty"`
	Confidence  float64 `json:"confidence"`
}

type Client interface {
	Search(ctx context.Context, terms []string) ([]Candidate, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(utils.GetEnv("BARCODE_LOOKUP_API_KEY", "", log))
	if apiKey == "" {
		return nil, fmt.Errorf("missing BARCODE_LOOKUP_API_KEY")
	}
	baseURL := strings.TrimRight(utils.GetEnv("BARCODE_LOOKUP_BASE_URL", "https://api.barcodelookup.example.com", log), "/")
	timeoutSec := utils.GetEnvAsInt("BARCODE_LOOKUP_TIMEOUT_SECONDS", 10, log)

	return &client{
		log:        log.With("service", "BarcodeLookupClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

type searchResponse struct {
	Results []struct {
		Barcode     string  `json:"barcode"`
		Format      string  `json:"format"`
		ProductName string  `json:"product_name"`
		Brand       string  `json:"brand"`
		Category    string  `json:"category"`
		Confidence  float64 `json:"confidence"`
	} `json:"results"`
}

// Search queries the discovery API with free-text terms. Retry policy
// and rate limiting belong to the caller; this client only issues one
// request and surfaces throttling as an error the retry executor can
// classify.
func (c *client) Search(ctx context.Context, terms []string) ([]Candidate, error) {
	query := strings.TrimSpace(strings.Join(terms, " "))
	if query == "" {
		return nil, fmt.Errorf("search terms are empty")
	}

	u := fmt.Sprintf("%s/v1/search?q=%s", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("barcode lookup request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("barcode lookup read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// the status code lands in the message so the transience
		// classifier can see 429/503
		return nil, fmt.Errorf("barcode lookup status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("barcode lookup decode: %w", err)
	}

	out := make([]Candidate, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if strings.TrimSpace(r.Barcode) == "" {
			continue
		}
		out = append(out, Candidate{
			Barcode:     strings.TrimSpace(r.Barcode),
			Format:      strings.ToUpper(strings.TrimSpace(r.Format)),
			ProductName: r.ProductName,
			Brand:       r.Brand,
			Category:    r.Category,
			Confidence:  r.Confidence,
		})
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
