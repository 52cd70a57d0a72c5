package pipeline

import (
	"regexp"
	"strings"

	"github.com/shelfsight/shelfsight-backend/internal/types"
)

// Explicit label lines on packaging take priority over heuristics.
var labelAliases = map[string]string{
	"product":  "name",
	"name":     "name",
	"item":     "name",
	"brand":    "brand",
	"mfr":      "brand",
	"by":       "brand",
	"size":     "size",
	"net wt":   "size",
	"net wt.":  "size",
	"weight":   "size",
	"volume":   "size",
	"category": "category",
	"type":     "category",
}

var (
	labelLineRe = regexp.MustCompile(`(?i)^([a-z][a-z .]{1,15}):\s*(.+)$`)

	// unit-pattern sizes: 12 oz, 16.9 fl oz, 500 g, 1.5 l, 2 lb, 24 count
	sizeRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(fl\.?\s*oz|oz|lbs?|lb|kgs?|kg|g|mls?|ml|l|liters?|count|ct|pack|pk)\b`)

	// short line of capitalized words, a plausible brand mark
	brandLineRe = regexp.MustCompile(`^([A-Z][A-Za-z'&.-]*)(\s+[A-Z][A-Za-z'&.-]*){0,2}$`)

	wordRe = regexp.MustCompile(`[A-Za-z][A-Za-z'-]{2,}`)
)

var categoryKeywords = map[string]string{
	"milk":      "dairy",
	"cheese":    "dairy",
	"yogurt":    "dairy",
	"butter":    "dairy",
	"bread":     "bakery",
	"bagel":     "bakery",
	"muffin":    "bakery",
	"cereal":    "breakfast",
	"oatmeal":   "breakfast",
	"granola":   "breakfast",
	"juice":     "beverages",
	"soda":      "beverages",
	"coffee":    "beverages",
	"tea":       "beverages",
	"water":     "beverages",
	"chips":     "snacks",
	"crackers":  "snacks",
	"cookies":   "snacks",
	"candy":     "snacks",
	"chocolate": "snacks",
	"pasta":     "pantry",
	"rice":      "pantry",
	"beans":     "pantry",
	"sauce":     "pantry",
	"soup":      "pantry",
	"shampoo":   "personal care",
	"soap":      "personal care",
	"lotion":    "personal care",
	"detergent": "household",
	"cleaner":   "household",
	"frozen":    "frozen",
}

// ParseProductText turns raw on-package OCR text into ProductMetadata.
// Explicit `Label: value` lines win; size, brand and category fall back
// to pattern heuristics; leftover salient words become keywords.
func ParseProductText(raw string) *types.ProductMetadata {
	meta := &types.ProductMetadata{}
	if strings.TrimSpace(raw) == "" {
		return meta
	}

	lines := strings.Split(raw, "\n")
	var freeLines []string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := labelLineRe.FindStringSubmatch(line); m != nil {
			field, ok := labelAliases[strings.ToLower(strings.TrimSpace(m[1]))]
			value := strings.TrimSpace(m[2])
			if ok && value != "" {
				switch field {
				case "name":
					if meta.ProductName == "" {
						meta.ProductName = value
					}
				case "brand":
					if meta.BrandName == "" {
						meta.BrandName = value
					}
				case "size":
					if meta.Size == "" {
						meta.Size = value
					}
				case "category":
					if meta.Category == "" {
						meta.Category = strings.ToLower(value)
					}
				}
				continue
			}
		}
		freeLines = append(freeLines, line)
	}

	for _, line := range freeLines {
		if meta.Size == "" {
			if m := sizeRe.FindString(line); m != "" {
				meta.Size = strings.ToLower(collapseSpaces(m))
			}
		}
		if meta.BrandName == "" && len(line) <= 24 && brandLineRe.MatchString(line) && sizeRe.FindString(line) == "" {
			meta.BrandName = line
		}
	}

	// First substantial free line doubles as the product name when no
	// label provided one.
	if meta.ProductName == "" {
		for _, line := range freeLines {
			if line == meta.BrandName {
				continue
			}
			if len(wordRe.FindAllString(line, -1)) >= 2 {
				meta.ProductName = line
				break
			}
		}
	}

	if meta.Category == "" {
		// first table hit in reading order wins
		for _, w := range strings.Fields(strings.ToLower(raw)) {
			if cat, ok := categoryKeywords[strings.Trim(w, ".,:;!")]; ok {
				meta.Category = cat
				break
			}
		}
	}

	meta.Keywords = extractKeywords(raw, 10)
	return meta
}

func extractKeywords(raw string, limit int) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range wordRe.FindAllString(raw, -1) {
		lw := strings.ToLower(w)
		if stopWords[lw] || seen[lw] {
			continue
		}
		seen[lw] = true
		out = append(out, lw)
		if len(out) >= limit {
			break
		}
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "with": true, "for": true, "net": true,
	"made": true, "from": true, "ingredients": true, "contains": true,
	"keep": true, "refrigerated": true, "best": true, "before": true,
	"serving": true, "per": true, "www": true, "com": true,
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
