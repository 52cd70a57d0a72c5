package pipeline

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shelfsight/shelfsight-backend/internal/clients/barcodelookup"
	"github.com/shelfsight/shelfsight-backend/internal/types"
)

// Per-format validation patterns for discovery candidates. A candidate
// whose barcode does not match its declared format is discarded.
var barcodeFormats = map[string]*regexp.Regexp{
	"UPC-A":    regexp.MustCompile(`^\d{12}$`),
	"UPC_A":    regexp.MustCompile(`^\d{12}$`),
	"EAN-13":   regexp.MustCompile(`^\d{13}$`),
	"EAN_13":   regexp.MustCompile(`^\d{13}$`),
	"EAN-8":    regexp.MustCompile(`^\d{8}$`),
	"EAN_8":    regexp.MustCompile(`^\d{8}$`),
	"UPC-E":    regexp.MustCompile(`^\d{8}$`),
	"UPC_E":    regexp.MustCompile(`^\d{8}$`),
	"ITF-14":   regexp.MustCompile(`^\d{14}$`),
	"ITF_14":   regexp.MustCompile(`^\d{14}$`),
	"CODE-39":  regexp.MustCompile(`^[0-9A-Z\-. $/+%]{1,43}$`),
	"CODE_39":  regexp.MustCompile(`^[0-9A-Z\-. $/+%]{1,43}$`),
	"CODE-128": regexp.MustCompile(`^[\x20-\x7e]{1,48}$`),
	"CODE_128": regexp.MustCompile(`^[\x20-\x7e]{1,48}$`),
}

// anyNumericFormat covers candidates with no declared format: plain
// retail barcode lengths only.
var anyNumericFormat = regexp.MustCompile(`^\d{8}$|^\d{12,14}$`)

func ValidBarcodeFormat(barcode, format string) bool {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return false
	}
	format = strings.ToUpper(strings.TrimSpace(format))
	if format == "" {
		return anyNumericFormat.MatchString(barcode)
	}
	re, ok := barcodeFormats[format]
	if !ok {
		return false
	}
	return re.MatchString(barcode)
}

// JaccardSimilarity is word-set overlap: intersection over union of the
// whitespace-tokenized, lower-cased word sets.
func JaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

type rankedCandidate struct {
	barcodelookup.Candidate
	Score float64
}

// rankCandidates discards invalid-format candidates and re-ranks the
// rest against the extracted metadata:
// baseConfidence + 0.3*nameSimilarity + 0.2*brandSimilarity, capped at 1.
func rankCandidates(candidates []barcodelookup.Candidate, meta *types.ProductMetadata) []rankedCandidate {
	out := make([]rankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !ValidBarcodeFormat(c.Barcode, c.Format) {
			continue
		}
		score := c.Confidence
		if meta != nil {
			score += 0.3 * JaccardSimilarity(meta.ProductName, c.ProductName)
			score += 0.2 * JaccardSimilarity(meta.BrandName, c.Brand)
		}
		if score > 1.0 {
			score = 1.0
		}
		out = append(out, rankedCandidate{Candidate: c, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
