package pipeline

import (
	"math"
	"sort"
	"strings"

	"github.com/shelfsight/shelfsight-backend/internal/clients/gcp"
	"github.com/shelfsight/shelfsight-backend/internal/types"
)

var packagingLabels = map[string]bool{
	"bottle": true, "can": true, "box": true, "jar": true, "bag": true,
	"carton": true, "pouch": true, "tube": true, "tin": true, "wrapper": true,
}

var shapeLabels = map[string]bool{
	"cylinder": true, "rectangle": true, "square": true, "round": true,
	"oval": true,
}

// metadataFromAnalysis derives ProductMetadata, visual characteristics
// and a single confidence score from the raw structured annotations.
func metadataFromAnalysis(res *gcp.AnalysisResult) (*types.ProductMetadata, float64) {
	if res == nil {
		return &types.ProductMetadata{}, 0
	}

	// the on-package text carries the most specific signals
	meta := ParseProductText(res.Text)

	if meta.BrandName == "" && len(res.Logos) > 0 {
		top := res.Logos[0]
		for _, lo := range res.Logos[1:] {
			if lo.Score > top.Score {
				top = lo
			}
		}
		meta.BrandName = top.Description
	}

	visual := &types.VisualCharacteristics{}
	for _, la := range res.Labels {
		desc := strings.ToLower(la.Description)
		if packagingLabels[desc] && visual.Packaging == "" {
			visual.Packaging = desc
		}
		if shapeLabels[desc] && visual.Shape == "" {
			visual.Shape = desc
		}
		if meta.Category == "" {
			if cat, ok := categoryKeywords[desc]; ok {
				meta.Category = cat
			}
		}
		if len(meta.Keywords) < 10 && !containsFold(meta.Keywords, desc) {
			meta.Keywords = append(meta.Keywords, desc)
		}
	}
	visual.Colors = dominantColorNames(res.Colors, 3)
	if len(visual.Colors) > 0 || visual.Packaging != "" || visual.Shape != "" {
		meta.Visual = visual
	}

	if meta.ProductName == "" && len(res.Labels) > 0 {
		meta.ProductName = res.Labels[0].Description
	}

	return meta, analysisConfidence(res)
}

// analysisConfidence blends label scores with the presence of stronger
// signals (logo, readable text) into a [0,1] estimate.
func analysisConfidence(res *gcp.AnalysisResult) float64 {
	if res == nil {
		return 0
	}
	var labelScore float64
	if n := len(res.Labels); n > 0 {
		top := res.Labels
		sort.SliceStable(top, func(i, j int) bool { return top[i].Score > top[j].Score })
		k := 3
		if n < k {
			k = n
		}
		var sum float64
		for i := 0; i < k; i++ {
			sum += top[i].Score
		}
		labelScore = sum / float64(k)
	}

	conf := 0.6 * labelScore
	if len(res.Logos) > 0 {
		conf += 0.25 * res.Logos[0].Score
	}
	if strings.TrimSpace(res.Text) != "" {
		conf += 0.15
	}
	return math.Min(1, conf)
}

type namedColor struct {
	name    string
	r, g, b int
}

var colorPalette = []namedColor{
	{"white", 255, 255, 255},
	{"black", 0, 0, 0},
	{"gray", 128, 128, 128},
	{"red", 220, 40, 40},
	{"green", 40, 160, 60},
	{"blue", 40, 80, 200},
	{"yellow", 240, 220, 50},
	{"orange", 240, 140, 30},
	{"brown", 120, 80, 40},
	{"purple", 130, 60, 170},
	{"pink", 240, 150, 190},
}

func dominantColorNames(colors []gcp.DominantColor, limit int) []string {
	sorted := append([]gcp.DominantColor(nil), colors...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Fraction > sorted[j].Fraction })

	var out []string
	for _, c := range sorted {
		name := nearestColorName(c.Red, c.Green, c.Blue)
		if !containsFold(out, name) {
			out = append(out, name)
		}
		if len(out) >= limit {
			break
		}
	}
	return out
}

func nearestColorName(r, g, b int) string {
	best := colorPalette[0].name
	bestDist := math.MaxFloat64
	for _, nc := range colorPalette {
		dr := float64(r - nc.r)
		dg := float64(g - nc.g)
		db := float64(b - nc.b)
		d := dr*dr + dg*dg + db*db
		if d < bestDist {
			bestDist = d
			best = nc.name
		}
	}
	return best
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
