package pipeline

import (
	"testing"

	"github.com/shelfsight/shelfsight-backend/internal/clients/barcodelookup"
	"github.com/shelfsight/shelfsight-backend/internal/types"
)

func TestValidBarcodeFormat(t *testing.T) {
	cases := []struct {
		barcode string
		format  string
		want    bool
	}{
		{"ABC", "EAN-13", false},
		{"0123456789012", "EAN-13", true},
		{"012345678901", "UPC-A", true},
		{"01234567890", "UPC-A", false},
		{"01234567", "EAN-8", true},
		{"0123456789012", "UPC-A", false},
		{"01234567890123", "ITF-14", true},
		{"ABC-123", "CODE-39", true},
		{"012345678901", "", true},
		{"0123456789", "", false},
		{"", "EAN-13", false},
	}
	for _, tc := range cases {
		if got := ValidBarcodeFormat(tc.barcode, tc.format); got != tc.want {
			t.Fatalf("ValidBarcodeFormat(%q, %q): want=%v got=%v", tc.barcode, tc.format, tc.want, got)
		}
	}
}

func TestJaccardSimilarity(t *testing.T) {
	if s := JaccardSimilarity("organic whole milk", "Organic Whole Milk"); s != 1.0 {
		t.Fatalf("identical word sets: %f", s)
	}
	if s := JaccardSimilarity("organic milk", "organic almond milk"); s < 0.6 || s > 0.7 {
		t.Fatalf("2/3 overlap: %f", s)
	}
	if s := JaccardSimilarity("bread", "cereal"); s != 0 {
		t.Fatalf("disjoint sets: %f", s)
	}
	if s := JaccardSimilarity("", "milk"); s != 0 {
		t.Fatalf("empty input: %f", s)
	}
}

func TestRankCandidatesDiscardsInvalidAndRanksBySimilarity(t *testing.T) {
	meta := &types.ProductMetadata{ProductName: "Organic Milk", BrandName: "Happy Farms"}
	candidates := []barcodelookup.Candidate{
		{Barcode: "ABC", Format: "EAN-13", ProductName: "Organic Milk", Confidence: 0.9},
		{Barcode: "0123456789012", Format: "EAN-13", ProductName: "Organic Milk", Brand: "Happy Farms", Confidence: 0.5},
		{Barcode: "012345678901", Format: "UPC-A", ProductName: "Dish Soap", Brand: "CleanCo", Confidence: 0.6},
	}

	ranked := rankCandidates(candidates, meta)
	if len(ranked) != 2 {
		t.Fatalf("invalid-format candidate not discarded: %d ranked", len(ranked))
	}
	// 0.5 + 0.3*1.0 + 0.2*1.0 = 1.0 beats 0.6 + 0 + 0
	if ranked[0].Barcode != "0123456789012" {
		t.Fatalf("winner: %q", ranked[0].Barcode)
	}
	if ranked[0].Score != 1.0 {
		t.Fatalf("winner score: %f", ranked[0].Score)
	}
}

func TestRankCandidatesCapsScoreAtOne(t *testing.T) {
	meta := &types.ProductMetadata{ProductName: "Cola", BrandName: "Fizz"}
	ranked := rankCandidates([]barcodelookup.Candidate{
		{Barcode: "0123456789012", Format: "EAN-13", ProductName: "Cola", Brand: "Fizz", Confidence: 0.95},
	}, meta)
	if len(ranked) != 1 || ranked[0].Score != 1.0 {
		t.Fatalf("score not capped: %+v", ranked)
	}
}
