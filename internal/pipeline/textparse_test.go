package pipeline

import "testing"

func TestParseProductTextLabelLinesTakePriority(t *testing.T) {
	raw := "Brand: Tillamook\nProduct: Sharp Cheddar Cheese\nSize: 8 oz\nCategory: Dairy\nKEEP REFRIGERATED"
	meta := ParseProductText(raw)

	if meta.BrandName != "Tillamook" {
		t.Fatalf("brand: %q", meta.BrandName)
	}
	if meta.ProductName != "Sharp Cheddar Cheese" {
		t.Fatalf("name: %q", meta.ProductName)
	}
	if meta.Size != "8 oz" {
		t.Fatalf("size: %q", meta.Size)
	}
	if meta.Category != "dairy" {
		t.Fatalf("category: %q", meta.Category)
	}
}

func TestParseProductTextSizeHeuristics(t *testing.T) {
	cases := map[string]string{
		"Whole Milk\n16.9 fl oz bottle": "16.9 fl oz",
		"Rolled Oats\nNET 500 g":        "500 g",
		"Orange Juice 1.5 L":            "1.5 l",
		"Eggs large 12 count":           "12 count",
	}
	for raw, want := range cases {
		meta := ParseProductText(raw)
		if meta.Size != want {
			t.Fatalf("size for %q: want=%q got=%q", raw, want, meta.Size)
		}
	}
}

func TestParseProductTextBrandHeuristic(t *testing.T) {
	meta := ParseProductText("KIND\nDark Chocolate Nuts Sea Salt bar\n40 g")
	if meta.BrandName != "KIND" {
		t.Fatalf("brand: %q", meta.BrandName)
	}
	if meta.ProductName != "Dark Chocolate Nuts Sea Salt bar" {
		t.Fatalf("name: %q", meta.ProductName)
	}
}

func TestParseProductTextCategoryKeywordTable(t *testing.T) {
	meta := ParseProductText("Crunchy Corn Flakes Cereal\nfamily size")
	if meta.Category != "breakfast" {
		t.Fatalf("category: %q", meta.Category)
	}
	// the first table hit in reading order wins when several match
	meta = ParseProductText("Peanut Butter Cereal Bars")
	if meta.Category != "dairy" {
		t.Fatalf("reading-order category: %q", meta.Category)
	}
}

func TestParseProductTextEmptyInput(t *testing.T) {
	meta := ParseProductText("   \n  ")
	if !meta.Empty() {
		t.Fatalf("expected empty metadata, got %+v", meta)
	}
}

func TestParseProductTextKeywordsExcludeStopWords(t *testing.T) {
	meta := ParseProductText("Organic Almond Milk made with the best ingredients")
	for _, kw := range meta.Keywords {
		if kw == "the" || kw == "with" || kw == "made" || kw == "ingredients" {
			t.Fatalf("stop word leaked into keywords: %q", kw)
		}
	}
	if len(meta.Keywords) == 0 {
		t.Fatalf("expected keywords")
	}
}
