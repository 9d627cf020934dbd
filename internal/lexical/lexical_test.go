package lexical

import (
	"testing"

	"horse.fit/bazaar/internal/textnorm"
)

func TestJaccardBothEmpty(t *testing.T) {
	t.Parallel()

	if got := Jaccard(nil, nil); got != 1 {
		t.Fatalf("Jaccard(nil, nil) = %f, want 1", got)
	}
}

func TestJaccardOneEmpty(t *testing.T) {
	t.Parallel()

	grams := textnorm.Trigrams("велосипед")
	if got := Jaccard(nil, grams); got != 0 {
		t.Fatalf("Jaccard(nil, set) = %f, want 0", got)
	}
	if got := Jaccard(grams, nil); got != 0 {
		t.Fatalf("Jaccard(set, nil) = %f, want 0", got)
	}
}

func TestJaccardIdentical(t *testing.T) {
	t.Parallel()

	grams := textnorm.Trigrams("детская коляска")
	if got := Jaccard(grams, grams); got != 1 {
		t.Fatalf("Jaccard(x, x) = %f, want 1", got)
	}
}

func TestJaccardPartialOverlap(t *testing.T) {
	t.Parallel()

	left := textnorm.Trigrams("запчасти")
	right := textnorm.Trigrams("запчастии")

	got := Jaccard(left, right)
	want := 6.0 / 7.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("Jaccard = %f, want %f", got, want)
	}
}

func TestKeywordScoreFullyContained(t *testing.T) {
	t.Parallel()

	score := KeywordScore("продам велосипед в отличном состоянии", []string{"велосипед"})
	if score != 1 {
		t.Fatalf("KeywordScore = %f, want 1", score)
	}
}

func TestKeywordScoreAveragesAcrossKeywords(t *testing.T) {
	t.Parallel()

	// One keyword fully contained, one entirely absent.
	score := KeywordScore("продам велосипед", []string{"велосипед", "самокат"})
	if score != 0.5 {
		t.Fatalf("KeywordScore = %f, want 0.5", score)
	}
}

func TestKeywordScoreIgnoresBlankKeywords(t *testing.T) {
	t.Parallel()

	score := KeywordScore("продам велосипед", []string{"велосипед", "  "})
	if score != 1 {
		t.Fatalf("KeywordScore = %f, want 1", score)
	}
}

func TestKeywordScoreShortKeywordSubstringFallback(t *testing.T) {
	t.Parallel()

	if score := KeywordScore("ps 5 в продаже", []string{"ps"}); score != 1 {
		t.Fatalf("KeywordScore short keyword present = %f, want 1", score)
	}
	if score := KeywordScore("продам велосипед", []string{"tv"}); score != 0 {
		t.Fatalf("KeywordScore short keyword absent = %f, want 0", score)
	}
}

func TestKeywordScoreUnscorableText(t *testing.T) {
	t.Parallel()

	if score := KeywordScore("ab", []string{"велосипед"}); score != 0 {
		t.Fatalf("KeywordScore on too-short text = %f, want 0", score)
	}
	if score := KeywordScore("продам велосипед", nil); score != 0 {
		t.Fatalf("KeywordScore without keywords = %f, want 0", score)
	}
}

func TestContainsNegativeSubstring(t *testing.T) {
	t.Parallel()

	keyword, hit := ContainsNegative("продам велосипед на запчасти", []string{"запчасти"}, 0.85)
	if !hit || keyword != "запчасти" {
		t.Fatalf("ContainsNegative = (%q, %v), want (запчасти, true)", keyword, hit)
	}
}

func TestContainsNegativeBridgesTypo(t *testing.T) {
	t.Parallel()

	// "запчастии" shares 6 of 7 trigrams with "запчасти".
	keyword, hit := ContainsNegative("продам велосипед на запчастии", []string{"запчасти"}, 0.85)
	if !hit || keyword != "запчасти" {
		t.Fatalf("ContainsNegative = (%q, %v), want bridge hit", keyword, hit)
	}
}

func TestContainsNegativePhraseWindow(t *testing.T) {
	t.Parallel()

	_, hit := ContainsNegative("отдам детскую коляску даром", []string{"детская коляска"}, 0.5)
	if !hit {
		t.Fatal("ContainsNegative should bridge the inflected phrase at a relaxed threshold")
	}
}

func TestContainsNegativeNoFalseHit(t *testing.T) {
	t.Parallel()

	keyword, hit := ContainsNegative("продам велосипед почти новый", []string{"самокат"}, 0.85)
	if hit {
		t.Fatalf("ContainsNegative unexpectedly hit %q", keyword)
	}
}

func TestContainsNegativeEmptyInputs(t *testing.T) {
	t.Parallel()

	if _, hit := ContainsNegative("продам велосипед", nil, 0.85); hit {
		t.Fatal("ContainsNegative with no negatives should not hit")
	}
	if _, hit := ContainsNegative("   ", []string{"запчасти"}, 0.85); hit {
		t.Fatal("ContainsNegative on blank text should not hit")
	}
	if _, hit := ContainsNegative("продам велосипед", []string{"  "}, 0.85); hit {
		t.Fatal("ContainsNegative with blank negative should not hit")
	}
}
