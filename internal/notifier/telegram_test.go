package notifier

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/bazaar/internal/db"
	"horse.fit/bazaar/internal/verify"
)

func TestFormatMatch(t *testing.T) {
	t.Parallel()

	text := FormatMatch(db.Post{
		GroupTitle: "Барахолка Берлин",
		Text:       "Продам велосипед, состояние отличное",
	}, verify.Result{Reason: "text describes a road bike"})

	if !strings.Contains(text, "«Барахолка Берлин»") {
		t.Fatalf("missing group title: %q", text)
	}
	if !strings.Contains(text, "Продам велосипед") {
		t.Fatalf("missing post text: %q", text)
	}
	if !strings.Contains(text, "text describes a road bike") {
		t.Fatalf("missing reason: %q", text)
	}
}

func TestFormatMatchWithoutTitleOrReason(t *testing.T) {
	t.Parallel()

	text := FormatMatch(db.Post{Text: "Продам велосипед"}, verify.Result{})
	if strings.Contains(text, "«") {
		t.Fatalf("unexpected title quotes: %q", text)
	}
	if !strings.HasPrefix(text, "Найдено объявление:") {
		t.Fatalf("unexpected prefix: %q", text)
	}
}

func TestExcerptTruncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("а", excerptLimit+50)
	got := excerpt(long)
	if len([]rune(got)) != excerptLimit+1 {
		t.Fatalf("excerpt length = %d runes", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("excerpt should end with ellipsis: %q", got[len(got)-10:])
	}
}

func TestNewTelegramRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	if _, err := NewTelegram("  ", zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
