package tokenutil

import (
	"strings"
	"testing"
)

func TestCountTokensEmpty(t *testing.T) {
	if got := CountTokens(""); got != 0 {
		t.Errorf("CountTokens(\"\") = %d, want 0", got)
	}
}

func TestCountTokensGrowsWithText(t *testing.T) {
	short := CountTokens("hello")
	long := CountTokens(strings.Repeat("hello world ", 100))
	if short <= 0 {
		t.Errorf("short count = %d, want > 0", short)
	}
	if long <= short {
		t.Errorf("long count = %d, want > %d", long, short)
	}
}

func TestTruncateToTokensUnderLimitUnchanged(t *testing.T) {
	text := "a short line"
	if got := TruncateToTokens(text, 1000); got != text {
		t.Errorf("TruncateToTokens() = %q, want unchanged", got)
	}
}

func TestTruncateToTokensCutsLongText(t *testing.T) {
	text := strings.Repeat("hello world ", 200)
	got := TruncateToTokens(text, 10)
	if len(got) >= len(text) {
		t.Fatal("text was not truncated")
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated text missing ellipsis: %q", got[len(got)-10:])
	}
	if CountTokens(strings.TrimSuffix(got, "...")) > 10 {
		t.Errorf("truncated text still above the limit")
	}
}

func TestTruncateToTokensNonPositiveLimit(t *testing.T) {
	if got := TruncateToTokens("abc", 0); got != "abc" {
		t.Errorf("TruncateToTokens(0) = %q", got)
	}
}
