package slug

import (
	"errors"
	"strings"
	"testing"
)

func TestMake_Simple(t *testing.T) {
	s, err := Make("Will it rain?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != "will-it-rain" {
		t.Errorf("expected will-it-rain, got %q", s)
	}
}

func TestMake_CollapsesPunctuation(t *testing.T) {
	s, err := Make("BTC > $100k -- by 2027?!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != "btc-100k-by-2027" {
		t.Errorf("expected btc-100k-by-2027, got %q", s)
	}
}

func TestMake_EmptyTitle(t *testing.T) {
	_, err := Make("???")
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestMake_TruncatesLongTitles(t *testing.T) {
	s, err := Make(strings.Repeat("word ", 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) > MaxLen {
		t.Errorf("slug exceeds MaxLen: %d", len(s))
	}
	if err := Validate(s); err != nil {
		t.Errorf("truncated slug should still validate: %v", err)
	}
}

func TestValidate_Valid(t *testing.T) {
	for _, s := range []string{"will-it-rain", "a", "x1-y2-z3", "2026-election"} {
		if err := Validate(s); err != nil {
			t.Errorf("expected %q to validate, got %v", s, err)
		}
	}
}

func TestValidate_Invalid(t *testing.T) {
	for _, s := range []string{"", "Will-It-Rain", "double--hyphen", "-leading", "trailing-", "spa ce", "under_score"} {
		if err := Validate(s); err == nil {
			t.Errorf("expected %q to be rejected", s)
		}
	}
}

func TestValidate_TooLong(t *testing.T) {
	s := strings.Repeat("a", MaxLen+1)
	if err := Validate(s); !errors.Is(err, ErrTooLong) {
		t.Errorf("expected ErrTooLong, got %v", err)
	}
}

func TestMake_RoundTripsThroughValidate(t *testing.T) {
	titles := []string{
		"Will it rain?",
		"  Spaces   everywhere  ",
		"UPPER lower 123",
	}
	for _, title := range titles {
		s, err := Make(title)
		if err != nil {
			t.Fatalf("Make(%q): %v", title, err)
		}
		if err := Validate(s); err != nil {
			t.Errorf("Make(%q) = %q should validate, got %v", title, s, err)
		}
	}
}
