package vectordb

import (
	"errors"
	"testing"
)

func TestCollectionName(t *testing.T) {
	got := CollectionName("abc123", 768)
	want := "pabc123_d768"
	if got != want {
		t.Errorf("CollectionName: expected %q, got %q", want, got)
	}
}

func TestCollectionName_SanitizesProjectID(t *testing.T) {
	// Record IDs can carry characters that are not identifier-safe
	got := CollectionName("proj-7f3a", 384)
	want := "pproj_7f3a_d384"
	if got != want {
		t.Errorf("CollectionName: expected %q, got %q", want, got)
	}
}

func TestValidateCollectionName(t *testing.T) {
	valid := []string{"p1_d768", "collection", "A_b_C", "_internal"}
	for _, name := range valid {
		if err := ValidateCollectionName(name); err != nil {
			t.Errorf("ValidateCollectionName(%q): unexpected error %v", name, err)
		}
	}

	invalid := []string{
		"",
		"1starts_with_digit",
		"has-dash",
		"has space",
		`quote"injection`,
		"semi;colon",
		"p1_d768_with_a_suffix_that_makes_the_name_longer_than_sixty_three_characters",
	}
	for _, name := range invalid {
		if err := ValidateCollectionName(name); !errors.Is(err, ErrInvalidCollectionName) {
			t.Errorf("ValidateCollectionName(%q): expected ErrInvalidCollectionName, got %v", name, err)
		}
	}
}

func TestValidateVectors(t *testing.T) {
	docs := []Document{
		{ID: "a", Vector: []float32{1, 2, 3}},
		{ID: "b", Vector: []float32{4, 5, 6}},
	}
	if err := validateVectors(docs, 3); err != nil {
		t.Fatalf("validateVectors: unexpected error %v", err)
	}

	docs[1].Vector = []float32{4, 5}
	if err := validateVectors(docs, 3); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("validateVectors: expected ErrDimensionMismatch, got %v", err)
	}

	docs[1].Vector = []float32{4, 5, 6}
	docs[0].ID = ""
	if err := validateVectors(docs, 3); err == nil {
		t.Error("validateVectors: expected error for empty document ID")
	}
}

func TestVectorLiteral(t *testing.T) {
	got := vectorLiteral([]float32{0.5, -1, 2.25})
	want := "[0.5,-1,2.25]"
	if got != want {
		t.Errorf("vectorLiteral: expected %q, got %q", want, got)
	}

	if got := vectorLiteral(nil); got != "[]" {
		t.Errorf("vectorLiteral(nil): expected %q, got %q", "[]", got)
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent("p1_d768"); got != `"p1_d768"` {
		t.Errorf("quoteIdent: got %q", got)
	}
	// Validation rejects quotes already; quoting still neutralizes them
	if got := quoteIdent(`a"b`); got != `"a""b"` {
		t.Errorf("quoteIdent: got %q", got)
	}
}

func TestRecordIDForDoc_Stable(t *testing.T) {
	a := recordIDForDoc("p1_d768", "chunk:42")
	b := recordIDForDoc("p1_d768", "chunk:42")
	if a != b {
		t.Errorf("recordIDForDoc: expected stable IDs, got %q and %q", a, b)
	}

	other := recordIDForDoc("p2_d768", "chunk:42")
	if a == other {
		t.Error("recordIDForDoc: expected distinct IDs across collections")
	}
}
