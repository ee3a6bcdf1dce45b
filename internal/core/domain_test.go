package core

import (
	"math"
	"strings"
	"testing"
)

func TestDescriptorValidate(t *testing.T) {
	good := Descriptor{Name: "Milk", Quantity: QuantityOf("2L"), Price: 45}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Descriptor{
		{Name: "", Price: 1},
		{Name: "   ", Price: 1},
		{Name: strings.Repeat("x", 201), Price: 1},
		{Name: "a", Price: -1},
		{Name: "a", Price: math.NaN()},
		{Name: "a", Price: math.Inf(1)},
	}
	for i, d := range bads {
		if err := d.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestQuantityOf(t *testing.T) {
	if QuantityOf("  ") != nil {
		t.Fatalf("blank quantity should be nil")
	}
	q := QuantityOf(" 2L ")
	if q == nil || *q != "2L" {
		t.Fatalf("expected trimmed 2L, got %v", q)
	}
	if (Descriptor{}).QuantityText() != "" {
		t.Fatalf("absent quantity should render empty")
	}
}

func TestLineItemCloneDoesNotAlias(t *testing.T) {
	orig := LineItem{
		Descriptor: Descriptor{Name: "Milk", Quantity: QuantityOf("1L"), Categories: []string{"Food"}},
		ImageRefs:  []string{"img-1"},
	}
	c := orig.Clone()
	c.Categories[0] = "Changed"
	c.ImageRefs[0] = "img-2"
	*c.Quantity = "2L"
	if orig.Categories[0] != "Food" || orig.ImageRefs[0] != "img-1" || *orig.Quantity != "1L" {
		t.Fatalf("clone aliased original: %+v", orig)
	}
}

func TestHasCategory(t *testing.T) {
	d := Descriptor{Categories: []string{"Groceries", " Food "}}
	if !d.HasCategory("Food") || !d.HasCategory("Groceries") {
		t.Fatalf("expected categories to match")
	}
	if d.HasCategory("food") {
		t.Fatalf("match should be case-sensitive")
	}
}

func TestTierString(t *testing.T) {
	if Primary.String() != "primary" || Secondary.String() != "secondary" || Tertiary.String() != "tertiary" {
		t.Fatalf("unexpected tier names")
	}
	if len(Tiers()) != 3 {
		t.Fatalf("expected three tiers")
	}
}
