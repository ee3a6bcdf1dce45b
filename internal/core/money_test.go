package core

import "testing"

func TestParseLenient(t *testing.T) {
	cases := []struct {
		in  string
		out float64
		ok  bool
	}{
		{"45.00", 45, true},
		{"45", 45, true},
		{"12,34", 0, false},
		{"1,2,3", 0, false},
		{"1,234.50", 0, false},
		{" 2.50 ", 2.5, true},
		{"45.00 only", 45, true},
		{"20/-", 20, true},
		{"45.", 45, true},
		{"abc", 0, false},
		{"", 0, false},
		{"1.2.3", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseLenient(tc.in)
		if ok != tc.ok {
			t.Fatalf("%q expected ok=%v, got %v", tc.in, tc.ok, ok)
		}
		if ok && got != tc.out {
			t.Fatalf("%q expected %v, got %v", tc.in, tc.out, got)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	cases := map[float64]string{
		0:       "0.00",
		45:      "45.00",
		12.346:  "12.35",
		0.1:     "0.10",
		1999.99: "1999.99",
	}
	for in, want := range cases {
		if got := FormatPrice(in); got != want {
			t.Fatalf("FormatPrice(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestSumPrices(t *testing.T) {
	items := []LineItem{
		{Descriptor: Descriptor{Name: "a", Price: 0.1}},
		{Descriptor: Descriptor{Name: "b", Price: 0.2}},
		{Descriptor: Descriptor{Name: "c", Price: 45}},
	}
	if got := SumPrices(items); got != 45.3 {
		t.Fatalf("expected 45.3, got %v", got)
	}
	if got := SumPrices(nil); got != 0 {
		t.Fatalf("expected 0 for empty, got %v", got)
	}
}
