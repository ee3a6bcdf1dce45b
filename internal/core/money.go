// Package core provides money parsing and handling utilities.
//
// This file contains the rounding and formatting rules used for line-item
// prices. Prices are float64 rupee amounts; sums go through integer paise
// to avoid accumulating floating-point drift.
package core

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ToCents converts an amount to integer hundredths with half-away-from-zero rounding.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromCents converts integer hundredths back to an amount.
func FromCents(cents int64) float64 {
	return float64(cents) / 100.0
}

// Round2 rounds an amount to two decimals.
func Round2(amount float64) float64 {
	return FromCents(ToCents(amount))
}

// FormatPrice renders an amount with exactly two decimals and a '.' separator,
// independent of any locale.
//
// Examples:
//
//	FormatPrice(45)      -> "45.00"
//	FormatPrice(12.346)  -> "12.35"
func FormatPrice(amount float64) string {
	return strconv.FormatFloat(Round2(amount), 'f', 2, 64)
}

// ParseLenient parses the leading number of s after trimming trailing
// non-numeric characters. Only '.' is a decimal separator. ok is false when
// what remains does not parse.
//
// Examples:
//
//	ParseLenient("45.00")     -> 45, true
//	ParseLenient("45.00 /-")  -> 45, true
//	ParseLenient("12,34")     -> 0, false
//	ParseLenient("abc")       -> 0, false
func ParseLenient(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r)
	})
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
