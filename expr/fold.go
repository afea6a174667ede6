package expr

import (
	"strings"

	"golang.org/x/text/cases"
)

// Fold returns the Unicode case folding of s. Case-insensitive text lookups
// compare folded strings, both in memory and in databases that cannot fold
// beyond ASCII on their own.
func Fold(s string) string { return folder.String(s) }

// The folding Caser is stateless.
var folder = cases.Fold()

// CompareFolded compares a and b by their case foldings.
func CompareFolded(a, b string) int { return strings.Compare(Fold(a), Fold(b)) }
