// Package features derives per-token auxiliary channels: a casing class from the token's
// shape and globally unique indices for external categorical features.
package features

import (
	"fmt"
	"unicode"
)

// CasingClass is a coarse category of a token's capitalization pattern.
type CasingClass int32

// The casing table is fixed; models trained with it depend on these indices.
const (
	CasingPad CasingClass = iota
	CasingNumeric
	CasingAllLower
	CasingAllUpper
	CasingInitialUpper
	CasingOther
	CasingMainlyNumeric
	CasingContainsDigit
)

var casingNames = [...]string{
	CasingPad:           "<PAD>",
	CasingNumeric:       "numeric",
	CasingAllLower:      "allLower",
	CasingAllUpper:      "allUpper",
	CasingInitialUpper:  "initialUpper",
	CasingOther:         "other",
	CasingMainlyNumeric: "mainly_numeric",
	CasingContainsDigit: "contains_digit",
}

// CasingVocabularySize is the number of casing classes including padding.
const CasingVocabularySize = len(casingNames)

func (c CasingClass) String() string {
	if c < 0 || int(c) >= len(casingNames) {
		return fmt.Sprintf("CasingClass(%d)", int32(c))
	}
	return casingNames[c]
}

// ParseCasing returns the class named name.
func ParseCasing(name string) (CasingClass, error) {
	for i, n := range casingNames {
		if n == name {
			return CasingClass(i), nil
		}
	}
	return CasingPad, fmt.Errorf("unknown casing class %q", name)
}

// Casing classifies token by shape only. The empty token is padding.
func Casing(token string) CasingClass {
	if token == "" {
		return CasingPad
	}
	var total, digits, lower, upper int
	allDigits := true
	for _, r := range token {
		total++
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLower(r):
			lower++
		case unicode.IsUpper(r):
			upper++
		}
		if !unicode.IsDigit(r) {
			allDigits = false
		}
	}
	first := []rune(token)[0]
	switch {
	case allDigits:
		return CasingNumeric
	case float64(digits)/float64(total) > 0.5:
		return CasingMainlyNumeric
	// cased letters all in one case, other runes ignored
	case lower > 0 && upper == 0:
		return CasingAllLower
	case upper > 0 && lower == 0:
		return CasingAllUpper
	case unicode.IsUpper(first):
		return CasingInitialUpper
	case digits > 0:
		return CasingContainsDigit
	}
	return CasingOther
}

// CasingSequence classifies tokens into a row of maxLength, zero (padding) past the tokens.
// Tokens beyond maxLength are dropped.
func CasingSequence(tokens []string, maxLength int) []int32 {
	row := make([]int32, maxLength)
	for i, tok := range tokens {
		if i >= maxLength {
			break
		}
		row[i] = int32(Casing(tok))
	}
	return row
}
