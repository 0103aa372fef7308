// Package nit handles Colombian tax identifiers (NIT and cédula).
package nit

import (
	"fmt"
	"strings"
	"unicode"
)

// Identification type codes used by the ledger's third-party records.
const (
	TypeNIT    = "31"
	TypeCedula = "13"
)

// Weights applied to the first nine digits, left to right (DIAN mod-11 rule).
var weights = [9]int{41, 37, 29, 23, 19, 17, 13, 7, 3}

// Digits returns only the decimal digits of s.
func Digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// Normalize strips punctuation and a trailing "-d" check digit.
// "900.123.456-7" becomes "900123456".
func Normalize(taxID string) string {
	taxID = strings.TrimSpace(taxID)
	if i := strings.LastIndex(taxID, "-"); i > 0 && len(Digits(taxID[i+1:])) == 1 {
		taxID = taxID[:i]
	}
	return Digits(taxID)
}

// CheckDigit computes the verification digit of the first nine digits of taxID.
func CheckDigit(taxID string) (byte, error) {
	digits := Digits(taxID)
	if len(digits) < 9 {
		return 0, fmt.Errorf("nit: need at least 9 digits, got %d", len(digits))
	}
	var sum int
	for i := 0; i < 9; i++ {
		sum += int(digits[i]-'0') * weights[i]
	}
	remainder := sum % 11
	if remainder == 0 || remainder == 1 {
		return byte('0' + remainder), nil
	}
	return byte('0' + (11 - remainder)), nil
}

// Valid reports whether a 10-digit taxID ends with a correct check digit.
func Valid(taxID string) bool {
	digits := Digits(taxID)
	if len(digits) != 10 {
		return false
	}
	expected, err := CheckDigit(digits)
	return err == nil && digits[9] == expected
}

// Classify returns TypeNIT for company identifiers and TypeCedula otherwise.
// Company NITs have nine digits starting with 8 or 9, optionally followed by a valid check digit.
func Classify(taxID string) string {
	digits := Digits(taxID)
	if len(digits) == 0 || (digits[0] != '8' && digits[0] != '9') {
		return TypeCedula
	}
	switch len(digits) {
	case 9:
		return TypeNIT
	case 10:
		if Valid(digits) {
			return TypeNIT
		}
	}
	return TypeCedula
}
