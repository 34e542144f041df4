package wise

import "strings"

// ValidateIBAN runs the ISO 13616 checksum over an account number with
// spaces already stripped. It answers whether the string is a plausible
// IBAN, nothing more; a true result only means the check digits agree.
func ValidateIBAN(iban string) bool {
	iban = strings.ToUpper(iban)
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	for _, r := range iban[:2] {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	for _, r := range iban[2:4] {
		if r < '0' || r > '9' {
			return false
		}
	}

	// Move the country code and check digits to the end, expand letters
	// to two-digit numbers, and take the whole thing mod 97.
	rearranged := iban[4:] + iban[:4]
	mod := 0
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			mod = (mod*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			v := int(r-'A') + 10
			mod = (mod*100 + v) % 97
		default:
			return false
		}
	}
	return mod == 1
}
