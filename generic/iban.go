package generic

import (
	"strings"
	"unicode"
)

// =============================================================================
// BANKING IDENTIFIERS
// =============================================================================

// NormalizeIBAN strips spaces and upper-cases.
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.Join(strings.Fields(iban), ""))
}

// ValidIBAN checks length, country prefix and the ISO 13616 mod-97 checksum.
func ValidIBAN(iban string) bool {
	s := NormalizeIBAN(iban)
	if len(s) < 15 || len(s) > 34 {
		return false
	}
	if !unicode.IsLetter(rune(s[0])) || !unicode.IsLetter(rune(s[1])) {
		return false
	}
	rearranged := s[4:] + s[:4]
	rem := 0
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			rem = (rem*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			v := int(r-'A') + 10
			rem = (rem*100 + v) % 97
		default:
			return false
		}
	}
	return rem == 1
}

// ValidBIC checks the 8 or 11 character ISO 9362 shape.
func ValidBIC(bic string) bool {
	s := strings.ToUpper(strings.TrimSpace(bic))
	if len(s) != 8 && len(s) != 11 {
		return false
	}
	for i, r := range s {
		switch {
		case i < 6 && !(r >= 'A' && r <= 'Z'):
			return false
		case i >= 6 && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9'):
			return false
		}
	}
	return true
}

// SEPAText maps free text onto the SEPA Latin character set and truncates
// it to max runes. Accented letters lose their accent, anything else outside
// the set becomes a space.
func SEPAText(s string, max int) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n >= max {
			break
		}
		r = foldAccent(r)
		if !strings.ContainsRune(sepaTextChars, r) {
			r = ' '
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}

const sepaTextChars = sepaIDChars + " "

func foldAccent(r rune) rune {
	switch r {
	case 'à', 'â', 'ä', 'á', 'ã':
		return 'a'
	case 'À', 'Â', 'Ä', 'Á', 'Ã':
		return 'A'
	case 'é', 'è', 'ê', 'ë':
		return 'e'
	case 'É', 'È', 'Ê', 'Ë':
		return 'E'
	case 'î', 'ï', 'í':
		return 'i'
	case 'Î', 'Ï', 'Í':
		return 'I'
	case 'ô', 'ö', 'ó', 'õ':
		return 'o'
	case 'Ô', 'Ö', 'Ó', 'Õ':
		return 'O'
	case 'ù', 'û', 'ü', 'ú':
		return 'u'
	case 'Ù', 'Û', 'Ü', 'Ú':
		return 'U'
	case 'ç':
		return 'c'
	case 'Ç':
		return 'C'
	case 'ñ':
		return 'n'
	case 'Ñ':
		return 'N'
	}
	return r
}
