package payment

import "strings"

// FormatPhone reduces a phone number to digits in the 7XXXXXXXXXX form the
// receipt API expects. A leading 8 on an 11-digit number becomes 7, and short
// numbers without a leading 7 get one.
func FormatPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	if len(digits) == 11 && digits[0] == '8' {
		digits = "7" + digits[1:]
	}
	if digits[0] != '7' && len(digits) <= 10 {
		digits = "7" + digits
	}
	return digits
}
