package payment

import "testing"

func TestFormatPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+7 (912) 345-67-89", "79123456789"},
		{"8 912 345 67 89", "79123456789"},
		{"9123456789", "79123456789"},
		{"345-67-89", "73456789"},
		{"", ""},
		{"n/a", ""},
		{"+1 202 555 0100", "12025550100"},
	}

	for _, tt := range tests {
		if got := FormatPhone(tt.in); got != tt.want {
			t.Errorf("FormatPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
