package secret

import "testing"

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "***"},
		{"abcdef", "a****f"},
		{"0123456789abcdef0123", "0******************3"},
		{"0123456789abcdef0123456789", "012**********************9"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Fatalf("Mask(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
