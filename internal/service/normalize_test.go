package service

import (
	"errors"
	"testing"
)

func TestNormalizePlate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"KDA 123A", "KDA123A", true},
		{"kda123a", "KDA123A", true},
		{" kcb-001x ", "KCB001X", true},
		{"A", "A", true},
		{"", "", false},
		{"   ", "", false},
		{"KDA123ABC", "", false},
		{"KDA_123", "", false},
		{"KDÄ123", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePlate(tt.in)
			if tt.ok {
				if err != nil {
					t.Fatalf("NormalizePlate(%q): %v", tt.in, err)
				}
				if got != tt.want {
					t.Errorf("got %q, want %q", got, tt.want)
				}
				return
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("NormalizePlate(%q): got %v, want ErrInvalidInput", tt.in, err)
			}
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"0712345678", "254712345678", true},
		{"+254712345678", "254712345678", true},
		{"254112345678", "254112345678", true},
		{"0712 345 678", "254712345678", true},
		{"0812345678", "", false},
		{"071234567", "", false},
		{"phone", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in)
			if tt.ok {
				if err != nil {
					t.Fatalf("NormalizePhone(%q): %v", tt.in, err)
				}
				if got != tt.want {
					t.Errorf("got %q, want %q", got, tt.want)
				}
				return
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("NormalizePhone(%q): got %v, want ErrInvalidInput", tt.in, err)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	for _, ok := range []string{"1", "500", "99.99", " 10.5 "} {
		if _, err := ParseAmount(ok); err != nil {
			t.Errorf("ParseAmount(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "0", "-5", "1.234", "abc"} {
		if _, err := ParseAmount(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseAmount(%q): got %v, want ErrInvalidInput", bad, err)
		}
	}
}
