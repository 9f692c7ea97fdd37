package easebuzz

import (
	"errors"
	"math"
	"testing"
)

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		in      float64
		want    string
		wantErr bool
	}{
		{0, "", true},
		{-5, "", true},
		{math.NaN(), "", true},
		{math.Inf(1), "", true},
		{math.Inf(-1), "", true},
		{0.004, "", true},
		{0.005, "0.01", false},
		{99.999, "100.00", false},
		{10.005, "10.01", false},
		{1, "1.00", false},
		{1234.5, "1234.50", false},
		{499.994, "499.99", false},
	}
	for _, tt := range tests {
		got, err := NormalizeAmount(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("NormalizeAmount(%v) err = %v, want ErrInvalidAmount", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeAmount(%v) unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeAmount(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("100.50")
	if err != nil || d.StringFixed(2) != "100.50" {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseAmount(""); err != nil || !d.IsZero() {
		t.Fatalf("empty amount should parse as zero, got %v %v", d, err)
	}
	if _, err := ParseAmount("abc"); err == nil {
		t.Fatal("expected error for garbage amount")
	}
}
