package cycling

import (
	"testing"
	"time"
)

func TestParseInterval_Integer(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"P1", 1},
		{"P6", 6},
		{"-P2", -2},
		{"3", 3},
	}
	for _, tt := range tests {
		iv, err := ParseInterval(Integer, tt.in)
		if err != nil {
			t.Fatalf("ParseInterval(%q): %v", tt.in, err)
		}
		if iv.Seconds() != tt.want {
			t.Errorf("ParseInterval(%q) = %d, want %d", tt.in, iv.Seconds(), tt.want)
		}
	}
}

func TestParseInterval_Gregorian(t *testing.T) {
	tests := []struct {
		in         string
		wantMonths int64
		wantSecs   int64
	}{
		{"PT6H", 0, 6 * 3600},
		{"P1D", 0, 86400},
		{"P1DT12H", 0, 86400 + 12*3600},
		{"P2W", 0, 14 * 86400},
		{"P1M", 1, 0},
		{"P1Y2M", 14, 0},
		{"PT30S", 0, 30},
		{"-PT1H", 0, -3600},
	}
	for _, tt := range tests {
		iv, err := ParseInterval(Gregorian, tt.in)
		if err != nil {
			t.Fatalf("ParseInterval(%q): %v", tt.in, err)
		}
		if iv.Months() != tt.wantMonths || iv.Seconds() != tt.wantSecs {
			t.Errorf("ParseInterval(%q) = %dmo %ds, want %dmo %ds",
				tt.in, iv.Months(), iv.Seconds(), tt.wantMonths, tt.wantSecs)
		}
	}

	for _, in := range []string{"", "P", "1H", "PT", "PTXH", "P1S"} {
		if _, err := ParseInterval(Gregorian, in); err == nil {
			t.Errorf("ParseInterval(%q): want error", in)
		}
	}
}

func TestInterval_String(t *testing.T) {
	tests := []struct {
		kind Kind
		in   string
		want string
	}{
		{Integer, "P3", "P3"},
		{Integer, "-P1", "-P1"},
		{Gregorian, "PT6H", "PT6H"},
		{Gregorian, "P1DT12H", "P1DT12H"},
		{Gregorian, "P1Y2M", "P1Y2M"},
		{Gregorian, "PT90S", "PT1M30S"},
		{Gregorian, "-P2D", "-P2D"},
	}
	for _, tt := range tests {
		iv, err := ParseInterval(tt.kind, tt.in)
		if err != nil {
			t.Fatalf("ParseInterval(%q): %v", tt.in, err)
		}
		if got := iv.String(); got != tt.want {
			t.Errorf("String(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInterval_NullAndArithmetic(t *testing.T) {
	zero := NewIntegerInterval(0)
	if !zero.IsNull() {
		t.Error("zero interval: IsNull() = false")
	}
	if NewIntegerInterval(2).IsNull() {
		t.Error("P2: IsNull() = true")
	}

	a := NewGregorianInterval(1, 6*time.Hour)
	b := NewGregorianInterval(0, 30*time.Minute)
	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.Months() != 1 || sum.Seconds() != 6*3600+30*60 {
		t.Errorf("Add = %dmo %ds", sum.Months(), sum.Seconds())
	}

	if got := NewIntegerInterval(-4).Abs(); got.Seconds() != 4 {
		t.Errorf("Abs = %d, want 4", got.Seconds())
	}
	if got := NewIntegerInterval(2).Mul(3); got.Seconds() != 6 {
		t.Errorf("Mul = %d, want 6", got.Seconds())
	}

	if _, err := a.Add(NewIntegerInterval(1)); err == nil {
		t.Error("Add across families: want error")
	}
}
