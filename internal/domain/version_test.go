package domain

import "testing"

func TestNextVersion_Minor(t *testing.T) {
	cases := []struct {
		current float64
		want    float64
	}{
		{0.1, 0.2},
		{0.2, 0.3},
		{0.9, 1.0},
		{1.0, 1.1},
		{2.3, 2.4},
	}
	for _, tc := range cases {
		if got := NextVersion(tc.current, false); got != tc.want {
			t.Fatalf("NextVersion(%v, false) = %v, want %v", tc.current, got, tc.want)
		}
	}
}

func TestNextVersion_Major(t *testing.T) {
	cases := []struct {
		current float64
		want    float64
	}{
		{0.1, 1.0},
		{0.9, 1.0},
		{1.0, 2.0},
		{1.7, 2.0},
		{3.2, 4.0},
	}
	for _, tc := range cases {
		if got := NextVersion(tc.current, true); got != tc.want {
			t.Fatalf("NextVersion(%v, true) = %v, want %v", tc.current, got, tc.want)
		}
	}
}

func TestNextVersion_RepeatedMinorStaysExact(t *testing.T) {
	// 0.1 + 0.1 + ... must not accumulate float error; every step rounds to
	// one decimal.
	v := InitialVersion
	for i := 0; i < 50; i++ {
		v = NextVersion(v, false)
		if v != RoundVersion(v) {
			t.Fatalf("version drifted off one-decimal grid after %d bumps: %v", i+1, v)
		}
	}
	if v != 5.1 {
		t.Fatalf("expected 5.1 after 50 minor bumps from 0.1, got %v", v)
	}
}

func TestFormatVersion(t *testing.T) {
	if got := FormatVersion(0.1); got != "0.1" {
		t.Fatalf("FormatVersion(0.1) = %q", got)
	}
	if got := FormatVersion(2.0); got != "2.0" {
		t.Fatalf("FormatVersion(2.0) = %q", got)
	}
	if got := FormatVersion(0.30000000000000004); got != "0.3" {
		t.Fatalf("FormatVersion(0.3000...) = %q", got)
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1.2 {
		t.Fatalf("ParseVersion(1.2) = %v", v)
	}
	if _, err := ParseVersion("abc"); err == nil {
		t.Fatalf("expected error for invalid version string")
	}
}
