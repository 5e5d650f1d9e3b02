package interest

import (
	"reflect"
	"testing"

	logx "beepbot/pkg/logx"
)

func testCatalog() *Catalog {
	return NewCatalog([]string{"U00", "U01", "U02", "U03", "U04", "U05", "U06", "U07", "U08", "U09"})
}

func TestDecodeIndexMode(t *testing.T) {
	d := NewDecoder(Config{Threshold: 0.5}, testCatalog(), logx.Nop())

	got := d.Decode(map[string]float64{"5": 0.62, "9": 0.10, "nil": 0.20})
	want := []string{"U05"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Decode = %v, want %v", got, want)
	}
}

func TestDecodeDirectMode(t *testing.T) {
	d := NewDecoder(Config{Threshold: 0.5, Mode: ModeDirect}, nil, logx.Nop())

	got := d.Decode(map[string]float64{" U123 ": 0.9, "U456": 0.2, "nil": 0.99})
	want := []string{"U123"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Decode = %v, want %v", got, want)
	}
}

func TestSentinelAlwaysExcluded(t *testing.T) {
	d := NewDecoder(Config{Threshold: 0.1}, testCatalog(), logx.Nop())

	for _, p := range []float64{0.11, 0.5, 0.99, 1.0} {
		got := d.Decode(map[string]float64{"nil": p, " nil ": p})
		if len(got) != 0 {
			t.Fatalf("sentinel leaked at p=%v: %v", p, got)
		}
	}
}

func TestStrictThreshold(t *testing.T) {
	d := NewDecoder(Config{Threshold: 0.5}, testCatalog(), logx.Nop())

	if got := d.Decode(map[string]float64{"3": 0.5}); len(got) != 0 {
		t.Fatalf("p == threshold must not notify, got %v", got)
	}
	if got := d.Decode(map[string]float64{"3": 0.500001}); len(got) != 1 {
		t.Fatalf("p > threshold must notify, got %v", got)
	}
}

func TestInvalidLabelsSkipped(t *testing.T) {
	d := NewDecoder(Config{Threshold: 0.3}, testCatalog(), logx.Nop())

	got := d.Decode(map[string]float64{
		"banana": 0.9, // non-numeric
		"42":     0.9, // outside catalog
		"2":      0.9, // valid
	})
	want := []string{"U02"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Decode = %v, want %v", got, want)
	}
}

func TestDecodeDeduplicates(t *testing.T) {
	d := NewDecoder(Config{Threshold: 0.3}, testCatalog(), logx.Nop())

	// " 4" and "4" both resolve to the same user.
	got := d.Decode(map[string]float64{"4": 0.8, " 4": 0.7})
	want := []string{"U04"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Decode = %v, want %v", got, want)
	}
}

func TestThresholdMonotonic(t *testing.T) {
	probs := map[string]float64{"1": 0.2, "2": 0.4, "3": 0.6, "4": 0.8, "nil": 0.9}

	prev := -1
	for _, th := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		d := NewDecoder(Config{Threshold: th}, testCatalog(), logx.Nop())
		n := len(d.Decode(probs))
		if prev >= 0 && n > prev {
			t.Fatalf("raising threshold to %v grew the set (%d -> %d)", th, prev, n)
		}
		prev = n
	}
}

func TestApplySwapsThreshold(t *testing.T) {
	d := NewDecoder(Config{Threshold: 0.9}, testCatalog(), logx.Nop())

	if got := d.Decode(map[string]float64{"1": 0.5}); len(got) != 0 {
		t.Fatalf("unexpected notify at high threshold: %v", got)
	}
	d.Apply(0.3)
	if got := d.Decode(map[string]float64{"1": 0.5}); len(got) != 1 {
		t.Fatalf("Apply(0.3) did not take effect: %v", got)
	}
}
