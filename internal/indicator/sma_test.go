package indicator

import (
	"math"
	"testing"
)

func TestSMA(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		period int
		want   []float64
	}{
		{"rolling mean", []float64{10, 11, 12, 13, 14, 15}, 3, []float64{11, 12, 13, 14}},
		{"period equals length", []float64{2, 4, 6}, 3, []float64{4}},
		{"not enough data", []float64{10, 11}, 5, nil},
		{"zero period", []float64{10, 11}, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SMA(tt.prices, tt.period)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if math.Abs(got[i]-tt.want[i]) > 1e-9 {
					t.Errorf("[%d] = %f, want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEMA_SeedsWithSMAAndTracksTrend(t *testing.T) {
	ema := EMA([]float64{10, 11, 12, 13, 14, 15}, 3)
	if len(ema) != 4 {
		t.Fatalf("len = %d, want 4", len(ema))
	}
	if ema[0] != 11 {
		t.Errorf("seed = %f, want 11", ema[0])
	}
	// multiplier 2/(3+1): (13-11)*0.5 + 11
	if ema[1] != 12 {
		t.Errorf("ema[1] = %f, want 12", ema[1])
	}
	if got := EMA([]float64{10, 11}, 5); len(got) != 0 {
		t.Errorf("short input gave %d values", len(got))
	}
}

func TestPad_AlignsToInput(t *testing.T) {
	padded := Pad([]float64{11, 12}, 4)

	if len(padded) != 4 {
		t.Fatalf("expected 4 values, got %d", len(padded))
	}
	if !math.IsNaN(padded[0]) || !math.IsNaN(padded[1]) {
		t.Error("warm-up values should be NaN")
	}
	if padded[2] != 11 || padded[3] != 12 {
		t.Errorf("unexpected tail: %v", padded[2:])
	}
}

func TestEMASeries_SkipsLeadingNaN(t *testing.T) {
	values := []float64{math.NaN(), math.NaN(), 10, 11, 12, 13}
	ema := EMASeries(values, 3)

	if len(ema) != len(values) {
		t.Fatalf("expected %d values, got %d", len(values), len(ema))
	}
	if !math.IsNaN(ema[3]) {
		t.Errorf("ema[3] should still be warming up, got %f", ema[3])
	}
	if ema[4] != 11 {
		t.Errorf("first EMA should equal SMA of the valid window, got %f", ema[4])
	}
}

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}
