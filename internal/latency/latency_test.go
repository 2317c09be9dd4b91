package latency

import (
	"math"
	"testing"
)

func TestAdjustedTime(t *testing.T) {
	cases := []struct {
		name       string
		reported   float64
		isPlaying  bool
		delay      float64
		fallback   float64
		want       float64
	}{
		{"playing adds delay", 50, true, 0.3, 0, 50.3},
		{"paused ignores delay", 50, false, 0.3, 0, 50},
		{"NaN falls back", math.NaN(), true, 0.3, 7, 7},
		{"Inf falls back", math.Inf(1), true, 0.3, 7, 7},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := AdjustedTime(c.reported, c.isPlaying, c.delay, c.fallback)
			if got != c.want {
				t.Fatalf("AdjustedTime(%v,%v,%v,%v) = %v, want %v", c.reported, c.isPlaying, c.delay, c.fallback, got, c.want)
			}
		})
	}
}

func TestDiff(t *testing.T) {
	d := Diff(120.0, 119.7, true, 0.2)
	if math.Abs(d-0.1) > 1e-9 {
		t.Fatalf("Diff = %v, want ~0.1", d)
	}
}

func TestDriftThresholdBoundary(t *testing.T) {
	// 0.2s must not warrant a seek, 0.5s must.
	below := Diff(100, 99.8, false, 0)
	above := Diff(100, 99.5, false, 0)
	if below > DriftThreshold {
		t.Fatalf("0.2s diff should be below drift threshold, got %v", below)
	}
	if above <= DriftThreshold {
		t.Fatalf("0.5s diff should exceed drift threshold, got %v", above)
	}
}

func TestDelaySecondsNeverNegative(t *testing.T) {
	if got := DelaySeconds(1000, 2000); got != 0 {
		t.Fatalf("DelaySeconds with sender ahead of receiver = %v, want 0", got)
	}
	if got := DelaySeconds(2500, 2000); got != 0.5 {
		t.Fatalf("DelaySeconds(2500,2000) = %v, want 0.5", got)
	}
}
