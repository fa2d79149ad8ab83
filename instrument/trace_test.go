package instrument

import (
	"math"
	"testing"
)

func TestTraceLenAndDelta(t *testing.T) {
	tr := Trace{FrequencyHz: []float64{5.0e9, 5.1e9, 5.2e9, 5.3e9}}
	if got := tr.Len(); got != 4 {
		t.Errorf("Len() = %d, want 4", got)
	}
	if got := tr.Delta(); got != 0.1e9 {
		t.Errorf("Delta() = %g, want 0.1e9", got)
	}
}

func TestTraceDeltaShortTrace(t *testing.T) {
	for _, tr := range []Trace{
		{},
		{FrequencyHz: []float64{5.0e9}},
	} {
		if got := tr.Delta(); got != 0 {
			t.Errorf("Delta() = %g, want 0 for a trace with fewer than two points", got)
		}
	}
}

func TestTraceAmplitudeSquared(t *testing.T) {
	tr := Trace{Samples: []complex128{3 + 4i, 1 + 0i, 0 + 0i}}
	got := tr.AmplitudeSquared()
	want := []float64{25, 1, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AmplitudeSquared()[%d] = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestTraceWrappedPhase(t *testing.T) {
	tr := Trace{Samples: []complex128{1 + 0i, 0 + 1i, -1 + 0i, 0 - 1i}}
	got := tr.WrappedPhase()
	want := []float64{0, math.Pi / 2, math.Pi, -math.Pi / 2}
	const tol = 1e-9
	for i := range want {
		if math.Abs(got[i]-want[i]) > tol {
			t.Errorf("WrappedPhase()[%d] = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestPointsForBandwidth(t *testing.T) {
	cases := []struct {
		spanHz, rbwHz, ratio float64
		want                 int
	}{
		{spanHz: 100e6, rbwHz: 1e6, ratio: 2, want: 200},
		{spanHz: 100e6, rbwHz: 1e6, ratio: 2.5, want: 250},
		{spanHz: 1e6, rbwHz: 10e6, ratio: 1, want: 1}, // rounds up to the floor of 1
		{spanHz: 100e6, rbwHz: 0, ratio: 2, want: 0},  // non-positive rbw is rejected
	}
	for _, c := range cases {
		if got := PointsForBandwidth(c.spanHz, c.rbwHz, c.ratio); got != c.want {
			t.Errorf("PointsForBandwidth(%g, %g, %g) = %d, want %d", c.spanHz, c.rbwHz, c.ratio, got, c.want)
		}
	}
}
