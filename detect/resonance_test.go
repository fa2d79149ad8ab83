package detect

import (
	"context"
	"math"
	"math/cmplx"
	"testing"

	"github.com/filtcav/fctune/instrument"
	"github.com/filtcav/fctune/internal/testutil"
)

// fakeVNA generates a trace directly from an unwrapped-phase function,
// rather than acquiring anything. SetWindow/Acquire are the only methods
// Detect uses; the rest satisfy instrument.VNA but are unused here.
type fakeVNA struct {
	phase  func(freqHz float64) float64
	window instrument.Window
}

func (f *fakeVNA) SetWindow(ctx context.Context, center, span, rbw, powerDBm float64) error {
	nop := instrument.PointsForBandwidth(span, rbw, 5)
	if nop < 2 {
		nop = 2
	}
	f.window = instrument.Window{CenterHz: center, SpanHz: span, RBWHz: rbw, PowerDBm: powerDBm, NOP: nop}
	return nil
}

func (f *fakeVNA) Acquire(ctx context.Context) (instrument.Trace, error) {
	n := f.window.NOP
	start := f.window.CenterHz - f.window.SpanHz/2
	step := f.window.SpanHz / float64(n-1)
	freqs := make([]float64, n)
	samples := make([]complex128, n)
	for i := range freqs {
		fq := start + step*float64(i)
		freqs[i] = fq
		samples[i] = cmplx.Rect(1, f.phase(fq))
	}
	return instrument.Trace{FrequencyHz: freqs, Samples: samples}, nil
}

func (f *fakeVNA) Window(ctx context.Context) (instrument.Window, error) { return f.window, nil }
func (f *fakeVNA) Park(ctx context.Context) (instrument.Window, error)   { return f.window, nil }
func (f *fakeVNA) Unpark(ctx context.Context, saved instrument.Window) error {
	f.window = saved
	return nil
}
func (f *fakeVNA) Autoscale(ctx context.Context) error           { return nil }
func (f *fakeVNA) ElectricalDelayAuto(ctx context.Context) error { return nil }

// TestDetectSingleLorentzianPole exercises spec.md §8 scenario 4: a single
// Lorentzian-like pole at 5.2 GHz should yield exactly one detected peak
// within 2 MHz of the target.
func TestDetectSingleLorentzianPole(t *testing.T) {
	const centerHz = 5.2e9
	vna := &fakeVNA{phase: func(f float64) float64 {
		return -math.Atan((f - centerHz) / 1e6)
	}}

	peaks, err := Detect(context.Background(), vna, centerHz-100e6, centerHz+100e6, Options{})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(peaks) != 1 {
		t.Fatalf("Detect() returned %d peaks, want 1: %v", len(peaks), peaks)
	}
	if diff := math.Abs(peaks[0] - centerHz); diff > 2e6 {
		t.Errorf("peak at %g Hz, want within 2 MHz of %g Hz (diff %g)", peaks[0], centerHz, diff)
	}
}

// TestDetectOutputWithinWindowAndSpaced checks the two invariants spec.md
// §8 requires of every Detect call: every returned frequency lies in
// [fMin, fMax], and consecutive frequencies are at least MinPeakDistHz
// apart.
func TestDetectOutputWithinWindowAndSpaced(t *testing.T) {
	const fMin, fMax = 5.0e9, 5.4e9
	centers := []float64{5.05e9, 5.15e9, 5.3e9}
	vna := &fakeVNA{phase: func(f float64) float64 {
		var sum float64
		for _, c := range centers {
			sum += -math.Atan((f - c) / 1e6)
		}
		return sum
	}}

	opts := Options{}
	peaks, err := Detect(context.Background(), vna, fMin, fMax, opts)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	opts = opts.withDefaults()
	for i, p := range peaks {
		if p < fMin || p > fMax {
			t.Errorf("peak %d = %g Hz, want within [%g, %g]", i, p, fMin, fMax)
		}
		if i > 0 && p-peaks[i-1] < opts.MinPeakDistHz {
			t.Errorf("peaks %d and %d are %g Hz apart, want >= %g", i-1, i, p-peaks[i-1], opts.MinPeakDistHz)
		}
	}
}

// TestDetectSingleLorentzianPoleWithNoise reproduces
// TestDetectSingleLorentzianPole's scenario but perturbs the synthetic
// phase with deterministic noise before wrapping it, exercising the
// adaptive-threshold peak finder's tolerance to a gradient that is not
// perfectly smooth (spec.md §4.3 step 4's per-slice mean+sigma*stddev
// threshold exists precisely to absorb this kind of noise floor).
func TestDetectSingleLorentzianPoleWithNoise(t *testing.T) {
	const centerHz = 5.2e9
	const n = 401
	noise := testutil.DeterministicNoise(1234, 0.02, n)
	vna := &fakeVNA{phase: func(f float64) float64 {
		base := -math.Atan((f - centerHz) / 1e6)
		// Index the noise slice by where f falls in the sweep window so the
		// same fake VNA can be reused across sub-interval acquisitions.
		idx := int((f - (centerHz - 100e6)) / (200e6) * float64(n-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		return base + noise[idx]
	}}

	peaks, err := Detect(context.Background(), vna, centerHz-100e6, centerHz+100e6, Options{})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(peaks) != 1 {
		t.Fatalf("Detect() returned %d peaks, want 1: %v", len(peaks), peaks)
	}
	if diff := math.Abs(peaks[0] - centerHz); diff > 2e6 {
		t.Errorf("peak at %g Hz, want within 2 MHz of %g Hz (diff %g)", peaks[0], centerHz, diff)
	}
}

// TestSavitzkyGolaySmoothsFiniteOutput checks that smoothing a noisy
// gradient-like signal (the same role SavitzkyGolay plays inside Detect,
// per spec.md §4.3 step 3) never introduces a non-finite value, using
// deterministic noise for reproducibility.
func TestSavitzkyGolaySmoothsFiniteOutput(t *testing.T) {
	noisy := testutil.DeterministicNoise(99, 1.0, 256)
	smoothed, err := SavitzkyGolay(noisy, 11, 3)
	if err != nil {
		t.Fatalf("SavitzkyGolay() error = %v", err)
	}
	testutil.RequireFinite(t, smoothed)
	if len(smoothed) != len(noisy) {
		t.Fatalf("len(smoothed) = %d, want %d", len(smoothed), len(noisy))
	}
}

func TestDetectRejectsInvertedWindow(t *testing.T) {
	vna := &fakeVNA{phase: func(f float64) float64 { return 0 }}
	if _, err := Detect(context.Background(), vna, 5.3e9, 5.2e9, Options{}); err == nil {
		t.Fatal("expected error when fMax <= fMin")
	}
}

// TestUnwrapPhaseReconstructsContinuousRamp checks that wrapping then
// unwrapping a continuous phase ramp (sampled finely enough that
// consecutive steps stay under pi) recovers the original values exactly,
// per spec.md §3's unwrap-continuity invariant.
func TestUnwrapPhaseReconstructsContinuousRamp(t *testing.T) {
	const n = 200
	continuous := make([]float64, n)
	wrapped := make([]float64, n)
	for i := range continuous {
		continuous[i] = 0.3 * float64(i) // steps of 0.3 rad, several 2pi wraps over 200 samples
		wrapped[i] = math.Atan2(math.Sin(continuous[i]), math.Cos(continuous[i]))
	}

	got := unwrapPhase(wrapped)
	testutil.RequireSliceNearlyEqual(t, got, continuous, 1e-9)
}
