// Package detect implements the phase-gradient resonance detector: sweep a
// frequency window in VNA-sized sub-intervals, unwrap and stitch phase
// across the boundaries, take its gradient, and pick peaks against an
// adaptive per-slice threshold.
package detect

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/filtcav/fctune/instrument"
)

// Options tunes the detector. Zero-valued fields fall back to the defaults
// named here, matching spec.md's C3 defaults.
type Options struct {
	RBWHz           float64 // IF bandwidth for acquisition windows
	PowerDBm        float64
	MinPeakDistHz   float64 // default 10e6
	ProminenceWinHz float64 // default 1e6
	SliceHz         float64 // default 10e6
	SigmaK          float64 // default 1
	NOPMax          int     // default 50000
	SavGolWindow    int     // default 101; 1 (or any value below 2) disables smoothing
	SavGolOrder     int     // default 3
}

func (o Options) withDefaults() Options {
	if o.RBWHz == 0 {
		o.RBWHz = 1e6
	}
	if o.MinPeakDistHz == 0 {
		o.MinPeakDistHz = 10e6
	}
	if o.ProminenceWinHz == 0 {
		o.ProminenceWinHz = 1e6
	}
	if o.SliceHz == 0 {
		o.SliceHz = 10e6
	}
	if o.SigmaK == 0 {
		o.SigmaK = 1
	}
	if o.NOPMax == 0 {
		o.NOPMax = 50_000
	}
	if o.SavGolWindow == 0 {
		o.SavGolWindow = 101
	}
	if o.SavGolOrder == 0 {
		o.SavGolOrder = 3
	}
	return o
}

// Detect sweeps [fMin, fMax] on vna and returns candidate resonance
// frequencies sorted ascending, each pair at least opts.MinPeakDistHz apart.
func Detect(ctx context.Context, vna instrument.VNA, fMin, fMax float64, opts Options) ([]float64, error) {
	if fMax <= fMin {
		return nil, fmt.Errorf("detect: fMax %g must exceed fMin %g", fMax, fMin)
	}
	opts = opts.withDefaults()

	freqs, unwrapped, err := sweepStitched(ctx, vna, fMin, fMax, opts)
	if err != nil {
		return nil, err
	}
	if len(freqs) < 2 {
		return nil, nil
	}

	df := (freqs[len(freqs)-1] - freqs[0]) / float64(len(freqs)-1)
	grad := gradient(unwrapped, df)

	if opts.SavGolWindow > 1 && len(grad) > opts.SavGolWindow {
		smoothed, err := SavitzkyGolay(grad, opts.SavGolWindow, opts.SavGolOrder)
		if err != nil {
			return nil, fmt.Errorf("detect: smoothing gradient: %w", err)
		}
		grad = smoothed
	}
	normalizeMax(grad)

	heights := adaptiveThresholds(grad, df, opts.SliceHz, opts.SigmaK)

	minDistSamples := int(math.Round(opts.MinPeakDistHz / df))
	prominenceSamples := int(math.Round(opts.ProminenceWinHz / df))
	idx := findPeaks(grad, heights, minDistSamples, prominenceSamples)

	out := make([]float64, len(idx))
	for i, ix := range idx {
		out[i] = freqs[ix]
	}
	return out, nil
}

// sweepStitched partitions [fMin, fMax] into VNA-sized sub-intervals
// (nop <= opts.NOPMax), acquires each, and stitches unwrapped phase across
// sub-interval boundaries by shifting each segment so its first sample
// matches the previous segment's last unwrapped sample.
func sweepStitched(ctx context.Context, vna instrument.VNA, fMin, fMax float64, opts Options) ([]float64, []float64, error) {
	var freqs, unwrapped []float64
	var carry float64
	haveCarry := false

	cursor := fMin
	for cursor < fMax {
		maxSpan := float64(opts.NOPMax-1) * opts.RBWHz / 5
		if maxSpan <= 0 {
			return nil, nil, fmt.Errorf("detect: rbw %g too small for nop_max %d", opts.RBWHz, opts.NOPMax)
		}
		span := math.Min(maxSpan, fMax-cursor)
		center := cursor + span/2

		if err := vna.SetWindow(ctx, center, span, opts.RBWHz, opts.PowerDBm); err != nil {
			return nil, nil, fmt.Errorf("detect: set window: %w", err)
		}
		// Per spec.md §4.1/§9, electrical delay is recalibrated before every
		// sub-interval acquire so the phase baseline stays flat across the
		// sweep this func is about to differentiate.
		if err := vna.ElectricalDelayAuto(ctx); err != nil {
			return nil, nil, fmt.Errorf("detect: electrical delay auto: %w", err)
		}
		tr, err := vna.Acquire(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("detect: acquire: %w", err)
		}

		phase := tr.WrappedPhase()
		seg := unwrapPhase(phase)
		if haveCarry {
			shift := carry - seg[0]
			for i := range seg {
				seg[i] += shift
			}
		}
		if len(seg) > 0 {
			carry = seg[len(seg)-1]
			haveCarry = true
		}

		freqs = append(freqs, tr.FrequencyHz...)
		unwrapped = append(unwrapped, seg...)

		cursor += span
	}
	return freqs, unwrapped, nil
}

// unwrapPhase removes +/-2*pi discontinuities from a wrapped phase slice.
func unwrapPhase(phase []float64) []float64 {
	if len(phase) == 0 {
		return nil
	}
	out := make([]float64, len(phase))
	out[0] = phase[0]
	offset := 0.0
	for i := 1; i < len(phase); i++ {
		d := phase[i] - phase[i-1]
		switch {
		case d > math.Pi:
			offset -= 2 * math.Pi
		case d < -math.Pi:
			offset += 2 * math.Pi
		}
		out[i] = phase[i] + offset
	}
	return out
}

// gradient computes |d(unwrapped)/df| via centered finite differences, with
// one-sided differences at the endpoints.
func gradient(unwrapped []float64, df float64) []float64 {
	out := make([]float64, len(unwrapped))
	if len(unwrapped) < 2 || df == 0 {
		return out
	}
	for i := range unwrapped {
		var d float64
		switch i {
		case 0:
			d = unwrapped[1] - unwrapped[0]
		case len(unwrapped) - 1:
			d = unwrapped[i] - unwrapped[i-1]
		default:
			d = (unwrapped[i+1] - unwrapped[i-1]) / 2
		}
		out[i] = math.Abs(d / df)
	}
	return out
}

func normalizeMax(v []float64) {
	max := 0.0
	for _, x := range v {
		if x > max {
			max = x
		}
	}
	if max == 0 {
		return
	}
	for i := range v {
		v[i] /= max
	}
}

// adaptiveThresholds slices grad into bins of sliceHz width and emits a
// per-sample threshold array, tiling each bin's mean+sigmaK*stddev across
// its samples.
func adaptiveThresholds(grad []float64, df, sliceHz, sigmaK float64) []float64 {
	out := make([]float64, len(grad))
	if len(grad) == 0 || df == 0 {
		return out
	}
	sliceSamples := int(sliceHz / df)
	if sliceSamples < 1 {
		sliceSamples = 1
	}
	for start := 0; start < len(grad); start += sliceSamples {
		end := start + sliceSamples
		if end > len(grad) {
			end = len(grad)
		}
		bin := grad[start:end]
		mean, std := stat.MeanStdDev(bin, nil)
		th := mean + sigmaK*std
		for i := start; i < end; i++ {
			out[i] = th
		}
	}
	return out
}

// findPeaks returns indices of local maxima of v that clear heights[i],
// are separated by at least minDist samples, and have prominence at least
// heights[i] over a window of prominenceWin samples on each side.
func findPeaks(v, heights []float64, minDist, prominenceWin int) []int {
	var candidates []int
	for i := 1; i < len(v)-1; i++ {
		if v[i] < heights[i] {
			continue
		}
		if v[i] < v[i-1] || v[i] < v[i+1] {
			continue
		}
		lo := i - prominenceWin
		if lo < 0 {
			lo = 0
		}
		hi := i + prominenceWin
		if hi > len(v)-1 {
			hi = len(v) - 1
		}
		baseline := v[lo]
		for k := lo; k <= hi; k++ {
			if v[k] < baseline {
				baseline = v[k]
			}
		}
		if v[i]-baseline < heights[i] {
			continue
		}
		candidates = append(candidates, i)
	}

	// Enforce minimum distance by greedily keeping the tallest peak within
	// each conflicting cluster.
	var kept []int
	for _, c := range candidates {
		conflict := -1
		for ki, k := range kept {
			if intAbs(c-k) < minDist {
				conflict = ki
				break
			}
		}
		if conflict < 0 {
			kept = append(kept, c)
			continue
		}
		if v[c] > v[kept[conflict]] {
			kept[conflict] = c
		}
	}
	return kept
}

func intAbs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
