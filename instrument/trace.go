// Package instrument defines the façade contracts the tuning core depends
// on: a vector network analyzer and the two mechanical axes. Concrete
// implementations live in sibling packages (scpi, zaber/ascii, zaber/binary,
// tmcl); this package only describes the shapes the core needs.
package instrument

import "math"

// Trace is an ordered frequency sweep returned by a VNA acquisition.
// Frequencies are strictly ascending and evenly spaced.
type Trace struct {
	FrequencyHz []float64
	Samples     []complex128
}

// Len returns the number of samples in the trace.
func (t Trace) Len() int { return len(t.FrequencyHz) }

// Delta returns the frequency spacing between consecutive samples.
// Returns 0 for traces with fewer than two points.
func (t Trace) Delta() float64 {
	if len(t.FrequencyHz) < 2 {
		return 0
	}
	return (t.FrequencyHz[len(t.FrequencyHz)-1] - t.FrequencyHz[0]) / float64(len(t.FrequencyHz)-1)
}

// AmplitudeSquared returns |sample|^2 for every point in the trace.
func (t Trace) AmplitudeSquared() []float64 {
	out := make([]float64, len(t.Samples))
	for i, s := range t.Samples {
		out[i] = real(s)*real(s) + imag(s)*imag(s)
	}
	return out
}

// WrappedPhase returns arg(sample) for every point, wrapped to (-pi, pi].
func (t Trace) WrappedPhase() []float64 {
	out := make([]float64, len(t.Samples))
	for i, s := range t.Samples {
		p := math.Atan2(imag(s), real(s))
		out[i] = p
	}
	return out
}

// Window describes the VNA sweep settings applied before an acquisition.
type Window struct {
	CenterHz  float64
	SpanHz    float64
	RBWHz     float64 // IF bandwidth
	PowerDBm  float64
	NOP       int // number of points
	PowerOn   bool
	Reference string // "internal" or "external"
}

// PointsForBandwidth returns the minimum nop satisfying nop >= ratio*span/rbw.
func PointsForBandwidth(spanHz, rbwHz float64, ratio float64) int {
	if rbwHz <= 0 {
		return 0
	}
	n := int(math.Ceil(ratio * spanHz / rbwHz))
	if n < 1 {
		n = 1
	}
	return n
}

// Resonance is a candidate resonance emitted by the detector, refined with
// a depth measurement.
type Resonance struct {
	FrequencyHz float64
	DepthLinear float64
	Window      Window
}
