// Package testutil holds small synthetic-signal generators and
// floating-point comparison helpers shared by this module's tests,
// carried over from the teacher's own test-support package and adapted
// for VNA phase traces instead of audio signals.
package testutil

import "math/rand"

// DeterministicNoise generates reproducible noise (fixed seed) used to
// perturb a synthetic phase trace, so detector tests can exercise the
// adaptive-threshold peak finder against something less tidy than a
// noise-free analytic phase function.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}
