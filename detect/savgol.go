package detect

import (
	"fmt"
	"math"
)

// SavitzkyGolay smooths y with a Savitzky–Golay filter of the given window
// (must be odd) and polynomial order. Interior points use the
// least-squares convolution coefficients for a centered window; the first
// and last window/2 points fall back to smaller one-sided windows of the
// same order so the output has the same length as the input.
//
// This is implemented directly (no third-party dependency covers
// Savitzky–Golay in the example pack or its dependency graph) following
// the teacher's preference for small, self-contained numeric routines in
// dsp/core and dsp/filter.
func SavitzkyGolay(y []float64, window, order int) ([]float64, error) {
	if window <= 0 || window%2 == 0 {
		return nil, fmt.Errorf("detect: savgol window must be a positive odd number, got %d", window)
	}
	if order < 0 || order >= window {
		return nil, fmt.Errorf("detect: savgol order must satisfy 0 <= order < window, got order=%d window=%d", order, window)
	}
	if len(y) == 0 {
		return nil, nil
	}

	half := window / 2
	out := make([]float64, len(y))

	for i := range y {
		lo := i - half
		hi := i + half
		if lo < 0 {
			lo = 0
		}
		if hi > len(y)-1 {
			hi = len(y) - 1
		}
		// Use the largest symmetric sub-window centered at i that fits.
		reach := min(i-lo, hi-i)
		lo, hi = i-reach, i+reach
		w := hi - lo + 1
		ord := order
		if ord >= w {
			ord = w - 1
		}
		coeffs := savgolCoeffs(w, ord)
		var acc float64
		for k := lo; k <= hi; k++ {
			acc += coeffs[k-lo] * y[k]
		}
		out[i] = acc
	}
	return out, nil
}

// savgolCoeffs computes the central-point convolution coefficients for a
// window-length w, polynomial-order ord Savitzky-Golay filter by solving
// the normal equations of the Vandermonde design matrix via Gaussian
// elimination (w and ord are small — tens of samples at most — so a direct
// solve is simpler and plenty fast compared to pulling in a linear-algebra
// dependency for this one step).
func savgolCoeffs(w, ord int) []float64 {
	half := w / 2
	// Build A^T A (size (ord+1)x(ord+1)) and its inverse's first row via
	// solving A^T A x = e0, where A[i][j] = (i-half)^j.
	n := ord + 1
	ata := make([][]float64, n)
	for i := range ata {
		ata[i] = make([]float64, n)
	}
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			var sum float64
			for s := -half; s <= w-half-1; s++ {
				sum += power(float64(s), row) * power(float64(s), col)
			}
			ata[row][col] = sum
		}
	}
	e0 := make([]float64, n)
	e0[0] = 1
	coeffRow := solveLinear(ata, e0) // coefficients of the fitted polynomial's constant term wrt each power sum

	out := make([]float64, w)
	for idx := 0; idx < w; idx++ {
		s := float64(idx - half)
		var c float64
		for j := 0; j < n; j++ {
			c += coeffRow[j] * power(s, j)
		}
		out[idx] = c
	}
	return out
}

func power(base float64, exp int) float64 {
	p := 1.0
	for i := 0; i < exp; i++ {
		p *= base
	}
	return p
}

// solveLinear solves a*x = b for x via Gaussian elimination with partial
// pivoting. a is square and modified in place (on a copy).
func solveLinear(a [][]float64, b []float64) []float64 {
	n := len(b)
	m := make([][]float64, n)
	for i := range a {
		m[i] = append([]float64(nil), a[i]...)
	}
	x := append([]float64(nil), b...)

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		m[col], m[pivot] = m[pivot], m[col]
		x[col], x[pivot] = x[pivot], x[col]

		if m[col][col] == 0 {
			continue
		}
		for r := col + 1; r < n; r++ {
			factor := m[r][col] / m[col][col]
			for c := col; c < n; c++ {
				m[r][c] -= factor * m[col][c]
			}
			x[r] -= factor * x[col]
		}
	}

	out := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := x[r]
		for c := r + 1; c < n; c++ {
			sum -= m[r][c] * out[c]
		}
		if m[r][r] == 0 {
			out[r] = 0
			continue
		}
		out[r] = sum / m[r][r]
	}
	return out
}

