// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package causal

import (
	"math"
)

// pearson returns the Pearson correlation of two equal-length samples.
// Returns 0 for degenerate inputs (n < 2 or zero variance).
func pearson(x, y []float64) float64 {
	n := len(x)
	if n < 2 || len(y) != n {
		return 0
	}
	var sx, sy float64
	for i := 0; i < n; i++ {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/float64(n), sy/float64(n)

	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

// fisherPValue returns the two-sided p-value for a (partial) correlation
// coefficient r over n samples with k conditioning variables, using the
// Fisher z-transform and a normal approximation.
func fisherPValue(r float64, n, k int) float64 {
	dof := float64(n - k - 3)
	if dof <= 0 {
		return 1
	}
	// Clamp away from +-1 so atanh stays finite.
	if r > 0.999999 {
		r = 0.999999
	} else if r < -0.999999 {
		r = -0.999999
	}
	z := math.Abs(math.Atanh(r)) * math.Sqrt(dof)
	return math.Erfc(z / math.Sqrt2)
}

// olsResiduals regresses y on the columns of x (with an intercept) and
// returns the residual vector. If the normal equations are singular the
// centered y is returned, which degrades the partial correlation to a
// plain correlation rather than failing.
func olsResiduals(y []float64, x [][]float64) []float64 {
	n := len(y)
	p := len(x) + 1 // intercept

	// Design matrix rows.
	design := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, p)
		row[0] = 1
		for j, col := range x {
			row[j+1] = col[i]
		}
		design[i] = row
	}

	// Normal equations: (X'X) beta = X'y.
	xtx := make([][]float64, p)
	xty := make([]float64, p)
	for a := 0; a < p; a++ {
		xtx[a] = make([]float64, p)
		for b := 0; b < p; b++ {
			var s float64
			for i := 0; i < n; i++ {
				s += design[i][a] * design[i][b]
			}
			xtx[a][b] = s
		}
		var s float64
		for i := 0; i < n; i++ {
			s += design[i][a] * y[i]
		}
		xty[a] = s
	}

	beta, ok := solve(xtx, xty)
	if !ok {
		// Singular system: fall back to centering.
		m := 0.0
		for _, v := range y {
			m += v
		}
		m /= float64(n)
		res := make([]float64, n)
		for i, v := range y {
			res[i] = v - m
		}
		return res
	}

	res := make([]float64, n)
	for i := 0; i < n; i++ {
		pred := 0.0
		for j := 0; j < p; j++ {
			pred += design[i][j] * beta[j]
		}
		res[i] = y[i] - pred
	}
	return res
}

// solve performs Gaussian elimination with partial pivoting on a copy of
// the inputs. Returns ok=false for (near-)singular systems.
func solve(a [][]float64, b []float64) ([]float64, bool) {
	n := len(b)
	m := make([][]float64, n)
	for i := range a {
		m[i] = append([]float64(nil), a[i]...)
	}
	v := append([]float64(nil), b...)

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return nil, false
		}
		m[col], m[pivot] = m[pivot], m[col]
		v[col], v[pivot] = v[pivot], v[col]

		for r := col + 1; r < n; r++ {
			f := m[r][col] / m[col][col]
			for c := col; c < n; c++ {
				m[r][c] -= f * m[col][c]
			}
			v[r] -= f * v[col]
		}
	}

	out := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		s := v[i]
		for j := i + 1; j < n; j++ {
			s -= m[i][j] * out[j]
		}
		out[i] = s / m[i][i]
	}
	return out, true
}

// clip bounds v to [-1, 1].
func clip(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
