// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package causal

import "fmt"

// IndependenceTest is the pluggable statistical test used by the engine.
// Implementations test whether x and y are dependent given the
// conditioning variables, returning a signed test statistic in [-1, 1]
// and a two-sided p-value.
type IndependenceTest interface {
	Test(x, y []float64, conditioning [][]float64) (stat, p float64, err error)
}

// PartialCorrelationTest implements IndependenceTest via linear partial
// correlation: x and y are each residualized on the conditioning set by
// ordinary least squares, and the Pearson correlation of the residuals is
// the test statistic. The p-value uses the Fisher z-transform with the
// conditioning-set size counted against the degrees of freedom.
type PartialCorrelationTest struct{}

// Test implements IndependenceTest.
func (PartialCorrelationTest) Test(x, y []float64, conditioning [][]float64) (float64, float64, error) {
	n := len(x)
	if len(y) != n {
		return 0, 1, fmt.Errorf("sample length mismatch: %d vs %d", n, len(y))
	}
	k := len(conditioning)
	if n < k+4 {
		return 0, 1, fmt.Errorf("too few samples (%d) for %d conditioning variables", n, k)
	}
	for _, c := range conditioning {
		if len(c) != n {
			return 0, 1, fmt.Errorf("conditioning length mismatch: %d vs %d", len(c), n)
		}
	}

	var r float64
	if k == 0 {
		r = pearson(x, y)
	} else {
		rx := olsResiduals(x, conditioning)
		ry := olsResiduals(y, conditioning)
		r = pearson(rx, ry)
	}
	return clip(r), fisherPValue(r, n, k), nil
}
