// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// ConfidenceTier classifies the statistical confidence of a causal link.
//
// Tiers are ordered: fallback < medium < high. A fallback link comes from
// the plain lagged-correlation path used when the sample count for a
// variable pair is below the engine's minimum, and must never outrank a
// link produced by the full conditional-independence test.
type ConfidenceTier string

const (
	TierHigh     ConfidenceTier = "high"     // p < 0.01
	TierMedium   ConfidenceTier = "medium"   // p < alpha
	TierFallback ConfidenceTier = "fallback" // sparse-data correlation fallback
)

// CausalLink is one directed, lagged dependency discovered between two
// daily features. Multiple links may exist for the same (source, target)
// pair at different lags. A user's link set is replaced wholesale on every
// successful causal run.
type CausalLink struct {
	UserID     string         `json:"user_id"`
	Source     FeatureName    `json:"source"`
	Target     FeatureName    `json:"target"`
	LagDays    int            `json:"lag_days"`
	Strength   float64        `json:"strength"` // signed, |strength| <= 1
	PValue     float64        `json:"p_value"`
	Tier       ConfidenceTier `json:"tier"`
	SampleSize int            `json:"sample_size"`
	ComputedAt time.Time      `json:"computed_at"`
}

// PatternKind distinguishes recurring subsequences from outliers.
type PatternKind string

const (
	PatternMotif   PatternKind = "motif"
	PatternAnomaly PatternKind = "anomaly"
)

// Valid reports whether k names a supported pattern kind.
func (k PatternKind) Valid() bool {
	return k == PatternMotif || k == PatternAnomaly
}

// SeverityTier grades how far an anomaly's nearest-neighbor distance sits
// above the series-wide mean, in standard deviations.
type SeverityTier string

const (
	SeverityHigh   SeverityTier = "high"   // > 3 sigma
	SeverityMedium SeverityTier = "medium" // > 2 sigma
	SeverityLow    SeverityTier = "low"
)

// Pattern is one motif cluster or one discord found in a user's glucose
// series. For motifs, Occurrences is the cluster size (always >= 1) and
// Timestamps holds one example start time per member. For anomalies,
// Occurrences is 1 and Timestamps holds the single window start.
type Pattern struct {
	UserID      string       `json:"user_id"`
	Kind        PatternKind  `json:"kind"`
	WindowLen   int          `json:"window_len"` // samples
	Mean        float64      `json:"mean"`
	Std         float64      `json:"std"`
	Min         float64      `json:"min"`
	Max         float64      `json:"max"`
	Occurrences int          `json:"occurrences"`
	Timestamps  []time.Time  `json:"timestamps"`
	Severity    SeverityTier `json:"severity,omitempty"` // anomalies only
	ComputedAt  time.Time    `json:"computed_at"`
}

// AssociationRule is one IF-THEN rule mined from binarized daily features.
// Antecedent and Consequent are disjoint, non-empty predicate label sets.
type AssociationRule struct {
	UserID     string    `json:"user_id"`
	Antecedent []string  `json:"antecedent"`
	Consequent []string  `json:"consequent"`
	Support    float64   `json:"support"`
	Confidence float64   `json:"confidence"`
	ComputedAt time.Time `json:"computed_at"`
}
