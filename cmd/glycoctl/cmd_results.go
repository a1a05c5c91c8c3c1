// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

var (
	summaryDays   int
	patternKind   string
	minConfidence float64
)

// summaryCmd prints a user's dashboard roll-up.
var summaryCmd = &cobra.Command{
	Use:   "summary <user-id>",
	Short: "Show a user's dashboard summary over the last N days",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/v1/users/%s/summary?days=%d", args[0], summaryDays)
		var s datatypes.DashboardSummary
		if err := apiGet(path, &s); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(s)
		}
		fmt.Printf("Summary for %s (last %d days, %d with data)\n",
			s.UserID, s.PeriodDays, s.DaysWithData)
		printMean("Glucose mean", s.GlucoseMean, "mg/dL")
		printMean("Time in range", s.TimeInRangePct, "%")
		printMean("Sleep", s.SleepMinutesMean, "min/day")
		printMean("Exercise", s.ExerciseMinutesMean, "min/day")
		printMean("Carbs", s.CarbGramsMean, "g/day")
		warnStale(s.LastRunFailed)
		return nil
	},
}

// linksCmd prints a user's discovered causal links.
var linksCmd = &cobra.Command{
	Use:   "links <user-id>",
	Short: "Show a user's discovered causal links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp datatypes.CausalLinksResponse
		if err := apiGet("/v1/users/"+args[0]+"/causal-links", &resp); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(resp)
		}
		fmt.Printf("Causal links for %s (computed %s)\n",
			resp.UserID, resp.ComputedAt.Format(time.RFC3339))
		for _, l := range resp.Links {
			fmt.Printf("  %-18s -> %-18s lag %dd  strength %+.3f  p=%.4f  [%s]\n",
				l.Source, l.Target, l.LagDays, l.Strength, l.PValue, l.Tier)
		}
		if len(resp.Links) == 0 {
			fmt.Println("  (none)")
		}
		warnStale(resp.LastRunFailed)
		return nil
	},
}

// patternsCmd prints a user's glucose motifs or anomalies.
var patternsCmd = &cobra.Command{
	Use:   "patterns <user-id>",
	Short: "Show a user's glucose patterns (motifs or anomalies)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/v1/users/%s/patterns?kind=%s", args[0], patternKind)
		var resp datatypes.PatternsResponse
		if err := apiGet(path, &resp); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(resp)
		}
		fmt.Printf("%s patterns for %s (computed %s)\n",
			resp.Kind, resp.UserID, resp.ComputedAt.Format(time.RFC3339))
		for _, p := range resp.Patterns {
			line := fmt.Sprintf("  window %d  mean %.1f  std %.1f  range [%.1f, %.1f]  x%d",
				p.WindowLen, p.Mean, p.Std, p.Min, p.Max, p.Occurrences)
			if p.Severity != "" {
				line += fmt.Sprintf("  severity=%s", p.Severity)
			}
			fmt.Println(line)
			if len(p.Timestamps) > 0 {
				fmt.Printf("    first at %s\n", p.Timestamps[0].Format(time.RFC3339))
			}
		}
		if len(resp.Patterns) == 0 {
			fmt.Println("  (none)")
		}
		warnStale(resp.LastRunFailed)
		return nil
	},
}

// rulesCmd prints a user's mined association rules.
var rulesCmd = &cobra.Command{
	Use:   "rules <user-id>",
	Short: "Show a user's association rules above a confidence floor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/v1/users/%s/rules?min_confidence=%g", args[0], minConfidence)
		var resp datatypes.RulesResponse
		if err := apiGet(path, &resp); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(resp)
		}
		fmt.Printf("Rules for %s at confidence >= %.2f (computed %s)\n",
			resp.UserID, resp.MinConfidence, resp.ComputedAt.Format(time.RFC3339))
		for _, r := range resp.Rules {
			fmt.Printf("  IF %s THEN %s  (support %.2f, confidence %.2f)\n",
				strings.Join(r.Antecedent, " AND "),
				strings.Join(r.Consequent, " AND "),
				r.Support, r.Confidence)
		}
		if len(resp.Rules) == 0 {
			fmt.Println("  (none)")
		}
		warnStale(resp.LastRunFailed)
		return nil
	},
}

func init() {
	summaryCmd.Flags().IntVarP(&summaryDays, "days", "d", 14,
		"Number of trailing days to summarize")
	patternsCmd.Flags().StringVarP(&patternKind, "kind", "k", "motif",
		"Pattern kind to list (motif|anomaly)")
	rulesCmd.Flags().Float64VarP(&minConfidence, "min-confidence", "c", 0.7,
		"Minimum rule confidence to include")
}

func printMean(label string, v *float64, unit string) {
	if v == nil {
		fmt.Printf("  %-14s no data\n", label)
		return
	}
	fmt.Printf("  %-14s %.1f %s\n", label, *v, unit)
}

func warnStale(failed bool) {
	if failed {
		fmt.Println("  warning: last analysis run failed, results may be stale")
	}
}
