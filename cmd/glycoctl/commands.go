// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	serverURL  string // Insights service base URL
	jsonOutput bool   // Raw JSON output for scripting
)

// rootCmd is the entrypoint for the glycoctl CLI.
var rootCmd = &cobra.Command{
	Use:   "glycoctl",
	Short: "Operate the Glycoscope insights service",
	Long: `glycoctl drives the insights pipeline over its HTTP API.

Examples:
  glycoctl trigger alice full        # Run the whole pipeline for alice
  glycoctl status <job-id>           # Poll a job
  glycoctl summary alice --days 14   # Period roll-up
  glycoctl links alice               # Discovered causal links
  glycoctl patterns alice --kind anomaly
  glycoctl rules alice --min-confidence 0.8
  glycoctl invalidate alice          # Drop cached results after an upload`,
}

func init() {
	defaultURL := os.Getenv("INSIGHTS_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:12310"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL,
		"Insights service base URL (env INSIGHTS_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print raw JSON responses for scripting")

	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(linksCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(invalidateCmd)
}
