// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

var (
	triggerWait bool // Block until the job reaches a terminal state
)

// triggerCmd requests an analysis run.
var triggerCmd = &cobra.Command{
	Use:   "trigger <user-id> <kind>",
	Short: "Trigger an analysis run (aggregate|causal|pattern|rules|full)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := datatypes.TriggerRequest{
			UserID: args[0],
			Kind:   datatypes.AnalysisKind(args[1]),
		}
		var resp datatypes.TriggerResponse
		if err := apiPost("/v1/analysis/trigger", req, &resp); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(resp)
		}
		if resp.Deduplicated {
			fmt.Printf("Run already in flight, job %s\n", resp.JobID)
		} else {
			fmt.Printf("Triggered, job %s\n", resp.JobID)
		}
		if triggerWait {
			return waitForJob(resp.JobID)
		}
		return nil
	},
}

// statusCmd shows one job's lifecycle record.
var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of an analysis job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job datatypes.AnalysisJob
		if err := apiGet("/v1/jobs/"+args[0], &job); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(job)
		}
		printJob(job)
		return nil
	},
}

// invalidateCmd drops a user's cached results.
var invalidateCmd = &cobra.Command{
	Use:   "invalidate <user-id>",
	Short: "Drop cached results for a user (after a bulk data upload)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			UserID         string `json:"user_id"`
			EntriesDropped int    `json:"entries_dropped"`
		}
		if err := apiPost("/v1/users/"+args[0]+"/invalidate", nil, &resp); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(resp)
		}
		fmt.Printf("Dropped %d cached entries for %s\n", resp.EntriesDropped, resp.UserID)
		return nil
	},
}

func init() {
	triggerCmd.Flags().BoolVarP(&triggerWait, "wait", "W", false,
		"Poll until the job succeeds or fails")
}

func waitForJob(jobID string) error {
	for {
		time.Sleep(2 * time.Second)
		var job datatypes.AnalysisJob
		if err := apiGet("/v1/jobs/"+jobID, &job); err != nil {
			return err
		}
		if job.Status.Active() {
			fmt.Printf("  %s (attempt %d)...\n", job.Status, job.Attempts)
			continue
		}
		printJob(job)
		if job.Status == datatypes.JobFailed {
			return fmt.Errorf("job %s failed: %s", jobID, job.LastError)
		}
		return nil
	}
}

func printJob(job datatypes.AnalysisJob) {
	fmt.Printf("Job      %s\n", job.ID)
	fmt.Printf("User     %s\n", job.UserID)
	fmt.Printf("Kind     %s\n", job.Kind)
	fmt.Printf("Status   %s\n", job.Status)
	fmt.Printf("Attempts %d\n", job.Attempts)
	if job.LastError != "" {
		fmt.Printf("Error    %s\n", job.LastError)
	}
	if job.FinishedAt != nil {
		fmt.Printf("Finished %s\n", job.FinishedAt.Format(time.RFC3339))
	}
}
