package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <job>",
		Short: "Run one scheduler job immediately",
		Long: `Runs a named background job once and exits. Jobs:
  monthly-refresh          refresh deadlines for actively applied-to colleges
  quarterly-stale-refresh  refresh colleges not scraped in 90 days
  nightly-retrain          retrain per-college chancing models
  daily-risk-check         recompute deadline risk for active users`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			sched := a.scheduler()
			if !sched.RunNow(cmd.Context(), args[0]) {
				return fmt.Errorf("unknown job %q (have: %s)",
					args[0], strings.Join(sched.JobNames(), ", "))
			}
			return nil
		},
	}
}
