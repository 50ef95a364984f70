package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// printJSON writes the one-shot command result to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFitCmd() *cobra.Command {
	var profileID, collegeID int64
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Classify fit for a profile against a college",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			fit, err := a.classifier.ClassifyFit(cmd.Context(), profileID, collegeID)
			if err != nil {
				return err
			}
			return printJSON(fit)
		},
	}
	cmd.Flags().Int64Var(&profileID, "profile", 0, "Profile id")
	cmd.Flags().Int64Var(&collegeID, "college", 0, "College id")
	_ = cmd.MarkFlagRequired("profile")
	_ = cmd.MarkFlagRequired("college")
	return cmd
}

func newChanceCmd() *cobra.Command {
	var profileID, collegeID int64
	cmd := &cobra.Command{
		Use:   "chance",
		Short: "Estimate admission chance for a profile against a college",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			result, err := a.calculator.Calculate(cmd.Context(), profileID, collegeID)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().Int64Var(&profileID, "profile", 0, "Profile id")
	cmd.Flags().Int64Var(&collegeID, "college", 0, "College id")
	_ = cmd.MarkFlagRequired("profile")
	_ = cmd.MarkFlagRequired("college")
	return cmd
}

func newTasksCmd() *cobra.Command {
	var userID, collegeID int64
	var criticalPath bool
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Decompose an application into tasks, or show its critical path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			if criticalPath {
				path, err := a.decomposer.GetCriticalPath(cmd.Context(), userID, collegeID)
				if err != nil {
					return err
				}
				return printJSON(path)
			}
			created, err := a.decomposer.CreateApplicationTasks(cmd.Context(), userID, collegeID)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%d tasks\n", len(created))
			return printJSON(created)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id")
	cmd.Flags().Int64Var(&collegeID, "college", 0, "College id")
	cmd.Flags().BoolVar(&criticalPath, "critical-path", false, "Show the critical path instead of decomposing")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("college")
	return cmd
}

func newRiskCmd() *cobra.Command {
	var userID, collegeID int64
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Assess deadline risk for a user, or one (user, college) pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			if collegeID != 0 {
				assessment, err := a.riskEngine.CalculateRisk(cmd.Context(), userID, collegeID)
				if err != nil {
					return err
				}
				return printJSON(assessment)
			}
			overview, err := a.riskEngine.GetOverview(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printJSON(overview)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id")
	cmd.Flags().Int64Var(&collegeID, "college", 0, "College id (omit for the full overview)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newExplainCmd() *cobra.Command {
	var userID, collegeID int64
	var raw bool
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Show the recorded decision trace for a (user, college) pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			trace, err := a.ledger.Explain(cmd.Context(), userID, collegeID)
			if err != nil {
				return err
			}
			if raw {
				return printJSON(trace)
			}
			for _, line := range trace.Lines {
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id")
	cmd.Flags().Int64Var(&collegeID, "college", 0, "College id")
	cmd.Flags().BoolVar(&raw, "json", false, "Print raw records as JSON")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("college")
	return cmd
}
