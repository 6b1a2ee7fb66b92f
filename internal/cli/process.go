package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mquevedo/evalflow/internal/process"
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Evaluation process lifecycle",
}

var processStartCmd = &cobra.Command{
	Use:   "start [project-id]",
	Short: "Start the evaluation process for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instrument, _ := cmd.Flags().GetString("instrument")
		date, err := dateFlag(cmd, "date")
		if err != nil {
			return err
		}

		ctx := context.Background()
		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		tracker, _, err := newTracker(pool)
		if err != nil {
			return err
		}

		p, err := tracker.Start(ctx, args[0], date, process.Instrument(instrument))
		if err != nil {
			return err
		}
		fmt.Printf("Process %s started for project %s (%s, budget %d legal days).\n",
			p.ID, p.ProjectID, p.Instrument, p.BudgetDays)
		return nil
	},
}

var processAdmitCmd = &cobra.Command{
	Use:   "admit [process-id]",
	Short: "Record the admissibility result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parse process id: %w", err)
		}
		result, _ := cmd.Flags().GetString("result")
		notes, _ := cmd.Flags().GetString("notes")
		date, err := dateFlag(cmd, "date")
		if err != nil {
			return err
		}

		ctx := context.Background()
		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		tracker, _, err := newTracker(pool)
		if err != nil {
			return err
		}

		p, err := tracker.RecordAdmissibility(ctx, id, process.AdmissibilityResult(result), date, notes)
		if err != nil {
			return err
		}
		fmt.Printf("Process %s is now %s.\n", p.ID, p.State)
		return nil
	},
}

var processObserveCmd = &cobra.Command{
	Use:   "observe [process-id]",
	Short: "Open a clarification round from an items JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parse process id: %w", err)
		}
		itemsFile, _ := cmd.Flags().GetString("items")
		override, _ := cmd.Flags().GetBool("override")
		date, err := dateFlag(cmd, "date")
		if err != nil {
			return err
		}

		data, err := os.ReadFile(itemsFile)
		if err != nil {
			return fmt.Errorf("read items file: %w", err)
		}
		var items []process.ObservationItem
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("parse items file: %w", err)
		}

		ctx := context.Background()
		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		tracker, _, err := newTracker(pool)
		if err != nil {
			return err
		}

		round, err := tracker.OpenClarificationRound(ctx, id, date, items, override)
		if err != nil {
			return err
		}
		fmt.Printf("Round %d opened with %d items; response due %s.\n",
			round.Seq, len(round.Items), round.ResponseDue.Format("2006-01-02"))
		return nil
	},
}

var processRespondCmd = &cobra.Command{
	Use:   "respond [round-id]",
	Short: "Record a response round from an items JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parse round id: %w", err)
		}
		itemsFile, _ := cmd.Flags().GetString("items")
		date, err := dateFlag(cmd, "date")
		if err != nil {
			return err
		}

		data, err := os.ReadFile(itemsFile)
		if err != nil {
			return fmt.Errorf("read items file: %w", err)
		}
		var items []process.ResponseItem
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("parse items file: %w", err)
		}

		ctx := context.Background()
		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		tracker, _, err := newTracker(pool)
		if err != nil {
			return err
		}

		resp, err := tracker.RecordResponse(ctx, id, date, items)
		if err != nil {
			return err
		}
		fmt.Printf("Response %d recorded: %d answered, %d pending.\n",
			resp.Seq, resp.AnsweredCount, resp.PendingCount)
		return nil
	},
}

var processResolveCmd = &cobra.Command{
	Use:   "resolve [process-id]",
	Short: "Record the final resolution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parse process id: %w", err)
		}
		resolution, _ := cmd.Flags().GetString("resolution")
		ref, _ := cmd.Flags().GetString("ref")
		date, err := dateFlag(cmd, "date")
		if err != nil {
			return err
		}

		ctx := context.Background()
		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		tracker, _, err := newTracker(pool)
		if err != nil {
			return err
		}

		p, err := tracker.RecordResolution(ctx, id, process.Resolution(resolution), date, ref)
		if err != nil {
			return err
		}
		fmt.Printf("Process %s resolved: %s.\n", p.ID, p.Resolution)
		return nil
	},
}

var processVerdictCmd = &cobra.Command{
	Use:   "verdict [round-id]",
	Short: "Record the reviewer's verdict on a round's latest response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parse round id: %w", err)
		}
		verdict, _ := cmd.Flags().GetString("verdict")
		qualsFile, _ := cmd.Flags().GetString("qualifications")
		date, err := dateFlag(cmd, "date")
		if err != nil {
			return err
		}

		var quals map[string]process.Qualification
		if qualsFile != "" {
			data, err := os.ReadFile(qualsFile)
			if err != nil {
				return fmt.Errorf("read qualifications file: %w", err)
			}
			if err := json.Unmarshal(data, &quals); err != nil {
				return fmt.Errorf("parse qualifications file: %w", err)
			}
		}

		ctx := context.Background()
		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		tracker, _, err := newTracker(pool)
		if err != nil {
			return err
		}

		resp, err := tracker.RecordVerdict(ctx, id, process.Verdict(verdict), date, quals)
		if err != nil {
			return err
		}
		fmt.Printf("Response %d reviewed: %s.\n", resp.Seq, resp.Verdict)
		return nil
	},
}

var processLapseCmd = &cobra.Command{
	Use:   "lapse [round-id]",
	Short: "Mark an unanswered round lapsed after its deadline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parse round id: %w", err)
		}
		asOf, err := dateFlag(cmd, "as-of")
		if err != nil {
			return err
		}

		ctx := context.Background()
		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		tracker, _, err := newTracker(pool)
		if err != nil {
			return err
		}

		round, err := tracker.MarkRoundLapsed(ctx, id, asOf)
		if err != nil {
			return err
		}
		fmt.Printf("Round %d marked lapsed; deadline was %s.\n",
			round.Seq, round.ResponseDue.Format("2006-01-02"))
		return nil
	},
}

var processAdvanceCmd = &cobra.Command{
	Use:   "advance [process-id]",
	Short: "Advance the process along the review pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parse process id: %w", err)
		}
		ctx := context.Background()
		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		tracker, _, err := newTracker(pool)
		if err != nil {
			return err
		}
		p, err := tracker.Advance(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Process %s is now %s.\n", p.ID, p.State)
		return nil
	},
}

var processStatusCmd = &cobra.Command{
	Use:   "status [project-id]",
	Short: "Show the process summary for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		tracker, ledger, err := newTracker(pool)
		if err != nil {
			return err
		}

		summary, err := tracker.Summary(ctx, ledger, args[0], time.Now().UTC())
		if err != nil {
			return err
		}

		fmt.Printf("Project %s — %s (%s)\n", summary.ProjectID, summary.State, summary.Instrument)
		fmt.Printf("  Legal days: %d elapsed, %d suspended, %d of %d remaining\n",
			summary.ElapsedDays, summary.SuspendedDays, summary.RemainingDays,
			summary.BudgetDays+summary.ExtensionDays)
		fmt.Printf("  Rounds: %d, pending items: %d\n", summary.RoundCount, summary.PendingItems)
		for _, bc := range summary.PendingByBody {
			fmt.Printf("    %-30s %d pending / %d total\n", bc.ReviewingBody, bc.Pending, bc.Total)
		}
		fmt.Printf("  Next: %s\n", summary.NextAction)
		if summary.DeadlineAlert != "" {
			fmt.Printf("  ALERT: %s\n", summary.DeadlineAlert)
		}
		return nil
	},
}

func dateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return time.Now().UTC(), nil
	}
	d, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --%s: expected YYYY-MM-DD", name)
	}
	return d, nil
}

func init() {
	processStartCmd.Flags().String("instrument", "full", "Regulatory instrument: full or simplified")
	processStartCmd.Flags().String("date", "", "Submission date (YYYY-MM-DD, default today)")

	processAdmitCmd.Flags().String("result", "admitted", "Admissibility result: admitted or rejected")
	processAdmitCmd.Flags().String("notes", "", "Admissibility notes")
	processAdmitCmd.Flags().String("date", "", "Decision date (YYYY-MM-DD, default today)")

	processObserveCmd.Flags().String("items", "", "JSON file with observation items")
	processObserveCmd.Flags().Bool("override", false, "Allow an exceptional round beyond the legal cap")
	processObserveCmd.Flags().String("date", "", "Issue date (YYYY-MM-DD, default today)")
	processObserveCmd.MarkFlagRequired("items")

	processRespondCmd.Flags().String("items", "", "JSON file with response items")
	processRespondCmd.Flags().String("date", "", "Submission date (YYYY-MM-DD, default today)")
	processRespondCmd.MarkFlagRequired("items")

	processVerdictCmd.Flags().String("verdict", "", "sufficient, insufficient or partially_sufficient")
	processVerdictCmd.Flags().String("qualifications", "", "JSON file mapping item ids to sufficient/insufficient")
	processVerdictCmd.Flags().String("date", "", "Review date (YYYY-MM-DD, default today)")
	processVerdictCmd.MarkFlagRequired("verdict")

	processLapseCmd.Flags().String("as-of", "", "Evaluation date (YYYY-MM-DD, default today)")

	processResolveCmd.Flags().String("resolution", "", "favorable, favorable_with_conditions, unfavorable, withdrawn or lapsed")
	processResolveCmd.Flags().String("ref", "", "Resolution reference")
	processResolveCmd.Flags().String("date", "", "Resolution date (YYYY-MM-DD, default today)")
	processResolveCmd.MarkFlagRequired("resolution")

	processCmd.AddCommand(processStartCmd)
	processCmd.AddCommand(processAdmitCmd)
	processCmd.AddCommand(processObserveCmd)
	processCmd.AddCommand(processRespondCmd)
	processCmd.AddCommand(processVerdictCmd)
	processCmd.AddCommand(processLapseCmd)
	processCmd.AddCommand(processAdvanceCmd)
	processCmd.AddCommand(processResolveCmd)
	processCmd.AddCommand(processStatusCmd)
}
