package main

import (
	"errors"
	"fmt"

	"worldvote/shared/models"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the initial world state if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *deps) error {
				state, err := d.engine.Initialize(cmd.Context())
				if err != nil {
					return fmt.Errorf("initializing world: %w", err)
				}
				return printValue(cmd.OutOrStdout(), outputFormat, state)
			})
		},
	}
}

func newStateCmd() *cobra.Command {
	var (
		historyLimit int
		analysis     bool
	)

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the current world state",
		Long:  "Shows the world attributes and lore log. With --analysis, adds balance, trends and alerts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withDeps(ctx, func(d *deps) error {
				out := map[string]any{}
				if analysis {
					a, err := d.engine.Analysis(ctx)
					if err != nil {
						return fmt.Errorf("analysing world: %w", err)
					}
					out["analysis"] = a
				} else {
					state, err := d.engine.GetCurrentState(ctx)
					if err != nil {
						return fmt.Errorf("reading world state: %w", err)
					}
					out["state"] = state
				}
				if historyLimit > 0 {
					history, err := d.engine.History(ctx, historyLimit)
					if err != nil {
						return fmt.Errorf("reading world history: %w", err)
					}
					out["history"] = history
				}
				return printValue(cmd.OutOrStdout(), outputFormat, out)
			})
		},
	}

	cmd.Flags().IntVar(&historyLimit, "history", 0, "Also show the N most recent history entries")
	cmd.Flags().BoolVar(&analysis, "analysis", false, "Show balance score, trends and critical alerts")
	return cmd
}

func newResetCmd() *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the world to its default attributes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("reset discards the current attributes and lore; pass --yes to confirm")
			}
			return withDeps(cmd.Context(), func(d *deps) error {
				state, err := d.engine.ResetWorld(cmd.Context())
				if err != nil {
					return fmt.Errorf("resetting world: %w", err)
				}
				return printValue(cmd.OutOrStdout(), outputFormat, state)
			})
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm the reset")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	var decisionID, participantID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair derived records after a partial failure",
		Long: "Without flags, finishes a world transition whose history entry was not written.\n" +
			"--decision recounts a decision's tally from its indexed votes.\n" +
			"--participant re-evaluates a participant's achievements and rankings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withDeps(ctx, func(d *deps) error {
				switch {
				case decisionID != "":
					tally, err := d.engine.RebuildTally(ctx, decisionID)
					if err != nil {
						return fmt.Errorf("rebuilding tally of %s: %w", decisionID, err)
					}
					return printValue(cmd.OutOrStdout(), outputFormat, tally)
				case participantID != "":
					awarded, err := d.engine.EvaluateAchievements(ctx, participantID)
					if err != nil {
						return fmt.Errorf("evaluating achievements of %s: %w", participantID, err)
					}
					return printValue(cmd.OutOrStdout(), outputFormat, map[string]any{"awarded": awarded})
				}

				repaired, err := d.engine.Reconcile(ctx)
				if err != nil {
					return fmt.Errorf("reconciling world history: %w", err)
				}
				if repaired {
					fmt.Fprintln(cmd.OutOrStdout(), "Pending history entry written.")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to reconcile.")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&decisionID, "decision", "", "Recount the tally of this decision")
	cmd.Flags().StringVar(&participantID, "participant", "", "Re-evaluate achievements of this participant")
	cmd.MarkFlagsMutuallyExclusive("decision", "participant")
	return cmd
}

func newApplyCmd() *cobra.Command {
	var (
		fx   models.WorldAttributeEffects
		lore string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a manual attribute adjustment outside of a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *deps) error {
				res, err := d.engine.UpdateAttributes(cmd.Context(), fx, lore)
				if err != nil {
					return fmt.Errorf("applying effects: %w", err)
				}
				return printValue(cmd.OutOrStdout(), outputFormat, map[string]any{
					"state":     res.State,
					"requested": res.Requested,
					"actual":    res.Actual,
				})
			})
		},
	}

	cmd.Flags().IntVar(&fx.Stability, "stability", 0, "Stability delta in [-3,3]")
	cmd.Flags().IntVar(&fx.Prosperity, "prosperity", 0, "Prosperity delta in [-3,3]")
	cmd.Flags().IntVar(&fx.Knowledge, "knowledge", 0, "Knowledge delta in [-3,3]")
	cmd.Flags().IntVar(&fx.Harmony, "harmony", 0, "Harmony delta in [-3,3]")
	cmd.Flags().StringVar(&lore, "lore", "", "Lore entry to append")
	return cmd
}
