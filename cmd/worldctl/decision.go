package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"worldvote/shared/models"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// loadDecisionFile reads a decision definition from a YAML (or JSON) file.
func loadDecisionFile(path string) (*models.Decision, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading decision file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var d models.Decision
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("parsing decision file %s: %w", path, err)
	}
	if d.ID == "" {
		return nil, fmt.Errorf("decision file %s: id is required", path)
	}
	if len(d.Options) == 0 {
		return nil, fmt.Errorf("decision file %s: at least one option is required", path)
	}
	return &d, nil
}

func newDecisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decision",
		Short: "Manage the decision open for voting",
	}
	cmd.AddCommand(newDecisionSetCmd(), newDecisionShowCmd(), newDecisionTallyCmd())
	return cmd
}

func newDecisionSetCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Register a decision from a file and make it current",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDecisionFile(file)
			if err != nil {
				return err
			}
			return withDeps(cmd.Context(), func(deps *deps) error {
				if err := deps.engine.SetCurrentDecision(cmd.Context(), d); err != nil {
					return fmt.Errorf("registering decision %s: %w", d.ID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Decision %s is now open with %d options.\n", d.ID, len(d.Options))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Decision definition file (YAML)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newDecisionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *deps) error {
				decision, err := d.engine.GetCurrentDecision(cmd.Context())
				if errors.Is(err, models.ErrNotFound) {
					fmt.Fprintln(cmd.OutOrStdout(), "No decision is open.")
					return nil
				}
				if err != nil {
					return fmt.Errorf("reading current decision: %w", err)
				}
				return printValue(cmd.OutOrStdout(), outputFormat, decision)
			})
		},
	}
}

func newDecisionTallyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tally [decision-id]",
		Short: "Show the running vote counts of a decision",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *deps) error {
				id, err := decisionArg(cmd, d, args)
				if err != nil {
					return err
				}
				tally, err := d.engine.GetTally(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("reading tally of %s: %w", id, err)
				}
				return printValue(cmd.OutOrStdout(), outputFormat, tally)
			})
		},
	}
}

// decisionArg returns the decision id from args or, when omitted, the current decision.
func decisionArg(cmd *cobra.Command, d *deps, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	current, err := d.engine.GetCurrentDecision(cmd.Context())
	if err != nil {
		return "", fmt.Errorf("no decision id given and no current decision: %w", err)
	}
	return current.ID, nil
}

func newVoteCmd() *cobra.Command {
	var decisionID string

	cmd := &cobra.Command{
		Use:   "vote <participant-id> <option-id>",
		Short: "Record a vote on behalf of a participant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *deps) error {
				vote, err := d.engine.SubmitVote(cmd.Context(), args[0], decisionID, args[1])
				if err != nil {
					return fmt.Errorf("submitting vote: %w", err)
				}
				return printValue(cmd.OutOrStdout(), outputFormat, vote)
			})
		},
	}

	cmd.Flags().StringVar(&decisionID, "decision", "", "Decision id (defaults to the current decision)")
	return cmd
}

func newResolveCmd() *cobra.Command {
	var (
		file     string
		eligible int
	)

	cmd := &cobra.Command{
		Use:   "resolve [decision-id]",
		Short: "Run the resolution cycle for a decision",
		Long: "Tallies the votes, applies the winning option to the world, updates participant " +
			"profiles and leaderboards. Re-running returns the stored result.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fromFile *models.Decision
			if file != "" {
				d, err := loadDecisionFile(file)
				if err != nil {
					return err
				}
				fromFile = d
			}

			return withDeps(cmd.Context(), func(d *deps) error {
				ctx := cmd.Context()
				var id string
				if fromFile != nil {
					if err := d.engine.SetCurrentDecision(ctx, fromFile); err != nil {
						return fmt.Errorf("registering decision %s: %w", fromFile.ID, err)
					}
					id = fromFile.ID
				} else {
					var err error
					if id, err = decisionArg(cmd, d, args); err != nil {
						return err
					}
				}

				result, err := d.engine.Resolve(ctx, id, eligible)
				if err != nil {
					return fmt.Errorf("resolving %s: %w", id, err)
				}
				return printValue(cmd.OutOrStdout(), outputFormat, result)
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Register this decision file before resolving")
	cmd.Flags().IntVar(&eligible, "eligible", 0, "Eligible participants (0 uses the configured estimate)")
	return cmd
}
