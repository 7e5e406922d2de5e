package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errArchiveDisabled = errors.New("the result archive is disabled; set ARCHIVE_ENABLED=true")

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Read resolved decisions from the Postgres archive",
	}
	cmd.AddCommand(newArchiveListCmd(), newArchiveShowCmd())
	return cmd
}

func newArchiveListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recently resolved decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *deps) error {
				if d.archive == nil {
					return errArchiveDisabled
				}
				rows, err := d.archive.ListResults(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("listing archive: %w", err)
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No archived results.")
					return nil
				}
				return printValue(cmd.OutOrStdout(), outputFormat, rows)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of results")
	return cmd
}

func newArchiveShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <decision-id>",
		Short: "Show one archived result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *deps) error {
				if d.archive == nil {
					return errArchiveDisabled
				}
				row, err := d.archive.GetResult(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("reading archived result %s: %w", args[0], err)
				}
				return printValue(cmd.OutOrStdout(), outputFormat, row)
			})
		},
	}
}
