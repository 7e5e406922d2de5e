package main

import (
	"fmt"

	"worldvote/shared/models"

	"github.com/spf13/cobra"
)

// parseBucket validates the category and timeframe flags.
func parseBucket(category, timeframe string) (models.LeaderboardCategory, models.Timeframe, error) {
	c := models.LeaderboardCategory(category)
	if !c.Valid() {
		return "", "", fmt.Errorf("invalid category %q, valid categories: %v", category, models.AllLeaderboardCategories)
	}
	tf := models.Timeframe(timeframe)
	if !tf.Valid() {
		return "", "", fmt.Errorf("invalid timeframe %q, valid timeframes: %v", timeframe, models.AllTimeframes)
	}
	return c, tf, nil
}

func newLeaderboardCmd() *cobra.Command {
	var (
		category  string
		timeframe string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show a leaderboard page",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, tf, err := parseBucket(category, timeframe)
			if err != nil {
				return err
			}
			return withDeps(cmd.Context(), func(d *deps) error {
				board, err := d.engine.GetLeaderboard(cmd.Context(), c, tf, limit)
				if err != nil {
					return fmt.Errorf("reading leaderboard: %w", err)
				}
				if outputFormat == "table" {
					printLeaderboardTable(cmd, board)
					return nil
				}
				return printValue(cmd.OutOrStdout(), outputFormat, board)
			})
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", string(models.LeaderboardTotalVotes), "Scoring category")
	cmd.Flags().StringVarP(&timeframe, "timeframe", "t", string(models.TimeframeAllTime), "all_time, monthly or weekly")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Entries to show (0 uses the configured default)")
	return cmd
}

func printLeaderboardTable(cmd *cobra.Command, board *models.Leaderboard) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s / %s %s (%d participants)\n", board.Category, board.Timeframe, board.Period, board.TotalParticipants)
	for _, e := range board.Entries {
		change := ""
		switch {
		case e.RankChange > 0:
			change = fmt.Sprintf("+%d", e.RankChange)
		case e.RankChange < 0:
			change = fmt.Sprintf("%d", e.RankChange)
		}
		fmt.Fprintf(w, "%4d  %-24s %10.2f  %6.2f%%  %s\n", e.Rank, e.ParticipantID, e.Score, e.Percentile, change)
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <participant-id>",
		Short: "Show a participant's profile, streaks and achievements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *deps) error {
				stats, err := d.engine.GetParticipantStats(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("reading stats of %s: %w", args[0], err)
				}
				return printValue(cmd.OutOrStdout(), outputFormat, stats)
			})
		},
	}
}

func newRankCmd() *cobra.Command {
	var (
		category  string
		timeframe string
	)

	cmd := &cobra.Command{
		Use:   "rank <participant-id>",
		Short: "Show a participant's rank in one leaderboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, tf, err := parseBucket(category, timeframe)
			if err != nil {
				return err
			}
			return withDeps(cmd.Context(), func(d *deps) error {
				rank, err := d.engine.GetParticipantRank(cmd.Context(), args[0], c, tf)
				if err != nil {
					return fmt.Errorf("reading rank of %s: %w", args[0], err)
				}
				return printValue(cmd.OutOrStdout(), outputFormat, rank)
			})
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", string(models.LeaderboardTotalVotes), "Scoring category")
	cmd.Flags().StringVarP(&timeframe, "timeframe", "t", string(models.TimeframeAllTime), "all_time, monthly or weekly")
	return cmd
}
