package ballot

import (
	"fmt"
	"time"

	"worldvote/internal/effects"
	"worldvote/shared/models"
)

// ValidateDecision checks a decision definition before it is accepted.
func ValidateDecision(d *models.Decision) error {
	if d == nil {
		return fmt.Errorf("%w: decision is required", models.ErrInvalidInput)
	}
	// decision:current хранит указатель на текущее решение, отсюда ne=current в теге
	if err := models.ValidateStruct(d); err != nil {
		return fmt.Errorf("decision %q: %w", d.ID, err)
	}
	for _, o := range d.Options {
		if err := effects.ValidateEffectLimits(o.Effects); err != nil {
			return fmt.Errorf("decision %s option %s: %w", d.ID, o.ID, err)
		}
	}
	if d.DefaultOptionID != "" {
		if _, ok := d.Option(d.DefaultOptionID); !ok {
			return fmt.Errorf("%w: default option %s", models.ErrUnknownOption, d.DefaultOptionID)
		}
	}
	if !d.OpensAt.IsZero() && !d.ClosesAt.IsZero() && !d.ClosesAt.After(d.OpensAt) {
		return fmt.Errorf("%w: decision %s closes before it opens", models.ErrInvalidInput, d.ID)
	}
	return nil
}

// ParticipationRate is total/eligible capped at 1 and rounded to two decimals.
// An unknown population (eligible <= 0) yields 0.
func ParticipationRate(total int64, eligible int) float64 {
	if eligible <= 0 || total <= 0 {
		return 0
	}
	rate := float64(total) / float64(eligible)
	if rate > 1 {
		rate = 1
	}
	return effects.Round2(rate)
}

// Resolve picks the winner of a tally. The highest count wins; on a tie the
// option listed first in the decision wins. With no votes the decision's
// default option (or fallbackOptionID) wins, and without one ErrNoVotesCast
// is returned.
func Resolve(decision models.Decision, tally models.VoteTally, eligible int, fallbackOptionID string, now time.Time) (*models.VoteResult, error) {
	if len(decision.Options) == 0 {
		return nil, fmt.Errorf("%w: decision %s has no options", models.ErrInvalidInput, decision.ID)
	}

	var (
		winner   models.Option
		fallback bool
	)
	if tally.Total == 0 {
		id := decision.DefaultOptionID
		if id == "" {
			id = fallbackOptionID
		}
		if id == "" {
			return nil, fmt.Errorf("%w: decision %s", models.ErrNoVotesCast, decision.ID)
		}
		opt, ok := decision.Option(id)
		if !ok {
			return nil, fmt.Errorf("%w: fallback option %s for decision %s", models.ErrUnknownOption, id, decision.ID)
		}
		winner, fallback = opt, true
	} else {
		best := int64(-1)
		for _, o := range decision.Options {
			if c := tally.Counts[o.ID]; c > best {
				best, winner = c, o
			}
		}
	}

	result := &models.VoteResult{
		DecisionID:        decision.ID,
		WinningOption:     winner,
		Tally:             tally,
		AttributeChanges:  winner.Effects,
		ParticipationRate: ParticipationRate(tally.Total, eligible),
		FallbackUsed:      fallback,
		ResolvedAt:        now.UTC(),
	}
	result.Summary = summarize(decision, winner, tally, result.ParticipationRate, fallback)
	return result, nil
}

func summarize(decision models.Decision, winner models.Option, tally models.VoteTally, rate float64, fallback bool) string {
	label := winner.Label
	if label == "" {
		label = winner.ID
	}
	if fallback {
		return fmt.Sprintf("No votes were cast on %q; default option %q was applied.", title(decision), label)
	}
	return fmt.Sprintf("Option %q won %q with %d of %d votes (%.0f%% participation).",
		label, title(decision), tally.Counts[winner.ID], tally.Total, rate*100)
}

func title(d models.Decision) string {
	if d.Title != "" {
		return d.Title
	}
	return d.ID
}
