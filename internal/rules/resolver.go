// Package rules determines winners for a settled round. Resolve is a pure
// function over the game configuration, the drawn outcome and the frozen
// entry set; the random pieces (outcome draw, random-rule winner pick) live
// in draw.go and use crypto/rand so outcomes cannot be anticipated.
package rules

import (
	"fmt"

	"github.com/malamalweekly/backend/internal/models"
)

// Resolve returns the winning entries for a drawn outcome.
//
// exact_match: entries whose choice equals the outcome (sequence equality for
// number games, set equality for option-selection games).
// partial_match: entries achieving the maximum positional match count,
// provided that maximum is above zero.
// closest: single-number games only; entries minimizing absolute distance to
// the outcome, ties sharing the win.
//
// The random rule has no deterministic criterion and is handled by
// PickRandom, not here.
func Resolve(cfg models.GameConfig, matchRule string, outcome models.Choice, entries []models.Entry) ([]models.Entry, error) {
	switch matchRule {
	case models.RuleExactMatch:
		return resolveExact(cfg, outcome, entries), nil
	case models.RulePartialMatch:
		return resolvePartial(outcome, entries), nil
	case models.RuleClosest:
		return resolveClosest(outcome, entries)
	case models.RuleRandom:
		return nil, fmt.Errorf("random rule has no deterministic winner set")
	default:
		return nil, fmt.Errorf("unknown match rule %q", matchRule)
	}
}

func resolveExact(cfg models.GameConfig, outcome models.Choice, entries []models.Entry) []models.Entry {
	var winners []models.Entry
	for _, e := range entries {
		if e.Choice.Equal(outcome, cfg.Unordered()) {
			winners = append(winners, e)
		}
	}
	return winners
}

func resolvePartial(outcome models.Choice, entries []models.Entry) []models.Entry {
	best := 0
	var winners []models.Entry
	for _, e := range entries {
		score := e.Choice.MatchCount(outcome)
		switch {
		case score == 0:
			continue
		case score > best:
			best = score
			winners = []models.Entry{e}
		case score == best:
			winners = append(winners, e)
		}
	}
	return winners
}

func resolveClosest(outcome models.Choice, entries []models.Entry) ([]models.Entry, error) {
	target, ok := outcome.SingleNumber()
	if !ok {
		return nil, fmt.Errorf("closest rule requires a single-number outcome")
	}

	bestDistance := -1
	var winners []models.Entry
	for _, e := range entries {
		n, ok := e.Choice.SingleNumber()
		if !ok {
			continue
		}
		distance := n - target
		if distance < 0 {
			distance = -distance
		}
		switch {
		case bestDistance < 0 || distance < bestDistance:
			bestDistance = distance
			winners = []models.Entry{e}
		case distance == bestDistance:
			winners = append(winners, e)
		}
	}
	return winners, nil
}
