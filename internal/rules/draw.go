package rules

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/malamalweekly/backend/internal/models"
)

var ErrNotDrawable = errors.New("game archetype has no drawable outcome")

// Draw generates a winning outcome for the game configuration using a
// cryptographically-unpredictable source. Text games have no drawable
// outcome; they must use the random rule and skip the draw.
func Draw(cfg models.GameConfig) (models.Choice, error) {
	switch cfg.Archetype {
	case models.ArchetypeNumbers:
		return drawNumbers(cfg.Numbers)
	case models.ArchetypeChoices:
		return drawChoices(cfg.Choices)
	case models.ArchetypeText:
		return models.Choice{}, ErrNotDrawable
	default:
		return models.Choice{}, fmt.Errorf("unknown archetype %q", cfg.Archetype)
	}
}

// PickRandom selects one entry uniformly at random, for games without a
// deterministic match criterion.
func PickRandom(entries []models.Entry) (models.Entry, error) {
	if len(entries) == 0 {
		return models.Entry{}, errors.New("no entries to pick from")
	}
	idx, err := randInt(len(entries))
	if err != nil {
		return models.Entry{}, err
	}
	return entries[idx], nil
}

func drawNumbers(cfg *models.NumbersConfig) (models.Choice, error) {
	span := cfg.Max - cfg.Min + 1
	if !cfg.AllowDuplicates && cfg.Count > span {
		return models.Choice{}, fmt.Errorf("cannot draw %d distinct numbers from a range of %d", cfg.Count, span)
	}

	numbers := make([]int, 0, cfg.Count)
	seen := make(map[int]bool, cfg.Count)
	for len(numbers) < cfg.Count {
		n, err := randInt(span)
		if err != nil {
			return models.Choice{}, err
		}
		value := cfg.Min + n
		if !cfg.AllowDuplicates && seen[value] {
			continue
		}
		seen[value] = true
		numbers = append(numbers, value)
	}
	return models.Choice{Numbers: numbers}, nil
}

func drawChoices(cfg *models.ChoicesConfig) (models.Choice, error) {
	// Draw without replacement from the option set.
	remaining := append([]string(nil), cfg.Options...)
	picks := make([]string, 0, cfg.SelectionCount)
	for len(picks) < cfg.SelectionCount {
		idx, err := randInt(len(remaining))
		if err != nil {
			return models.Choice{}, err
		}
		picks = append(picks, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return models.Choice{Picks: picks}, nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("draw random number: %w", err)
	}
	return int(v.Int64()), nil
}
