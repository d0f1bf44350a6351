package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Match rules supported by the resolver.
const (
	RuleExactMatch   = "exact_match"
	RulePartialMatch = "partial_match"
	RuleClosest      = "closest"
	RuleRandom       = "random"
)

// Game statuses.
const (
	GameStatusActive      = "active"
	GameStatusInactive    = "inactive"
	GameStatusMaintenance = "maintenance"
)

// Game archetypes. Each selects exactly one section of GameConfig.
const (
	ArchetypeNumbers = "numbers"
	ArchetypeChoices = "choices"
	ArchetypeText    = "text"
)

// Game is an admin-managed template: what a round of this game costs, what it
// pays, and how winners are determined. Read-only to the settlement core.
type Game struct {
	ID                int64      `json:"id" db:"id"`
	Name              string     `json:"name" db:"name"`
	Description       string     `json:"description" db:"description"`
	Status            string     `json:"status" db:"status"`
	EntryFee          int64      `json:"entry_fee" db:"entry_fee"` // in credits
	WinningAmount     int64      `json:"winning_amount" db:"winning_amount"`
	MinParticipants   int        `json:"min_participants" db:"min_participants"`
	MaxParticipants   int        `json:"max_participants" db:"max_participants"`
	MatchRule         string     `json:"match_rule" db:"match_rule"`
	Config            GameConfig `json:"config" db:"config"`
	TotalRoundsPlayed int        `json:"total_rounds_played" db:"total_rounds_played"`
	TotalWinners      int        `json:"total_winners" db:"total_winners"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// NumbersConfig describes games where a choice is an ordered sequence of
// integers (number match, lucky draw, keno-style picks).
type NumbersConfig struct {
	Count           int  `json:"count"`
	Min             int  `json:"min"`
	Max             int  `json:"max"`
	AllowDuplicates bool `json:"allow_duplicates"`
}

// ChoicesConfig describes games where a choice is an unordered selection from
// a fixed option set (color game and similar).
type ChoicesConfig struct {
	Options        []string `json:"options"`
	SelectionCount int      `json:"selection_count"`
}

// TextConfig describes games where a choice is a single free-text value.
type TextConfig struct {
	MinLength     int  `json:"min_length"`
	MaxLength     int  `json:"max_length"`
	CaseSensitive bool `json:"case_sensitive"`
}

// GameConfig is a tagged variant: Archetype selects which of the three
// sections applies. Stored as JSONB.
type GameConfig struct {
	Archetype string         `json:"archetype"`
	Numbers   *NumbersConfig `json:"numbers,omitempty"`
	Choices   *ChoicesConfig `json:"choices,omitempty"`
	Text      *TextConfig    `json:"text,omitempty"`
}

// Value implements driver.Valuer for GameConfig
func (c GameConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for GameConfig
func (c *GameConfig) Scan(value any) error {
	if value == nil {
		*c = GameConfig{}
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, c)
}

// Validate checks that the config carries exactly the section its archetype
// requires and that the match rule is applicable to it.
func (c GameConfig) Validate(matchRule string) error {
	switch c.Archetype {
	case ArchetypeNumbers:
		if c.Numbers == nil {
			return errors.New("numbers config required for numbers archetype")
		}
		if c.Numbers.Count < 1 {
			return errors.New("numbers count must be at least 1")
		}
		if c.Numbers.Min > c.Numbers.Max {
			return errors.New("numbers min must not exceed max")
		}
		if matchRule == RuleClosest && c.Numbers.Count != 1 {
			return errors.New("closest rule requires a single-number choice")
		}
	case ArchetypeChoices:
		if c.Choices == nil {
			return errors.New("choices config required for choices archetype")
		}
		if len(c.Choices.Options) == 0 {
			return errors.New("choices options must not be empty")
		}
		if c.Choices.SelectionCount < 1 || c.Choices.SelectionCount > len(c.Choices.Options) {
			return errors.New("invalid selection count")
		}
		if matchRule == RuleClosest {
			return errors.New("closest rule is only applicable to numeric choices")
		}
	case ArchetypeText:
		if c.Text == nil {
			return errors.New("text config required for text archetype")
		}
		if c.Text.MinLength < 1 || c.Text.MaxLength < c.Text.MinLength {
			return errors.New("invalid text length bounds")
		}
		// There is nothing to draw against a free-text choice.
		if matchRule != RuleRandom {
			return errors.New("text archetype requires the random rule")
		}
	default:
		return fmt.Errorf("unknown archetype %q", c.Archetype)
	}

	switch matchRule {
	case RuleExactMatch, RulePartialMatch, RuleClosest, RuleRandom:
		return nil
	default:
		return fmt.Errorf("unknown match rule %q", matchRule)
	}
}

// ValidateChoice checks a submitted choice against the config.
func (c GameConfig) ValidateChoice(choice Choice) error {
	switch c.Archetype {
	case ArchetypeNumbers:
		cfg := c.Numbers
		if len(choice.Numbers) != cfg.Count || len(choice.Picks) != 0 {
			return fmt.Errorf("must select %d number(s)", cfg.Count)
		}
		seen := make(map[int]bool, len(choice.Numbers))
		for _, n := range choice.Numbers {
			if n < cfg.Min || n > cfg.Max {
				return fmt.Errorf("numbers must be between %d and %d", cfg.Min, cfg.Max)
			}
			if !cfg.AllowDuplicates && seen[n] {
				return errors.New("duplicate numbers not allowed")
			}
			seen[n] = true
		}
	case ArchetypeChoices:
		cfg := c.Choices
		if len(choice.Picks) != cfg.SelectionCount || len(choice.Numbers) != 0 {
			return fmt.Errorf("must select exactly %d option(s)", cfg.SelectionCount)
		}
		valid := make(map[string]bool, len(cfg.Options))
		for _, o := range cfg.Options {
			valid[o] = true
		}
		seen := make(map[string]bool, len(choice.Picks))
		for _, p := range choice.Picks {
			if !valid[p] {
				return fmt.Errorf("invalid option %q", p)
			}
			if seen[p] {
				return fmt.Errorf("option %q selected twice", p)
			}
			seen[p] = true
		}
	case ArchetypeText:
		cfg := c.Text
		if len(choice.Picks) != 1 || len(choice.Numbers) != 0 {
			return errors.New("must submit a single text value")
		}
		text := choice.Picks[0]
		if len(text) < cfg.MinLength || len(text) > cfg.MaxLength {
			return fmt.Errorf("text must be between %d and %d characters", cfg.MinLength, cfg.MaxLength)
		}
	default:
		return fmt.Errorf("unknown archetype %q", c.Archetype)
	}
	return nil
}

// NormalizeChoice folds case-insensitive text choices so they compare equal
// regardless of how the player typed them.
func (c GameConfig) NormalizeChoice(choice Choice) Choice {
	if c.Archetype == ArchetypeText && c.Text != nil && !c.Text.CaseSensitive {
		picks := make([]string, len(choice.Picks))
		for i, p := range choice.Picks {
			picks[i] = strings.ToLower(p)
		}
		choice.Picks = picks
	}
	return choice
}

// Unordered reports whether two choices for this config compare as sets
// rather than sequences. Number sequences are ordered; option selections are
// not.
func (c GameConfig) Unordered() bool {
	return c.Archetype == ArchetypeChoices
}
