package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"sort"
)

// Choice is a player's submitted selection, or a drawn winning outcome.
// Exactly one of Numbers or Picks is populated, depending on the game
// archetype. Stored as JSONB.
type Choice struct {
	Numbers []int    `json:"numbers,omitempty"`
	Picks   []string `json:"picks,omitempty"`
}

// Value implements driver.Valuer for Choice
func (c Choice) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for Choice
func (c *Choice) Scan(value any) error {
	if value == nil {
		*c = Choice{}
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, c)
}

// IsZero reports whether the choice carries no selection at all.
func (c Choice) IsZero() bool {
	return len(c.Numbers) == 0 && len(c.Picks) == 0
}

// Equal compares two choices. Ordered comparison is sequence equality;
// unordered comparison treats both sides as sets.
func (c Choice) Equal(o Choice, unordered bool) bool {
	if len(c.Numbers) != len(o.Numbers) || len(c.Picks) != len(o.Picks) {
		return false
	}

	a, b := c, o
	if unordered {
		a, b = c.sorted(), o.sorted()
	}

	for i := range a.Numbers {
		if a.Numbers[i] != b.Numbers[i] {
			return false
		}
	}
	for i := range a.Picks {
		if a.Picks[i] != b.Picks[i] {
			return false
		}
	}
	return true
}

// MatchCount returns the number of positions at which the two choices agree.
func (c Choice) MatchCount(o Choice) int {
	count := 0
	for i := 0; i < len(c.Numbers) && i < len(o.Numbers); i++ {
		if c.Numbers[i] == o.Numbers[i] {
			count++
		}
	}
	for i := 0; i < len(c.Picks) && i < len(o.Picks); i++ {
		if c.Picks[i] == o.Picks[i] {
			count++
		}
	}
	return count
}

// SingleNumber returns the choice's numeric value for single-number games.
func (c Choice) SingleNumber() (int, bool) {
	if len(c.Numbers) != 1 {
		return 0, false
	}
	return c.Numbers[0], true
}

// NullChoice scans a nullable JSONB choice column.
type NullChoice struct {
	Choice Choice
	Valid  bool
}

// Scan implements sql.Scanner for NullChoice
func (n *NullChoice) Scan(value any) error {
	if value == nil {
		n.Choice, n.Valid = Choice{}, false
		return nil
	}
	n.Valid = true
	return n.Choice.Scan(value)
}

func (c Choice) sorted() Choice {
	out := Choice{
		Numbers: append([]int(nil), c.Numbers...),
		Picks:   append([]string(nil), c.Picks...),
	}
	sort.Ints(out.Numbers)
	sort.Strings(out.Picks)
	return out
}
