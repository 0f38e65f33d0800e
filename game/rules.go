package game

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Rules are the tunables of a table.
type Rules struct {
	HandSize   int `yaml:"hand_size"`
	MinPlayers int `yaml:"min_players"`
	MaxPlayers int `yaml:"max_players"`
	// cards of each color are valued 1..MaxValue
	MaxValue int `yaml:"max_value"`
}

func DefaultRules() Rules {
	return Rules{
		HandSize:   7,
		MinPlayers: 2,
		MaxPlayers: 4,
		MaxValue:   9,
	}
}

func (r Rules) Validate() error {
	if r.HandSize < 1 {
		return fmt.Errorf("hand_size must be positive, got %d", r.HandSize)
	}
	if r.MinPlayers < 1 || r.MaxPlayers < r.MinPlayers {
		return fmt.Errorf("bad player bounds [%d, %d]", r.MinPlayers, r.MaxPlayers)
	}
	if r.MaxValue < 1 {
		return fmt.Errorf("max_value must be positive, got %d", r.MaxValue)
	}
	// one card stays for the pile
	if deck := r.MaxValue * 4; deck <= r.HandSize*r.MaxPlayers {
		return fmt.Errorf("deck of %d cards can't deal %d hands of %d", deck, r.MaxPlayers, r.HandSize)
	}
	return nil
}

// LoadRules reads rules from a YAML file. Missing keys keep their defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, err
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("rules %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return rules, fmt.Errorf("rules %s: %w", path, err)
	}
	return rules, nil
}
