package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type marketsFile struct {
	Markets []Market `yaml:"markets"`
}

// LoadMarkets returns the built-in market list, or the list read from path when set.
func LoadMarkets(path string) ([]Market, error) {
	if path == "" {
		markets := make([]Market, len(DefaultMarkets))
		copy(markets, DefaultMarkets)
		return markets, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read markets file: %w", err)
	}

	var file marketsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse markets file: %w", err)
	}

	if err := ValidateMarkets(file.Markets); err != nil {
		return nil, err
	}
	return file.Markets, nil
}

// ValidateMarkets rejects an empty list, blank entries and duplicate names.
func ValidateMarkets(markets []Market) error {
	if len(markets) == 0 {
		return fmt.Errorf("market list is empty")
	}

	seen := make(map[string]bool, len(markets))
	for i, m := range markets {
		if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("market %d is missing a name or id", i)
		}
		key := strings.ToLower(m.Name)
		if seen[key] {
			return fmt.Errorf("duplicate market %q", m.Name)
		}
		seen[key] = true
	}
	return nil
}
