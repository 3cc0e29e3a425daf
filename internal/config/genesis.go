package config

import (
	"fmt"
	"os"
	"pi_guard/internal/domain"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// genesisFile is the on-disk form. Missing fields keep the built-in defaults.
type genesisFile struct {
	PinnedUnitValue       string                           `yaml:"pinned_unit_value"`
	AllowedSources        map[string]domain.SourceCategory `yaml:"allowed_sources"`
	DenyList              map[string][]string              `yaml:"deny_list"`
	SevereCategories      []string                         `yaml:"severe_categories"`
	MaxViolationsInWindow *int                             `yaml:"max_violations_in_window"`
	ViolationWindow       string                           `yaml:"violation_window"`
	RequireSourceProof    bool                             `yaml:"require_source_proof"`
}

func LoadGenesis(path string) (domain.Genesis, error) {
	if path == "" {
		return domain.DefaultGenesis(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Genesis{}, fmt.Errorf("failed to read genesis file: %w", err)
	}
	return ParseGenesis(data)
}

// ParseGenesis reads a YAML or JSON genesis document. Maps and lists present in the document
// replace the defaults rather than merging into them. violation_window is a Go duration string or,
// as in the JSON form of domain.Genesis, an integer count of nanoseconds.
func ParseGenesis(data []byte) (domain.Genesis, error) {
	var file genesisFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return domain.Genesis{}, fmt.Errorf("%w: genesis: %v", ErrInvalidConfig, err)
	}

	g := domain.DefaultGenesis()
	if file.PinnedUnitValue != "" {
		value, err := decimal.NewFromString(file.PinnedUnitValue)
		if err != nil {
			return domain.Genesis{}, fmt.Errorf("%w: pinned_unit_value: %v", ErrInvalidConfig, err)
		}
		g.PinnedUnitValue = value
	}
	if len(file.AllowedSources) > 0 {
		g.AllowedSources = file.AllowedSources
	}
	if file.DenyList != nil {
		g.DenyList = file.DenyList
	}
	if file.SevereCategories != nil {
		g.SevereCategories = file.SevereCategories
	}
	if file.MaxViolationsInWindow != nil {
		g.MaxViolationsInWindow = *file.MaxViolationsInWindow
	}
	if file.ViolationWindow != "" {
		window, err := parseWindow(file.ViolationWindow)
		if err != nil {
			return domain.Genesis{}, fmt.Errorf("%w: violation_window: %v", ErrInvalidConfig, err)
		}
		g.ViolationWindow = window
	}
	g.RequireSourceProof = file.RequireSourceProof

	return g, nil
}

func parseWindow(value string) (time.Duration, error) {
	if window, err := time.ParseDuration(value); err == nil {
		return window, nil
	}
	nanos, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return time.Duration(nanos), nil
}
