package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const GamblingCategory = "gambling"

// DefaultPinnedUnitValue is the fixed PI unit value every amount must be a multiple of.
var DefaultPinnedUnitValue = decimal.NewFromInt(314159)

// Genesis is the configuration fixed when the contract is initialized.
type Genesis struct {
	PinnedUnitValue       decimal.Decimal           `json:"pinned_unit_value" yaml:"-"`
	AllowedSources        map[string]SourceCategory `json:"allowed_sources" yaml:"allowed_sources"`
	DenyList              map[string][]string       `json:"deny_list" yaml:"deny_list"`
	SevereCategories      []string                  `json:"severe_categories,omitempty" yaml:"severe_categories"`
	MaxViolationsInWindow int                       `json:"max_violations_in_window" yaml:"max_violations_in_window"`
	ViolationWindow       time.Duration             `json:"violation_window" yaml:"violation_window"`
	RequireSourceProof    bool                      `json:"require_source_proof" yaml:"require_source_proof"`
	CreatedAt             time.Time                 `json:"created_at" yaml:"-"`
}

func DefaultGenesis() Genesis {
	return Genesis{
		PinnedUnitValue: DefaultPinnedUnitValue,
		AllowedSources: map[string]SourceCategory{
			"mining":              SourceMining,
			"contribution_reward": SourceContributionReward,
			"p2p":                 SourcePeerToPeer,
		},
		DenyList: map[string][]string{
			GamblingCategory: {"casino", "bet", "lottery", "wager", "jackpot", "poker", "roulette", "gamble", "sportsbook"},
		},
		MaxViolationsInWindow: 3,
		ViolationWindow:       24 * time.Hour,
	}
}
