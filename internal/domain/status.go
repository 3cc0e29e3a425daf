package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EcosystemStatus struct {
	Initialized      bool                   `json:"initialized"`
	PinnedUnitValue  decimal.Decimal        `json:"pinned_unit_value"`
	ActiveRuleCount  int                    `json:"active_rule_count"`
	ActiveRules      []string               `json:"active_rules"`
	TrackedAccounts  int                    `json:"tracked_accounts"`
	FlaggedAccounts  int                    `json:"flagged_accounts"`
	FrozenAccounts   int                    `json:"frozen_accounts"`
	PendingReturns   int                    `json:"pending_returns"`
	SourceCompliance map[SourceCategory]int `json:"source_compliance"`
	LastVerification *Verification          `json:"last_verification,omitempty"`
}

type AuditRecord struct {
	ID            string       `json:"id"`
	TransactionID string       `json:"transaction_id"`
	Account       string       `json:"account"`
	Outcome       Outcome      `json:"outcome"`
	Reason        RejectReason `json:"reason,omitempty"`
	PurityScore   int          `json:"purity_score"`
	Compliant     bool         `json:"compliant"`
	Timestamp     time.Time    `json:"timestamp"`
	Signature     string       `json:"signature,omitempty"`
}
