package domain

import (
	"time"
)

type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountFlagged AccountStatus = "flagged"
	AccountFrozen  AccountStatus = "frozen"
)

type AccountState struct {
	ID                string             `json:"id"`
	Status            AccountStatus      `json:"status"`
	FrozenAt          *time.Time         `json:"frozen_at,omitempty"`
	Violations        []Violation        `json:"violations"`
	GovernanceActions []GovernanceAction `json:"governance_actions,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

type Violation struct {
	Sequence      int          `json:"sequence"`
	TransactionID string       `json:"transaction_id"`
	Reason        RejectReason `json:"reason"`
	Detail        string       `json:"detail,omitempty"`
	At            time.Time    `json:"at"`
}

type GovernanceAction struct {
	Action   string    `json:"action"`
	Operator string    `json:"operator"`
	Note     string    `json:"note,omitempty"`
	At       time.Time `json:"at"`
}

func NewAccountState(id string, at time.Time) *AccountState {
	return &AccountState{
		ID:         id,
		Status:     AccountActive,
		Violations: []Violation{},
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func (a *AccountState) Frozen() bool { return a.Status == AccountFrozen }

// ViolationsSince counts violations recorded at or after from.
func (a *AccountState) ViolationsSince(from time.Time) int {
	n := 0
	for _, v := range a.Violations {
		if !v.At.Before(from) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers can stage changes without touching committed state.
func (a *AccountState) Clone() *AccountState {
	c := *a
	c.Violations = append([]Violation{}, a.Violations...)
	if a.GovernanceActions != nil {
		c.GovernanceActions = append([]GovernanceAction{}, a.GovernanceActions...)
	}
	if a.FrozenAt != nil {
		t := *a.FrozenAt
		c.FrozenAt = &t
	}
	return &c
}
