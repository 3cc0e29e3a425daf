package domain

import "time"

type Outcome string

const (
	OutcomeAdmit  Outcome = "admit"
	OutcomeReject Outcome = "reject"
)

type RejectReason string

const (
	ReasonNone               RejectReason = ""
	ReasonValueMismatch      RejectReason = "ValueMismatch"
	ReasonUnapprovedSource   RejectReason = "UnapprovedSource"
	ReasonProhibitedContent  RejectReason = "ProhibitedContent"
	ReasonAlreadyFrozen      RejectReason = "AlreadyFrozen"
	ReasonInvalidSourceProof RejectReason = "InvalidSourceProof"
	ReasonStorageFailure     RejectReason = "StorageFailure"
)

// Verdict is what a single rule says about a transaction.
type Verdict struct {
	Reason   RejectReason `json:"reason,omitempty"`
	Category string       `json:"category,omitempty"`
	Detail   string       `json:"detail,omitempty"`
}

func Pass() Verdict { return Verdict{} }

func Fail(reason RejectReason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

func FailCategory(reason RejectReason, category, detail string) Verdict {
	return Verdict{Reason: reason, Category: category, Detail: detail}
}

func (v Verdict) Passed() bool { return v.Reason == ReasonNone }

type Decision struct {
	TransactionID string       `json:"transaction_id"`
	Outcome       Outcome      `json:"outcome"`
	Reason        RejectReason `json:"reason,omitempty"`
	Rule          string       `json:"rule,omitempty"`
	Category      string       `json:"category,omitempty"`
	Detail        string       `json:"detail,omitempty"`
	DecidedAt     time.Time    `json:"decided_at"`
}

func (d Decision) Admitted() bool { return d.Outcome == OutcomeAdmit }

func Admit(txID string, at time.Time) Decision {
	return Decision{TransactionID: txID, Outcome: OutcomeAdmit, DecidedAt: at}
}

func Reject(txID string, rule string, v Verdict, at time.Time) Decision {
	return Decision{
		TransactionID: txID,
		Outcome:       OutcomeReject,
		Reason:        v.Reason,
		Rule:          rule,
		Category:      v.Category,
		Detail:        v.Detail,
		DecidedAt:     at,
	}
}

// Verification is the outcome of the last fully committed evaluation.
type Verification struct {
	TransactionID string       `json:"transaction_id"`
	Outcome       Outcome      `json:"outcome"`
	Reason        RejectReason `json:"reason,omitempty"`
	At            time.Time    `json:"at"`
}
