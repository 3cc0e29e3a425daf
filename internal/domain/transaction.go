package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SourceCategory string

const (
	SourceMining             SourceCategory = "mining"
	SourceContributionReward SourceCategory = "contribution_reward"
	SourcePeerToPeer         SourceCategory = "p2p"
	SourceOther              SourceCategory = "other"
	SourceUnknown            SourceCategory = "unknown"
)

// Approved reports whether the category is one of the provenance categories PI may come from.
func (c SourceCategory) Approved() bool {
	switch c {
	case SourceMining, SourceContributionReward, SourcePeerToPeer:
		return true
	default:
		return false
	}
}

type Transaction struct {
	ID          string          `json:"id"`
	Sender      string          `json:"sender"`
	Receiver    string          `json:"receiver"`
	Amount      decimal.Decimal `json:"amount"`
	Quantity    int64           `json:"quantity,omitempty"`
	SourceTag   string          `json:"source"`
	SourceProof string          `json:"source_proof,omitempty"`
	Metadata    string          `json:"metadata,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

func NewTransaction(sender, receiver string, amount decimal.Decimal) *Transaction {
	return &Transaction{
		ID:          uuid.NewString(),
		Sender:      sender,
		Receiver:    receiver,
		Amount:      amount,
		SubmittedAt: time.Now().UTC(),
	}
}

func (tx *Transaction) WithSource(tag string) *Transaction {
	tx.SourceTag = tag
	return tx
}

func (tx *Transaction) WithMetadata(metadata string) *Transaction {
	tx.Metadata = metadata
	return tx
}

func (tx *Transaction) WithQuantity(quantity int64) *Transaction {
	tx.Quantity = quantity
	return tx
}

func (tx *Transaction) WithProof(proof string) *Transaction {
	tx.SourceProof = proof
	return tx
}

// Units is the number of pinned units the transaction declares. An unset quantity is one unit.
func (tx *Transaction) Units() int64 {
	if tx.Quantity == 0 {
		return 1
	}
	return tx.Quantity
}

type Settlement struct {
	TransactionID   string          `json:"transaction_id"`
	Sender          string          `json:"sender"`
	Receiver        string          `json:"receiver"`
	Amount          decimal.Decimal `json:"amount"`
	AdmittedAt      time.Time       `json:"admitted_at"`
	ReturnScheduled bool            `json:"return_scheduled"`
}

// FundReturn moves an admitted transfer back from an offending account to the account that sent it.
type FundReturn struct {
	TransactionID string          `json:"transaction_id"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Amount        decimal.Decimal `json:"amount"`
	ScheduledAt   time.Time       `json:"scheduled_at"`
}

func NewFundReturn(s *Settlement, at time.Time) *FundReturn {
	return &FundReturn{
		TransactionID: s.TransactionID,
		From:          s.Receiver,
		To:            s.Sender,
		Amount:        s.Amount,
		ScheduledAt:   at,
	}
}

// ProcessedTransaction marks a transaction ID that reached a decision. Admitted and rejected IDs
// share one namespace, so neither can be submitted a second time.
type ProcessedTransaction struct {
	TransactionID string    `json:"transaction_id"`
	Sender        string    `json:"sender"`
	Outcome       Outcome   `json:"outcome"`
	DecidedAt     time.Time `json:"decided_at"`
}
