package validator

import (
	"errors"
	"fmt"
	"pi_guard/internal/domain"
	"time"
	"unicode/utf8"
)

const (
	DefaultMaxMetadataLength = 1024
	DefaultClockSkew         = 5 * time.Minute
)

var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidAccount     = errors.New("invalid account")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrMetadataTooLong    = errors.New("metadata too long")
	ErrFutureTransaction  = errors.New("transaction date cannot be in the future")
)

// TransactionValidator performs the structural checks that run before any compliance rule.
// It never looks at amount, source or content: those are rule decisions, not malformed input.
// Duplicate IDs are detected by the store, which outlives any validator.
type TransactionValidator struct {
	maxMetadataLength int
	clockSkew         time.Duration
	now               func() time.Time
}

type Option func(*TransactionValidator)

func WithMaxMetadataLength(n int) Option {
	return func(v *TransactionValidator) { v.maxMetadataLength = n }
}

func WithClock(now func() time.Time) Option {
	return func(v *TransactionValidator) { v.now = now }
}

func NewTransactionValidator(opts ...Option) *TransactionValidator {
	v := &TransactionValidator{
		maxMetadataLength: DefaultMaxMetadataLength,
		clockSkew:         DefaultClockSkew,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateTransaction returns an error wrapping ErrInvalidTransaction for malformed input.
func (v *TransactionValidator) ValidateTransaction(tx *domain.Transaction) error {
	var errs []error

	if tx.ID == "" {
		errs = append(errs, errors.New("transaction id is required"))
	}

	if tx.Sender == "" || tx.Receiver == "" {
		errs = append(errs, ErrInvalidAccount)
	} else if tx.Sender == tx.Receiver {
		errs = append(errs, fmt.Errorf("%w: cannot transfer to same account", ErrInvalidAccount))
	}

	if tx.Quantity < 0 {
		errs = append(errs, ErrInvalidQuantity)
	}

	if utf8.RuneCountInString(tx.Metadata) > v.maxMetadataLength {
		errs = append(errs, fmt.Errorf("%w: limit is %d characters", ErrMetadataTooLong, v.maxMetadataLength))
	}

	if tx.SubmittedAt.After(v.now().Add(v.clockSkew)) {
		errs = append(errs, ErrFutureTransaction)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTransaction, errors.Join(errs...))
	}

	return nil
}
