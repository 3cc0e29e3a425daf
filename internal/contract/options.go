package contract

import (
	"context"
	"pi_guard/internal/audit"
	"pi_guard/internal/compliance"
	"pi_guard/internal/service"
	"pi_guard/pkg/crypto"
	"pi_guard/pkg/validator"
	"time"
)

type MetricsRecorder interface {
	RecordDecision(outcome, reason string, duration time.Duration)
	RecordFreeze()
	AddScheduledReturns(n int)
	SetAccounts(active, flagged, frozen int)
}

type Notifier interface {
	Notify(ctx context.Context, event service.ComplianceEvent) error
}

type Option func(*Contract)

// WithRules appends extension rules after the built-in ones. They become part of the registry
// when genesis is installed or loaded.
func WithRules(rules ...compliance.Rule) Option {
	return func(c *Contract) { c.extensions = append(c.extensions, rules...) }
}

func WithValidator(v *validator.TransactionValidator) Option {
	return func(c *Contract) { c.validator = v }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(c *Contract) { c.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(c *Contract) { c.notifier = n }
}

func WithAuditSink(s audit.Sink) Option {
	return func(c *Contract) { c.audit = s }
}

func WithSigner(s *crypto.Signer) Option {
	return func(c *Contract) { c.signer = s }
}

func WithClock(now func() time.Time) Option {
	return func(c *Contract) { c.now = now }
}
