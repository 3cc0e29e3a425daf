package compliance

import (
	"errors"
	"fmt"
	"pi_guard/internal/domain"
	"pi_guard/pkg/crypto"
	"slices"

	"github.com/shopspring/decimal"
)

var ErrInvalidGenesis = errors.New("invalid genesis")

// Rule is a pure predicate over a transaction. Rules run in registration order and the first
// failing rule decides the rejection.
type Rule struct {
	Name        string
	Description string
	Check       func(*domain.Transaction) domain.Verdict
}

// Registry is the immutable rule set fixed at genesis. It is built once and shared by reference.
type Registry struct {
	genesis    domain.Genesis
	classifier *SourceClassifier
	filter     *ContentFilter
	rules      []Rule
	severe     map[string]struct{}
}

func NewRegistry(genesis domain.Genesis, extensions ...Rule) (*Registry, error) {
	if err := validateGenesis(genesis); err != nil {
		return nil, err
	}

	r := &Registry{
		genesis:    genesis,
		classifier: NewSourceClassifier(genesis.AllowedSources),
		filter:     NewContentFilter(genesis.DenyList),
		severe:     make(map[string]struct{}, len(genesis.SevereCategories)),
	}
	for _, c := range genesis.SevereCategories {
		r.severe[c] = struct{}{}
	}

	r.rules = []Rule{
		{
			Name:        "pinned_value",
			Description: "Amount must equal the pinned unit value times the declared quantity",
			Check:       r.checkValue,
		},
		{
			Name:        "approved_source",
			Description: "Source must be mining, contribution reward or peer-to-peer",
			Check:       r.checkSource,
		},
		{
			Name:        "content_filter",
			Description: "Metadata must not contain deny-listed terms",
			Check:       r.checkContent,
		},
	}
	if genesis.RequireSourceProof {
		r.rules = append(r.rules, Rule{
			Name:        "source_proof",
			Description: "Source proof must be the hash of the source tag and sender",
			Check:       checkSourceProof,
		})
	}
	for _, ext := range extensions {
		if ext.Name == "" || ext.Check == nil {
			return nil, fmt.Errorf("%w: extension rule needs a name and a check", ErrInvalidGenesis)
		}
		if slices.ContainsFunc(r.rules, func(existing Rule) bool { return existing.Name == ext.Name }) {
			return nil, fmt.Errorf("%w: duplicate rule %s", ErrInvalidGenesis, ext.Name)
		}
		r.rules = append(r.rules, ext)
	}

	return r, nil
}

func validateGenesis(g domain.Genesis) error {
	if !g.PinnedUnitValue.IsPositive() {
		return fmt.Errorf("%w: pinned unit value must be positive, got %s", ErrInvalidGenesis, g.PinnedUnitValue)
	}
	if len(g.AllowedSources) == 0 {
		return fmt.Errorf("%w: at least one source tag must be allowed", ErrInvalidGenesis)
	}
	for tag, category := range g.AllowedSources {
		if tag == "" {
			return fmt.Errorf("%w: empty source tag", ErrInvalidGenesis)
		}
		if !category.Approved() {
			return fmt.Errorf("%w: tag %q maps to unapproved category %q", ErrInvalidGenesis, tag, category)
		}
	}
	if g.MaxViolationsInWindow < 0 || g.ViolationWindow < 0 {
		return fmt.Errorf("%w: violation window settings must not be negative", ErrInvalidGenesis)
	}
	return nil
}

func (r *Registry) checkValue(tx *domain.Transaction) domain.Verdict {
	expected := r.genesis.PinnedUnitValue.Mul(decimal.NewFromInt(tx.Units()))
	if !tx.Amount.Equal(expected) {
		return domain.Fail(domain.ReasonValueMismatch,
			fmt.Sprintf("amount %s != %s x %d", tx.Amount, r.genesis.PinnedUnitValue, tx.Units()))
	}
	return domain.Pass()
}

func (r *Registry) checkSource(tx *domain.Transaction) domain.Verdict {
	category := r.classifier.Classify(tx)
	if !category.Approved() {
		return domain.Fail(domain.ReasonUnapprovedSource,
			fmt.Sprintf("source %q classified as %s", tx.SourceTag, category))
	}
	return domain.Pass()
}

func (r *Registry) checkContent(tx *domain.Transaction) domain.Verdict {
	scan := r.filter.Scan(tx)
	if !scan.Clean() {
		return domain.FailCategory(domain.ReasonProhibitedContent, scan.Category,
			fmt.Sprintf("metadata contains %q", scan.Term))
	}
	return domain.Pass()
}

func checkSourceProof(tx *domain.Transaction) domain.Verdict {
	if !crypto.VerifySourceProof(tx.SourceTag, tx.Sender, tx.SourceProof) {
		return domain.Fail(domain.ReasonInvalidSourceProof, "source proof does not match source and sender")
	}
	return domain.Pass()
}

func (r *Registry) Genesis() domain.Genesis { return r.genesis }

func (r *Registry) Classifier() *SourceClassifier { return r.classifier }

func (r *Registry) Len() int { return len(r.rules) }

func (r *Registry) Rules() []Rule { return slices.Clone(r.rules) }

func (r *Registry) RuleNames() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// Severe reports whether a rejection freezes on first offence. Either the content category or the
// reject reason may be listed as severe.
func (r *Registry) Severe(d domain.Decision) bool {
	if _, ok := r.severe[d.Category]; ok && d.Category != "" {
		return true
	}
	_, ok := r.severe[string(d.Reason)]
	return ok
}
