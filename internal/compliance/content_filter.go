package compliance

import (
	"pi_guard/internal/domain"
	"sort"
	"strings"
)

type denyPattern struct {
	Category string
	Term     string
}

// ScanResult is Clean when Category is empty.
type ScanResult struct {
	Category string
	Term     string
}

func (r ScanResult) Clean() bool { return r.Category == "" }

// ContentFilter flags metadata containing any deny-listed term. Matching is a case-insensitive
// substring test, so "Casino" and "bets" are both caught and so is "alphabet".
type ContentFilter struct {
	patterns []denyPattern
}

func NewContentFilter(denyList map[string][]string) *ContentFilter {
	f := &ContentFilter{}
	for category, terms := range denyList {
		for _, term := range terms {
			term = strings.ToLower(strings.TrimSpace(term))
			if term == "" {
				continue
			}
			f.patterns = append(f.patterns, denyPattern{Category: category, Term: term})
		}
	}

	sort.Slice(f.patterns, func(i, j int) bool {
		if f.patterns[i].Category != f.patterns[j].Category {
			return f.patterns[i].Category < f.patterns[j].Category
		}
		return f.patterns[i].Term < f.patterns[j].Term
	})

	return f
}

func (f *ContentFilter) Scan(tx *domain.Transaction) ScanResult {
	return f.ScanText(tx.Metadata)
}

func (f *ContentFilter) ScanText(text string) ScanResult {
	if text == "" {
		return ScanResult{}
	}
	lowered := strings.ToLower(text)
	for _, p := range f.patterns {
		if strings.Contains(lowered, p.Term) {
			return ScanResult{Category: p.Category, Term: p.Term}
		}
	}
	return ScanResult{}
}

func (f *ContentFilter) Size() int { return len(f.patterns) }
