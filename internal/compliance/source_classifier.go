package compliance

import (
	"pi_guard/internal/domain"
)

// SourceClassifier maps raw source tags onto the closed provenance enumeration.
// Matching is exact; anything not on the allow-list is Other, and a missing tag is Unknown.
type SourceClassifier struct {
	allowed map[string]domain.SourceCategory
}

func NewSourceClassifier(allowed map[string]domain.SourceCategory) *SourceClassifier {
	c := &SourceClassifier{allowed: make(map[string]domain.SourceCategory, len(allowed))}
	for tag, category := range allowed {
		c.allowed[tag] = category
	}
	return c
}

func (c *SourceClassifier) Classify(tx *domain.Transaction) domain.SourceCategory {
	return c.ClassifyTag(tx.SourceTag)
}

func (c *SourceClassifier) ClassifyTag(tag string) domain.SourceCategory {
	if tag == "" {
		return domain.SourceUnknown
	}
	if category, ok := c.allowed[tag]; ok {
		return category
	}
	return domain.SourceOther
}

// Tags returns the allow-listed tags per category.
func (c *SourceClassifier) Tags() map[domain.SourceCategory][]string {
	result := make(map[domain.SourceCategory][]string)
	for tag, category := range c.allowed {
		result[category] = append(result[category], tag)
	}
	return result
}
