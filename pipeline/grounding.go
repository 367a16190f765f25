package pipeline

import (
	"strings"
	"unicode"

	"docintel/types"
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {}, "this": {}, "that": {},
	"with": {}, "from": {}, "have": {}, "has": {}, "had": {}, "not": {}, "but": {}, "its": {},
	"which": {}, "their": {}, "there": {}, "they": {}, "them": {}, "than": {}, "then": {},
	"into": {}, "also": {}, "been": {}, "being": {}, "will": {}, "would": {}, "could": {},
	"should": {}, "can": {}, "our": {}, "your": {}, "you": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "how": {}, "about": {}, "based": {}, "provided": {}, "context": {}, "document": {},
	"documents": {}, "per": {}, "all": {}, "any": {}, "each": {}, "these": {}, "those": {},
	"such": {}, "over": {}, "under": {}, "between": {}, "approximately": {}, "total": {},
}

// GroundingChecker measures how much of an answer's content vocabulary
// appears in the retrieved passages.
type GroundingChecker struct {
	MinOverlap float64
}

type GroundingReport struct {
	Overlap     float64
	Grounded    bool
	Unsupported []string
}

func (g *GroundingChecker) Check(answer string, hits []types.RetrievalHit) GroundingReport {
	if strings.Contains(answer, InsufficientInformation) {
		return GroundingReport{Overlap: 1, Grounded: true}
	}

	words := contentWords(answer)
	if len(words) == 0 {
		return GroundingReport{Overlap: 1, Grounded: true}
	}

	vocab := make(map[string]struct{})
	for _, h := range hits {
		for _, w := range contentWords(h.Text) {
			vocab[w] = struct{}{}
		}
	}

	var found int
	var missing []string
	for _, w := range words {
		if _, ok := vocab[w]; ok {
			found++
			continue
		}
		missing = append(missing, w)
	}

	overlap := float64(found) / float64(len(words))
	return GroundingReport{
		Overlap:     overlap,
		Grounded:    overlap >= g.MinOverlap,
		Unsupported: missing,
	}
}

// contentWords lowercases and splits text, dropping stopwords and short
// tokens. Tokens with digits are always kept. Duplicates are removed.
func contentWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		hasDigit := strings.IndexFunc(f, unicode.IsDigit) >= 0
		if !hasDigit {
			if len([]rune(f)) < 3 {
				continue
			}
			if _, stop := stopwords[f]; stop {
				continue
			}
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
