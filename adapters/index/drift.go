package index

import (
	"context"
	"strings"

	"discernus/ports"
)

// Drift classification thresholds over the fuzzy similarity score
const (
	driftExactMin       = 0.95
	driftMinorMin       = 0.85
	driftSignificantMin = 0.70
	driftMajorMin       = 0.50
)

// ValidateQuote checks a synthesized quote against every indexed passage and
// classifies how far it drifts from the closest real text. A quote below the
// major-drift floor is a hallucination.
func (x *Index) ValidateQuote(ctx context.Context, quote string) (*ports.QuoteValidation, error) {
	var rows []itemRow
	err := x.db.SelectContext(ctx, &rows,
		`SELECT rowid, content, content_type, source_artifact, speaker, document_id, char_offset FROM items`)
	if err != nil {
		return nil, err
	}

	best := &ports.QuoteValidation{Drift: ports.DriftHallucination}
	normalizedQuote := normalizeText(quote)
	for _, row := range rows {
		score := fuzzyScore(normalizedQuote, normalizeText(row.Content))
		if score > best.Score {
			best.Score = score
			best.BestMatch = row.Content
			if row.DocumentID.Valid {
				best.FileMatch = row.DocumentID.String
			}
		}
	}

	best.Drift = classifyDrift(best.Score)
	best.Found = best.Drift != ports.DriftHallucination
	return best, nil
}

func classifyDrift(score float64) ports.DriftLevel {
	switch {
	case score >= driftExactMin:
		return ports.DriftExact
	case score >= driftMinorMin:
		return ports.DriftMinor
	case score >= driftSignificantMin:
		return ports.DriftSignificant
	case score >= driftMajorMin:
		return ports.DriftMajor
	default:
		return ports.DriftHallucination
	}
}

// fuzzyScore blends normalized containment with token-trigram Jaccard. A
// verbatim quote embedded in a longer passage scores 1.0 via containment;
// paraphrases fall back to trigram overlap.
func fuzzyScore(quote, passage string) float64 {
	if quote == "" || passage == "" {
		return 0
	}
	if strings.Contains(passage, quote) || strings.Contains(quote, passage) {
		return 1.0
	}
	return trigramJaccard(quote, passage)
}

func trigramJaccard(a, b string) float64 {
	ta := tokenTrigrams(a)
	tb := tokenTrigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		// Short texts degrade to unigram overlap.
		return unigramOverlap(a, b)
	}
	intersection := 0
	for tri := range ta {
		if tb[tri] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenTrigrams(text string) map[string]bool {
	tokens := strings.Fields(text)
	if len(tokens) < 3 {
		return nil
	}
	trigrams := make(map[string]bool, len(tokens)-2)
	for i := 0; i+3 <= len(tokens); i++ {
		trigrams[strings.Join(tokens[i:i+3], " ")] = true
	}
	return trigrams
}

func unigramOverlap(a, b string) float64 {
	ta := strings.Fields(a)
	tb := map[string]bool{}
	for _, t := range strings.Fields(b) {
		tb[t] = true
	}
	if len(ta) == 0 {
		return 0
	}
	matched := 0
	for _, t := range ta {
		if tb[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(ta))
}

// normalizeText lowercases and collapses whitespace and punctuation so
// cosmetic differences do not count as drift.
func normalizeText(text string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case 'a' <= r && r <= 'z' || '0' <= r && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
