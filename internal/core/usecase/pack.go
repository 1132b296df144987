package usecase

import "github.com/avolkova/enterprise-search/internal/core/domain"

// PackContext selects chunks for the grounding context under a character
// budget. It walks results in fused order and stops before exceeding the
// budget; the first chunk is always admitted (truncated if necessary) so the
// synthesizer has grounding material whenever retrieval was non-empty.
//
// Order is preserved: the returned slice's positions become the [Document N]
// numbering downstream, so reordering here would corrupt citations.
func PackContext(results []domain.ScoredResult, maxContextChars int) []domain.Chunk {
	if len(results) == 0 {
		return nil
	}
	if maxContextChars <= 0 {
		maxContextChars = 6000
	}

	packed := make([]domain.Chunk, 0, len(results))
	used := 0
	for i, result := range results {
		chunk := result.Chunk
		cost := len([]rune(chunk.Text))

		if i == 0 && cost > maxContextChars {
			chunk.Text = truncateRunes(chunk.Text, maxContextChars)
			packed = append(packed, chunk)
			break
		}
		if used+cost > maxContextChars {
			break
		}
		packed = append(packed, chunk)
		used += cost
	}
	return packed
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
