package search

import "strings"

const (
	tfSaturation = 1.5
	phraseBonus  = 0.2
)

// CalculateKeywordRelevance scores content against the query keywords in
// [0, 1]. Term frequency saturates as count/(count+1.5); the mean over all
// keywords is scaled by the share of keywords that matched, and every exact
// phrase found adds a fixed bonus.
func CalculateKeywordRelevance(content string, keywords, phrases []string) float64 {
	if len(keywords) == 0 || content == "" {
		return 0
	}
	lower := strings.ToLower(content)
	counts := make(map[string]int)
	for _, tok := range tokenize(lower, false) {
		counts[tok]++
	}
	var sum float64
	matched := 0
	for _, kw := range keywords {
		c := counts[strings.ToLower(kw)]
		if c == 0 {
			continue
		}
		matched++
		sum += float64(c) / (float64(c) + tfSaturation)
	}
	total := float64(len(keywords))
	score := (sum / total) * (float64(matched) / total)
	for _, phrase := range phrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			score += phraseBonus
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}
