package search

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

type IntentKind string

const (
	IntentExact       IntentKind = "exact"
	IntentDefinition  IntentKind = "definition"
	IntentProcedural  IntentKind = "procedural"
	IntentComparative IntentKind = "comparative"
	IntentConceptual  IntentKind = "conceptual"
	IntentGeneral     IntentKind = "general"
)

type QueryIntent struct {
	Kind          IntentKind `json:"kind"`
	VectorWeight  float64    `json:"vector_weight"`
	KeywordWeight float64    `json:"keyword_weight"`
	Keywords      []string   `json:"keywords"`
	ExactPhrases  []string   `json:"exact_phrases"`
}

var intentWeights = map[IntentKind]float64{
	IntentExact:       0.4,
	IntentDefinition:  0.6,
	IntentProcedural:  0.65,
	IntentComparative: 0.7,
	IntentConceptual:  0.8,
	IntentGeneral:     0.7,
}

// Checked in order; the first kind with a matching cue wins.
var intentCues = []struct {
	kind IntentKind
	cues []string
}{
	{IntentDefinition, []string{"what is", "what are", "what's", "define", "definition of", "meaning of"}},
	{IntentProcedural, []string{"how to", "how do", "how can", "steps", "step by step", "guide", "tutorial"}},
	{IntentComparative, []string{"compare", "comparison", "vs", "versus", "difference", "differences", "better"}},
	{IntentConceptual, []string{"why", "explain", "overview", "concept", "understand"}},
}

var (
	quotedPattern = regexp.MustCompile(`"([^"]+)"|“([^”]+)”`)
	// identifiers such as snake_case, camelCase, ERR-404 or v1.2.3
	identifierPattern = regexp.MustCompile(`\b([a-z]+_[a-z0-9_]+|[a-z]+[A-Z][A-Za-z0-9]*|[A-Za-z]+-?\d+[A-Za-z0-9-]*|\d+(\.\d+){1,})\b`)
	numberPattern     = regexp.MustCompile(`\b\d{3,}\b`)
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an the and or but if then else of to in on at by for with from into
		about as is are was were be been being am do does did doing have has had having it its this
		that these those there here what which who whom whose when where why how i me my we our you
		your he him his she her they them their can could should would will shall may might must
		not no nor so than too very just also any all some such each other more most own same
		define definition meaning explain compare versus vs difference between tell show give please
		s t don shouldn isn aren wasn weren`) {
		stopWords[w] = struct{}{}
	}
}

// AnalyzeQueryIntent classifies query and picks the blend weights for it.
func AnalyzeQueryIntent(query string) QueryIntent {
	phrases := extractPhrases(query)
	keywords := ExtractKeywords(query)
	kind := classify(query, phrases)

	vw := intentWeights[kind]
	if len(keywords) <= 2 {
		vw -= 0.1
	}
	vw = math.Round(vw*100) / 100
	return QueryIntent{
		Kind:          kind,
		VectorWeight:  vw,
		KeywordWeight: math.Round((1-vw)*100) / 100,
		Keywords:      keywords,
		ExactPhrases:  phrases,
	}
}

func classify(query string, phrases []string) IntentKind {
	if len(phrases) > 0 || identifierPattern.MatchString(query) || numberPattern.MatchString(query) {
		return IntentExact
	}
	padded := " " + strings.Join(tokenize(strings.ToLower(query), true), " ") + " "
	for _, group := range intentCues {
		for _, cue := range group.cues {
			if strings.Contains(padded, " "+cue+" ") {
				return group.kind
			}
		}
	}
	return IntentGeneral
}

func extractPhrases(query string) []string {
	matches := quotedPattern.FindAllStringSubmatch(query, -1)
	phrases := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		phrase := m[1]
		if phrase == "" {
			phrase = m[2]
		}
		phrase = strings.ToLower(strings.Join(strings.Fields(phrase), " "))
		if phrase == "" {
			continue
		}
		if _, ok := seen[phrase]; ok {
			continue
		}
		seen[phrase] = struct{}{}
		phrases = append(phrases, phrase)
	}
	return phrases
}

// ExtractKeywords returns the lowercase, deduplicated, non stop-word tokens
// of text that are at least two characters long.
func ExtractKeywords(text string) []string {
	tokens := tokenize(strings.ToLower(text), false)
	keywords := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if len([]rune(tok)) < 2 {
			continue
		}
		if _, ok := stopWords[tok]; ok {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}

// tokenize splits on anything that is not a letter or digit. Apostrophes
// are kept inside words when keepApostrophe is set so cues like "what's"
// still match.
func tokenize(text string, keepApostrophe bool) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		if keepApostrophe && r == '\'' {
			return false
		}
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
