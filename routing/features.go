package routing

import (
	"sort"
	"strings"
	"unicode"

	"github.com/jbctechsolutions/mizan/config"
)

// Extractor derives a TextFeatures vector from raw input text. It performs
// no I/O and is deterministic: the same input always yields the same output.
// Marker tables are built once at construction time so Extract is cheap.
type Extractor struct {
	markerSet     map[string]bool
	regionMarkers map[string]map[string]bool
	clauseMarkers map[string]bool
}

// NewExtractor builds an Extractor from the configured dialect lexicon.
func NewExtractor(lex config.Lexicon) *Extractor {
	e := &Extractor{
		markerSet:     make(map[string]bool),
		regionMarkers: make(map[string]map[string]bool),
		clauseMarkers: make(map[string]bool),
	}

	for region, markers := range lex.Regions {
		set := make(map[string]bool, len(markers))
		for _, m := range markers {
			m = strings.TrimSpace(m)
			if m == "" {
				continue
			}
			set[m] = true
			e.markerSet[m] = true
		}
		e.regionMarkers[region] = set
	}

	for _, m := range lex.ClauseMarkers {
		m = strings.TrimSpace(m)
		if m != "" {
			e.clauseMarkers[m] = true
		}
	}

	return e
}

// Extract computes the feature vector for text. Empty or whitespace-only
// input yields the zero-valued feature set.
func (e *Extractor) Extract(text string) TextFeatures {
	if strings.TrimSpace(text) == "" {
		return TextFeatures{}
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return TextFeatures{}
	}

	f := TextFeatures{LengthTokens: len(tokens)}
	f.ScriptRatio = arabicScriptRatio(text)
	f.DialectDensity, f.Region = e.dialectSignal(tokens)
	f.ComplexityScore = e.complexity(text, tokens)
	return f
}

// tokenize splits on whitespace and strips surrounding punctuation from each
// token so lexicon lookups match words followed by commas, question marks, etc.
func tokenize(text string) []string {
	fields := strings.Fields(text)
	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		tok = strings.TrimFunc(tok, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// arabicScriptRatio returns the fraction of letter runes that belong to the
// Arabic script. Texts without any letters score 0.
func arabicScriptRatio(text string) float64 {
	letters, arabic := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Arabic, r) {
			arabic++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(arabic) / float64(letters)
}

// dialectSignal counts tokens that appear in the marker lexicon and returns
// the match density together with the best-guess region. The region with the
// most marker hits wins; ties are broken alphabetically so the result is a
// total order. No hits means no region.
func (e *Extractor) dialectSignal(tokens []string) (float64, string) {
	if len(e.markerSet) == 0 {
		return 0, ""
	}

	hits := 0
	regionHits := make(map[string]int)
	for _, tok := range tokens {
		if !e.markerSet[tok] {
			continue
		}
		hits++
		for region, set := range e.regionMarkers {
			if set[tok] {
				regionHits[region]++
			}
		}
	}

	density := float64(hits) / float64(len(tokens))

	regions := make([]string, 0, len(regionHits))
	for r := range regionHits {
		regions = append(regions, r)
	}
	sort.Strings(regions)

	best, bestCount := "", 0
	for _, r := range regions {
		if regionHits[r] > bestCount {
			best, bestCount = r, regionHits[r]
		}
	}

	return density, best
}

// sentenceEnders covers Latin and Arabic sentence punctuation.
var sentenceEnders = map[rune]bool{'.': true, '!': true, '?': true, '؟': true, '؛': true, '۔': true}

// complexity scores text 0–10 from average sentence length and the density
// of subordinating clause markers. Half the scale comes from each signal.
func (e *Extractor) complexity(text string, tokens []string) float64 {
	sentences := 0
	for _, r := range text {
		if sentenceEnders[r] {
			sentences++
		}
	}
	if sentences == 0 {
		sentences = 1
	}

	avgSentLen := float64(len(tokens)) / float64(sentences)

	clauses := 0
	for _, tok := range tokens {
		if e.clauseMarkers[tok] {
			clauses++
		}
	}
	clauseDensity := float64(clauses) / float64(len(tokens))

	// 40-token sentences max out the length half; one clause marker per ten
	// tokens maxes out the clause half.
	lengthPart := avgSentLen / 8.0
	if lengthPart > 5 {
		lengthPart = 5
	}
	clausePart := clauseDensity * 50.0
	if clausePart > 5 {
		clausePart = 5
	}

	return lengthPart + clausePart
}
