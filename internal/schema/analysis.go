// Package schema derives the search engine mapping and analysis settings
// from attribute metadata and a scope. Everything here is a pure function of
// its inputs so it can be unit-tested without a live engine.
package schema

import "catalog-search-indexer/internal/scope"

// Settings are the global indexing settings the generator depends on.
type Settings struct {
	// Synonym groups, one comma-joined group per entry ("jacket,coat").
	// An empty list omits the synonym filter entirely.
	Synonyms []string

	// Prepend icu_normalizer/icu_folding to every analyzer (requires the
	// ICU plugin on the cluster).
	EnableIcuFolding bool

	// Weighted category-name search field, appended to the search-field
	// lists when enabled.
	SearchCategoryName   bool
	CategoryNameWeight   int
	CategoryNameFuzzy    bool
	CategoryNameAutocomp bool
}

// isoLanguageNames maps a scope language code to the English language name
// used by the stemmer and phonetic token filters.
var isoLanguageNames = map[string]string{
	"hy": "armenian",
	"eu": "basque",
	"ca": "catalan",
	"da": "danish",
	"nl": "dutch",
	"en": "english",
	"fi": "finnish",
	"fr": "french",
	"de": "german",
	"hu": "hungarian",
	"it": "italian",
	"no": "norwegian",
	"pt": "portuguese",
	"ro": "romanian",
	"ru": "russian",
	"es": "spanish",
	"sv": "swedish",
	"tr": "turkish",
}

// snowballLanguages are the languages with a stemmer token filter.
var snowballLanguages = map[string]struct{}{
	"armenian": {}, "basque": {}, "catalan": {}, "danish": {}, "dutch": {},
	"english": {}, "finnish": {}, "french": {}, "german": {}, "hungarian": {},
	"italian": {}, "norwegian": {}, "portuguese": {}, "romanian": {},
	"russian": {}, "spanish": {}, "swedish": {}, "turkish": {},
}

// beiderMorseLanguages are the languages supported by the Beider-Morse
// phonetic encoder.
var beiderMorseLanguages = map[string]struct{}{
	"english": {}, "french": {}, "german": {}, "hungarian": {}, "italian": {},
	"romanian": {}, "russian": {}, "spanish": {}, "turkish": {},
}

// AnalyzerName returns the language analyzer name for a scope language.
func AnalyzerName(languageCode string) string { return "analyzer_" + languageCode }

// PhoneticAnalyzerName returns the phonetic analyzer name for a scope language.
func PhoneticAnalyzerName(languageCode string) string { return "phonetic_" + languageCode }

// StemmerSupported reports whether a stemmer filter exists for the language.
func StemmerSupported(languageCode string) bool {
	_, ok := snowballLanguages[isoLanguageNames[languageCode]]
	return ok
}

// PhoneticSupported reports whether phonetic matching is available for the
// language of the scope.
func PhoneticSupported(sc scope.Scope) bool {
	_, ok := beiderMorseLanguages[isoLanguageNames[sc.LanguageCode()]]
	return ok
}

// AnalysisSettings builds the "analysis" block of the index settings for one
// scope: the language analyzer chain, the auxiliary analyzers backing
// sub-fields, and the optional stemmer/phonetic/synonym filters.
func AnalysisSettings(sc scope.Scope, st Settings) map[string]any {
	lang := sc.LanguageCode()
	langName := isoLanguageNames[lang]

	filters := map[string]any{
		"word_delimiter": map[string]any{"type": "word_delimiter"},
		"length":         map[string]any{"type": "length", "min": 1},
		"ascii_folding":  map[string]any{"type": "asciifolding"},
	}

	baseChain := []string{"word_delimiter", "length", "lowercase", "ascii_folding"}
	if len(st.Synonyms) > 0 {
		filters["synonym"] = map[string]any{"type": "synonym", "synonyms": st.Synonyms}
		baseChain = append(baseChain, "synonym")
	}

	languageChain := append([]string(nil), baseChain...)
	if StemmerSupported(lang) {
		stemmerFilter := "snowball_" + lang
		filters[stemmerFilter] = map[string]any{"type": "stemmer", "language": langName}
		languageChain = append(languageChain, stemmerFilter)
	}

	analyzers := map[string]any{
		AnalyzerName(lang): map[string]any{
			"type":        "custom",
			"tokenizer":   "whitespace",
			"char_filter": []string{"html_strip"},
			"filter":      languageChain,
		},
		"whitespace": map[string]any{
			"type":      "custom",
			"tokenizer": "whitespace",
			"filter":    []string{"lowercase"},
		},
		"sortable": map[string]any{
			"type":      "custom",
			"tokenizer": "keyword",
			"filter":    []string{"lowercase", "ascii_folding"},
		},
		"edge_ngram_front": map[string]any{
			"type":      "custom",
			"tokenizer": "edge_ngram_front",
			"filter":    []string{"lowercase", "ascii_folding"},
		},
	}

	if PhoneticSupported(sc) {
		phoneticFilter := "beidermorse_" + lang
		filters[phoneticFilter] = map[string]any{
			"type":        "phonetic",
			"encoder":     "beider_morse",
			"languageset": []string{langName},
		}
		analyzers[PhoneticAnalyzerName(lang)] = map[string]any{
			"type":        "custom",
			"tokenizer":   "standard",
			"char_filter": []string{"html_strip"},
			"filter":      []string{"lowercase", "ascii_folding", phoneticFilter},
		}
	}

	if st.EnableIcuFolding {
		for _, a := range analyzers {
			analyzer := a.(map[string]any)
			chain := analyzer["filter"].([]string)
			analyzer["filter"] = append([]string{"icu_normalizer", "icu_folding"}, chain...)
		}
	}

	return map[string]any{
		"filter":   filters,
		"analyzer": analyzers,
		"tokenizer": map[string]any{
			"edge_ngram_front": map[string]any{
				"type":        "edge_ngram",
				"min_gram":    2,
				"max_gram":    20,
				"token_chars": []string{"letter", "digit"},
			},
		},
	}
}
