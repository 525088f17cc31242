package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-search-indexer/internal/scope"
)

func analyzerFilters(t *testing.T, analysis map[string]any, name string) []string {
	t.Helper()
	analyzers, ok := analysis["analyzer"].(map[string]any)
	require.True(t, ok)
	analyzer, ok := analyzers[name].(map[string]any)
	require.True(t, ok, "analyzer %s missing", name)
	chain, ok := analyzer["filter"].([]string)
	require.True(t, ok)
	return chain
}

func TestAnalysisSettingsFrenchHasStemmerAndPhonetic(t *testing.T) {
	sc := scope.New(1, 1, "fr_FR")
	analysis := AnalysisSettings(sc, Settings{})

	chain := analyzerFilters(t, analysis, "analyzer_fr")
	assert.Equal(t, []string{"word_delimiter", "length", "lowercase", "ascii_folding", "snowball_fr"}, chain)

	filters := analysis["filter"].(map[string]any)
	stemmer := filters["snowball_fr"].(map[string]any)
	assert.Equal(t, "french", stemmer["language"])

	phonetic := analyzerFilters(t, analysis, "phonetic_fr")
	assert.Contains(t, phonetic, "beidermorse_fr")
	bm := filters["beidermorse_fr"].(map[string]any)
	assert.Equal(t, "beider_morse", bm["encoder"])
	assert.Equal(t, []string{"french"}, bm["languageset"])
}

func TestAnalysisSettingsUnsupportedLanguageStaysBase(t *testing.T) {
	sc := scope.New(1, 1, "ja_JP")
	analysis := AnalysisSettings(sc, Settings{})

	chain := analyzerFilters(t, analysis, "analyzer_ja")
	assert.Equal(t, []string{"word_delimiter", "length", "lowercase", "ascii_folding"}, chain)

	analyzers := analysis["analyzer"].(map[string]any)
	assert.NotContains(t, analyzers, "phonetic_ja")
}

func TestAnalysisSettingsSynonymFilter(t *testing.T) {
	sc := scope.New(1, 1, "en_US")
	analysis := AnalysisSettings(sc, Settings{Synonyms: []string{"jacket,coat"}})

	chain := analyzerFilters(t, analysis, "analyzer_en")
	assert.Contains(t, chain, "synonym")

	filters := analysis["filter"].(map[string]any)
	synonym := filters["synonym"].(map[string]any)
	assert.Equal(t, []string{"jacket,coat"}, synonym["synonyms"])
}

func TestAnalysisSettingsIcuFoldingPrepended(t *testing.T) {
	sc := scope.New(1, 1, "en_US")
	analysis := AnalysisSettings(sc, Settings{EnableIcuFolding: true})

	chain := analyzerFilters(t, analysis, "analyzer_en")
	require.Greater(t, len(chain), 2)
	assert.Equal(t, "icu_normalizer", chain[0])
	assert.Equal(t, "icu_folding", chain[1])

	// auxiliary analyzers get the prefix too
	chain = analyzerFilters(t, analysis, "sortable")
	assert.Equal(t, "icu_normalizer", chain[0])
}

func TestPhoneticSupported(t *testing.T) {
	assert.True(t, PhoneticSupported(scope.New(1, 1, "de_DE")))
	assert.False(t, PhoneticSupported(scope.New(1, 1, "sv_SE")))
	assert.False(t, PhoneticSupported(scope.New(1, 1, "xx_XX")))
}

func TestStemmerSupported(t *testing.T) {
	assert.True(t, StemmerSupported("sv"))
	assert.False(t, StemmerSupported("ja"))
}
