package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewExtractsLanguageFromLocale(t *testing.T) {
	assert.Equal(t, "fr", New(1, 1, "fr_FR").LanguageCode())
	assert.Equal(t, "en", New(2, 1, "en_US").LanguageCode())
	assert.Equal(t, "de", New(3, 2, "DE_DE").LanguageCode())

	// bare language codes pass through
	assert.Equal(t, "sv", New(4, 2, "sv").LanguageCode())
}

func TestIdentifierIsStablePerStore(t *testing.T) {
	sc := New(7, 3, "en_GB")
	assert.Equal(t, "store7", sc.Identifier())
	assert.Equal(t, 7, sc.StoreID())
	assert.Equal(t, 3, sc.WebsiteID())
}

func TestFilterByWebsites(t *testing.T) {
	scopes := []Scope{
		New(1, 1, "en_US"),
		New(2, 1, "fr_FR"),
		New(3, 2, "de_DE"),
	}

	filtered := FilterByWebsites(scopes, []int{1})
	assert.Len(t, filtered, 2)
	assert.Equal(t, "store1", filtered[0].Identifier())
	assert.Equal(t, "store2", filtered[1].Identifier())

	assert.Empty(t, FilterByWebsites(scopes, []int{9}))
	assert.Empty(t, FilterByWebsites(scopes, nil))
}
