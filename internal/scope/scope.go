// Package scope defines the indexing partition value type. One Scope is one
// store/language/website combination and maps to exactly one physical index
// per entity type.
package scope

import (
	"fmt"
	"strings"
)

// Scope identifies one indexing partition. It is immutable and performs no
// network or storage access.
type Scope struct {
	storeID      int
	websiteID    int
	languageCode string
}

// New builds a Scope from a store id, its website id and the store locale
// code ("fr_FR", "en_US", ...). The language code is the lowercased language
// part of the locale.
func New(storeID, websiteID int, localeCode string) Scope {
	lang := localeCode
	if i := strings.IndexByte(localeCode, '_'); i > 0 {
		lang = localeCode[:i]
	}
	return Scope{
		storeID:      storeID,
		websiteID:    websiteID,
		languageCode: strings.ToLower(lang),
	}
}

// Identifier returns the stable partition key used in index and alias names.
func (s Scope) Identifier() string { return fmt.Sprintf("store%d", s.storeID) }

func (s Scope) StoreID() int         { return s.storeID }
func (s Scope) WebsiteID() int       { return s.websiteID }
func (s Scope) LanguageCode() string { return s.languageCode }

// FilterByWebsites returns the scopes whose website is in websiteIDs,
// preserving order. Used to resolve website-level batch actions without
// going back to store configuration.
func FilterByWebsites(scopes []Scope, websiteIDs []int) []Scope {
	wanted := make(map[int]struct{}, len(websiteIDs))
	for _, id := range websiteIDs {
		wanted[id] = struct{}{}
	}
	var out []Scope
	for _, s := range scopes {
		if _, ok := wanted[s.websiteID]; ok {
			out = append(out, s)
		}
	}
	return out
}
