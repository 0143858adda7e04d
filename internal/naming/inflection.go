package naming

import (
	"github.com/jinzhu/inflection"
)

// Pluralize converts a singular word to its plural form.
// Checks custom overrides first, then falls back to the inflection library.
func (n *Namer) Pluralize(word string) string {
	if override, ok := n.config.PluralOverrides[word]; ok {
		return override
	}
	return inflection.Plural(word)
}

// Singularize converts a plural word to its singular form.
// Checks custom overrides first, then falls back to the inflection library.
func (n *Namer) Singularize(word string) string {
	if override, ok := n.config.SingularOverrides[word]; ok {
		return override
	}
	return inflection.Singular(word)
}

// IsPlural reports whether word reads as a plural noun: singularizing it
// changes it and pluralizing the singular form round-trips back.
func (n *Namer) IsPlural(word string) bool {
	if word == "" {
		return false
	}
	singular := n.Singularize(word)
	return singular != word && n.Pluralize(singular) == word
}
