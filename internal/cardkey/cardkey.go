// Package cardkey derives the canonical cache identifier for a printed card.
//
// A key is either product based ("pokemon:pid:12345") or attribute based
// ("pokemon:charizard_ex:obsidian_flames:125_197"). The product based form
// always wins when a catalog product id is known.
package cardkey

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	delimiter = ":"
	pidMarker = "pid"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// Key is a canonical card identifier.
type Key string

// String returns the key as a plain string.
func (k Key) String() string {
	return string(k)
}

// IsProductID reports whether the key was built from a catalog product id.
func (k Key) IsProductID() bool {
	// Attribute keys always carry four segments.
	if strings.Count(string(k), delimiter) != 2 {
		return false
	}
	return strings.Split(string(k), delimiter)[1] == pidMarker
}

// Normalize lower-cases raw, collapses every run of non-alphanumeric
// characters into a single underscore and trims underscores from both ends.
func Normalize(raw string) string {
	s := strings.ToLower(raw)
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// Build computes the key for a card. When productID is non-empty the other
// attributes are ignored. The product id is query escaped so it can never
// contain the delimiter.
func Build(game, cardName, setName, cardNumber, productID string) Key {
	if pid := strings.TrimSpace(productID); pid != "" {
		return Key(strings.Join([]string{Normalize(game), pidMarker, url.QueryEscape(pid)}, delimiter))
	}
	return Key(strings.Join([]string{
		Normalize(game),
		Normalize(cardName),
		Normalize(setName),
		Normalize(cardNumber),
	}, delimiter))
}
