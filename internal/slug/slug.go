// Package slug turns free text into URL-safe identifiers.
package slug

import (
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// MaxLen bounds slugs stored for lists.
const MaxLen = 80

var (
	// \s is ASCII-only in RE2; widen it to \v, Zs, U+2028/2029 and U+FEFF.
	spaceRun   = regexp.MustCompile(`[\s\v\p{Zs}\x{2028}\x{2029}\x{FEFF}]+`)
	nonWord    = regexp.MustCompile(`[^\w\-]+`)
	hyphenRun  = regexp.MustCompile(`\-\-+`)
	edgeHyphen = regexp.MustCompile(`^-+|-+$`)
)

// Slugify lowercases s, turns whitespace runs into a single hyphen, drops
// anything that is not a word character or hyphen, collapses repeated
// hyphens and trims hyphens from both ends.
func Slugify(s string) string {
	out := strings.ToLower(s)
	out = spaceRun.ReplaceAllString(out, "-")
	out = nonWord.ReplaceAllString(out, "")
	out = hyphenRun.ReplaceAllString(out, "-")
	return edgeHyphen.ReplaceAllString(out, "")
}

// FromTitle transliterates title to ASCII before slugifying it, so that
// "Café Crème" becomes "cafe-creme" rather than "caf-crme".
func FromTitle(title string) string {
	s := Slugify(unidecode.Unidecode(title))
	if len(s) > MaxLen {
		s = strings.TrimRight(s[:MaxLen], "-")
	}
	return s
}
