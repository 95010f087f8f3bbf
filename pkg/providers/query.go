// Package providers wraps the external image and text search APIs behind
// normalized candidate and snippet results.
package providers

import (
	"context"
	"regexp"
	"strings"

	"github.com/trionica/catalog-enricher/pkg/models"
)

const maxKeywordLength = 100

var (
	internalCodeRe = regexp.MustCompile(`\b\d{8}\b`)
	longNumberRe   = regexp.MustCompile(`\b\d{5,}\b`)
	bracketedRe    = regexp.MustCompile(`[\(\[][^\)\]]*[\)\]]`)
)

// Query is what a provider searches for
type Query struct {
	Keywords    string
	Name        string
	Brand       string
	Category    string
	Identifiers models.Identifiers
}

// IsBlind reports whether there is nothing to search with
func (q Query) IsBlind() bool {
	return strings.TrimSpace(q.Keywords) == "" && q.Identifiers.IsEmpty()
}

// ImageSearcher returns ranked image candidates for a query.
// Transport and HTTP failures yield an empty result, not an error.
type ImageSearcher interface {
	Source() models.ImageSource
	Configured() error
	SearchImages(ctx context.Context, q Query) ([]models.Candidate, error)
}

// TextSearcher returns web snippets describing a query
type TextSearcher interface {
	Configured() error
	SearchText(ctx context.Context, q Query) ([]models.Snippet, error)
}

// BuildQuery derives the search query for an item
func BuildQuery(item models.CatalogItem) Query {
	return Query{
		Keywords:    PrepareKeywords(item.Name, item.Brand, item.Category),
		Name:        strings.TrimSpace(item.Name),
		Brand:       strings.TrimSpace(item.Brand),
		Category:    strings.TrimSpace(item.Category),
		Identifiers: item.Identifiers,
	}
}

// PrepareKeywords drops 8-digit internal codes from the name, prepends the
// brand when the name lacks it and appends the category unless it is the
// root category or already present. Capped at 100 chars on a word boundary.
func PrepareKeywords(name, brand, category string) string {
	var parts []string

	name = collapseSpaces(internalCodeRe.ReplaceAllString(name, ""))
	brand = strings.TrimSpace(brand)
	if name != "" {
		if brand != "" && !strings.Contains(strings.ToUpper(name), strings.ToUpper(brand)) {
			parts = append(parts, brand+" "+name)
		} else {
			parts = append(parts, name)
		}
	} else if brand != "" {
		parts = append(parts, brand)
	}

	category = strings.TrimSpace(category)
	if category != "" && category != "All" {
		if len(parts) == 0 || !strings.Contains(strings.ToLower(parts[0]), strings.ToLower(category)) {
			parts = append(parts, category)
		}
	}

	return truncateWords(strings.Join(parts, " "), maxKeywordLength)
}

// SimplifiedQueries returns up to max looser variants of the item name for
// when the full query finds nothing. Variants equal to the original
// keywords are skipped.
func SimplifiedQueries(q Query, max int) []string {
	if max <= 0 {
		return nil
	}
	stripped := collapseSpaces(longNumberRe.ReplaceAllString(q.Name, ""))
	noBrackets := collapseSpaces(bracketedRe.ReplaceAllString(stripped, ""))

	candidates := []string{stripped, noBrackets}
	if words := strings.Fields(noBrackets); len(words) > 4 {
		candidates = append(candidates, strings.Join(words[:4], " "))
	}

	seen := map[string]bool{strings.ToLower(collapseSpaces(q.Keywords)): true}
	var out []string
	for _, c := range candidates {
		key := strings.ToLower(c)
		if c == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if len(out) == max {
			break
		}
	}
	return out
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateWords cuts s to at most n bytes on a word boundary
func truncateWords(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
