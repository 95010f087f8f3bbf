// Package describe turns web search snippets into one clean product description.
package describe

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

const (
	DefaultMaxLength  = 500
	DefaultMinSnippet = 20
	shortBestSnippet  = 100
	ellipsis          = "…"

	// Bounds the deny passes for user patterns that can match the empty string
	maxDenyPasses = 8
)

// Promotional boilerplate removed from every description
var defaultDenyPatterns = []string{
	`\bbuy\s+(now|online|today)\b[!.]*`,
	`\bfree\s+(shipping|delivery)\b[!.]*`,
	`\bshop\s+now\b[!.]*`,
	`\badd\s+to\s+(cart|basket)\b[!.]*`,
	`\bclick\s+here\b[!.]*`,
	`\border\s+(now|today)\b[!.]*`,
	`\blimited\s+time\s+offer\b[!.]*`,
	`(?:[$€£¥]\s?\d[\d.,]*|\b\d[\d.,]*\s?(?:USD|EUR|GBP)\b)`,
	`\bhttps?://\S+`,
	`\bwww\.\S+`,
}

var (
	leadingCTARe     = regexp.MustCompile(`(?i)^(buy|shop|get|find)\s+`)
	repeatedPunctRe  = regexp.MustCompile(`([!?.,;:])[!?.,;:]+`)
	spaceBeforePunct = regexp.MustCompile(`\s+([!?.,;:])`)
	emptyParensRe    = regexp.MustCompile(`\(\s*\)`)
)

// Synthesizer combines snippets. Safe for concurrent use after construction.
type Synthesizer struct {
	deny       []*regexp.Regexp
	maxLen     int
	minSnippet int
	fallback   bool
}

// New builds a synthesizer from the description settings.
// Extra deny patterns are appended to the built-in list.
func New(cfg config.DescriptionConfig) (*Synthesizer, error) {
	deny, err := utils.CompileRegexPatterns(append(append([]string(nil), defaultDenyPatterns...), cfg.DenyPatterns...), true)
	if err != nil {
		return nil, err
	}
	s := &Synthesizer{
		deny:       deny,
		maxLen:     cfg.MaxLength,
		minSnippet: cfg.MinSnippetLen,
		fallback:   cfg.Fallback != config.FallbackNone,
	}
	if s.maxLen <= 0 {
		s.maxLen = DefaultMaxLength
	}
	if s.minSnippet <= 0 {
		s.minSnippet = DefaultMinSnippet
	}
	return s, nil
}

// Fallback is the templated description used when no snippet qualifies
func Fallback(name string) string {
	return "High-quality " + strings.TrimSpace(name) + " available for purchase."
}

// Synthesize returns a description and whether one was produced.
// ok is false only when no snippet qualifies and the fallback is disabled
// (or the name is empty).
func (s *Synthesizer) Synthesize(snippets []string, name string) (string, bool) {
	usable := s.prepare(snippets)
	if len(usable) == 0 {
		if s.fallback && strings.TrimSpace(name) != "" {
			return Fallback(name), true
		}
		return "", false
	}

	// Longest first; stable so equal lengths keep provider order
	sort.SliceStable(usable, func(i, j int) bool { return len(usable[i]) > len(usable[j]) })
	text := usable[0]
	if len(text) < shortBestSnippet && len(usable) > 1 {
		text = ensureTerminal(text) + " " + usable[1]
	}

	text = s.Clean(text)
	if utf8.RuneCountInString(text) < s.minSnippet {
		if s.fallback && strings.TrimSpace(name) != "" {
			return Fallback(name), true
		}
		return "", false
	}
	return text, true
}

// prepare converts to plain text, strips call-to-action prefixes, drops
// short snippets and removes case-insensitive duplicates.
func (s *Synthesizer) prepare(snippets []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range snippets {
		text := collapse(PlainText(raw))
		text = strings.TrimSpace(leadingCTARe.ReplaceAllString(text, ""))
		text = strings.Trim(text, ".… ")
		if utf8.RuneCountInString(text) < s.minSnippet {
			continue
		}
		key := strings.ToLower(text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, text)
	}
	return out
}

// Clean applies the deny list, normalizes spacing and punctuation, ensures
// terminal punctuation and truncates. The deny list is reapplied until
// nothing matches, so boilerplate that re-forms once a match is removed
// ("buy buy now now") is stripped as well.
func (s *Synthesizer) Clean(text string) string {
	for pass := 0; pass < maxDenyPasses; pass++ {
		prev := text
		for _, re := range s.deny {
			text = re.ReplaceAllString(text, " ")
		}
		text = emptyParensRe.ReplaceAllString(text, " ")
		text = collapse(text)
		if text == prev {
			break
		}
	}
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	text = repeatedPunctRe.ReplaceAllString(text, "$1")
	text = strings.TrimLeft(text, "!?.,;:- ")
	text = strings.TrimRight(text, ",;:- ")
	if text == "" {
		return ""
	}
	return truncate(ensureTerminal(text), s.maxLen)
}

// PlainText strips markup from an HTML fragment
func PlainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	doc.Find("br").ReplaceWithHtml(" ")
	return doc.Text()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hasTerminal(s string) bool {
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") ||
		strings.HasSuffix(s, "?") || strings.HasSuffix(s, ellipsis)
}

func ensureTerminal(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || hasTerminal(s) {
		return s
	}
	return s + "."
}

// truncate limits s to max characters, cutting on a word boundary and
// appending an ellipsis when anything was removed.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	cut := string([]rune(s)[:max-utf8.RuneCountInString(ellipsis)])
	if i := strings.LastIndex(cut, " "); i > len(cut)/2 {
		cut = cut[:i]
	}
	cut = strings.TrimRight(cut, " ,;:-.!?")
	return cut + ellipsis
}
