package utils

import (
	"regexp"
	"strings"
)

// CompileRegexPatterns compiles regex strings into usable *regexp.Regexp objects.
// When caseInsensitive is set, patterns without an explicit flag group get (?i).
func CompileRegexPatterns(patterns []string, caseInsensitive bool) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for i, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" { // Skip empty patterns silently
			continue
		}
		if caseInsensitive && !strings.HasPrefix(pattern, "(?") {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, WrapErrorf(ErrConfigValidation, "invalid regex pattern #%d ('%s')", i+1, patterns[i])
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
