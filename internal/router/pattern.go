package router

import (
	"regexp"
	"strings"
)

// compiledPattern is the anchored regex form of a route path plus the
// scalar used to order wildcard routes deterministically.
type compiledPattern struct {
	regex       *regexp.Regexp
	paramNames  []string
	hasWildcard bool
	specificity int
}

// compilePattern turns a path of the form "/a/:id/b/*" into an anchored
// regular expression: ":name" becomes a single non-slash segment capture,
// a single trailing "*" becomes a greedy remainder capture, and every
// other regex metacharacter is escaped. Specificity is
// non-wildcard-character-count − 10·wildcard-count + slash-count.
func compilePattern(pattern string) *compiledPattern {
	var sb strings.Builder
	sb.WriteByte('^')

	nonWildcardChars := 0
	wildcards := 0
	slashes := strings.Count(pattern, "/")
	hasWildcard := false
	var paramNames []string

	i := 0
	for i < len(pattern) {
		c := pattern[i]
		switch {
		case c == ':':
			j := i + 1
			for j < len(pattern) && pattern[j] != '/' {
				j++
			}
			paramNames = append(paramNames, pattern[i+1:j])
			sb.WriteString(`([^/]+)`)
			wildcards++
			i = j
		case c == '*' && i == len(pattern)-1:
			sb.WriteString(`(.*)`)
			wildcards++
			hasWildcard = true
			i++
		case c == '/':
			sb.WriteByte('/')
			i++
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
			nonWildcardChars++
			i++
		}
	}
	sb.WriteByte('$')

	return &compiledPattern{
		regex:       regexp.MustCompile(sb.String()),
		paramNames:  paramNames,
		hasWildcard: hasWildcard,
		specificity: nonWildcardChars - 10*wildcards + slashes,
	}
}

// isLiteral reports whether pattern contains no ":name" holes or "*"
// wildcard, making it eligible for the O(1) exact-path map.
func isLiteral(pattern string) bool {
	return !strings.ContainsAny(pattern, ":*")
}
