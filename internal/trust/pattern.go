package trust

import (
	"regexp"
	"strings"
)

// MatchAction reports whether action matches the glob-like pattern:
// "*" matches any run of characters, "?" matches exactly one, and the
// pattern is anchored at both ends.
func MatchAction(pattern, action string) bool {
	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(action)
}

// FirstMatch returns the first rule in document order whose pattern
// matches action, or nil. Document order is the contract: a broad rule
// written before a narrow one shadows it.
func FirstMatch(rules []ActionRule, action string) *ActionRule {
	for i := range rules {
		if rules[i].matches(action) {
			return &rules[i]
		}
	}
	return nil
}

// matches prefers the regexp compiled at parse time; rules constructed
// as literals compile on the fly.
func (r *ActionRule) matches(action string) bool {
	if r.compiled != nil {
		return r.compiled.MatchString(action)
	}
	return MatchAction(r.Pattern, action)
}

// compilePattern translates a glob pattern into an anchored regexp.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
