// Package glob compiles watch patterns into path predicates.
//
// A pattern is a literal path, a doublestar glob, or either of those
// prefixed with "!" to negate it. Patterns are resolved against a working
// directory and always tested against absolute, cleaned paths.
package glob

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const metaChars = "*?[{"

type Options struct {
	// DisableGlobbing treats every metacharacter literally.
	DisableGlobbing bool
	// Cwd resolves relative patterns. Empty means the process directory.
	Cwd string
}

// PatternError reports a pattern that cannot be compiled.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Matcher is an immutable compiled pattern. It is safe for concurrent
// use.
type Matcher struct {
	pattern string
	negated bool
	literal bool
	// base is the absolute directory every match lives under. For literal
	// matchers it is the literal path itself.
	base string
	// alternatives hold the brace-expanded glob relative to base, in slash
	// form.
	alternatives []string
}

// IsGlob reports whether value contains an unescaped glob metacharacter.
func IsGlob(value string) bool {
	escaped := false
	for _, r := range value {
		if escaped {
			escaped = false
			continue
		}
		if r == '\\' && filepath.Separator != '\\' {
			escaped = true
			continue
		}
		if strings.ContainsRune(metaChars, r) {
			return true
		}
	}
	return false
}

func Compile(pattern string, options Options) (*Matcher, error) {
	original := pattern
	if strings.TrimSpace(pattern) == "" {
		return nil, &PatternError{Pattern: original, Err: errors.New("empty pattern")}
	}
	matcher := &Matcher{pattern: original}
	if strings.HasPrefix(pattern, "!") {
		matcher.negated = true
		pattern = pattern[1:]
		if pattern == "" {
			return nil, &PatternError{Pattern: original, Err: errors.New("empty negated pattern")}
		}
	}

	cwd, err := resolveCwd(options.Cwd)
	if err != nil {
		return nil, &PatternError{Pattern: original, Err: err}
	}

	if options.DisableGlobbing || !IsGlob(pattern) {
		matcher.literal = true
		matcher.base = absolute(cwd, unescape(pattern))
		return matcher, nil
	}

	slashed := filepath.ToSlash(pattern)
	if !doublestar.ValidatePattern(slashed) {
		return nil, &PatternError{Pattern: original, Err: doublestar.ErrBadPattern}
	}
	base, rest := splitPattern(slashed)
	if rest == "" {
		return nil, &PatternError{Pattern: original, Err: doublestar.ErrBadPattern}
	}
	matcher.base = absolute(cwd, filepath.FromSlash(unescape(base)))
	matcher.alternatives = expandBraces(rest)
	for _, alternative := range matcher.alternatives {
		if !doublestar.ValidatePattern(alternative) {
			return nil, &PatternError{Pattern: original, Err: doublestar.ErrBadPattern}
		}
	}
	return matcher, nil
}

// MustCompile is Compile for patterns known to be valid.
func MustCompile(pattern string, options Options) *Matcher {
	matcher, err := Compile(pattern, options)
	if err != nil {
		panic(err)
	}
	return matcher
}

func (m *Matcher) Pattern() string {
	if m == nil {
		return ""
	}
	return m.pattern
}

func (m *Matcher) Negated() bool {
	return m != nil && m.negated
}

func (m *Matcher) Literal() bool {
	return m != nil && m.literal
}

// Base returns the deepest directory (or, for literals, the path) that can
// be watched without missing any match.
func (m *Matcher) Base() string {
	if m == nil {
		return ""
	}
	return m.base
}

// Test reports whether the absolute path matches. Literal matchers accept the
// path itself and everything below it. Negation does not invert the result;
// callers apply negated matchers as exclusions.
func (m *Matcher) Test(candidate string) bool {
	if m == nil {
		return false
	}
	candidate = filepath.Clean(candidate)
	if m.literal {
		return candidate == m.base || isWithin(m.base, candidate)
	}
	rel, ok := relative(m.base, candidate)
	if !ok || rel == "." {
		return false
	}
	for _, alternative := range m.alternatives {
		if matched, err := doublestar.Match(alternative, rel); err == nil && matched {
			return true
		}
	}
	return false
}

// CouldContain reports whether some path below dir could match. Directory
// walks use it to avoid descending into subtrees that can never produce a
// match.
func (m *Matcher) CouldContain(dir string) bool {
	if m == nil {
		return false
	}
	dir = filepath.Clean(dir)
	if dir == m.base || isWithin(dir, m.base) {
		return true
	}
	if m.literal {
		return isWithin(m.base, dir)
	}
	rel, ok := relative(m.base, dir)
	if !ok {
		return false
	}
	segments := strings.Split(rel, "/")
	for _, alternative := range m.alternatives {
		if prefixCouldMatch(strings.Split(alternative, "/"), segments) {
			return true
		}
	}
	return false
}

func prefixCouldMatch(pattern, segments []string) bool {
	for index, segment := range segments {
		if index >= len(pattern) {
			return false
		}
		if pattern[index] == "**" {
			return true
		}
		matched, err := doublestar.Match(pattern[index], segment)
		if err != nil || !matched {
			return false
		}
	}
	// a directory matching every segment of the pattern can only contain
	// matches when the pattern continues below it
	return len(segments) < len(pattern)
}

// splitPattern returns the longest leading run of literal segments and the
// glob remainder.
func splitPattern(pattern string) (string, string) {
	base, rest := doublestar.SplitPattern(pattern)
	for IsGlob(base) {
		dir, file := path.Split(base)
		if file == "" {
			break
		}
		rest = file + "/" + rest
		base = strings.TrimSuffix(dir, "/")
		if base == "" {
			base = "."
			if strings.HasPrefix(pattern, "/") {
				base = "/"
			}
		}
	}
	return base, rest
}

func resolveCwd(cwd string) (string, error) {
	if cwd == "" {
		return filepath.Abs(".")
	}
	return filepath.Abs(cwd)
}

func absolute(cwd, value string) string {
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Join(cwd, value)
}

func relative(base, target string) (string, bool) {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func isWithin(parent, child string) bool {
	if parent == child {
		return false
	}
	prefix := parent
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(child, prefix)
}

func unescape(value string) string {
	if filepath.Separator == '\\' || !strings.Contains(value, `\`) {
		return value
	}
	builder := strings.Builder{}
	escaped := false
	for _, r := range value {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		builder.WriteRune(r)
	}
	return builder.String()
}
