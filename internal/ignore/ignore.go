// Package ignore decides which paths a watcher skips.
package ignore

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"pathwatch/internal/glob"
)

// Rule is one ignore condition. info is nil when the path has not been
// stat'ed yet.
type Rule interface {
	Match(path string, info fs.FileInfo) bool
}

// binder is implemented by rules that resolve relative input against the
// watcher's working directory.
type binder interface {
	bind(cwd string) (Rule, error)
}

type regexpRule struct {
	re *regexp.Regexp
}

// Regexp ignores absolute paths matched by re.
func Regexp(re *regexp.Regexp) Rule {
	return regexpRule{re: re}
}

func (rule regexpRule) Match(path string, _ fs.FileInfo) bool {
	return rule.re != nil && rule.re.MatchString(path)
}

type funcRule func(path string, info fs.FileInfo) bool

// Func ignores paths for which fn returns true. fn is called once without
// stats and, unless that call ignored the path, again with stats.
func Func(fn func(path string, info fs.FileInfo) bool) Rule {
	return funcRule(fn)
}

func (rule funcRule) Match(path string, info fs.FileInfo) bool {
	return rule != nil && rule(path, info)
}

type patternRule struct {
	pattern string
	matcher *glob.Matcher
}

// Pattern ignores a literal path with everything below it, or the paths
// matched by a glob. Relative patterns resolve against the filter's working
// directory. Pattern rules take effect once bound by New or Filter.Add.
func Pattern(pattern string) Rule {
	return &patternRule{pattern: pattern}
}

func (rule *patternRule) bind(cwd string) (Rule, error) {
	matcher, err := glob.Compile(rule.pattern, glob.Options{Cwd: cwd})
	if err != nil {
		return nil, err
	}
	if matcher.Negated() {
		return nil, fmt.Errorf("ignore pattern %q: negation is not supported", rule.pattern)
	}
	return &patternRule{pattern: rule.pattern, matcher: matcher}, nil
}

func (rule *patternRule) Match(path string, _ fs.FileInfo) bool {
	if rule.matcher == nil {
		return false
	}
	if rule.matcher.Literal() {
		return rule.matcher.Test(path)
	}
	// a glob also hides everything below a matching directory
	base := rule.matcher.Base()
	for current := filepath.Clean(path); ; {
		if rule.matcher.Test(current) {
			return true
		}
		parent := filepath.Dir(current)
		if parent == current || !strings.HasPrefix(parent, base) || parent == base {
			return false
		}
		current = parent
	}
}

type anyRule []Rule

// Any ignores a path when any of rules does.
func Any(rules ...Rule) Rule {
	return anyRule(rules)
}

func (rules anyRule) Match(path string, info fs.FileInfo) bool {
	for _, rule := range rules {
		if rule != nil && rule.Match(path, info) {
			return true
		}
	}
	return false
}

func (rules anyRule) bind(cwd string) (Rule, error) {
	bound := make(anyRule, 0, len(rules))
	for _, rule := range rules {
		resolved, err := bindRule(rule, cwd)
		if err != nil {
			return nil, err
		}
		bound = append(bound, resolved)
	}
	return bound, nil
}

func bindRule(rule Rule, cwd string) (Rule, error) {
	if b, ok := rule.(binder); ok {
		return b.bind(cwd)
	}
	return rule, nil
}
