package ignore

import (
	"io/fs"
	"sync"
)

// Filter is an OR over rules. It is safe for concurrent use.
type Filter struct {
	mu    sync.RWMutex
	cwd   string
	rules []Rule
}

// New binds rules to cwd. It fails when a pattern rule does not compile.
func New(cwd string, rules ...Rule) (*Filter, error) {
	filter := &Filter{cwd: cwd}
	if err := filter.Add(rules...); err != nil {
		return nil, err
	}
	return filter, nil
}

func (f *Filter) Add(rules ...Rule) error {
	if f == nil {
		return nil
	}
	bound := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		resolved, err := bindRule(rule, f.cwd)
		if err != nil {
			return err
		}
		bound = append(bound, resolved)
	}
	f.mu.Lock()
	f.rules = append(f.rules, bound...)
	f.mu.Unlock()
	return nil
}

func (f *Filter) ShouldIgnore(path string, info fs.FileInfo) bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, rule := range f.rules {
		if rule.Match(path, info) {
			return true
		}
	}
	return false
}

func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rules)
}
