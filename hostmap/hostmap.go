// Package hostmap implements static host-mapping rules: an ordered list
// of (tag substring -> ordered host list) bindings matched against an
// action's opaque payload data, first-rule-wins. Grounded on
// copytool/scheduler.c's schedule_host_mapping.
package hostmap

import "strings"

// Rule binds a payload substring to an ordered set of candidate hosts.
type Rule struct {
	Tag   string
	Hosts []string
}

// Map is an immutable-at-runtime ordered rule list, config-loaded once at
// startup.
type Map struct {
	rules []Rule
}

// New returns a Map over the given rules, in priority order.
func New(rules []Rule) *Map {
	m := &Map{rules: make([]Rule, len(rules))}
	copy(m.rules, rules)
	return m
}

// Match returns the host list of the first rule whose Tag is a substring
// of data, and true. Returns (nil, false) if no rule matches.
func (m *Map) Match(data string) ([]string, bool) {
	for _, r := range m.rules {
		if strings.Contains(data, r.Tag) {
			return r.Hosts, true
		}
	}
	return nil, false
}
