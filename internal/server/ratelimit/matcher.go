package ratelimit

import "strings"

// exempt endpoints are polled by clients and never limited.
var exempt = map[string]bool{
	"GET /health":           true,
	"GET /engine/readiness": true,
}

var unlimited = &Rule{Path: "*"}

// MatchRule returns the rule for a request, or nil when the default applies.
// Exact paths win over prefixes; among prefixes the longest wins.
func MatchRule(path, method string, rules []Rule) *Rule {
	if exempt[method+" "+path] {
		return unlimited
	}

	var best *Rule
	for i := range rules {
		r := &rules[i]
		if r.Method != method {
			continue
		}
		if r.Path == path {
			return r
		}
		if strings.HasSuffix(r.Path, "/") && strings.HasPrefix(path, r.Path) {
			if best == nil || len(r.Path) > len(best.Path) {
				best = r
			}
		}
	}
	return best
}
