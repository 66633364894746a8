package handler

import (
	"path"
	"strings"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

// matchSelector reports whether the object path p matches sel, a comma
// separated list of glob patterns. A pattern without a slash matches
// the object name; "kind/name" patterns match root namespace objects;
// "ns/kind/name" patterns match any namespace. A pattern starting with
// "!" excludes. An empty selector matches everything.
func matchSelector(sel string, p domain.ObjectPath) bool {
	if strings.TrimSpace(sel) == "" {
		return true
	}
	full := p.Namespace + "/" + string(p.Kind) + "/" + p.Name
	matched := false
	included := false
	for _, pat := range strings.Split(sel, ",") {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}
		neg := strings.HasPrefix(pat, "!")
		pat = strings.TrimPrefix(pat, "!")
		if !neg {
			included = true
		}

		var target string
		switch strings.Count(pat, "/") {
		case 0:
			target = p.Name
		case 1:
			if p.Namespace != domain.RootNamespace {
				continue
			}
			target = string(p.Kind) + "/" + p.Name
		default:
			target = full
		}
		if ok, _ := path.Match(pat, target); ok {
			if neg {
				return false
			}
			matched = true
		}
	}
	return matched || !included
}

// visible reports whether caller may read objects of namespace ns.
func visible(caller domain.Identity, ns string) bool {
	return caller.Grants.HasOn(domain.RoleGuest, ns)
}
