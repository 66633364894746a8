package domain

import (
	"sort"
	"strings"
)

// Role is an access role granted to a caller.
type Role string

const (
	// RoleRoot grants every role on every namespace.
	RoleRoot Role = "root"

	// RoleAdmin is namespace scoped and implies operator and guest.
	RoleAdmin Role = "admin"

	// RoleOperator is namespace scoped and implies guest.
	RoleOperator Role = "operator"

	// RoleGuest is namespace scoped read access.
	RoleGuest Role = "guest"

	// RoleBlacklistAdmin manages the listener blacklist.
	RoleBlacklistAdmin Role = "blacklistadmin"

	// RoleHeartbeat allows relay_tx/relay_rx calls.
	RoleHeartbeat Role = "heartbeat"
)

// scopedRoles are the roles granted per namespace.
var scopedRoles = map[Role]int{
	RoleGuest:    1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// IsScoped reports whether r is granted per namespace.
func (r Role) IsScoped() bool {
	_, ok := scopedRoles[r]
	return ok
}

// Implies reports whether holding r also grants other.
func (r Role) Implies(other Role) bool {
	if r == other || r == RoleRoot {
		return true
	}
	a, aok := scopedRoles[r]
	b, bok := scopedRoles[other]
	return aok && bok && a >= b
}

// Grants holds the roles of an identity. Scoped roles carry the set of
// namespaces they apply to.
type Grants struct {
	global map[Role]bool
	scoped map[Role]map[string]bool
}

// ParseGrants parses a whitespace separated grant list such as
// "admin:ns1,ns2 guest:ns3 blacklistadmin".
func ParseGrants(s string) (Grants, error) {
	g := Grants{
		global: make(map[Role]bool),
		scoped: make(map[Role]map[string]bool),
	}
	for _, field := range strings.Fields(s) {
		name, nss, hasNS := strings.Cut(field, ":")
		role := Role(name)
		switch {
		case role == RoleRoot, role == RoleBlacklistAdmin, role == RoleHeartbeat:
			if hasNS {
				return Grants{}, ErrInvalidGrant.WithDetailsf("%s: role %s is not namespace scoped", field, role)
			}
			g.global[role] = true
		case role.IsScoped():
			if !hasNS || nss == "" {
				return Grants{}, ErrInvalidGrant.WithDetailsf("%s: role %s needs namespaces", field, role)
			}
			set := g.scoped[role]
			if set == nil {
				set = make(map[string]bool)
				g.scoped[role] = set
			}
			for _, ns := range strings.Split(nss, ",") {
				if ns = strings.TrimSpace(ns); ns != "" {
					set[ns] = true
				}
			}
		default:
			return Grants{}, ErrInvalidGrant.WithDetailsf("%s: unknown role", field)
		}
	}
	return g, nil
}

// RootGrants returns the grants of the root identity.
func RootGrants() Grants {
	return Grants{global: map[Role]bool{RoleRoot: true}}
}

// IsRoot reports whether the grants include root.
func (g Grants) IsRoot() bool {
	return g.global[RoleRoot]
}

// Has reports whether role is granted, on any namespace for scoped roles.
func (g Grants) Has(role Role) bool {
	if g.IsRoot() || g.global[role] {
		return true
	}
	if !role.IsScoped() {
		return false
	}
	for held, nss := range g.scoped {
		if held.Implies(role) && len(nss) > 0 {
			return true
		}
	}
	return false
}

// HasOn reports whether role is granted on namespace ns.
func (g Grants) HasOn(role Role, ns string) bool {
	if g.IsRoot() {
		return true
	}
	if !role.IsScoped() {
		return g.global[role]
	}
	for held, nss := range g.scoped {
		if held.Implies(role) && nss[ns] {
			return true
		}
	}
	return false
}

// Namespaces returns the sorted namespaces on which role is granted.
// The second result is true when every namespace is granted.
func (g Grants) Namespaces(role Role) ([]string, bool) {
	if g.IsRoot() {
		return nil, true
	}
	set := make(map[string]bool)
	for held, nss := range g.scoped {
		if !held.Implies(role) {
			continue
		}
		for ns := range nss {
			set[ns] = true
		}
	}
	out := make([]string, 0, len(set))
	for ns := range set {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, false
}

// String renders the grants in the ParseGrants syntax.
func (g Grants) String() string {
	var parts []string
	for role := range g.global {
		parts = append(parts, string(role))
	}
	for role, nss := range g.scoped {
		names := make([]string, 0, len(nss))
		for ns := range nss {
			names = append(names, ns)
		}
		sort.Strings(names)
		parts = append(parts, string(role)+":"+strings.Join(names, ","))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// IdentityKind classifies how a caller was authenticated.
type IdentityKind string

const (
	IdentityRoot      IdentityKind = "root"
	IdentityNode      IdentityKind = "node"
	IdentityUser      IdentityKind = "user"
	IdentityAnonymous IdentityKind = "anonymous"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	Kind   IdentityKind
	Name   string
	Grants Grants
}

// RootIdentity is the identity of local unix socket callers.
func RootIdentity() Identity {
	return Identity{Kind: IdentityRoot, Name: "root", Grants: RootGrants()}
}

// NodeIdentity is the identity of a peer daemon.
func NodeIdentity(nodename string) Identity {
	return Identity{Kind: IdentityNode, Name: nodename, Grants: RootGrants()}
}

// AnonymousIdentity is the identity of callers without credentials.
func AnonymousIdentity() Identity {
	return Identity{Kind: IdentityAnonymous, Name: "anonymous"}
}

// String returns "kind:name" for audit logs.
func (i Identity) String() string {
	if i.Kind == IdentityRoot || i.Kind == IdentityAnonymous {
		return string(i.Kind)
	}
	return string(i.Kind) + ":" + i.Name
}
