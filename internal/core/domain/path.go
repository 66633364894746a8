package domain

import (
	"regexp"
	"strings"
)

// Kind is the object kind component of an object path.
type Kind string

const (
	KindNode Kind = "node"
	KindSvc  Kind = "svc"
	KindVol  Kind = "vol"
	KindUsr  Kind = "usr"
	KindSec  Kind = "sec"
	KindCfg  Kind = "cfg"
	KindCcfg Kind = "ccfg"
)

// RootNamespace is the namespace of paths without a namespace prefix.
const RootNamespace = "root"

var validKinds = map[Kind]bool{
	KindNode: true,
	KindSvc:  true,
	KindVol:  true,
	KindUsr:  true,
	KindSec:  true,
	KindCfg:  true,
	KindCcfg: true,
}

var nameRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]{0,61}[a-z0-9])?$`)

// IsValid reports whether k is a known object kind.
func (k Kind) IsValid() bool {
	return validKinds[k]
}

// HasData reports whether objects of this kind carry a key/value data store.
func (k Kind) HasData() bool {
	return k == KindCfg || k == KindSec || k == KindUsr
}

// IsSecret reports whether key values of this kind are confidential.
func (k Kind) IsSecret() bool {
	return k == KindSec || k == KindUsr
}

// ObjectPath identifies an object as [namespace/]kind/name.
type ObjectPath struct {
	Namespace string
	Kind      Kind
	Name      string
}

// ParsePath parses an object path.
//
// Accepted forms are "name" (svc kind, root namespace), "kind/name",
// and "namespace/kind/name". The root namespace is never rendered.
func ParsePath(s string) (ObjectPath, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ObjectPath{}, ErrInvalidPath.WithDetails("empty path")
	}
	parts := strings.Split(strings.ToLower(s), "/")

	var p ObjectPath
	switch len(parts) {
	case 1:
		p = ObjectPath{Namespace: RootNamespace, Kind: KindSvc, Name: parts[0]}
	case 2:
		p = ObjectPath{Namespace: RootNamespace, Kind: Kind(parts[0]), Name: parts[1]}
	case 3:
		p = ObjectPath{Namespace: parts[0], Kind: Kind(parts[1]), Name: parts[2]}
	default:
		return ObjectPath{}, ErrInvalidPath.WithDetails(s)
	}

	if !p.Kind.IsValid() {
		return ObjectPath{}, ErrInvalidPath.WithDetailsf("%s: unknown kind %q", s, p.Kind)
	}
	if !nameRegex.MatchString(p.Name) {
		return ObjectPath{}, ErrInvalidPath.WithDetailsf("%s: invalid name %q", s, p.Name)
	}
	if !nameRegex.MatchString(p.Namespace) {
		return ObjectPath{}, ErrInvalidPath.WithDetailsf("%s: invalid namespace %q", s, p.Namespace)
	}
	return p, nil
}

// MustParsePath is ParsePath for literals in tests and tables.
func MustParsePath(s string) ObjectPath {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the canonical path form.
func (p ObjectPath) String() string {
	if p.Namespace == "" || p.Namespace == RootNamespace {
		return string(p.Kind) + "/" + p.Name
	}
	return p.Namespace + "/" + string(p.Kind) + "/" + p.Name
}

// IsZero reports whether p is the zero path.
func (p ObjectPath) IsZero() bool {
	return p.Name == ""
}

// MarshalText implements encoding.TextMarshaler so paths can key JSON maps.
func (p ObjectPath) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ObjectPath) UnmarshalText(b []byte) error {
	parsed, err := ParsePath(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
