package handler

import (
	"context"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

var keyAccess = Access{
	Roles:      []domain.Role{domain.RoleGuest},
	Namespaces: FromParam("path"),
	SecretRole: domain.RoleAdmin,
}

func dataPath(req *Request) (domain.ObjectPath, error) {
	p := req.Params.Path("path")
	if !p.Kind.HasData() {
		return domain.ObjectPath{}, domain.ErrKindNotSupported.WithDetailsf("%s has no keys", p)
	}
	return p, nil
}

type setKey struct{ Deps }

func (h *setKey) Spec() Spec {
	return Spec{
		Name:   "set_key",
		Routes: post("/set_key"),
		Prototype: []Param{
			{Name: "path", Required: true, Format: FormatPath},
			{Name: "key", Required: true, Format: FormatString},
			{Name: "value", Required: true, Format: FormatString},
		},
		Access:    keyAccess,
		Multiplex: MultiplexOptional,
		Mutating:  true,
	}
}

func (h *setKey) Action(ctx context.Context, req *Request) (any, error) {
	p, err := dataPath(req)
	if err != nil {
		return nil, err
	}
	return h.Keys.Set(ctx, p, req.Params.String("key"), []byte(req.Params.String("value")))
}

type getKey struct{ Deps }

func (h *getKey) Spec() Spec {
	return Spec{
		Name:   "get_key",
		Routes: get("/get_key"),
		Prototype: []Param{
			{Name: "path", Required: true, Format: FormatPath},
			{Name: "key", Required: true, Format: FormatString},
		},
		Access:    keyAccess,
		Multiplex: MultiplexNever,
	}
}

func (h *getKey) Action(ctx context.Context, req *Request) (any, error) {
	p, err := dataPath(req)
	if err != nil {
		return nil, err
	}
	v, err := h.Keys.Get(ctx, p, req.Params.String("key"))
	if err != nil {
		return nil, err
	}
	return string(v), nil
}

type deleteKey struct{ Deps }

func (h *deleteKey) Spec() Spec {
	return Spec{
		Name:   "delete_key",
		Routes: post("/delete_key"),
		Prototype: []Param{
			{Name: "path", Required: true, Format: FormatPath},
			{Name: "key", Required: true, Format: FormatString},
		},
		Access:    keyAccess,
		Multiplex: MultiplexOptional,
		Mutating:  true,
	}
}

func (h *deleteKey) Action(ctx context.Context, req *Request) (any, error) {
	p, err := dataPath(req)
	if err != nil {
		return nil, err
	}
	if err := h.Keys.Delete(ctx, p, req.Params.String("key")); err != nil {
		return nil, err
	}
	return nil, nil
}

type listKeys struct{ Deps }

func (h *listKeys) Spec() Spec {
	return Spec{
		Name:   "keys",
		Routes: get("/keys"),
		Prototype: []Param{
			{Name: "path", Required: true, Format: FormatPath},
		},
		Access:    keyAccess,
		Multiplex: MultiplexNever,
	}
}

func (h *listKeys) Action(ctx context.Context, req *Request) (any, error) {
	p, err := dataPath(req)
	if err != nil {
		return nil, err
	}
	names, err := h.Keys.Keys(ctx, p)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}
