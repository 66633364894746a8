package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

// Format is the type a parameter is coerced to.
type Format string

const (
	FormatString   Format = "string"
	FormatInt      Format = "int"
	FormatBool     Format = "bool"
	FormatDuration Format = "duration"
	FormatSize     Format = "size"
	FormatPath     Format = "path"
	FormatList     Format = "list"
	FormatTime     Format = "time"
	FormatBase64   Format = "base64"
)

// Param is one parameter of a handler prototype.
type Param struct {
	Name       string
	Required   bool
	Format     Format
	Default    any
	Candidates []string
	Desc       string
}

// Params holds coerced parameter values keyed by name.
type Params map[string]any

// Has reports whether the parameter was given or defaulted.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

func (p Params) String(name string) string {
	s, _ := p[name].(string)
	return s
}

func (p Params) Int(name string) int {
	n, _ := p[name].(int)
	return n
}

func (p Params) Bool(name string) bool {
	b, _ := p[name].(bool)
	return b
}

func (p Params) Duration(name string) time.Duration {
	d, _ := p[name].(time.Duration)
	return d
}

// Size returns a byte count.
func (p Params) Size(name string) int64 {
	n, _ := p[name].(int64)
	return n
}

func (p Params) Path(name string) domain.ObjectPath {
	v, _ := p[name].(domain.ObjectPath)
	return v
}

func (p Params) List(name string) []string {
	l, _ := p[name].([]string)
	return l
}

func (p Params) Time(name string) time.Time {
	t, _ := p[name].(time.Time)
	return t
}

func (p Params) Bytes(name string) []byte {
	b, _ := p[name].([]byte)
	return b
}

// Validate coerces raw against the prototype. Undeclared parameters,
// missing required ones and values of the wrong format are rejected.
func Validate(proto []Param, raw map[string]any) (Params, error) {
	for name := range raw {
		if !slices.ContainsFunc(proto, func(p Param) bool { return p.Name == name }) {
			return nil, domain.ErrUnknownArgument.WithDetails(name)
		}
	}
	out := make(Params, len(proto))
	for _, p := range proto {
		v, ok := raw[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, domain.ErrMissingArgument.WithDetails(p.Name)
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}
		c, err := coerce(p.Format, v)
		if err != nil {
			var de *domain.DomainError
			if errors.As(err, &de) {
				return nil, de.WithDetailsf("%s: %s", p.Name, de.Details)
			}
			return nil, domain.ErrInvalidArgument.WithDetailsf("%s: %v", p.Name, err)
		}
		if len(p.Candidates) > 0 {
			s := fmt.Sprint(c)
			if !slices.Contains(p.Candidates, s) {
				return nil, domain.ErrInvalidArgument.WithDetailsf("%s: %q not in %s", p.Name, s, strings.Join(p.Candidates, ","))
			}
		}
		out[p.Name] = c
	}
	return out, nil
}

func coerce(f Format, v any) (any, error) {
	switch f {
	case FormatString, "":
		switch x := v.(type) {
		case string:
			return x, nil
		case float64, bool, int:
			return fmt.Sprint(x), nil
		}
	case FormatInt:
		switch x := v.(type) {
		case float64:
			if x != float64(int(x)) {
				return nil, fmt.Errorf("%v is not an integer", x)
			}
			return int(x), nil
		case int:
			return x, nil
		case string:
			return strconv.Atoi(strings.TrimSpace(x))
		}
	case FormatBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(x))
		}
	case FormatDuration:
		switch x := v.(type) {
		case float64:
			return time.Duration(x * float64(time.Second)), nil
		case string:
			if n, err := strconv.ParseFloat(x, 64); err == nil {
				return time.Duration(n * float64(time.Second)), nil
			}
			return time.ParseDuration(x)
		case time.Duration:
			return x, nil
		}
	case FormatSize:
		switch x := v.(type) {
		case float64:
			if x < 0 || x != float64(int64(x)) {
				return nil, fmt.Errorf("%v is not a byte count", x)
			}
			return int64(x), nil
		case int:
			if x < 0 {
				return nil, fmt.Errorf("%d is not a byte count", x)
			}
			return int64(x), nil
		case string:
			n, err := humanize.ParseBytes(strings.TrimSpace(x))
			if err != nil {
				return nil, err
			}
			if n > math.MaxInt64 {
				return nil, fmt.Errorf("%s is too large", x)
			}
			return int64(n), nil
		}
	case FormatPath:
		if s, ok := v.(string); ok {
			return domain.ParsePath(s)
		}
	case FormatList:
		switch x := v.(type) {
		case string:
			var out []string
			for _, s := range strings.Split(x, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			return out, nil
		case []string:
			return x, nil
		case []any:
			out := make([]string, 0, len(x))
			for _, e := range x {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Errorf("list item %v is not a string", e)
				}
				out = append(out, s)
			}
			return out, nil
		}
	case FormatTime:
		if s, ok := v.(string); ok {
			return time.Parse(time.RFC3339Nano, s)
		}
	case FormatBase64:
		if s, ok := v.(string); ok {
			return base64.StdEncoding.DecodeString(s)
		}
	default:
		return nil, fmt.Errorf("unknown format %s", f)
	}
	return nil, fmt.Errorf("%T is not a %s", v, f)
}
