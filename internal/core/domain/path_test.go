package domain

import (
	"encoding/json"
	"testing"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		in      string
		ns      string
		kind    Kind
		name    string
		str     string
		wantErr bool
	}{
		{in: "web1", ns: "root", kind: KindSvc, name: "web1", str: "svc/web1"},
		{in: "svc/web1", ns: "root", kind: KindSvc, name: "web1", str: "svc/web1"},
		{in: "cfg/app1", ns: "root", kind: KindCfg, name: "app1", str: "cfg/app1"},
		{in: "system/svc/web1", ns: "system", kind: KindSvc, name: "web1", str: "system/svc/web1"},
		{in: "Prod/SEC/db", ns: "prod", kind: KindSec, name: "db", str: "prod/sec/db"},
		{in: "root/vol/v1", ns: "root", kind: KindVol, name: "v1", str: "vol/v1"},
		{in: "", wantErr: true},
		{in: "foo/web1", wantErr: true},
		{in: "a/b/c/d", wantErr: true},
		{in: "svc/-bad", wantErr: true},
		{in: "n_s/svc/web1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePath(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePath(%q) expected error, got %v", tt.in, p)
				}
				if !IsDomainError(err, ErrInvalidPath.Code) {
					t.Errorf("error code = %q, want %q", GetErrorCode(err), ErrInvalidPath.Code)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePath(%q) error: %v", tt.in, err)
			}
			if p.Namespace != tt.ns || p.Kind != tt.kind || p.Name != tt.name {
				t.Errorf("ParsePath(%q) = %+v", tt.in, p)
			}
			if p.String() != tt.str {
				t.Errorf("String() = %q, want %q", p.String(), tt.str)
			}
		})
	}
}

func TestObjectPath_JSONMapKey(t *testing.T) {
	in := map[ObjectPath]int{MustParsePath("ns1/cfg/a"): 1}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"ns1/cfg/a":1}` {
		t.Errorf("Marshal = %s", b)
	}
	var out map[ObjectPath]int
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out[MustParsePath("ns1/cfg/a")] != 1 {
		t.Errorf("Unmarshal = %v", out)
	}
}

func TestKindData(t *testing.T) {
	if !KindCfg.HasData() || !KindSec.HasData() || !KindUsr.HasData() {
		t.Error("cfg, sec and usr carry data")
	}
	if KindSvc.HasData() {
		t.Error("svc does not carry data")
	}
	if KindCfg.IsSecret() || !KindSec.IsSecret() || !KindUsr.IsSecret() {
		t.Error("only sec and usr values are secret")
	}
}
