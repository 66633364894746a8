package monitor

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/storage/objconf"
)

func TestRegistry_Builtins(t *testing.T) {
	r := NewRegistry()
	types := r.Types()
	if len(types) != 2 || types[0] != "app.simple" || types[1] != "fs.flag" {
		t.Errorf("Types() = %v", types)
	}
}

func TestFlagDriver(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sub", "web.flag")
	obj := objconf.Object{
		Path:      domain.MustParsePath("svc/web"),
		Resources: []objconf.Resource{{RID: "fs#1", Type: "fs.flag", Options: map[string]any{"path": file}}},
	}
	drivers, err := NewRegistry().Build(obj)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	d := drivers[0]
	ctx := context.Background()

	if d.Status(ctx) != domain.StatusDown {
		t.Errorf("Status() = %s before start", d.Status(ctx))
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if d.Status(ctx) != domain.StatusUp {
		t.Errorf("Status() = %s after start", d.Status(ctx))
	}
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := d.Stop(ctx); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if d.Info(ctx)["path"] != file {
		t.Errorf("Info() = %v", d.Info(ctx))
	}
}

func TestFlagDriver_DefaultPath(t *testing.T) {
	d, err := newFlagDriver(platform{flagDir: "/run/x"}, domain.MustParsePath("prod/svc/web"), objconf.Resource{RID: "fs#1"})
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join("/run/x", "prod", "svc", "web", "fs_1.flag"); d.file != want {
		t.Errorf("file = %s, want %s", d.file, want)
	}
}

func TestAppDriver(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	flag := filepath.Join(t.TempDir(), "running")
	res := objconf.Resource{RID: "app#1", Type: "app.simple", Options: map[string]any{
		"start":   "touch " + flag,
		"stop":    "rm -f " + flag,
		"check":   "test -f " + flag,
		"timeout": "5s",
	}}
	d, err := newAppDriver(currentPlatform(), res)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if d.Status(ctx) != domain.StatusDown {
		t.Errorf("Status() = %s before start", d.Status(ctx))
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if d.Status(ctx) != domain.StatusUp {
		t.Errorf("Status() = %s after start", d.Status(ctx))
	}
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	failing, _ := newAppDriver(currentPlatform(), objconf.Resource{RID: "app#2", Options: map[string]any{"start": "echo oops >&2; exit 3"}})
	if err := failing.Start(ctx); err == nil {
		t.Error("Start() expected error")
	}
	if failing.Status(ctx) != domain.StatusNA {
		t.Errorf("Status() without check = %s, want n/a", failing.Status(ctx))
	}

	if _, err := newAppDriver(currentPlatform(), objconf.Resource{RID: "a", Options: map[string]any{"timeout": "soon"}}); err == nil {
		t.Error("invalid timeout accepted")
	}
}
