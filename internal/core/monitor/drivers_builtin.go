package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/storage/objconf"
)

// platform holds the per-OS choices of the built-in drivers.
type platform struct {
	flagDir string
	shell   []string
}

// platforms is selected once by GOOS. Unknown systems use "default".
var platforms = map[string]platform{
	"linux":   {flagDir: "/dev/shm/hamesh", shell: []string{"/bin/sh", "-c"}},
	"windows": {flagDir: filepath.Join(os.TempDir(), "hamesh"), shell: []string{"cmd", "/C"}},
	"default": {flagDir: filepath.Join(os.TempDir(), "hamesh"), shell: []string{"/bin/sh", "-c"}},
}

func currentPlatform() platform {
	if p, ok := platforms[runtime.GOOS]; ok {
		return p
	}
	return platforms["default"]
}

func builtinDrivers() map[string]Factory {
	p := currentPlatform()
	return map[string]Factory{
		"fs.flag":    func(path domain.ObjectPath, res objconf.Resource) (ResourceDriver, error) { return newFlagDriver(p, path, res) },
		"app.simple": func(path domain.ObjectPath, res objconf.Resource) (ResourceDriver, error) { return newAppDriver(p, res) },
	}
}

func optString(res objconf.Resource, key string) string {
	if v, ok := res.Options[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// flagDriver is up when its flag file exists.
type flagDriver struct {
	rid  string
	file string
}

func newFlagDriver(p platform, path domain.ObjectPath, res objconf.Resource) (*flagDriver, error) {
	file := optString(res, "path")
	if file == "" {
		ns := path.Namespace
		if ns == "" {
			ns = domain.RootNamespace
		}
		name := strings.ReplaceAll(res.RID, "#", "_") + ".flag"
		file = filepath.Join(p.flagDir, ns, string(path.Kind), path.Name, name)
	}
	return &flagDriver{rid: res.RID, file: file}, nil
}

func (d *flagDriver) RID() string  { return d.rid }
func (d *flagDriver) Type() string { return "fs.flag" }

func (d *flagDriver) Status(context.Context) domain.Status {
	_, err := os.Stat(d.file)
	switch {
	case err == nil:
		return domain.StatusUp
	case errors.Is(err, fs.ErrNotExist):
		return domain.StatusDown
	default:
		return domain.StatusUndef
	}
}

func (d *flagDriver) Start(context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.file), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(d.file, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (d *flagDriver) Stop(context.Context) error {
	if err := os.Remove(d.file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (d *flagDriver) Info(context.Context) map[string]string {
	return map[string]string{"path": d.file}
}

// appDriver runs shell commands. Without a check command its status is
// n/a.
type appDriver struct {
	rid     string
	start   string
	stop    string
	check   string
	timeout time.Duration
	shell   []string
}

func newAppDriver(p platform, res objconf.Resource) (*appDriver, error) {
	d := &appDriver{
		rid:     res.RID,
		start:   optString(res, "start"),
		stop:    optString(res, "stop"),
		check:   optString(res, "check"),
		timeout: time.Minute,
		shell:   p.shell,
	}
	if s := optString(res, "timeout"); s != "" {
		t, err := time.ParseDuration(s)
		if err != nil {
			return nil, domain.ErrInvalidArgument.WithDetailsf("timeout %q", s)
		}
		d.timeout = t
	}
	return d, nil
}

func (d *appDriver) RID() string  { return d.rid }
func (d *appDriver) Type() string { return "app.simple" }

func (d *appDriver) run(ctx context.Context, command string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	args := append(append([]string{}, d.shell[1:]...), command)
	cmd := exec.CommandContext(ctx, d.shell[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", command, err, msg)
		}
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

func (d *appDriver) Status(ctx context.Context) domain.Status {
	if d.check == "" {
		return domain.StatusNA
	}
	if err := d.run(ctx, d.check); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return domain.StatusDown
		}
		return domain.StatusUndef
	}
	return domain.StatusUp
}

func (d *appDriver) Start(ctx context.Context) error {
	if d.start == "" {
		return nil
	}
	return d.run(ctx, d.start)
}

func (d *appDriver) Stop(ctx context.Context) error {
	if d.stop == "" {
		return nil
	}
	return d.run(ctx, d.stop)
}

func (d *appDriver) Info(context.Context) map[string]string {
	return map[string]string{
		"start":   d.start,
		"stop":    d.stop,
		"check":   d.check,
		"timeout": d.timeout.String(),
	}
}
