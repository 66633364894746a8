// Package objconf loads object configuration files.
//
// Each object has one YAML file at <dir>/<namespace>/<kind>/<name>.yaml.
// The files are the only state the daemon reads back at startup.
package objconf

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/spaolacci/murmur3"
	"go.yaml.in/yaml/v3"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/infra/confloader"
)

// Orchestration modes.
const (
	OrchestrateHA    = "ha"
	OrchestrateStart = "start"
	OrchestrateNo    = "no"
)

// Topologies.
const (
	TopologyFailover = "failover"
	TopologyFlex     = "flex"
)

// Resource is one resource definition. Options holds the
// driver-specific keywords.
type Resource struct {
	RID     string         `yaml:"rid"`
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:",inline"`
}

// Object is the configuration of one object.
type Object struct {
	Path        domain.ObjectPath `yaml:"-"`
	Orchestrate string            `yaml:"orchestrate,omitempty"`
	Topology    string            `yaml:"topology,omitempty"`
	Nodes       []string          `yaml:"nodes,omitempty"`
	FlexTarget  int               `yaml:"flex_target,omitempty"`
	Parents     []string          `yaml:"parents,omitempty"`
	Children    []string          `yaml:"children,omitempty"`
	Restart     int               `yaml:"restart,omitempty"`
	Resources   []Resource        `yaml:"resources,omitempty"`

	digest uint64
}

// Candidates returns the placement candidates, defaulting to local
// when no node list is configured.
func (o Object) Candidates(local string) []string {
	if len(o.Nodes) == 0 {
		return []string{local}
	}
	return o.Nodes
}

// Target returns the number of nodes that should run the object.
func (o Object) Target(local string) int {
	if o.Topology != TopologyFlex {
		return 1
	}
	if o.FlexTarget > 0 {
		return o.FlexTarget
	}
	return len(o.Candidates(local))
}

// FilePath returns the configuration file path of p under dir.
func FilePath(dir string, p domain.ObjectPath) string {
	ns := p.Namespace
	if ns == "" {
		ns = domain.RootNamespace
	}
	return filepath.Join(dir, ns, string(p.Kind), p.Name+".yaml")
}

// PathFromFile derives the object path of a configuration file.
func PathFromFile(dir, file string) (domain.ObjectPath, error) {
	rel, err := filepath.Rel(dir, file)
	if err != nil {
		return domain.ObjectPath{}, err
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], ".yaml") {
		return domain.ObjectPath{}, domain.ErrInvalidPath.WithDetails(rel)
	}
	parts[2] = strings.TrimSuffix(parts[2], ".yaml")
	return domain.ParsePath(strings.Join(parts, "/"))
}

// Parse decodes one object configuration document.
func Parse(p domain.ObjectPath, b []byte) (Object, error) {
	l := confloader.NewLoader(confloader.WithEnvPrefix(""))
	if err := l.LoadBytes(b); err != nil {
		return Object{}, err
	}
	obj := Object{
		Path:        p,
		Orchestrate: l.GetString("orchestrate"),
		Topology:    l.GetString("topology"),
		FlexTarget:  l.GetInt("flex_target"),
		Restart:     l.GetInt("restart"),
		digest:      murmur3.Sum64(b),
	}
	for key, dst := range map[string]*[]string{"nodes": &obj.Nodes, "parents": &obj.Parents, "children": &obj.Children} {
		if l.Exists(key) {
			if err := l.UnmarshalKey(key, dst); err != nil {
				return Object{}, fmt.Errorf("%s: %s: %w", p, key, err)
			}
		}
	}
	if raw, ok := l.Get("resources").([]any); ok {
		for i, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				return Object{}, fmt.Errorf("%s: resources[%d]: not a mapping", p, i)
			}
			res, err := parseResource(m)
			if err != nil {
				return Object{}, fmt.Errorf("%s: resources[%d]: %w", p, i, err)
			}
			obj.Resources = append(obj.Resources, res)
		}
	}
	if err := obj.normalize(); err != nil {
		return Object{}, err
	}
	return obj, nil
}

func parseResource(m map[string]any) (Resource, error) {
	res := Resource{Options: make(map[string]any)}
	for k, v := range m {
		switch k {
		case "rid":
			res.RID, _ = v.(string)
		case "type":
			res.Type, _ = v.(string)
		default:
			res.Options[k] = v
		}
	}
	if res.RID == "" {
		return Resource{}, errors.New("rid is required")
	}
	if res.Type == "" {
		return Resource{}, fmt.Errorf("%s: type is required", res.RID)
	}
	return res, nil
}

func (o *Object) normalize() error {
	if o.Orchestrate == "" {
		o.Orchestrate = OrchestrateNo
	}
	if o.Topology == "" {
		o.Topology = TopologyFailover
	}
	switch o.Orchestrate {
	case OrchestrateHA, OrchestrateStart, OrchestrateNo:
	default:
		return domain.ErrInvalidArgument.WithDetailsf("%s: orchestrate %q", o.Path, o.Orchestrate)
	}
	switch o.Topology {
	case TopologyFailover, TopologyFlex:
	default:
		return domain.ErrInvalidArgument.WithDetailsf("%s: topology %q", o.Path, o.Topology)
	}
	if o.Restart < 0 || o.FlexTarget < 0 {
		return domain.ErrInvalidArgument.WithDetailsf("%s: negative restart or flex_target", o.Path)
	}
	seen := make(map[string]bool, len(o.Resources))
	for _, r := range o.Resources {
		if seen[r.RID] {
			return domain.ErrInvalidArgument.WithDetailsf("%s: duplicate rid %s", o.Path, r.RID)
		}
		seen[r.RID] = true
	}
	return nil
}

// Store holds the loaded object configurations of one directory.
type Store struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	objects map[string]Object
}

// NewStore creates a store for dir. Nothing is read until Load.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:     dir,
		logger:  logger.With("component", "objconf"),
		objects: make(map[string]Object),
	}
}

// Dir returns the configuration directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads every configuration file and returns the paths of the
// objects added, changed or removed since the previous Load. Invalid
// files are logged and skipped; the previous configuration of such an
// object is kept.
func (s *Store) Load() ([]string, error) {
	found := make(map[string]Object)
	err := filepath.WalkDir(s.dir, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && file == s.dir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(file, ".yaml") {
			return nil
		}
		p, err := PathFromFile(s.dir, file)
		if err != nil {
			s.logger.Warn("ignore configuration file", "file", file, "error", err)
			return nil
		}
		b, err := os.ReadFile(file)
		if err != nil {
			s.logger.Warn("read configuration file", "file", file, "error", err)
			return nil
		}
		obj, err := Parse(p, b)
		if err != nil {
			s.logger.Warn("invalid object configuration", "path", p.String(), "error", err)
			s.mu.RLock()
			prev, ok := s.objects[p.String()]
			s.mu.RUnlock()
			if ok {
				found[p.String()] = prev
			}
			return nil
		}
		found[p.String()] = obj
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.dir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	for path, obj := range found {
		if prev, ok := s.objects[path]; !ok || prev.digest != obj.digest {
			changed = append(changed, path)
		}
	}
	for path := range s.objects {
		if _, ok := found[path]; !ok {
			changed = append(changed, path)
		}
	}
	s.objects = found
	sort.Strings(changed)
	return changed, nil
}

// Get returns the configuration of the object at path.
func (s *Store) Get(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Exists reports whether path is configured.
func (s *Store) Exists(path string) bool {
	_, ok := s.Get(path)
	return ok
}

// List returns every object sorted by path.
func (s *Store) List() []Object {
	s.mu.RLock()
	out := make([]Object, 0, len(s.objects))
	for _, obj := range s.objects {
		out = append(out, obj)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Object) int {
		return strings.Compare(a.Path.String(), b.Path.String())
	})
	return out
}

// Save writes the configuration file of obj and loads it in the store.
func (s *Store) Save(obj Object) error {
	if err := obj.normalize(); err != nil {
		return err
	}
	b, err := yaml.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode %s: %w", obj.Path, err)
	}
	file := FilePath(s.dir, obj.Path)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return err
	}
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, file); err != nil {
		return err
	}
	obj.digest = murmur3.Sum64(b)
	s.mu.Lock()
	s.objects[obj.Path.String()] = obj
	s.mu.Unlock()
	return nil
}

// Delete removes the configuration file of path.
func (s *Store) Delete(p domain.ObjectPath) error {
	if err := os.Remove(FilePath(s.dir, p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.mu.Lock()
	delete(s.objects, p.String())
	s.mu.Unlock()
	return nil
}
