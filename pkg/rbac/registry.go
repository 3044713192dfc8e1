package rbac

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Modules is the closed set of permission modules
var Modules = []string{
	"users", "objects", "documents", "orgstructure", "roles",
	"training", "audit", "dashboard", "settings",
}

// Actions is the closed set of permission actions
var Actions = []string{"view", "create", "edit", "delete", "upload", "manage", "export"}

var defaultCapabilities = map[string][]string{
	"users":        {"view", "create", "edit", "delete"},
	"objects":      {"view", "create", "edit", "delete", "export"},
	"documents":    {"view", "create", "edit", "delete", "upload", "export", "manage"},
	"orgstructure": {"view", "create", "edit", "delete", "manage"},
	"roles":        {"view", "create", "edit", "delete", "manage"},
	"training":     {"view", "create", "edit", "delete"},
	"audit":        {"view", "export"},
	"dashboard":    {"view"},
	"settings":     {"view", "edit", "manage"},
}

// RegistryFile is the YAML layout of a capabilities file
type RegistryFile struct {
	Modules []ModuleSpec `yaml:"modules"`
}

// ModuleSpec lists extra actions enabled for one module
type ModuleSpec struct {
	Name    string   `yaml:"name"`
	Actions []string `yaml:"actions"`
}

// Registry holds the valid capabilities. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	caps    map[Capability]struct{}
	log     *logrus.Logger
	metrics *observability.Metrics
}

// NewRegistry creates a registry holding the built-in capabilities
func NewRegistry(log *logrus.Logger, metrics *observability.Metrics) *Registry {
	if log == nil {
		log = logrus.New()
	}
	r := &Registry{log: log, metrics: metrics}
	r.caps = buildCapabilities(nil)
	return r
}

func buildCapabilities(extra *RegistryFile) map[Capability]struct{} {
	caps := make(map[Capability]struct{})
	for module, actions := range defaultCapabilities {
		for _, action := range actions {
			caps[Capability{Module: module, Action: action}] = struct{}{}
		}
	}
	if extra != nil {
		for _, m := range extra.Modules {
			for _, action := range m.Actions {
				caps[Capability{Module: m.Name, Action: action}] = struct{}{}
			}
		}
	}
	return caps
}

func knownModule(name string) bool {
	for _, m := range Modules {
		if m == name {
			return true
		}
	}
	return false
}

func knownAction(name string) bool {
	for _, a := range Actions {
		if a == name {
			return true
		}
	}
	return false
}

// ParseRegistryFile decodes a capabilities file and checks that it stays
// within the closed module and action sets
func ParseRegistryFile(data []byte) (*RegistryFile, error) {
	var file RegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse capabilities file: %w", err)
	}
	for _, m := range file.Modules {
		if !knownModule(m.Name) {
			return nil, fmt.Errorf("%w: module %q", ErrUnknownCapability, m.Name)
		}
		for _, action := range m.Actions {
			if !knownAction(action) {
				return nil, fmt.Errorf("%w: action %q in module %q", ErrUnknownCapability, action, m.Name)
			}
		}
	}
	return &file, nil
}

// LoadFile replaces the file-provided capabilities with the contents of path.
// On error the previous set stays in effect.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		r.recordReload("error")
		return fmt.Errorf("failed to read capabilities file: %w", err)
	}
	file, err := ParseRegistryFile(data)
	if err != nil {
		r.recordReload("error")
		return err
	}

	caps := buildCapabilities(file)
	r.mu.Lock()
	r.caps = caps
	r.mu.Unlock()

	r.recordReload("success")
	r.log.WithFields(logrus.Fields{
		"path":         path,
		"capabilities": len(caps),
	}).Info("Loaded capabilities file")
	return nil
}

func (r *Registry) recordReload(status string) {
	if r.metrics != nil {
		r.metrics.RegistryReloadsTotal.WithLabelValues(status).Inc()
	}
}

// Valid reports whether the pair is a registered capability
func (r *Registry) Valid(module, action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.caps[Capability{Module: module, Action: action}]
	return ok
}

// Validate returns ErrUnknownCapability for unregistered pairs
func (r *Registry) Validate(module, action string) error {
	if !r.Valid(module, action) {
		return fmt.Errorf("%w: %s:%s", ErrUnknownCapability, module, action)
	}
	return nil
}

// Capabilities returns every registered capability sorted by module then action
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	caps := make([]Capability, 0, len(r.caps))
	for c := range r.caps {
		caps = append(caps, c)
	}
	r.mu.RUnlock()

	sort.Slice(caps, func(i, j int) bool {
		if caps[i].Module != caps[j].Module {
			return caps[i].Module < caps[j].Module
		}
		return caps[i].Action < caps[j].Action
	})
	return caps
}

// Watch reloads path whenever it changes until ctx is cancelled. The parent
// directory is watched so that editors replacing the file are picked up.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)
	r.log.WithField("path", target).Info("Watching capabilities file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.LoadFile(target); err != nil {
				r.log.WithError(err).Warn("Failed to reload capabilities file, keeping previous set")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.WithError(err).Warn("Capabilities watcher error")
		}
	}
}
