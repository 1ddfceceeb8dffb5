package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const moduleLogPrefix = "registry:module"

// Separators accepted between a module name and a method name. Methods are listed with the first.
const (
	ModuleSeparator    = "/"
	AltModuleSeparator = "."
)

var (
	// ErrDuplicateModule is returned when a module name is registered twice without AllowOverride.
	ErrDuplicateModule = errors.New("module already registered")
	// ErrInvalidName is returned for module or module method names containing a separator.
	ErrInvalidName = errors.New("name must be non-empty and contain no '/' or '.'")
)

// Module groups methods under a common name. Its methods resolve as "module/method"
// or "module.method" once the module is registered.
type Module struct {
	name string

	mu      sync.RWMutex
	methods map[string]*Method
}

// NewModule creates an empty module.
func NewModule(name string) (*Module, error) {
	if !validSegment(name) {
		return nil, fmt.Errorf("%s - module %q: %w", moduleLogPrefix, name, ErrInvalidName)
	}
	return &Module{name: name, methods: make(map[string]*Method)}, nil
}

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// Register adds an Inline or Thread lane method to the module.
func (m *Module) Register(name string, fn Handler, lane Lane, opts ...Option) error {
	method, err := newHandlerMethod(name, fn, lane)
	if err != nil {
		return err
	}
	return m.add(method, opts)
}

// RegisterProcess adds a Process lane method to the module.
func (m *Module) RegisterProcess(name string, fn ProcessFunc, opts ...Option) error {
	method, err := newProcessMethod(name, fn)
	if err != nil {
		return err
	}
	return m.add(method, opts)
}

func (m *Module) add(method *Method, opts []Option) error {
	if !validSegment(method.Name) {
		return fmt.Errorf("%s - %s method %q: %w", moduleLogPrefix, m.name, method.Name, ErrInvalidName)
	}
	short := method.Name
	method.Name = m.name + ModuleSeparator + short
	reg, err := prepare(method, opts)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.methods[short]; exists {
		if !reg.allowOverride {
			return fmt.Errorf("%s - %s: %w", moduleLogPrefix, method.Name, ErrDuplicateMethod)
		}
		slog.Info(fmt.Sprintf("%s - Overriding method %s", moduleLogPrefix, method.Name))
	}
	m.methods[short] = method
	return nil
}

// Resolve returns the module method registered under its short name.
func (m *Module) Resolve(name string) (*Method, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	method, ok := m.methods[name]
	return method, ok
}

func (m *Module) list() []*Method {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Method, 0, len(m.methods))
	for _, method := range m.methods {
		out = append(out, method)
	}
	return out
}

func (m *Module) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.methods)
}

// RegisterModule makes the methods of mod resolvable under its name. Methods added to mod
// afterwards are visible too.
func (r *Registry) RegisterModule(mod *Module, opts ...Option) error {
	if mod == nil {
		return fmt.Errorf("%s - nil module", moduleLogPrefix)
	}
	var reg registration
	for _, opt := range opts {
		opt(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[mod.name]; exists {
		if !reg.allowOverride {
			return fmt.Errorf("%s - %s: %w", moduleLogPrefix, mod.name, ErrDuplicateModule)
		}
		slog.Info(fmt.Sprintf("%s - Overriding module %s", moduleLogPrefix, mod.name))
	}
	r.modules[mod.name] = mod
	slog.Debug(fmt.Sprintf("%s - Registered module %s with %d methods", moduleLogPrefix, mod.name, mod.len()))
	return nil
}

// splitQualified splits "module/method" or "module.method". Both parts must be non-empty
// and the method part must not contain another separator.
func splitQualified(name string) (module, method string, ok bool) {
	i := strings.IndexAny(name, ModuleSeparator+AltModuleSeparator)
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	module, method = name[:i], name[i+1:]
	if !validSegment(method) {
		return "", "", false
	}
	return module, method, true
}

func validSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, ModuleSeparator+AltModuleSeparator)
}
