package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

const logPrefix = "registry:registry"

var (
	// ErrDuplicateMethod is returned when a name is registered twice without AllowOverride.
	ErrDuplicateMethod = errors.New("method already registered")
	// ErrProcessLane is returned when Register is asked for LaneProcess; use RegisterProcess.
	ErrProcessLane = errors.New("process lane methods must be registered with RegisterProcess")
)

// Method is one registered entry. It is immutable once registered.
type Method struct {
	Name  string
	Lane  Lane
	Shape Shape

	handler Handler
	process ProcessFunc
}

// Handler returns the body of an Inline or Thread lane method, nil for Process lane methods.
func (m *Method) Handler() Handler { return m.handler }

// Process returns the body of a Process lane method, nil otherwise.
func (m *Method) Process() ProcessFunc { return m.process }

// Info returns the listing form of the method.
func (m *Method) Info() MethodInfo {
	return MethodInfo{Name: m.Name, Lane: m.Lane.String(), Params: m.Shape.Names(), Rest: m.Shape.Rest}
}

// Option configures a registration.
type Option func(*registration)

type registration struct {
	shape         Shape
	allowOverride bool
}

// WithParams declares the method's parameters in positional order.
func WithParams(params ...Param) Option {
	return func(r *registration) { r.shape.Params = append(r.shape.Params, params...) }
}

// WithRest lets the method accept extra positional arguments.
func WithRest() Option {
	return func(r *registration) { r.shape.Rest = true }
}

// AllowOverride replaces an existing method of the same name instead of failing.
func AllowOverride() Option {
	return func(r *registration) { r.allowOverride = true }
}

// Registry maps method names to methods. Lookups are exact and case-sensitive.
// It is populated during setup; the lock only matters when methods are added while serving.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]*Method
	modules map[string]*Module
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]*Method), modules: make(map[string]*Module)}
}

// Register adds an Inline or Thread lane method.
func (r *Registry) Register(name string, fn Handler, lane Lane, opts ...Option) error {
	m, err := newHandlerMethod(name, fn, lane)
	if err != nil {
		return err
	}
	return r.add(m, opts)
}

// RegisterProcess adds a Process lane method.
func (r *Registry) RegisterProcess(name string, fn ProcessFunc, opts ...Option) error {
	m, err := newProcessMethod(name, fn)
	if err != nil {
		return err
	}
	return r.add(m, opts)
}

func newHandlerMethod(name string, fn Handler, lane Lane) (*Method, error) {
	if lane == LaneProcess {
		return nil, fmt.Errorf("%s - %s: %w", logPrefix, name, ErrProcessLane)
	}
	if lane != LaneInline && lane != LaneThread {
		return nil, fmt.Errorf("%s - %s: unknown lane %d", logPrefix, name, int(lane))
	}
	if fn == nil {
		return nil, fmt.Errorf("%s - %s: nil handler", logPrefix, name)
	}
	return &Method{Name: name, Lane: lane, handler: fn}, nil
}

func newProcessMethod(name string, fn ProcessFunc) (*Method, error) {
	if fn == nil {
		return nil, fmt.Errorf("%s - %s: nil process func", logPrefix, name)
	}
	return &Method{Name: name, Lane: LaneProcess, process: fn}, nil
}

// prepare applies opts to m and validates the result.
func prepare(m *Method, opts []Option) (registration, error) {
	var reg registration
	if m.Name == "" {
		return reg, fmt.Errorf("%s - empty method name", logPrefix)
	}
	for _, opt := range opts {
		opt(&reg)
	}
	if err := reg.shape.validate(); err != nil {
		return reg, fmt.Errorf("%s - %s: %w", logPrefix, m.Name, err)
	}
	m.Shape = reg.shape
	return reg, nil
}

func (r *Registry) add(m *Method, opts []Option) error {
	reg, err := prepare(m, opts)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[m.Name]; exists {
		if !reg.allowOverride {
			return fmt.Errorf("%s - %s: %w", logPrefix, m.Name, ErrDuplicateMethod)
		}
		slog.Info(fmt.Sprintf("%s - Overriding method %s", logPrefix, m.Name))
	}
	r.methods[m.Name] = m
	slog.Debug(fmt.Sprintf("%s - Registered %s on %s lane", logPrefix, m.Name, m.Lane))
	return nil
}

// Resolve returns the method registered under name. A name not registered directly is
// tried as "module/method" or "module.method".
func (r *Registry) Resolve(name string) (*Method, bool) {
	r.mu.RLock()
	m, ok := r.methods[name]
	if ok {
		r.mu.RUnlock()
		return m, true
	}
	modName, method, qualified := splitQualified(name)
	var mod *Module
	if qualified {
		mod = r.modules[modName]
	}
	r.mu.RUnlock()
	if mod == nil {
		return nil, false
	}
	return mod.Resolve(method)
}

// Invocable returns a callable for name regardless of lane. Process lane methods are
// adapted to run in the caller's process; the dispatcher never uses this for them.
func (r *Registry) Invocable(name string) (Handler, bool) {
	m, ok := r.Resolve(name)
	if !ok {
		return nil, false
	}
	if m.handler != nil {
		return m.handler, true
	}
	process := m.process
	return func(_ context.Context, args *Args) (any, error) { return process(args) }, true
}

// Len returns the number of registered methods, module methods included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.methods)
	for _, mod := range r.modules {
		n += mod.len()
	}
	return n
}

// Methods lists registered methods sorted by name. Module methods are listed as "module/method".
func (r *Registry) Methods() []MethodInfo {
	r.mu.RLock()
	out := make([]MethodInfo, 0, len(r.methods))
	for _, m := range r.methods {
		out = append(out, m.Info())
	}
	for _, mod := range r.modules {
		for _, m := range mod.list() {
			out = append(out, m.Info())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
