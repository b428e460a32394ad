package config

import (
	"fmt"
	"os"
	"plugin"
	"sort"
	"strings"
	"sync"

	"github.com/dcshock/mlpipe/flow"
	"github.com/dcshock/mlpipe/materializer"
	"github.com/dcshock/mlpipe/step"
)

// Module is a named set of pipeline definitions, step factories and
// materializers that a pipeline configuration refers to by name. Safe for
// concurrent use.
type Module struct {
	name string

	mu            sync.RWMutex
	pipelines     map[string]*flow.Definition
	steps         map[string]step.Factory
	materializers *materializer.Registry
}

// NewModule returns an empty module. The built-in materializers (json, yaml,
// text) are always available.
func NewModule(name string) *Module {
	return &Module{
		name:          name,
		pipelines:     make(map[string]*flow.Definition),
		steps:         make(map[string]step.Factory),
		materializers: materializer.NewRegistry(),
	}
}

func (m *Module) Name() string { return m.name }

// AddPipeline registers def under def.Name. Overwrites any existing registration.
func (m *Module) AddPipeline(def *flow.Definition) *Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelines[def.Name] = def
	return m
}

// AddStep registers a step factory under source.
func (m *Module) AddStep(source string, f step.Factory) *Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[source] = f
	return m
}

// AddMaterializer registers mat under name, shadowing a built-in of the same name.
func (m *Module) AddMaterializer(name string, mat materializer.Materializer) *Module {
	m.materializers.Register(name, mat)
	return m
}

func (m *Module) unable(attr string) error {
	return configErrorf("Unable to load '%s' from module '%s'", attr, m.name)
}

// Pipeline returns the definition registered under name.
func (m *Module) Pipeline(name string) (*flow.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.pipelines[name]
	if !ok {
		return nil, m.unable(name)
	}
	return def, nil
}

// Step returns the step factory registered under source.
func (m *Module) Step(source string) (step.Factory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.steps[source]
	if !ok {
		return nil, m.unable(source)
	}
	return f, nil
}

func (m *Module) Materializer(name string) (materializer.Materializer, error) {
	mat, ok := m.materializers.Get(name)
	if !ok {
		return nil, m.unable(name)
	}
	return mat, nil
}

// PipelineNames returns the registered pipeline names, sorted.
func (m *Module) PipelineNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pipelines))
	for n := range m.pipelines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ModuleSymbol is the exported variable a Go plugin must define for LoadModule:
//
//	var Module = config.NewModule("mymodule").AddStep(...)
const ModuleSymbol = "Module"

// ModuleRegistry maps names to modules. Safe for concurrent use.
type ModuleRegistry struct {
	mu      sync.RWMutex
	modules map[string]*Module
}

func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{modules: make(map[string]*Module)}
}

// Register adds m under its name. Overwrites any existing registration.
func (r *ModuleRegistry) Register(m *Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name()] = m
}

func (r *ModuleRegistry) Get(name string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Names returns all registered module names, sorted.
func (r *ModuleRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for n := range r.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load resolves ref to a module: a registered module name, or the path of a Go
// plugin (.so) exporting ModuleSymbol. A loaded plugin module is registered
// under ref.
func (r *ModuleRegistry) Load(ref string) (*Module, error) {
	if m, ok := r.Get(ref); ok {
		return m, nil
	}
	if !strings.HasSuffix(ref, ".so") {
		if _, err := os.Stat(ref); err != nil {
			return nil, configErrorf("no module named '%s' (registered: %s)", ref, strings.Join(r.Names(), ", "))
		}
	}
	m, err := openPlugin(ref)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.modules[ref] = m
	r.mu.Unlock()
	return m, nil
}

func openPlugin(path string) (*Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open module plugin %s: %w", path, err)
	}
	sym, err := p.Lookup(ModuleSymbol)
	if err != nil {
		return nil, configErrorf("Unable to load '%s' from module '%s'", ModuleSymbol, path)
	}
	switch v := sym.(type) {
	case **Module:
		if *v != nil {
			return *v, nil
		}
	case *Module:
		return v, nil
	}
	return nil, configErrorf("Unable to load '%s' from module '%s': got %T, want *config.Module", ModuleSymbol, path, sym)
}

var defaultModules = NewModuleRegistry()

// RegisterModule registers m in the default registry, typically from an init function.
func RegisterModule(m *Module) { defaultModules.Register(m) }

// LoadModule resolves ref in the default registry (see ModuleRegistry.Load).
func LoadModule(ref string) (*Module, error) { return defaultModules.Load(ref) }
