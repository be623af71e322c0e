package runtime

import "sync"

// AgentSpec is one subagent template: a system prompt, the subset of the
// toolset it's allowed to use, and its own step ceiling, registered under
// a name the Task tool spawns by.
type AgentSpec struct {
	Name          string
	SystemPrompt  string
	ToolNames     []string
	MaxIterations int
}

// LaborMarket is the name-keyed registry of subagent templates the Task
// tool spawns from.
type LaborMarket struct {
	mu    sync.RWMutex
	specs map[string]AgentSpec
}

// NewLaborMarket creates an empty registry.
func NewLaborMarket() *LaborMarket {
	return &LaborMarket{specs: make(map[string]AgentSpec)}
}

// Register adds or replaces a named template.
func (m *LaborMarket) Register(spec AgentSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[spec.Name] = spec
}

// Get looks up a template by name.
func (m *LaborMarket) Get(name string) (AgentSpec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spec, ok := m.specs[name]
	return spec, ok
}

// Names lists every registered template name.
func (m *LaborMarket) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.specs))
	for name := range m.specs {
		out = append(out, name)
	}
	return out
}
