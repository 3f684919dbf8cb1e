package context

import (
	"log/slog"
	"sync"
)

// Component is a single named contribution to the assembled LLM input,
// produced by a plugin's getComponent.
type Component struct {
	Name        string
	Content     string
	Priority    int
	Compactable bool
	Metadata    map[string]interface{}
}

// ContextPlugin is a component contributor, distinct from the agent
// package's event-listener Plugin (agent.Plugin.OnEvent): this interface
// participates directly in prepare()'s component assembly and compaction,
// per SPEC_FULL.md §4.5. The two Plugin concepts are deliberately
// independent — a plugin author may implement either, or both, since one
// observes events and the other contributes context.
type ContextPlugin interface {
	Name() string
	Priority() int
	Compactable() bool
	GetComponent() *Component
	// Compact asks the plugin to shrink its contribution to approximately
	// targetTokens, returning the tokens actually freed. Plugins that are
	// not Compactable may return 0 unconditionally.
	Compact(targetTokens int, estimate func(string, ContentClass) int) int
	// GetState/RestoreState serialize plugin-private state at session
	// save/load boundaries. Either may be a no-op.
	GetState() interface{}
	RestoreState(state interface{})
	// Destroy releases any resources the plugin holds. Optional.
	Destroy()
}

// BasePlugin is an embeddable no-op implementation of the optional
// ContextPlugin methods, so concrete plugins only implement what they need,
// mirroring the teacher's PluginFunc adapter idiom in internal/agent/plugin.go.
type BasePlugin struct{}

func (BasePlugin) Compact(int, func(string, ContentClass) int) int { return 0 }
func (BasePlugin) GetState() interface{}                           { return nil }
func (BasePlugin) RestoreState(interface{})                        {}
func (BasePlugin) Destroy()                                        {}

// PluginHost registers ContextPlugins, enforces name uniqueness, invokes
// them in registration order, and isolates failures so a single bad plugin
// never aborts prepare(). One-way registration: the host never hands a
// plugin a back-pointer to the Context Manager, only a removeToolPair-style
// callback where needed (SPEC_FULL.md §9 "cyclic plugin state").
type PluginHost struct {
	mu      sync.RWMutex
	order   []string
	plugins map[string]ContextPlugin
	logger  *slog.Logger
}

func NewPluginHost(logger *slog.Logger) *PluginHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &PluginHost{plugins: make(map[string]ContextPlugin), logger: logger}
}

// Register adds a plugin. Returns ErrConfiguration if the name is already
// taken.
func (h *PluginHost) Register(p ContextPlugin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	name := p.Name()
	if _, exists := h.plugins[name]; exists {
		return ErrConfiguration
	}
	h.plugins[name] = p
	h.order = append(h.order, name)
	return nil
}

func (h *PluginHost) Unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.plugins[name]; !ok {
		return
	}
	h.plugins[name].Destroy()
	delete(h.plugins, name)
	for i, n := range h.order {
		if n == name {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Components invokes getComponent on every plugin in registration order,
// skipping any that return nil, and logging and skipping any that panic.
func (h *PluginHost) Components() []*Component {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Component
	for _, name := range h.order {
		p := h.plugins[name]
		comp := h.safeGetComponent(p)
		if comp != nil {
			out = append(out, comp)
		}
	}
	return out
}

func (h *PluginHost) safeGetComponent(p ContextPlugin) (comp *Component) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("plugin getComponent panicked", "plugin", p.Name(), "recover", r)
			comp = nil
		}
	}()
	return p.GetComponent()
}

// CompactByPriority compacts plugins in descending priority order until
// freedTotal reaches targetTokens or plugins are exhausted, returning tokens
// freed.
func (h *PluginHost) CompactByPriority(targetTokens int, estimate func(string, ContentClass) int) int {
	h.mu.RLock()
	ordered := make([]ContextPlugin, 0, len(h.order))
	for _, name := range h.order {
		p := h.plugins[name]
		if p.Compactable() {
			ordered = append(ordered, p)
		}
	}
	h.mu.RUnlock()

	// stable sort by descending priority, preserving registration order on ties
	for i := 1; i < len(ordered); i++ {
		j := i
		for j > 0 && ordered[j-1].Priority() < ordered[j].Priority() {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
			j--
		}
	}

	freed := 0
	for _, p := range ordered {
		if freed >= targetTokens {
			break
		}
		freed += h.safeCompact(p, targetTokens-freed, estimate)
	}
	return freed
}

func (h *PluginHost) safeCompact(p ContextPlugin, target int, estimate func(string, ContentClass) int) (freed int) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("plugin compact panicked", "plugin", p.Name(), "recover", r)
			freed = 0
		}
	}()
	return p.Compact(target, estimate)
}

// SerializeState collects every plugin's state at save time, keyed by name.
func (h *PluginHost) SerializeState() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]interface{}, len(h.order))
	for _, name := range h.order {
		out[name] = h.plugins[name].GetState()
	}
	return out
}

// RestoreState distributes a previously serialized state map back to
// plugins by name; unknown names are ignored.
func (h *PluginHost) RestoreState(blob map[string]interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for name, state := range blob {
		if p, ok := h.plugins[name]; ok {
			p.RestoreState(state)
		}
	}
}
