package multiagent

import (
	"regexp"
	"strings"
	"sync"
)

// CapabilityRouter selects a Specialist from a Task's description using the
// same regex/keyword heuristic idiom as internal/context/priorityprofile.go's
// DetectTaskType: a pure, LLM-free classification compiled once per
// specialist's Keywords.
type CapabilityRouter struct {
	registry *SpecialistRegistry

	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp // specialist ID -> compiled keyword alternation
}

func NewCapabilityRouter(registry *SpecialistRegistry) *CapabilityRouter {
	return &CapabilityRouter{registry: registry, patterns: make(map[string]*regexp.Regexp)}
}

func (c *CapabilityRouter) compile(s *Specialist) *regexp.Regexp {
	c.mu.RLock()
	if re, ok := c.patterns[s.ID]; ok {
		c.mu.RUnlock()
		return re
	}
	c.mu.RUnlock()

	if len(s.Keywords) == 0 {
		return nil
	}
	re := regexp.MustCompile(`(?i)\b(` + strings.Join(s.Keywords, "|") + `)\b`)
	c.mu.Lock()
	c.patterns[s.ID] = re
	c.mu.Unlock()
	return re
}

// Route picks the best-matching specialist for a task description. The
// first specialist (in registry iteration order) whose Keywords match wins;
// fallback is the registry's "general" specialist if registered, else
// false.
func (c *CapabilityRouter) Route(task string) (*Specialist, bool) {
	for _, s := range c.registry.List() {
		re := c.compile(s)
		if re != nil && re.MatchString(task) {
			return s, true
		}
	}
	if fallback, ok := c.registry.Get("general"); ok {
		return fallback, true
	}
	return nil, false
}

// RouteTo looks up a specialist by explicit ID, bypassing keyword routing -
// used when a caller names the specialist directly in the delegate tool's
// arguments.
func (c *CapabilityRouter) RouteTo(id string) (*Specialist, bool) {
	return c.registry.Get(id)
}
