package context

import (
	"fmt"
	"log/slog"
	"sync"
)

// Features enumerates the feature flags from SPEC_FULL.md §6. Absent
// features leave their fields null in the Manager; accessors document
// whether null is a valid outcome.
type Features struct {
	Memory                 bool
	InContextMemory        bool
	History                bool
	Permissions            bool
	PersistentInstructions bool
	ToolOutputTracking     bool
	AutoSpill              bool
	ToolResultEviction     bool
}

// Validate enforces the pair invariant from §6: autoSpill and
// toolResultEviction require memory.
func (f Features) Validate() error {
	if !f.Memory && (f.AutoSpill || f.ToolResultEviction) {
		return ErrConfiguration
	}
	return nil
}

// EventListener receives Manager lifecycle events (message:added,
// budget:warning, budget:critical, history:compacted). Implementations
// must not block.
type EventListener func(name string, payload interface{})

// ManagerConfig configures a new Context Manager.
type ManagerConfig struct {
	SystemPrompt       string
	Instructions       string
	TotalTokens        int
	ResponseReserve    float64
	Strategy           StrategyName
	AutoCompact        bool
	Features           Features
	MinIterationsAge   int
	ByteCeiling        int
	SpillThresholdBytes int
	SpillAllowTools    []string
	MaxOutputs         int
	Logger             *slog.Logger
}

func sanitizeManagerConfig(c ManagerConfig) ManagerConfig {
	if c.TotalTokens <= 0 {
		c.TotalTokens = 128000
	}
	if c.ResponseReserve <= 0 {
		c.ResponseReserve = DefaultResponseReserve
	}
	if c.Strategy == "" {
		c.Strategy = StrategyProactive
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// ReturnFormat selects prepare()'s output shape.
type ReturnFormat string

const (
	ReturnLLMInput   ReturnFormat = "llm-input"
	ReturnComponents ReturnFormat = "components"
)

// PrepareOptions configures one prepare() call.
type PrepareOptions struct {
	InstructionOverride string
	ReturnFormat        ReturnFormat
}

// PrepareResult is what prepare() returns: either an ordered component list
// or an assembled LLM input sequence, depending on ReturnFormat.
type PrepareResult struct {
	Components []*Component
	LLMInput   []*Message
	Budget     Budget
}

// Manager is the Context Manager: the orchestrator tying together the
// Conversation, Working Memory, Idempotency Cache, Plugin Host, Tool
// Output Tracker, Auto-Spill, Tool Result Eviction, and Compaction
// Strategy. Grounded on the teacher's internal/agent/loop.go per-turn
// orchestration idiom (suspension points confined to I/O, all mutation
// synchronous), adapted into an explicit component-assembly pipeline.
type Manager struct {
	mu sync.Mutex

	systemPrompt        string
	instructions        string
	featureInstructions string

	conversation *Conversation
	nextID       int

	memory     *WorkingMemory
	idempotent *IdempotencyCache
	plugins    *PluginHost
	tracker    *ToolOutputTracker
	spill      *AutoSpill
	evictor    *ToolResultEvictor
	strategy   *CompactionStrategy
	profile    PriorityProfile

	features    Features
	totalTokens int
	reserve     float64
	autoCompact bool

	listeners []EventListener
	logger    *slog.Logger
}

// NewManager constructs a Manager with all enabled subsystems wired
// together. Feature-gated subsystems (memory, autoSpill, toolResultEviction)
// are left nil when disabled, per §6/§9 "absent features leave fields null".
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.Features.Validate(); err != nil {
		return nil, err
	}
	cfg = sanitizeManagerConfig(cfg)

	m := &Manager{
		systemPrompt: cfg.SystemPrompt,
		instructions: cfg.Instructions,
		conversation: NewConversation(),
		features:     cfg.Features,
		totalTokens:  cfg.TotalTokens,
		reserve:      cfg.ResponseReserve,
		autoCompact:  cfg.AutoCompact,
		strategy:     NewStrategy(cfg.Strategy),
		profile:      ProfileFor(TaskGeneral),
		logger:       cfg.Logger,
		plugins:      NewPluginHost(cfg.Logger),
	}

	if cfg.Features.Memory {
		m.memory = NewWorkingMemory(0, 0)
		m.idempotent = NewIdempotencyCache(0, 0)
	}
	if cfg.Features.ToolOutputTracking {
		m.tracker = NewToolOutputTracker(cfg.MaxOutputs)
		_ = m.plugins.Register(m.tracker)
	}
	if cfg.Features.AutoSpill {
		m.spill = NewAutoSpill(m.memory, cfg.SpillThresholdBytes, cfg.SpillAllowTools)
		_ = m.plugins.Register(m.spill)
	}
	if cfg.Features.ToolResultEviction {
		m.evictor = NewToolResultEvictor(cfg.MinIterationsAge, cfg.ByteCeiling, m.removeToolPairInternal, m.writeEvictedResult)
	}

	return m, nil
}

func (m *Manager) writeEvictedResult(key, description string, value interface{}) error {
	if m.memory == nil {
		return ErrConfiguration
	}
	return m.memory.Set(key, description, value, EntryOptions{Priority: PriorityLow})
}

// On registers an event listener.
func (m *Manager) On(fn EventListener) {
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) emit(name string, payload interface{}) {
	for _, l := range m.listeners {
		l(name, payload)
	}
}

func (m *Manager) genID() string {
	m.nextID++
	return fmt.Sprintf("msg_%d", m.nextID)
}

// --- message mutation operations ---

func (m *Manager) AddUserMessage(content string) *Message {
	if !m.features.History {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &Message{ID: m.genID(), Role: RoleUser, Parts: []ContentPart{NewInputText(content)}}
	msg.Meta.EstimatedTokens = EstimateMessageTokens(msg)
	m.conversation.Append(msg)
	m.emit("message:added", msg)
	return msg
}

func (m *Manager) AddInputItems(items []ContentPart) *Message {
	if !m.features.History {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &Message{ID: m.genID(), Role: RoleUser, Parts: items}
	msg.Meta.EstimatedTokens = EstimateMessageTokens(msg)
	m.conversation.Append(msg)
	m.emit("message:added", msg)
	return msg
}

// AddAssistantResponse appends an assistant message built from LLM output
// parts (text and/or tool_use).
func (m *Manager) AddAssistantResponse(outputItems []ContentPart) *Message {
	if !m.features.History {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &Message{ID: m.genID(), Role: RoleAssistant, Parts: outputItems}
	msg.Meta.EstimatedTokens = EstimateMessageTokens(msg)
	idx := len(m.conversation.Messages)
	m.conversation.Append(msg)
	m.emit("message:added", msg)

	if m.evictor != nil {
		for _, p := range outputItems {
			if p.Kind == PartToolUse {
				m.evictor.OnToolResult(p.ToolUseID, p.ToolName, "", idx)
			}
		}
	}
	return msg
}

// AddToolResults appends a user-role message carrying tool_result parts and
// notifies Tool Result Eviction of each.
func (m *Manager) AddToolResults(results []ContentPart) *Message {
	if !m.features.History {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &Message{ID: m.genID(), Role: RoleUser, Parts: results}
	msg.Meta.EstimatedTokens = EstimateMessageTokens(msg)
	idx := len(m.conversation.Messages)
	m.conversation.Append(msg)
	m.emit("message:added", msg)

	if m.evictor != nil {
		for _, p := range results {
			if p.Kind == PartToolResult {
				if tracked, ok := m.evictor.tracked[p.ToolResultForID]; ok {
					tracked.resultContent = p.ToolResultText
					tracked.messageIndex = idx
				}
			}
		}
	}
	return msg
}

// ProtectFromCompaction sets protectedFromIndex to the current length.
func (m *Manager) ProtectFromCompaction() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversation.Protect()
}

// --- capacity and removal ---

// EnsureCapacity returns true if, after possible compaction, available
// tokens meet or exceed estimatedTokens.
func (m *Manager) EnsureCapacity(estimatedTokens int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	budget := m.computeBudgetLocked()
	if budget.Available >= estimatedTokens {
		return true
	}
	m.compactLocked(budget)
	budget = m.computeBudgetLocked()
	return budget.Available >= estimatedTokens
}

// RemoveToolPair atomically removes a tool_use and its matching
// tool_result from the conversation, adjusting protectedFromIndex if the
// removed items precede it, and returns freed tokens.
func (m *Manager) RemoveToolPair(toolUseID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeToolPairInternal(toolUseID)
}

func (m *Manager) removeToolPairInternal(toolUseID string) (int, error) {
	groups := pairGroups(m.conversation)
	g, ok := groups[toolUseID]
	if !ok {
		return 0, ErrInvariantViolation
	}
	return m.removeIndices(g.Indices)
}

// removeIndices deletes the given message indices from the conversation as
// a unit, shifts protectedFromIndex, notifies the evictor, and returns
// freed tokens. Caller must hold m.mu.
func (m *Manager) removeIndices(indices map[int]bool) (int, error) {
	freed := 0
	preceding := 0
	for idx := range indices {
		if idx < m.conversation.ProtectedFromIndex {
			preceding++
		}
	}

	kept := m.conversation.Messages[:0:0]
	for i, msg := range m.conversation.Messages {
		if indices[i] {
			freed += msg.Meta.EstimatedTokens
			continue
		}
		kept = append(kept, msg)
	}
	m.conversation.Messages = kept
	m.conversation.ProtectedFromIndex -= preceding

	if err := validatePairIntegrity(m.conversation); err != nil {
		return 0, err
	}

	if m.evictor != nil {
		m.evictor.UpdateMessageIndices(indices)
	}
	return freed, nil
}

// --- budget & prepare ---

func (m *Manager) componentBreakdown() (map[string]int, []*Component, []*Message) {
	breakdown := make(map[string]int)
	var components []*Component
	var convMessages []*Message

	if m.systemPrompt != "" {
		breakdown["system_prompt"] = EstimateTokens(m.systemPrompt, ClassProse)
	}
	if m.instructions != "" {
		breakdown["instructions"] = EstimateTokens(m.instructions, ClassProse)
	}
	if m.featureInstructions != "" {
		breakdown["feature_instructions"] = EstimateTokens(m.featureInstructions, ClassProse)
	}

	convMessages = m.conversation.Messages
	breakdown["conversation_history"] = EstimateConversationTokens(m.conversation)

	if m.memory != nil {
		index := renderMemoryIndex(m.memory.List())
		breakdown["memory_index"] = EstimateTokens(index, ClassProse)
	}

	for _, c := range m.plugins.Components() {
		components = append(components, c)
		breakdown[c.Name] = EstimateTokens(c.Content, ClassMixed)
	}

	return breakdown, components, convMessages
}

func renderMemoryIndex(records []ListRecord) string {
	out := ""
	for _, r := range records {
		out += fmt.Sprintf("%s [%s] %s\n", r.Key, r.Tier, r.Description)
	}
	return out
}

func (m *Manager) computeBudgetLocked() Budget {
	breakdown, _, _ := m.componentBreakdown()
	return NewBudget(m.totalTokens, m.reserve, breakdown)
}

// Prepare is the central operation: the 7-step algorithm from SPEC_FULL.md
// §4.9.
func (m *Manager) Prepare(opts PrepareOptions) PrepareResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 1. protectFromCompaction
	m.conversation.Protect()

	// 2. notify Tool Result Eviction of the new iteration
	if m.evictor != nil {
		m.evictor.OnIteration()
		if m.evictor.ShouldEvict() {
			res := m.evictor.EvictOldResults()
			m.logger.Info("tool result eviction ran", "evicted", res.Evicted, "tokens_freed", res.TokensFreed)
		}
	}

	// 3 & 4. build components + compute budget
	budget := m.computeBudgetLocked()

	// 5. emit budget warnings
	switch budget.Status {
	case BudgetWarning:
		m.emit("budget:warning", budget)
	case BudgetCritical:
		m.emit("budget:critical", budget)
	}

	// 6. auto-compaction loop
	if m.autoCompact && m.strategy.ShouldCompact(budget, m.conversation.Len()) {
		budget = m.compactLocked(budget)
	}

	// 7. assemble result
	breakdown, components, convMessages := m.componentBreakdown()
	budget = NewBudget(m.totalTokens, m.reserve, breakdown)

	result := PrepareResult{Budget: budget}
	if opts.ReturnFormat == ReturnComponents {
		result.Components = components
		return result
	}

	result.LLMInput = m.assembleLLMInput(convMessages, opts.InstructionOverride)
	return result
}

func (m *Manager) assembleLLMInput(convMessages []*Message, instructionOverride string) []*Message {
	system := m.systemPrompt
	if instructionOverride != "" {
		system = instructionOverride
	}
	var out []*Message
	if system != "" {
		out = append(out, &Message{ID: "system", Role: RoleDeveloper, Parts: []ContentPart{NewInputText(system)}})
	}
	out = append(out, convMessages...)
	return out
}

// compactLocked runs the compaction passes (priority order across
// compactable components) until status returns to ok, or sources are
// exhausted. Caller must hold m.mu.
func (m *Manager) compactLocked(budget Budget) Budget {
	type compactableComponent struct {
		name     string
		priority int
	}
	var candidates []compactableComponent
	candidates = append(candidates, compactableComponent{"conversation_history", m.profile.ComponentPriority["conversation_history"]})
	if m.memory != nil {
		candidates = append(candidates, compactableComponent{"memory_index", m.profile.ComponentPriority["memory_index"]})
	}
	for _, c := range m.plugins.Components() {
		if c.Compactable {
			candidates = append(candidates, compactableComponent{c.Name, m.profile.ComponentPriority[c.Name]})
		}
	}

	// sort descending priority (higher compacts sooner), stable
	for i := 1; i < len(candidates); i++ {
		j := i
		for j > 0 && candidates[j-1].priority < candidates[j].priority {
			candidates[j-1], candidates[j] = candidates[j], candidates[j-1]
			j--
		}
	}

	totalFreed := 0
	for _, c := range candidates {
		if budget.Status == BudgetOK {
			break
		}
		var freed int
		switch c.name {
		case "conversation_history":
			res := m.compactConversationLocked()
			freed = res.TokensFreed
		case "memory_index":
			if m.memory != nil {
				removed := m.memory.Evict(4, PolicyLRU)
				freed = len(removed) * 64
			}
		default:
			freed = m.plugins.CompactByPriority(budget.Used/4, EstimateTokens)
		}
		totalFreed += freed
		budget = m.computeBudgetLocked()
	}

	if m.strategy.Adaptive != nil {
		m.strategy.Adaptive.RecordFreed(totalFreed)
	}
	return budget
}

// CompactConversationResult is returned by compactConversation.
type CompactConversationResult struct {
	RemovedCount int
	TokensFreed  int
	Log          []string
}

// CompactConversation is exported for direct testing of the 6-step
// algorithm described in SPEC_FULL.md §4.9.
func (m *Manager) CompactConversation() CompactConversationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compactConversationLocked()
}

func (m *Manager) compactConversationLocked() CompactConversationResult {
	// 1. build pair groups
	groups := pairGroups(m.conversation)

	// 2. compactableEnd = protectedFromIndex
	compactableEnd := m.conversation.ProtectedFromIndex

	// 3. determine safe indices
	indexToGroup := make(map[int]*PairGroup)
	for _, g := range groups {
		for idx := range g.Indices {
			indexToGroup[idx] = g
		}
	}

	isSafe := func(i int) bool {
		if i >= compactableEnd {
			return false
		}
		g, inGroup := indexToGroup[i]
		if !inGroup {
			return true
		}
		for idx := range g.Indices {
			if idx >= compactableEnd {
				return false
			}
		}
		return true
	}

	var safeCandidates []int
	for i := 0; i < compactableEnd; i++ {
		if isSafe(i) {
			safeCandidates = append(safeCandidates, i)
		}
	}

	// 4. target removal count = floor(safeCandidates/2), oldest first,
	// whole pair groups added atomically
	targetCount := len(safeCandidates) / 2
	removed := make(map[int]bool)
	var log []string
	for _, i := range safeCandidates {
		if len(removed) >= targetCount {
			break
		}
		if removed[i] {
			continue
		}
		if g, inGroup := indexToGroup[i]; inGroup {
			for idx := range g.Indices {
				removed[idx] = true
			}
			log = append(log, fmt.Sprintf("removed pair group %s", g.ToolUseID))
		} else {
			removed[i] = true
			log = append(log, fmt.Sprintf("removed message at index %d", i))
		}
	}

	// 5. rebuild, excluding removed; decrement protectedFromIndex
	freed, err := m.removeIndices(removed)
	if err != nil {
		m.logger.Error("compactConversation invariant check failed", "error", err)
	}

	m.emit("history:compacted", CompactConversationResult{RemovedCount: len(removed), TokensFreed: freed, Log: log})

	// 6. return
	return CompactConversationResult{RemovedCount: len(removed), TokensFreed: freed, Log: log}
}

// --- persistence ---

func (m *Manager) GetState() *PersistedState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := &PersistedState{Version: CurrentStateVersion}
	state.Core.SystemPrompt = m.systemPrompt
	state.Core.Instructions = m.instructions
	state.Core.Conversation = m.conversation.Messages
	state.Core.MessageMetadata = make(map[string]MessageMeta, len(m.conversation.Messages))
	for _, msg := range m.conversation.Messages {
		state.Core.MessageMetadata[msg.ID] = msg.Meta
	}
	if m.memory != nil {
		state.Memory = m.memory.Serialize()
	}
	state.Plugins = m.plugins.SerializeState()
	state.Config = PersistedConfig{
		MaxContextTokens: m.totalTokens,
		Strategy:         string(m.strategy.Name),
		Features: map[string]bool{
			"memory":             m.features.Memory,
			"autoSpill":          m.features.AutoSpill,
			"toolResultEviction": m.features.ToolResultEviction,
		},
	}
	return state
}

func (m *Manager) RestoreState(state *PersistedState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.systemPrompt = state.Core.SystemPrompt
	m.instructions = state.Core.Instructions
	m.conversation = &Conversation{Messages: state.Core.Conversation}
	m.conversation.Protect()
	if m.memory != nil && state.Memory != nil {
		m.memory.Restore(state.Memory)
	}
	if state.Plugins != nil {
		m.plugins.RestoreState(state.Plugins)
	}
}

func (m *Manager) Save(storage Storage, id string, metadata map[string]string) error {
	state := m.GetState()
	return storage.Save(id, state, metadata)
}

func (m *Manager) Load(storage Storage, id string) (map[string]string, error) {
	state, metadata, err := storage.Load(id)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrNotFound
	}
	m.RestoreState(state)
	return metadata, nil
}

// SetProfile selects the active task-type priority profile (explicit
// selection or the result of DetectTaskType).
func (m *Manager) SetProfile(t TaskType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = ProfileFor(t)
	if m.features.Memory {
		m.featureInstructions = m.profile.Preamble
	} else {
		m.featureInstructions = m.profile.PreambleNoMemory
	}
}

// Memory exposes the Working Memory for direct tool access (memory_search,
// memory_write, autospill_process). Returns nil when the memory feature is
// disabled.
func (m *Manager) Memory() *WorkingMemory { return m.memory }

// Idempotent exposes the Idempotency Cache. Returns nil when memory is
// disabled, since the cache is gated on the same feature flag.
func (m *Manager) Idempotent() *IdempotencyCache { return m.idempotent }

// Plugins exposes the Plugin Host for registration by callers assembling
// domain-specific components (e.g. semantic memory search).
func (m *Manager) Plugins() *PluginHost { return m.plugins }

// AutoSpillHost exposes the Auto-Spill subsystem, or nil if disabled.
func (m *Manager) AutoSpillHost() *AutoSpill { return m.spill }

// Evictor exposes the Tool Result Evictor, or nil if disabled.
func (m *Manager) Evictor() *ToolResultEvictor { return m.evictor }

// Conversation returns the live conversation (read access for tests/tools).
func (m *Manager) Conversation() *Conversation { return m.conversation }
