package agent

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// Mode is one of the three top-level agent modes.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModePlanning    Mode = "planning"
	ModeExecuting   Mode = "executing"
)

// SubState layers {paused, pendingPlanApproval} onto the top-level Mode.
type SubState string

const (
	SubStateNone                SubState = ""
	SubStatePaused              SubState = "paused"
	SubStatePendingPlanApproval SubState = "pendingPlanApproval"
)

// Intent classifies a user message for mode recommendation purposes.
type Intent string

const (
	IntentSimple      Intent = "simple"
	IntentComplex     Intent = "complex"
	IntentApproval    Intent = "approval"
	IntentRejection   Intent = "rejection"
	IntentStatusQuery Intent = "status_query"
	IntentInterrupt   Intent = "interrupt"
	IntentFeedback    Intent = "feedback"
	IntentPlanModify  Intent = "plan_modify"
)

var (
	approvalRegex    = regexp.MustCompile(`(?i)^\s*(yes|approve|go ahead|looks good|lgtm|confirmed?)\b`)
	rejectionRegex   = regexp.MustCompile(`(?i)^\s*(no|reject|stop|don'?t|cancel)\b`)
	statusQueryRegex = regexp.MustCompile(`(?i)\b(status|progress|how'?s it going|where are we)\b`)
	interruptRegex   = regexp.MustCompile(`(?i)\b(stop|abort|pause|wait|hold on)\b`)
	planModifyRegex  = regexp.MustCompile(`(?i)\b(instead|change the plan|add a step|remove (the )?step|modify the plan)\b`)
	complexRegex     = regexp.MustCompile(`(?i)\b(plan|multi-?step|first.*then|design|architect|build a|implement a full)\b`)
)

// ClassifyIntent is a pure function of the input string, per Testable
// Property 8. Grounded on the teacher's routing.HeuristicClassifier regex
// tagging idiom, generalized from content tags into the Mode Manager's
// intent taxonomy.
func ClassifyIntent(input string) Intent {
	trimmed := strings.TrimSpace(input)
	switch {
	case approvalRegex.MatchString(trimmed):
		return IntentApproval
	case rejectionRegex.MatchString(trimmed):
		return IntentRejection
	case interruptRegex.MatchString(trimmed):
		return IntentInterrupt
	case statusQueryRegex.MatchString(trimmed):
		return IntentStatusQuery
	case planModifyRegex.MatchString(trimmed):
		return IntentPlanModify
	case complexRegex.MatchString(trimmed):
		return IntentComplex
	case len(trimmed) == 0:
		return IntentSimple
	default:
		return IntentFeedback
	}
}

// TransitionRecord is one entry in the Mode Manager's retained history.
type TransitionRecord struct {
	From      Mode
	To        Mode
	SubState  SubState
	Action    string
	Timestamp time.Time
}

// ModeManager is the finite state machine over {interactive, planning,
// executing} with sub-states {paused, pendingPlanApproval}. Grounded on
// the status-enum transition idiom the teacher used for per-agent
// orchestration status (active/waiting/handed_off/complete/error),
// generalized into the single-agent mode lifecycle this spec names.
type ModeManager struct {
	mu       sync.Mutex
	mode     Mode
	subState SubState
	history  []TransitionRecord
}

func NewModeManager() *ModeManager {
	return &ModeManager{mode: ModeInteractive}
}

func (mm *ModeManager) Mode() Mode {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.mode
}

func (mm *ModeManager) SubState() SubState {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.subState
}

func (mm *ModeManager) record(action string, to Mode) {
	mm.history = append(mm.history, TransitionRecord{
		From: mm.mode, To: to, SubState: mm.subState, Action: action, Timestamp: time.Now(),
	})
	mm.mode = to
}

func (mm *ModeManager) EnterPlanning() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.subState = SubStateNone
	mm.record("enterPlanning", ModePlanning)
}

func (mm *ModeManager) SetPendingPlan() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.subState = SubStatePendingPlanApproval
	mm.history = append(mm.history, TransitionRecord{From: mm.mode, To: mm.mode, SubState: mm.subState, Action: "setPendingPlan", Timestamp: time.Now()})
}

func (mm *ModeManager) ApprovePlan() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.subState = SubStateNone
	mm.record("approvePlan", ModeExecuting)
}

func (mm *ModeManager) EnterExecuting() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.subState = SubStateNone
	mm.record("enterExecuting", ModeExecuting)
}

func (mm *ModeManager) PauseExecution() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.subState = SubStatePaused
	mm.history = append(mm.history, TransitionRecord{From: mm.mode, To: mm.mode, SubState: mm.subState, Action: "pauseExecution", Timestamp: time.Now()})
}

func (mm *ModeManager) ResumeExecution() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.subState = SubStateNone
	mm.history = append(mm.history, TransitionRecord{From: mm.mode, To: mm.mode, SubState: mm.subState, Action: "resumeExecution", Timestamp: time.Now()})
}

func (mm *ModeManager) ReturnToInteractive() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.subState = SubStateNone
	mm.record("returnToInteractive", ModeInteractive)
}

func (mm *ModeManager) History() []TransitionRecord {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	out := make([]TransitionRecord, len(mm.history))
	copy(out, mm.history)
	return out
}

// RecommendMode returns the suggested next mode from a classified intent
// and the current plan (nil if none). Ties default to staying in the
// current mode.
func (mm *ModeManager) RecommendMode(intent Intent, currentPlan *Plan) Mode {
	mm.mu.Lock()
	current := mm.mode
	mm.mu.Unlock()

	switch intent {
	case IntentComplex:
		return ModePlanning
	case IntentApproval:
		if current == ModePlanning {
			return ModeExecuting
		}
		return current
	case IntentRejection:
		if current == ModePlanning {
			return ModeInteractive
		}
		return current
	case IntentInterrupt:
		return current
	case IntentStatusQuery:
		return current
	case IntentPlanModify:
		if currentPlan != nil {
			return ModePlanning
		}
		return current
	default:
		return current
	}
}
