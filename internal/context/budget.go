package context

// BudgetStatus classifies current utilization against the fixed 75%/90%
// thresholds from SPEC_FULL.md §3.
type BudgetStatus string

const (
	BudgetOK       BudgetStatus = "ok"
	BudgetWarning  BudgetStatus = "warning"
	BudgetCritical BudgetStatus = "critical"
)

const (
	warningThreshold  = 0.75
	criticalThreshold = 0.90
)

// Budget is the token accounting snapshot produced on every prepare() call.
type Budget struct {
	Total             int            `json:"total"`
	Reserved          int            `json:"reserved"`
	Used              int            `json:"used"`
	Available         int            `json:"available"`
	UtilizationPercent float64       `json:"utilization_percent"`
	Status            BudgetStatus   `json:"status"`
	Breakdown         map[string]int `json:"breakdown"`
}

// DefaultResponseReserve is the fraction of total reserved for the model's
// response, held out of the usable budget.
const DefaultResponseReserve = 0.15

// NewBudget derives a Budget from a total token capacity, a response
// reserve fraction, and a per-component usage breakdown. utilization is
// computed over (used+reserved)/total per spec.md §3.
func NewBudget(total int, responseReserve float64, breakdown map[string]int) Budget {
	used := 0
	for _, v := range breakdown {
		used += v
	}
	reserved := int(float64(total) * responseReserve)
	available := total - used - reserved
	var utilization float64
	if total > 0 {
		utilization = float64(used+reserved) / float64(total)
	}
	return Budget{
		Total:              total,
		Reserved:           reserved,
		Used:               used,
		Available:          available,
		UtilizationPercent: utilization * 100,
		Status:             classifyStatus(utilization),
		Breakdown:          breakdown,
	}
}

// classifyStatus implements invariant 5: ok < 75% <= warning < 90% <= critical.
func classifyStatus(utilization float64) BudgetStatus {
	switch {
	case utilization >= criticalThreshold:
		return BudgetCritical
	case utilization >= warningThreshold:
		return BudgetWarning
	default:
		return BudgetOK
	}
}
