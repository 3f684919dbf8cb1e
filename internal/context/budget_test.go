package context

import "testing"

// TestBudgetStatusThresholds is Invariant 5: ok below 75%, warning in
// [75%, 90%), critical at 90% and above.
func TestBudgetStatusThresholds(t *testing.T) {
	tests := []struct {
		name       string
		utilization float64
		want       BudgetStatus
	}{
		{"well under warning", 0.10, BudgetOK},
		{"just under warning", 0.7499, BudgetOK},
		{"exactly warning threshold", 0.75, BudgetWarning},
		{"between warning and critical", 0.85, BudgetWarning},
		{"just under critical", 0.8999, BudgetWarning},
		{"exactly critical threshold", 0.90, BudgetCritical},
		{"over critical", 0.99, BudgetCritical},
		{"at capacity", 1.0, BudgetCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyStatus(tt.utilization); got != tt.want {
				t.Errorf("classifyStatus(%v) = %q, want %q", tt.utilization, got, tt.want)
			}
		})
	}
}

func TestNewBudgetComputesUtilizationOverUsedPlusReserved(t *testing.T) {
	breakdown := map[string]int{"system": 100, "history": 400}
	b := NewBudget(1000, 0.15, breakdown)

	if b.Used != 500 {
		t.Fatalf("Used = %d, want 500", b.Used)
	}
	if b.Reserved != 150 {
		t.Fatalf("Reserved = %d, want 150", b.Reserved)
	}
	if b.Available != 350 {
		t.Fatalf("Available = %d, want 350", b.Available)
	}
	wantUtil := (500.0 + 150.0) / 1000.0 * 100
	if b.UtilizationPercent != wantUtil {
		t.Fatalf("UtilizationPercent = %v, want %v", b.UtilizationPercent, wantUtil)
	}
	if b.Status != BudgetOK {
		t.Fatalf("Status = %q, want ok at 65%% utilization", b.Status)
	}
}

func TestNewBudgetZeroTotalDoesNotDivideByZero(t *testing.T) {
	b := NewBudget(0, 0.15, nil)
	if b.UtilizationPercent != 0 {
		t.Fatalf("UtilizationPercent = %v, want 0 for a zero-capacity budget", b.UtilizationPercent)
	}
	if b.Status != BudgetOK {
		t.Fatalf("Status = %q, want ok", b.Status)
	}
}
