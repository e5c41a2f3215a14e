package resourcelock

import "testing"

func TestHasConflict(t *testing.T) {
	if !HasConflict("configure_network", "restart_network") {
		t.Fatal("configure_network should conflict with restart_network")
	}
	if HasConflict("allocate_ip", "join_party") {
		t.Fatal("allocate_ip should not conflict with join_party")
	}
}

func TestResolveStrategyNotConflictingQueues(t *testing.T) {
	first := OperationSpec{Type: "allocate_ip", Priority: 1}
	second := OperationSpec{Type: "join_party", Priority: 1}
	if got := ResolveStrategy(first, second); got != StrategyQueue {
		t.Fatalf("strategy = %s, want queue for non-conflicting ops", got)
	}
}

func TestResolveStrategySameTypeEqualPriorityQueues(t *testing.T) {
	first := OperationSpec{Type: "allocate_ip", Priority: 1}
	second := OperationSpec{Type: "allocate_ip", Priority: 1}
	if got := ResolveStrategy(first, second); got != StrategyQueue {
		t.Fatalf("strategy = %s, want queue", got)
	}
}

func TestResolveStrategyDifferingPriorityPrioritizes(t *testing.T) {
	first := OperationSpec{Type: "allocate_ip", Priority: 1}
	second := OperationSpec{Type: "allocate_ip", Priority: 2}
	if got := ResolveStrategy(first, second); got != StrategyPrioritize {
		t.Fatalf("strategy = %s, want prioritize", got)
	}

	third := OperationSpec{Type: "configure_network", Priority: 1}
	fourth := OperationSpec{Type: "restart_network", Priority: 5}
	if got := ResolveStrategy(third, fourth); got != StrategyPrioritize {
		t.Fatalf("strategy = %s, want prioritize even for conflicting different types", got)
	}
}

func TestResolveStrategyConflictingDifferentTypesEqualPriorityAborts(t *testing.T) {
	first := OperationSpec{Type: "configure_network", Priority: 1}
	second := OperationSpec{Type: "restart_network", Priority: 1}
	if got := ResolveStrategy(first, second); got != StrategyAbort {
		t.Fatalf("strategy = %s, want abort", got)
	}
}

func TestResolvePairAbortReturnsErrorWithoutRunningEither(t *testing.T) {
	r := NewResolver(New())
	ran := map[string]bool{}
	first := OperationSpec{ResourceID: "net-1", Type: "configure_network", Priority: 1, Apply: func() (any, error) { ran["first"] = true; return nil, nil }}
	second := OperationSpec{ResourceID: "net-1", Type: "restart_network", Priority: 1, Apply: func() (any, error) { ran["second"] = true; return nil, nil }}

	if _, err := r.ResolvePair(first, second); err == nil {
		t.Fatal("expected abort error")
	}
	if ran["first"] || ran["second"] {
		t.Fatalf("aborted operations should not run, ran=%v", ran)
	}
}

func TestResolvePairPrioritizeRunsOnlyTheWinner(t *testing.T) {
	r := NewResolver(New())
	ran := map[string]bool{}
	low := OperationSpec{ResourceID: "ip-1", Type: "allocate_ip", Priority: 1, Apply: func() (any, error) { ran["low"] = true; return nil, nil }}
	high := OperationSpec{ResourceID: "ip-1", Type: "allocate_ip", Priority: 5, Apply: func() (any, error) { ran["high"] = true; return nil, nil }}

	if _, err := r.ResolvePair(low, high); err != nil {
		t.Fatalf("ResolvePair: %v", err)
	}
	if ran["low"] || !ran["high"] {
		t.Fatalf("expected only the higher-priority operation to run, ran=%v", ran)
	}
}

func TestResolvePairQueueRunsBothInOrder(t *testing.T) {
	r := NewResolver(New())
	var order []string
	first := OperationSpec{ResourceID: "party-1", Type: "allocate_ip", Priority: 1, Apply: func() (any, error) { order = append(order, "first"); return nil, nil }}
	second := OperationSpec{ResourceID: "party-1", Type: "allocate_ip", Priority: 1, Apply: func() (any, error) { order = append(order, "second"); return nil, nil }}

	if _, err := r.ResolvePair(first, second); err != nil {
		t.Fatalf("ResolvePair: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v, want [first second]", order)
	}
}
