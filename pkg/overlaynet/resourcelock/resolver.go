package resourcelock

import "fmt"

// conflictingOps mirrors the operation-type conflict table: an entry
// op -> set means op conflicts with every operation type in that set.
var conflictingOps = map[string]map[string]bool{
	"configure_network": {"configure_network": true, "restart_network": true},
	"restart_network":   {"configure_network": true, "restart_network": true},
	"allocate_ip":       {"allocate_ip": true},
	"join_party":        {"leave_party": true},
	"leave_party":       {"join_party": true},
}

// HasConflict reports whether two operation types conflict.
func HasConflict(firstType, secondType string) bool {
	return conflictingOps[firstType][secondType]
}

// Strategy is a conflict resolution decision.
type Strategy string

const (
	StrategyQueue      Strategy = "queue"
	StrategyAbort      Strategy = "abort"
	StrategyPrioritize Strategy = "prioritize"
	StrategyMerge      Strategy = "merge"
)

// Priority orders operations for Prioritize decisions; higher wins.
type Priority int

// OperationSpec is an operation submitted for conflict resolution.
type OperationSpec struct {
	ResourceID string
	Type       string
	Priority   Priority
	Apply      func() (any, error)
	Rollback   func(result any) error
}

// ResolveStrategy chooses a resolution strategy for a pair of operations:
//   - not conflicting -> Queue
//   - same type, equal priority -> Queue
//   - differing priority -> Prioritize
//   - conflicting, different types, equal priority -> Abort
func ResolveStrategy(first, second OperationSpec) Strategy {
	if !HasConflict(first.Type, second.Type) {
		return StrategyQueue
	}
	if first.Type == second.Type {
		if first.Priority != second.Priority {
			return StrategyPrioritize
		}
		return StrategyQueue
	}
	if first.Priority != second.Priority {
		return StrategyPrioritize
	}
	return StrategyAbort
}

// Resolver layers conflict detection and resolution on top of a Locker.
type Resolver struct {
	locker *Locker
}

// NewResolver creates a Resolver backed by locker.
func NewResolver(locker *Locker) *Resolver {
	return &Resolver{locker: locker}
}

func toOperation(spec OperationSpec) Operation {
	return Operation{ResourceID: spec.ResourceID, Apply: spec.Apply, Rollback: spec.Rollback}
}

// ResolvePair resolves and executes a pair of operations according to
// ResolveStrategy. Abort returns an error without running either
// operation. Prioritize runs only the higher-priority operation. Queue
// and Merge both run sequentially under the lock manager, first then
// second.
func (r *Resolver) ResolvePair(first, second OperationSpec) ([]any, error) {
	switch ResolveStrategy(first, second) {
	case StrategyAbort:
		return nil, fmt.Errorf("%w: conflicting operations %s vs %s", ErrOperationAborted, first.Type, second.Type)

	case StrategyPrioritize:
		chosen := first
		if second.Priority > first.Priority {
			chosen = second
		}
		return r.locker.ExecuteAtomic([]Operation{toOperation(chosen)})

	default:
		return r.locker.ExecuteAtomic([]Operation{toOperation(first), toOperation(second)})
	}
}
