package queen

// Direction is the direction a migration is run in within a Plan.
type Direction int

const (
	// Forward applies a migration's steps.
	Forward Direction = iota
	// Backward rolls a migration's steps back.
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "rollback"
	}
	return "apply"
}

// Operation selects which kind of plan the resolver builds.
type Operation int

const (
	// OpApply plans pending migrations forward.
	OpApply Operation = iota
	// OpRollback plans applied migrations backward.
	OpRollback
	// OpReapply plans a rollback of the target set followed by a
	// re-application of the same set.
	OpReapply
	// OpMark plans an apply-shaped selection that only mutates the
	// applied-set, never running step bodies.
	OpMark
	// OpUnmark plans a rollback-shaped selection that only mutates the
	// applied-set, never running step bodies.
	OpUnmark
)

// PlanItem is one (Migration, Direction) pair in a Plan.
type PlanItem struct {
	Migration *Migration
	Direction Direction
	// MarkOnly directs the executor to mutate the applied-set without
	// running the migration's steps (produced by OpMark/OpUnmark).
	MarkOnly bool
}

// Plan is the ordered sequence of (Migration, Direction) pairs the
// resolver produces for a requested Operation.
type Plan []PlanItem

// Identities returns the plan's migration identities in order, for
// logging and test assertions.
func (p Plan) Identities() []string {
	out := make([]string, len(p))
	for i, item := range p {
		out[i] = item.Migration.Identity
	}
	return out
}
