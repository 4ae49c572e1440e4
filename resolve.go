package queen

import (
	"container/heap"
	"sort"
)

// ResolveOptions configures a single call to Resolve.
type ResolveOptions struct {
	// Operation selects which kind of plan to build.
	Operation Operation

	// Target, if non-empty, restricts the plan to this migration and its
	// transitive closure (ancestors for apply/mark, descendants for
	// rollback/unmark).
	Target string

	// Force allows a rollback/unmark of an identity present in the
	// applied-set but absent from the current migration set (a stale or
	// unknown migration). Without Force this is fatal.
	Force bool
}

// graph is the resolver's working index over one migration set: identity
// lookup, validated dependencies, and the two adjacency directions needed
// for ancestor/descendant queries.
type graph struct {
	byIdentity map[string]*Migration
	// deps[x] = identities x depends on (validated to exist)
	deps map[string][]string
	// dependents[x] = identities that declare a dependency on x
	dependents map[string][]string
}

func buildGraph(migrations []*Migration) (*graph, error) {
	g := &graph{
		byIdentity: make(map[string]*Migration, len(migrations)),
		deps:       make(map[string][]string, len(migrations)),
		dependents: make(map[string][]string, len(migrations)),
	}

	for _, m := range migrations {
		if m.Identity == PostApplyIdentity {
			continue
		}
		if _, dup := g.byIdentity[m.Identity]; dup {
			return nil, newResolutionError("duplicate migration identity: " + m.Identity)
		}
		g.byIdentity[m.Identity] = m
	}

	for identity, m := range g.byIdentity {
		for _, dep := range m.Depends {
			if _, ok := g.byIdentity[dep]; !ok {
				return nil, newResolutionError("migration " + identity + " depends on unknown migration " + dep)
			}
			g.deps[identity] = append(g.deps[identity], dep)
			g.dependents[dep] = append(g.dependents[dep], identity)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, newCycleError(cycle)
	}

	return g, nil
}

// findCycle runs a three-color DFS and returns the identities forming a
// cycle, or nil if the graph is acyclic.
func (g *graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.byIdentity))
	var stack []string
	var cycle []string

	identities := g.sortedIdentities()

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)

		for _, dep := range g.deps[id] {
			switch color[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				// Found the cycle: the portion of stack from dep's
				// first occurrence onward.
				for i, s := range stack {
					if s == dep {
						cycle = append([]string{}, stack[i:]...)
						cycle = append(cycle, dep)
						break
					}
				}
				return true
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range identities {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

func (g *graph) sortedIdentities() []string {
	out := make([]string, 0, len(g.byIdentity))
	for id := range g.byIdentity {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ancestors returns the transitive closure of identity's dependencies:
// everything that must be applied before identity.
func (g *graph) ancestors(identity string) map[string]bool {
	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		for _, dep := range g.deps[id] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(identity)
	return seen
}

// descendants returns the transitive closure of identity's dependents:
// everything that must be rolled back before identity.
func (g *graph) descendants(identity string) map[string]bool {
	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		for _, dep := range g.dependents[id] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(identity)
	return seen
}

// identityHeap is a min-heap of identities, used to give Kahn's algorithm a
// deterministic, lexicographically-tie-broken ready queue.
type identityHeap []string

func (h identityHeap) Len() int            { return len(h) }
func (h identityHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h identityHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *identityHeap) Push(x interface{}) { *h = append(*h, x.(string)) }
func (h *identityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// topoOrder returns every migration in g in forward topological order,
// breaking ties by lexicographically smallest identity.
func (g *graph) topoOrder() ([]*Migration, error) {
	indegree := make(map[string]int, len(g.byIdentity))
	for id := range g.byIdentity {
		indegree[id] = len(g.deps[id])
	}

	ready := &identityHeap{}
	for _, id := range g.sortedIdentities() {
		if indegree[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]*Migration, 0, len(g.byIdentity))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, g.byIdentity[id])

		dependents := append([]string{}, g.dependents[id]...)
		sort.Strings(dependents)
		for _, dep := range dependents {
			indegree[dep]--
			if indegree[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}

	if len(order) != len(g.byIdentity) {
		// buildGraph already rejects cycles, so this should not happen;
		// guard against it defensively rather than return a partial plan.
		return nil, newResolutionError("dependency graph did not resolve completely")
	}

	return order, nil
}

// Resolve builds a Plan for the given operation over migrations and the
// applied-set read from the backend.
func Resolve(migrations []*Migration, applied map[string]Applied, opts ResolveOptions) (Plan, error) {
	g, err := buildGraph(migrations)
	if err != nil {
		return nil, err
	}

	// An applied migration whose dependency is not applied (the applied-set
	// was changed by hand) is fatal rather than planned around.
	for id := range applied {
		for _, dep := range g.deps[id] {
			if _, ok := applied[dep]; !ok {
				return nil, newResolutionError("applied migration " + id + " depends on " + dep + ", which is not applied")
			}
		}
	}

	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}

	var target *Migration
	if opts.Target != "" {
		target = g.byIdentity[opts.Target]
		if target == nil {
			if _, stale := applied[opts.Target]; stale && (opts.Operation == OpRollback || opts.Operation == OpUnmark) {
				return resolveStaleTarget(opts)
			}
			return nil, newResolutionError("unknown target migration: " + opts.Target)
		}
	}

	switch opts.Operation {
	case OpApply, OpMark:
		return resolveForwardLike(g, order, applied, opts, target)
	case OpRollback, OpUnmark:
		return resolveBackwardLike(g, order, applied, opts, target)
	case OpReapply:
		return resolveReapply(g, order, applied, opts, target)
	default:
		return nil, newResolutionError("unknown operation")
	}
}

// resolveStaleTarget handles a rollback/unmark request naming an identity
// present in the applied-set but absent from the current migration set.
// Without Force this is always fatal; with Force, the only safe action is
// to mutate the applied-set without running any step body, since no
// definition is available to execute.
func resolveStaleTarget(opts ResolveOptions) (Plan, error) {
	if !opts.Force {
		return nil, newResolutionError("rollback target " + opts.Target + " is applied but its definition is unavailable; pass Force to unrecord it without running its rollback")
	}
	stub := &Migration{Identity: opts.Target}
	return Plan{{Migration: stub, Direction: Backward, MarkOnly: true}}, nil
}

func restrictedForward(g *graph, target *Migration) map[string]bool {
	if target == nil {
		return nil // nil means "no restriction"
	}
	set := g.ancestors(target.Identity)
	set[target.Identity] = true
	return set
}

func restrictedBackward(g *graph, target *Migration) map[string]bool {
	if target == nil {
		return nil
	}
	set := g.descendants(target.Identity)
	set[target.Identity] = true
	return set
}

func resolveForwardLike(g *graph, order []*Migration, applied map[string]Applied, opts ResolveOptions, target *Migration) (Plan, error) {
	restrict := restrictedForward(g, target)

	plan := make(Plan, 0, len(order))
	for _, m := range order {
		if restrict != nil && !restrict[m.Identity] {
			continue
		}
		if _, done := applied[m.Identity]; done {
			continue
		}
		plan = append(plan, PlanItem{
			Migration: m,
			Direction: Forward,
			MarkOnly:  opts.Operation == OpMark,
		})
	}
	return plan, nil
}

func resolveBackwardLike(g *graph, order []*Migration, applied map[string]Applied, opts ResolveOptions, target *Migration) (Plan, error) {
	restrict := restrictedBackward(g, target)

	var candidates []*Migration
	for _, m := range order {
		if restrict != nil && !restrict[m.Identity] {
			continue
		}
		if _, done := applied[m.Identity]; !done {
			continue
		}
		candidates = append(candidates, m)
	}

	plan := make(Plan, 0, len(candidates))
	for i := len(candidates) - 1; i >= 0; i-- {
		plan = append(plan, PlanItem{
			Migration: candidates[i],
			Direction: Backward,
			MarkOnly:  opts.Operation == OpUnmark,
		})
	}
	return plan, nil
}

// resolveReapply composes backward(plan) then forward(plan) over the same
// restricted set: the identities currently applied within
// the target's ancestor closure (or the whole applied-set with no
// target), rolled back in reverse topological order and then re-applied
// in forward order.
func resolveReapply(g *graph, order []*Migration, applied map[string]Applied, opts ResolveOptions, target *Migration) (Plan, error) {
	restrict := restrictedForward(g, target)

	var set []*Migration
	for _, m := range order {
		if restrict != nil && !restrict[m.Identity] {
			continue
		}
		if _, done := applied[m.Identity]; !done {
			continue
		}
		set = append(set, m)
	}

	plan := make(Plan, 0, len(set)*2)
	for i := len(set) - 1; i >= 0; i-- {
		plan = append(plan, PlanItem{Migration: set[i], Direction: Backward})
	}
	for _, m := range set {
		plan = append(plan, PlanItem{Migration: m, Direction: Forward})
	}
	return plan, nil
}
