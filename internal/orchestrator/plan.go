// internal/orchestrator/plan.go
package orchestrator

import (
	"fmt"
	"sort"

	"github.com/xanthous9/intentflow/api/schemas"
	"github.com/xanthous9/intentflow/internal/intent"
)

// BuildPlan maps every sub-intent to actions and wires the dependency graph:
// within a sub-intent each action depends on its predecessor; across
// sub-intents, a declared dependency draws an edge from the dependency's
// last action to every action of the dependent. The graph is verified
// acyclic before the plan is returned.
func BuildPlan(in *schemas.Intent, mapper *intent.Mapper) (*schemas.ExecutionPlan, error) {
	plan := schemas.NewExecutionPlan(in.ID)
	subActions := make(map[string][]*schemas.Action, len(in.SubIntents))

	for i := range in.SubIntents {
		sub := &in.SubIntents[i]
		actions := mapper.MapSubIntent(sub, in)
		for j, a := range actions {
			if _, dup := plan.Actions[a.ID]; dup {
				return nil, fmt.Errorf("duplicate action ID %q from sub-intent %q", a.ID, sub.ID)
			}
			plan.AddAction(a)
			if j > 0 {
				prev := actions[j-1]
				plan.AddEdge(prev.ID, a.ID)
				a.Dependencies = append(a.Dependencies, prev.ID)
			}
		}
		subActions[sub.ID] = actions
		for _, a := range actions {
			plan.SubIntentActions[sub.ID] = append(plan.SubIntentActions[sub.ID], a.ID)
		}
	}

	for i := range in.SubIntents {
		sub := &in.SubIntents[i]
		for _, depID := range sub.Dependencies {
			depActions := subActions[depID]
			if len(depActions) == 0 {
				continue // dependency mapped to nothing actionable
			}
			last := depActions[len(depActions)-1]
			for _, a := range subActions[sub.ID] {
				plan.AddEdge(last.ID, a.ID)
				a.Dependencies = append(a.Dependencies, last.ID)
			}
		}
	}

	if node, ok := findCycle(plan); ok {
		return nil, fmt.Errorf("%w: involving action %q", schemas.ErrDependencyCycle, node)
	}
	return plan, nil
}

// findCycle runs an iterative-enough DFS with visited and recursion-stack
// sets, returning one node on the offending cycle.
func findCycle(plan *schemas.ExecutionPlan) (string, bool) {
	const (
		unvisited = iota
		inStack
		done
	)
	state := make(map[string]int, len(plan.Actions))

	var offender string
	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		for _, next := range plan.Edges[id] {
			switch state[next] {
			case inStack:
				offender = next
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		state[id] = done
		return false
	}

	for _, id := range plan.Order {
		if state[id] == unvisited && visit(id) {
			return offender, true
		}
	}
	return "", false
}

// ParallelGroups schedules the plan into sequential groups: Kahn-style
// topological generations, then within each generation one read-only group
// that may fan out, followed by one single-action group per state-mutating
// action. Group membership is sorted so runs are reproducible.
func ParallelGroups(plan *schemas.ExecutionPlan) ([][]string, error) {
	indegree := make(map[string]int, len(plan.Actions))
	for id := range plan.Actions {
		indegree[id] = 0
	}
	for _, dependents := range plan.Edges {
		for _, d := range dependents {
			indegree[d]++
		}
	}

	var ready []string
	for _, id := range plan.Order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var groups [][]string
	scheduled := 0
	for len(ready) > 0 {
		sort.Strings(ready)

		var readOnly, mutating []string
		for _, id := range ready {
			a := plan.Actions[id]
			if a.CanParallel && !a.Type.IsStateMutating() {
				readOnly = append(readOnly, id)
			} else {
				mutating = append(mutating, id)
			}
		}
		if len(readOnly) > 0 {
			groups = append(groups, readOnly)
		}
		for _, id := range mutating {
			groups = append(groups, []string{id})
		}
		scheduled += len(ready)

		var next []string
		for _, id := range ready {
			for _, dep := range plan.Edges[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = next
	}

	if scheduled != len(plan.Actions) {
		return nil, fmt.Errorf("%w: %d actions unreachable", schemas.ErrDependencyCycle, len(plan.Actions)-scheduled)
	}
	return groups, nil
}
