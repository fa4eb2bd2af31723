// Package cpm implements the Critical Path Method over a schedule's task
// dependency graph. Solving is a pure, read-only computation: results are a
// derived view of the task set and are never persisted.
package cpm

import (
	"math"
	"sort"

	"github.com/velkov/planflow/pkg/models"
)

// epsilon tolerates fractional-day durations when testing float for zero.
const epsilon = 1e-6

// Solve computes ES/EF/LS/LF, float and the critical path for every task of
// one schedule. A dependency cycle fails with CyclicDependencyError naming
// one offending edge. Tasks without a resolvable duration count as zero-day
// milestones.
func Solve(scheduleID int64, tasks []models.Task) (*models.CriticalPathResult, error) {
	byID := make(map[string]models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	// Successor adjacency from the single-predecessor dependency field.
	// Dangling predecessors are ignored rather than rejected.
	succ := make(map[string][]string)
	for _, t := range tasks {
		if t.Dependency == nil {
			continue
		}
		if _, ok := byID[*t.Dependency]; !ok {
			continue
		}
		succ[*t.Dependency] = append(succ[*t.Dependency], t.ID)
	}
	for id := range succ {
		sort.Strings(succ[id])
	}

	order, err := topoSort(tasks, byID, succ)
	if err != nil {
		return nil, err
	}

	result := &models.CriticalPathResult{
		ScheduleID: scheduleID,
		Timings:    make(map[string]*models.TaskTiming, len(tasks)),
	}
	durations := make(map[string]float64, len(tasks))
	for _, t := range tasks {
		durations[t.ID] = t.DurationDays()
		result.Timings[t.ID] = &models.TaskTiming{TaskID: t.ID, Duration: durations[t.ID]}
	}

	// Forward pass
	for _, id := range order {
		t := byID[id]
		tm := result.Timings[id]
		dur := durations[id]
		es := 0.0
		if t.Dependency != nil {
			if pred, ok := result.Timings[*t.Dependency]; ok {
				switch t.DependencyType {
				case models.StartToStart:
					es = pred.EarliestStart + t.LagDays
				case models.FinishToFinish:
					es = pred.EarliestEnd + t.LagDays - dur
				case models.StartToFinish:
					es = pred.EarliestStart + t.LagDays - dur
				default: // FS
					es = pred.EarliestEnd + t.LagDays
				}
			}
		}
		if es < 0 {
			es = 0
		}
		tm.EarliestStart = es
		tm.EarliestEnd = es + dur
	}

	projectDuration := 0.0
	for _, tm := range result.Timings {
		if tm.EarliestEnd > projectDuration {
			projectDuration = tm.EarliestEnd
		}
	}
	result.ProjectDuration = projectDuration

	// Backward pass, in reverse topological order. A successor constrains its
	// predecessor's latest dates according to the successor's dependency type.
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		tm := result.Timings[id]
		dur := durations[id]
		lf := math.Inf(1)
		for _, sid := range succ[id] {
			st := byID[sid]
			stm := result.Timings[sid]
			var bound float64
			switch st.DependencyType {
			case models.StartToStart:
				bound = stm.LatestStart - st.LagDays + dur
			case models.FinishToFinish:
				bound = stm.LatestEnd - st.LagDays
			case models.StartToFinish:
				bound = stm.LatestEnd - st.LagDays + dur
			default: // FS
				bound = stm.LatestStart - st.LagDays
			}
			if bound < lf {
				lf = bound
			}
		}
		if math.IsInf(lf, 1) {
			lf = projectDuration
		}
		tm.LatestEnd = lf
		tm.LatestStart = lf - dur
		tm.TotalFloat = tm.LatestStart - tm.EarliestStart
		tm.IsCritical = math.Abs(tm.TotalFloat) < epsilon
	}

	// Free float: how far a task can slip without delaying any immediate
	// successor's earliest dates.
	for _, id := range order {
		tm := result.Timings[id]
		ff := projectDuration - tm.EarliestEnd
		for _, sid := range succ[id] {
			st := byID[sid]
			stm := result.Timings[sid]
			var slack float64
			switch st.DependencyType {
			case models.StartToStart:
				slack = stm.EarliestStart - st.LagDays - tm.EarliestStart
			case models.FinishToFinish:
				slack = stm.EarliestEnd - st.LagDays - tm.EarliestEnd
			case models.StartToFinish:
				slack = stm.EarliestEnd - st.LagDays - tm.EarliestStart
			default: // FS
				slack = stm.EarliestStart - st.LagDays - tm.EarliestEnd
			}
			if slack < ff {
				ff = slack
			}
		}
		if ff < 0 {
			ff = 0
		}
		tm.FreeFloat = ff
	}

	for _, id := range order {
		if result.Timings[id].IsCritical {
			result.CriticalPath = append(result.CriticalPath, id)
		}
	}
	return result, nil
}

// topoSort runs Kahn's algorithm over the dependency edges. When a cycle
// blocks the sort, one edge inside the cycle is reported.
func topoSort(tasks []models.Task, byID map[string]models.Task, succ map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(tasks))
	for _, t := range tasks {
		if t.Dependency != nil {
			if _, ok := byID[*t.Dependency]; ok {
				inDegree[t.ID] = 1
				continue
			}
		}
		inDegree[t.ID] = 0
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var ready []string
		for _, sid := range succ[id] {
			inDegree[sid]--
			if inDegree[sid] == 0 {
				ready = append(ready, sid)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(order) != len(tasks) {
		sorted := make(map[string]struct{}, len(order))
		for _, id := range order {
			sorted[id] = struct{}{}
		}
		var stuck []string
		for _, t := range tasks {
			if _, ok := sorted[t.ID]; !ok {
				stuck = append(stuck, t.ID)
			}
		}
		sort.Strings(stuck)
		for _, id := range stuck {
			t := byID[id]
			if t.Dependency != nil {
				if _, ok := sorted[*t.Dependency]; !ok {
					return nil, &models.CyclicDependencyError{TaskID: t.ID, DependsOn: *t.Dependency}
				}
			}
		}
		// unreachable with single-predecessor edges, kept as a guard
		return nil, &models.CyclicDependencyError{TaskID: stuck[0]}
	}
	return order, nil
}
