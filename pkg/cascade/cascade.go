// Package cascade propagates a dated change through a task's downstream
// dependency graph. Planning is pure: it returns the set of shifts to apply,
// and the caller writes them in the same transaction as the original edit.
package cascade

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/velkov/planflow/pkg/models"
)

// Change records one task whose dates were shifted as a side effect of the
// original edit.
type Change struct {
	TaskID   string     `json:"task_id"`
	OldStart *time.Time `json:"old_start,omitempty"`
	OldEnd   *time.Time `json:"old_end,omitempty"`
	NewStart *time.Time `json:"new_start,omitempty"`
	NewEnd   *time.Time `json:"new_end,omitempty"`
}

func days(d float64) time.Duration {
	return time.Duration(d * 24 * float64(time.Hour))
}

// Plan walks the successors of the changed task breadth-first and computes
// the date shifts its new dates force on them. The changed task must already
// carry its new dates. Successors whose float absorbs the change are left
// untouched. maxAffected caps the cascade; zero or negative means the
// schedule's task count.
func Plan(tasks []models.Task, changed models.Task, maxAffected int) ([]Change, error) {
	if maxAffected <= 0 {
		maxAffected = len(tasks)
	}

	current := make(map[string]models.Task, len(tasks))
	for _, t := range tasks {
		current[t.ID] = t
	}
	current[changed.ID] = changed

	succ := make(map[string][]string)
	for _, t := range tasks {
		if t.Dependency != nil {
			succ[*t.Dependency] = append(succ[*t.Dependency], t.ID)
		}
	}
	for id := range succ {
		sort.Strings(succ[id])
	}

	var changes []Change
	visited := map[string]bool{changed.ID: true}
	queue := append([]string(nil), succ[changed.ID]...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		t := current[id]
		pred, ok := current[*t.Dependency]
		if !ok {
			continue
		}
		required, ok := requiredStart(pred, t)
		if !ok || t.StartDate == nil {
			// undated tasks cannot be shifted
			continue
		}
		if !required.After(*t.StartDate) {
			// existing float absorbs the change, cascade stops here
			continue
		}

		delta := required.Sub(*t.StartDate)
		ch := Change{TaskID: id, OldStart: t.StartDate, OldEnd: t.EndDate}
		newStart := t.StartDate.Add(delta)
		t.StartDate = &newStart
		if t.EndDate != nil {
			newEnd := t.EndDate.Add(delta)
			t.EndDate = &newEnd
		}
		ch.NewStart = t.StartDate
		ch.NewEnd = t.EndDate
		current[id] = t
		changes = append(changes, ch)

		if len(changes) > maxAffected {
			return nil, errors.Errorf("cascade from task %q exceeded %d affected tasks", changed.ID, maxAffected)
		}
		queue = append(queue, succ[id]...)
	}
	return changes, nil
}

// requiredStart computes the earliest start the predecessor's dates allow for
// the successor, per its dependency type and lag. The second return is false
// when the predecessor lacks the date the constraint needs.
func requiredStart(pred, s models.Task) (time.Time, bool) {
	lag := days(s.LagDays)
	dur := days(s.DurationDays())
	switch s.DependencyType {
	case models.StartToStart:
		if pred.StartDate == nil {
			return time.Time{}, false
		}
		return pred.StartDate.Add(lag), true
	case models.FinishToFinish:
		if pred.EndDate == nil {
			return time.Time{}, false
		}
		return pred.EndDate.Add(lag).Add(-dur), true
	case models.StartToFinish:
		if pred.StartDate == nil {
			return time.Time{}, false
		}
		return pred.StartDate.Add(lag).Add(-dur), true
	default: // FS
		if pred.EndDate == nil {
			return time.Time{}, false
		}
		return pred.EndDate.Add(lag), true
	}
}
