package models

import "time"

type TaskStatus string

const (
	PendingTaskStatus    TaskStatus = "pending"
	InProgressTaskStatus TaskStatus = "in_progress"
	CompletedTaskStatus  TaskStatus = "completed"
	CancelledTaskStatus  TaskStatus = "cancelled"
)

// DependencyType describes how a task's dates are constrained by its
// predecessor.
type DependencyType string

const (
	FinishToStart  DependencyType = "FS" // successor starts after predecessor finishes
	StartToStart   DependencyType = "SS" // successor starts after predecessor starts
	FinishToFinish DependencyType = "FF" // successor finishes after predecessor finishes
	StartToFinish  DependencyType = "SF" // successor finishes after predecessor starts
)

// Task represents a single task inside a schedule. Dependency holds the id of
// the predecessor task, if any; the dependency relation restricted to non-nil
// edges must form a DAG within one schedule.
type Task struct {
	ID                 string         `json:"id" db:"id"`
	ScheduleID         int64          `json:"schedule_id" db:"schedule_id"`
	Name               string         `json:"name" db:"name"`
	Status             TaskStatus     `json:"status" db:"status"`
	Priority           int            `json:"priority" db:"priority"`
	StartDate          *time.Time     `json:"start_date,omitempty" db:"start_date"`
	EndDate            *time.Time     `json:"end_date,omitempty" db:"end_date"`
	EstimatedDays      *float64       `json:"estimated_days,omitempty" db:"estimated_days"`
	ProgressPercentage int            `json:"progress_percentage" db:"progress_percentage"`
	Dependency         *string        `json:"dependency,omitempty" db:"dependency"` // predecessor task id
	DependencyType     DependencyType `json:"dependency_type" db:"dependency_type"`
	LagDays            float64        `json:"lag_days" db:"lag_days"`
	ParentTaskID       *string        `json:"parent_task_id,omitempty" db:"parent_task_id"` // hierarchy, not a dependency
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// DurationDays derives the task's duration in days: the estimate wins, then
// the date span, then zero (an instantaneous milestone).
func (t Task) DurationDays() float64 {
	if t.EstimatedDays != nil {
		return *t.EstimatedDays
	}
	if t.StartDate != nil && t.EndDate != nil {
		return t.EndDate.Sub(*t.StartDate).Hours() / 24
	}
	return 0
}

// Schedule is the aggregate a CPM run or a cascade operates on.
type Schedule struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	ProjectID *int64    `json:"project_id,omitempty" db:"project_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	Tasks     []Task    `json:"tasks,omitempty"`
}

// TaskChange carries the mutable fields of a task edit; a nil field means
// "not provided" and leaves the stored value untouched.
type TaskChange struct {
	Name               *string         `json:"name,omitempty"`
	Status             *TaskStatus     `json:"status,omitempty"`
	Priority           *int            `json:"priority,omitempty"`
	StartDate          *time.Time      `json:"start_date,omitempty"`
	EndDate            *time.Time      `json:"end_date,omitempty"`
	EstimatedDays      *float64        `json:"estimated_days,omitempty"`
	ProgressPercentage *int            `json:"progress_percentage,omitempty"`
	Dependency         *string         `json:"dependency,omitempty"`
	DependencyType     *DependencyType `json:"dependency_type,omitempty"`
	LagDays            *float64        `json:"lag_days,omitempty"`
}

// Apply merges the change into a copy of the task and returns it.
func (c TaskChange) Apply(t Task) Task {
	if c.Name != nil {
		t.Name = *c.Name
	}
	if c.Status != nil {
		t.Status = *c.Status
	}
	if c.Priority != nil {
		t.Priority = *c.Priority
	}
	if c.StartDate != nil {
		d := *c.StartDate
		t.StartDate = &d
	}
	if c.EndDate != nil {
		d := *c.EndDate
		t.EndDate = &d
	}
	if c.EstimatedDays != nil {
		v := *c.EstimatedDays
		t.EstimatedDays = &v
	}
	if c.ProgressPercentage != nil {
		t.ProgressPercentage = *c.ProgressPercentage
	}
	if c.Dependency != nil {
		dep := *c.Dependency
		if dep == "" {
			t.Dependency = nil
		} else {
			t.Dependency = &dep
		}
	}
	if c.DependencyType != nil {
		t.DependencyType = *c.DependencyType
	}
	if c.LagDays != nil {
		t.LagDays = *c.LagDays
	}
	return t
}
