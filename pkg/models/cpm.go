package models

// TaskTiming holds the computed CPM values for a single task, in
// schedule-relative day units.
type TaskTiming struct {
	TaskID        string  `json:"task_id"`
	Duration      float64 `json:"duration"`
	EarliestStart float64 `json:"earliest_start"`
	EarliestEnd   float64 `json:"earliest_end"`
	LatestStart   float64 `json:"latest_start"`
	LatestEnd     float64 `json:"latest_end"`
	TotalFloat    float64 `json:"total_float"`
	FreeFloat     float64 `json:"free_float"`
	IsCritical    bool    `json:"is_critical"`
}

// CriticalPathResult is the full output of a CPM run. It is always a derived
// view of the current task set and is never persisted.
type CriticalPathResult struct {
	ScheduleID      int64                  `json:"schedule_id"`
	Timings         map[string]*TaskTiming `json:"timings"`
	CriticalPath    []string               `json:"critical_path"` // task ids in topological order
	ProjectDuration float64                `json:"project_duration"`
}
