package cascade_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velkov/planflow/pkg/cascade"
	"github.com/velkov/planflow/pkg/models"
)

func date(day int) *time.Time {
	d := time.Date(2026, time.January, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func datedTask(id string, start, end int, dep string, depType models.DependencyType, lag float64) models.Task {
	t := models.Task{
		ID:             id,
		ScheduleID:     1,
		Name:           id,
		Status:         models.PendingTaskStatus,
		StartDate:      date(start),
		EndDate:        date(end),
		DependencyType: depType,
		LagDays:        lag,
	}
	if dep != "" {
		t.Dependency = &dep
	}
	return t
}

func TestPlan_ChainShift(t *testing.T) {
	tasks := []models.Task{
		datedTask("A", 1, 4, "", models.FinishToStart, 0),
		datedTask("B", 4, 6, "A", models.FinishToStart, 0),
		datedTask("C", 6, 10, "B", models.FinishToStart, 0),
	}

	// A slips two days
	changed := tasks[0]
	changed.EndDate = date(6)

	changes, err := cascade.Plan(tasks, changed, 0)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, "B", changes[0].TaskID)
	assert.Equal(t, *date(6), *changes[0].NewStart)
	assert.Equal(t, *date(8), *changes[0].NewEnd)

	assert.Equal(t, "C", changes[1].TaskID)
	assert.Equal(t, *date(8), *changes[1].NewStart)
	assert.Equal(t, *date(12), *changes[1].NewEnd)

	// durations are preserved
	for _, ch := range changes {
		assert.Equal(t, ch.OldEnd.Sub(*ch.OldStart), ch.NewEnd.Sub(*ch.NewStart))
	}
}

func TestPlan_FloatAbsorbsShift(t *testing.T) {
	tasks := []models.Task{
		datedTask("A", 1, 4, "", models.FinishToStart, 0),
		// B starts four days after A finishes, plenty of slack
		datedTask("B", 8, 10, "A", models.FinishToStart, 0),
	}

	changed := tasks[0]
	changed.EndDate = date(6)

	changes, err := cascade.Plan(tasks, changed, 0)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestPlan_EarlierFinishDoesNotPullSuccessors(t *testing.T) {
	tasks := []models.Task{
		datedTask("A", 1, 4, "", models.FinishToStart, 0),
		datedTask("B", 4, 6, "A", models.FinishToStart, 0),
	}

	changed := tasks[0]
	changed.EndDate = date(2)

	changes, err := cascade.Plan(tasks, changed, 0)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestPlan_StartToStartWithLag(t *testing.T) {
	tasks := []models.Task{
		datedTask("A", 1, 4, "", models.FinishToStart, 0),
		datedTask("B", 2, 5, "A", models.StartToStart, 1),
	}

	changed := tasks[0]
	changed.StartDate = date(3)
	changed.EndDate = date(6)

	changes, err := cascade.Plan(tasks, changed, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, *date(4), *changes[0].NewStart)
	assert.Equal(t, *date(7), *changes[0].NewEnd)
}

func TestPlan_UndatedSuccessorStopsCascade(t *testing.T) {
	undated := models.Task{ID: "B", ScheduleID: 1, Name: "B", Status: models.PendingTaskStatus, DependencyType: models.FinishToStart}
	dep := "A"
	undated.Dependency = &dep

	tasks := []models.Task{
		datedTask("A", 1, 4, "", models.FinishToStart, 0),
		undated,
		datedTask("C", 4, 6, "B", models.FinishToStart, 0),
	}

	changed := tasks[0]
	changed.EndDate = date(6)

	changes, err := cascade.Plan(tasks, changed, 0)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestPlan_CapExceeded(t *testing.T) {
	tasks := []models.Task{
		datedTask("A", 1, 4, "", models.FinishToStart, 0),
		datedTask("B", 4, 6, "A", models.FinishToStart, 0),
		datedTask("C", 6, 10, "B", models.FinishToStart, 0),
	}

	changed := tasks[0]
	changed.EndDate = date(6)

	_, err := cascade.Plan(tasks, changed, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded")
}
