package engine

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/velkov/planflow/pkg/models"
)

// storeActionExecutor performs workflow action nodes against the store: field
// updates land on the triggering task, log and notify delegate to the
// coordinator's collaborators.
type storeActionExecutor struct {
	service *Service
}

func (x *storeActionExecutor) Execute(_ context.Context, action models.ActionConfig, exec *models.WorkflowExecution) (map[string]interface{}, error) {
	s := x.service
	switch action.Kind {
	case models.SetFieldAction:
		if exec.EntityType != "task" {
			return nil, errors.Errorf("set_field action on unsupported entity type %q", exec.EntityType)
		}
		if err := s.setTaskField(exec.EntityID, action.Field, action.Value); err != nil {
			return nil, err
		}
		return map[string]interface{}{action.Field: action.Value}, nil
	case models.LogAction:
		s.logger.Infof("Workflow %s on %s/%s: %s", exec.WorkflowID, exec.EntityType, exec.EntityID, action.Value)
		return map[string]interface{}{"logged": action.Value}, nil
	case models.NotifyAction:
		s.notifier.Broadcast("workflow.notify", map[string]interface{}{
			"execution_id": exec.ID,
			"entity_type":  exec.EntityType,
			"entity_id":    exec.EntityID,
			"message":      action.Value,
		})
		return map[string]interface{}{"notified": action.Value}, nil
	default:
		return nil, errors.Errorf("unknown action kind %q", action.Kind)
	}
}

// setTaskField updates one enumerated task field. Date fields go through
// ApplyTaskChange instead, so automations cannot bypass the cascade.
func (s *Service) setTaskField(taskID, field, value string) error {
	t, err := s.store.GetTask(taskID)
	if err != nil {
		return s.notFound(err, "task", taskID)
	}
	switch field {
	case "status":
		status := models.TaskStatus(value)
		switch status {
		case models.PendingTaskStatus, models.InProgressTaskStatus,
			models.CompletedTaskStatus, models.CancelledTaskStatus:
			t.Status = status
		default:
			return errors.Errorf("invalid status value %q", value)
		}
	case "priority":
		p, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "parsing priority %q", value)
		}
		t.Priority = p
	case "progress_percentage":
		p, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "parsing progress %q", value)
		}
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		t.ProgressPercentage = p
	case "name":
		t.Name = value
	default:
		return errors.Errorf("field %q cannot be set by an automation", field)
	}
	t.UpdatedAt = s.now()
	return s.store.UpdateTask(t)
}
