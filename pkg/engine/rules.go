package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/velkov/planflow/pkg/models"
)

// evaluateRules runs every enabled simple trigger rule against the old and
// new task state. Rules are independent of the DAG engine: each match
// performs its single action synchronously and appends a rule log entry. A
// failing action is logged and never aborts the mutation that triggered it.
func (s *Service) evaluateRules(ctx context.Context, old, updated models.Task) {
	rules, err := s.store.ListTriggerRules("task")
	if err != nil {
		s.logger.Errorf("Failed to list trigger rules: %v", err)
		return
	}
	now := s.now()
	for _, rule := range rules {
		if !rule.Enabled || !ruleMatches(rule, old, updated, now) {
			continue
		}
		detail, err := s.performRuleAction(ctx, rule, updated)
		if err != nil {
			s.logger.Errorf("Rule %d (%s) action failed on task %s: %v", rule.ID, rule.Name, updated.ID, err)
			detail = fmt.Sprintf("action failed: %v", err)
		}
		logEntry := models.RuleLog{
			RuleID:     rule.ID,
			EntityType: "task",
			EntityID:   updated.ID,
			Message:    detail,
			LoggedAt:   now,
		}
		if err := s.store.AppendRuleLog(logEntry); err != nil {
			s.logger.Errorf("Failed to append rule log for rule %d: %v", rule.ID, err)
		}
	}
}

func ruleMatches(rule models.TriggerRule, old, updated models.Task, now time.Time) bool {
	switch rule.Kind {
	case models.StatusChangeRule:
		if old.Status == updated.Status {
			return false
		}
		if rule.FromStatus != "" && old.Status != rule.FromStatus {
			return false
		}
		if rule.ToStatus != "" && updated.Status != rule.ToStatus {
			return false
		}
		return true
	case models.ProgressThresholdRule:
		return old.ProgressPercentage < rule.Threshold && updated.ProgressPercentage >= rule.Threshold
	case models.DatePassedRule:
		if updated.EndDate == nil || updated.EndDate.After(now) {
			return false
		}
		return updated.Status != models.CompletedTaskStatus && updated.Status != models.CancelledTaskStatus
	default:
		return false
	}
}

func (s *Service) performRuleAction(ctx context.Context, rule models.TriggerRule, task models.Task) (string, error) {
	switch rule.Action.Kind {
	case models.SetFieldAction:
		if err := s.setTaskField(task.ID, rule.Action.Field, rule.Action.Value); err != nil {
			return "", err
		}
		return fmt.Sprintf("set %s=%s", rule.Action.Field, rule.Action.Value), nil
	case models.LogAction:
		s.logger.Infof("Rule %q matched task %s: %s", rule.Name, task.ID, rule.Action.Value)
		return rule.Action.Value, nil
	case models.NotifyAction:
		s.notifier.Broadcast("rule.matched", map[string]interface{}{
			"rule_id": rule.ID,
			"task_id": task.ID,
			"message": rule.Action.Value,
		})
		return "notified: " + rule.Action.Value, nil
	default:
		return "", fmt.Errorf("unknown rule action kind %q", rule.Action.Kind)
	}
}
