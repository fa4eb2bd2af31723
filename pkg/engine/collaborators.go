package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/velkov/planflow/pkg/models"
)

// Logger is the logging surface the coordinator expects; internal/log's
// logrus instance satisfies it.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Notifier pushes fire-and-forget events to live clients. Failures are the
// notifier's problem: the coordinator never propagates them.
type Notifier interface {
	Broadcast(event string, payload interface{})
}

// WebhookDispatcher delivers events to external subscribers at least once.
// The coordinator does not await delivery confirmation.
type WebhookDispatcher interface {
	Dispatch(event string, payload interface{}, actorID string)
}

// NopNotifier discards every broadcast.
type NopNotifier struct{}

func (NopNotifier) Broadcast(string, interface{}) {}

// NopWebhookDispatcher discards every dispatch.
type NopWebhookDispatcher struct{}

func (NopWebhookDispatcher) Dispatch(string, interface{}, string) {}

// noAgent is the default AgentInvoker: agent nodes fail until a real
// collaborator is injected with WithAgentInvoker.
type noAgent struct{}

func (noAgent) Invoke(_ context.Context, cfg models.AgentConfig, _ *models.WorkflowExecution) (map[string]interface{}, error) {
	return nil, errors.Errorf("no agent invoker configured for capability %q", cfg.Capability)
}
