package interceptor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/flexprice/dunning/internal/sentry"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/workflow"
)

// SentryInterceptor reports failed dunning workflows and activities to sentry
type SentryInterceptor struct {
	interceptor.WorkerInterceptorBase
	sentry *sentry.Service
}

func NewSentryInterceptor(sentryService *sentry.Service) *SentryInterceptor {
	return &SentryInterceptor{
		sentry: sentryService,
	}
}

func (s *SentryInterceptor) InterceptWorkflow(ctx workflow.Context, next interceptor.WorkflowInboundInterceptor) interceptor.WorkflowInboundInterceptor {
	return &workflowInboundInterceptor{
		WorkflowInboundInterceptorBase: interceptor.WorkflowInboundInterceptorBase{
			Next: next,
		},
		sentry: s.sentry,
	}
}

func (s *SentryInterceptor) InterceptActivity(ctx context.Context, next interceptor.ActivityInboundInterceptor) interceptor.ActivityInboundInterceptor {
	return &activityInboundInterceptor{
		ActivityInboundInterceptorBase: interceptor.ActivityInboundInterceptorBase{
			Next: next,
		},
		sentry: s.sentry,
	}
}

type workflowInboundInterceptor struct {
	interceptor.WorkflowInboundInterceptorBase
	sentry *sentry.Service
}

func (w *workflowInboundInterceptor) ExecuteWorkflow(ctx workflow.Context, in *interceptor.ExecuteWorkflowInput) (interface{}, error) {
	result, err := w.Next.ExecuteWorkflow(ctx, in)

	// Replays must not report the same failure twice
	if err != nil && w.sentry.IsEnabled() && !workflow.IsReplaying(ctx) {
		info := workflow.GetInfo(ctx)
		workflow.GetLogger(ctx).Error("Workflow execution failed",
			"workflow_type", info.WorkflowType.Name,
			"workflow_id", info.WorkflowExecution.ID,
			"error", err,
		)
		w.sentry.CaptureException(context.Background(),
			fmt.Errorf("temporal workflow %s failed: %w", info.WorkflowType.Name, err),
			map[string]string{
				"component":     "temporal",
				"workflow_type": info.WorkflowType.Name,
				"workflow_id":   info.WorkflowExecution.ID,
				"run_id":        info.WorkflowExecution.RunID,
			})
	}

	return result, err
}

type activityInboundInterceptor struct {
	interceptor.ActivityInboundInterceptorBase
	sentry *sentry.Service
}

func (a *activityInboundInterceptor) ExecuteActivity(ctx context.Context, in *interceptor.ExecuteActivityInput) (interface{}, error) {
	result, err := a.Next.ExecuteActivity(ctx, in)
	if err == nil || !a.sentry.IsEnabled() {
		return result, err
	}

	info := activity.GetInfo(ctx)
	a.sentry.CaptureException(ctx,
		fmt.Errorf("temporal activity %s failed: %w", info.ActivityType.Name, err),
		map[string]string{
			"component":     "temporal",
			"activity_type": info.ActivityType.Name,
			"workflow_id":   info.WorkflowExecution.ID,
			"task_queue":    info.TaskQueue,
			"attempt":       strconv.Itoa(int(info.Attempt)),
		})

	return result, err
}
