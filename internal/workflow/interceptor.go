package workflow

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"

	"github.com/stackdio/stackd/internal/metrics"
)

// ErrorTypingInterceptor is a Temporal worker interceptor that wraps activity
// errors with the activity name as the error type, so failed activities show
// their name in the Temporal UI. It also records activity metrics.
type ErrorTypingInterceptor struct {
	interceptor.WorkerInterceptorBase
}

func (e *ErrorTypingInterceptor) InterceptActivity(
	ctx context.Context,
	next interceptor.ActivityInboundInterceptor,
) interceptor.ActivityInboundInterceptor {
	return &errorTypingActivityInterceptor{
		ActivityInboundInterceptorBase: interceptor.ActivityInboundInterceptorBase{},
		next:                           next,
	}
}

type errorTypingActivityInterceptor struct {
	interceptor.ActivityInboundInterceptorBase
	next interceptor.ActivityInboundInterceptor
}

func (e *errorTypingActivityInterceptor) Init(outbound interceptor.ActivityOutboundInterceptor) error {
	return e.next.Init(outbound)
}

func (e *errorTypingActivityInterceptor) ExecuteActivity(
	ctx context.Context,
	in *interceptor.ExecuteActivityInput,
) (interface{}, error) {
	actName := activity.GetInfo(ctx).ActivityType.Name
	start := time.Now()
	result, err := e.next.ExecuteActivity(ctx, in)
	metrics.ActivityDuration.WithLabelValues(actName).Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.ActivityTotal.WithLabelValues(actName, "ok").Inc()
		return result, nil
	}
	metrics.ActivityTotal.WithLabelValues(actName, "error").Inc()

	// Don't double-wrap errors that already have a type.
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return result, err
	}
	return result, temporal.NewApplicationError(err.Error(), actName, err)
}
