package notification

import (
	"context"
	"errors"
	"fmt"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/stackdio/stackd/internal/model"
	"github.com/stackdio/stackd/internal/platform"
)

// Workflow names the submitter starts.
const (
	SendNotificationWorkflow      = "SendNotificationWorkflow"
	SendBulkNotificationsWorkflow = "SendBulkNotificationsWorkflow"
)

// TemporalSubmitter starts one delivery workflow per submission.
type TemporalSubmitter struct {
	client temporalclient.Client
	queue  string
}

func NewTemporalSubmitter(c temporalclient.Client, queue string) *TemporalSubmitter {
	return &TemporalSubmitter{client: c, queue: queue}
}

func (s *TemporalSubmitter) SubmitNotification(ctx context.Context, id int64) error {
	_, err := s.client.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        platform.NotificationWorkflowID("send"),
		TaskQueue: s.queue,
	}, SendNotificationWorkflow, id)
	if err != nil {
		return fmt.Errorf("start %s for notification %d: %w", SendNotificationWorkflow, id, err)
	}
	return nil
}

func (s *TemporalSubmitter) SubmitBulk(ctx context.Context, notifier string, ids []int64) error {
	_, err := s.client.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        platform.NotificationWorkflowID("bulk"),
		TaskQueue: s.queue,
	}, SendBulkNotificationsWorkflow, notifier, ids)
	if err != nil {
		return fmt.Errorf("start %s for %s: %w", SendBulkNotificationsWorkflow, notifier, err)
	}
	return nil
}

// StackGetter loads stacks for serialization.
type StackGetter interface {
	GetStack(ctx context.Context, id int64) (*model.Stack, error)
}

// StackSerializer renders stacks for notifiers. A stack deleted before
// delivery renders as {id, deleted: true}.
func StackSerializer(stacks StackGetter) Serializer {
	return func(ctx context.Context, id int64) (any, error) {
		st, err := stacks.GetStack(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			return map[string]any{"id": id, "deleted": true}, nil
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"id":            st.ID,
			"title":         st.Title,
			"namespace":     st.Namespace,
			"status":        st.Status,
			"status_detail": st.StatusDetail,
		}, nil
	}
}
