package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"github.com/stackdio/stackd/internal/activity"
)

type NotificationWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *NotificationWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *NotificationWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *NotificationWorkflowTestSuite) TestSendNotification() {
	s.env.OnActivity("SendNotification", mock.Anything, int64(42)).Return(nil)

	s.env.ExecuteWorkflow(SendNotificationWorkflow, int64(42))
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *NotificationWorkflowTestSuite) TestSendNotificationSingleAttempt() {
	s.env.OnActivity("SendNotification", mock.Anything, int64(42)).Return(errors.New("boom")).Once()

	s.env.ExecuteWorkflow(SendNotificationWorkflow, int64(42))
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *NotificationWorkflowTestSuite) TestSendBulkNotifications() {
	s.env.OnActivity("SendBulkNotifications", mock.Anything, activity.SendBulkNotificationsParams{
		Notifier: "slack",
		IDs:      []int64{1, 2, 3},
	}).Return(nil)

	s.env.ExecuteWorkflow(SendBulkNotificationsWorkflow, "slack", []int64{1, 2, 3})
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *NotificationWorkflowTestSuite) TestResendFailedNotifications() {
	s.env.OnActivity("ResendFailedNotifications", mock.Anything).Return(3, nil)

	s.env.ExecuteWorkflow(ResendFailedNotificationsWorkflow)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func TestNotificationWorkflows(t *testing.T) {
	suite.Run(t, new(NotificationWorkflowTestSuite))
}
