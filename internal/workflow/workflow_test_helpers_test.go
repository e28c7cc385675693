package workflow

import (
	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/testsuite"

	"github.com/stackdio/stackd/internal/activity"
)

// registerActivities registers activity structs with the test workflow
// environment so that parameter and return types can be deserialized
// correctly. All activities are mocked via OnActivity in the tests.
func registerActivities(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(&activity.Stacks{})
	env.RegisterActivity(&activity.Notifications{})
}

// matchStackError matches the MarkStackError call recorded for a failed step.
func matchStackError(stackID int64, event string) interface{} {
	return mock.MatchedBy(func(params activity.MarkStackErrorParams) bool {
		return params.StackID == stackID && params.Event == event && params.Detail != ""
	})
}

func activityNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Activity
	}
	return names
}
