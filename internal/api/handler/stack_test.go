package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/stackdio/stackd/internal/model"
)

func idParam(st *model.Stack) map[string]string {
	return map[string]string{"id": strconv.FormatInt(st.ID, 10)}
}

// --- Create ---

func TestStackCreate_InvalidJSON(t *testing.T) {
	f := newHandlerFixture(t)
	rec := httptest.NewRecorder()

	f.stack.Create(rec, newRequestRaw(http.MethodPost, "/stacks", "{bad json"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "invalid JSON")
}

func TestStackCreate_MissingFields(t *testing.T) {
	f := newHandlerFixture(t)
	rec := httptest.NewRecorder()

	f.stack.Create(rec, newRequest(http.MethodPost, "/stacks", map[string]any{"title": "web"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "validation error")
}

func TestStackCreate_Accepted(t *testing.T) {
	f := newHandlerFixture(t)
	f.tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "StackChainWorkflow", mock.Anything).
		Return(&temporalmocks.WorkflowRun{}, nil)
	rec := httptest.NewRecorder()

	f.stack.Create(rec, newRequest(http.MethodPost, "/stacks", map[string]any{
		"owner_id":     1,
		"blueprint_id": f.bp.ID,
		"title":        "Web",
		"namespace":    "demo",
	}))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var st model.Stack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, model.StatusPending, st.Status)
	f.tc.AssertExpectations(t)
}

func TestStackCreate_Duplicate(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, "Web", model.StatusFinished)
	rec := httptest.NewRecorder()

	f.stack.Create(rec, newRequest(http.MethodPost, "/stacks", map[string]any{
		"owner_id":     1,
		"blueprint_id": f.bp.ID,
		"title":        "Web",
		"namespace":    "demo",
	}))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

// --- Get / History ---

func TestStackGet(t *testing.T) {
	f := newHandlerFixture(t)
	st := f.seed(t, "Web", model.StatusFinished)
	rec := httptest.NewRecorder()

	f.stack.Get(rec, withChiURLParams(newRequest(http.MethodGet, "/stacks/x", nil), idParam(st)))

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Stack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Web", got.Title)
}

func TestStackGet_NotFound(t *testing.T) {
	f := newHandlerFixture(t)
	rec := httptest.NewRecorder()

	f.stack.Get(rec, withChiURLParams(newRequest(http.MethodGet, "/stacks/99", nil), map[string]string{"id": "99"}))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStackGet_BadID(t *testing.T) {
	f := newHandlerFixture(t)
	rec := httptest.NewRecorder()

	f.stack.Get(rec, withChiURLParams(newRequest(http.MethodGet, "/stacks/abc", nil), map[string]string{"id": "abc"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStackHistory(t *testing.T) {
	f := newHandlerFixture(t)
	st := f.seed(t, "Web", model.StatusFinished)
	rec := httptest.NewRecorder()

	f.stack.History(rec, withChiURLParams(newRequest(http.MethodGet, "/stacks/x/history", nil), idParam(st)))

	require.Equal(t, http.StatusOK, rec.Code)
	var history []model.StackHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "stack_created", history[0].Event)
}

// --- Actions ---

func TestStackRunAction_Busy(t *testing.T) {
	f := newHandlerFixture(t)
	st := f.seed(t, "Web", model.StatusLaunching)
	rec := httptest.NewRecorder()

	r := newRequest(http.MethodPost, "/stacks/x/actions", map[string]any{"action": model.ActionProvision})
	f.stack.RunAction(rec, withChiURLParams(r, idParam(st)))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStackRunAction_Unavailable(t *testing.T) {
	f := newHandlerFixture(t)
	st := f.seed(t, "Web", model.StatusFinished)
	rec := httptest.NewRecorder()

	r := newRequest(http.MethodPost, "/stacks/x/actions", map[string]any{"action": "reboot"})
	f.stack.RunAction(rec, withChiURLParams(r, idParam(st)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStackRunAction_ChainRunning(t *testing.T) {
	f := newHandlerFixture(t)
	st := f.seed(t, "Web", model.StatusFinished)
	f.tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "StackChainWorkflow", mock.Anything).
		Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("running", "", ""))
	rec := httptest.NewRecorder()

	r := newRequest(http.MethodPost, "/stacks/x/actions", map[string]any{"action": model.ActionOrchestrate})
	f.stack.RunAction(rec, withChiURLParams(r, idParam(st)))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStackRunAction_Accepted(t *testing.T) {
	f := newHandlerFixture(t)
	st := f.seed(t, "Web", model.StatusError)
	f.tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "StackChainWorkflow", mock.MatchedBy(func(req model.ChainRequest) bool {
		return req.Action == model.ActionSingleSLS && req.Args.Component == "nginx"
	})).Return(&temporalmocks.WorkflowRun{}, nil)
	rec := httptest.NewRecorder()

	r := newRequest(http.MethodPost, "/stacks/x/actions", map[string]any{
		"action": model.ActionSingleSLS,
		"args":   map[string]string{"component": "nginx"},
	})
	f.stack.RunAction(rec, withChiURLParams(r, idParam(st)))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	f.tc.AssertExpectations(t)
}

// --- Hosts ---

func TestStackAddHosts_Validation(t *testing.T) {
	f := newHandlerFixture(t)
	st := f.seed(t, "Web", model.StatusFinished)
	rec := httptest.NewRecorder()

	r := newRequest(http.MethodPost, "/stacks/x/hosts", map[string]any{"host_definition_id": 1, "count": 0})
	f.stack.AddHosts(rec, withChiURLParams(r, idParam(st)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStackAddHosts_UnknownDefinition(t *testing.T) {
	f := newHandlerFixture(t)
	st := f.seed(t, "Web", model.StatusFinished)
	rec := httptest.NewRecorder()

	r := newRequest(http.MethodPost, "/stacks/x/hosts", map[string]any{"host_definition_id": 999, "count": 1})
	f.stack.AddHosts(rec, withChiURLParams(r, idParam(st)))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStackRemoveHosts_Unknown(t *testing.T) {
	f := newHandlerFixture(t)
	st := f.seed(t, "Web", model.StatusFinished)
	rec := httptest.NewRecorder()

	r := newRequest(http.MethodDelete, "/stacks/x/hosts", map[string]any{"host_ids": []int64{42}})
	f.stack.RemoveHosts(rec, withChiURLParams(r, idParam(st)))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- Delete ---

func TestStackDelete(t *testing.T) {
	f := newHandlerFixture(t)
	st := f.seed(t, "Web", model.StatusFinished)
	f.tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "StackChainWorkflow", mock.MatchedBy(func(req model.ChainRequest) bool {
		return req.Intent == model.IntentDestroyStack
	})).Return(&temporalmocks.WorkflowRun{}, nil)
	rec := httptest.NewRecorder()

	f.stack.Delete(rec, withChiURLParams(newRequest(http.MethodDelete, "/stacks/x", nil), idParam(st)))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	got, err := f.store.GetStack(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDestroying, got.Status)
}

// --- Logs ---

func TestStackLog(t *testing.T) {
	f := newHandlerFixture(t)
	st := f.seed(t, "Web", model.StatusFinished)
	require.NoError(t, f.logs.Put(context.Background(), st.Slug(), "launch", []byte("salt-cloud output")))
	rec := httptest.NewRecorder()

	params := idParam(st)
	params["name"] = "launch"
	f.stack.Log(rec, withChiURLParams(newRequest(http.MethodGet, "/stacks/x/logs/launch", nil), params))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "salt-cloud output", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestStackLog_Missing(t *testing.T) {
	f := newHandlerFixture(t)
	st := f.seed(t, "Web", model.StatusFinished)
	rec := httptest.NewRecorder()

	params := idParam(st)
	params["name"] = "highstate"
	f.stack.Log(rec, withChiURLParams(newRequest(http.MethodGet, "/stacks/x/logs/highstate", nil), params))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStackLog_InvalidName(t *testing.T) {
	f := newHandlerFixture(t)
	st := f.seed(t, "Web", model.StatusFinished)
	rec := httptest.NewRecorder()

	params := idParam(st)
	params["name"] = "..secret"
	f.stack.Log(rec, withChiURLParams(newRequest(http.MethodGet, "/stacks/x/logs/x", nil), params))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
