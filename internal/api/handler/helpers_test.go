package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/stackdio/stackd/internal/core"
	"github.com/stackdio/stackd/internal/model"
	"github.com/stackdio/stackd/internal/provider"
	"github.com/stackdio/stackd/internal/stack"
	"github.com/stackdio/stackd/internal/stacklog"
	"github.com/stackdio/stackd/internal/store/memory"
)

// newRequest creates a new HTTP request with an optional JSON body.
func newRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// newRequestRaw creates a new HTTP request with a raw string body.
func newRequestRaw(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// withChiURLParams adds chi URL parameters to the request context.
func withChiURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeErrorResponse parses the JSON error response body into a map.
func decodeErrorResponse(rec *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

type fakeBuilder struct{}

func (fakeBuilder) Build(ctx context.Context, stackID int64, faults stack.Faults) (model.Artifacts, error) {
	return model.Artifacts{Map: "map"}, nil
}

type handlerFixture struct {
	store *memory.Store
	tc    *temporalmocks.Client
	logs  *stacklog.Local
	stack *Stack
	user  *User
	bp    model.Blueprint
}

// newHandlerFixture wires handlers to real services over the memory store.
// The blueprint has no host definitions so no provider is needed.
func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	st := memory.New()
	tc := &temporalmocks.Client{}
	logs := stacklog.NewLocal(t.TempDir())
	stacks := core.NewStackService(st, fakeBuilder{}, provider.NewRegistry(), tc, "stacks", model.DefaultWorkflowOptions(), zerolog.Nop())
	return &handlerFixture{
		store: st,
		tc:    tc,
		logs:  logs,
		stack: NewStack(stacks, logs),
		user:  NewUser(core.NewUserService(st)),
		bp:    st.AddBlueprint(model.Blueprint{Title: "empty"}),
	}
}

func (f *handlerFixture) seed(t *testing.T, title, status string) *model.Stack {
	t.Helper()
	st := &model.Stack{OwnerID: 1, BlueprintID: f.bp.ID, Title: title, Namespace: "demo", Status: status}
	require.NoError(t, f.store.CreateStack(context.Background(), st, nil))
	return st
}
