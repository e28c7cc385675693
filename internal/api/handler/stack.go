package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/stackdio/stackd/internal/api/request"
	"github.com/stackdio/stackd/internal/api/response"
	"github.com/stackdio/stackd/internal/core"
	"github.com/stackdio/stackd/internal/stacklog"
)

type Stack struct {
	svc  *core.StackService
	logs stacklog.Store
}

func NewStack(svc *core.StackService, logs stacklog.Store) *Stack {
	return &Stack{svc: svc, logs: logs}
}

// Create inserts a stack from a blueprint and starts its launch. Returns 202.
func (h *Stack) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateStack
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.svc.Create(r.Context(), core.CreateStackParams{
		OwnerID:     req.OwnerID,
		BlueprintID: req.BlueprintID,
		Title:       req.Title,
		Description: req.Description,
		Namespace:   req.Namespace,
		Options:     req.Options,
	})
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, st)
}

func (h *Stack) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, st)
}

func (h *Stack) History(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := h.svc.History(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, history)
}

func (h *Stack) Hosts(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	hosts, err := h.svc.Hosts(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, hosts)
}

// RunAction starts a stack action. Busy stacks and hosts in the wrong state
// get 409, actions the providers lack get 400.
func (h *Stack) RunAction(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req request.StackAction
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.RunAction(r.Context(), id, req.Action, req.Args); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Int64("stack", id).Str("action", req.Action).Msg("stack action started")
	response.WriteJSON(w, http.StatusAccepted, map[string]string{"action": req.Action})
}

func (h *Stack) AddHosts(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req request.AddHosts
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	hosts, err := h.svc.AddHosts(r.Context(), id, req.HostDefinitionID, req.Count)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, hosts)
}

func (h *Stack) RemoveHosts(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req request.RemoveHosts
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.RemoveHosts(r.Context(), id, req.HostIDs); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Stack) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Log returns the latest output of one salt command of the stack as plain
// text.
func (h *Stack) Log(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := chi.URLParam(r, "name")
	if !stacklog.ValidName(name) {
		response.WriteError(w, http.StatusBadRequest, "invalid log name")
		return
	}
	st, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	data, err := h.logs.Latest(r.Context(), st.Slug(), name)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
