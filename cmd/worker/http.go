package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"sagaflow/internal/durable"
	"sagaflow/internal/saga"
)

type sagaAPI struct {
	runtime *durable.Runtime
}

// newSagaAPI exposes the runtime over a small JSON surface: start a
// saga, poll its state, request cancellation.
func newSagaAPI(runtime *durable.Runtime) http.Handler {
	api := &sagaAPI{runtime: runtime}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sagas", api.start)
	mux.HandleFunc("GET /sagas/{id}", api.get)
	mux.HandleFunc("POST /sagas/{id}/cancel", api.cancel)
	return mux
}

type startResponse struct {
	SagaID string `json:"saga_id"`
	Phase  string `json:"phase"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *sagaAPI) start(w http.ResponseWriter, r *http.Request) {
	var req saga.SagaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	handle, err := a.runtime.StartSaga(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, saga.ErrIdempotencyConflict):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, startResponse{
		SagaID: handle.SagaID(),
		Phase:  string(handle.Phase()),
	})
}

func (a *sagaAPI) get(w http.ResponseWriter, r *http.Request) {
	handle, ok := a.runtime.Handle(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, durable.ErrUnknownSaga.Error())
		return
	}
	writeJSON(w, http.StatusOK, handle.State())
}

func (a *sagaAPI) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.Body != nil {
		// Reason is optional; a bad body is ignored rather than rejected.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = saga.ReasonCancelled
	}

	state, err := a.runtime.CancelSaga(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		if errors.Is(err, durable.ErrUnknownSaga) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
