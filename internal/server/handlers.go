package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/piston-go/internal/sandbox"
	"github.com/michaelbrown/piston-go/internal/storage"
	"github.com/michaelbrown/piston-go/piston"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeExecError reports an execution failure with the status for its kind.
func writeExecError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// classify maps an execution error to a gateway status and error kind.
// Failures of the upstream service surface as gateway errors, never as
// the gateway's own 500.
func classify(err error) (int, string) {
	if kind, ok := piston.KindOf(err); ok {
		switch kind {
		case piston.KindValidation:
			return http.StatusBadRequest, kind.String()
		case piston.KindContentType:
			return http.StatusUnsupportedMediaType, kind.String()
		case piston.KindServer:
			return http.StatusBadGateway, kind.String()
		case piston.KindNetwork:
			return http.StatusServiceUnavailable, kind.String()
		case piston.KindUnexpected:
			return http.StatusBadGateway, kind.String()
		}
	}

	switch {
	case errors.Is(err, sandbox.ErrLanguageNotAllowed):
		return http.StatusForbidden, "policy"
	case errors.Is(err, sandbox.ErrLanguageRequired), errors.Is(err, sandbox.ErrNoCode):
		return http.StatusBadRequest, "policy"
	default:
		return http.StatusInternalServerError, ""
	}
}

// --- Execution ---

type execution struct {
	Response *piston.ExecuteResponse
	RunID    string
}

// execute runs req under the policy, tracked under id, and records it in
// the history.
func (s *Server) execute(ctx context.Context, id, source string, in piston.ExecuteRequest) (*execution, error) {
	ctx, done := s.executions.Start(ctx, id, in.Language)
	defer done()
	return s.run(ctx, id, source, in)
}

// run executes in under the policy. ctx must already be tracked under id.
func (s *Server) run(ctx context.Context, id, source string, in piston.ExecuteRequest) (*execution, error) {
	req, err := s.sandbox.Request(sandbox.OptsFromRequest(in))
	if err != nil {
		return nil, err
	}

	m := s.metrics()
	if m != nil {
		m.ActiveExecutions.Inc()
		defer m.ActiveExecutions.Dec()
	}

	started := time.Now()
	resp, execErr := s.api.Execute(ctx, req)

	out := &execution{Response: resp}
	if s.store != nil {
		run, err := storage.NewRun(source, req, resp, execErr, started)
		if err == nil {
			// The caller may have gone away; the record must still land.
			err = s.store.Record(context.WithoutCancel(ctx), run)
		}
		if err != nil {
			s.logger.Warn("recording run failed", zap.Error(err))
		} else {
			out.RunID = run.ID
			if m != nil {
				m.ExecutionsTotal.WithLabelValues(run.Language, string(run.Outcome)).Inc()
			}
		}
	}

	if execErr != nil {
		s.logger.Info("execution failed",
			zap.String("id", id),
			zap.String("language", req.Language),
			zap.Error(execErr),
		)
		return out, execErr
	}
	return out, nil
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req piston.ExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res, err := s.execute(r.Context(), uuid.New().String(), storage.SourceServer, req)
	if res != nil && res.RunID != "" {
		w.Header().Set("X-Run-ID", res.RunID)
	}
	if err != nil {
		writeExecError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res.Response)
}

func (s *Server) handleRuntimes(w http.ResponseWriter, r *http.Request) {
	runtimes, err := s.api.Runtimes(r.Context())
	if err != nil {
		writeExecError(w, err)
		return
	}

	if language := r.URL.Query().Get("language"); language != "" {
		runtimes = filterRuntimes(runtimes, language)
	}
	writeJSON(w, http.StatusOK, runtimes)
}

// filterRuntimes keeps the runtimes whose name or alias is language.
func filterRuntimes(runtimes []piston.RuntimeInfo, language string) []piston.RuntimeInfo {
	out := []piston.RuntimeInfo{}
	for _, rt := range runtimes {
		if strings.EqualFold(rt.Language, language) {
			out = append(out, rt)
			continue
		}
		for _, alias := range rt.Aliases {
			if strings.EqualFold(alias, language) {
				out = append(out, rt)
				break
			}
		}
	}
	return out
}

// --- Run history handlers ---

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := storage.RunListOptions{}

	if outcome := r.URL.Query().Get("outcome"); outcome != "" {
		opts.Outcome = storage.Outcome(outcome)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	runs, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, storage.ErrAmbiguous):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
