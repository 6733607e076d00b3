package serv

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/querygate/querygate/auth"
	"github.com/querygate/querygate/request"
	"github.com/querygate/querygate/sanitize"
)

// writeJSON encodes data as JSON and writes to response, handling errors
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}

// writeJSONError writes a JSON error response with proper header ordering
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}

// renderErr maps domain errors onto HTTP status codes
func renderErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, request.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, request.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, request.ErrInvalidTransition),
		errors.Is(err, request.ErrNoResult):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sanitize.ErrDangerousOperator),
		errors.Is(err, sanitize.ErrInvalidFileName):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// submitErrStatus classifies a submission failure. Validation failures are
// the client's fault; anything else (store writes included) is a 500.
func submitErrStatus(err error) int {
	switch {
	case errors.Is(err, request.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, request.ErrInvalidSubmission),
		errors.Is(err, sanitize.ErrDangerousOperator),
		errors.Is(err, sanitize.ErrInvalidFileName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type submitBody struct {
	DatabaseKind   string `json:"database_kind"`
	InstanceID     string `json:"instance_id"`
	DatabaseName   string `json:"database_name"`
	Query          string `json:"query"`
	ScriptFileName string `json:"script_file_name"`
	ScriptContent  string `json:"script_content"`
	PodID          string `json:"pod_id"`
	PodName        string `json:"pod_name"`
}

func (s *Service) submitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.FromRequest(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}

		var body submitBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		kind := request.DatabaseKind(body.DatabaseKind)
		if kind != request.KindRelational && kind != request.KindDocumentStore {
			writeJSONError(w, http.StatusBadRequest, "database_kind must be relational or document")
			return
		}

		req, err := s.requests.Submit(r.Context(), p, request.SubmitInput{
			DatabaseKind:   kind,
			InstanceID:     body.InstanceID,
			DatabaseName:   body.DatabaseName,
			Query:          body.Query,
			ScriptFileName: body.ScriptFileName,
			ScriptContent:  body.ScriptContent,
			PodID:          body.PodID,
			PodName:        body.PodName,
		})
		if err != nil {
			writeJSONError(w, submitErrStatus(err), err.Error())
			return
		}

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, req)
	}
}

func (s *Service) listHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.FromRequest(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}

		f := request.Filter{
			Status: request.Status(r.URL.Query().Get("status")),
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			f.Limit, _ = strconv.Atoi(v)
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			f.Offset, _ = strconv.Atoi(v)
		}

		out, err := s.requests.List(r.Context(), p, f)
		if err != nil {
			renderErr(w, err)
			return
		}
		if out == nil {
			out = []*request.QueryRequest{}
		}
		writeJSON(w, out)
	}
}

func (s *Service) getHandler() http.HandlerFunc {
	return s.requestAction(func(ctx context.Context, p auth.Principal, id string, _ *http.Request) (*request.QueryRequest, error) {
		return s.requests.Get(ctx, p, id)
	})
}

func (s *Service) approveHandler() http.HandlerFunc {
	return s.requestAction(func(ctx context.Context, p auth.Principal, id string, _ *http.Request) (*request.QueryRequest, error) {
		return s.requests.Approve(ctx, p, id)
	})
}

func (s *Service) rejectHandler() http.HandlerFunc {
	return s.requestAction(func(ctx context.Context, p auth.Principal, id string, r *http.Request) (*request.QueryRequest, error) {
		var body struct {
			Reason string `json:"reason"`
		}
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		return s.requests.Reject(ctx, p, id, body.Reason)
	})
}

func (s *Service) withdrawHandler() http.HandlerFunc {
	return s.requestAction(func(ctx context.Context, p auth.Principal, id string, _ *http.Request) (*request.QueryRequest, error) {
		return s.requests.Withdraw(ctx, p, id)
	})
}

func (s *Service) cloneHandler() http.HandlerFunc {
	return s.requestAction(func(ctx context.Context, p auth.Principal, id string, _ *http.Request) (*request.QueryRequest, error) {
		return s.requests.Clone(ctx, p, id)
	})
}

// requestAction factors the shared shape of the per-request endpoints
func (s *Service) requestAction(fn func(context.Context, auth.Principal, string, *http.Request) (*request.QueryRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.FromRequest(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}

		req, err := fn(r.Context(), p, chi.URLParam(r, "id"), r)
		if err != nil {
			renderErr(w, err)
			return
		}
		writeJSON(w, req)
	}
}

// resultHandler streams the full execution result, decompressed server side
func (s *Service) resultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.FromRequest(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}

		id := chi.URLParam(r, "id")
		out, err := s.requests.Result(r.Context(), p, id)
		if err != nil {
			renderErr(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="result-`+id+`.txt"`)
		w.Write(out) //nolint:errcheck
	}
}

func (s *Service) instancesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.registry.list())
	}
}

func (s *Service) databasesHandler() http.HandlerFunc {
	return s.metadataHandler(func(ctx context.Context, inst request.Instance) ([]string, error) {
		return s.disc.GetDatabases(ctx, discoverKind(inst.Kind), inst.ConnString)
	})
}

func (s *Service) schemasHandler() http.HandlerFunc {
	return s.metadataHandler(func(ctx context.Context, inst request.Instance) ([]string, error) {
		return s.disc.GetSchemas(ctx, discoverKind(inst.Kind), inst.ConnString)
	})
}

func (s *Service) metadataHandler(fn func(context.Context, request.Instance) ([]string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, err := s.registry.Resolve(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			renderErr(w, err)
			return
		}

		names, err := fn(r.Context(), inst)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, err.Error())
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, names)
	}
}

// healthCheckHandler reports service liveness and store reachability
func (s *Service) healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.pool != nil {
			timeout := s.conf.DB.PingTimeout
			if timeout <= 0 {
				timeout = defaultPingTimeout
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			if err := s.pool.Ping(ctx); err != nil {
				writeJSONError(w, http.StatusServiceUnavailable, "store unreachable")
				return
			}
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}
