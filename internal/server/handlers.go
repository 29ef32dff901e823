package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/sqllineage/internal/pipeline"
	"github.com/leapstack-labs/sqllineage/internal/state"
	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/leapstack-labs/sqllineage/pkg/parser"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 1000
)

type sqlRequest struct {
	SQL string `json:"sql"`
}

type fieldsResponse struct {
	Units  core.Units                  `json:"units"`
	Fields [][]core.OutputFieldMapping `json:"fields"`
}

type operationsResponse struct {
	Units      core.Units                    `json:"units"`
	Operations [][]core.TableOperationRecord `json:"operations"`
}

type failureResponse struct {
	Unit  string `json:"unit"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

type errorResponse struct {
	Error    string            `json:"error"`
	Failures []failureResponse `json:"failures,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDecompose(w http.ResponseWriter, r *http.Request) {
	sql, ok := s.readSQL(w, r)
	if !ok {
		return
	}
	d, err := s.pipeline.Decompose(r.Context(), sql)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	sql, ok := s.readSQL(w, r)
	if !ok {
		return
	}
	a, err := s.pipeline.Analyze(r.Context(), sql)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fieldsResponse{Units: a.Decomposition.Units, Fields: a.Fields})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	sql, ok := s.readSQL(w, r)
	if !ok {
		return
	}
	a, err := s.pipeline.Analyze(r.Context(), sql)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, operationsResponse{Units: a.Decomposition.Units, Operations: a.Operations})
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	res, ok := s.run(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, res.Event)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	res, ok := s.run(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, res.Graph)
}

// run executes the full pipeline, archiving the run when a store is set.
func (s *Server) run(w http.ResponseWriter, r *http.Request) (*pipeline.Result, bool) {
	sql, ok := s.readSQL(w, r)
	if !ok {
		return nil, false
	}

	var (
		res *pipeline.Result
		err error
	)
	if s.store != nil {
		res, err = s.pipeline.RunAndRecord(r.Context(), s.store, sql)
	} else {
		res, err = s.pipeline.Run(r.Context(), sql)
	}
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	w.Header().Set("X-Run-ID", res.Event.Run.RunID)
	return res, true
}

// handleCompose builds an event from stage outputs produced by an external
// analysis function.
func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req sqlRequest
	var out core.StageOutputs
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeStatus(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := json.Unmarshal(body, &out); err != nil {
		s.writeStatus(w, http.StatusBadRequest, fmt.Errorf("invalid stage outputs: %w", err))
		return
	}
	if err := out.Validate(); err != nil {
		s.writeStatus(w, http.StatusUnprocessableEntity, err)
		return
	}

	res, err := s.pipeline.Compose(r.Context(), req.SQL, &out)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res.Event)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeStatus(w, http.StatusNotFound, errors.New("run archive is not enabled"))
		return
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeStatus(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*state.Run{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeStatus(w, http.StatusNotFound, errors.New("run archive is not enabled"))
		return
	}
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// readBody reads the size-limited request body.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeStatus(w, http.StatusRequestEntityTooLarge, err)
		} else {
			s.writeStatus(w, http.StatusBadRequest, err)
		}
		return nil, false
	}
	return body, true
}

// readSQL accepts either {"sql": "..."} or the script as a plain body.
func (s *Server) readSQL(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, ok := s.readBody(w, r)
	if !ok {
		return "", false
	}

	sql := string(body)
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		var req sqlRequest
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeStatus(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return "", false
		}
		sql = req.SQL
	}
	if strings.TrimSpace(sql) == "" {
		s.writeStatus(w, http.StatusBadRequest, errors.New("sql is required"))
		return "", false
	}
	return sql, true
}

// statusFor maps pipeline errors to HTTP statuses. Errors caused by the
// submitted SQL or stage outputs are 422.
func statusFor(err error) int {
	var (
		parseErr  *parser.ParseError
		decompErr *core.DecompositionError
		fieldErr  *core.FieldDerivationError
		traceErr  *core.OperationTraceError
		compErr   *core.CompositionError
		failures  *pipeline.UnitFailures
	)
	switch {
	case errors.Is(err, state.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.As(err, &failures), errors.As(err, &parseErr), errors.As(err, &decompErr),
		errors.As(err, &fieldErr), errors.As(err, &traceErr), errors.As(err, &compErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	s.writeStatus(w, status, err)
}

func (s *Server) writeStatus(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var failures *pipeline.UnitFailures
	if errors.As(err, &failures) {
		for _, f := range failures.Failures {
			resp.Failures = append(resp.Failures, failureResponse{Unit: f.Unit, Stage: f.Stage, Error: f.Err.Error()})
		}
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", slog.Any("error", err))
	}
}
