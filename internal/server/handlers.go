package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jonathan/content-pipeline/internal/db"
	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/readiness"
	"github.com/jonathan/content-pipeline/internal/server/middleware"
	"github.com/jonathan/content-pipeline/internal/types"
)

const maxBodyBytes = 1 << 20

// TriggerRunResponse is returned by POST /pipelines/{id}/runs.
type TriggerRunResponse struct {
	RunID     string          `json:"run_id"`
	ProjectID string          `json:"project_id"`
	Status    types.RunStatus `json:"status"`
}

// TriggerBatchResponse is returned by POST /pipelines/{id}/batches.
type TriggerBatchResponse struct {
	BatchID string            `json:"batch_id"`
	Total   int               `json:"total"`
	Status  types.BatchStatus `json:"status"`
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return &ErrValidation{Message: "invalid request body: " + err.Error()}
	}
	return nil
}

// invalid reports a failed request validation as a 400.
func invalid(err error) error {
	var v *ErrValidation
	if errors.As(err, &v) {
		return err
	}
	return &ErrValidation{Message: err.Error()}
}

// triggerSource is "api" unless the caller authenticated as a named client.
func triggerSource(r *http.Request) string {
	if client := middleware.Client(r.Context()); client != "" {
		return types.TriggerAPI + ":" + client
	}
	return types.TriggerAPI
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]string{"status": "ok", "store": s.store.Backend()}
	if s.readiness != nil {
		body["engine"] = string(s.readiness.Info().State)
	}
	s.jsonResponse(w, http.StatusOK, body)
}

// handleReadiness returns the monitor snapshot; ?refresh=true probes first.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.readiness == nil {
		s.jsonResponse(w, http.StatusOK, readiness.Info{State: readiness.StateOffline, LastError: "no engine configured"})
		return
	}
	if strings.EqualFold(r.URL.Query().Get("refresh"), "true") {
		s.jsonResponse(w, http.StatusOK, s.readiness.CheckHealth(r.Context()))
		return
	}
	s.jsonResponse(w, http.StatusOK, s.readiness.Info())
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req types.TriggerRunRequest
	if err := decodeBody(r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, invalid(err))
		return
	}

	run, err := s.orchestrator.StartFullPipeline(r.Context(), r.PathValue("id"), pipeline.RunOptions{
		Topic:                req.Topic,
		CustomScript:         req.CustomScript,
		SkipScriptGeneration: req.SkipScriptGeneration,
		ScriptOptions:        req.ScriptOptions,
		TriggerSource:        triggerSource(r),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, TriggerRunResponse{
		RunID:     run.ID,
		ProjectID: run.ProjectID,
		Status:    run.Status,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	status, err := s.orchestrator.GetRunStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, status)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orchestrator.CancelRun(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"run_id": id, "status": string(types.RunCancelled)})
}

func (s *Server) handleTriggerBatch(w http.ResponseWriter, r *http.Request) {
	var req types.TriggerBatchRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, invalid(err))
		return
	}

	batch, err := s.orchestrator.StartBatch(r.Context(), r.PathValue("id"), req.Count, pipeline.BatchOptions{
		Concurrency:   req.Concurrency,
		Topics:        req.Topics,
		TriggerSource: types.TriggerBatch,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, TriggerBatchResponse{
		BatchID: batch.ID,
		Total:   batch.Total,
		Status:  batch.Status,
	})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.store.Batches.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, batch)
}

func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var p types.Pipeline
	if err := decodeBody(r, &p, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := p.Validate(); err != nil {
		s.fail(w, r, invalid(err))
		return
	}
	if p.PersonaID != "" {
		_, err := s.store.Personas.Get(r.Context(), p.PersonaID)
		if errors.Is(err, db.ErrNotFound) {
			err = &ErrValidation{Field: "persona_id", Message: fmt.Sprintf("unknown persona %q", p.PersonaID)}
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if err := s.store.Pipelines.Insert(r.Context(), &p); err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, p)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Pipelines.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, p)
}

func (s *Server) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var p types.Persona
	if err := decodeBody(r, &p, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := p.Validate(); err != nil {
		s.fail(w, r, invalid(err))
		return
	}
	if err := s.store.Personas.Insert(r.Context(), &p); err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, p)
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Personas.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Projects.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, p)
}
