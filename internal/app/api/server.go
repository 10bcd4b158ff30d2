// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the engine's operations as JSON over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"peereval.dev/peereval/internal/app/evaluation"
	"peereval.dev/peereval/internal/app/reassign"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/internal/telemetry"
	"peereval.dev/peereval/pkg/model"
)

// ActorHeader carries the id of the calling actor.
const ActorHeader = "X-Actor-Id"

const maxBodyBytes = 1 << 20

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "peereval",
		"component": "app.api",
	})
	mRequestCount     = telemetry.Counter("api/requestcount", "HTTP requests served")
	mErrorCount       = telemetry.Counter("api/errorcount", "HTTP requests that failed")
	mRateLimitedCount = telemetry.Counter("api/ratelimitedcount", "HTTP requests rejected by the rate limiter")
)

// Matcher assigns evaluators.
type Matcher interface {
	TriggerAssignment(ctx context.Context, actorID, assignmentID string, override *model.SettingsOverride, force bool) (*model.AssignmentResult, error)
}

// Lifecycle drives evaluations and answers status queries.
type Lifecycle interface {
	Start(ctx context.Context, evaluationID, actorID string) (*model.Evaluation, error)
	Submit(ctx context.Context, evaluationID, actorID string, req evaluation.SubmitRequest) (*model.Evaluation, error)
	Review(ctx context.Context, evaluationID, actorID string, approved bool, notes string) (*model.Evaluation, error)
	GetEvaluation(ctx context.Context, evaluationID, actorID string) (*model.Evaluation, error)
	ListSubmissionEvaluations(ctx context.Context, submissionID, actorID string) ([]*model.Evaluation, error)
	GetAssignmentEvaluationStatus(ctx context.Context, assignmentID string) (*model.AssignmentEvaluationStatus, error)
	GetFinalEvaluation(ctx context.Context, submissionID string) (*model.FinalEvaluation, error)
	FinalizeAssignment(ctx context.Context, assignmentID, actorID string) ([]*model.FinalEvaluation, error)
	CancelAssignment(ctx context.Context, assignmentID, actorID string) (int, error)
}

// Reassigner replaces evaluators.
type Reassigner interface {
	Reassign(ctx context.Context, evaluationID, actorID string, req reassign.Request) (*model.Evaluation, error)
}

// Server routes HTTP requests to the engine.
type Server struct {
	matcher    Matcher
	lifecycle  Lifecycle
	reassigner Reassigner
	limiter    *Limiter
}

// New creates a Server.
func New(matcher Matcher, lifecycle Lifecycle, reassigner Reassigner, limiter *Limiter) *Server {
	return &Server{
		matcher:    matcher,
		lifecycle:  lifecycle,
		reassigner: reassigner,
		limiter:    limiter,
	}
}

type handler func(r *http.Request, actorID string) (interface{}, error)

// Register adds the /v1 routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("POST /v1/assignments/{target}", s.wrap(s.assignmentAction))
	mux.Handle("DELETE /v1/assignments/{assignmentId}", s.wrap(s.cancelAssignment))
	mux.Handle("GET /v1/assignments/{assignmentId}/status", s.wrap(s.assignmentStatus))
	mux.Handle("GET /v1/evaluations/{evaluationId}", s.wrap(s.getEvaluation))
	mux.Handle("POST /v1/evaluations/{target}", s.wrap(s.evaluationAction))
	mux.Handle("GET /v1/submissions/{submissionId}/evaluations", s.wrap(s.submissionEvaluations))
	mux.Handle("GET /v1/submissions/{submissionId}/final", s.wrap(s.finalEvaluation))
}

func (s *Server) wrap(h handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		telemetry.RecordUnitMeasurement(ctx, mRequestCount)
		actorID := strings.TrimSpace(r.Header.Get(ActorHeader))

		key := actorID
		if key == "" {
			key = r.RemoteAddr
		}
		if s.limiter != nil && !s.limiter.Allow(key) {
			telemetry.RecordUnitMeasurement(ctx, mRateLimitedCount)
			writeJSON(w, http.StatusTooManyRequests, errorBody{Code: "RateLimitExceeded", Message: "too many requests from " + key})
			return
		}

		resp, err := h(r, actorID)
		if err != nil {
			telemetry.RecordUnitMeasurement(ctx, mErrorCount)
			status := evalerr.HTTPStatus(err)
			entry := logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"actor":  actorID,
				"status": status,
				"error":  err.Error(),
			})
			if status >= http.StatusInternalServerError {
				entry.Error("request failed")
			} else {
				entry.Debug("request rejected")
			}
			writeJSON(w, status, errorBody{Code: evalerr.KindOf(err).String(), Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Debug("failed to write response")
	}
}

// decode reads an optional JSON body into v.
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return evalerr.Wrap(err, evalerr.KindValidation, "malformed request body")
	}
	return nil
}

// splitAction splits "<id>:<action>".
func splitAction(target string) (string, string, error) {
	id, action, ok := strings.Cut(target, ":")
	if !ok || id == "" || action == "" {
		return "", "", evalerr.New(evalerr.KindNotFound, "no route for %q", target)
	}
	return id, action, nil
}

type assignRequest struct {
	SettingsOverride *model.SettingsOverride `json:"settingsOverride,omitempty"`
	Force            bool                    `json:"force"`
}

type finalizeResponse struct {
	FinalEvaluations []*model.FinalEvaluation `json:"finalEvaluations"`
}

type cancelResponse struct {
	CancelledCount int `json:"cancelledCount"`
}

func (s *Server) assignmentAction(r *http.Request, actorID string) (interface{}, error) {
	assignmentID, action, err := splitAction(r.PathValue("target"))
	if err != nil {
		return nil, err
	}
	switch action {
	case "assign":
		var req assignRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return s.matcher.TriggerAssignment(r.Context(), actorID, assignmentID, req.SettingsOverride, req.Force)
	case "finalize":
		finals, err := s.lifecycle.FinalizeAssignment(r.Context(), assignmentID, actorID)
		if err != nil {
			return nil, err
		}
		return finalizeResponse{FinalEvaluations: finals}, nil
	}
	return nil, evalerr.New(evalerr.KindNotFound, "unknown assignment action %q", action)
}

func (s *Server) cancelAssignment(r *http.Request, actorID string) (interface{}, error) {
	n, err := s.lifecycle.CancelAssignment(r.Context(), r.PathValue("assignmentId"), actorID)
	if err != nil {
		return nil, err
	}
	return cancelResponse{CancelledCount: n}, nil
}

func (s *Server) assignmentStatus(r *http.Request, _ string) (interface{}, error) {
	return s.lifecycle.GetAssignmentEvaluationStatus(r.Context(), r.PathValue("assignmentId"))
}

func (s *Server) getEvaluation(r *http.Request, actorID string) (interface{}, error) {
	return s.lifecycle.GetEvaluation(r.Context(), r.PathValue("evaluationId"), actorID)
}

type reviewRequest struct {
	Approved bool   `json:"approved"`
	Notes    string `json:"notes"`
}

func (s *Server) evaluationAction(r *http.Request, actorID string) (interface{}, error) {
	evaluationID, action, err := splitAction(r.PathValue("target"))
	if err != nil {
		return nil, err
	}
	ctx := r.Context()
	switch action {
	case "start":
		return s.lifecycle.Start(ctx, evaluationID, actorID)
	case "submit":
		var req evaluation.SubmitRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return s.lifecycle.Submit(ctx, evaluationID, actorID, req)
	case "review":
		var req reviewRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return s.lifecycle.Review(ctx, evaluationID, actorID, req.Approved, req.Notes)
	case "reassign":
		var req reassign.Request
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return s.reassigner.Reassign(ctx, evaluationID, actorID, req)
	}
	return nil, evalerr.New(evalerr.KindNotFound, "unknown evaluation action %q", action)
}

type evaluationsResponse struct {
	Evaluations []*model.Evaluation `json:"evaluations"`
}

func (s *Server) submissionEvaluations(r *http.Request, actorID string) (interface{}, error) {
	evals, err := s.lifecycle.ListSubmissionEvaluations(r.Context(), r.PathValue("submissionId"), actorID)
	if err != nil {
		return nil, err
	}
	return evaluationsResponse{Evaluations: evals}, nil
}

func (s *Server) finalEvaluation(r *http.Request, _ string) (interface{}, error) {
	return s.lifecycle.GetFinalEvaluation(r.Context(), r.PathValue("submissionId"))
}
