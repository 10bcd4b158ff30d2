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

// Package statestore is the Evaluation Record Store. It holds Evaluations and
// FinalEvaluations together with the indexes needed to list them by
// assignment and by submission.
package statestore

import (
	"context"

	"peereval.dev/peereval/internal/config"
	"peereval.dev/peereval/internal/telemetry"
	"peereval.dev/peereval/pkg/model"
)

// UpdateFunc receives the stored Evaluation and returns its replacement.
// Returning an error aborts the update and the error is surfaced unchanged.
type UpdateFunc func(current *model.Evaluation) (*model.Evaluation, error)

// Service is a generic interface for talking to a storage backend.
type Service interface {
	// HealthCheck indicates if the database is reachable.
	HealthCheck(ctx context.Context) error

	// CreateEvaluations stores new Evaluations and indexes them by assignment and submission.
	CreateEvaluations(ctx context.Context, evals []*model.Evaluation) error

	// ReplaceAssignmentEvaluations atomically removes every Evaluation and FinalEvaluation
	// of the assignment and stores evals in their place. It returns the number of removed Evaluations.
	ReplaceAssignmentEvaluations(ctx context.Context, assignmentID string, evals []*model.Evaluation) (int, error)

	// DeleteAssignment removes every Evaluation and FinalEvaluation of the assignment.
	DeleteAssignment(ctx context.Context, assignmentID string) (int, error)

	// GetEvaluation gets the Evaluation with the specified id. This method fails with NotFound if it does not exist.
	GetEvaluation(ctx context.Context, id string) (*model.Evaluation, error)

	// GetEvaluations returns the Evaluations for ids sorted by id. Missing ids are silently ignored.
	GetEvaluations(ctx context.Context, ids []string) ([]*model.Evaluation, error)

	// ListAssignmentEvaluations returns every Evaluation of an assignment sorted by id.
	ListAssignmentEvaluations(ctx context.Context, assignmentID string) ([]*model.Evaluation, error)

	// ListSubmissionEvaluations returns every Evaluation of a submission sorted by id.
	ListSubmissionEvaluations(ctx context.Context, submissionID string) ([]*model.Evaluation, error)

	// UpdateEvaluation applies fn to the stored Evaluation with optimistic concurrency and
	// bumps its version. Concurrent writers cause fn to be re-run on the fresh record.
	UpdateEvaluation(ctx context.Context, id string, fn UpdateFunc) (*model.Evaluation, error)

	// ListAssignmentIDs returns the ids of every assignment with stored Evaluations.
	ListAssignmentIDs(ctx context.Context) ([]string, error)

	// PutFinalEvaluation creates or overwrites the FinalEvaluation of a submission.
	PutFinalEvaluation(ctx context.Context, final *model.FinalEvaluation) error

	// GetFinalEvaluation gets the FinalEvaluation of a submission. This method fails with NotFound if it does not exist.
	GetFinalEvaluation(ctx context.Context, submissionID string) (*model.FinalEvaluation, error)

	// DeleteFinalEvaluation removes the FinalEvaluation of a submission. This method succeeds if it does not exist.
	DeleteFinalEvaluation(ctx context.Context, submissionID string) error

	// Closes the connection to the underlying storage.
	Close() error
}

// New creates a Service based on the configuration.
func New(cfg config.View) Service {
	s := newRedis(cfg)
	if cfg.GetBool(telemetry.ConfigNameEnableMetrics) {
		return &instrumentedService{
			s: s,
		}
	}
	return s
}
