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

package statestore

import (
	"context"

	"go.opencensus.io/trace"
	"peereval.dev/peereval/internal/telemetry"
	"peereval.dev/peereval/pkg/model"
)

var (
	mStateStoreCreateEvaluationCount   = telemetry.Counter("statestore/createevaluationcount", "number of evaluations created")
	mStateStoreReplaceEvaluationCount  = telemetry.Counter("statestore/replaceevaluationcount", "number of evaluations removed by a replace")
	mStateStoreDeleteAssignmentCount   = telemetry.Counter("statestore/deleteassignmentcount", "number of assignments deleted")
	mStateStoreGetEvaluationCount      = telemetry.Counter("statestore/getevaluationcount", "number of evaluations retrieved")
	mStateStoreListEvaluationCount     = telemetry.Counter("statestore/listevaluationcount", "number of evaluations listed")
	mStateStoreUpdateEvaluationCount   = telemetry.Counter("statestore/updateevaluationcount", "number of evaluations updated")
	mStateStorePutFinalEvaluationCount = telemetry.Counter("statestore/putfinalevaluationcount", "number of final evaluations written")
	mStateStoreGetFinalEvaluationCount = telemetry.Counter("statestore/getfinalevaluationcount", "number of final evaluations retrieved")
)

// instrumentedService is a wrapper for a statestore service that provides instrumentation (metrics and tracing) of the database.
type instrumentedService struct {
	s Service
}

// Close the connection to the database.
func (is *instrumentedService) Close() error {
	return is.s.Close()
}

// HealthCheck indicates if the database is reachable.
func (is *instrumentedService) HealthCheck(ctx context.Context) error {
	return is.s.HealthCheck(ctx)
}

func (is *instrumentedService) CreateEvaluations(ctx context.Context, evals []*model.Evaluation) error {
	ctx, span := trace.StartSpan(ctx, "statestore/instrumented.CreateEvaluations")
	defer span.End()
	defer telemetry.RecordNUnitMeasurement(ctx, mStateStoreCreateEvaluationCount, int64(len(evals)))
	return is.s.CreateEvaluations(ctx, evals)
}

func (is *instrumentedService) ReplaceAssignmentEvaluations(ctx context.Context, assignmentID string, evals []*model.Evaluation) (int, error) {
	ctx, span := trace.StartSpan(ctx, "statestore/instrumented.ReplaceAssignmentEvaluations")
	defer span.End()
	removed, err := is.s.ReplaceAssignmentEvaluations(ctx, assignmentID, evals)
	if err == nil {
		telemetry.RecordNUnitMeasurement(ctx, mStateStoreReplaceEvaluationCount, int64(removed))
		telemetry.RecordNUnitMeasurement(ctx, mStateStoreCreateEvaluationCount, int64(len(evals)))
	}
	return removed, err
}

func (is *instrumentedService) DeleteAssignment(ctx context.Context, assignmentID string) (int, error) {
	ctx, span := trace.StartSpan(ctx, "statestore/instrumented.DeleteAssignment")
	defer span.End()
	defer telemetry.RecordUnitMeasurement(ctx, mStateStoreDeleteAssignmentCount)
	return is.s.DeleteAssignment(ctx, assignmentID)
}

func (is *instrumentedService) GetEvaluation(ctx context.Context, id string) (*model.Evaluation, error) {
	ctx, span := trace.StartSpan(ctx, "statestore/instrumented.GetEvaluation")
	defer span.End()
	defer telemetry.RecordUnitMeasurement(ctx, mStateStoreGetEvaluationCount)
	return is.s.GetEvaluation(ctx, id)
}

func (is *instrumentedService) GetEvaluations(ctx context.Context, ids []string) ([]*model.Evaluation, error) {
	ctx, span := trace.StartSpan(ctx, "statestore/instrumented.GetEvaluations")
	defer span.End()
	evals, err := is.s.GetEvaluations(ctx, ids)
	telemetry.RecordNUnitMeasurement(ctx, mStateStoreGetEvaluationCount, int64(len(evals)))
	return evals, err
}

func (is *instrumentedService) ListAssignmentEvaluations(ctx context.Context, assignmentID string) ([]*model.Evaluation, error) {
	ctx, span := trace.StartSpan(ctx, "statestore/instrumented.ListAssignmentEvaluations")
	defer span.End()
	evals, err := is.s.ListAssignmentEvaluations(ctx, assignmentID)
	telemetry.RecordNUnitMeasurement(ctx, mStateStoreListEvaluationCount, int64(len(evals)))
	return evals, err
}

func (is *instrumentedService) ListSubmissionEvaluations(ctx context.Context, submissionID string) ([]*model.Evaluation, error) {
	ctx, span := trace.StartSpan(ctx, "statestore/instrumented.ListSubmissionEvaluations")
	defer span.End()
	evals, err := is.s.ListSubmissionEvaluations(ctx, submissionID)
	telemetry.RecordNUnitMeasurement(ctx, mStateStoreListEvaluationCount, int64(len(evals)))
	return evals, err
}

func (is *instrumentedService) UpdateEvaluation(ctx context.Context, id string, fn UpdateFunc) (*model.Evaluation, error) {
	ctx, span := trace.StartSpan(ctx, "statestore/instrumented.UpdateEvaluation")
	defer span.End()
	defer telemetry.RecordUnitMeasurement(ctx, mStateStoreUpdateEvaluationCount)
	return is.s.UpdateEvaluation(ctx, id, fn)
}

func (is *instrumentedService) ListAssignmentIDs(ctx context.Context) ([]string, error) {
	ctx, span := trace.StartSpan(ctx, "statestore/instrumented.ListAssignmentIDs")
	defer span.End()
	return is.s.ListAssignmentIDs(ctx)
}

func (is *instrumentedService) PutFinalEvaluation(ctx context.Context, final *model.FinalEvaluation) error {
	ctx, span := trace.StartSpan(ctx, "statestore/instrumented.PutFinalEvaluation")
	defer span.End()
	defer telemetry.RecordUnitMeasurement(ctx, mStateStorePutFinalEvaluationCount)
	return is.s.PutFinalEvaluation(ctx, final)
}

func (is *instrumentedService) GetFinalEvaluation(ctx context.Context, submissionID string) (*model.FinalEvaluation, error) {
	ctx, span := trace.StartSpan(ctx, "statestore/instrumented.GetFinalEvaluation")
	defer span.End()
	defer telemetry.RecordUnitMeasurement(ctx, mStateStoreGetFinalEvaluationCount)
	return is.s.GetFinalEvaluation(ctx, submissionID)
}

func (is *instrumentedService) DeleteFinalEvaluation(ctx context.Context, submissionID string) error {
	ctx, span := trace.StartSpan(ctx, "statestore/instrumented.DeleteFinalEvaluation")
	defer span.End()
	return is.s.DeleteFinalEvaluation(ctx, submissionID)
}
