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
	"encoding/json"
	"sort"

	"github.com/cenkalti/backoff"
	"github.com/gomodule/redigo/redis"
	"github.com/sirupsen/logrus"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/pkg/model"
)

const allAssignments = "assignments"

func evaluationKey(id string) string {
	return "evaluation:" + id
}

func assignmentEvaluationsKey(assignmentID string) string {
	return "assignment:" + assignmentID + ":evaluations"
}

func assignmentSubmissionsKey(assignmentID string) string {
	return "assignment:" + assignmentID + ":submissions"
}

func submissionEvaluationsKey(submissionID string) string {
	return "submission:" + submissionID + ":evaluations"
}

// CreateEvaluations stores new Evaluations. If an id already exists, it will be overwritten.
func (rb *redisBackend) CreateEvaluations(ctx context.Context, evals []*model.Evaluation) error {
	if len(evals) == 0 {
		return nil
	}
	cmds, err := createCommands(evals)
	if err != nil {
		return err
	}

	return rb.withRetry(ctx, "CreateEvaluations", func(conn redis.Conn) error {
		return execTx(conn, cmds)
	})
}

// ReplaceAssignmentEvaluations swaps the Evaluation set of an assignment in a
// single transaction so readers never observe the assignment without evaluations.
func (rb *redisBackend) ReplaceAssignmentEvaluations(ctx context.Context, assignmentID string, evals []*model.Evaluation) (int, error) {
	for _, e := range evals {
		if e.AssignmentID != assignmentID {
			return 0, evalerr.New(evalerr.KindValidation, "evaluation %s belongs to assignment %s, not %s", e.ID, e.AssignmentID, assignmentID)
		}
	}
	creates, err := createCommands(evals)
	if err != nil {
		return 0, err
	}
	return rb.replace(ctx, "ReplaceAssignmentEvaluations", assignmentID, creates, false)
}

// DeleteAssignment removes every Evaluation and FinalEvaluation of the assignment.
func (rb *redisBackend) DeleteAssignment(ctx context.Context, assignmentID string) (int, error) {
	return rb.replace(ctx, "DeleteAssignment", assignmentID, nil, true)
}

func (rb *redisBackend) replace(ctx context.Context, name, assignmentID string, creates []command, forget bool) (int, error) {
	removed := 0
	err := rb.withRetry(ctx, name, func(conn redis.Conn) error {
		evalsKey := assignmentEvaluationsKey(assignmentID)
		subsKey := assignmentSubmissionsKey(assignmentID)
		if _, err := conn.Do("WATCH", evalsKey, subsKey); err != nil {
			return err
		}

		oldIDs, err := redis.Strings(conn.Do("SMEMBERS", evalsKey))
		if err != nil {
			return err
		}
		oldSubmissionIDs, err := redis.Strings(conn.Do("SMEMBERS", subsKey))
		if err != nil {
			return err
		}

		cmds := make([]command, 0, len(oldIDs)+len(oldSubmissionIDs)+len(creates)+2)
		for _, id := range oldIDs {
			cmds = append(cmds, cmd("DEL", evaluationKey(id)))
		}
		for _, sid := range oldSubmissionIDs {
			cmds = append(cmds, cmd("DEL", submissionEvaluationsKey(sid), finalKey(sid)))
		}
		cmds = append(cmds, cmd("DEL", evalsKey, subsKey))
		if forget {
			cmds = append(cmds, cmd("SREM", allAssignments, assignmentID))
		}
		cmds = append(cmds, creates...)

		if err := execTx(conn, cmds); err != nil {
			return err
		}
		removed = len(oldIDs)
		return nil
	})
	if err != nil {
		return 0, err
	}

	redisLogger.WithFields(logrus.Fields{
		"assignmentId": assignmentID,
		"removed":      removed,
		"op":           name,
	}).Debug("replaced assignment evaluations")
	return removed, nil
}

func createCommands(evals []*model.Evaluation) ([]command, error) {
	cmds := make([]command, 0, 5*len(evals))
	for _, e := range evals {
		value, err := json.Marshal(e)
		if err != nil {
			return nil, evalerr.Wrap(err, evalerr.KindPersistence, "failed to marshal evaluation %s", e.ID)
		}
		cmds = append(cmds,
			cmd("SET", evaluationKey(e.ID), value),
			cmd("SADD", assignmentEvaluationsKey(e.AssignmentID), e.ID),
			cmd("SADD", submissionEvaluationsKey(e.SubmissionID), e.ID),
			cmd("SADD", assignmentSubmissionsKey(e.AssignmentID), e.SubmissionID),
			cmd("SADD", allAssignments, e.AssignmentID),
		)
	}
	return cmds, nil
}

// GetEvaluation gets the Evaluation with the specified id from state storage.
func (rb *redisBackend) GetEvaluation(ctx context.Context, id string) (*model.Evaluation, error) {
	var eval *model.Evaluation
	err := rb.withRetry(ctx, "GetEvaluation", func(conn redis.Conn) error {
		var err error
		eval, err = getEvaluation(conn, id)
		return err
	})
	return eval, err
}

func getEvaluation(conn redis.Conn, id string) (*model.Evaluation, error) {
	value, err := redis.Bytes(conn.Do("GET", evaluationKey(id)))
	if err == redis.ErrNil {
		return nil, backoff.Permanent(evalerr.New(evalerr.KindNotFound, "evaluation id:%s not found", id))
	}
	if err != nil {
		return nil, err
	}
	return unmarshalEvaluation(id, value)
}

func unmarshalEvaluation(id string, value []byte) (*model.Evaluation, error) {
	eval := &model.Evaluation{}
	if err := json.Unmarshal(value, eval); err != nil {
		redisLogger.WithFields(logrus.Fields{
			"key":   evaluationKey(id),
			"error": err.Error(),
		}).Error("failed to unmarshal the evaluation")
		return nil, backoff.Permanent(evalerr.Wrap(err, evalerr.KindPersistence, "evaluation id:%s is corrupt", id))
	}
	return eval, nil
}

// GetEvaluations returns multiple evaluations from storage. Missing evaluations
// are silently ignored.
func (rb *redisBackend) GetEvaluations(ctx context.Context, ids []string) ([]*model.Evaluation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var evals []*model.Evaluation
	err := rb.withRetry(ctx, "GetEvaluations", func(conn redis.Conn) error {
		var err error
		evals, err = getEvaluations(conn, ids)
		return err
	})
	return evals, err
}

func getEvaluations(conn redis.Conn, ids []string) ([]*model.Evaluation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	queryParams := make([]interface{}, len(ids))
	for i, id := range ids {
		queryParams[i] = evaluationKey(id)
	}

	values, err := redis.ByteSlices(conn.Do("MGET", queryParams...))
	if err != nil {
		return nil, err
	}

	r := make([]*model.Evaluation, 0, len(ids))
	for i, b := range values {
		// Evaluations may be deleted by the time we read them from redis.
		if b == nil {
			continue
		}
		eval, err := unmarshalEvaluation(ids[i], b)
		if err != nil {
			return nil, err
		}
		r = append(r, eval)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r, nil
}

// ListAssignmentEvaluations returns every Evaluation of an assignment.
func (rb *redisBackend) ListAssignmentEvaluations(ctx context.Context, assignmentID string) ([]*model.Evaluation, error) {
	return rb.listIndexed(ctx, "ListAssignmentEvaluations", assignmentEvaluationsKey(assignmentID))
}

// ListSubmissionEvaluations returns every Evaluation of a submission.
func (rb *redisBackend) ListSubmissionEvaluations(ctx context.Context, submissionID string) ([]*model.Evaluation, error) {
	return rb.listIndexed(ctx, "ListSubmissionEvaluations", submissionEvaluationsKey(submissionID))
}

func (rb *redisBackend) listIndexed(ctx context.Context, name, indexKey string) ([]*model.Evaluation, error) {
	var evals []*model.Evaluation
	err := rb.withRetry(ctx, name, func(conn redis.Conn) error {
		ids, err := redis.Strings(conn.Do("SMEMBERS", indexKey))
		if err != nil {
			return err
		}
		evals, err = getEvaluations(conn, ids)
		return err
	})
	return evals, err
}

// UpdateEvaluation reads the Evaluation under WATCH, applies fn and writes the
// result back with MULTI/EXEC. A concurrent write aborts the EXEC and the whole
// read-modify-write is retried.
func (rb *redisBackend) UpdateEvaluation(ctx context.Context, id string, fn UpdateFunc) (*model.Evaluation, error) {
	var updated *model.Evaluation
	err := rb.withRetry(ctx, "UpdateEvaluation", func(conn redis.Conn) error {
		key := evaluationKey(id)
		if _, err := conn.Do("WATCH", key); err != nil {
			return err
		}

		current, err := getEvaluation(conn, id)
		if err != nil {
			return err
		}

		next, err := fn(current.Clone())
		if err != nil {
			return backoff.Permanent(err)
		}
		if next.ID != current.ID || next.AssignmentID != current.AssignmentID || next.SubmissionID != current.SubmissionID {
			return backoff.Permanent(evalerr.New(evalerr.KindValidation, "evaluation %s cannot change its identity", id))
		}
		next.Version = current.Version + 1

		value, err := json.Marshal(next)
		if err != nil {
			return backoff.Permanent(evalerr.Wrap(err, evalerr.KindPersistence, "failed to marshal evaluation %s", id))
		}
		if err := execTx(conn, []command{cmd("SET", key, value)}); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListAssignmentIDs returns the ids of every assignment with stored Evaluations.
func (rb *redisBackend) ListAssignmentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := rb.withRetry(ctx, "ListAssignmentIDs", func(conn redis.Conn) error {
		var err error
		ids, err = redis.Strings(conn.Do("SMEMBERS", allAssignments))
		return err
	})
	sort.Strings(ids)
	return ids, err
}
