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

	"github.com/cenkalti/backoff"
	"github.com/gomodule/redigo/redis"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/internal/set"
	"peereval.dev/peereval/pkg/model"
)

func finalKey(submissionID string) string {
	return "final:" + submissionID
}

// PutFinalEvaluation writes the FinalEvaluation only while the submission's
// evaluation set still matches final.EvaluationIDs. A set that changed in the
// meantime, for example by a forced re-run, yields InvalidState.
func (rb *redisBackend) PutFinalEvaluation(ctx context.Context, final *model.FinalEvaluation) error {
	value, err := json.Marshal(final)
	if err != nil {
		return evalerr.Wrap(err, evalerr.KindPersistence, "failed to marshal final evaluation %s", final.SubmissionID)
	}

	return rb.withRetry(ctx, "PutFinalEvaluation", func(conn redis.Conn) error {
		indexKey := submissionEvaluationsKey(final.SubmissionID)
		if _, err := conn.Do("WATCH", indexKey); err != nil {
			return err
		}
		ids, err := redis.Strings(conn.Do("SMEMBERS", indexKey))
		if err != nil {
			return err
		}
		if !set.Equal(ids, final.EvaluationIDs) {
			return backoff.Permanent(evalerr.New(evalerr.KindInvalidState,
				"evaluation set of submission %s changed while it was being finalized", final.SubmissionID))
		}
		return execTx(conn, []command{cmd("SET", finalKey(final.SubmissionID), value)})
	})
}

// GetFinalEvaluation gets the FinalEvaluation of a submission.
func (rb *redisBackend) GetFinalEvaluation(ctx context.Context, submissionID string) (*model.FinalEvaluation, error) {
	final := &model.FinalEvaluation{}
	err := rb.withRetry(ctx, "GetFinalEvaluation", func(conn redis.Conn) error {
		value, err := redis.Bytes(conn.Do("GET", finalKey(submissionID)))
		if err == redis.ErrNil {
			return backoff.Permanent(evalerr.New(evalerr.KindNotFound, "final evaluation for submission id:%s not found", submissionID))
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(value, final); err != nil {
			return backoff.Permanent(evalerr.Wrap(err, evalerr.KindPersistence, "final evaluation for submission id:%s is corrupt", submissionID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

// DeleteFinalEvaluation removes the FinalEvaluation of a submission.
func (rb *redisBackend) DeleteFinalEvaluation(ctx context.Context, submissionID string) error {
	return rb.withRetry(ctx, "DeleteFinalEvaluation", func(conn redis.Conn) error {
		_, err := conn.Do("DEL", finalKey(submissionID))
		return err
	})
}
