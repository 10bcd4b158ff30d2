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

package evaluation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"peereval.dev/peereval/internal/app/finalize"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/pkg/model"
)

// SweepResult counts what one sweep changed.
type SweepResult struct {
	Assignments int `json:"assignments"`
	Expired     int `json:"expired"`
	Finalized   int `json:"finalized"`
}

// Sweep expires every overdue pending evaluation and finalizes complete
// submissions that lack a current FinalEvaluation, for instance because
// finalization failed after a submit was stored.
func (c *Controller) Sweep(ctx context.Context) (SweepResult, error) {
	ids, err := c.store.ListAssignmentIDs(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	var expired, finalized atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.opts.SweepConcurrency, 1))
	for _, id := range ids {
		id := id
		g.Go(func() error {
			e, f, err := c.sweepAssignment(gctx, id)
			expired.Add(int64(e))
			finalized.Add(int64(f))
			return err
		})
	}
	err = g.Wait()

	result := SweepResult{
		Assignments: len(ids),
		Expired:     int(expired.Load()),
		Finalized:   int(finalized.Load()),
	}
	return result, err
}

func (c *Controller) sweepAssignment(ctx context.Context, assignmentID string) (int, int, error) {
	evals, err := c.store.ListAssignmentEvaluations(ctx, assignmentID)
	if err != nil {
		return 0, 0, err
	}

	expired := 0
	bySubmission := map[string][]*model.Evaluation{}
	for _, e := range evals {
		e, changed, err := c.expireIfDue(ctx, e)
		if err != nil {
			return expired, 0, err
		}
		if changed {
			expired++
		}
		bySubmission[e.SubmissionID] = append(bySubmission[e.SubmissionID], e)
	}

	var assignment *model.Assignment
	finalized := 0
	for _, sid := range submissionIDs(evals) {
		if !complete(bySubmission[sid]) {
			continue
		}
		final, err := c.store.GetFinalEvaluation(ctx, sid)
		if err == nil && final.Fingerprint == finalize.Fingerprint(bySubmission[sid]) {
			continue
		}
		if err != nil && !evalerr.Is(err, evalerr.KindNotFound) {
			return expired, finalized, err
		}

		if assignment == nil {
			assignment, err = c.directory.GetAssignment(ctx, assignmentID)
			if evalerr.Is(err, evalerr.KindNotFound) {
				logger.WithField("assignmentId", assignmentID).Warning("skipping evaluations of an unknown assignment")
				return expired, finalized, nil
			}
			if err != nil {
				return expired, finalized, err
			}
		}
		final, err = c.finalizer.Recompute(ctx, assignment, sid)
		if err != nil {
			return expired, finalized, err
		}
		if final != nil {
			finalized++
		}
	}
	return expired, finalized, nil
}

func complete(evals []*model.Evaluation) bool {
	for _, e := range evals {
		if !e.Status.Completed() {
			return false
		}
	}
	return len(evals) > 0
}

// Run sweeps every SweepInterval until ctx is done. It returns immediately
// when the interval is not positive.
func (c *Controller) Run(ctx context.Context) {
	if c.opts.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := c.Sweep(ctx)
			entry := logger.WithFields(logrus.Fields{
				"assignments": result.Assignments,
				"expired":     result.Expired,
				"finalized":   result.Finalized,
			})
			if err != nil {
				entry.WithError(err).Error("sweep failed")
				continue
			}
			entry.Debug("sweep complete")
		}
	}
}
