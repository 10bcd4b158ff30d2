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

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"peereval.dev/peereval/internal/collab"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/pkg/model"
)

func TestStore(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s := New()

	_, err := s.GetAssignment(ctx, "a1")
	require.True(evalerr.Is(err, evalerr.KindNotFound))

	a := &model.Assignment{ID: "a1", CourseID: "c1", OwnerID: "t1", Criteria: []model.GradingCriterion{{Name: "clarity", MaxPoints: 10}}}
	s.PutAssignment(a)
	a.Criteria[0].MaxPoints = 99

	got, err := s.GetAssignment(ctx, "a1")
	require.NoError(err)
	require.Equal(float64(10), got.Criteria[0].MaxPoints)

	s.PutSubmission(model.Submission{ID: "s1", AssignmentID: "a1", AuthorID: "u1", Status: "submitted"})
	s.PutSubmission(model.Submission{ID: "s2", AssignmentID: "a1", AuthorID: "u2", Status: "submitted"})
	s.PutSubmission(model.Submission{ID: "s1", AssignmentID: "a1", AuthorID: "u1", Status: "late"})
	s.PutSubmission(model.Submission{ID: "s3", AssignmentID: "a1", AuthorID: "u3", Status: collab.SubmissionStatusDraft})

	subs, err := s.ListSubmissions(ctx, "a1")
	require.NoError(err)
	require.Len(subs, 2)
	require.Equal("late", subs[0].Status)
	require.Equal("s2", subs[1].ID)

	require.NoError(s.MarkEvaluated(ctx, "s2"))
	sub, ok := s.Submission("s2")
	require.True(ok)
	require.Equal(collab.SubmissionStatusEvaluated, sub.Status)
	require.True(evalerr.Is(s.MarkEvaluated(ctx, "nope"), evalerr.KindNotFound))

	s.AddAdmin("root")
	s.AddInstructor("c1", "ta")
	for actor, expected := range map[string]model.Role{
		"root": model.RoleAdmin,
		"t1":   model.RoleOwner,
		"ta":   model.RoleInstructor,
		"u1":   model.RoleStudent,
	} {
		role, err := s.Role(ctx, actor, got)
		require.NoError(err)
		require.Equal(expected, role, actor)
	}
}
