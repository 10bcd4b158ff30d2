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

// Package memory is an in-process collaborator backend used by tests and by
// the fixtures loader.
package memory

import (
	"context"
	"sync"

	"peereval.dev/peereval/internal/collab"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/pkg/model"
)

// Store keeps assignments, submissions and roles in maps.
type Store struct {
	mu          sync.RWMutex
	assignments map[string]*model.Assignment
	submissions map[string][]model.Submission
	admins      map[string]bool
	instructors map[string]map[string]bool
}

var _ collab.Backend = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		assignments: map[string]*model.Assignment{},
		submissions: map[string][]model.Submission{},
		admins:      map[string]bool{},
		instructors: map[string]map[string]bool{},
	}
}

// PutAssignment creates or replaces an assignment.
func (s *Store) PutAssignment(a *model.Assignment) {
	c := *a
	c.Criteria = append([]model.GradingCriterion(nil), a.Criteria...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.ID] = &c
}

// PutSubmission creates or replaces a submission.
func (s *Store) PutSubmission(sub model.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.submissions[sub.AssignmentID]
	for i := range list {
		if list[i].ID == sub.ID {
			list[i] = sub
			return
		}
	}
	s.submissions[sub.AssignmentID] = append(list, sub)
}

// AddAdmin grants userID the admin role everywhere.
func (s *Store) AddAdmin(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[userID] = true
}

// AddInstructor grants userID the instructor role on a course.
func (s *Store) AddInstructor(courseID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instructors[courseID] == nil {
		s.instructors[courseID] = map[string]bool{}
	}
	s.instructors[courseID][userID] = true
}

// Submission returns a stored submission by id.
func (s *Store) Submission(submissionID string) (model.Submission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, list := range s.submissions {
		for _, sub := range list {
			if sub.ID == submissionID {
				return sub, true
			}
		}
	}
	return model.Submission{}, false
}

// ListSubmissions implements collab.SubmissionPool. Drafts are skipped.
func (s *Store) ListSubmissions(_ context.Context, assignmentID string) ([]model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Submission, 0, len(s.submissions[assignmentID]))
	for _, sub := range s.submissions[assignmentID] {
		if sub.Status == collab.SubmissionStatusDraft {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// MarkEvaluated implements collab.SubmissionPool.
func (s *Store) MarkEvaluated(_ context.Context, submissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.submissions {
		for i := range list {
			if list[i].ID == submissionID {
				list[i].Status = collab.SubmissionStatusEvaluated
				return nil
			}
		}
	}
	return evalerr.New(evalerr.KindNotFound, "submission id:%s not found", submissionID)
}

// GetAssignment implements collab.AssignmentDirectory.
func (s *Store) GetAssignment(_ context.Context, assignmentID string) (*model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[assignmentID]
	if !ok {
		return nil, evalerr.New(evalerr.KindNotFound, "assignment id:%s not found", assignmentID)
	}
	c := *a
	c.Criteria = append([]model.GradingCriterion(nil), a.Criteria...)
	return &c, nil
}

// Role implements collab.IdentityService.
func (s *Store) Role(_ context.Context, actorID string, assignment *model.Assignment) (model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return collab.ResolveRole(actorID, assignment, s.admins[actorID], s.instructors[assignment.CourseID][actorID]), nil
}

// Close implements collab.Backend.
func (s *Store) Close() error {
	return nil
}
