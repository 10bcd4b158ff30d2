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

// Package collab declares the collaborators the engine consumes: the
// Submission Pool, the assignment configuration and the identity service.
package collab

import (
	"context"

	"peereval.dev/peereval/pkg/model"
)

// SubmissionStatusEvaluated is the status the Submission Pool records once a
// submission has a FinalEvaluation.
const SubmissionStatusEvaluated = "evaluated"

// SubmissionStatusDraft marks a submission that is not handed in yet. Drafts
// are never offered for evaluation.
const SubmissionStatusDraft = "draft"

// SubmissionPool supplies the eligible submissions of an assignment.
type SubmissionPool interface {
	// ListSubmissions returns the submissions eligible for peer evaluation.
	ListSubmissions(ctx context.Context, assignmentID string) ([]model.Submission, error)
	// MarkEvaluated is the status update hook invoked once a submission is finalized.
	MarkEvaluated(ctx context.Context, submissionID string) error
}

// AssignmentDirectory resolves assignment configuration.
type AssignmentDirectory interface {
	// GetAssignment fails with NotFound if the assignment does not exist.
	GetAssignment(ctx context.Context, assignmentID string) (*model.Assignment, error)
}

// IdentityService resolves an actor's role for permission checks.
type IdentityService interface {
	Role(ctx context.Context, actorID string, assignment *model.Assignment) (model.Role, error)
}

// Backend bundles every collaborator port.
type Backend interface {
	SubmissionPool
	AssignmentDirectory
	IdentityService
	Close() error
}

// ResolveRole ranks what is known about an actor: admins first, then the
// assignment owner, then course instructors.
func ResolveRole(actorID string, assignment *model.Assignment, admin, instructor bool) model.Role {
	switch {
	case admin:
		return model.RoleAdmin
	case actorID != "" && actorID == assignment.OwnerID:
		return model.RoleOwner
	case instructor:
		return model.RoleInstructor
	default:
		return model.RoleStudent
	}
}
