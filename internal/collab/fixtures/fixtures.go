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

// Package fixtures loads collaborator data from a YAML document into an
// in-memory backend. It serves local deployments and end to end tests.
package fixtures

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"peereval.dev/peereval/internal/collab/memory"
	"peereval.dev/peereval/pkg/model"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "peereval",
		"component": "collab.fixtures",
	})
)

type document struct {
	Admins      []string     `yaml:"admins"`
	Courses     []course     `yaml:"courses"`
	Assignments []assignment `yaml:"assignments"`
	Submissions []submission `yaml:"submissions"`
}

type course struct {
	ID          string   `yaml:"id"`
	Instructors []string `yaml:"instructors"`
}

type criterion struct {
	Name      string  `yaml:"name"`
	MaxPoints float64 `yaml:"maxPoints"`
	Optional  bool    `yaml:"optional"`
}

type settings struct {
	EvaluationsPerSubmission int       `yaml:"evaluationsPerSubmission"`
	MaxEvaluationsPerStudent int       `yaml:"maxEvaluationsPerStudent"`
	AnonymousEvaluation      bool      `yaml:"anonymousEvaluation"`
	AllowSelfEvaluation      bool      `yaml:"allowSelfEvaluation"`
	RequireEvaluatorComments bool      `yaml:"requireEvaluatorComments"`
	MinCommentLength         int       `yaml:"minCommentLength"`
	EvaluationDeadline       time.Time `yaml:"evaluationDeadline"`
}

type assignment struct {
	ID          string      `yaml:"id"`
	CourseID    string      `yaml:"courseId"`
	OwnerID     string      `yaml:"ownerId"`
	TotalPoints float64     `yaml:"totalPoints"`
	Settings    settings    `yaml:"peerEvaluationSettings"`
	Criteria    []criterion `yaml:"gradingCriteria"`
}

type submission struct {
	ID           string    `yaml:"id"`
	AssignmentID string    `yaml:"assignmentId"`
	AuthorID     string    `yaml:"authorId"`
	Status       string    `yaml:"status"`
	SubmittedAt  time.Time `yaml:"submittedAt"`
	IsLate       bool      `yaml:"isLate"`
}

// Load reads the fixtures file at path.
func Load(path string) (*memory.Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read fixtures file %s", path)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load fixtures file %s", path)
	}
	return s, nil
}

// Parse decodes a fixtures document.
func Parse(data []byte) (*memory.Store, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "invalid fixtures document")
	}

	s := memory.New()
	for _, id := range doc.Admins {
		s.AddAdmin(id)
	}
	for _, c := range doc.Courses {
		for _, id := range c.Instructors {
			s.AddInstructor(c.ID, id)
		}
	}
	known := map[string]bool{}
	for _, a := range doc.Assignments {
		if a.ID == "" {
			return nil, errors.New("assignment without id")
		}
		known[a.ID] = true
		s.PutAssignment(a.toModel())
	}
	for _, sub := range doc.Submissions {
		if !known[sub.AssignmentID] {
			return nil, errors.Errorf("submission %s references unknown assignment %s", sub.ID, sub.AssignmentID)
		}
		s.PutSubmission(model.Submission{
			ID:           sub.ID,
			AssignmentID: sub.AssignmentID,
			AuthorID:     sub.AuthorID,
			Status:       sub.Status,
			SubmittedAt:  sub.SubmittedAt,
			IsLate:       sub.IsLate,
		})
	}

	logger.WithFields(logrus.Fields{
		"assignments": len(doc.Assignments),
		"submissions": len(doc.Submissions),
	}).Info("loaded collaborator fixtures")
	return s, nil
}

func (a assignment) toModel() *model.Assignment {
	criteria := make([]model.GradingCriterion, 0, len(a.Criteria))
	for _, c := range a.Criteria {
		criteria = append(criteria, model.GradingCriterion{Name: c.Name, MaxPoints: c.MaxPoints, Optional: c.Optional})
	}
	return &model.Assignment{
		ID:          a.ID,
		CourseID:    a.CourseID,
		OwnerID:     a.OwnerID,
		TotalPoints: a.TotalPoints,
		Criteria:    criteria,
		Settings: model.PeerEvaluationSettings{
			EvaluationsPerSubmission: a.Settings.EvaluationsPerSubmission,
			MaxEvaluationsPerStudent: a.Settings.MaxEvaluationsPerStudent,
			AnonymousEvaluation:      a.Settings.AnonymousEvaluation,
			AllowSelfEvaluation:      a.Settings.AllowSelfEvaluation,
			RequireEvaluatorComments: a.Settings.RequireEvaluatorComments,
			MinCommentLength:         a.Settings.MinCommentLength,
			EvaluationDeadline:       a.Settings.EvaluationDeadline,
		},
	}
}
