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

// Package postgres reads collaborator data from the platform's relational
// database with gorm.
package postgres

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"peereval.dev/peereval/internal/collab"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/pkg/model"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "peereval",
		"component": "collab.postgres",
	})
)

// Repository implements collab.Backend on top of gorm.
type Repository struct {
	db *gorm.DB
}

var _ collab.Backend = (*Repository)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, evalerr.New(evalerr.KindConfiguration, "postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open gorm postgres")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "resolve postgres sql db handle")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	logger.Info("connected to postgres")
	return NewRepository(db), nil
}

// NewRepository wraps an existing gorm handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the collaborator tables when they are missing.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&assignmentModel{},
		&criterionModel{},
		&submissionModel{},
		&userModel{},
		&courseInstructorModel{},
	)
}

// ListSubmissions implements collab.SubmissionPool.
func (r *Repository) ListSubmissions(ctx context.Context, assignmentID string) ([]model.Submission, error) {
	var rows []submissionModel
	err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Where("status <> ?", collab.SubmissionStatusDraft).
		Order("submission_id").
		Find(&rows).
		Error
	if err != nil {
		return nil, evalerr.Wrap(err, evalerr.KindPersistence, "cannot list submissions of assignment %s", assignmentID)
	}

	items := make([]model.Submission, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toModel())
	}
	return items, nil
}

// MarkEvaluated implements collab.SubmissionPool.
func (r *Repository) MarkEvaluated(ctx context.Context, submissionID string) error {
	result := r.db.WithContext(ctx).
		Model(&submissionModel{}).
		Where("submission_id = ?", submissionID).
		Updates(map[string]interface{}{
			"status":     collab.SubmissionStatusEvaluated,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return evalerr.Wrap(result.Error, evalerr.KindPersistence, "cannot update submission %s", submissionID)
	}
	if result.RowsAffected == 0 {
		return evalerr.New(evalerr.KindNotFound, "submission id:%s not found", submissionID)
	}
	return nil
}

// GetAssignment implements collab.AssignmentDirectory.
func (r *Repository) GetAssignment(ctx context.Context, assignmentID string) (*model.Assignment, error) {
	var row assignmentModel
	err := r.db.WithContext(ctx).
		Preload("Criteria", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("assignment_id = ?", assignmentID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, evalerr.New(evalerr.KindNotFound, "assignment id:%s not found", assignmentID)
		}
		return nil, evalerr.Wrap(err, evalerr.KindPersistence, "cannot load assignment %s", assignmentID)
	}
	return row.toModel(), nil
}

// Role implements collab.IdentityService.
func (r *Repository) Role(ctx context.Context, actorID string, assignment *model.Assignment) (model.Role, error) {
	var user userModel
	admin := false
	err := r.db.WithContext(ctx).Where("user_id = ?", actorID).First(&user).Error
	switch {
	case err == nil:
		admin = user.IsAdmin
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return "", evalerr.Wrap(err, evalerr.KindPersistence, "cannot resolve user %s", actorID)
	}

	var count int64
	err = r.db.WithContext(ctx).
		Model(&courseInstructorModel{}).
		Where("course_id = ?", assignment.CourseID).
		Where("user_id = ?", actorID).
		Count(&count).
		Error
	if err != nil {
		return "", evalerr.Wrap(err, evalerr.KindPersistence, "cannot resolve instructors of course %s", assignment.CourseID)
	}
	return collab.ResolveRole(actorID, assignment, admin, count > 0), nil
}

// SaveAssignment upserts an assignment and replaces its criteria.
func (r *Repository) SaveAssignment(ctx context.Context, a *model.Assignment) error {
	row := assignmentModelFromDomain(a)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Criteria").Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("assignment_id = ?", a.ID).Delete(&criterionModel{}).Error; err != nil {
			return err
		}
		if len(row.Criteria) == 0 {
			return nil
		}
		return tx.Create(&row.Criteria).Error
	})
}

// SaveSubmission upserts a submission.
func (r *Repository) SaveSubmission(ctx context.Context, s model.Submission) error {
	row := submissionModelFromDomain(s)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// Close releases the database handle.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
