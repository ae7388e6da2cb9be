package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openlearn/coursestore/common/db"
	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/keys"
	"github.com/openlearn/coursestore/common/models"
)

// CourseIndexRepository handles database operations for course branch
// pointers in the version-graph store
type CourseIndexRepository struct {
	db *db.DB
}

// NewCourseIndexRepository creates a new course index repository
func NewCourseIndexRepository(db *db.DB) *CourseIndexRepository {
	return &CourseIndexRepository{db: db}
}

// Create inserts a new course index
func (r *CourseIndexRepository) Create(ctx context.Context, idx *models.CourseIndex) error {
	query := `
		INSERT INTO course_index (org, course, run, versions, edited_by, edited_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Exec(ctx, query,
		idx.Org,
		idx.Course,
		idx.Run,
		idx.Versions,
		idx.EditedBy,
		idx.EditedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &errs.DuplicateCourseError{CourseID: idx.CourseKey().String()}
		}
		return fmt.Errorf("failed to create course index: %w", err)
	}

	return nil
}

// Get retrieves a course index by its identity triple
func (r *CourseIndexRepository) Get(ctx context.Context, course keys.CourseKey) (*models.CourseIndex, error) {
	query := `
		SELECT org, course, run, versions, edited_by, edited_at
		FROM course_index
		WHERE org = $1 AND course = $2 AND run = $3
	`

	idx := &models.CourseIndex{}
	err := r.db.QueryRow(ctx, query, course.Org, course.Course, course.Run).Scan(
		&idx.Org,
		&idx.Course,
		&idx.Run,
		&idx.Versions,
		&idx.EditedBy,
		&idx.EditedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &errs.ItemNotFoundError{ID: course.VersionAgnostic().String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course index: %w", err)
	}

	return idx, nil
}

// Exists checks whether a course index exists
func (r *CourseIndexRepository) Exists(ctx context.Context, course keys.CourseKey) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM course_index WHERE org = $1 AND course = $2 AND run = $3)`

	var exists bool
	err := r.db.QueryRow(ctx, query, course.Org, course.Course, course.Run).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check course index existence: %w", err)
	}

	return exists, nil
}

// List retrieves all course indexes, optionally filtered by org
func (r *CourseIndexRepository) List(ctx context.Context, org string) ([]*models.CourseIndex, error) {
	query := `
		SELECT org, course, run, versions, edited_by, edited_at
		FROM course_index
		WHERE ($1 = '' OR org = $1)
		ORDER BY org, course, run ASC
	`

	rows, err := r.db.Query(ctx, query, org)
	if err != nil {
		return nil, fmt.Errorf("failed to list course indexes: %w", err)
	}
	defer rows.Close()

	var idxs []*models.CourseIndex
	for rows.Next() {
		idx := &models.CourseIndex{}
		err := rows.Scan(
			&idx.Org,
			&idx.Course,
			&idx.Run,
			&idx.Versions,
			&idx.EditedBy,
			&idx.EditedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course index: %w", err)
		}
		idxs = append(idxs, idx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating course indexes: %w", err)
	}

	return idxs, nil
}

// CompareAndSwap moves a branch pointer with an optimistic lock: the
// update applies only if the branch still points at expectedHead.
// Pass uuid.Nil as expectedHead when the branch must not exist yet.
// Returns false when another writer won the race.
func (r *CourseIndexRepository) CompareAndSwap(ctx context.Context, course keys.CourseKey, branch keys.Branch, expectedHead, newHead uuid.UUID, editedBy string) (bool, error) {
	expected := ""
	if expectedHead != uuid.Nil {
		expected = expectedHead.String()
	}

	query := `
		UPDATE course_index
		SET versions = jsonb_set(versions, ARRAY[$4], to_jsonb($6::text), true),
		    edited_by = $7, edited_at = NOW()
		WHERE org = $1 AND course = $2 AND run = $3
		  AND COALESCE(versions->>$4, '') = $5
		RETURNING versions
	`

	var versions map[keys.Branch]uuid.UUID
	err := r.db.QueryRow(ctx, query,
		course.Org,
		course.Course,
		course.Run,
		branch,
		expected,
		newHead.String(),
		editedBy,
	).Scan(&versions)

	if errors.Is(err, pgx.ErrNoRows) {
		// Head moved under us, CAS failed
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to move branch pointer: %w", err)
	}

	return true, nil
}

// RemoveBranch drops a branch pointer from the index
func (r *CourseIndexRepository) RemoveBranch(ctx context.Context, course keys.CourseKey, branch keys.Branch, editedBy string) error {
	query := `
		UPDATE course_index
		SET versions = versions - $4, edited_by = $5, edited_at = NOW()
		WHERE org = $1 AND course = $2 AND run = $3
	`

	_, err := r.db.Exec(ctx, query, course.Org, course.Course, course.Run, branch, editedBy)
	if err != nil {
		return fmt.Errorf("failed to remove branch: %w", err)
	}

	return nil
}

// Delete removes a course index
func (r *CourseIndexRepository) Delete(ctx context.Context, course keys.CourseKey) error {
	query := `DELETE FROM course_index WHERE org = $1 AND course = $2 AND run = $3`

	result, err := r.db.Exec(ctx, query, course.Org, course.Course, course.Run)
	if err != nil {
		return fmt.Errorf("failed to delete course index: %w", err)
	}

	if result.RowsAffected() == 0 {
		return &errs.ItemNotFoundError{ID: course.VersionAgnostic().String()}
	}

	return nil
}
