package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openlearn/coursestore/common/db"
	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/keys"
	"github.com/openlearn/coursestore/common/models"
)

const uniqueViolation = "23505"

// BlockRepository handles database operations for the draft/published
// block table. The physical key is (org, course, run, block_type,
// block_id, revision), so a draft row and a published row for the same
// logical block are distinct rows.
type BlockRepository struct {
	db *db.DB
}

// NewBlockRepository creates a new block repository
func NewBlockRepository(db *db.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

const blockColumns = `org, course, run, block_type, block_id, revision, definition_id, fields, children, edited_by, edited_at`

// Create inserts a new block row
func (r *BlockRepository) Create(ctx context.Context, rec *models.BlockRecord) error {
	query := `
		INSERT INTO block (` + blockColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Exec(ctx, query,
		rec.Org,
		rec.Course,
		rec.Run,
		rec.BlockType,
		rec.BlockID,
		rec.Revision,
		rec.DefinitionID,
		rec.Fields,
		rec.Children,
		rec.EditedBy,
		rec.EditedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &errs.DuplicateItemError{ID: rec.PhysicalKey().String()}
		}
		return fmt.Errorf("failed to create block: %w", err)
	}

	return nil
}

// Upsert inserts a block row or replaces an existing one with the same
// physical key
func (r *BlockRepository) Upsert(ctx context.Context, rec *models.BlockRecord) error {
	query := `
		INSERT INTO block (` + blockColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (org, course, run, block_type, block_id, revision)
		DO UPDATE SET definition_id = EXCLUDED.definition_id,
		              fields = EXCLUDED.fields,
		              children = EXCLUDED.children,
		              edited_by = EXCLUDED.edited_by,
		              edited_at = EXCLUDED.edited_at
	`

	_, err := r.db.Exec(ctx, query,
		rec.Org,
		rec.Course,
		rec.Run,
		rec.BlockType,
		rec.BlockID,
		rec.Revision,
		rec.DefinitionID,
		rec.Fields,
		rec.Children,
		rec.EditedBy,
		rec.EditedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert block: %w", err)
	}

	return nil
}

// Get retrieves one block row by its physical key
func (r *BlockRepository) Get(ctx context.Context, course keys.CourseKey, blockType, blockID string, revision keys.Revision) (*models.BlockRecord, error) {
	query := `
		SELECT ` + blockColumns + `
		FROM block
		WHERE org = $1 AND course = $2 AND run = $3
		  AND block_type = $4 AND block_id = $5 AND revision = $6
	`

	rec := &models.BlockRecord{}
	err := r.db.QueryRow(ctx, query,
		course.Org, course.Course, course.Run,
		blockType, blockID, revision,
	).Scan(
		&rec.Org,
		&rec.Course,
		&rec.Run,
		&rec.BlockType,
		&rec.BlockID,
		&rec.Revision,
		&rec.DefinitionID,
		&rec.Fields,
		&rec.Children,
		&rec.EditedBy,
		&rec.EditedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &errs.ItemNotFoundError{ID: course.UsageKey(blockType, blockID).ForRevision(revision).String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}

	return rec, nil
}

// Exists checks whether a block row exists for a physical key
func (r *BlockRepository) Exists(ctx context.Context, course keys.CourseKey, blockType, blockID string, revision keys.Revision) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM block
			WHERE org = $1 AND course = $2 AND run = $3
			  AND block_type = $4 AND block_id = $5 AND revision = $6
		)
	`

	var exists bool
	err := r.db.QueryRow(ctx, query,
		course.Org, course.Course, course.Run,
		blockType, blockID, revision,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check block existence: %w", err)
	}

	return exists, nil
}

// Delete removes one block row by its physical key. Returns false if no
// row matched.
func (r *BlockRepository) Delete(ctx context.Context, course keys.CourseKey, blockType, blockID string, revision keys.Revision) (bool, error) {
	query := `
		DELETE FROM block
		WHERE org = $1 AND course = $2 AND run = $3
		  AND block_type = $4 AND block_id = $5 AND revision = $6
	`

	result, err := r.db.Exec(ctx, query,
		course.Org, course.Course, course.Run,
		blockType, blockID, revision,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete block: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// DeleteAllRevisions removes every row (draft and published) for a
// logical block id
func (r *BlockRepository) DeleteAllRevisions(ctx context.Context, course keys.CourseKey, blockType, blockID string) (int64, error) {
	query := `
		DELETE FROM block
		WHERE org = $1 AND course = $2 AND run = $3
		  AND block_type = $4 AND block_id = $5
	`

	result, err := r.db.Exec(ctx, query,
		course.Org, course.Course, course.Run,
		blockType, blockID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete block revisions: %w", err)
	}

	return result.RowsAffected(), nil
}

// ListByCourse retrieves all rows of a course for one revision
func (r *BlockRepository) ListByCourse(ctx context.Context, course keys.CourseKey, revision keys.Revision) ([]*models.BlockRecord, error) {
	query := `
		SELECT ` + blockColumns + `
		FROM block
		WHERE org = $1 AND course = $2 AND run = $3 AND revision = $4
		ORDER BY block_type, block_id ASC
	`

	rows, err := r.db.Query(ctx, query, course.Org, course.Course, course.Run, revision)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}
	defer rows.Close()

	return scanBlockRows(rows)
}

// ListByCategory retrieves all rows of one block type in a course for one
// revision
func (r *BlockRepository) ListByCategory(ctx context.Context, course keys.CourseKey, blockType string, revision keys.Revision) ([]*models.BlockRecord, error) {
	query := `
		SELECT ` + blockColumns + `
		FROM block
		WHERE org = $1 AND course = $2 AND run = $3
		  AND block_type = $4 AND revision = $5
		ORDER BY block_id ASC
	`

	rows, err := r.db.Query(ctx, query, course.Org, course.Course, course.Run, blockType, revision)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks by category: %w", err)
	}
	defer rows.Close()

	return scanBlockRows(rows)
}

// FindWithChild retrieves every row of a course whose children list
// contains the given usage-key string. Draft rows sort first: 'draft'
// orders after the published revision '' so we sort descending.
func (r *BlockRepository) FindWithChild(ctx context.Context, course keys.CourseKey, childKey string) ([]*models.BlockRecord, error) {
	query := `
		SELECT ` + blockColumns + `
		FROM block
		WHERE org = $1 AND course = $2 AND run = $3
		  AND children @> jsonb_build_array($4::text)
		ORDER BY revision DESC, block_type, block_id ASC
	`

	rows, err := r.db.Query(ctx, query, course.Org, course.Course, course.Run, childKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find parents: %w", err)
	}
	defer rows.Close()

	return scanBlockRows(rows)
}

// ListCourses retrieves the published course roots across all courses
func (r *BlockRepository) ListCourses(ctx context.Context) ([]*models.BlockRecord, error) {
	query := `
		SELECT ` + blockColumns + `
		FROM block
		WHERE block_type = 'course' AND revision = ''
		ORDER BY org, course, run ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	return scanBlockRows(rows)
}

// DeleteCourse removes every row of a course. Returns the number of rows
// removed.
func (r *BlockRepository) DeleteCourse(ctx context.Context, course keys.CourseKey) (int64, error) {
	query := `
		DELETE FROM block
		WHERE org = $1 AND course = $2 AND run = $3
	`

	result, err := r.db.Exec(ctx, query, course.Org, course.Course, course.Run)
	if err != nil {
		return 0, fmt.Errorf("failed to delete course blocks: %w", err)
	}

	return result.RowsAffected(), nil
}

func scanBlockRows(rows pgx.Rows) ([]*models.BlockRecord, error) {
	var recs []*models.BlockRecord
	for rows.Next() {
		rec := &models.BlockRecord{}
		err := rows.Scan(
			&rec.Org,
			&rec.Course,
			&rec.Run,
			&rec.BlockType,
			&rec.BlockID,
			&rec.Revision,
			&rec.DefinitionID,
			&rec.Fields,
			&rec.Children,
			&rec.EditedBy,
			&rec.EditedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocks: %w", err)
	}

	return recs, nil
}
