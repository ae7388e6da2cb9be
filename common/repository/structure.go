package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openlearn/coursestore/common/db"
	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/models"
)

// StructureRepository handles database operations for immutable course
// structure snapshots. Insert-only: rows are never updated or deleted
// except by whole-course removal.
type StructureRepository struct {
	db *db.DB
}

// NewStructureRepository creates a new structure repository
func NewStructureRepository(db *db.DB) *StructureRepository {
	return &StructureRepository{db: db}
}

const structureColumns = `version_guid, root_block_id, previous_version, original_version, edited_by, edited_at, blocks`

// Insert stores a new structure snapshot
func (r *StructureRepository) Insert(ctx context.Context, s *models.Structure) error {
	query := `
		INSERT INTO structure (` + structureColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query,
		s.VersionGUID,
		s.RootBlockID,
		s.PreviousVersion,
		s.OriginalVersion,
		s.EditedBy,
		s.EditedAt,
		s.Blocks,
	)

	if err != nil {
		return fmt.Errorf("failed to insert structure: %w", err)
	}

	return nil
}

// Get retrieves a structure snapshot by version guid
func (r *StructureRepository) Get(ctx context.Context, versionGUID uuid.UUID) (*models.Structure, error) {
	query := `
		SELECT ` + structureColumns + `
		FROM structure
		WHERE version_guid = $1
	`

	s := &models.Structure{}
	err := r.db.QueryRow(ctx, query, versionGUID).Scan(
		&s.VersionGUID,
		&s.RootBlockID,
		&s.PreviousVersion,
		&s.OriginalVersion,
		&s.EditedBy,
		&s.EditedAt,
		&s.Blocks,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &errs.InvalidVersionError{ID: versionGUID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get structure: %w", err)
	}

	return s, nil
}

// ListFamily retrieves every structure sharing an original version,
// ordered oldest first. Used to rebuild a version lineage tree without
// walking previous_version pointers one query at a time.
func (r *StructureRepository) ListFamily(ctx context.Context, originalVersion uuid.UUID) ([]*models.Structure, error) {
	query := `
		SELECT ` + structureColumns + `
		FROM structure
		WHERE original_version = $1
		ORDER BY edited_at ASC
	`

	rows, err := r.db.Query(ctx, query, originalVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to list structure family: %w", err)
	}
	defer rows.Close()

	var structures []*models.Structure
	for rows.Next() {
		s := &models.Structure{}
		err := rows.Scan(
			&s.VersionGUID,
			&s.RootBlockID,
			&s.PreviousVersion,
			&s.OriginalVersion,
			&s.EditedBy,
			&s.EditedAt,
			&s.Blocks,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan structure: %w", err)
		}
		structures = append(structures, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating structures: %w", err)
	}

	return structures, nil
}

// DeleteFamily removes every structure sharing an original version.
// Only whole-course deletion calls this.
func (r *StructureRepository) DeleteFamily(ctx context.Context, originalVersion uuid.UUID) (int64, error) {
	query := `DELETE FROM structure WHERE original_version = $1`

	result, err := r.db.Exec(ctx, query, originalVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to delete structure family: %w", err)
	}

	return result.RowsAffected(), nil
}
