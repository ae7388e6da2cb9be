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

// DefinitionRepository handles database operations for versioned block
// content bodies. Insert-only, like structures.
type DefinitionRepository struct {
	db *db.DB
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *db.DB) *DefinitionRepository {
	return &DefinitionRepository{db: db}
}

// Insert stores a new definition version
func (r *DefinitionRepository) Insert(ctx context.Context, d *models.Definition) error {
	query := `
		INSERT INTO definition (definition_id, category, fields, previous_version, original_version, edited_by, edited_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query,
		d.DefinitionID,
		d.Category,
		d.Fields,
		d.PreviousVersion,
		d.OriginalVersion,
		d.EditedBy,
		d.EditedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert definition: %w", err)
	}

	return nil
}

// Get retrieves a definition version by id
func (r *DefinitionRepository) Get(ctx context.Context, definitionID uuid.UUID) (*models.Definition, error) {
	query := `
		SELECT definition_id, category, fields, previous_version, original_version, edited_by, edited_at
		FROM definition
		WHERE definition_id = $1
	`

	d := &models.Definition{}
	err := r.db.QueryRow(ctx, query, definitionID).Scan(
		&d.DefinitionID,
		&d.Category,
		&d.Fields,
		&d.PreviousVersion,
		&d.OriginalVersion,
		&d.EditedBy,
		&d.EditedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &errs.ItemNotFoundError{ID: definitionID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}

	return d, nil
}

// GetLineage walks the previous-version chain backwards from a
// definition id, newest first, up to limit entries
func (r *DefinitionRepository) GetLineage(ctx context.Context, definitionID uuid.UUID, limit int) ([]*models.Definition, error) {
	query := `
		WITH RECURSIVE lineage AS (
			SELECT definition_id, category, fields, previous_version, original_version, edited_by, edited_at, 1 AS depth
			FROM definition
			WHERE definition_id = $1
			UNION ALL
			SELECT d.definition_id, d.category, d.fields, d.previous_version, d.original_version, d.edited_by, d.edited_at, l.depth + 1
			FROM definition d
			JOIN lineage l ON d.definition_id = l.previous_version
			WHERE l.depth < $2
		)
		SELECT definition_id, category, fields, previous_version, original_version, edited_by, edited_at
		FROM lineage
		ORDER BY depth ASC
	`

	rows, err := r.db.Query(ctx, query, definitionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get definition lineage: %w", err)
	}
	defer rows.Close()

	var defs []*models.Definition
	for rows.Next() {
		d := &models.Definition{}
		err := rows.Scan(
			&d.DefinitionID,
			&d.Category,
			&d.Fields,
			&d.PreviousVersion,
			&d.OriginalVersion,
			&d.EditedBy,
			&d.EditedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return defs, nil
}
