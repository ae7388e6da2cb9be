package models

import (
	"time"

	"github.com/google/uuid"
)

// Definition is one version of a block's shared content body. Content is
// versioned independently of structural position: updating it mints a new
// definition id chained to the previous one, and structures re-point at the
// new id only when explicitly updated.
// Maps to: definition table
type Definition struct {
	// Definition version id, the primary key
	DefinitionID uuid.UUID `db:"definition_id" json:"definition_id"`

	// Block type the body belongs to
	Category string `db:"category" json:"category"`

	// Content-scoped field values (JSONB)
	Fields map[string]interface{} `db:"fields" json:"fields,omitempty"`

	// Prior version of this body (Nil for originals)
	PreviousVersion uuid.UUID `db:"previous_version" json:"previous_version,omitempty"`

	// Root of the previous-version chain; a pseudo object identity
	OriginalVersion uuid.UUID `db:"original_version" json:"original_version"`

	EditedBy string    `db:"edited_by" json:"edited_by"`
	EditedAt time.Time `db:"edited_at" json:"edited_at"`
}
