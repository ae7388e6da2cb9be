package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openlearn/coursestore/common/keys"
)

// BlockRecord is the physical document of the draft/published store: one row
// per (course, block_type, block_id, revision). A draft row and a published
// row for the same logical block may coexist; direct-only categories never
// have a draft row.
// Maps to: block table
type BlockRecord struct {
	Org       string `db:"org" json:"org"`
	Course    string `db:"course" json:"course"`
	Run       string `db:"run" json:"run"`
	BlockType string `db:"block_type" json:"block_type"`
	BlockID   string `db:"block_id" json:"block_id"`

	// 'published' or 'draft'; part of the physical key
	Revision keys.Revision `db:"revision" json:"revision"`

	// Pointer to the shared content body; Nil for container blocks
	DefinitionID uuid.UUID `db:"definition_id" json:"definition_id,omitempty"`

	// Settings-scoped field values (JSONB)
	Fields map[string]interface{} `db:"fields" json:"fields,omitempty"`

	// Ordered children, serialized as canonical usage-key strings (JSONB)
	Children []string `db:"children" json:"children,omitempty"`

	EditedBy string    `db:"edited_by" json:"edited_by"`
	EditedAt time.Time `db:"edited_at" json:"edited_at"`
}

// CourseKey returns the record's owning course.
func (r *BlockRecord) CourseKey() keys.CourseKey {
	return keys.NewCourseKey(r.Org, r.Course, r.Run)
}

// UsageKey returns the record's logical identity without the revision tag.
func (r *BlockRecord) UsageKey() keys.UsageKey {
	return r.CourseKey().UsageKey(r.BlockType, r.BlockID)
}

// PhysicalKey returns the identity including the revision tag.
func (r *BlockRecord) PhysicalKey() keys.UsageKey {
	return r.UsageKey().ForRevision(r.Revision)
}

// Clone returns a deep copy of the record.
func (r *BlockRecord) Clone() *BlockRecord {
	dup := *r
	dup.Children = append([]string(nil), r.Children...)
	if r.Fields != nil {
		dup.Fields = make(map[string]interface{}, len(r.Fields))
		for k, v := range r.Fields {
			dup.Fields[k] = v
		}
	}
	return &dup
}
