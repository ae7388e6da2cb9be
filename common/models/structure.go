package models

import (
	"time"

	"github.com/google/uuid"
)

// EditInfo records who last touched a block and in which structure version.
type EditInfo struct {
	// User who last changed this block
	EditedBy string `json:"edited_by"`

	// When the change happened
	EditedAt time.Time `json:"edited_at"`

	// Structure version where the block previously changed (Nil for new blocks).
	// May point outside this structure's own history, e.g. to a draft branch
	// a published block was copied from.
	PreviousVersion uuid.UUID `json:"previous_version,omitempty"`

	// Structure version where the block got its current field values
	UpdateVersion uuid.UUID `json:"update_version"`
}

// BlockData is one block's entry inside a Structure.
type BlockData struct {
	// Block type: 'course', 'chapter', 'sequential', 'problem', ...
	Category string `json:"category"`

	// Pointer to the shared content body
	DefinitionID uuid.UUID `json:"definition_id"`

	// Settings-scoped field values
	Fields map[string]interface{} `json:"fields,omitempty"`

	// Ordered child block ids
	Children []string `json:"children,omitempty"`

	EditInfo EditInfo `json:"edit_info"`
}

// Clone returns a deep copy of the block entry. Used by copy-on-write edits;
// untouched blocks are shared by pointer between structure versions.
func (b *BlockData) Clone() *BlockData {
	dup := *b
	dup.Children = append([]string(nil), b.Children...)
	if b.Fields != nil {
		dup.Fields = make(map[string]interface{}, len(b.Fields))
		for k, v := range b.Fields {
			dup.Fields[k] = v
		}
	}
	return &dup
}

// Structure is an immutable, content-addressed snapshot of an entire course
// block tree in the version-graph store. It is never mutated after insert;
// every edit creates a successor whose PreviousVersion points here.
// Maps to: structure table
type Structure struct {
	// Version guid, the primary key
	VersionGUID uuid.UUID `db:"version_guid" json:"version_guid"`

	// Block id of the tree root within Blocks
	RootBlockID string `db:"root_block_id" json:"root_block_id"`

	// Structure this one was derived from (Nil for originals). For published
	// branches this points at the previously published version, not the draft
	// that was published.
	PreviousVersion uuid.UUID `db:"previous_version" json:"previous_version,omitempty"`

	// Root ancestor of the PreviousVersion relation; a cheap shared-history probe
	OriginalVersion uuid.UUID `db:"original_version" json:"original_version"`

	// User whose change created this version
	EditedBy string `db:"edited_by" json:"edited_by"`

	// When this version was created
	EditedAt time.Time `db:"edited_at" json:"edited_at"`

	// All blocks in this snapshot, keyed by block id (JSONB)
	Blocks map[string]*BlockData `db:"blocks" json:"blocks"`
}

// Block returns the entry for block_id, or nil.
func (s *Structure) Block(blockID string) *BlockData {
	return s.Blocks[blockID]
}

// ParentOf scans children lists for the block's parent id. Empty string when
// the block has no parent in this snapshot.
func (s *Structure) ParentOf(blockID string) string {
	for parentID, entry := range s.Blocks {
		for _, child := range entry.Children {
			if child == blockID {
				return parentID
			}
		}
	}
	return ""
}

// VersionTree is a bounded-depth lineage tree built by walking successor
// structures forward from a version. Used for audit and debugging.
type VersionTree struct {
	Version  uuid.UUID      `json:"version"`
	Children []*VersionTree `json:"children,omitempty"`
}
