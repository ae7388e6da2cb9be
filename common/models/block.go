package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openlearn/coursestore/common/keys"
)

// PublishState describes a block's visibility in the version-graph store.
type PublishState string

const (
	// PublishStatePrivate: block exists only on the draft branch
	PublishStatePrivate PublishState = "private"
	// PublishStatePublic: draft and published versions are identical
	PublishStatePublic PublishState = "public"
	// PublishStateDraft: published version exists but draft has newer edits
	PublishStateDraft PublishState = "draft"
)

// Block is the runtime view of a block handed back by every engine,
// regardless of which store satisfied the read.
type Block struct {
	Key      keys.UsageKey          `json:"key"`
	Category string                 `json:"category"`
	Fields   map[string]interface{} `json:"fields,omitempty"`

	// Ordered child identities
	Children []keys.UsageKey `json:"children,omitempty"`

	// Content body pointer, when the block has one
	Definition keys.DefinitionKey `json:"definition,omitempty"`

	// Field values inherited from ancestors (grading policy, dates, ...)
	Inherited map[string]interface{} `json:"inherited,omitempty"`

	// True when a draft record satisfied the read (draft/published store only)
	IsDraft bool `json:"is_draft,omitempty"`

	// Structure version the block was fetched from (version-graph store only).
	// Incidental: never part of identity or equality.
	VersionGUID uuid.UUID `json:"version_guid,omitempty"`

	// Structure version at which the block last changed (version-graph only)
	UpdateVersion uuid.UUID `json:"update_version,omitempty"`

	EditedBy string    `json:"edited_by,omitempty"`
	EditedAt time.Time `json:"edited_at,omitempty"`
}

// HasChildren reports whether the block has any children.
func (b *Block) HasChildren() bool {
	return len(b.Children) > 0
}
