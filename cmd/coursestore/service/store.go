package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/openlearn/coursestore/common/keys"
	"github.com/openlearn/coursestore/common/models"
)

// DirectOnlyCategories are structural block types that never have a draft
// revision: every write goes straight to the published record.
var DirectOnlyCategories = map[string]bool{
	"course":      true,
	"chapter":     true,
	"sequential":  true,
	"about":       true,
	"static_tab":  true,
	"course_info": true,
}

// DetachedCategories live outside the course tree and are excluded from
// orphan detection and path resolution.
var DetachedCategories = map[string]bool{
	"about":       true,
	"static_tab":  true,
	"course_info": true,
}

// RevisionPreference selects which physical revision a read resolves to.
type RevisionPreference int

const (
	// PreferDraft reads the draft record and falls back to published
	PreferDraft RevisionPreference = iota
	// PublishedOnly reads only the published record
	PublishedOnly
	// DraftOnly reads only the draft record
	DraftOnly
)

// DeleteScope selects which revisions a delete removes.
type DeleteScope int

const (
	// DeleteAll removes both draft and published revisions
	DeleteAll DeleteScope = iota
	// DeleteDraftOnly removes only the draft revision
	DeleteDraftOnly
	// DeletePublishedOnly removes only the published revision
	DeletePublishedOnly
)

// Store is the read capability every engine provides. The routing facade
// dispatches on this closed set of interfaces rather than probing
// individual stores for methods.
type Store interface {
	// Name identifies the store in config and error messages
	Name() string

	HasCourse(ctx context.Context, course keys.CourseKey) (bool, error)
	GetCourses(ctx context.Context) ([]*models.Block, error)
	HasItem(ctx context.Context, usage keys.UsageKey) (bool, error)
	GetItem(ctx context.Context, usage keys.UsageKey, pref RevisionPreference) (*models.Block, error)
	GetItems(ctx context.Context, course keys.CourseKey, category string, pref RevisionPreference) ([]*models.Block, error)
	GetParentLocations(ctx context.Context, usage keys.UsageKey) ([]keys.UsageKey, error)
	GetOrphans(ctx context.Context, course keys.CourseKey) ([]keys.UsageKey, error)
}

// WriteStore is a store that accepts structural edits.
type WriteStore interface {
	Store

	CreateCourse(ctx context.Context, user string, course keys.CourseKey, fields map[string]interface{}) (*models.Block, error)
	DeleteCourse(ctx context.Context, user string, course keys.CourseKey) error
	CreateItem(ctx context.Context, user string, parent *keys.UsageKey, usage keys.UsageKey, fields map[string]interface{}) (*models.Block, error)
	UpdateItem(ctx context.Context, user string, usage keys.UsageKey, fields map[string]interface{}, children []keys.UsageKey) (*models.Block, error)
	DeleteItem(ctx context.Context, user string, usage keys.UsageKey, scope DeleteScope) error
}

// Publisher is a store that can move content to its published surface.
type Publisher interface {
	Publish(ctx context.Context, user string, usage keys.UsageKey) (*models.Block, error)
}

// Unpublisher is a store that can take published content back down.
type Unpublisher interface {
	Unpublish(ctx context.Context, user string, usage keys.UsageKey) error
}

// ChangeDetector is a store that can tell pending edits from published
// content.
type ChangeDetector interface {
	HasChanges(ctx context.Context, usage keys.UsageKey) (bool, error)
	ComputePublishState(ctx context.Context, usage keys.UsageKey) (models.PublishState, error)
}

// PublishStore is a store with the full draft-to-published lifecycle.
type PublishStore interface {
	WriteStore
	Publisher
	Unpublisher
	ChangeDetector

	ConvertToDraft(ctx context.Context, user string, usage keys.UsageKey) error
	RevertToPublished(ctx context.Context, user string, usage keys.UsageKey) error
}

// VersionStore is a store with explicit version history and cross-branch
// subtree publishing.
type VersionStore interface {
	WriteStore

	PublishSubtrees(ctx context.Context, user string, source, dest keys.CourseKey, subtreeRoots, blacklist []keys.UsageKey) error
	GetCourseSuccessors(ctx context.Context, version uuid.UUID, depth int) (*models.VersionTree, error)
	UpdateDefinition(ctx context.Context, user string, def keys.DefinitionKey, fields map[string]interface{}) (keys.DefinitionKey, error)
}

// InheritanceSuspender is a store whose derived inheritance cache can be
// paused around bulk writes.
type InheritanceSuspender interface {
	SuspendInheritance(course keys.CourseKey)
	ResumeInheritance(ctx context.Context, course keys.CourseKey) error
}

// Persistence interfaces satisfied by common/repository and by the
// in-memory fakes used in tests.

type blockStore interface {
	Create(ctx context.Context, rec *models.BlockRecord) error
	Upsert(ctx context.Context, rec *models.BlockRecord) error
	Get(ctx context.Context, course keys.CourseKey, blockType, blockID string, revision keys.Revision) (*models.BlockRecord, error)
	Exists(ctx context.Context, course keys.CourseKey, blockType, blockID string, revision keys.Revision) (bool, error)
	Delete(ctx context.Context, course keys.CourseKey, blockType, blockID string, revision keys.Revision) (bool, error)
	DeleteAllRevisions(ctx context.Context, course keys.CourseKey, blockType, blockID string) (int64, error)
	ListByCourse(ctx context.Context, course keys.CourseKey, revision keys.Revision) ([]*models.BlockRecord, error)
	ListByCategory(ctx context.Context, course keys.CourseKey, blockType string, revision keys.Revision) ([]*models.BlockRecord, error)
	FindWithChild(ctx context.Context, course keys.CourseKey, childKey string) ([]*models.BlockRecord, error)
	ListCourses(ctx context.Context) ([]*models.BlockRecord, error)
	DeleteCourse(ctx context.Context, course keys.CourseKey) (int64, error)
}

type indexStore interface {
	Create(ctx context.Context, idx *models.CourseIndex) error
	Get(ctx context.Context, course keys.CourseKey) (*models.CourseIndex, error)
	Exists(ctx context.Context, course keys.CourseKey) (bool, error)
	List(ctx context.Context, org string) ([]*models.CourseIndex, error)
	CompareAndSwap(ctx context.Context, course keys.CourseKey, branch keys.Branch, expectedHead, newHead uuid.UUID, editedBy string) (bool, error)
	RemoveBranch(ctx context.Context, course keys.CourseKey, branch keys.Branch, editedBy string) error
	Delete(ctx context.Context, course keys.CourseKey) error
}

type structureStore interface {
	Insert(ctx context.Context, s *models.Structure) error
	Get(ctx context.Context, versionGUID uuid.UUID) (*models.Structure, error)
	ListFamily(ctx context.Context, originalVersion uuid.UUID) ([]*models.Structure, error)
	DeleteFamily(ctx context.Context, originalVersion uuid.UUID) (int64, error)
}

type definitionStore interface {
	Insert(ctx context.Context, d *models.Definition) error
	Get(ctx context.Context, definitionID uuid.UUID) (*models.Definition, error)
	GetLineage(ctx context.Context, definitionID uuid.UUID, limit int) ([]*models.Definition, error)
}
