package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openlearn/coursestore/common/cache"
	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/keys"
	"github.com/openlearn/coursestore/common/models"
	"github.com/openlearn/coursestore/common/queue"
)

// newTestMigrator wires a draft and a split engine over one shared
// definition store, the way the container does
func newTestMigrator() (*Migrator, *DraftStore, *SplitStore) {
	log := testLogger()
	defs := newMemDefinitionStore()
	blocks := newMemBlockStore()
	inheritance := NewInheritanceCache(blocks, cache.NewMemoryCache(log), 0, log)
	events := queue.NewMemoryQueue(log)

	draft := NewDraftStore(blocks, defs, inheritance, events, log)
	split := NewSplitStore(newMemStructureStore(), newMemIndexStore(), defs, events, log)
	return NewMigrator(draft, split, log), draft, split
}

func TestMigrateCourse(t *testing.T) {
	ctx := context.Background()
	migrator, draft, split := newTestMigrator()
	course := keys.NewCourseKey("edX", "Legacy", "2026")

	root, err := draft.CreateCourse(ctx, "instructor", course, map[string]interface{}{"display_name": "Legacy"})
	require.NoError(t, err)
	chapter := course.UsageKey("chapter", "week1")
	_, err = draft.CreateItem(ctx, "instructor", &root.Key, chapter, nil)
	require.NoError(t, err)
	v1 := course.UsageKey("vertical", "v1")
	_, err = draft.CreateItem(ctx, "instructor", &chapter, v1, map[string]interface{}{"display_name": "Before"})
	require.NoError(t, err)
	_, err = draft.Publish(ctx, "instructor", v1)
	require.NoError(t, err)

	// One pending edit and one never-published block ride along
	_, err = draft.UpdateItem(ctx, "author", v1, map[string]interface{}{"display_name": "After"}, nil)
	require.NoError(t, err)
	v2 := course.UsageKey("vertical", "v2")
	_, err = draft.CreateItem(ctx, "author", &chapter, v2, nil)
	require.NoError(t, err)

	dest, err := migrator.MigrateCourse(ctx, "migrator", course, course)
	require.NoError(t, err)
	require.Equal(t, course.CourseAgnostic(), dest)

	// The published branch mirrors the published records
	pub := dest.ForBranch(keys.BranchPublished)
	pubV1, err := split.GetItem(ctx, pub.UsageKey("vertical", "v1"), PublishedOnly)
	require.NoError(t, err)
	require.Equal(t, "Before", pubV1.Fields["display_name"])
	has, err := split.HasItem(ctx, pub.UsageKey("vertical", "v2"))
	require.NoError(t, err)
	require.False(t, has)

	// The draft branch carries the pending edits on top
	draftV1, err := split.GetItem(ctx, dest.UsageKey("vertical", "v1"), PreferDraft)
	require.NoError(t, err)
	require.Equal(t, "After", draftV1.Fields["display_name"])
	state, err := split.ComputePublishState(ctx, dest.UsageKey("vertical", "v2"))
	require.NoError(t, err)
	require.Equal(t, models.PublishStatePrivate, state)

	// Content lineage survives through the shared definition store
	srcV1, err := draft.GetItem(ctx, v1, PublishedOnly)
	require.NoError(t, err)
	require.Equal(t, srcV1.Definition, pubV1.Definition)

	// Children collapse from usage-key strings to bare block ids
	migratedRoot, err := split.GetItem(ctx, dest.UsageKey("course", rootBlockID), PreferDraft)
	require.NoError(t, err)
	require.Len(t, migratedRoot.Children, 1)
	require.Equal(t, "week1", migratedRoot.Children[0].BlockID)

	// The source course is untouched
	has, err = draft.HasItem(ctx, v1)
	require.NoError(t, err)
	require.True(t, has)
}

func TestMigrateCourseMissingSource(t *testing.T) {
	ctx := context.Background()
	migrator, _, _ := newTestMigrator()

	_, err := migrator.MigrateCourse(ctx, "migrator", keys.NewCourseKey("edX", "Ghost", "2026"), keys.NewCourseKey("edX", "Ghost", "2026"))
	var notFound *errs.ItemNotFoundError
	require.ErrorAs(t, err, &notFound)
}
