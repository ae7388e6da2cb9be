package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/keys"
	"github.com/openlearn/coursestore/common/models"
)

func greekHero() keys.CourseKey {
	return keys.NewCourseKey("edX", "GreekHero", "2026")
}

// buildDraftCourse creates a course with one chapter and returns the
// store plus the root and chapter keys
func buildDraftCourse(t *testing.T) (*DraftStore, keys.UsageKey, keys.UsageKey) {
	t.Helper()
	ctx := context.Background()
	store, _ := newTestDraftStore()
	course := greekHero()

	root, err := store.CreateCourse(ctx, "instructor", course, map[string]interface{}{
		"display_name": "Greek Hero",
		"graded":       false,
	})
	require.NoError(t, err)

	chapter := course.UsageKey("chapter", "overview")
	_, err = store.CreateItem(ctx, "instructor", &root.Key, chapter, map[string]interface{}{
		"display_name": "Overview",
	})
	require.NoError(t, err)

	return store, root.Key, chapter
}

func TestDraftCreateCourse(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestDraftStore()
	course := greekHero()

	root, err := store.CreateCourse(ctx, "instructor", course, map[string]interface{}{"display_name": "Greek Hero"})
	require.NoError(t, err)
	require.Equal(t, "course", root.Category)
	require.Equal(t, course.Run, root.Key.BlockID)
	require.False(t, root.IsDraft)

	has, err := store.HasCourse(ctx, course)
	require.NoError(t, err)
	require.True(t, has)

	courses, err := store.GetCourses(ctx)
	require.NoError(t, err)
	require.Len(t, courses, 1)

	_, err = store.CreateCourse(ctx, "instructor", course, nil)
	var dup *errs.DuplicateCourseError
	require.ErrorAs(t, err, &dup)
}

func TestDraftCreateItemRevisions(t *testing.T) {
	ctx := context.Background()
	store, _, chapter := buildDraftCourse(t)
	course := greekHero()

	// Chapters are direct-only: created published, never drafted
	got, err := store.GetItem(ctx, chapter, PublishedOnly)
	require.NoError(t, err)
	require.False(t, got.IsDraft)

	vertical := course.UsageKey("vertical", "lesson1")
	created, err := store.CreateItem(ctx, "instructor", &chapter, vertical, nil)
	require.NoError(t, err)
	require.True(t, created.IsDraft)

	// Vertical starts life as a draft with no published record
	_, err = store.GetItem(ctx, vertical, PublishedOnly)
	require.True(t, isNotFound(err))

	state, err := store.ComputePublishState(ctx, vertical)
	require.NoError(t, err)
	require.Equal(t, models.PublishStatePrivate, state)

	// The chapter's children list records the new vertical
	parent, err := store.GetItem(ctx, chapter, PreferDraft)
	require.NoError(t, err)
	require.Len(t, parent.Children, 1)
	require.Equal(t, vertical.CourseAgnostic(), parent.Children[0].CourseAgnostic())
}

func TestDraftPublishRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _, chapter := buildDraftCourse(t)
	course := greekHero()

	vertical := course.UsageKey("vertical", "lesson1")
	_, err := store.CreateItem(ctx, "instructor", &chapter, vertical, nil)
	require.NoError(t, err)
	problem := course.UsageKey("problem", "quiz1")
	_, err = store.CreateItem(ctx, "instructor", &vertical, problem, map[string]interface{}{
		"display_name": "Quiz",
		"data":         "<problem/>",
	})
	require.NoError(t, err)

	changed, err := store.HasChanges(ctx, vertical)
	require.NoError(t, err)
	require.True(t, changed)

	published, err := store.Publish(ctx, "instructor", vertical)
	require.NoError(t, err)
	require.False(t, published.IsDraft)

	// Both nodes now read published, with no drafts left behind
	for _, key := range []keys.UsageKey{vertical, problem} {
		got, err := store.GetItem(ctx, key, PublishedOnly)
		require.NoError(t, err)
		require.False(t, got.IsDraft)

		state, err := store.ComputePublishState(ctx, key)
		require.NoError(t, err)
		require.Equal(t, models.PublishStatePublic, state)
	}

	changed, err = store.HasChanges(ctx, vertical)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestDraftEditAfterPublish(t *testing.T) {
	ctx := context.Background()
	store, _, chapter := buildDraftCourse(t)
	course := greekHero()

	vertical := course.UsageKey("vertical", "lesson1")
	_, err := store.CreateItem(ctx, "instructor", &chapter, vertical, map[string]interface{}{"display_name": "Lesson 1"})
	require.NoError(t, err)
	_, err = store.Publish(ctx, "instructor", vertical)
	require.NoError(t, err)

	updated, err := store.UpdateItem(ctx, "author", vertical, map[string]interface{}{"display_name": "Lesson One"}, nil)
	require.NoError(t, err)
	require.True(t, updated.IsDraft)

	// Published readers still see the old name
	old, err := store.GetItem(ctx, vertical, PublishedOnly)
	require.NoError(t, err)
	require.Equal(t, "Lesson 1", old.Fields["display_name"])

	changed, err := store.HasChanges(ctx, vertical)
	require.NoError(t, err)
	require.True(t, changed)

	state, err := store.ComputePublishState(ctx, vertical)
	require.NoError(t, err)
	require.Equal(t, models.PublishStateDraft, state)

	// Discarding the draft restores the published view everywhere
	require.NoError(t, store.RevertToPublished(ctx, "author", vertical))
	got, err := store.GetItem(ctx, vertical, PreferDraft)
	require.NoError(t, err)
	require.False(t, got.IsDraft)
	require.Equal(t, "Lesson 1", got.Fields["display_name"])

	changed, err = store.HasChanges(ctx, vertical)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestDraftUnpublishAndConvert(t *testing.T) {
	ctx := context.Background()
	store, _, chapter := buildDraftCourse(t)
	course := greekHero()

	vertical := course.UsageKey("vertical", "lesson1")
	_, err := store.CreateItem(ctx, "instructor", &chapter, vertical, nil)
	require.NoError(t, err)
	_, err = store.Publish(ctx, "instructor", vertical)
	require.NoError(t, err)

	// Converting a direct-only block is rejected
	err = store.ConvertToDraft(ctx, "author", chapter)
	var invalid *errs.InvalidVersionError
	require.ErrorAs(t, err, &invalid)

	require.NoError(t, store.ConvertToDraft(ctx, "author", vertical))
	state, err := store.ComputePublishState(ctx, vertical)
	require.NoError(t, err)
	require.Equal(t, models.PublishStateDraft, state)

	// A second convert trips over the existing draft
	err = store.ConvertToDraft(ctx, "author", vertical)
	var dup *errs.DuplicateItemError
	require.ErrorAs(t, err, &dup)

	require.NoError(t, store.Unpublish(ctx, "author", vertical))
	_, err = store.GetItem(ctx, vertical, PublishedOnly)
	require.True(t, isNotFound(err))

	state, err = store.ComputePublishState(ctx, vertical)
	require.NoError(t, err)
	require.Equal(t, models.PublishStatePrivate, state)
}

func TestDraftDeleteItemDetachesParent(t *testing.T) {
	ctx := context.Background()
	store, _, chapter := buildDraftCourse(t)
	course := greekHero()

	vertical := course.UsageKey("vertical", "lesson1")
	_, err := store.CreateItem(ctx, "instructor", &chapter, vertical, nil)
	require.NoError(t, err)
	problem := course.UsageKey("problem", "quiz1")
	_, err = store.CreateItem(ctx, "instructor", &vertical, problem, nil)
	require.NoError(t, err)

	require.NoError(t, store.DeleteItem(ctx, "instructor", vertical, DeleteAll))

	// The subtree is gone and the chapter no longer references it
	has, err := store.HasItem(ctx, vertical)
	require.NoError(t, err)
	require.False(t, has)
	has, err = store.HasItem(ctx, problem)
	require.NoError(t, err)
	require.False(t, has)

	parent, err := store.GetItem(ctx, chapter, PreferDraft)
	require.NoError(t, err)
	require.Empty(t, parent.Children)

	err = store.DeleteItem(ctx, "instructor", vertical, DeleteAll)
	require.True(t, isNotFound(err))
}

func TestDraftCreateItemRejectsExisting(t *testing.T) {
	ctx := context.Background()
	store, _, chapter := buildDraftCourse(t)
	course := greekHero()

	vertical := course.UsageKey("vertical", "lesson1")
	_, err := store.CreateItem(ctx, "instructor", &chapter, vertical, map[string]interface{}{"display_name": "Lesson 1"})
	require.NoError(t, err)
	_, err = store.Publish(ctx, "instructor", vertical)
	require.NoError(t, err)

	// Only the published record remains, but the id is still taken: a
	// fresh create must not shadow it with a new draft
	_, err = store.CreateItem(ctx, "author", &chapter, vertical, nil)
	var dup *errs.DuplicateItemError
	require.ErrorAs(t, err, &dup)

	got, err := store.GetItem(ctx, vertical, PreferDraft)
	require.NoError(t, err)
	require.False(t, got.IsDraft)
	require.Equal(t, "Lesson 1", got.Fields["display_name"])
}

func TestDraftDeleteRemovesBothRevisions(t *testing.T) {
	ctx := context.Background()
	store, blocks := newTestDraftStore()
	course := greekHero()

	root, err := store.CreateCourse(ctx, "instructor", course, nil)
	require.NoError(t, err)
	chapter := course.UsageKey("chapter", "overview")
	_, err = store.CreateItem(ctx, "instructor", &root.Key, chapter, nil)
	require.NoError(t, err)
	vertical := course.UsageKey("vertical", "lesson1")
	_, err = store.CreateItem(ctx, "instructor", &chapter, vertical, nil)
	require.NoError(t, err)
	_, err = store.Publish(ctx, "instructor", vertical)
	require.NoError(t, err)
	_, err = store.UpdateItem(ctx, "author", vertical, map[string]interface{}{"display_name": "Edited"}, nil)
	require.NoError(t, err)

	// Both physical rows exist before the delete
	for _, rev := range []keys.Revision{keys.RevisionDraft, keys.RevisionNone} {
		exists, err := blocks.Exists(ctx, course, "vertical", "lesson1", rev)
		require.NoError(t, err)
		require.True(t, exists)
	}

	require.NoError(t, store.DeleteItem(ctx, "author", vertical, DeleteAll))

	for _, rev := range []keys.Revision{keys.RevisionDraft, keys.RevisionNone} {
		exists, err := blocks.Exists(ctx, course, "vertical", "lesson1", rev)
		require.NoError(t, err)
		require.False(t, exists)
	}
}

func TestDraftPublishKeepsMultiParentChild(t *testing.T) {
	ctx := context.Background()
	store, _, chapter := buildDraftCourse(t)
	course := greekHero()

	v1 := course.UsageKey("vertical", "v1")
	v2 := course.UsageKey("vertical", "v2")
	_, err := store.CreateItem(ctx, "instructor", &chapter, v1, nil)
	require.NoError(t, err)
	_, err = store.CreateItem(ctx, "instructor", &chapter, v2, nil)
	require.NoError(t, err)
	shared := course.UsageKey("problem", "shared")
	_, err = store.CreateItem(ctx, "instructor", &v1, shared, nil)
	require.NoError(t, err)
	_, err = store.Publish(ctx, "instructor", v1)
	require.NoError(t, err)

	// A second vertical claims the same problem
	_, err = store.UpdateItem(ctx, "author", v2, nil, []keys.UsageKey{shared})
	require.NoError(t, err)
	_, err = store.Publish(ctx, "author", v2)
	require.NoError(t, err)

	parents, err := store.GetParentLocations(ctx, shared)
	require.NoError(t, err)
	require.Len(t, parents, 2)

	// Retiring it from the first vertical must not delete it out from
	// under the second
	_, err = store.UpdateItem(ctx, "author", v1, nil, []keys.UsageKey{})
	require.NoError(t, err)
	_, err = store.Publish(ctx, "author", v1)
	require.NoError(t, err)

	has, err := store.HasItem(ctx, shared)
	require.NoError(t, err)
	require.True(t, has)

	got, err := store.GetItem(ctx, v2, PublishedOnly)
	require.NoError(t, err)
	require.Len(t, got.Children, 1)
	require.Equal(t, shared.CourseAgnostic(), got.Children[0].CourseAgnostic())
}

func TestDraftPublishRemovesDeletedChildren(t *testing.T) {
	ctx := context.Background()
	store, _, chapter := buildDraftCourse(t)
	course := greekHero()

	vertical := course.UsageKey("vertical", "lesson1")
	_, err := store.CreateItem(ctx, "instructor", &chapter, vertical, nil)
	require.NoError(t, err)
	p1 := course.UsageKey("problem", "quiz1")
	p2 := course.UsageKey("problem", "quiz2")
	_, err = store.CreateItem(ctx, "instructor", &vertical, p1, nil)
	require.NoError(t, err)
	_, err = store.CreateItem(ctx, "instructor", &vertical, p2, nil)
	require.NoError(t, err)
	_, err = store.Publish(ctx, "instructor", vertical)
	require.NoError(t, err)

	// Drop quiz2 from the draft children list and republish
	_, err = store.UpdateItem(ctx, "author", vertical, nil, []keys.UsageKey{p1})
	require.NoError(t, err)
	_, err = store.Publish(ctx, "author", vertical)
	require.NoError(t, err)

	got, err := store.GetItem(ctx, vertical, PublishedOnly)
	require.NoError(t, err)
	require.Len(t, got.Children, 1)
	require.Equal(t, p1.CourseAgnostic(), got.Children[0].CourseAgnostic())

	// quiz2 was deleted outright, not orphaned
	has, err := store.HasItem(ctx, p2)
	require.NoError(t, err)
	require.False(t, has)
}

func TestDraftParentLocationsAndOrphans(t *testing.T) {
	ctx := context.Background()
	store, root, chapter := buildDraftCourse(t)
	course := greekHero()

	vertical := course.UsageKey("vertical", "lesson1")
	_, err := store.CreateItem(ctx, "instructor", &chapter, vertical, nil)
	require.NoError(t, err)
	stray := course.UsageKey("vertical", "stray")
	_, err = store.CreateItem(ctx, "instructor", nil, stray, nil)
	require.NoError(t, err)
	about := course.UsageKey("about", "overview")
	_, err = store.CreateItem(ctx, "instructor", nil, about, nil)
	require.NoError(t, err)

	parents, err := store.GetParentLocations(ctx, vertical)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	require.Equal(t, chapter.CourseAgnostic(), parents[0].CourseAgnostic())

	parents, err = store.GetParentLocations(ctx, chapter)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	require.Equal(t, root.CourseAgnostic(), parents[0].CourseAgnostic())

	// Only the stray vertical is an orphan; detached categories never are
	orphans, err := store.GetOrphans(ctx, course)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	require.Equal(t, stray.CourseAgnostic(), orphans[0].CourseAgnostic())
}

func TestDraftInheritedFields(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestDraftStore()
	course := greekHero()

	root, err := store.CreateCourse(ctx, "instructor", course, map[string]interface{}{"graded": false})
	require.NoError(t, err)
	chapter := course.UsageKey("chapter", "hw")
	_, err = store.CreateItem(ctx, "instructor", &root.Key, chapter, map[string]interface{}{"graded": true, "format": "Homework"})
	require.NoError(t, err)
	vertical := course.UsageKey("vertical", "hw1")
	_, err = store.CreateItem(ctx, "instructor", &chapter, vertical, nil)
	require.NoError(t, err)

	got, err := store.GetItem(ctx, vertical, PreferDraft)
	require.NoError(t, err)
	require.Equal(t, true, got.Inherited["graded"])
	require.Equal(t, "Homework", got.Inherited["format"])

	// The chapter's own override is not part of what it inherits
	got, err = store.GetItem(ctx, chapter, PreferDraft)
	require.NoError(t, err)
	require.Equal(t, false, got.Inherited["graded"])
}

func TestDraftDefinitionVersioning(t *testing.T) {
	ctx := context.Background()
	store, _, chapter := buildDraftCourse(t)
	course := greekHero()

	problem := course.UsageKey("problem", "quiz1")
	created, err := store.CreateItem(ctx, "instructor", &chapter, problem, map[string]interface{}{"data": "<problem>v1</problem>"})
	require.NoError(t, err)
	firstDef := created.Definition.DefinitionID

	updated, err := store.UpdateItem(ctx, "author", problem, map[string]interface{}{"data": "<problem>v2</problem>"}, nil)
	require.NoError(t, err)
	require.NotEqual(t, firstDef, updated.Definition.DefinitionID)

	// The new definition chains back to the first
	lineage, err := store.defs.GetLineage(ctx, updated.Definition.DefinitionID, 10)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	require.Equal(t, firstDef, lineage[1].DefinitionID)
	require.Equal(t, firstDef, lineage[0].OriginalVersion)
}
