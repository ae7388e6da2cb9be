package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/keys"
)

// newTestMixedStore wires a split and a draft engine behind the facade,
// split first as the default, with one course pinned to the draft engine
func newTestMixedStore(pinned ...keys.CourseKey) (*MixedStore, *SplitStore, *DraftStore) {
	split, _, _ := newTestSplitStore()
	draft, _ := newTestDraftStore()
	mappings := make(map[string]string, len(pinned))
	for _, course := range pinned {
		mappings[course.CourseAgnostic().String()] = draft.Name()
	}
	return NewMixedStore([]Store{split, draft}, mappings, testLogger()), split, draft
}

func TestMixedRoutingDefaultAndPinned(t *testing.T) {
	ctx := context.Background()
	pinnedCourse := keys.NewCourseKey("edX", "Pinned", "2026")
	mixed, split, draft := newTestMixedStore(pinnedCourse)

	// Unpinned courses land in the default store
	plain := keys.NewCourseKey("edX", "Plain", "2026")
	_, err := mixed.CreateCourse(ctx, "instructor", plain, nil)
	require.NoError(t, err)
	has, err := split.HasCourse(ctx, plain)
	require.NoError(t, err)
	require.True(t, has)
	has, err = draft.HasCourse(ctx, plain)
	require.NoError(t, err)
	require.False(t, has)

	// Pinned courses land in their mapped store
	_, err = mixed.CreateCourse(ctx, "instructor", pinnedCourse, nil)
	require.NoError(t, err)
	has, err = draft.HasCourse(ctx, pinnedCourse)
	require.NoError(t, err)
	require.True(t, has)

	// Duplicate creation is refused regardless of store
	_, err = mixed.CreateCourse(ctx, "instructor", plain, nil)
	var dup *errs.DuplicateCourseError
	require.ErrorAs(t, err, &dup)

	// Reads probe the stores and find the owner
	root := pinnedCourse.UsageKey("course", pinnedCourse.Run)
	has, err = mixed.HasItem(ctx, root)
	require.NoError(t, err)
	require.True(t, has)
}

func TestMixedGetCoursesDedupe(t *testing.T) {
	ctx := context.Background()
	mixed, split, draft := newTestMixedStore()
	course := keys.NewCourseKey("edX", "Twin", "2026")

	// The same course id in both stores must surface once
	_, err := split.CreateCourse(ctx, "instructor", course, nil)
	require.NoError(t, err)
	_, err = draft.CreateCourse(ctx, "instructor", course, nil)
	require.NoError(t, err)

	courses, err := mixed.GetCourses(ctx)
	require.NoError(t, err)
	require.Len(t, courses, 1)
}

func TestMixedNotSupported(t *testing.T) {
	ctx := context.Background()
	mixed, _, _ := newTestMixedStore()

	splitCourse := keys.NewCourseKey("edX", "Graph", "2026")
	_, err := mixed.CreateCourse(ctx, "instructor", splitCourse, nil)
	require.NoError(t, err)

	// The version-graph engine has no draft-row lifecycle
	err = mixed.ConvertToDraft(ctx, "author", splitCourse.UsageKey("course", rootBlockID))
	var ns *errs.NotSupportedError
	require.ErrorAs(t, err, &ns)
	require.Equal(t, "convert_to_draft", ns.Op)
	require.Equal(t, "split", ns.Store)

	draftCourse := keys.NewCourseKey("edX", "Rows", "2026")
	mixed2, _, draft := newTestMixedStore(draftCourse)
	_, err = mixed2.CreateCourse(ctx, "instructor", draftCourse, nil)
	require.NoError(t, err)

	// The draft engine has no cross-branch subtree publishing
	err = mixed2.PublishSubtrees(ctx, "author", draftCourse, draftCourse, nil, nil)
	require.ErrorAs(t, err, &ns)
	require.Equal(t, "publish_subtrees", ns.Op)
	require.Equal(t, draft.Name(), ns.Store)
}

func TestMixedUnpublishSplitCourse(t *testing.T) {
	ctx := context.Background()
	mixed, _, _ := newTestMixedStore()
	course := keys.NewCourseKey("edX", "Takedown", "2026")

	root, err := mixed.CreateCourse(ctx, "instructor", course, nil)
	require.NoError(t, err)
	chapter := course.UsageKey("chapter", "ch1")
	_, err = mixed.CreateItem(ctx, "author", &root.Key, chapter, nil)
	require.NoError(t, err)
	_, err = mixed.Publish(ctx, "author", chapter)
	require.NoError(t, err)

	// Unpublish routes through to the version-graph engine
	require.NoError(t, mixed.Unpublish(ctx, "author", chapter))

	_, err = mixed.GetItem(ctx, chapter.ForBranch(keys.BranchPublished), PublishedOnly)
	require.True(t, isNotFound(err))

	has, err := mixed.HasItem(ctx, chapter)
	require.NoError(t, err)
	require.True(t, has)
}

func TestMixedBulkWrite(t *testing.T) {
	ctx := context.Background()
	course := keys.NewCourseKey("edX", "Bulk", "2026")
	mixed, _, draft := newTestMixedStore(course)

	_, err := mixed.CreateCourse(ctx, "instructor", course, nil)
	require.NoError(t, err)

	var sawSuspended bool
	err = mixed.BulkWrite(ctx, course, func(ctx context.Context) error {
		draft.inheritance.mu.Lock()
		sawSuspended = draft.inheritance.suspended[course.CourseAgnostic().String()] > 0
		draft.inheritance.mu.Unlock()

		root := course.UsageKey("course", course.Run)
		for _, name := range []string{"ch1", "ch2"} {
			if _, err := mixed.CreateItem(ctx, "author", &root, course.UsageKey("chapter", name), nil); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, sawSuspended)

	items, err := mixed.GetItems(ctx, course, "chapter", PreferDraft)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// The suspend unwinds on error paths too
	boom := errors.New("boom")
	err = mixed.BulkWrite(ctx, course, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	draft.inheritance.mu.Lock()
	remaining := len(draft.inheritance.suspended)
	draft.inheritance.mu.Unlock()
	require.Zero(t, remaining)
}
