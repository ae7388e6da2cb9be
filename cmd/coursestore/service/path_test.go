package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/keys"
)

// buildPathCourse creates course -> chapter -> sequential -> vertical ->
// problem in the draft engine
func buildPathCourse(t *testing.T) (*DraftStore, keys.CourseKey, keys.UsageKey) {
	t.Helper()
	ctx := context.Background()
	store, _ := newTestDraftStore()
	course := greekHero()

	root, err := store.CreateCourse(ctx, "instructor", course, nil)
	require.NoError(t, err)
	chapter := course.UsageKey("chapter", "week1")
	_, err = store.CreateItem(ctx, "instructor", &root.Key, chapter, nil)
	require.NoError(t, err)
	section := course.UsageKey("sequential", "lecture")
	_, err = store.CreateItem(ctx, "instructor", &chapter, section, nil)
	require.NoError(t, err)
	vertical := course.UsageKey("vertical", "unit1")
	_, err = store.CreateItem(ctx, "instructor", &section, vertical, nil)
	require.NoError(t, err)
	problem := course.UsageKey("problem", "quiz1")
	_, err = store.CreateItem(ctx, "instructor", &vertical, problem, nil)
	require.NoError(t, err)

	return store, course, problem
}

func TestPathToLocation(t *testing.T) {
	ctx := context.Background()
	store, course, problem := buildPathCourse(t)

	path, err := PathToLocation(ctx, store, problem)
	require.NoError(t, err)
	require.Equal(t, course.CourseAgnostic(), path.Course)
	require.Equal(t, "week1", path.Chapter)
	require.Equal(t, "lecture", path.Section)
	require.Equal(t, "1", path.Position)
}

func TestPathPositionCountsSiblings(t *testing.T) {
	ctx := context.Background()
	store, course, _ := buildPathCourse(t)

	// A second unit under the same sequential sits at position 2
	section := course.UsageKey("sequential", "lecture")
	vertical2 := course.UsageKey("vertical", "unit2")
	_, err := store.CreateItem(ctx, "instructor", &section, vertical2, nil)
	require.NoError(t, err)
	problem2 := course.UsageKey("problem", "quiz2")
	_, err = store.CreateItem(ctx, "instructor", &vertical2, problem2, nil)
	require.NoError(t, err)

	path, err := PathToLocation(ctx, store, problem2)
	require.NoError(t, err)
	require.Equal(t, "lecture", path.Section)
	require.Equal(t, "2", path.Position)
}

func TestPathToChapter(t *testing.T) {
	ctx := context.Background()
	store, _, _ := buildPathCourse(t)
	course := greekHero()

	chapter := course.UsageKey("chapter", "week1")
	path, err := PathToLocation(ctx, store, chapter)
	require.NoError(t, err)
	require.Equal(t, "week1", path.Chapter)
	require.Empty(t, path.Section)
	require.Empty(t, path.Position)
}

func TestPathErrors(t *testing.T) {
	ctx := context.Background()
	store, course, _ := buildPathCourse(t)

	// A block that does not exist
	_, err := PathToLocation(ctx, store, course.UsageKey("problem", "ghost"))
	var nf *errs.ItemNotFoundError
	require.ErrorAs(t, err, &nf)

	// A block with no parent chain back to the root
	stray := course.UsageKey("vertical", "stray")
	_, err = store.CreateItem(ctx, "instructor", nil, stray, nil)
	require.NoError(t, err)

	_, err = PathToLocation(ctx, store, stray)
	var noPath *errs.NoPathToItemError
	require.ErrorAs(t, err, &noPath)
}
