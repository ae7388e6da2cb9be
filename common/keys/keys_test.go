package keys

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/openlearn/coursestore/common/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCourseKeyRoundTrip(t *testing.T) {
	guid := uuid.New()
	cases := []CourseKey{
		NewCourseKey("testx", "GreekHero", "run"),
		NewCourseKey("testx", "GreekHero", "run").ForBranch(BranchDraft),
		NewCourseKey("testx", "GreekHero", "run").ForBranch(BranchPublished).ForVersion(guid),
		{Version: guid},
	}

	for _, key := range cases {
		parsed, err := ParseCourseKey(key.String())
		require.NoError(t, err, "round trip of %s", key)
		assert.Equal(t, key, parsed)
	}
}

func TestUsageKeyRoundTrip(t *testing.T) {
	guid := uuid.New()
	cases := []UsageKey{
		NewCourseKey("testx", "GreekHero", "run").UsageKey("problem", "p1"),
		NewCourseKey("testx", "GreekHero", "run").ForBranch(BranchDraft).UsageKey("chapter", "ch1"),
		NewCourseKey("testx", "GreekHero", "run").ForVersion(guid).UsageKey("vertical", "v1"),
		NewCourseKey("testx", "GreekHero", "run").UsageKey("problem", "p1").ForRevision(RevisionDraft),
	}

	for _, key := range cases {
		parsed, err := ParseUsageKey(key.String())
		require.NoError(t, err, "round trip of %s", key)
		assert.Equal(t, key, parsed)
	}
}

func TestDefinitionKeyRoundTrip(t *testing.T) {
	key := DefinitionKey{DefinitionID: uuid.New(), Category: "problem"}
	parsed, err := ParseDefinitionKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
}

func TestVersionAgnosticEquality(t *testing.T) {
	base := NewCourseKey("testx", "GreekHero", "run")
	pinned := base.ForBranch(BranchDraft).ForVersion(uuid.New())

	assert.NotEqual(t, base, pinned)
	assert.Equal(t, base, pinned.CourseAgnostic())
	assert.Equal(t, base.ForBranch(BranchDraft), pinned.VersionAgnostic())

	usage := pinned.UsageKey("problem", "p1").ForRevision(RevisionDraft)
	assert.Equal(t, base.UsageKey("problem", "p1"), usage.CourseAgnostic())
}

func TestParseErrors(t *testing.T) {
	var invalid *errs.InvalidKeyError

	_, err := ParseCourseKey("garbage")
	require.Error(t, err)
	assert.True(t, errors.As(err, &invalid))

	_, err = ParseCourseKey("course-v1:testx+GreekHero")
	require.Error(t, err)
	assert.True(t, errors.As(err, &invalid))

	_, err = ParseUsageKey("block-v1:testx+GreekHero+run+block@p1")
	require.Error(t, err)
	assert.True(t, errors.As(err, &invalid), "missing type segment should be invalid")

	var insufficient *errs.InsufficientSpecificationError
	_, err = ParseCourseKey("course-v1:branch@draft")
	require.Error(t, err)
	assert.True(t, errors.As(err, &insufficient), "branch without course or version is underspecified")
}

func TestForBranchRetargets(t *testing.T) {
	key := NewCourseKey("testx", "GreekHero", "run").ForBranch(BranchDraft)
	published := key.ForBranch(BranchPublished)

	assert.Equal(t, BranchPublished, published.Branch)
	assert.Equal(t, BranchDraft, key.Branch, "ForBranch must not mutate the receiver")
}
