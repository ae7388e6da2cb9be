// Package keys defines the identity model for courses, blocks, and
// definitions, plus the canonical reversible string encoding used at every
// API boundary.
package keys

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/openlearn/coursestore/common/errs"
)

// Branch names a mutable pointer into a course's version history.
type Branch string

const (
	BranchDraft     Branch = "draft"
	BranchPublished Branch = "published"
)

// Revision tags the physical record a draft/published block identity refers
// to. The zero value means "published" so that a plain key always names the
// live block.
type Revision string

const (
	RevisionNone  Revision = ""
	RevisionDraft Revision = "draft"
)

const (
	coursePrefix = "course-v1:"
	blockPrefix  = "block-v1:"
	defPrefix    = "def-v1:"
)

// CourseKey identifies a course as (org, course, run). Branch and Version are
// optional refinements used by the version-graph store; two CourseKeys are
// version-agnostic equal when org/course/run match.
type CourseKey struct {
	Org    string
	Course string
	Run    string
	Branch Branch
	// Version pins the key to one structure version. uuid.Nil means unset.
	Version uuid.UUID
}

// NewCourseKey builds a branchless, versionless course key.
func NewCourseKey(org, course, run string) CourseKey {
	return CourseKey{Org: org, Course: course, Run: run}
}

// IsFullySpecified reports whether org/course/run are all present.
func (k CourseKey) IsFullySpecified() bool {
	return k.Org != "" && k.Course != "" && k.Run != ""
}

// VersionAgnostic returns a copy with the version pin removed.
func (k CourseKey) VersionAgnostic() CourseKey {
	k.Version = uuid.Nil
	return k
}

// CourseAgnostic returns a copy stripped of both branch and version, suitable
// for identity comparison and store routing.
func (k CourseKey) CourseAgnostic() CourseKey {
	k.Branch = ""
	k.Version = uuid.Nil
	return k
}

// ForBranch retargets the key at a different branch.
func (k CourseKey) ForBranch(b Branch) CourseKey {
	k.Branch = b
	return k
}

// ForVersion pins the key to an explicit structure version.
func (k CourseKey) ForVersion(v uuid.UUID) CourseKey {
	k.Version = v
	return k
}

// UsageKey builds a block key within this course.
func (k CourseKey) UsageKey(blockType, blockID string) UsageKey {
	return UsageKey{Course: k, BlockType: blockType, BlockID: blockID}
}

func (k CourseKey) String() string {
	var b strings.Builder
	b.WriteString(coursePrefix)
	b.WriteString(k.segments())
	return b.String()
}

func (k CourseKey) segments() string {
	parts := make([]string, 0, 5)
	if k.IsFullySpecified() {
		parts = append(parts, k.Org, k.Course, k.Run)
	}
	if k.Branch != "" {
		parts = append(parts, "branch@"+string(k.Branch))
	}
	if k.Version != uuid.Nil {
		parts = append(parts, "version@"+k.Version.String())
	}
	return strings.Join(parts, "+")
}

// UsageKey identifies one block instance within a course. Revision is only
// meaningful to the draft/published store and is never part of the identity
// the engines hand back to callers.
type UsageKey struct {
	Course    CourseKey
	BlockType string
	BlockID   string
	Revision  Revision
}

// VersionAgnostic strips the course version pin.
func (u UsageKey) VersionAgnostic() UsageKey {
	u.Course = u.Course.VersionAgnostic()
	return u
}

// CourseAgnostic strips branch, version, and revision.
func (u UsageKey) CourseAgnostic() UsageKey {
	u.Course = u.Course.CourseAgnostic()
	u.Revision = RevisionNone
	return u
}

// ForBranch retargets the key's course at a different branch.
func (u UsageKey) ForBranch(b Branch) UsageKey {
	u.Course = u.Course.ForBranch(b)
	return u
}

// ForRevision returns a copy tagged with the given physical revision.
func (u UsageKey) ForRevision(r Revision) UsageKey {
	u.Revision = r
	return u
}

// MapInto rebases the block identity onto another course key, keeping the
// block type and id.
func (u UsageKey) MapInto(course CourseKey) UsageKey {
	u.Course = course
	return u
}

func (u UsageKey) String() string {
	var b strings.Builder
	b.WriteString(blockPrefix)
	b.WriteString(u.Course.segments())
	b.WriteString("+type@" + u.BlockType)
	b.WriteString("+block@" + u.BlockID)
	if u.Revision != RevisionNone {
		b.WriteString("+revision@" + string(u.Revision))
	}
	return b.String()
}

// DefinitionKey identifies one version of a block's shared content body,
// independent of structural position.
type DefinitionKey struct {
	DefinitionID uuid.UUID
	Category     string
}

func (d DefinitionKey) String() string {
	return defPrefix + d.DefinitionID.String() + "+type@" + d.Category
}

// ParseCourseKey parses the canonical course string form.
func ParseCourseKey(s string) (CourseKey, error) {
	if !strings.HasPrefix(s, coursePrefix) {
		return CourseKey{}, &errs.InvalidKeyError{Raw: s, Reason: "missing course-v1 prefix"}
	}
	key, rest, err := parseCourseSegments(s, strings.Split(strings.TrimPrefix(s, coursePrefix), "+"))
	if err != nil {
		return CourseKey{}, err
	}
	if len(rest) > 0 {
		return CourseKey{}, &errs.InvalidKeyError{Raw: s, Reason: fmt.Sprintf("unexpected segment %q", rest[0])}
	}
	return key, nil
}

// ParseUsageKey parses the canonical block string form.
func ParseUsageKey(s string) (UsageKey, error) {
	if !strings.HasPrefix(s, blockPrefix) {
		return UsageKey{}, &errs.InvalidKeyError{Raw: s, Reason: "missing block-v1 prefix"}
	}
	course, rest, err := parseCourseSegments(s, strings.Split(strings.TrimPrefix(s, blockPrefix), "+"))
	if err != nil {
		return UsageKey{}, err
	}
	key := UsageKey{Course: course}
	for _, seg := range rest {
		marker, value, ok := strings.Cut(seg, "@")
		if !ok {
			return UsageKey{}, &errs.InvalidKeyError{Raw: s, Reason: fmt.Sprintf("segment %q is not marker@value", seg)}
		}
		switch marker {
		case "type":
			key.BlockType = value
		case "block":
			key.BlockID = value
		case "revision":
			if value != string(RevisionDraft) {
				return UsageKey{}, &errs.InvalidKeyError{Raw: s, Reason: fmt.Sprintf("unknown revision %q", value)}
			}
			key.Revision = RevisionDraft
		default:
			return UsageKey{}, &errs.InvalidKeyError{Raw: s, Reason: fmt.Sprintf("unknown marker %q", marker)}
		}
	}
	if key.BlockType == "" || key.BlockID == "" {
		return UsageKey{}, &errs.InvalidKeyError{Raw: s, Reason: "missing type or block segment"}
	}
	return key, nil
}

// ParseDefinitionKey parses the canonical definition string form.
func ParseDefinitionKey(s string) (DefinitionKey, error) {
	if !strings.HasPrefix(s, defPrefix) {
		return DefinitionKey{}, &errs.InvalidKeyError{Raw: s, Reason: "missing def-v1 prefix"}
	}
	body := strings.TrimPrefix(s, defPrefix)
	idPart, typePart, ok := strings.Cut(body, "+type@")
	if !ok {
		return DefinitionKey{}, &errs.InvalidKeyError{Raw: s, Reason: "missing type segment"}
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return DefinitionKey{}, &errs.InvalidKeyError{Raw: s, Reason: "malformed definition id"}
	}
	return DefinitionKey{DefinitionID: id, Category: typePart}, nil
}

// parseCourseSegments consumes the org/course/run triple (if present) and any
// branch@/version@ refinements, returning unconsumed segments for block keys.
func parseCourseSegments(raw string, segs []string) (CourseKey, []string, error) {
	var key CourseKey
	i := 0
	if len(segs) > 0 && !strings.Contains(segs[0], "@") {
		if len(segs) < 3 || strings.Contains(segs[1], "@") || strings.Contains(segs[2], "@") {
			return CourseKey{}, nil, &errs.InvalidKeyError{Raw: raw, Reason: "expected org+course+run"}
		}
		key.Org, key.Course, key.Run = segs[0], segs[1], segs[2]
		if key.Org == "" || key.Course == "" || key.Run == "" {
			return CourseKey{}, nil, &errs.InvalidKeyError{Raw: raw, Reason: "empty org, course, or run"}
		}
		i = 3
	}
	for ; i < len(segs); i++ {
		marker, value, ok := strings.Cut(segs[i], "@")
		if !ok {
			return key, segs[i:], nil
		}
		switch marker {
		case "branch":
			key.Branch = Branch(value)
		case "version":
			v, err := uuid.Parse(value)
			if err != nil {
				return CourseKey{}, nil, &errs.InvalidKeyError{Raw: raw, Reason: "malformed version guid"}
			}
			key.Version = v
		default:
			return key, segs[i:], nil
		}
	}
	if !key.IsFullySpecified() && key.Version == uuid.Nil {
		return CourseKey{}, nil, &errs.InsufficientSpecificationError{
			Key:    raw,
			Reason: "neither org/course/run nor a version guid supplied",
		}
	}
	return key, nil, nil
}
