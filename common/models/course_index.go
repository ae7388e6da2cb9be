package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openlearn/coursestore/common/keys"
)

// CourseIndex is the mutable branch-pointer document for one course in the
// version-graph store. At most one exists per (org, course, run); moving a
// branch pointer is the only way the "current" structure for a branch
// changes, and it is always an optimistic compare-and-swap.
// Maps to: course_index table
type CourseIndex struct {
	Org    string `db:"org" json:"org"`
	Course string `db:"course" json:"course"`
	Run    string `db:"run" json:"run"`

	// Branch name -> current structure version (JSONB)
	Versions map[keys.Branch]uuid.UUID `db:"versions" json:"versions"`

	// User who created the index entry
	EditedBy string `db:"edited_by" json:"edited_by"`

	// When the entry was created
	EditedAt time.Time `db:"edited_at" json:"edited_at"`
}

// CourseKey returns the branchless identity of the indexed course.
func (i *CourseIndex) CourseKey() keys.CourseKey {
	return keys.NewCourseKey(i.Org, i.Course, i.Run)
}

// Head returns the current structure version for a branch, or uuid.Nil if
// the branch has no entry.
func (i *CourseIndex) Head(branch keys.Branch) uuid.UUID {
	return i.Versions[branch]
}
