// Package errs defines the error taxonomy shared by every store engine.
// Callers are expected to match these with errors.As; none of the layers
// above the repositories swallow them.
package errs

import (
	"fmt"

	"github.com/google/uuid"
)

// ItemNotFoundError indicates the requested block, course, or version is
// absent. Recoverable: callers may treat it as "doesn't exist yet".
type ItemNotFoundError struct {
	ID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item not found: %s", e.ID)
}

// InsufficientSpecificationError indicates an identity key is too ambiguous
// or incomplete for the requested operation. Programming error, not retried.
type InsufficientSpecificationError struct {
	Key    string
	Reason string
}

func (e *InsufficientSpecificationError) Error() string {
	return fmt.Sprintf("insufficient specification for %s: %s", e.Key, e.Reason)
}

// InvalidKeyError indicates a malformed identity string.
type InvalidKeyError struct {
	Raw    string
	Reason string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid key %q: %s", e.Raw, e.Reason)
}

// DuplicateItemError indicates an attempted creation collided with an
// existing block identity.
type DuplicateItemError struct {
	ID string
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("duplicate item: %s", e.ID)
}

// DuplicateCourseError indicates (org, course, run) already has an index.
type DuplicateCourseError struct {
	CourseID string
}

func (e *DuplicateCourseError) Error() string {
	return fmt.Sprintf("duplicate course: %s", e.CourseID)
}

// InvalidVersionError indicates an operation was attempted on a block
// category that structurally cannot support it (direct-only categories
// cannot be drafted or unpublished). Fatal to that call.
type InvalidVersionError struct {
	ID string
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version operation on %s", e.ID)
}

// VersionConflictError indicates an optimistic-concurrency pointer mismatch:
// the branch head moved between read and commit. The caller should re-fetch
// and retry; the store never auto-retries.
type VersionConflictError struct {
	Locator     string
	CurrentHead uuid.UUID
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: branch head is now %s", e.Locator, e.CurrentHead)
}

// NoPathToItemError indicates a block exists but no parent chain reaches a
// course root (orphan) during path resolution.
type NoPathToItemError struct {
	ID string
}

func (e *NoPathToItemError) Error() string {
	return fmt.Sprintf("no path to item: %s", e.ID)
}

// InvalidBranchSettingError indicates an operation requires a branch mode the
// current context isn't configured for. Configuration error.
type InvalidBranchSettingError struct {
	Expected string
	Actual   string
}

func (e *InvalidBranchSettingError) Error() string {
	return fmt.Sprintf("invalid branch setting: expected %s, got %s", e.Expected, e.Actual)
}

// NotSupportedError indicates the store resolved for a course lacks the
// requested capability (e.g. a read-only store cannot create items).
type NotSupportedError struct {
	Op    string
	Store string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("store %s does not support %s", e.Store, e.Op)
}
