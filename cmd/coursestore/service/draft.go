package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/keys"
	"github.com/openlearn/coursestore/common/logger"
	"github.com/openlearn/coursestore/common/models"
	"github.com/openlearn/coursestore/common/queue"
)

// DraftStore is the two-revision engine: each logical block has at most a
// published record and a draft record, reads prefer drafts, and publish
// folds the draft into the published record. Direct-only categories skip
// the draft lifecycle entirely.
type DraftStore struct {
	blocks      blockStore
	defs        definitionStore
	inheritance *InheritanceCache
	events      queue.Queue
	log         *logger.Logger
}

// NewDraftStore creates a new draft/published engine
func NewDraftStore(blocks blockStore, defs definitionStore, inheritance *InheritanceCache, events queue.Queue, log *logger.Logger) *DraftStore {
	return &DraftStore{
		blocks:      blocks,
		defs:        defs,
		inheritance: inheritance,
		events:      events,
		log:         log,
	}
}

// Name identifies the store in config and error messages
func (s *DraftStore) Name() string { return "draft" }

// SuspendInheritance pauses inheritance refreshes for a course
func (s *DraftStore) SuspendInheritance(course keys.CourseKey) {
	s.inheritance.Suspend(course)
}

// ResumeInheritance resumes refreshes and flushes any pending recompute
func (s *DraftStore) ResumeInheritance(ctx context.Context, course keys.CourseKey) error {
	return s.inheritance.Resume(ctx, course)
}

// childKeyOf is the canonical string stored in children lists
func childKeyOf(usage keys.UsageKey) string {
	return usage.CourseAgnostic().String()
}

func isNotFound(err error) bool {
	var nf *errs.ItemNotFoundError
	return errors.As(err, &nf)
}

// toBlock converts a physical record into the runtime view. The returned
// key never carries the revision tag; is_draft records which record
// satisfied the read.
func (s *DraftStore) toBlock(ctx context.Context, rec *models.BlockRecord) *models.Block {
	block := &models.Block{
		Key:      rec.UsageKey(),
		Category: rec.BlockType,
		Fields:   rec.Fields,
		IsDraft:  rec.Revision == keys.RevisionDraft,
		EditedBy: rec.EditedBy,
		EditedAt: rec.EditedAt,
	}
	if rec.DefinitionID != uuid.Nil {
		block.Definition = keys.DefinitionKey{DefinitionID: rec.DefinitionID, Category: rec.BlockType}
	}
	for _, raw := range rec.Children {
		child, err := keys.ParseUsageKey(raw)
		if err != nil {
			s.log.Warn("skipping malformed child key", "raw", raw, "parent", block.Key.String())
			continue
		}
		block.Children = append(block.Children, child)
	}
	if inherited, err := s.inheritance.Inherited(ctx, rec.CourseKey(), block.Key); err == nil && len(inherited) > 0 {
		block.Inherited = inherited
	}
	return block
}

// getRecord resolves a logical block to a physical record honoring the
// revision preference and the direct-only invariant.
func (s *DraftStore) getRecord(ctx context.Context, usage keys.UsageKey, pref RevisionPreference) (*models.BlockRecord, error) {
	course := usage.Course.CourseAgnostic()

	if DirectOnlyCategories[usage.BlockType] {
		return s.blocks.Get(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionNone)
	}

	switch pref {
	case PublishedOnly:
		return s.blocks.Get(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionNone)
	case DraftOnly:
		return s.blocks.Get(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionDraft)
	default:
		rec, err := s.blocks.Get(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionDraft)
		if isNotFound(err) {
			return s.blocks.Get(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionNone)
		}
		return rec, err
	}
}

// GetItem retrieves one block, preferring drafts unless told otherwise
func (s *DraftStore) GetItem(ctx context.Context, usage keys.UsageKey, pref RevisionPreference) (*models.Block, error) {
	rec, err := s.getRecord(ctx, usage, pref)
	if err != nil {
		return nil, err
	}
	return s.toBlock(ctx, rec), nil
}

// HasItem reports whether any revision of the block exists
func (s *DraftStore) HasItem(ctx context.Context, usage keys.UsageKey) (bool, error) {
	course := usage.Course.CourseAgnostic()
	exists, err := s.blocks.Exists(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionNone)
	if err != nil || exists {
		return exists, err
	}
	if DirectOnlyCategories[usage.BlockType] {
		return false, nil
	}
	return s.blocks.Exists(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionDraft)
}

// GetItems lists all blocks of one category in a course with a
// draft-preferred merge
func (s *DraftStore) GetItems(ctx context.Context, course keys.CourseKey, category string, pref RevisionPreference) ([]*models.Block, error) {
	course = course.CourseAgnostic()

	var recs []*models.BlockRecord
	switch {
	case DirectOnlyCategories[category] || pref == PublishedOnly:
		published, err := s.blocks.ListByCategory(ctx, course, category, keys.RevisionNone)
		if err != nil {
			return nil, err
		}
		recs = published
	case pref == DraftOnly:
		drafts, err := s.blocks.ListByCategory(ctx, course, category, keys.RevisionDraft)
		if err != nil {
			return nil, err
		}
		recs = drafts
	default:
		published, err := s.blocks.ListByCategory(ctx, course, category, keys.RevisionNone)
		if err != nil {
			return nil, err
		}
		drafts, err := s.blocks.ListByCategory(ctx, course, category, keys.RevisionDraft)
		if err != nil {
			return nil, err
		}
		merged := make(map[string]*models.BlockRecord, len(published))
		for _, rec := range published {
			merged[rec.UsageKey().String()] = rec
		}
		for _, rec := range drafts {
			merged[rec.UsageKey().String()] = rec
		}
		for _, rec := range merged {
			recs = append(recs, rec)
		}
	}

	blocks := make([]*models.Block, 0, len(recs))
	for _, rec := range recs {
		blocks = append(blocks, s.toBlock(ctx, rec))
	}
	return blocks, nil
}

// HasCourse reports whether a course root exists
func (s *DraftStore) HasCourse(ctx context.Context, course keys.CourseKey) (bool, error) {
	roots, err := s.blocks.ListByCategory(ctx, course.CourseAgnostic(), "course", keys.RevisionNone)
	if err != nil {
		return false, err
	}
	return len(roots) > 0, nil
}

// GetCourses lists all course roots in this store
func (s *DraftStore) GetCourses(ctx context.Context) ([]*models.Block, error) {
	roots, err := s.blocks.ListCourses(ctx)
	if err != nil {
		return nil, err
	}
	courses := make([]*models.Block, 0, len(roots))
	for _, rec := range roots {
		courses = append(courses, s.toBlock(ctx, rec))
	}
	return courses, nil
}

func (s *DraftStore) courseRoot(ctx context.Context, course keys.CourseKey) (*models.BlockRecord, error) {
	roots, err := s.blocks.ListByCategory(ctx, course.CourseAgnostic(), "course", keys.RevisionNone)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, &errs.ItemNotFoundError{ID: course.CourseAgnostic().String()}
	}
	return roots[0], nil
}

// CreateCourse creates the course root block. The root's block id is the
// run, matching the identity triple.
func (s *DraftStore) CreateCourse(ctx context.Context, user string, course keys.CourseKey, fields map[string]interface{}) (*models.Block, error) {
	course = course.CourseAgnostic()

	exists, err := s.HasCourse(ctx, course)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &errs.DuplicateCourseError{CourseID: course.String()}
	}

	settings, content := splitContentFields(fields)
	defID, err := s.mintDefinition(ctx, user, "course", content, uuid.Nil)
	if err != nil {
		return nil, err
	}

	rec := &models.BlockRecord{
		Org:          course.Org,
		Course:       course.Course,
		Run:          course.Run,
		BlockType:    "course",
		BlockID:      course.Run,
		Revision:     keys.RevisionNone,
		DefinitionID: defID,
		Fields:       settings,
		EditedBy:     user,
		EditedAt:     time.Now().UTC(),
	}
	if err := s.blocks.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, queue.TopicCourseCreated, course.String(), user)
	s.log.Info("created course", "course", course.String(), "user", user)

	if err := s.inheritance.Refresh(ctx, course); err != nil {
		s.log.Warn("inheritance refresh failed", "course", course.String(), "error", err)
	}
	return s.toBlock(ctx, rec), nil
}

// DeleteCourse removes every record of a course
func (s *DraftStore) DeleteCourse(ctx context.Context, user string, course keys.CourseKey) error {
	course = course.CourseAgnostic()

	removed, err := s.blocks.DeleteCourse(ctx, course)
	if err != nil {
		return err
	}
	if removed == 0 {
		return &errs.ItemNotFoundError{ID: course.String()}
	}

	if err := s.inheritance.Invalidate(ctx, course); err != nil {
		s.log.Warn("inheritance invalidate failed", "course", course.String(), "error", err)
	}
	s.publishEvent(ctx, queue.TopicCourseDeleted, course.String(), user)
	s.log.Info("deleted course", "course", course.String(), "blocks", removed, "user", user)
	return nil
}

// CreateItem creates a new block. Direct-only categories go straight to
// the published record; everything else starts life as a draft.
func (s *DraftStore) CreateItem(ctx context.Context, user string, parent *keys.UsageKey, usage keys.UsageKey, fields map[string]interface{}) (*models.Block, error) {
	course := usage.Course.CourseAgnostic()

	// A published record under the same id must refuse the create too,
	// or the new draft would silently shadow it
	for _, rev := range []keys.Revision{keys.RevisionDraft, keys.RevisionNone} {
		exists, err := s.blocks.Exists(ctx, course, usage.BlockType, usage.BlockID, rev)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, &errs.DuplicateItemError{ID: usage.String()}
		}
	}

	settings, content := splitContentFields(fields)
	defID, err := s.mintDefinition(ctx, user, usage.BlockType, content, uuid.Nil)
	if err != nil {
		return nil, err
	}

	revision := keys.RevisionDraft
	if DirectOnlyCategories[usage.BlockType] {
		revision = keys.RevisionNone
	}

	rec := &models.BlockRecord{
		Org:          course.Org,
		Course:       course.Course,
		Run:          course.Run,
		BlockType:    usage.BlockType,
		BlockID:      usage.BlockID,
		Revision:     revision,
		DefinitionID: defID,
		Fields:       settings,
		EditedBy:     user,
		EditedAt:     time.Now().UTC(),
	}
	if err := s.blocks.Create(ctx, rec); err != nil {
		return nil, err
	}

	if parent != nil {
		if err := s.attachChild(ctx, user, *parent, usage); err != nil {
			return nil, err
		}
	}

	if err := s.inheritance.Refresh(ctx, course); err != nil {
		s.log.Warn("inheritance refresh failed", "course", course.String(), "error", err)
	}
	return s.toBlock(ctx, rec), nil
}

// attachChild appends a child to a parent's children list. Non
// direct-only parents are drafted first so the edit stays pending.
func (s *DraftStore) attachChild(ctx context.Context, user string, parent, child keys.UsageKey) error {
	var parentRec *models.BlockRecord
	var err error

	if DirectOnlyCategories[parent.BlockType] {
		parentRec, err = s.getRecord(ctx, parent, PublishedOnly)
	} else {
		parentRec, err = s.ensureDraft(ctx, user, parent)
	}
	if err != nil {
		return err
	}

	key := childKeyOf(child)
	for _, existing := range parentRec.Children {
		if existing == key {
			return nil
		}
	}

	parentRec.Children = append(parentRec.Children, key)
	parentRec.EditedBy = user
	parentRec.EditedAt = time.Now().UTC()
	return s.blocks.Upsert(ctx, parentRec)
}

// ensureDraft returns the draft record for a block, copying the
// published record into a draft if none exists yet
func (s *DraftStore) ensureDraft(ctx context.Context, user string, usage keys.UsageKey) (*models.BlockRecord, error) {
	course := usage.Course.CourseAgnostic()

	draft, err := s.blocks.Get(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionDraft)
	if err == nil {
		return draft, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	published, err := s.blocks.Get(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionNone)
	if err != nil {
		return nil, err
	}

	draft = published.Clone()
	draft.Revision = keys.RevisionDraft
	draft.EditedBy = user
	draft.EditedAt = time.Now().UTC()
	if err := s.blocks.Upsert(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// ConvertToDraft copies a published subtree into draft records. Fails if
// the root is direct-only or if any visited node already has a draft.
func (s *DraftStore) ConvertToDraft(ctx context.Context, user string, usage keys.UsageKey) error {
	return s.convertSubtree(ctx, user, usage, false, false)
}

// Unpublish converts the published subtree to draft and removes the
// published records, making the subtree invisible to published readers
func (s *DraftStore) Unpublish(ctx context.Context, user string, usage keys.UsageKey) error {
	return s.convertSubtree(ctx, user, usage, true, true)
}

func (s *DraftStore) convertSubtree(ctx context.Context, user string, root keys.UsageKey, ignoreDuplicates, deletePublished bool) error {
	if DirectOnlyCategories[root.BlockType] {
		return &errs.InvalidVersionError{ID: root.String()}
	}
	course := root.Course.CourseAgnostic()
	now := time.Now().UTC()

	work := []keys.UsageKey{root}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]

		if DirectOnlyCategories[cur.BlockType] {
			continue
		}

		published, err := s.blocks.Get(ctx, course, cur.BlockType, cur.BlockID, keys.RevisionNone)
		if err != nil {
			if isNotFound(err) && cur != root {
				continue
			}
			return err
		}

		for _, raw := range published.Children {
			child, err := keys.ParseUsageKey(raw)
			if err != nil {
				continue
			}
			work = append(work, child)
		}

		hasDraft, err := s.blocks.Exists(ctx, course, cur.BlockType, cur.BlockID, keys.RevisionDraft)
		if err != nil {
			return err
		}
		if hasDraft && !ignoreDuplicates {
			return &errs.DuplicateItemError{ID: cur.ForRevision(keys.RevisionDraft).String()}
		}

		if !hasDraft {
			draft := published.Clone()
			draft.Revision = keys.RevisionDraft
			draft.EditedBy = user
			draft.EditedAt = now
			if err := s.blocks.Upsert(ctx, draft); err != nil {
				return err
			}
		}

		if deletePublished {
			if _, err := s.blocks.Delete(ctx, course, cur.BlockType, cur.BlockID, keys.RevisionNone); err != nil {
				return err
			}
		}
	}

	return s.inheritance.Refresh(ctx, course)
}

// UpdateItem writes new field values (and optionally a new children
// list). Drafts are created on demand; the caller never sees a
// revision-tagged key. A change to the "data" field mints a new
// definition version chained to the previous one.
func (s *DraftStore) UpdateItem(ctx context.Context, user string, usage keys.UsageKey, fields map[string]interface{}, children []keys.UsageKey) (*models.Block, error) {
	var rec *models.BlockRecord
	var err error

	if DirectOnlyCategories[usage.BlockType] {
		rec, err = s.getRecord(ctx, usage, PublishedOnly)
	} else {
		rec, err = s.ensureDraft(ctx, user, usage)
	}
	if err != nil {
		return nil, err
	}

	settings, content := splitContentFields(fields)
	if content != nil {
		defID, err := s.mintDefinition(ctx, user, usage.BlockType, content, rec.DefinitionID)
		if err != nil {
			return nil, err
		}
		rec.DefinitionID = defID
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]interface{}, len(settings))
	}
	for k, v := range settings {
		rec.Fields[k] = v
	}

	treeChanged := false
	if children != nil {
		rec.Children = rec.Children[:0]
		for _, child := range children {
			rec.Children = append(rec.Children, childKeyOf(child))
		}
		treeChanged = true
	}

	rec.EditedBy = user
	rec.EditedAt = time.Now().UTC()
	if err := s.blocks.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	if treeChanged {
		if err := s.inheritance.Refresh(ctx, usage.Course.CourseAgnostic()); err != nil {
			s.log.Warn("inheritance refresh failed", "course", usage.Course.CourseAgnostic().String(), "error", err)
		}
	}
	return s.toBlock(ctx, rec), nil
}

// DeleteItem removes a block subtree in the requested revision scope.
// The block is detached from surviving parent revisions, except that a
// direct-only parent keeps its linkage while another revision of the
// block remains.
func (s *DraftStore) DeleteItem(ctx context.Context, user string, usage keys.UsageKey, scope DeleteScope) error {
	course := usage.Course.CourseAgnostic()

	if DirectOnlyCategories[usage.BlockType] {
		scope = DeletePublishedOnly
	}

	exists, err := s.HasItem(ctx, usage)
	if err != nil {
		return err
	}
	if !exists {
		return &errs.ItemNotFoundError{ID: usage.String()}
	}

	alternateRemains := false
	switch scope {
	case DeleteDraftOnly:
		alternateRemains, err = s.blocks.Exists(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionNone)
	case DeletePublishedOnly:
		if !DirectOnlyCategories[usage.BlockType] {
			alternateRemains, err = s.blocks.Exists(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionDraft)
		}
	}
	if err != nil {
		return err
	}

	// Detach from parents that survive the delete
	parents, err := s.blocks.FindWithChild(ctx, course, childKeyOf(usage))
	if err != nil {
		return err
	}
	for _, parentRec := range parents {
		if DirectOnlyCategories[parentRec.BlockType] && alternateRemains {
			continue
		}
		filtered := parentRec.Children[:0]
		for _, raw := range parentRec.Children {
			if raw != childKeyOf(usage) {
				filtered = append(filtered, raw)
			}
		}
		parentRec.Children = filtered
		parentRec.EditedBy = user
		parentRec.EditedAt = time.Now().UTC()
		if err := s.blocks.Upsert(ctx, parentRec); err != nil {
			return err
		}
	}

	// Depth-first removal of the selected revision subtree
	work := []keys.UsageKey{usage}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]

		children := map[string]bool{}
		revs := revisionsForScope(cur.BlockType, scope)
		for _, rev := range revs {
			rec, err := s.blocks.Get(ctx, course, cur.BlockType, cur.BlockID, rev)
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			for _, raw := range rec.Children {
				children[raw] = true
			}
		}
		if len(revs) == 1 {
			if _, err := s.blocks.Delete(ctx, course, cur.BlockType, cur.BlockID, revs[0]); err != nil {
				return err
			}
		} else if _, err := s.blocks.DeleteAllRevisions(ctx, course, cur.BlockType, cur.BlockID); err != nil {
			return err
		}
		for raw := range children {
			child, err := keys.ParseUsageKey(raw)
			if err != nil {
				continue
			}
			work = append(work, child)
		}
	}

	s.publishEvent(ctx, queue.TopicBlockDeleted, usage.String(), user)
	return s.inheritance.Refresh(ctx, course)
}

func revisionsForScope(category string, scope DeleteScope) []keys.Revision {
	if DirectOnlyCategories[category] {
		return []keys.Revision{keys.RevisionNone}
	}
	switch scope {
	case DeleteDraftOnly:
		return []keys.Revision{keys.RevisionDraft}
	case DeletePublishedOnly:
		return []keys.Revision{keys.RevisionNone}
	default:
		return []keys.Revision{keys.RevisionDraft, keys.RevisionNone}
	}
}

// Publish folds the draft subtree into the published records, children
// first. A child present in the old published children list but absent
// from the draft's is deleted when this node is still its recorded
// parent; otherwise it is assumed moved and left for its new parent's
// publish.
func (s *DraftStore) Publish(ctx context.Context, user string, usage keys.UsageKey) (*models.Block, error) {
	course := usage.Course.CourseAgnostic()

	if err := s.publishSubtree(ctx, user, usage); err != nil {
		return nil, err
	}

	if err := s.inheritance.Refresh(ctx, course); err != nil {
		s.log.Warn("inheritance refresh failed", "course", course.String(), "error", err)
	}
	s.publishEvent(ctx, queue.TopicBlockPublished, usage.String(), user)
	s.log.Info("published subtree", "block", usage.String(), "user", user)

	return s.GetItem(ctx, usage, PublishedOnly)
}

func (s *DraftStore) publishSubtree(ctx context.Context, user string, root keys.UsageKey) error {
	course := root.Course.CourseAgnostic()

	// Pre-order collection; processing the reverse handles every node
	// after all of its descendants, so a parent is never published ahead
	// of its subtree
	var order []keys.UsageKey
	work := []keys.UsageKey{root}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]

		rec, err := s.getRecord(ctx, cur, PreferDraft)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return err
		}
		order = append(order, cur)
		for _, raw := range rec.Children {
			child, err := keys.ParseUsageKey(raw)
			if err != nil {
				continue
			}
			work = append(work, child)
		}
	}

	for i := len(order) - 1; i >= 0; i-- {
		cur := order[i]

		rec, err := s.getRecord(ctx, cur, PreferDraft)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return err
		}
		if DirectOnlyCategories[cur.BlockType] || rec.Revision != keys.RevisionDraft {
			continue
		}

		oldPublished, err := s.blocks.Get(ctx, course, cur.BlockType, cur.BlockID, keys.RevisionNone)
		if err != nil && !isNotFound(err) {
			return err
		}
		if oldPublished != nil {
			draftChildren := map[string]bool{}
			for _, raw := range rec.Children {
				draftChildren[raw] = true
			}
			for _, raw := range oldPublished.Children {
				if draftChildren[raw] {
					continue
				}
				child, err := keys.ParseUsageKey(raw)
				if err != nil {
					continue
				}
				stillOurs, err := s.isRecordedParent(ctx, cur, child)
				if err != nil {
					return err
				}
				if !stillOurs {
					// Moved under another parent, not deleted
					continue
				}
				if err := s.DeleteItem(ctx, user, child, DeleteAll); err != nil && !isNotFound(err) {
					return err
				}
			}
		}

		published := rec.Clone()
		published.Revision = keys.RevisionNone
		published.EditedBy = user
		published.EditedAt = time.Now().UTC()
		if err := s.blocks.Upsert(ctx, published); err != nil {
			return err
		}
		if _, err := s.blocks.Delete(ctx, course, cur.BlockType, cur.BlockID, keys.RevisionDraft); err != nil {
			return err
		}
	}

	return nil
}

// isRecordedParent reports whether parent is still the child's sole
// recorded parent under draft-preferred visibility. A child claimed by
// more than one parent is never "ours": deleting it here could tear it
// out from under the other parent.
func (s *DraftStore) isRecordedParent(ctx context.Context, parent, child keys.UsageKey) (bool, error) {
	parents, err := s.GetParentLocations(ctx, child)
	if err != nil {
		return false, err
	}
	if len(parents) != 1 {
		return false, nil
	}
	return parents[0].CourseAgnostic() == parent.CourseAgnostic(), nil
}

// RevertToPublished discards every draft in the subtree. Draft-only
// nodes disappear entirely; drafted copies of published nodes are
// dropped so reads fall back to the published records.
func (s *DraftStore) RevertToPublished(ctx context.Context, user string, usage keys.UsageKey) error {
	if DirectOnlyCategories[usage.BlockType] {
		return nil
	}
	course := usage.Course.CourseAgnostic()

	hasPublished, err := s.blocks.Exists(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionNone)
	if err != nil {
		return err
	}
	if !hasPublished {
		return &errs.InvalidVersionError{ID: usage.String()}
	}

	work := []keys.UsageKey{usage}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]

		draft, err := s.blocks.Get(ctx, course, cur.BlockType, cur.BlockID, keys.RevisionDraft)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}

		for _, raw := range draft.Children {
			child, err := keys.ParseUsageKey(raw)
			if err != nil {
				continue
			}
			work = append(work, child)
		}

		if _, err := s.blocks.Delete(ctx, course, cur.BlockType, cur.BlockID, keys.RevisionDraft); err != nil {
			return err
		}
	}

	return s.inheritance.Refresh(ctx, course)
}

// HasChanges reports whether the block or any descendant has unpublished
// edits. Short-circuits on the first difference.
func (s *DraftStore) HasChanges(ctx context.Context, usage keys.UsageKey) (bool, error) {
	course := usage.Course.CourseAgnostic()

	work := []keys.UsageKey{usage}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]

		if !DirectOnlyCategories[cur.BlockType] {
			draft, err := s.blocks.Get(ctx, course, cur.BlockType, cur.BlockID, keys.RevisionDraft)
			if err != nil && !isNotFound(err) {
				return false, err
			}
			if draft != nil {
				published, err := s.blocks.Get(ctx, course, cur.BlockType, cur.BlockID, keys.RevisionNone)
				if isNotFound(err) {
					return true, nil
				}
				if err != nil {
					return false, err
				}
				same, err := recordsEqual(draft, published)
				if err != nil {
					return false, err
				}
				if !same {
					return true, nil
				}
			}
		}

		rec, err := s.getRecord(ctx, cur, PreferDraft)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return false, err
		}
		for _, raw := range rec.Children {
			child, err := keys.ParseUsageKey(raw)
			if err != nil {
				continue
			}
			work = append(work, child)
		}
	}
	return false, nil
}

// recordsEqual compares the caller-visible content of two records:
// fields, children, and definition pointer
func recordsEqual(a, b *models.BlockRecord) (bool, error) {
	type view struct {
		Fields       map[string]interface{} `json:"fields"`
		Children     []string               `json:"children"`
		DefinitionID uuid.UUID              `json:"definition_id"`
	}
	rawA, err := json.Marshal(view{a.Fields, a.Children, a.DefinitionID})
	if err != nil {
		return false, fmt.Errorf("failed to encode block for comparison: %w", err)
	}
	rawB, err := json.Marshal(view{b.Fields, b.Children, b.DefinitionID})
	if err != nil {
		return false, fmt.Errorf("failed to encode block for comparison: %w", err)
	}
	return jsonpatch.Equal(rawA, rawB), nil
}

// ComputePublishState classifies a block as private (draft only), public
// (published only or identical), or draft (published with pending edits)
func (s *DraftStore) ComputePublishState(ctx context.Context, usage keys.UsageKey) (models.PublishState, error) {
	course := usage.Course.CourseAgnostic()

	if DirectOnlyCategories[usage.BlockType] {
		return models.PublishStatePublic, nil
	}

	hasPublished, err := s.blocks.Exists(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionNone)
	if err != nil {
		return "", err
	}
	hasDraft, err := s.blocks.Exists(ctx, course, usage.BlockType, usage.BlockID, keys.RevisionDraft)
	if err != nil {
		return "", err
	}

	switch {
	case !hasPublished && !hasDraft:
		return "", &errs.ItemNotFoundError{ID: usage.String()}
	case !hasPublished:
		return models.PublishStatePrivate, nil
	case !hasDraft:
		return models.PublishStatePublic, nil
	default:
		return models.PublishStateDraft, nil
	}
}

// GetParentLocations returns the parents whose children list contains the
// block, draft parents first, one entry per logical parent
func (s *DraftStore) GetParentLocations(ctx context.Context, usage keys.UsageKey) ([]keys.UsageKey, error) {
	course := usage.Course.CourseAgnostic()

	parents, err := s.blocks.FindWithChild(ctx, course, childKeyOf(usage))
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var result []keys.UsageKey
	for _, rec := range parents {
		key := rec.UsageKey()
		if seen[key.String()] {
			continue
		}
		seen[key.String()] = true
		result = append(result, key)
	}
	return result, nil
}

// GetOrphans returns blocks unreachable from the course root, excluding
// detached categories which never appear in the tree
func (s *DraftStore) GetOrphans(ctx context.Context, course keys.CourseKey) ([]keys.UsageKey, error) {
	course = course.CourseAgnostic()

	root, err := s.courseRoot(ctx, course)
	if err != nil {
		return nil, err
	}

	published, err := s.blocks.ListByCourse(ctx, course, keys.RevisionNone)
	if err != nil {
		return nil, err
	}
	drafts, err := s.blocks.ListByCourse(ctx, course, keys.RevisionDraft)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*models.BlockRecord, len(published))
	for _, rec := range published {
		byKey[rec.UsageKey().String()] = rec
	}
	for _, rec := range drafts {
		if _, ok := byKey[rec.UsageKey().String()]; !ok {
			byKey[rec.UsageKey().String()] = rec
		}
	}

	reachable := map[string]bool{}
	work := []string{root.UsageKey().String()}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if reachable[cur] {
			continue
		}
		reachable[cur] = true

		rec, ok := byKey[cur]
		if !ok {
			continue
		}
		// Follow the draft children when a draft shadows the published row
		if draft, err := s.blocks.Get(ctx, course, rec.BlockType, rec.BlockID, keys.RevisionDraft); err == nil {
			rec = draft
		}
		work = append(work, rec.Children...)
	}

	var orphans []keys.UsageKey
	for key, rec := range byKey {
		if reachable[key] || DetachedCategories[rec.BlockType] || rec.BlockType == "course" {
			continue
		}
		orphans = append(orphans, rec.UsageKey())
	}
	return orphans, nil
}

// mintDefinition stores a new content-body version chained to prev
func (s *DraftStore) mintDefinition(ctx context.Context, user, category string, content map[string]interface{}, prev uuid.UUID) (uuid.UUID, error) {
	def := &models.Definition{
		DefinitionID:    uuid.New(),
		Category:        category,
		Fields:          content,
		PreviousVersion: prev,
		EditedBy:        user,
		EditedAt:        time.Now().UTC(),
	}
	def.OriginalVersion = def.DefinitionID
	if prev != uuid.Nil {
		if prevDef, err := s.defs.Get(ctx, prev); err == nil {
			def.OriginalVersion = prevDef.OriginalVersion
		}
	}
	if err := s.defs.Insert(ctx, def); err != nil {
		return uuid.Nil, err
	}
	return def.DefinitionID, nil
}

func (s *DraftStore) publishEvent(ctx context.Context, topic, key, user string) {
	payload, err := json.Marshal(map[string]string{
		"key":  key,
		"user": user,
		"at":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := s.events.Publish(ctx, topic, key, payload); err != nil {
		s.log.Warn("event publish failed", "topic", topic, "key", key, "error", err)
	}
}

// splitContentFields separates settings-scoped fields from the content
// body. The "data" field is the content payload and lives in the
// definition table, versioned independently.
func splitContentFields(fields map[string]interface{}) (settings, content map[string]interface{}) {
	if fields == nil {
		return nil, nil
	}
	settings = make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k == "data" {
			content = map[string]interface{}{"data": v}
			continue
		}
		settings[k] = v
	}
	return settings, content
}
