package service

import (
	"context"
	"encoding/json"
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

// rootBlockID is the block id of every course root in this store
const rootBlockID = "course"

// SplitStore is the version-graph engine: every edit writes a brand-new
// immutable structure snapshot and moves a branch pointer with an
// optimistic compare-and-swap. History is never rewritten.
type SplitStore struct {
	structures structureStore
	indexes    indexStore
	defs       definitionStore
	events     queue.Queue
	log        *logger.Logger
}

// NewSplitStore creates a new version-graph engine
func NewSplitStore(structures structureStore, indexes indexStore, defs definitionStore, events queue.Queue, log *logger.Logger) *SplitStore {
	return &SplitStore{
		structures: structures,
		indexes:    indexes,
		defs:       defs,
		events:     events,
		log:        log,
	}
}

// Name identifies the store in config and error messages
func (s *SplitStore) Name() string { return "split" }

// branchFor maps a course key and revision preference onto a branch.
// An explicit branch on the key always wins; otherwise reads prefer the
// draft branch, the editor's view.
func branchFor(course keys.CourseKey, pref RevisionPreference) keys.Branch {
	if course.Branch != "" {
		return course.Branch
	}
	if pref == PublishedOnly {
		return keys.BranchPublished
	}
	return keys.BranchDraft
}

// resolveStructure finds the structure a course key names, either by an
// explicit version pin or through the branch pointer.
func (s *SplitStore) resolveStructure(ctx context.Context, course keys.CourseKey, pref RevisionPreference) (*models.Structure, error) {
	if course.Version != uuid.Nil {
		return s.structures.Get(ctx, course.Version)
	}
	if !course.IsFullySpecified() {
		return nil, &errs.InsufficientSpecificationError{
			Key:    course.String(),
			Reason: "neither org/course/run nor a version guid supplied",
		}
	}

	idx, err := s.indexes.Get(ctx, course)
	if err != nil {
		return nil, err
	}

	branch := branchFor(course, pref)
	head := idx.Head(branch)
	if head == uuid.Nil {
		return nil, &errs.ItemNotFoundError{ID: course.ForBranch(branch).String()}
	}
	return s.structures.Get(ctx, head)
}

// toBlock converts one structure entry into the runtime view
func (s *SplitStore) toBlock(structure *models.Structure, course keys.CourseKey, blockID string) *models.Block {
	bd := structure.Blocks[blockID]
	course = course.VersionAgnostic()

	block := &models.Block{
		Key:           course.UsageKey(bd.Category, blockID),
		Category:      bd.Category,
		Fields:        bd.Fields,
		VersionGUID:   structure.VersionGUID,
		UpdateVersion: bd.EditInfo.UpdateVersion,
		EditedBy:      bd.EditInfo.EditedBy,
		EditedAt:      bd.EditInfo.EditedAt,
	}
	if bd.DefinitionID != uuid.Nil {
		block.Definition = keys.DefinitionKey{DefinitionID: bd.DefinitionID, Category: bd.Category}
	}
	for _, childID := range bd.Children {
		child, ok := structure.Blocks[childID]
		if !ok {
			continue
		}
		block.Children = append(block.Children, course.UsageKey(child.Category, childID))
	}
	return block
}

// GetCourse returns the course root block for a locator, resolving
// either the explicit version pin or the branch pointer
func (s *SplitStore) GetCourse(ctx context.Context, course keys.CourseKey) (*models.Block, error) {
	structure, err := s.resolveStructure(ctx, course, PreferDraft)
	if err != nil {
		return nil, err
	}
	return s.toBlock(structure, course, structure.RootBlockID), nil
}

// HasCourse reports whether a course index exists
func (s *SplitStore) HasCourse(ctx context.Context, course keys.CourseKey) (bool, error) {
	if !course.IsFullySpecified() {
		return false, nil
	}
	return s.indexes.Exists(ctx, course.CourseAgnostic())
}

// GetCourses lists the root block of every indexed course, reading the
// published branch and falling back to draft for never-published courses
func (s *SplitStore) GetCourses(ctx context.Context) ([]*models.Block, error) {
	idxs, err := s.indexes.List(ctx, "")
	if err != nil {
		return nil, err
	}

	var courses []*models.Block
	for _, idx := range idxs {
		head := idx.Head(keys.BranchPublished)
		branch := keys.BranchPublished
		if head == uuid.Nil {
			head = idx.Head(keys.BranchDraft)
			branch = keys.BranchDraft
		}
		if head == uuid.Nil {
			continue
		}
		structure, err := s.structures.Get(ctx, head)
		if err != nil {
			s.log.Warn("dangling branch pointer", "course", idx.CourseKey().String(), "version", head)
			continue
		}
		courses = append(courses, s.toBlock(structure, idx.CourseKey().ForBranch(branch), structure.RootBlockID))
	}
	return courses, nil
}

// CourseOptions customizes course creation. Zero-valued options build a
// fresh empty course.
type CourseOptions struct {
	// RootBlockID overrides the root block id of a fresh course
	RootBlockID string
	// RootCategory overrides the root category of a fresh course
	RootCategory string
	// Versions seeds the branch pointers from existing structure
	// versions instead of minting a fresh root. The new course shares
	// those snapshots until its first edit forks them.
	Versions map[keys.Branch]uuid.UUID
}

// CreateCourse builds the initial structure and index for a new course.
// Both branches start at the same empty root version.
func (s *SplitStore) CreateCourse(ctx context.Context, user string, course keys.CourseKey, fields map[string]interface{}) (*models.Block, error) {
	return s.CreateCourseWithOptions(ctx, user, course, fields, CourseOptions{})
}

// CreateCourseWithOptions builds a course either from a fresh root or
// founded on existing structure versions.
func (s *SplitStore) CreateCourseWithOptions(ctx context.Context, user string, course keys.CourseKey, fields map[string]interface{}, opts CourseOptions) (*models.Block, error) {
	course = course.CourseAgnostic()
	now := time.Now().UTC()

	versions := make(map[keys.Branch]uuid.UUID, 2)
	var structure *models.Structure

	if len(opts.Versions) > 0 {
		for branch, version := range opts.Versions {
			seed, err := s.structures.Get(ctx, version)
			if err != nil {
				return nil, err
			}
			versions[branch] = version
			if structure == nil || branch == keys.BranchDraft {
				structure = seed
			}
		}
	} else {
		rootID := opts.RootBlockID
		if rootID == "" {
			rootID = rootBlockID
		}
		category := opts.RootCategory
		if category == "" {
			category = "course"
		}

		settings, content := splitContentFields(fields)
		defID, err := s.mintDefinition(ctx, user, category, content, uuid.Nil)
		if err != nil {
			return nil, err
		}

		versionGUID := uuid.New()
		structure = &models.Structure{
			VersionGUID:     versionGUID,
			RootBlockID:     rootID,
			PreviousVersion: uuid.Nil,
			OriginalVersion: versionGUID,
			EditedBy:        user,
			EditedAt:        now,
			Blocks: map[string]*models.BlockData{
				rootID: {
					Category:     category,
					DefinitionID: defID,
					Fields:       settings,
					EditInfo: models.EditInfo{
						EditedBy:      user,
						EditedAt:      now,
						UpdateVersion: versionGUID,
					},
				},
			},
		}
		if err := s.structures.Insert(ctx, structure); err != nil {
			return nil, err
		}
		versions[keys.BranchDraft] = versionGUID
		versions[keys.BranchPublished] = versionGUID
	}

	idx := &models.CourseIndex{
		Org:      course.Org,
		Course:   course.Course,
		Run:      course.Run,
		Versions: versions,
		EditedBy: user,
		EditedAt: now,
	}
	if err := s.indexes.Create(ctx, idx); err != nil {
		return nil, err
	}

	s.publishSplitEvent(ctx, queue.TopicCourseCreated, course.String(), user)
	s.log.Info("created course", "course", course.String(), "version", structure.VersionGUID, "user", user)

	return s.toBlock(structure, course.ForBranch(keys.BranchDraft), structure.RootBlockID), nil
}

// DeleteCourse removes the index and every structure in the course's
// version family
func (s *SplitStore) DeleteCourse(ctx context.Context, user string, course keys.CourseKey) error {
	course = course.CourseAgnostic()

	idx, err := s.indexes.Get(ctx, course)
	if err != nil {
		return err
	}

	var original uuid.UUID
	for _, head := range idx.Versions {
		structure, err := s.structures.Get(ctx, head)
		if err != nil {
			continue
		}
		original = structure.OriginalVersion
		break
	}

	if err := s.indexes.Delete(ctx, course); err != nil {
		return err
	}
	if original != uuid.Nil {
		removed, err := s.structures.DeleteFamily(ctx, original)
		if err != nil {
			return err
		}
		s.log.Info("deleted course", "course", course.String(), "structures", removed, "user", user)
	}

	s.publishSplitEvent(ctx, queue.TopicCourseDeleted, course.String(), user)
	return nil
}

// editStructure performs one copy-on-write edit cycle: read the branch
// head, apply mutators to a successor snapshot sharing untouched blocks
// by pointer, insert the successor, and CAS the branch pointer forward.
// A key pinned to a stale version loses the CAS and the caller gets a
// VersionConflictError; retry is the caller's job.
func (s *SplitStore) editStructure(ctx context.Context, user string, course keys.CourseKey, mutators ...func(*models.Structure) error) (*models.Structure, error) {
	courseID := course.CourseAgnostic()
	branch := branchFor(course, PreferDraft)

	idx, err := s.indexes.Get(ctx, courseID)
	if err != nil {
		return nil, err
	}
	head := idx.Head(branch)
	if head == uuid.Nil {
		return nil, &errs.ItemNotFoundError{ID: courseID.ForBranch(branch).String()}
	}

	base := head
	if course.Version != uuid.Nil {
		base = course.Version
	}
	prev, err := s.structures.Get(ctx, base)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next := &models.Structure{
		VersionGUID:     uuid.New(),
		RootBlockID:     prev.RootBlockID,
		PreviousVersion: prev.VersionGUID,
		OriginalVersion: prev.OriginalVersion,
		EditedBy:        user,
		EditedAt:        now,
		Blocks:          make(map[string]*models.BlockData, len(prev.Blocks)),
	}
	// Copy-on-write: untouched entries shared by pointer
	for id, bd := range prev.Blocks {
		next.Blocks[id] = bd
	}

	for _, mutate := range mutators {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}

	if err := s.structures.Insert(ctx, next); err != nil {
		return nil, err
	}

	swapped, err := s.indexes.CompareAndSwap(ctx, courseID, branch, base, next.VersionGUID, user)
	if err != nil {
		return nil, err
	}
	if !swapped {
		current, err := s.indexes.Get(ctx, courseID)
		conflict := &errs.VersionConflictError{Locator: course.String()}
		if err == nil {
			conflict.CurrentHead = current.Head(branch)
		}
		return nil, conflict
	}

	return next, nil
}

// touch clones a block entry into the new snapshot and stamps its edit
// info with the snapshot's version
func touch(structure *models.Structure, blockID, user string) *models.BlockData {
	bd := structure.Blocks[blockID].Clone()
	bd.EditInfo.PreviousVersion = bd.EditInfo.UpdateVersion
	bd.EditInfo.UpdateVersion = structure.VersionGUID
	bd.EditInfo.EditedBy = user
	bd.EditInfo.EditedAt = structure.EditedAt
	structure.Blocks[blockID] = bd
	return bd
}

// CreateItem adds a new block to the branch head, optionally attached to
// a parent, as one copy-on-write edit
func (s *SplitStore) CreateItem(ctx context.Context, user string, parent *keys.UsageKey, usage keys.UsageKey, fields map[string]interface{}) (*models.Block, error) {
	settings, content := splitContentFields(fields)
	defID, err := s.mintDefinition(ctx, user, usage.BlockType, content, uuid.Nil)
	if err != nil {
		return nil, err
	}

	next, err := s.editStructure(ctx, user, usage.Course, func(structure *models.Structure) error {
		if _, exists := structure.Blocks[usage.BlockID]; exists {
			return &errs.DuplicateItemError{ID: usage.String()}
		}
		structure.Blocks[usage.BlockID] = &models.BlockData{
			Category:     usage.BlockType,
			DefinitionID: defID,
			Fields:       settings,
			EditInfo: models.EditInfo{
				EditedBy:      user,
				EditedAt:      structure.EditedAt,
				UpdateVersion: structure.VersionGUID,
			},
		}
		if parent != nil {
			if _, ok := structure.Blocks[parent.BlockID]; !ok {
				return &errs.ItemNotFoundError{ID: parent.String()}
			}
			parentData := touch(structure, parent.BlockID, user)
			parentData.Children = append(parentData.Children, usage.BlockID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.toBlock(next, usage.Course, usage.BlockID), nil
}

// UpdateItem writes new field values and optionally a new children list
// as one copy-on-write edit. A "data" change mints a new definition
// version; the structural entry re-points at it explicitly.
func (s *SplitStore) UpdateItem(ctx context.Context, user string, usage keys.UsageKey, fields map[string]interface{}, children []keys.UsageKey) (*models.Block, error) {
	settings, content := splitContentFields(fields)

	next, err := s.editStructure(ctx, user, usage.Course, func(structure *models.Structure) error {
		if _, ok := structure.Blocks[usage.BlockID]; !ok {
			return &errs.ItemNotFoundError{ID: usage.String()}
		}
		bd := touch(structure, usage.BlockID, user)

		if content != nil {
			defID, err := s.mintDefinition(ctx, user, bd.Category, content, bd.DefinitionID)
			if err != nil {
				return err
			}
			bd.DefinitionID = defID
		}
		if bd.Fields == nil {
			bd.Fields = make(map[string]interface{}, len(settings))
		}
		for k, v := range settings {
			bd.Fields[k] = v
		}
		if children != nil {
			bd.Children = bd.Children[:0]
			for _, child := range children {
				bd.Children = append(bd.Children, child.BlockID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.toBlock(next, usage.Course, usage.BlockID), nil
}

// EditTransaction applies several mutations as one new structure
// version, so intermediate states never become a branch head
func (s *SplitStore) EditTransaction(ctx context.Context, user string, course keys.CourseKey, mutators ...func(*models.Structure) error) error {
	_, err := s.editStructure(ctx, user, course, mutators...)
	return err
}

// DeleteItem removes a block and its whole subtree from the branch head.
// The course root cannot be deleted.
func (s *SplitStore) DeleteItem(ctx context.Context, user string, usage keys.UsageKey, _ DeleteScope) error {
	_, err := s.editStructure(ctx, user, usage.Course, func(structure *models.Structure) error {
		if usage.BlockID == structure.RootBlockID {
			return fmt.Errorf("cannot delete the course root %s", usage.String())
		}
		if _, ok := structure.Blocks[usage.BlockID]; !ok {
			return &errs.ItemNotFoundError{ID: usage.String()}
		}

		if parentID := structure.ParentOf(usage.BlockID); parentID != "" {
			parentData := touch(structure, parentID, user)
			filtered := parentData.Children[:0]
			for _, child := range parentData.Children {
				if child != usage.BlockID {
					filtered = append(filtered, child)
				}
			}
			parentData.Children = filtered
		}

		// No other revision preserves linkage here, so descendants go too
		work := []string{usage.BlockID}
		for len(work) > 0 {
			cur := work[len(work)-1]
			work = work[:len(work)-1]
			bd, ok := structure.Blocks[cur]
			if !ok {
				continue
			}
			work = append(work, bd.Children...)
			delete(structure.Blocks, cur)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishSplitEvent(ctx, queue.TopicBlockDeleted, usage.String(), user)
	return nil
}

// GetItem retrieves one block from the structure the key resolves to
func (s *SplitStore) GetItem(ctx context.Context, usage keys.UsageKey, pref RevisionPreference) (*models.Block, error) {
	structure, err := s.resolveStructure(ctx, usage.Course, pref)
	if err != nil {
		return nil, err
	}
	bd, ok := structure.Blocks[usage.BlockID]
	if !ok || (usage.BlockType != "" && bd.Category != usage.BlockType) {
		return nil, &errs.ItemNotFoundError{ID: usage.String()}
	}
	return s.toBlock(structure, usage.Course, usage.BlockID), nil
}

// HasItem reports whether the block exists in the resolved structure
func (s *SplitStore) HasItem(ctx context.Context, usage keys.UsageKey) (bool, error) {
	_, err := s.GetItem(ctx, usage, PreferDraft)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetItems lists all blocks of one category in the resolved structure
func (s *SplitStore) GetItems(ctx context.Context, course keys.CourseKey, category string, pref RevisionPreference) ([]*models.Block, error) {
	structure, err := s.resolveStructure(ctx, course, pref)
	if err != nil {
		return nil, err
	}

	var blocks []*models.Block
	for blockID, bd := range structure.Blocks {
		if category == "" || bd.Category == category {
			blocks = append(blocks, s.toBlock(structure, course, blockID))
		}
	}
	return blocks, nil
}

// GetParentLocations returns the block's parent in the resolved
// structure. Structures are trees, so there is at most one.
func (s *SplitStore) GetParentLocations(ctx context.Context, usage keys.UsageKey) ([]keys.UsageKey, error) {
	structure, err := s.resolveStructure(ctx, usage.Course, PreferDraft)
	if err != nil {
		return nil, err
	}
	if _, ok := structure.Blocks[usage.BlockID]; !ok {
		return nil, &errs.ItemNotFoundError{ID: usage.String()}
	}

	parentID := structure.ParentOf(usage.BlockID)
	if parentID == "" {
		return nil, nil
	}
	parent := structure.Blocks[parentID]
	return []keys.UsageKey{usage.Course.VersionAgnostic().UsageKey(parent.Category, parentID)}, nil
}

// GetOrphans returns blocks unreachable from the structure root,
// excluding detached categories
func (s *SplitStore) GetOrphans(ctx context.Context, course keys.CourseKey) ([]keys.UsageKey, error) {
	structure, err := s.resolveStructure(ctx, course, PreferDraft)
	if err != nil {
		return nil, err
	}

	reachable := map[string]bool{}
	work := []string{structure.RootBlockID}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if reachable[cur] {
			continue
		}
		reachable[cur] = true
		if bd, ok := structure.Blocks[cur]; ok {
			work = append(work, bd.Children...)
		}
	}

	var orphans []keys.UsageKey
	for blockID, bd := range structure.Blocks {
		if reachable[blockID] || DetachedCategories[bd.Category] {
			continue
		}
		orphans = append(orphans, course.VersionAgnostic().UsageKey(bd.Category, blockID))
	}
	return orphans, nil
}

// PublishSubtrees copies block subtrees from the source branch's
// structure into the destination branch's, honoring a blacklist of
// blocks to exclude. A non-root subtree whose parent has never been
// published is rejected: ancestors publish first.
func (s *SplitStore) PublishSubtrees(ctx context.Context, user string, source, dest keys.CourseKey, subtreeRoots, blacklist []keys.UsageKey) error {
	srcStructure, err := s.resolveStructure(ctx, source, PreferDraft)
	if err != nil {
		return err
	}

	destCourse := dest.CourseAgnostic()
	destBranch := branchFor(dest, PublishedOnly)
	if _, err := s.indexes.Get(ctx, destCourse); err != nil {
		return err
	}

	blocked := make(map[string]bool, len(blacklist))
	for _, b := range blacklist {
		blocked[b.BlockID] = true
	}

	_, err = s.editStructure(ctx, user, destCourse.ForBranch(destBranch), func(destStructure *models.Structure) error {
		for _, root := range subtreeRoots {
			if _, ok := srcStructure.Blocks[root.BlockID]; !ok {
				return &errs.ItemNotFoundError{ID: root.String()}
			}

			if root.BlockID != srcStructure.RootBlockID {
				parentID := srcStructure.ParentOf(root.BlockID)
				if parentID == "" {
					return &errs.NoPathToItemError{ID: root.String()}
				}
				destParent, ok := destStructure.Blocks[parentID]
				if !ok {
					return &errs.ItemNotFoundError{ID: dest.UsageKey(srcStructure.Blocks[parentID].Category, parentID).String()}
				}
				attached := false
				for _, child := range destParent.Children {
					if child == root.BlockID {
						attached = true
						break
					}
				}
				if !attached {
					parentData := touch(destStructure, parentID, user)
					parentData.Children = append(parentData.Children, root.BlockID)
				}
			}

			// Copy the subtree, skipping blacklisted blocks entirely
			work := []string{root.BlockID}
			for len(work) > 0 {
				cur := work[len(work)-1]
				work = work[:len(work)-1]
				if blocked[cur] {
					continue
				}
				bd, ok := srcStructure.Blocks[cur]
				if !ok {
					continue
				}
				copied := bd.Clone()
				filtered := copied.Children[:0]
				for _, child := range copied.Children {
					if !blocked[child] {
						filtered = append(filtered, child)
					}
				}
				copied.Children = filtered
				destStructure.Blocks[cur] = copied
				work = append(work, filtered...)
			}
		}

		// Drop blacklisted blocks the destination previously carried,
		// and detach them from any children list
		for blockID := range blocked {
			delete(destStructure.Blocks, blockID)
		}
		for blockID, bd := range destStructure.Blocks {
			changed := false
			for _, child := range bd.Children {
				if blocked[child] {
					changed = true
					break
				}
			}
			if !changed {
				continue
			}
			copied := touch(destStructure, blockID, user)
			filtered := copied.Children[:0]
			for _, child := range copied.Children {
				if !blocked[child] {
					filtered = append(filtered, child)
				}
			}
			copied.Children = filtered
		}

		removeTrueOrphans(destStructure)
		return nil
	})
	if err != nil {
		return err
	}

	for _, root := range subtreeRoots {
		s.publishSplitEvent(ctx, queue.TopicBlockPublished, root.String(), user)
	}
	s.log.Info("published subtrees",
		"source", source.String(),
		"dest", destCourse.ForBranch(destBranch).String(),
		"roots", len(subtreeRoots),
	)
	return nil
}

// removeTrueOrphans deletes blocks no children list reaches from the
// root. Detached categories are left alone.
func removeTrueOrphans(structure *models.Structure) {
	reachable := map[string]bool{}
	work := []string{structure.RootBlockID}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if reachable[cur] {
			continue
		}
		reachable[cur] = true
		if bd, ok := structure.Blocks[cur]; ok {
			work = append(work, bd.Children...)
		}
	}
	for blockID, bd := range structure.Blocks {
		if !reachable[blockID] && !DetachedCategories[bd.Category] {
			delete(structure.Blocks, blockID)
		}
	}
}

// Publish copies one subtree from the draft branch to the published
// branch of the same course
func (s *SplitStore) Publish(ctx context.Context, user string, usage keys.UsageKey) (*models.Block, error) {
	course := usage.Course.CourseAgnostic()
	err := s.PublishSubtrees(ctx, user,
		course.ForBranch(keys.BranchDraft),
		course.ForBranch(keys.BranchPublished),
		[]keys.UsageKey{usage}, nil,
	)
	if err != nil {
		return nil, err
	}
	return s.GetItem(ctx, usage.MapInto(course.ForBranch(keys.BranchPublished)), PublishedOnly)
}

// Unpublish deletes a block subtree from the published branch; the draft
// branch keeps its copy. Unpublishing the root retires the published
// branch pointer itself, since a structure cannot lose its root.
func (s *SplitStore) Unpublish(ctx context.Context, user string, usage keys.UsageKey) error {
	course := usage.Course.CourseAgnostic()

	if usage.BlockID == rootBlockID {
		if _, err := s.indexes.Get(ctx, course); err != nil {
			return err
		}
		if err := s.indexes.RemoveBranch(ctx, course, keys.BranchPublished, user); err != nil {
			return err
		}
		s.publishSplitEvent(ctx, queue.TopicBlockDeleted, usage.String(), user)
		s.log.Info("unpublished course", "course", course.String(), "user", user)
		return nil
	}

	return s.DeleteItem(ctx, user, usage.MapInto(course.ForBranch(keys.BranchPublished)), DeletePublishedOnly)
}

// HasChanges reports whether the draft branch's copy of a block subtree
// differs from the published branch's
func (s *SplitStore) HasChanges(ctx context.Context, usage keys.UsageKey) (bool, error) {
	course := usage.Course.CourseAgnostic()

	draft, err := s.resolveStructure(ctx, course.ForBranch(keys.BranchDraft), PreferDraft)
	if err != nil {
		return false, err
	}
	published, err := s.resolveStructure(ctx, course.ForBranch(keys.BranchPublished), PublishedOnly)
	if isNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	work := []string{usage.BlockID}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]

		draftData, ok := draft.Blocks[cur]
		if !ok {
			continue
		}
		publishedData, ok := published.Blocks[cur]
		if !ok {
			return true, nil
		}
		same, err := blockDataEqual(draftData, publishedData)
		if err != nil {
			return false, err
		}
		if !same {
			return true, nil
		}
		work = append(work, draftData.Children...)
	}
	return false, nil
}

// blockDataEqual compares the caller-visible content of two structure
// entries, ignoring edit info
func blockDataEqual(a, b *models.BlockData) (bool, error) {
	type view struct {
		Category     string                 `json:"category"`
		DefinitionID uuid.UUID              `json:"definition_id"`
		Fields       map[string]interface{} `json:"fields"`
		Children     []string               `json:"children"`
	}
	rawA, err := json.Marshal(view{a.Category, a.DefinitionID, a.Fields, a.Children})
	if err != nil {
		return false, fmt.Errorf("failed to encode block for comparison: %w", err)
	}
	rawB, err := json.Marshal(view{b.Category, b.DefinitionID, b.Fields, b.Children})
	if err != nil {
		return false, fmt.Errorf("failed to encode block for comparison: %w", err)
	}
	return jsonpatch.Equal(rawA, rawB), nil
}

// ComputePublishState classifies a block by comparing branches
func (s *SplitStore) ComputePublishState(ctx context.Context, usage keys.UsageKey) (models.PublishState, error) {
	course := usage.Course.CourseAgnostic()

	draft, err := s.resolveStructure(ctx, course.ForBranch(keys.BranchDraft), PreferDraft)
	if err != nil {
		return "", err
	}
	draftData, inDraft := draft.Blocks[usage.BlockID]

	published, err := s.resolveStructure(ctx, course.ForBranch(keys.BranchPublished), PublishedOnly)
	if err != nil && !isNotFound(err) {
		return "", err
	}
	var publishedData *models.BlockData
	inPublished := false
	if published != nil {
		publishedData, inPublished = published.Blocks[usage.BlockID]
	}

	switch {
	case !inDraft && !inPublished:
		return "", &errs.ItemNotFoundError{ID: usage.String()}
	case !inPublished:
		return models.PublishStatePrivate, nil
	case !inDraft:
		return models.PublishStatePublic, nil
	default:
		same, err := blockDataEqual(draftData, publishedData)
		if err != nil {
			return "", err
		}
		if same {
			return models.PublishStatePublic, nil
		}
		return models.PublishStateDraft, nil
	}
}

// GetCourseSuccessors builds a bounded-depth lineage tree walking
// forward from a version through its successors
func (s *SplitStore) GetCourseSuccessors(ctx context.Context, version uuid.UUID, depth int) (*models.VersionTree, error) {
	start, err := s.structures.Get(ctx, version)
	if err != nil {
		return nil, err
	}

	family, err := s.structures.ListFamily(ctx, start.OriginalVersion)
	if err != nil {
		return nil, err
	}

	successors := make(map[uuid.UUID][]uuid.UUID, len(family))
	for _, structure := range family {
		if structure.PreviousVersion != uuid.Nil {
			successors[structure.PreviousVersion] = append(successors[structure.PreviousVersion], structure.VersionGUID)
		}
	}

	root := &models.VersionTree{Version: version}
	type frame struct {
		node  *models.VersionTree
		depth int
	}
	work := []frame{{node: root, depth: 0}}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if depth > 0 && cur.depth >= depth {
			continue
		}
		for _, succ := range successors[cur.node.Version] {
			child := &models.VersionTree{Version: succ}
			cur.node.Children = append(cur.node.Children, child)
			work = append(work, frame{node: child, depth: cur.depth + 1})
		}
	}
	return root, nil
}

// UpdateDefinition mints a new version of a content body chained to the
// previous one. Structures keep pointing at the old version until an
// explicit UpdateItem re-points them.
func (s *SplitStore) UpdateDefinition(ctx context.Context, user string, def keys.DefinitionKey, fields map[string]interface{}) (keys.DefinitionKey, error) {
	defID, err := s.mintDefinition(ctx, user, def.Category, fields, def.DefinitionID)
	if err != nil {
		return keys.DefinitionKey{}, err
	}
	return keys.DefinitionKey{DefinitionID: defID, Category: def.Category}, nil
}

func (s *SplitStore) mintDefinition(ctx context.Context, user, category string, content map[string]interface{}, prev uuid.UUID) (uuid.UUID, error) {
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

func (s *SplitStore) publishSplitEvent(ctx context.Context, topic, key, user string) {
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
