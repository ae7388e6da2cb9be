package service

import (
	"context"
	"fmt"

	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/keys"
	"github.com/openlearn/coursestore/common/logger"
	"github.com/openlearn/coursestore/common/models"
)

// Migrator copies a course out of the draft/published engine into the
// version-graph engine. The published records become the published
// branch; pending drafts land on top of them on the draft branch, so
// the migrated course carries the same unpublished edits as the source.
type Migrator struct {
	draft *DraftStore
	split *SplitStore
	log   *logger.Logger
}

// NewMigrator creates a new course migrator
func NewMigrator(draft *DraftStore, split *SplitStore, log *logger.Logger) *Migrator {
	return &Migrator{draft: draft, split: split, log: log}
}

// MigrateCourse moves one course from the draft engine into the
// version-graph engine under the dest course id. The source course is
// left untouched; both engines must share a definition store so the
// migrated blocks keep their content lineage.
func (m *Migrator) MigrateCourse(ctx context.Context, user string, source, dest keys.CourseKey) (keys.CourseKey, error) {
	source = source.CourseAgnostic()
	dest = dest.CourseAgnostic()

	published, err := m.draft.blocks.ListByCourse(ctx, source, keys.RevisionNone)
	if err != nil {
		return keys.CourseKey{}, fmt.Errorf("failed to read published blocks: %w", err)
	}
	drafts, err := m.draft.blocks.ListByCourse(ctx, source, keys.RevisionDraft)
	if err != nil {
		return keys.CourseKey{}, fmt.Errorf("failed to read draft blocks: %w", err)
	}

	var rootRec *models.BlockRecord
	for _, rec := range published {
		if rec.BlockType == "course" {
			rootRec = rec
			break
		}
	}
	if rootRec == nil {
		return keys.CourseKey{}, &errs.ItemNotFoundError{ID: source.String()}
	}

	if _, err := m.split.CreateCourse(ctx, user, dest, nil); err != nil {
		return keys.CourseKey{}, err
	}

	draftBranch := dest.ForBranch(keys.BranchDraft)
	if err := m.split.EditTransaction(ctx, user, draftBranch, overlayRecords(published)); err != nil {
		return keys.CourseKey{}, fmt.Errorf("failed to lay down published content: %w", err)
	}

	root := dest.UsageKey("course", rootBlockID)
	err = m.split.PublishSubtrees(ctx, user,
		draftBranch,
		dest.ForBranch(keys.BranchPublished),
		[]keys.UsageKey{root}, nil,
	)
	if err != nil {
		return keys.CourseKey{}, fmt.Errorf("failed to publish migrated content: %w", err)
	}

	if len(drafts) > 0 {
		if err := m.split.EditTransaction(ctx, user, draftBranch, overlayRecords(drafts)); err != nil {
			return keys.CourseKey{}, fmt.Errorf("failed to lay down draft content: %w", err)
		}
	}

	m.log.Info("migrated course",
		"source", source.String(),
		"dest", dest.String(),
		"published", len(published),
		"drafts", len(drafts),
	)
	return dest, nil
}

// overlayRecords writes draft-engine block records into a structure
// snapshot. The course root record maps onto the structure's root entry;
// children lists collapse from usage-key strings to bare block ids.
func overlayRecords(recs []*models.BlockRecord) func(*models.Structure) error {
	return func(structure *models.Structure) error {
		for _, rec := range recs {
			blockID := rec.BlockID
			if rec.BlockType == "course" {
				blockID = structure.RootBlockID
			}

			rec := rec.Clone()
			bd := &models.BlockData{
				Category:     rec.BlockType,
				DefinitionID: rec.DefinitionID,
				Fields:       rec.Fields,
				EditInfo: models.EditInfo{
					EditedBy:      rec.EditedBy,
					EditedAt:      structure.EditedAt,
					UpdateVersion: structure.VersionGUID,
				},
			}
			for _, raw := range rec.Children {
				child, err := keys.ParseUsageKey(raw)
				if err != nil {
					continue
				}
				bd.Children = append(bd.Children, child.BlockID)
			}
			structure.Blocks[blockID] = bd
		}
		return nil
	}
}
