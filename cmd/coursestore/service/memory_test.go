package service

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/openlearn/coursestore/common/cache"
	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/keys"
	"github.com/openlearn/coursestore/common/logger"
	"github.com/openlearn/coursestore/common/models"
	"github.com/openlearn/coursestore/common/queue"
)

// In-memory persistence fakes mirroring the SQL repositories' contracts.

type memBlockStore struct {
	mu   sync.Mutex
	recs map[string]*models.BlockRecord
}

func newMemBlockStore() *memBlockStore {
	return &memBlockStore{recs: make(map[string]*models.BlockRecord)}
}

func physicalKey(course keys.CourseKey, blockType, blockID string, revision keys.Revision) string {
	return course.CourseAgnostic().UsageKey(blockType, blockID).ForRevision(revision).String()
}

func (m *memBlockStore) Create(ctx context.Context, rec *models.BlockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.PhysicalKey().String()
	if _, exists := m.recs[key]; exists {
		return &errs.DuplicateItemError{ID: key}
	}
	m.recs[key] = rec.Clone()
	return nil
}

func (m *memBlockStore) Upsert(ctx context.Context, rec *models.BlockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.PhysicalKey().String()] = rec.Clone()
	return nil
}

func (m *memBlockStore) Get(ctx context.Context, course keys.CourseKey, blockType, blockID string, revision keys.Revision) (*models.BlockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[physicalKey(course, blockType, blockID, revision)]
	if !ok {
		return nil, &errs.ItemNotFoundError{ID: physicalKey(course, blockType, blockID, revision)}
	}
	return rec.Clone(), nil
}

func (m *memBlockStore) Exists(ctx context.Context, course keys.CourseKey, blockType, blockID string, revision keys.Revision) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.recs[physicalKey(course, blockType, blockID, revision)]
	return ok, nil
}

func (m *memBlockStore) Delete(ctx context.Context, course keys.CourseKey, blockType, blockID string, revision keys.Revision) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := physicalKey(course, blockType, blockID, revision)
	_, ok := m.recs[key]
	delete(m.recs, key)
	return ok, nil
}

func (m *memBlockStore) DeleteAllRevisions(ctx context.Context, course keys.CourseKey, blockType, blockID string) (int64, error) {
	var n int64
	for _, rev := range []keys.Revision{keys.RevisionNone, keys.RevisionDraft} {
		ok, _ := m.Delete(ctx, course, blockType, blockID, rev)
		if ok {
			n++
		}
	}
	return n, nil
}

func (m *memBlockStore) all() []*models.BlockRecord {
	recs := make([]*models.BlockRecord, 0, len(m.recs))
	for _, rec := range m.recs {
		recs = append(recs, rec.Clone())
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].PhysicalKey().String() < recs[j].PhysicalKey().String()
	})
	return recs
}

func sameCourse(rec *models.BlockRecord, course keys.CourseKey) bool {
	course = course.CourseAgnostic()
	return rec.Org == course.Org && rec.Course == course.Course && rec.Run == course.Run
}

func (m *memBlockStore) ListByCourse(ctx context.Context, course keys.CourseKey, revision keys.Revision) ([]*models.BlockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BlockRecord
	for _, rec := range m.all() {
		if sameCourse(rec, course) && rec.Revision == revision {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memBlockStore) ListByCategory(ctx context.Context, course keys.CourseKey, blockType string, revision keys.Revision) ([]*models.BlockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BlockRecord
	for _, rec := range m.all() {
		if sameCourse(rec, course) && rec.BlockType == blockType && rec.Revision == revision {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memBlockStore) FindWithChild(ctx context.Context, course keys.CourseKey, childKey string) ([]*models.BlockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BlockRecord
	for _, rec := range m.all() {
		if !sameCourse(rec, course) {
			continue
		}
		for _, raw := range rec.Children {
			if raw == childKey {
				out = append(out, rec)
				break
			}
		}
	}
	// Draft rows first, matching the SQL ordering
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Revision > out[j].Revision
	})
	return out, nil
}

func (m *memBlockStore) ListCourses(ctx context.Context) ([]*models.BlockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BlockRecord
	for _, rec := range m.all() {
		if rec.BlockType == "course" && rec.Revision == keys.RevisionNone {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memBlockStore) DeleteCourse(ctx context.Context, course keys.CourseKey) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, rec := range m.recs {
		if sameCourse(rec, course) {
			delete(m.recs, key)
			n++
		}
	}
	return n, nil
}

type memIndexStore struct {
	mu   sync.Mutex
	idxs map[string]*models.CourseIndex
}

func newMemIndexStore() *memIndexStore {
	return &memIndexStore{idxs: make(map[string]*models.CourseIndex)}
}

func cloneIndex(idx *models.CourseIndex) *models.CourseIndex {
	dup := *idx
	dup.Versions = make(map[keys.Branch]uuid.UUID, len(idx.Versions))
	for branch, head := range idx.Versions {
		dup.Versions[branch] = head
	}
	return &dup
}

func (m *memIndexStore) Create(ctx context.Context, idx *models.CourseIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := idx.CourseKey().String()
	if _, exists := m.idxs[key]; exists {
		return &errs.DuplicateCourseError{CourseID: key}
	}
	m.idxs[key] = cloneIndex(idx)
	return nil
}

func (m *memIndexStore) Get(ctx context.Context, course keys.CourseKey) (*models.CourseIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.idxs[course.CourseAgnostic().String()]
	if !ok {
		return nil, &errs.ItemNotFoundError{ID: course.CourseAgnostic().String()}
	}
	return cloneIndex(idx), nil
}

func (m *memIndexStore) Exists(ctx context.Context, course keys.CourseKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.idxs[course.CourseAgnostic().String()]
	return ok, nil
}

func (m *memIndexStore) List(ctx context.Context, org string) ([]*models.CourseIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CourseIndex
	for _, idx := range m.idxs {
		if org == "" || idx.Org == org {
			out = append(out, cloneIndex(idx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CourseKey().String() < out[j].CourseKey().String()
	})
	return out, nil
}

func (m *memIndexStore) CompareAndSwap(ctx context.Context, course keys.CourseKey, branch keys.Branch, expectedHead, newHead uuid.UUID, editedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.idxs[course.CourseAgnostic().String()]
	if !ok {
		return false, nil
	}
	if idx.Versions[branch] != expectedHead {
		return false, nil
	}
	idx.Versions[branch] = newHead
	idx.EditedBy = editedBy
	return true, nil
}

func (m *memIndexStore) RemoveBranch(ctx context.Context, course keys.CourseKey, branch keys.Branch, editedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.idxs[course.CourseAgnostic().String()]; ok {
		delete(idx.Versions, branch)
		idx.EditedBy = editedBy
	}
	return nil
}

func (m *memIndexStore) Delete(ctx context.Context, course keys.CourseKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := course.CourseAgnostic().String()
	if _, ok := m.idxs[key]; !ok {
		return &errs.ItemNotFoundError{ID: key}
	}
	delete(m.idxs, key)
	return nil
}

type memStructureStore struct {
	mu         sync.Mutex
	structures map[uuid.UUID]*models.Structure
}

func newMemStructureStore() *memStructureStore {
	return &memStructureStore{structures: make(map[uuid.UUID]*models.Structure)}
}

func (m *memStructureStore) Insert(ctx context.Context, s *models.Structure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structures[s.VersionGUID] = s
	return nil
}

func (m *memStructureStore) Get(ctx context.Context, versionGUID uuid.UUID) (*models.Structure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.structures[versionGUID]
	if !ok {
		return nil, &errs.InvalidVersionError{ID: versionGUID.String()}
	}
	return s, nil
}

func (m *memStructureStore) ListFamily(ctx context.Context, originalVersion uuid.UUID) ([]*models.Structure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Structure
	for _, s := range m.structures {
		if s.OriginalVersion == originalVersion {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EditedAt.Before(out[j].EditedAt)
	})
	return out, nil
}

func (m *memStructureStore) DeleteFamily(ctx context.Context, originalVersion uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for guid, s := range m.structures {
		if s.OriginalVersion == originalVersion {
			delete(m.structures, guid)
			n++
		}
	}
	return n, nil
}

type memDefinitionStore struct {
	mu   sync.Mutex
	defs map[uuid.UUID]*models.Definition
}

func newMemDefinitionStore() *memDefinitionStore {
	return &memDefinitionStore{defs: make(map[uuid.UUID]*models.Definition)}
}

func (m *memDefinitionStore) Insert(ctx context.Context, d *models.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs[d.DefinitionID] = d
	return nil
}

func (m *memDefinitionStore) Get(ctx context.Context, definitionID uuid.UUID) (*models.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.defs[definitionID]
	if !ok {
		return nil, &errs.ItemNotFoundError{ID: definitionID.String()}
	}
	return d, nil
}

func (m *memDefinitionStore) GetLineage(ctx context.Context, definitionID uuid.UUID, limit int) ([]*models.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Definition
	cur := definitionID
	for len(out) < limit {
		d, ok := m.defs[cur]
		if !ok {
			break
		}
		out = append(out, d)
		if d.PreviousVersion == uuid.Nil {
			break
		}
		cur = d.PreviousVersion
	}
	return out, nil
}

// Test fixture constructors

func testLogger() *logger.Logger {
	return logger.New("error", "text")
}

func newTestDraftStore() (*DraftStore, *memBlockStore) {
	log := testLogger()
	blocks := newMemBlockStore()
	defs := newMemDefinitionStore()
	inheritance := NewInheritanceCache(blocks, cache.NewMemoryCache(log), 0, log)
	events := queue.NewMemoryQueue(log)
	return NewDraftStore(blocks, defs, inheritance, events, log), blocks
}

func newTestSplitStore() (*SplitStore, *memStructureStore, *memIndexStore) {
	log := testLogger()
	structures := newMemStructureStore()
	indexes := newMemIndexStore()
	defs := newMemDefinitionStore()
	events := queue.NewMemoryQueue(log)
	return NewSplitStore(structures, indexes, defs, events, log), structures, indexes
}
