package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/keys"
	"github.com/openlearn/coursestore/common/logger"
	"github.com/openlearn/coursestore/common/models"
)

// MixedStore is the routing facade: one uniform API over every
// registered store. A course resolves to a store by explicit pin, then
// by probing each store for the course, then to the first registered
// store. Operations a resolved store cannot perform fail with
// NotSupportedError instead of being probed for dynamically.
type MixedStore struct {
	stores   []Store
	mappings map[string]string
	log      *logger.Logger
}

// NewMixedStore creates the facade over an ordered store list. The
// first store is the default for unmapped courses. Mappings pin a
// course-agnostic course id to a store name.
func NewMixedStore(stores []Store, mappings map[string]string, log *logger.Logger) *MixedStore {
	return &MixedStore{
		stores:   stores,
		mappings: mappings,
		log:      log,
	}
}

// Name identifies the store in config and error messages
func (m *MixedStore) Name() string { return "mixed" }

func (m *MixedStore) byName(name string) Store {
	for _, store := range m.stores {
		if store.Name() == name {
			return store
		}
	}
	return nil
}

// storeFor resolves the store owning a course: pin, then probe, then
// default
func (m *MixedStore) storeFor(ctx context.Context, course keys.CourseKey) (Store, error) {
	if name, ok := m.mappings[course.CourseAgnostic().String()]; ok {
		if store := m.byName(name); store != nil {
			return store, nil
		}
		m.log.Warn("course pinned to unknown store", "course", course.CourseAgnostic().String(), "store", name)
	}

	for _, store := range m.stores {
		has, err := store.HasCourse(ctx, course)
		if err != nil {
			return nil, err
		}
		if has {
			return store, nil
		}
	}

	return m.stores[0], nil
}

func notSupported(op string, store Store) error {
	return &errs.NotSupportedError{Op: op, Store: store.Name()}
}

// HasCourse reports whether any registered store has the course
func (m *MixedStore) HasCourse(ctx context.Context, course keys.CourseKey) (bool, error) {
	for _, store := range m.stores {
		has, err := store.HasCourse(ctx, course)
		if err != nil {
			return false, err
		}
		if has {
			return true, nil
		}
	}
	return false, nil
}

// GetCourses aggregates courses across every store, de-duplicating
// courses reachable through more than one
func (m *MixedStore) GetCourses(ctx context.Context) ([]*models.Block, error) {
	seen := map[string]bool{}
	var courses []*models.Block
	for _, store := range m.stores {
		found, err := store.GetCourses(ctx)
		if err != nil {
			return nil, err
		}
		for _, course := range found {
			id := course.Key.Course.CourseAgnostic().String()
			if seen[id] {
				continue
			}
			seen[id] = true
			courses = append(courses, course)
		}
	}
	return courses, nil
}

// GetItem delegates to the owning store
func (m *MixedStore) GetItem(ctx context.Context, usage keys.UsageKey, pref RevisionPreference) (*models.Block, error) {
	store, err := m.storeFor(ctx, usage.Course)
	if err != nil {
		return nil, err
	}
	return store.GetItem(ctx, usage, pref)
}

// HasItem delegates to the owning store
func (m *MixedStore) HasItem(ctx context.Context, usage keys.UsageKey) (bool, error) {
	store, err := m.storeFor(ctx, usage.Course)
	if err != nil {
		return false, err
	}
	return store.HasItem(ctx, usage)
}

// GetItems delegates to the owning store
func (m *MixedStore) GetItems(ctx context.Context, course keys.CourseKey, category string, pref RevisionPreference) ([]*models.Block, error) {
	store, err := m.storeFor(ctx, course)
	if err != nil {
		return nil, err
	}
	return store.GetItems(ctx, course, category, pref)
}

// GetParentLocations delegates to the owning store
func (m *MixedStore) GetParentLocations(ctx context.Context, usage keys.UsageKey) ([]keys.UsageKey, error) {
	store, err := m.storeFor(ctx, usage.Course)
	if err != nil {
		return nil, err
	}
	return store.GetParentLocations(ctx, usage)
}

// GetOrphans delegates to the owning store
func (m *MixedStore) GetOrphans(ctx context.Context, course keys.CourseKey) ([]keys.UsageKey, error) {
	store, err := m.storeFor(ctx, course)
	if err != nil {
		return nil, err
	}
	return store.GetOrphans(ctx, course)
}

// CreateCourse creates a course in the pinned store, or the default
// store when the course has no pin
func (m *MixedStore) CreateCourse(ctx context.Context, user string, course keys.CourseKey, fields map[string]interface{}) (*models.Block, error) {
	exists, err := m.HasCourse(ctx, course)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &errs.DuplicateCourseError{CourseID: course.CourseAgnostic().String()}
	}

	store := m.stores[0]
	if name, ok := m.mappings[course.CourseAgnostic().String()]; ok {
		if pinned := m.byName(name); pinned != nil {
			store = pinned
		}
	}
	writer, ok := store.(WriteStore)
	if !ok {
		return nil, notSupported("create_course", store)
	}
	return writer.CreateCourse(ctx, user, course, fields)
}

// DeleteCourse delegates to the owning store
func (m *MixedStore) DeleteCourse(ctx context.Context, user string, course keys.CourseKey) error {
	store, err := m.storeFor(ctx, course)
	if err != nil {
		return err
	}
	writer, ok := store.(WriteStore)
	if !ok {
		return notSupported("delete_course", store)
	}
	return writer.DeleteCourse(ctx, user, course)
}

// CreateItem delegates to the owning store
func (m *MixedStore) CreateItem(ctx context.Context, user string, parent *keys.UsageKey, usage keys.UsageKey, fields map[string]interface{}) (*models.Block, error) {
	store, err := m.storeFor(ctx, usage.Course)
	if err != nil {
		return nil, err
	}
	writer, ok := store.(WriteStore)
	if !ok {
		return nil, notSupported("create_item", store)
	}
	return writer.CreateItem(ctx, user, parent, usage, fields)
}

// UpdateItem delegates to the owning store
func (m *MixedStore) UpdateItem(ctx context.Context, user string, usage keys.UsageKey, fields map[string]interface{}, children []keys.UsageKey) (*models.Block, error) {
	store, err := m.storeFor(ctx, usage.Course)
	if err != nil {
		return nil, err
	}
	writer, ok := store.(WriteStore)
	if !ok {
		return nil, notSupported("update_item", store)
	}
	return writer.UpdateItem(ctx, user, usage, fields, children)
}

// DeleteItem delegates to the owning store
func (m *MixedStore) DeleteItem(ctx context.Context, user string, usage keys.UsageKey, scope DeleteScope) error {
	store, err := m.storeFor(ctx, usage.Course)
	if err != nil {
		return err
	}
	writer, ok := store.(WriteStore)
	if !ok {
		return notSupported("delete_item", store)
	}
	return writer.DeleteItem(ctx, user, usage, scope)
}

// Publish delegates to the owning store
func (m *MixedStore) Publish(ctx context.Context, user string, usage keys.UsageKey) (*models.Block, error) {
	store, err := m.storeFor(ctx, usage.Course)
	if err != nil {
		return nil, err
	}
	publisher, ok := store.(Publisher)
	if !ok {
		return nil, notSupported("publish", store)
	}
	return publisher.Publish(ctx, user, usage)
}

// Unpublish delegates to the owning store
func (m *MixedStore) Unpublish(ctx context.Context, user string, usage keys.UsageKey) error {
	store, err := m.storeFor(ctx, usage.Course)
	if err != nil {
		return err
	}
	up, ok := store.(Unpublisher)
	if !ok {
		return notSupported("unpublish", store)
	}
	return up.Unpublish(ctx, user, usage)
}

// ConvertToDraft delegates to the owning store
func (m *MixedStore) ConvertToDraft(ctx context.Context, user string, usage keys.UsageKey) error {
	store, err := m.storeFor(ctx, usage.Course)
	if err != nil {
		return err
	}
	ps, ok := store.(PublishStore)
	if !ok {
		return notSupported("convert_to_draft", store)
	}
	return ps.ConvertToDraft(ctx, user, usage)
}

// RevertToPublished delegates to the owning store
func (m *MixedStore) RevertToPublished(ctx context.Context, user string, usage keys.UsageKey) error {
	store, err := m.storeFor(ctx, usage.Course)
	if err != nil {
		return err
	}
	ps, ok := store.(PublishStore)
	if !ok {
		return notSupported("revert_to_published", store)
	}
	return ps.RevertToPublished(ctx, user, usage)
}

// HasChanges delegates to the owning store
func (m *MixedStore) HasChanges(ctx context.Context, usage keys.UsageKey) (bool, error) {
	store, err := m.storeFor(ctx, usage.Course)
	if err != nil {
		return false, err
	}
	detector, ok := store.(ChangeDetector)
	if !ok {
		return false, notSupported("has_changes", store)
	}
	return detector.HasChanges(ctx, usage)
}

// ComputePublishState delegates to the owning store
func (m *MixedStore) ComputePublishState(ctx context.Context, usage keys.UsageKey) (models.PublishState, error) {
	store, err := m.storeFor(ctx, usage.Course)
	if err != nil {
		return "", err
	}
	detector, ok := store.(ChangeDetector)
	if !ok {
		return "", notSupported("compute_publish_state", store)
	}
	return detector.ComputePublishState(ctx, usage)
}

// PublishSubtrees delegates to the owning version store
func (m *MixedStore) PublishSubtrees(ctx context.Context, user string, source, dest keys.CourseKey, subtreeRoots, blacklist []keys.UsageKey) error {
	store, err := m.storeFor(ctx, source)
	if err != nil {
		return err
	}
	vs, ok := store.(VersionStore)
	if !ok {
		return notSupported("publish_subtrees", store)
	}
	return vs.PublishSubtrees(ctx, user, source, dest, subtreeRoots, blacklist)
}

// GetCourseSuccessors delegates to the owning version store
func (m *MixedStore) GetCourseSuccessors(ctx context.Context, course keys.CourseKey, version uuid.UUID, depth int) (*models.VersionTree, error) {
	store, err := m.storeFor(ctx, course)
	if err != nil {
		return nil, err
	}
	vs, ok := store.(VersionStore)
	if !ok {
		return nil, notSupported("get_course_successors", store)
	}
	return vs.GetCourseSuccessors(ctx, version, depth)
}

// UpdateDefinition delegates to the owning version store
func (m *MixedStore) UpdateDefinition(ctx context.Context, user string, course keys.CourseKey, def keys.DefinitionKey, fields map[string]interface{}) (keys.DefinitionKey, error) {
	store, err := m.storeFor(ctx, course)
	if err != nil {
		return keys.DefinitionKey{}, err
	}
	vs, ok := store.(VersionStore)
	if !ok {
		return keys.DefinitionKey{}, notSupported("update_definition", store)
	}
	return vs.UpdateDefinition(ctx, user, def, fields)
}

// BulkWrite runs fn inside a bulk-operation scope on the owning store:
// expensive incremental recomputation is suspended on entry and resumed
// exactly once on every exit path, error or not.
func (m *MixedStore) BulkWrite(ctx context.Context, course keys.CourseKey, fn func(ctx context.Context) error) error {
	store, err := m.storeFor(ctx, course)
	if err != nil {
		return err
	}

	suspender, ok := store.(InheritanceSuspender)
	if !ok {
		return fn(ctx)
	}

	suspender.SuspendInheritance(course)
	defer func() {
		if err := suspender.ResumeInheritance(ctx, course); err != nil {
			m.log.Error("failed to resume inheritance refresh", "course", course.CourseAgnostic().String(), "error", err)
		}
	}()

	return fn(ctx)
}
