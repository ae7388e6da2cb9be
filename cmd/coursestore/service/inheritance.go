package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/openlearn/coursestore/common/cache"
	"github.com/openlearn/coursestore/common/keys"
	"github.com/openlearn/coursestore/common/logger"
	"github.com/openlearn/coursestore/common/models"
)

// InheritableFields are the settings that flow from a block down to every
// descendant unless a descendant overrides them.
var InheritableFields = []string{
	"start",
	"due",
	"graded",
	"format",
	"graceperiod",
	"showanswer",
	"rerandomize",
	"visible_to_staff_only",
}

// InheritanceCache maintains the derived per-course inheritance map: for
// each block, the field values it inherits from its ancestor chain. The
// map is recomputable from block records at any time, so the cache needs
// no durability. Bulk writes suspend refreshes and flush once on resume.
type InheritanceCache struct {
	blocks blockStore
	cache  cache.Cache
	ttl    time.Duration
	log    *logger.Logger

	mu        sync.Mutex
	suspended map[string]int
	dirty     map[string]bool
}

// NewInheritanceCache creates an inheritance cache over a block store
func NewInheritanceCache(blocks blockStore, c cache.Cache, ttl time.Duration, log *logger.Logger) *InheritanceCache {
	return &InheritanceCache{
		blocks:    blocks,
		cache:     c,
		ttl:       ttl,
		suspended: make(map[string]int),
		dirty:     make(map[string]bool),
		log:       log,
	}
}

func inheritanceCacheKey(course keys.CourseKey) string {
	return "inheritance:" + course.CourseAgnostic().String()
}

// Suspend pauses refreshes for a course. Nested suspends stack.
func (ic *InheritanceCache) Suspend(course keys.CourseKey) {
	key := course.CourseAgnostic().String()
	ic.mu.Lock()
	ic.suspended[key]++
	ic.mu.Unlock()
}

// Resume unwinds one suspend level and flushes a pending refresh exactly
// once when the outermost level exits.
func (ic *InheritanceCache) Resume(ctx context.Context, course keys.CourseKey) error {
	key := course.CourseAgnostic().String()

	ic.mu.Lock()
	ic.suspended[key]--
	if ic.suspended[key] > 0 {
		ic.mu.Unlock()
		return nil
	}
	delete(ic.suspended, key)
	wasDirty := ic.dirty[key]
	delete(ic.dirty, key)
	ic.mu.Unlock()

	if !wasDirty {
		return nil
	}
	return ic.refresh(ctx, course)
}

// Refresh recomputes the inheritance map for a course, or records a
// pending refresh if the course is suspended.
func (ic *InheritanceCache) Refresh(ctx context.Context, course keys.CourseKey) error {
	key := course.CourseAgnostic().String()

	ic.mu.Lock()
	if ic.suspended[key] > 0 {
		ic.dirty[key] = true
		ic.mu.Unlock()
		return nil
	}
	ic.mu.Unlock()

	return ic.refresh(ctx, course)
}

func (ic *InheritanceCache) refresh(ctx context.Context, course keys.CourseKey) error {
	inherited, err := ic.compute(ctx, course)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(inherited)
	if err != nil {
		return fmt.Errorf("failed to encode inheritance map: %w", err)
	}

	if err := ic.cache.Set(ctx, inheritanceCacheKey(course), payload, ic.ttl); err != nil {
		return fmt.Errorf("failed to cache inheritance map: %w", err)
	}

	ic.log.Debug("refreshed inheritance map",
		"course", course.CourseAgnostic().String(),
		"blocks", len(inherited),
	)
	return nil
}

// Inherited returns the inherited field values for one block. A cache
// miss triggers a recompute.
func (ic *InheritanceCache) Inherited(ctx context.Context, course keys.CourseKey, usage keys.UsageKey) (map[string]interface{}, error) {
	payload, found, err := ic.cache.Get(ctx, inheritanceCacheKey(course))
	if err != nil {
		return nil, err
	}

	var inherited map[string]map[string]interface{}
	if found {
		if err := json.Unmarshal(payload, &inherited); err != nil {
			found = false
		}
	}
	if !found {
		inherited, err = ic.compute(ctx, course)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(inherited); err == nil {
			_ = ic.cache.Set(ctx, inheritanceCacheKey(course), raw, ic.ttl)
		}
	}

	return inherited[usage.CourseAgnostic().String()], nil
}

// compute rebuilds the whole-course inheritance map from block records.
// Drafts shadow their published counterparts so editors see the values
// their pending tree shape implies.
func (ic *InheritanceCache) compute(ctx context.Context, course keys.CourseKey) (map[string]map[string]interface{}, error) {
	course = course.CourseAgnostic()

	published, err := ic.blocks.ListByCourse(ctx, course, keys.RevisionNone)
	if err != nil {
		return nil, err
	}
	drafts, err := ic.blocks.ListByCourse(ctx, course, keys.RevisionDraft)
	if err != nil {
		return nil, err
	}

	// Draft-preferred merge by logical key
	byKey := make(map[string]*models.BlockRecord, len(published))
	for _, rec := range published {
		byKey[rec.UsageKey().String()] = rec
	}
	for _, rec := range drafts {
		byKey[rec.UsageKey().String()] = rec
	}

	var root *models.BlockRecord
	for _, rec := range byKey {
		if rec.BlockType == "course" {
			root = rec
			break
		}
	}

	inherited := make(map[string]map[string]interface{}, len(byKey))
	if root == nil {
		return inherited, nil
	}

	// Worklist walk from the root, pushing each node's effective
	// inheritable values onto its children
	type entry struct {
		key    string
		values map[string]interface{}
	}
	work := []entry{{key: root.UsageKey().String(), values: map[string]interface{}{}}}
	seen := make(map[string]bool, len(byKey))

	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]

		if seen[cur.key] {
			continue
		}
		seen[cur.key] = true

		rec, ok := byKey[cur.key]
		if !ok {
			continue
		}

		inherited[cur.key] = cur.values

		effective := make(map[string]interface{}, len(cur.values))
		for k, v := range cur.values {
			effective[k] = v
		}
		for _, field := range InheritableFields {
			if v, ok := rec.Fields[field]; ok {
				effective[field] = v
			}
		}

		for _, childRaw := range rec.Children {
			child, err := keys.ParseUsageKey(childRaw)
			if err != nil {
				continue
			}
			work = append(work, entry{key: child.CourseAgnostic().String(), values: effective})
		}
	}

	return inherited, nil
}

// Invalidate drops the cached map for a course without recomputing
func (ic *InheritanceCache) Invalidate(ctx context.Context, course keys.CourseKey) error {
	return ic.cache.Delete(ctx, inheritanceCacheKey(course))
}
