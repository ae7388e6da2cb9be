package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/keys"
)

// Path is the human-navigable location of a block inside its course
type Path struct {
	Course  keys.CourseKey `json:"course"`
	Chapter string         `json:"chapter,omitempty"`
	Section string         `json:"section,omitempty"`
	// Nested tab indices at sequential-like nodes, 1-indexed, joined
	// with "_"
	Position string `json:"position,omitempty"`
}

// positionCategories are the node types that contribute a tab index to
// the position component
var positionCategories = map[string]bool{
	"sequential":    true,
	"videosequence": true,
}

// PathToLocation walks parent pointers from a block up to its course
// root and derives the (course, chapter, section, position) tuple used
// for deep links. Fails with ItemNotFoundError when the block does not
// exist and NoPathToItemError when no parent chain reaches a course
// root.
func PathToLocation(ctx context.Context, store Store, usage keys.UsageKey) (*Path, error) {
	exists, err := store.HasItem(ctx, usage)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &errs.ItemNotFoundError{ID: usage.String()}
	}

	chain, err := findAncestorChain(ctx, store, usage)
	if err != nil {
		return nil, err
	}

	path := &Path{Course: chain[0].Course.CourseAgnostic()}
	if len(chain) > 1 && chain[1].BlockType == "chapter" {
		path.Chapter = chain[1].BlockID
	}
	if len(chain) > 2 && positionCategories[chain[2].BlockType] {
		path.Section = chain[2].BlockID
	}

	// Collect 1-indexed child positions at each sequential-like node
	var indices []string
	for i := 0; i < len(chain)-1; i++ {
		if !positionCategories[chain[i].BlockType] {
			continue
		}
		node, err := store.GetItem(ctx, chain[i], PreferDraft)
		if err != nil {
			return nil, err
		}
		next := chain[i+1].CourseAgnostic()
		for pos, child := range node.Children {
			if child.CourseAgnostic() == next {
				indices = append(indices, strconv.Itoa(pos+1))
				break
			}
		}
	}
	path.Position = strings.Join(indices, "_")

	return path, nil
}

// findAncestorChain does a worklist depth-first search over the parent
// graph and returns the first chain from a course root down to the
// block, root first
func findAncestorChain(ctx context.Context, store Store, usage keys.UsageKey) ([]keys.UsageKey, error) {
	type frame struct {
		node  keys.UsageKey
		chain []keys.UsageKey
	}

	start := usage.CourseAgnostic()
	work := []frame{{node: usage, chain: []keys.UsageKey{start}}}

	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]

		if cur.node.BlockType == "course" {
			// Chain is block-first; reverse to root-first
			chain := make([]keys.UsageKey, len(cur.chain))
			for i, key := range cur.chain {
				chain[len(cur.chain)-1-i] = key
			}
			return chain, nil
		}

		parents, err := store.GetParentLocations(ctx, cur.node)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}

		for _, parent := range parents {
			parent = parent.CourseAgnostic()
			cyclic := false
			for _, visited := range cur.chain {
				if visited == parent {
					cyclic = true
					break
				}
			}
			if cyclic {
				continue
			}
			chain := make([]keys.UsageKey, len(cur.chain), len(cur.chain)+1)
			copy(chain, cur.chain)
			work = append(work, frame{node: parent, chain: append(chain, parent)})
		}
	}

	return nil, &errs.NoPathToItemError{ID: usage.String()}
}
