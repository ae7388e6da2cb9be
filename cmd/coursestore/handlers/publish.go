package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openlearn/coursestore/cmd/coursestore/middleware"
	"github.com/openlearn/coursestore/cmd/coursestore/service"
	"github.com/openlearn/coursestore/common/bootstrap"
	"github.com/openlearn/coursestore/common/keys"
)

// PublishHandler handles the draft-to-published lifecycle
type PublishHandler struct {
	components *bootstrap.Components
	store      *service.MixedStore
}

// NewPublishHandler creates a new publish handler
func NewPublishHandler(components *bootstrap.Components, store *service.MixedStore) *PublishHandler {
	return &PublishHandler{
		components: components,
		store:      store,
	}
}

// Publish makes a block subtree live
// POST /api/v1/blocks/:key/publish
func (h *PublishHandler) Publish(c echo.Context) error {
	user, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}
	usage, err := keys.ParseUsageKey(c.Param("key"))
	if err != nil {
		return httpError(err)
	}

	block, err := h.store.Publish(c.Request().Context(), user, usage)
	if err != nil {
		h.components.Logger.Error("failed to publish block", "key", usage.String(), "error", err)
		return httpError(err)
	}
	return c.JSON(http.StatusOK, blockResponse(block))
}

// Unpublish withdraws a subtree from the published surface, keeping the
// content as drafts
// POST /api/v1/blocks/:key/unpublish
func (h *PublishHandler) Unpublish(c echo.Context) error {
	user, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}
	usage, err := keys.ParseUsageKey(c.Param("key"))
	if err != nil {
		return httpError(err)
	}

	if err := h.store.Unpublish(c.Request().Context(), user, usage); err != nil {
		h.components.Logger.Error("failed to unpublish block", "key", usage.String(), "error", err)
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ConvertToDraft copies a published subtree into editable drafts
// POST /api/v1/blocks/:key/convert_to_draft
func (h *PublishHandler) ConvertToDraft(c echo.Context) error {
	user, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}
	usage, err := keys.ParseUsageKey(c.Param("key"))
	if err != nil {
		return httpError(err)
	}

	if err := h.store.ConvertToDraft(c.Request().Context(), user, usage); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RevertToPublished discards pending drafts in a subtree
// POST /api/v1/blocks/:key/revert
func (h *PublishHandler) RevertToPublished(c echo.Context) error {
	user, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}
	usage, err := keys.ParseUsageKey(c.Param("key"))
	if err != nil {
		return httpError(err)
	}

	if err := h.store.RevertToPublished(c.Request().Context(), user, usage); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HasChanges reports whether a subtree has unpublished edits
// GET /api/v1/blocks/:key/changes
func (h *PublishHandler) HasChanges(c echo.Context) error {
	usage, err := keys.ParseUsageKey(c.Param("key"))
	if err != nil {
		return httpError(err)
	}

	changed, err := h.store.HasChanges(c.Request().Context(), usage)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"key":         usage.String(),
		"has_changes": changed,
	})
}

// PublishState classifies a block as private, public, or draft
// GET /api/v1/blocks/:key/publish_state
func (h *PublishHandler) PublishState(c echo.Context) error {
	usage, err := keys.ParseUsageKey(c.Param("key"))
	if err != nil {
		return httpError(err)
	}

	state, err := h.store.ComputePublishState(c.Request().Context(), usage)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"key":           usage.String(),
		"publish_state": state,
	})
}

// PublishSubtrees copies selected subtrees across branches, excluding a
// blacklist
// POST /api/v1/courses/:course_id/publish_subtrees
func (h *PublishHandler) PublishSubtrees(c echo.Context) error {
	user, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}
	course, err := keys.ParseCourseKey(c.Param("course_id"))
	if err != nil {
		return httpError(err)
	}

	var req struct {
		Roots     []string `json:"roots"`
		Blacklist []string `json:"blacklist"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Roots) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "roots is required")
	}

	parseAll := func(raw []string) ([]keys.UsageKey, error) {
		parsed := make([]keys.UsageKey, 0, len(raw))
		for _, s := range raw {
			key, err := keys.ParseUsageKey(s)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, key)
		}
		return parsed, nil
	}
	roots, err := parseAll(req.Roots)
	if err != nil {
		return httpError(err)
	}
	blacklist, err := parseAll(req.Blacklist)
	if err != nil {
		return httpError(err)
	}

	source := course.ForBranch(keys.BranchDraft)
	dest := course.ForBranch(keys.BranchPublished)
	if err := h.store.PublishSubtrees(c.Request().Context(), user, source, dest, roots, blacklist); err != nil {
		h.components.Logger.Error("failed to publish subtrees", "course", course.String(), "error", err)
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"published": len(roots),
		"excluded":  len(blacklist),
	})
}
