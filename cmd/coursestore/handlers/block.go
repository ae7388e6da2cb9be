package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openlearn/coursestore/cmd/coursestore/middleware"
	"github.com/openlearn/coursestore/cmd/coursestore/service"
	"github.com/openlearn/coursestore/common/bootstrap"
	"github.com/openlearn/coursestore/common/keys"
)

// BlockHandler handles block-level CRUD and navigation
type BlockHandler struct {
	components *bootstrap.Components
	store      *service.MixedStore
}

// NewBlockHandler creates a new block handler
func NewBlockHandler(components *bootstrap.Components, store *service.MixedStore) *BlockHandler {
	return &BlockHandler{
		components: components,
		store:      store,
	}
}

// GetBlock retrieves one block
// GET /api/v1/blocks/:key?revision=preferred|published|draft
func (h *BlockHandler) GetBlock(c echo.Context) error {
	usage, err := keys.ParseUsageKey(c.Param("key"))
	if err != nil {
		return httpError(err)
	}
	pref, err := revisionPref(c)
	if err != nil {
		return err
	}

	block, err := h.store.GetItem(c.Request().Context(), usage, pref)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, blockResponse(block))
}

// CreateBlock creates a new block, optionally attached to a parent
// POST /api/v1/blocks
func (h *BlockHandler) CreateBlock(c echo.Context) error {
	user, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}

	var req struct {
		Key    string                 `json:"key"`
		Parent string                 `json:"parent,omitempty"`
		Fields map[string]interface{} `json:"fields"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	usage, err := keys.ParseUsageKey(req.Key)
	if err != nil {
		return httpError(err)
	}
	var parent *keys.UsageKey
	if req.Parent != "" {
		parsed, err := keys.ParseUsageKey(req.Parent)
		if err != nil {
			return httpError(err)
		}
		parent = &parsed
	}

	block, err := h.store.CreateItem(c.Request().Context(), user, parent, usage, req.Fields)
	if err != nil {
		h.components.Logger.Error("failed to create block", "key", usage.String(), "error", err)
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, blockResponse(block))
}

// UpdateBlock writes field values and optionally a new children list
// PUT /api/v1/blocks/:key
func (h *BlockHandler) UpdateBlock(c echo.Context) error {
	user, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}
	usage, err := keys.ParseUsageKey(c.Param("key"))
	if err != nil {
		return httpError(err)
	}

	var req struct {
		Fields   map[string]interface{} `json:"fields"`
		Children []string               `json:"children"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	// A null children field means "leave the tree alone"; an empty list
	// means "remove every child"
	var children []keys.UsageKey
	if req.Children != nil {
		children = make([]keys.UsageKey, 0, len(req.Children))
		for _, raw := range req.Children {
			child, err := keys.ParseUsageKey(raw)
			if err != nil {
				return httpError(err)
			}
			children = append(children, child)
		}
	}

	block, err := h.store.UpdateItem(c.Request().Context(), user, usage, req.Fields, children)
	if err != nil {
		h.components.Logger.Error("failed to update block", "key", usage.String(), "error", err)
		return httpError(err)
	}
	return c.JSON(http.StatusOK, blockResponse(block))
}

// DeleteBlock removes a block subtree
// DELETE /api/v1/blocks/:key?scope=all|draft|published
func (h *BlockHandler) DeleteBlock(c echo.Context) error {
	user, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}
	usage, err := keys.ParseUsageKey(c.Param("key"))
	if err != nil {
		return httpError(err)
	}
	scope, err := deleteScope(c)
	if err != nil {
		return err
	}

	if err := h.store.DeleteItem(c.Request().Context(), user, usage, scope); err != nil {
		h.components.Logger.Error("failed to delete block", "key", usage.String(), "error", err)
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetParents lists the block's parents
// GET /api/v1/blocks/:key/parents
func (h *BlockHandler) GetParents(c echo.Context) error {
	usage, err := keys.ParseUsageKey(c.Param("key"))
	if err != nil {
		return httpError(err)
	}

	parents, err := h.store.GetParentLocations(c.Request().Context(), usage)
	if err != nil {
		return httpError(err)
	}
	encoded := make([]string, 0, len(parents))
	for _, parent := range parents {
		encoded = append(encoded, parent.String())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"parents": encoded,
	})
}

// GetPath resolves the block's navigable course position
// GET /api/v1/blocks/:key/path
func (h *BlockHandler) GetPath(c echo.Context) error {
	usage, err := keys.ParseUsageKey(c.Param("key"))
	if err != nil {
		return httpError(err)
	}

	path, err := service.PathToLocation(c.Request().Context(), h.store, usage)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"course":   path.Course.String(),
		"chapter":  path.Chapter,
		"section":  path.Section,
		"position": path.Position,
	})
}
