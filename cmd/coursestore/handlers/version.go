package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/openlearn/coursestore/cmd/coursestore/middleware"
	"github.com/openlearn/coursestore/cmd/coursestore/service"
	"github.com/openlearn/coursestore/common/bootstrap"
	"github.com/openlearn/coursestore/common/keys"
)

// VersionHandler exposes the version graph and definition history
type VersionHandler struct {
	components *bootstrap.Components
	store      *service.MixedStore
}

// NewVersionHandler creates a new version handler
func NewVersionHandler(components *bootstrap.Components, store *service.MixedStore) *VersionHandler {
	return &VersionHandler{
		components: components,
		store:      store,
	}
}

// GetSuccessors walks the version graph forward from a structure version
// GET /api/v1/courses/:course_id/versions/:version/successors?depth=2
func (h *VersionHandler) GetSuccessors(c echo.Context) error {
	course, err := keys.ParseCourseKey(c.Param("course_id"))
	if err != nil {
		return httpError(err)
	}
	version, err := uuid.Parse(c.Param("version"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid version guid")
	}

	depth := 0
	if raw := c.QueryParam("depth"); raw != "" {
		depth, err = strconv.Atoi(raw)
		if err != nil || depth < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "depth must be a non-negative integer")
		}
	}

	tree, err := h.store.GetCourseSuccessors(c.Request().Context(), course, version, depth)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tree)
}

// UpdateDefinition mints a new version of a shared content body
// POST /api/v1/definitions/:def_key
func (h *VersionHandler) UpdateDefinition(c echo.Context) error {
	user, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}
	def, err := keys.ParseDefinitionKey(c.Param("def_key"))
	if err != nil {
		return httpError(err)
	}

	var req struct {
		Course string                 `json:"course"`
		Fields map[string]interface{} `json:"fields"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	course, err := keys.ParseCourseKey(req.Course)
	if err != nil {
		return httpError(err)
	}

	newDef, err := h.store.UpdateDefinition(c.Request().Context(), user, course, def, req.Fields)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"definition": newDef.String(),
	})
}
