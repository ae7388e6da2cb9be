package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openlearn/coursestore/cmd/coursestore/middleware"
	"github.com/openlearn/coursestore/cmd/coursestore/service"
	"github.com/openlearn/coursestore/common/bootstrap"
	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/keys"
)

// CourseHandler handles course-level operations
type CourseHandler struct {
	components *bootstrap.Components
	store      *service.MixedStore
	migrator   *service.Migrator
}

// NewCourseHandler creates a new course handler
func NewCourseHandler(components *bootstrap.Components, store *service.MixedStore, migrator *service.Migrator) *CourseHandler {
	return &CourseHandler{
		components: components,
		store:      store,
		migrator:   migrator,
	}
}

// ListCourses lists all courses across every store
// GET /api/v1/courses
func (h *CourseHandler) ListCourses(c echo.Context) error {
	courses, err := h.store.GetCourses(c.Request().Context())
	if err != nil {
		h.components.Logger.Error("failed to list courses", "error", err)
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"courses": blockListResponse(courses),
		"count":   len(courses),
	})
}

// CreateCourse creates a new course
// POST /api/v1/courses
func (h *CourseHandler) CreateCourse(c echo.Context) error {
	user, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}

	var req struct {
		Org    string                 `json:"org"`
		Course string                 `json:"course"`
		Run    string                 `json:"run"`
		Fields map[string]interface{} `json:"fields"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	course := keys.NewCourseKey(req.Org, req.Course, req.Run)
	if !course.IsFullySpecified() {
		return echo.NewHTTPError(http.StatusBadRequest, "org, course, and run are required")
	}

	root, err := h.store.CreateCourse(c.Request().Context(), user, course, req.Fields)
	if err != nil {
		h.components.Logger.Error("failed to create course", "course", course.String(), "error", err)
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, blockResponse(root))
}

// GetCourse retrieves the root block of a course
// GET /api/v1/courses/:course_id
func (h *CourseHandler) GetCourse(c echo.Context) error {
	course, err := keys.ParseCourseKey(c.Param("course_id"))
	if err != nil {
		return httpError(err)
	}
	pref, err := revisionPref(c)
	if err != nil {
		return err
	}

	roots, err := h.store.GetItems(c.Request().Context(), course, "course", pref)
	if err != nil {
		return httpError(err)
	}
	if len(roots) == 0 {
		return httpError(&errs.ItemNotFoundError{ID: course.String()})
	}
	return c.JSON(http.StatusOK, blockResponse(roots[0]))
}

// DeleteCourse removes a course and everything in it
// DELETE /api/v1/courses/:course_id
func (h *CourseHandler) DeleteCourse(c echo.Context) error {
	user, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}
	course, err := keys.ParseCourseKey(c.Param("course_id"))
	if err != nil {
		return httpError(err)
	}

	if err := h.store.DeleteCourse(c.Request().Context(), user, course); err != nil {
		h.components.Logger.Error("failed to delete course", "course", course.String(), "error", err)
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListBlocks lists blocks in a course, optionally filtered by category
// GET /api/v1/courses/:course_id/blocks?category=problem&revision=published
func (h *CourseHandler) ListBlocks(c echo.Context) error {
	course, err := keys.ParseCourseKey(c.Param("course_id"))
	if err != nil {
		return httpError(err)
	}
	pref, err := revisionPref(c)
	if err != nil {
		return err
	}

	blocks, err := h.store.GetItems(c.Request().Context(), course, c.QueryParam("category"), pref)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"blocks": blockListResponse(blocks),
		"count":  len(blocks),
	})
}

// MigrateCourse copies a course from the draft engine into the
// version-graph engine
// POST /api/v1/courses/:course_id/migrate
func (h *CourseHandler) MigrateCourse(c echo.Context) error {
	user, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}
	source, err := keys.ParseCourseKey(c.Param("course_id"))
	if err != nil {
		return httpError(err)
	}

	var req struct {
		Dest string `json:"dest"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	dest := source
	if req.Dest != "" {
		if dest, err = keys.ParseCourseKey(req.Dest); err != nil {
			return httpError(err)
		}
	}

	migrated, err := h.migrator.MigrateCourse(c.Request().Context(), user, source, dest)
	if err != nil {
		h.components.Logger.Error("failed to migrate course", "course", source.String(), "error", err)
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"course": migrated.String(),
	})
}

// GetOrphans lists blocks unreachable from the course root
// GET /api/v1/courses/:course_id/orphans
func (h *CourseHandler) GetOrphans(c echo.Context) error {
	course, err := keys.ParseCourseKey(c.Param("course_id"))
	if err != nil {
		return httpError(err)
	}

	orphans, err := h.store.GetOrphans(c.Request().Context(), course)
	if err != nil {
		return httpError(err)
	}
	encoded := make([]string, 0, len(orphans))
	for _, orphan := range orphans {
		encoded = append(encoded, orphan.String())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"orphans": encoded,
		"count":   len(encoded),
	})
}
