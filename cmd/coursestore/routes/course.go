package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/openlearn/coursestore/cmd/coursestore/container"
	"github.com/openlearn/coursestore/cmd/coursestore/handlers"
)

// RegisterCourseRoutes registers all course-level routes
func RegisterCourseRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewCourseHandler(c.Components, c.MixedStore, c.Migrator)

	courses := e.Group("/api/v1/courses")
	{
		courses.GET("", h.ListCourses)                 // GET /api/v1/courses
		courses.POST("", h.CreateCourse)               // POST /api/v1/courses
		courses.GET("/:course_id", h.GetCourse)        // GET /api/v1/courses/course-v1:edX+Demo+2026
		courses.DELETE("/:course_id", h.DeleteCourse)  // DELETE /api/v1/courses/course-v1:edX+Demo+2026
		courses.GET("/:course_id/blocks", h.ListBlocks)
		courses.GET("/:course_id/orphans", h.GetOrphans)
		courses.POST("/:course_id/migrate", h.MigrateCourse)
	}
}
