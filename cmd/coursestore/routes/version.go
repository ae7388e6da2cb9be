package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/openlearn/coursestore/cmd/coursestore/container"
	"github.com/openlearn/coursestore/cmd/coursestore/handlers"
)

// RegisterVersionRoutes registers version-graph and definition routes
func RegisterVersionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewVersionHandler(c.Components, c.MixedStore)

	e.GET("/api/v1/courses/:course_id/versions/:version/successors", h.GetSuccessors)
	e.POST("/api/v1/definitions/:def_key", h.UpdateDefinition)
}
