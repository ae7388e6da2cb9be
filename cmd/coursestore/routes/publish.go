package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/openlearn/coursestore/cmd/coursestore/container"
	"github.com/openlearn/coursestore/cmd/coursestore/handlers"
)

// RegisterPublishRoutes registers the draft-to-published lifecycle routes
func RegisterPublishRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewPublishHandler(c.Components, c.MixedStore)

	blocks := e.Group("/api/v1/blocks")
	{
		blocks.POST("/:key/publish", h.Publish)
		blocks.POST("/:key/unpublish", h.Unpublish)
		blocks.POST("/:key/convert_to_draft", h.ConvertToDraft)
		blocks.POST("/:key/revert", h.RevertToPublished)
		blocks.GET("/:key/changes", h.HasChanges)
		blocks.GET("/:key/publish_state", h.PublishState)
	}

	e.POST("/api/v1/courses/:course_id/publish_subtrees", h.PublishSubtrees)
}
