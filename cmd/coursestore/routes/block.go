package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/openlearn/coursestore/cmd/coursestore/container"
	"github.com/openlearn/coursestore/cmd/coursestore/handlers"
)

// RegisterBlockRoutes registers block CRUD and navigation routes
func RegisterBlockRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewBlockHandler(c.Components, c.MixedStore)

	blocks := e.Group("/api/v1/blocks")
	{
		blocks.POST("", h.CreateBlock)            // POST /api/v1/blocks
		blocks.GET("/:key", h.GetBlock)           // GET /api/v1/blocks/block-v1:edX+Demo+2026+type@problem+block@q1
		blocks.PUT("/:key", h.UpdateBlock)        // PUT /api/v1/blocks/:key
		blocks.DELETE("/:key", h.DeleteBlock)     // DELETE /api/v1/blocks/:key?scope=all
		blocks.GET("/:key/parents", h.GetParents) // GET /api/v1/blocks/:key/parents
		blocks.GET("/:key/path", h.GetPath)       // GET /api/v1/blocks/:key/path
	}
}
