package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/openlearn/coursestore/cmd/coursestore/container"
	coursemw "github.com/openlearn/coursestore/cmd/coursestore/middleware"
	"github.com/openlearn/coursestore/cmd/coursestore/routes"
	"github.com/openlearn/coursestore/common/bootstrap"
	"github.com/openlearn/coursestore/common/metrics"
	commonmw "github.com/openlearn/coursestore/common/middleware"
	"github.com/openlearn/coursestore/common/repository"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (DB, logger, queue, cache, telemetry)
	components, err := bootstrap.Setup(ctx, "coursestore",
		bootstrap.WithDBInitHook(repository.EnsureSchema),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap coursestore: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	metrics.LogStartup(components.Logger)

	// Initialize service container (all repositories and engines created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e, serviceContainer)
	setupHealthCheck(e, serviceContainer)
	registerRoutes(e, serviceContainer)
	startServer(e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, c *container.Container) {
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(echomw.RequestID())
	e.Use(coursemw.ExtractUsername())

	if c.RateLimiter != nil {
		e.Use(commonmw.GlobalRateLimit(c.RateLimiter, 1000))
		e.Use(commonmw.UserRateLimit(c.RateLimiter, 120))
	}
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, c *container.Container) {
	e.GET("/health", func(ctx echo.Context) error {
		if err := c.Components.Health(ctx.Request().Context()); err != nil {
			return ctx.JSON(503, map[string]string{
				"status":  "degraded",
				"service": "coursestore",
				"error":   err.Error(),
			})
		}
		return ctx.JSON(200, map[string]string{
			"status":  "ok",
			"service": "coursestore",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterCourseRoutes(e, c)
	routes.RegisterBlockRoutes(e, c)
	routes.RegisterPublishRoutes(e, c)
	routes.RegisterVersionRoutes(e, c)
}

// startServer starts the Echo server on the configured port
func startServer(e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	components.Logger.Info("starting coursestore", "port", port)

	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
