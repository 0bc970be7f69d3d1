package handlers

import (
	"time"

	"kulit/internal/middleware"
	"kulit/internal/services"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts every API route and the health check on app.
func RegisterRoutes(app *fiber.App, authService *services.AuthService, detectionService *services.DetectionService) {
	authHandler := NewAuthHandler(authService)
	accountHandler := NewAccountHandler(authService, detectionService)
	detectionHandler := NewDetectionHandler(detectionService)

	// Group routes under /api/v1
	apiV1 := app.Group("/api/v1")
	authHandler.RegisterRoutes(apiV1)
	detectionHandler.RegisterPublicRoutes(apiV1)

	protectedRoutes := apiV1.Group("", middleware.AuthRequired(authService))
	accountHandler.RegisterRoutes(protectedRoutes)
	detectionHandler.RegisterRoutes(protectedRoutes)

	app.Get("/health", func(c *fiber.Ctx) error {
		info := detectionService.ModelInfo()
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
			"model":  info.Status,
		})
	})
}
