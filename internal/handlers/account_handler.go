package handlers

import (
	"kulit/internal/middleware"
	"kulit/internal/services"

	"github.com/gofiber/fiber/v2"
)

// AccountHandler serves the authenticated user's account summary.
type AccountHandler struct {
	authService      *services.AuthService
	detectionService *services.DetectionService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(authService *services.AuthService, detectionService *services.DetectionService) *AccountHandler {
	return &AccountHandler{
		authService:      authService,
		detectionService: detectionService,
	}
}

// RegisterRoutes registers the account routes. router must be behind
// middleware.AuthRequired.
func (h *AccountHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/account", h.HandleGetAccount)
}

// HandleGetAccount returns the user record and the number of detections.
func (h *AccountHandler) HandleGetAccount(c *fiber.Ctx) error {
	username := middleware.Username(c)
	user := h.authService.GetUserInfo(username)
	if user == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "Account not found",
		})
	}
	return c.JSON(fiber.Map{
		"user":             user,
		"total_detections": h.detectionService.CountDetections(username),
	})
}
