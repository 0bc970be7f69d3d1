package handlers

import (
	"encoding/base64"
	"errors"
	"io"
	"log"
	"strconv"

	"kulit/internal/detection"
	"kulit/internal/middleware"
	"kulit/internal/services"

	"github.com/gofiber/fiber/v2"
)

// DetectionHandler handles HTTP requests for lesion detection and history.
type DetectionHandler struct {
	service *services.DetectionService
}

// NewDetectionHandler creates a new DetectionHandler.
func NewDetectionHandler(service *services.DetectionService) *DetectionHandler {
	return &DetectionHandler{
		service: service,
	}
}

// RegisterRoutes registers the detection routes. router must be behind
// middleware.AuthRequired.
func (h *DetectionHandler) RegisterRoutes(router fiber.Router) {
	detectionRoutes := router.Group("/detections")
	detectionRoutes.Post("/", h.HandleDetect)
	detectionRoutes.Get("/", h.HandleGetHistory)
	detectionRoutes.Get("/:id/image", h.HandleGetImage)
	detectionRoutes.Delete("/:id", h.HandleDeleteDetection)
}

// RegisterPublicRoutes registers the routes that need no session.
func (h *DetectionHandler) RegisterPublicRoutes(router fiber.Router) {
	router.Get("/model", h.HandleGetModelInfo)
}

// HandleDetect runs the model on the uploaded "image" form file.
func (h *DetectionHandler) HandleDetect(c *fiber.Ctx) error {
	username := middleware.Username(c)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Form file 'image' is required",
			"error":   err.Error(),
		})
	}

	threshold := h.service.DefaultThreshold()
	if raw := c.FormValue("confidence"); raw != "" {
		threshold, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Invalid confidence value",
				"error":   err.Error(),
			})
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Printf("Error opening upload from %s: %v", username, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Could not read uploaded file",
		})
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		log.Printf("Error reading upload from %s: %v", username, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Could not read uploaded file",
		})
	}

	result, err := h.service.Detect(c.UserContext(), username, fileHeader.Filename, data, threshold)
	if err != nil {
		return detectionError(c, err)
	}

	status := fiber.StatusCreated
	response := fiber.Map{
		"saved":           result.Saved(),
		"predictions":     result.Predictions,
		"annotated_image": base64.StdEncoding.EncodeToString(result.AnnotatedPNG),
	}
	if result.Saved() {
		response["id"] = result.Record.ID
		response["detected_at"] = result.Record.DetectedAt
	} else {
		status = fiber.StatusOK
		response["message"] = "Detection finished but could not be saved to history"
	}
	return c.Status(status).JSON(response)
}

func detectionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidUpload):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid upload",
			"error":   err.Error(),
		})
	case errors.Is(err, detection.ErrModelUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"message": "Detection model is unavailable",
		})
	case errors.Is(err, detection.ErrImageDecode):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"message": "Image could not be decoded",
			"error":   err.Error(),
		})
	default:
		log.Printf("Error running detection: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Detection failed",
			"error":   err.Error(),
		})
	}
}

// HandleGetHistory lists the user's detections, newest first.
func (h *DetectionHandler) HandleGetHistory(c *fiber.Ctx) error {
	return c.JSON(h.service.History(middleware.Username(c)))
}

// HandleGetImage returns the retained image, or a thumbnail when ?thumb=1.
func (h *DetectionHandler) HandleGetImage(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid detection ID",
		})
	}

	data, contentType, err := h.service.Image(middleware.Username(c), uint(id), c.QueryBool("thumb"))
	switch {
	case errors.Is(err, services.ErrHistoryNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "Detection not found",
		})
	case errors.Is(err, services.ErrImageUnavailable):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "image unavailable",
		})
	case err != nil:
		log.Printf("Error loading image of detection %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not load image",
		})
	}

	c.Set(fiber.HeaderContentType, contentType)
	return c.Send(data)
}

// HandleDeleteDetection deletes one of the user's detections.
func (h *DetectionHandler) HandleDeleteDetection(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid detection ID",
		})
	}

	if err := h.service.Delete(middleware.Username(c), uint(id)); err != nil {
		if errors.Is(err, services.ErrHistoryNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": "Detection not found",
			})
		}
		log.Printf("Error deleting detection %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not delete detection",
		})
	}
	return c.JSON(fiber.Map{
		"message": "Detection deleted successfully",
	})
}

// HandleGetModelInfo describes the detection model.
func (h *DetectionHandler) HandleGetModelInfo(c *fiber.Ctx) error {
	return c.JSON(h.service.ModelInfo())
}
