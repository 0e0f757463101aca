package handler

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/letter-dispatch/internal/monitoring"
)

type MonitoringService interface {
	Dashboard(ctx context.Context) *monitoring.Dashboard
	RetryFailed(ctx context.Context, filter monitoring.RetryFilter) (*monitoring.RetryResult, error)
}

type MonitoringHandler struct {
	service  MonitoringService
	validate *validator.Validate
}

func RegisterMonitoringRoutes(router fiber.Router, service MonitoringService) error {
	if service == nil {
		return fmt.Errorf("monitoring service is required")
	}
	h := &MonitoringHandler{service: service, validate: newValidator()}

	v1 := router.Group("/v1/monitoring")
	v1.Get("/dashboard", h.GetDashboard)
	v1.Post("/retry-failed", h.RetryFailed)

	return nil
}

type retryFailedRequest struct {
	UniversityID     *string `json:"universityId" validate:"omitempty,min=1,max=128"`
	OlderThanMinutes *int    `json:"olderThanMinutes" validate:"omitempty,min=0"`
	MaxRetries       *int    `json:"maxRetries" validate:"omitempty,min=0"`
}

// GetDashboard always answers 200; sections that could not be refreshed are
// listed under degraded.
func (h *MonitoringHandler) GetDashboard(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.service.Dashboard(c.UserContext()))
}

func (h *MonitoringHandler) RetryFailed(c *fiber.Ctx) error {
	var req retryFailedRequest
	if len(c.Body()) > 0 {
		if err := bindJSON(c, h.validate, &req); err != nil {
			return toHTTPError(err)
		}
	}

	result, err := h.service.RetryFailed(c.UserContext(), monitoring.RetryFilter{
		UniversityID:     req.UniversityID,
		OlderThanMinutes: req.OlderThanMinutes,
		MaxRetries:       req.MaxRetries,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}
