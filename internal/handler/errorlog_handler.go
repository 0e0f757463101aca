package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
)

type ErrorLogService interface {
	Get(ctx context.Context, id string) (*domain.ErrorLogEntry, error)
	List(ctx context.Context, params repository.ErrorLogListParams) ([]domain.ErrorLogEntry, int64, error)
	Resolve(ctx context.Context, id string, resolvedBy string) (*domain.ErrorLogEntry, error)
	BulkResolve(ctx context.Context, ids []string, resolvedBy string) (int64, error)
}

type ErrorLogHandler struct {
	service  ErrorLogService
	validate *validator.Validate
}

func RegisterErrorLogRoutes(router fiber.Router, service ErrorLogService) error {
	if service == nil {
		return fmt.Errorf("error log service is required")
	}
	h := &ErrorLogHandler{service: service, validate: newValidator()}

	v1 := router.Group("/v1")
	v1.Get("/errors", h.ListErrors)
	// Registered before /errors/:id so "resolve" is not taken as an id.
	v1.Post("/errors/resolve", h.BulkResolve)
	v1.Get("/errors/:id", h.GetError)
	v1.Post("/errors/:id/resolve", h.ResolveError)

	return nil
}

type resolveRequest struct {
	ResolvedBy string `json:"resolvedBy" validate:"required,max=200"`
}

type bulkResolveRequest struct {
	IDs        []string `json:"ids" validate:"required,min=1,max=1000,dive,required"`
	ResolvedBy string   `json:"resolvedBy" validate:"required,max=200"`
}

type errorLogResponse struct {
	ID         string         `json:"id"`
	Level      string         `json:"level"`
	Category   string         `json:"category"`
	Message    string         `json:"message"`
	Context    map[string]any `json:"context,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Resolved   bool           `json:"resolved"`
	ResolvedBy *string        `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
}

func (h *ErrorLogHandler) ListErrors(c *fiber.Ctx) error {
	params, err := parseErrorLogListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	entries, total, err := h.service.List(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]errorLogResponse, 0, len(entries))
	for i := range entries {
		data = append(data, toErrorLogResponse(&entries[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": data,
		"meta": listMeta{Page: params.Page, PageSize: params.PageSize, Total: total},
	})
}

func (h *ErrorLogHandler) GetError(c *fiber.Ctx) error {
	entry, err := h.service.Get(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toErrorLogResponse(entry))
}

func (h *ErrorLogHandler) ResolveError(c *fiber.Ctx) error {
	var req resolveRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		return toHTTPError(err)
	}

	entry, err := h.service.Resolve(c.UserContext(), strings.TrimSpace(c.Params("id")), req.ResolvedBy)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toErrorLogResponse(entry))
}

func (h *ErrorLogHandler) BulkResolve(c *fiber.Ctx) error {
	var req bulkResolveRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		return toHTTPError(err)
	}

	resolved, err := h.service.BulkResolve(c.UserContext(), req.IDs, req.ResolvedBy)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"requested": len(req.IDs),
		"resolved":  resolved,
	})
}

func parseErrorLogListParams(c *fiber.Ctx) (repository.ErrorLogListParams, error) {
	page, pageSize, err := parsePaging(c)
	if err != nil {
		return repository.ErrorLogListParams{}, err
	}
	params := repository.ErrorLogListParams{
		Page:         page,
		PageSize:     pageSize,
		SubmissionID: optionalQuery(c, "submissionId"),
	}

	if raw := strings.TrimSpace(c.Query("level")); raw != "" {
		level, err := domain.ParseLevelFromString(raw)
		if err != nil {
			return repository.ErrorLogListParams{}, err
		}
		params.Level = &level
	}
	if raw := strings.TrimSpace(c.Query("category")); raw != "" {
		category, err := domain.ParseCategoryFromString(raw)
		if err != nil {
			return repository.ErrorLogListParams{}, err
		}
		params.Category = &category
	}
	if params.Resolved, err = parseBoolQuery(c.Query("resolved"), "resolved"); err != nil {
		return repository.ErrorLogListParams{}, err
	}
	if params.From, err = parseRFC3339Query(c.Query("from"), "from"); err != nil {
		return repository.ErrorLogListParams{}, err
	}
	if params.To, err = parseRFC3339Query(c.Query("to"), "to"); err != nil {
		return repository.ErrorLogListParams{}, err
	}
	return params, nil
}

func toErrorLogResponse(e *domain.ErrorLogEntry) errorLogResponse {
	return errorLogResponse{
		ID:         e.ID,
		Level:      e.Level.String(),
		Category:   e.Category.String(),
		Message:    e.Message,
		Context:    e.Context,
		OccurredAt: e.OccurredAt,
		Resolved:   e.Resolved,
		ResolvedBy: e.ResolvedBy,
		ResolvedAt: e.ResolvedAt,
	}
}
