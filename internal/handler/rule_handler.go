package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
)

type RuleService interface {
	Create(ctx context.Context, rule *domain.NotificationRule) (*domain.NotificationRule, error)
	Update(ctx context.Context, id string, changes *domain.NotificationRule) (*domain.NotificationRule, error)
	SetEnabled(ctx context.Context, id string, enabled bool) (*domain.NotificationRule, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.NotificationRule, error)
	List(ctx context.Context) ([]domain.NotificationRule, error)
	ListEvents(ctx context.Context, params repository.EventListParams) ([]domain.NotificationEvent, int64, error)
	Acknowledge(ctx context.Context, id string, by string) error
}

type RuleHandler struct {
	service  RuleService
	validate *validator.Validate
}

func NewRuleHandler(service RuleService) (*RuleHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("rule service is required")
	}
	return &RuleHandler{service: service, validate: newValidator()}, nil
}

func RegisterRuleRoutes(router fiber.Router, service RuleService) error {
	h, err := NewRuleHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/rules", h.CreateRule)
	v1.Get("/rules", h.ListRules)
	v1.Get("/rules/:id", h.GetRule)
	v1.Put("/rules/:id", h.UpdateRule)
	v1.Delete("/rules/:id", h.DeleteRule)
	v1.Post("/rules/:id/enable", h.toggle(true))
	v1.Post("/rules/:id/disable", h.toggle(false))

	v1.Get("/events", h.ListEvents)
	v1.Post("/events/:id/acknowledge", h.AcknowledgeEvent)

	return nil
}

// ruleRequest carries conditions and actions raw; their shape depends on type.
type ruleRequest struct {
	Name            string          `json:"name" validate:"required,max=200"`
	Type            string          `json:"type" validate:"required"`
	Enabled         *bool           `json:"enabled"`
	Conditions      json.RawMessage `json:"conditions" validate:"required"`
	Actions         json.RawMessage `json:"actions"`
	CooldownMinutes int             `json:"cooldownMinutes" validate:"min=0,max=10080"`
}

type acknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledgedBy" validate:"required,max=200"`
}

type ruleResponse struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Enabled         bool            `json:"enabled"`
	Conditions      json.RawMessage `json:"conditions"`
	Actions         json.RawMessage `json:"actions"`
	CooldownMinutes int             `json:"cooldownMinutes"`
	LastTriggeredAt *time.Time      `json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type eventResponse struct {
	ID             string         `json:"id"`
	RuleID         string         `json:"ruleId"`
	Severity       string         `json:"severity"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	TriggeredAt    time.Time      `json:"triggeredAt"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy *string        `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledgedAt,omitempty"`
}

func (h *RuleHandler) CreateRule(c *fiber.Ctx) error {
	rule, err := h.parseRule(c)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Create(c.UserContext(), rule)
	if err != nil {
		return toHTTPError(err)
	}
	return respondRule(c, fiber.StatusCreated, created)
}

func (h *RuleHandler) UpdateRule(c *fiber.Ctx) error {
	rule, err := h.parseRule(c)
	if err != nil {
		return toHTTPError(err)
	}

	updated, err := h.service.Update(c.UserContext(), strings.TrimSpace(c.Params("id")), rule)
	if err != nil {
		return toHTTPError(err)
	}
	return respondRule(c, fiber.StatusOK, updated)
}

func (h *RuleHandler) GetRule(c *fiber.Ctx) error {
	rule, err := h.service.Get(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return respondRule(c, fiber.StatusOK, rule)
}

func (h *RuleHandler) ListRules(c *fiber.Ctx) error {
	rules, err := h.service.List(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]ruleResponse, 0, len(rules))
	for i := range rules {
		resp, err := toRuleResponse(&rules[i])
		if err != nil {
			return err
		}
		data = append(data, resp)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *RuleHandler) DeleteRule(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), strings.TrimSpace(c.Params("id"))); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *RuleHandler) toggle(enabled bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rule, err := h.service.SetEnabled(c.UserContext(), strings.TrimSpace(c.Params("id")), enabled)
		if err != nil {
			return toHTTPError(err)
		}
		return respondRule(c, fiber.StatusOK, rule)
	}
}

func (h *RuleHandler) ListEvents(c *fiber.Ctx) error {
	page, pageSize, err := parsePaging(c)
	if err != nil {
		return toHTTPError(err)
	}
	params := repository.EventListParams{
		RuleID:   optionalQuery(c, "ruleId"),
		Page:     page,
		PageSize: pageSize,
	}
	if raw := strings.TrimSpace(c.Query("severity")); raw != "" {
		severity := domain.Severity(strings.ToLower(raw))
		params.Severity = &severity
	}
	if params.Acknowledged, err = parseBoolQuery(c.Query("acknowledged"), "acknowledged"); err != nil {
		return toHTTPError(err)
	}

	events, total, err := h.service.ListEvents(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]eventResponse, 0, len(events))
	for i := range events {
		data = append(data, toEventResponse(&events[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": data,
		"meta": listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (h *RuleHandler) AcknowledgeEvent(c *fiber.Ctx) error {
	var req acknowledgeRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		return toHTTPError(err)
	}

	if err := h.service.Acknowledge(c.UserContext(), strings.TrimSpace(c.Params("id")), req.AcknowledgedBy); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"acknowledged": true})
}

func (h *RuleHandler) parseRule(c *fiber.Ctx) (*domain.NotificationRule, error) {
	var req ruleRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		return nil, err
	}

	ruleType, err := domain.ParseRuleTypeFromString(req.Type)
	if err != nil {
		return nil, err
	}
	condition, err := domain.DecodeCondition(ruleType, req.Conditions)
	if err != nil {
		return nil, err
	}
	actions, err := domain.DecodeActions(req.Actions)
	if err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &domain.NotificationRule{
		Name:            req.Name,
		Type:            ruleType,
		Enabled:         enabled,
		Condition:       condition,
		Actions:         actions,
		CooldownMinutes: req.CooldownMinutes,
	}, nil
}

func respondRule(c *fiber.Ctx, status int, rule *domain.NotificationRule) error {
	resp, err := toRuleResponse(rule)
	if err != nil {
		return err
	}
	return c.Status(status).JSON(resp)
}

func toRuleResponse(r *domain.NotificationRule) (ruleResponse, error) {
	conditions, err := domain.EncodeCondition(r.Condition)
	if err != nil {
		return ruleResponse{}, fmt.Errorf("failed to encode rule %s conditions: %w", r.ID, err)
	}
	actions, err := domain.EncodeActions(r.Actions)
	if err != nil {
		return ruleResponse{}, fmt.Errorf("failed to encode rule %s actions: %w", r.ID, err)
	}

	return ruleResponse{
		ID:              r.ID,
		Name:            r.Name,
		Type:            r.Type.String(),
		Enabled:         r.Enabled,
		Conditions:      conditions,
		Actions:         actions,
		CooldownMinutes: r.CooldownMinutes,
		LastTriggeredAt: r.LastTriggeredAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func toEventResponse(e *domain.NotificationEvent) eventResponse {
	return eventResponse{
		ID:             e.ID,
		RuleID:         e.RuleID,
		Severity:       e.Severity.String(),
		Title:          e.Title,
		Message:        e.Message,
		Data:           e.Data,
		TriggeredAt:    e.TriggeredAt,
		Acknowledged:   e.Acknowledged,
		AcknowledgedBy: e.AcknowledgedBy,
		AcknowledgedAt: e.AcknowledgedAt,
	}
}
