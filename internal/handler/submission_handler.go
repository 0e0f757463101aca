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

type SubmissionService interface {
	Enqueue(ctx context.Context, s *domain.Submission) (*domain.Submission, bool, error)
	Get(ctx context.Context, id string) (*domain.Submission, error)
	List(ctx context.Context, params repository.SubmissionListParams) ([]domain.Submission, int64, error)
	Attempts(ctx context.Context, id string) ([]domain.SubmissionAttempt, error)
	Confirm(ctx context.Context, id string, externalReference string, confirmedAt *time.Time) (*domain.Submission, error)
}

type SubmissionHandler struct {
	service  SubmissionService
	validate *validator.Validate
}

func NewSubmissionHandler(service SubmissionService) (*SubmissionHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("submission service is required")
	}
	return &SubmissionHandler{service: service, validate: newValidator()}, nil
}

func RegisterSubmissionRoutes(router fiber.Router, service SubmissionService) error {
	h, err := NewSubmissionHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/submissions", h.EnqueueSubmission)
	v1.Get("/submissions", h.ListSubmissions)
	v1.Get("/submissions/:id", h.GetSubmission)
	v1.Get("/submissions/:id/attempts", h.ListAttempts)
	v1.Post("/submissions/:id/confirm", h.ConfirmSubmission)

	return nil
}

type enqueueSubmissionRequest struct {
	ID            string `json:"id" validate:"omitempty,uuid"`
	ApplicationID string `json:"applicationId" validate:"required,max=128"`
	UniversityID  string `json:"universityId" validate:"required,max=128"`
	Channel       string `json:"channel" validate:"required,oneof=api email manual"`
	Priority      *int   `json:"priority" validate:"omitempty,min=1,max=10"`
	MaxRetries    *int   `json:"maxRetries" validate:"omitempty,min=0,max=20"`
}

type confirmSubmissionRequest struct {
	ExternalReference string     `json:"externalReference" validate:"required,max=256"`
	ConfirmedAt       *time.Time `json:"confirmedAt"`
}

type submissionResponse struct {
	ID                string     `json:"id"`
	ApplicationID     string     `json:"applicationId"`
	UniversityID      string     `json:"universityId"`
	Channel           string     `json:"channel"`
	Status            string     `json:"status"`
	Priority          int        `json:"priority"`
	RetryCount        int        `json:"retryCount"`
	MaxRetries        int        `json:"maxRetries"`
	NextAttemptAt     *time.Time `json:"nextAttemptAt,omitempty"`
	SubmittedAt       *time.Time `json:"submittedAt,omitempty"`
	ConfirmedAt       *time.Time `json:"confirmedAt,omitempty"`
	LastError         *string    `json:"lastError,omitempty"`
	ExternalReference *string    `json:"externalReference,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type attemptResponse struct {
	ID               string    `json:"id"`
	AttemptNumber    int       `json:"attemptNumber"`
	Channel          string    `json:"channel"`
	Success          bool      `json:"success"`
	FailureKind      string    `json:"failureKind,omitempty"`
	Error            *string   `json:"error,omitempty"`
	DurationMillis   int64     `json:"durationMillis"`
	ProcessingMillis int64     `json:"processingMillis"`
	CreatedAt        time.Time `json:"createdAt"`
}

type listSubmissionsResponse struct {
	Data []submissionResponse `json:"data"`
	Meta listMeta             `json:"meta"`
}

// EnqueueSubmission answers 201 for a new obligation and 200 when the
// application already has one for the university.
func (h *SubmissionHandler) EnqueueSubmission(c *fiber.Ctx) error {
	var req enqueueSubmissionRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		return toHTTPError(err)
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return toHTTPError(err)
	}
	submission := &domain.Submission{
		ID:            req.ID,
		ApplicationID: req.ApplicationID,
		UniversityID:  req.UniversityID,
		Channel:       channel,
		MaxRetries:    domain.MaxRetriesUnset,
	}
	if req.Priority != nil {
		submission.Priority = *req.Priority
	}
	if req.MaxRetries != nil {
		submission.MaxRetries = *req.MaxRetries
	}

	stored, created, err := h.service.Enqueue(c.UserContext(), submission)
	if err != nil {
		return toHTTPError(err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(toSubmissionResponse(stored))
}

func (h *SubmissionHandler) GetSubmission(c *fiber.Ctx) error {
	submission, err := h.service.Get(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSubmissionResponse(submission))
}

func (h *SubmissionHandler) ListAttempts(c *fiber.Ctx) error {
	attempts, err := h.service.Attempts(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		var failureKind string
		if a.FailureKind != nil {
			failureKind = a.FailureKind.String()
		}
		data = append(data, attemptResponse{
			ID:               a.ID,
			AttemptNumber:    a.AttemptNumber,
			Channel:          a.Channel.String(),
			Success:          a.Success,
			FailureKind:      failureKind,
			Error:            a.Error,
			DurationMillis:   a.DurationMillis,
			ProcessingMillis: a.ProcessingMillis,
			CreatedAt:        a.CreatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *SubmissionHandler) ConfirmSubmission(c *fiber.Ctx) error {
	var req confirmSubmissionRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		return toHTTPError(err)
	}

	submission, err := h.service.Confirm(c.UserContext(), strings.TrimSpace(c.Params("id")), req.ExternalReference, req.ConfirmedAt)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSubmissionResponse(submission))
}

func (h *SubmissionHandler) ListSubmissions(c *fiber.Ctx) error {
	params, err := parseSubmissionListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	submissions, total, err := h.service.List(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]submissionResponse, 0, len(submissions))
	for i := range submissions {
		data = append(data, toSubmissionResponse(&submissions[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listSubmissionsResponse{
		Data: data,
		Meta: listMeta{Page: params.Page, PageSize: params.PageSize, Total: total},
	})
}

func parseSubmissionListParams(c *fiber.Ctx) (repository.SubmissionListParams, error) {
	page, pageSize, err := parsePaging(c)
	if err != nil {
		return repository.SubmissionListParams{}, err
	}
	params := repository.SubmissionListParams{
		Page:         page,
		PageSize:     pageSize,
		UniversityID: optionalQuery(c, "universityId"),
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.SubmissionListParams{}, err
		}
		params.Status = &status
	}
	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return repository.SubmissionListParams{}, err
		}
		params.Channel = &channel
	}

	if params.From, err = parseRFC3339Query(c.Query("from"), "from"); err != nil {
		return repository.SubmissionListParams{}, err
	}
	if params.To, err = parseRFC3339Query(c.Query("to"), "to"); err != nil {
		return repository.SubmissionListParams{}, err
	}
	return params, nil
}

func toSubmissionResponse(s *domain.Submission) submissionResponse {
	if s == nil {
		return submissionResponse{}
	}

	return submissionResponse{
		ID:                s.ID,
		ApplicationID:     s.ApplicationID,
		UniversityID:      s.UniversityID,
		Channel:           s.Channel.String(),
		Status:            s.Status.String(),
		Priority:          s.Priority,
		RetryCount:        s.RetryCount,
		MaxRetries:        s.MaxRetries,
		NextAttemptAt:     s.NextAttemptAt,
		SubmittedAt:       s.SubmittedAt,
		ConfirmedAt:       s.ConfirmedAt,
		LastError:         s.LastError,
		ExternalReference: s.ExternalReference,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}
