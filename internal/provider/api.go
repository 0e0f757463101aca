package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
)

const (
	defaultAPITimeout = 30 * time.Second

	idempotencyKeyHeader = "Idempotency-Key"
	receiptConfirmed     = "confirmed"
)

type apiSubmissionRequest struct {
	SubmissionID  string             `json:"submissionId"`
	ApplicationID string             `json:"applicationId"`
	Priority      int                `json:"priority"`
	Attempt       int                `json:"attempt"`
	Application   ApplicationContext `json:"application"`
}

type apiSubmissionReceipt struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// APIAdapter posts submissions to the universities' intake API at
// {baseURL}/universities/{universityId}/submissions.
type APIAdapter struct {
	client  *resty.Client
	baseURL string
}

func NewAPIAdapter(baseURL string) (*APIAdapter, error) {
	client := resty.New()
	client.SetTimeout(defaultAPITimeout)
	client.SetRetryCount(0)

	return NewAPIAdapterWithClient(baseURL, client)
}

func NewAPIAdapterWithClient(baseURL string, client *resty.Client) (*APIAdapter, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("university api base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid university api base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultAPITimeout)
	}
	client.SetRetryCount(0)

	return &APIAdapter{
		client:  client,
		baseURL: trimmed,
	}, nil
}

func (a *APIAdapter) Send(ctx context.Context, submission domain.Submission, app ApplicationContext) (*DeliveryResponse, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("api adapter is not initialized")
	}
	if strings.TrimSpace(submission.ID) == "" {
		return nil, &ProviderError{Message: "submission id is required"}
	}

	var receipt apiSubmissionReceipt
	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(idempotencyKeyHeader, submission.ID).
		SetBody(apiSubmissionRequest{
			SubmissionID:  submission.ID,
			ApplicationID: submission.ApplicationID,
			Priority:      submission.Priority,
			Attempt:       submission.RetryCount + 1,
			Application:   app,
		}).
		SetResult(&receipt).
		Post(a.submissionURL(submission.UniversityID))
	if err != nil {
		return nil, &ProviderError{
			Message:   "university api request failed",
			Transient: true,
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "university api returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		reference := strings.TrimSpace(receipt.Reference)
		if reference == "" {
			reference = headerReference(response)
		}
		return &DeliveryResponse{
			StatusCode:        statusCode,
			ExternalReference: reference,
			Confirmed:         strings.EqualFold(receipt.Status, receiptConfirmed),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    statusErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func (a *APIAdapter) submissionURL(universityID string) string {
	return fmt.Sprintf("%s/universities/%s/submissions", a.baseURL, url.PathEscape(universityID))
}

func headerReference(response *resty.Response) string {
	for _, key := range []string{"X-Submission-Reference", "X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}
	return ""
}
