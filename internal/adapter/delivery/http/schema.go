package http

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vadimbarashkov/tinylink/internal/entity"
)

const statusError = "error"

// createLinkRequest is the body of a link creation request. An omitted code
// lets the service generate one.
type createLinkRequest struct {
	URL  string `json:"url" validate:"required,http_url"`
	Code string `json:"code" validate:"omitempty,shortcode"`
}

type linkResponse struct {
	Code        string     `json:"code"`
	URL         string     `json:"url"`
	Clicks      int64      `json:"clicks"`
	LastClicked *time.Time `json:"last_clicked"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toLinkResponse(link *entity.Link) linkResponse {
	return linkResponse{
		Code:        link.Code,
		URL:         link.URL,
		Clicks:      link.Clicks,
		LastClicked: link.LastClicked,
		CreatedAt:   link.CreatedAt,
	}
}

func toLinkListResponse(links []*entity.Link) []linkResponse {
	resp := make([]linkResponse, 0, len(links))
	for _, link := range links {
		resp = append(resp, toLinkResponse(link))
	}
	return resp
}

type deleteLinkResponse struct {
	Success bool `json:"success"`
}

type healthResponse struct {
	APIStatus      string    `json:"api_status"`
	DBStatus       string    `json:"db_status"`
	UptimeMS       int64     `json:"uptime_ms"`
	UptimeHuman    string    `json:"uptime_human"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	CheckedAt      time.Time `json:"checked_at"`
}

type livenessResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type validationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Errors  []validationError `json:"errors,omitempty"`
}

var (
	emptyRequestBodyResponse = errorResponse{
		Status:  statusError,
		Message: "empty request body",
	}

	invalidRequestBodyResponse = errorResponse{
		Status:  statusError,
		Message: "invalid request body",
	}

	invalidURLResponse = errorResponse{
		Status:  statusError,
		Message: "invalid url",
	}

	invalidCodeResponse = errorResponse{
		Status:  statusError,
		Message: "invalid code, must match [A-Za-z0-9]{6,8}",
	}

	codeExistsResponse = errorResponse{
		Status:  statusError,
		Message: "code already exists",
	}

	codeGenerationFailedResponse = errorResponse{
		Status:  statusError,
		Message: "failed to generate code",
	}

	linkNotFoundResponse = errorResponse{
		Status:  statusError,
		Message: "link not found",
	}

	serverErrorResponse = errorResponse{
		Status:  statusError,
		Message: "server error occurred",
	}
)

func messageForTag(tag string) string {
	switch tag {
	case "required":
		return "this field is required"
	case "http_url":
		return "must be an absolute http or https url"
	case "shortcode":
		return "must be 6 to 8 letters or digits"
	default:
		return "invalid value"
	}
}

func getValidationErrors(err error) []validationError {
	var validationErrs []validationError

	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		for _, e := range errs {
			validationErrs = append(validationErrs, validationError{
				Field:   e.Field(),
				Message: messageForTag(e.Tag()),
			})
		}
	}

	return validationErrs
}

func validationErrorResponse(err error) errorResponse {
	return errorResponse{
		Status:  statusError,
		Message: "validation error",
		Errors:  getValidationErrors(err),
	}
}
