package server

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/reservebill/pkg/errs"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrRouteNotFound   = errs.Mark(errors.New("route_not_found"), errs.ErrNotFound)
	ErrTooManyRequests = errors.New("too_many_requests")
	ErrInvalidRequest  = errs.Mark(errors.New("invalid_request"), errs.ErrValidation)
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// errorClass maps an error kind onto a response. Classes are checked in
// order; the first match wins.
type errorClass struct {
	match   func(error) bool
	status  int
	kind    string
	message string
}

var errorClasses = []errorClass{
	{func(err error) bool { return errors.Is(err, ErrTooManyRequests) }, http.StatusTooManyRequests, "rate_limited", "too many requests"},
	{errs.IsValidation, http.StatusBadRequest, "validation_error", "validation error"},
	{func(err error) bool { return errs.IsNotFound(err) || errors.Is(err, gorm.ErrRecordNotFound) }, http.StatusNotFound, "not_found", "not found"},
	{errs.IsInvalidState, http.StatusConflict, "invalid_state", ""},
	{errs.IsDuplicate, http.StatusConflict, "conflict", "conflict"},
	{errs.IsTransientExternal, http.StatusServiceUnavailable, "service_unavailable", "service unavailable"},
}

var internalError = errorPayload{Type: "internal_error", Message: "internal server error"}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalError
	}
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	code := errorCode(err)
	for _, class := range errorClasses {
		if !class.match(err) {
			continue
		}
		payload := errorPayload{Type: class.kind, Code: code, Message: class.message}
		switch class.kind {
		case "validation_error":
			// Sentinel validation errors name their field in the code.
			payload.Code = ""
			payload.Errors = []ValidationError{{
				Field:   validationErrorField(code),
				Code:    code,
				Message: validationErrorMessage(code),
			}}
		case "invalid_state":
			payload.Message = strings.ReplaceAll(code, "_", " ")
		}
		return class.status, payload
	}
	return http.StatusInternalServerError, internalError
}

// classifyErrorForLog feeds the request logger the same type/code pair the
// client receives.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if payload.Code == "" && len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// errorCode is the message of the innermost sentinel, stripped of any
// wrapping context.
func errorCode(err error) string {
	return errors.UnwrapAll(err).Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
