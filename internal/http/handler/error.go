package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"peopleapi/internal/http/middleware"
	"peopleapi/internal/upload"
	"peopleapi/internal/validation"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// fieldErrorsPayload is returned when user creation is rejected. Keys are form
// field names, "avatar" for upload failures or "common" for persistence failures.
type fieldErrorsPayload struct {
	RequestID string             `json:"request_id"`
	Errors    validation.Outcome `json:"errors"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "INVALID_ID", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

func writeFieldErrors(c *fiber.Ctx, status int, out validation.Outcome) error {
	return c.Status(status).JSON(fieldErrorsPayload{
		RequestID: requestIDFromCtx(c),
		Errors:    out,
	})
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			// The body limit is hit before CreatePerson runs; an oversized
			// multipart form can only be an oversized file part.
			if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
				out := validation.Outcome{}
				out.Add(avatarFieldName, validation.Kind(upload.PayloadTooLarge), upload.MsgFileTooLarge)
				return writeFieldErrors(c, fiber.StatusBadRequest, out)
			}
			return writeError(c, status, "PAYLOAD_TOO_LARGE", "request body too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
