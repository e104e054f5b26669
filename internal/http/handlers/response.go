// Package handlers implements the webhook endpoint and the read API.
//
// All failures share one JSON envelope with a stable code (see errors.go).
// On the webhook route the status class doubles as the redelivery signal for
// the platform: 2xx and 4xx are final, 5xx asks for the update again.
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "unrecognized_event",
//	  "message": "unrecognized event: no supported update field"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-ingest/internal/http/middleware"
	"github.com/tbourn/go-chat-ingest/internal/ingest"
	"github.com/tbourn/go-chat-ingest/internal/services"
)

const msgBadBotID = "bot id must be a positive integer"

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"unrecognized_event"`
	Message   string `json:"message" example:"unrecognized event: no supported update field"`
}

// fail aborts the request with an ErrorResponse.
//
// Server errors are logged at error level. Rejected webhook payloads are
// logged at debug with their reason so an operator can see why an update was
// dropped; the access log already carries the status.
func fail(c *gin.Context, status int, code, msg string) {
	lg := middleware.LoggerFrom(c)
	switch {
	case status >= http.StatusInternalServerError:
		lg.Error().Int("status", status).Str("code", code).Str("message", msg).Msg("request failed")
	case code == ErrCodeUnrecognizedEvent:
		lg.Debug().Str("reason", msg).Msg("webhook payload rejected")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for the router's fallback handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ingestFailure maps an IngestService error to status, code and message.
// Store errors are not echoed: they may carry SQL or DSN details.
func ingestFailure(err error) (status int, code, msg string) {
	switch {
	case errors.Is(err, ingest.ErrUnrecognizedEvent):
		return http.StatusBadRequest, ErrCodeUnrecognizedEvent, err.Error()
	case errors.Is(err, services.ErrInvalidBotID):
		return http.StatusBadRequest, ErrCodeBadRequest, msgBadBotID
	default:
		return http.StatusInternalServerError, ErrCodeIngestFailed, "ingest failed"
	}
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
