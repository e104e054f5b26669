// Webhook HTTP handler.
//
// POST {WEBHOOK_BASE_PATH}/{botId} receives one platform update. The body is
// passed verbatim to the IngestService; the response status tells the
// platform whether to redeliver:
//   - 200: applied, duplicate or replayed (no redelivery)
//   - 400: the payload can never be applied (no point in redelivering)
//   - 5xx: transient failure, the core transaction was rolled back
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WebhookResponse acknowledges an ingested update.
type WebhookResponse struct {
	OK        bool   `json:"ok"                   example:"true"`
	Kind      string `json:"kind,omitempty"       example:"message_created"`
	ChatID    string `json:"chat_id,omitempty"    example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	MessageID string `json:"message_id,omitempty" example:"7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab"`
	// Replayed is true when the update id was already processed.
	Replayed bool `json:"replayed" example:"false"`
}

// Webhook godoc
// @ID          webhook
// @Summary     Ingest a bot update
// @Description Classifies a platform update and reconciles chats, participants and messages idempotently.
// @Description Duplicate deliveries are acknowledged without further writes.
// @Tags        Webhook
// @Accept      json
// @Produce     json
//
// @Param       X-Telegram-Bot-Api-Secret-Token  header  string  false "Shared webhook secret (required when configured)"
// @Param       botId  path  int     true  "Bot ID"          example(7)
// @Param       body   body  object  true  "Platform update"
//
// @Success     200  {object}  handlers.WebhookResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Unrecognized event or bad bot id"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid webhook secret"
// @Failure     413  {object}  handlers.ErrorResponse  "Payload too large"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Ingest failed, redeliver"
// @Router      /tg/{botId} [post]
func (h *Handlers) Webhook(c *gin.Context) {
	botID, valid := botIDParam(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msgBadBotID)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "payload too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read request body")
		return
	}

	res, err := h.ingestSvc.Ingest(c.Request.Context(), botID, body)
	if err != nil {
		status, code, msg := ingestFailure(err)
		fail(c, status, code, msg)
		return
	}

	ok(c, http.StatusOK, WebhookResponse{
		OK:        true,
		Kind:      string(res.Kind),
		ChatID:    res.ChatID,
		MessageID: res.MessageID,
		Replayed:  res.Replayed,
	})
}
