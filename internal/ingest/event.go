// Package ingest turns raw bot webhook payloads into canonical events.
//
// Classification is the single boundary between loosely shaped platform JSON
// and the rest of the application: everything downstream works on Event and
// its closed Kind set, never on the raw document. Classify performs no I/O.
package ingest

import (
	"errors"
	"time"

	"github.com/tbourn/go-chat-ingest/internal/domain"
)

// Kind enumerates the canonical event kinds.
type Kind string

const (
	KindMessageCreated Kind = "message_created"
	KindMessageEdited  Kind = "message_edited"
	KindUserBlocked    Kind = "user_blocked"
	KindUserUnblocked  Kind = "user_unblocked"
)

// Subtype refines KindMessageCreated / KindMessageEdited.
type Subtype string

const (
	SubtypeConversation Subtype = "conversation"
	SubtypeCommand      Subtype = "command"
	SubtypeAttachment   Subtype = "attachment"
)

// Event is the canonical, typed form of a webhook payload.
//
// BotID, ExternalChatID and ExternalUserID are always set. Message carries the
// kind-specific payload for message kinds and is nil for block/unblock.
type Event struct {
	Kind           Kind
	UpdateID       string
	BotID          int64
	ExternalChatID string
	ExternalUserID string
	ChatType       domain.ChatType
	Message        *MessagePayload
}

// MessagePayload holds the fields of a created or edited message.
type MessagePayload struct {
	ExternalMessageID string
	Subtype           Subtype
	Type              domain.MessageType
	Text              string
	AttachmentRef     string
	SentAt            time.Time
	EditedAt          *time.Time
}

// HasAttachment reports whether the event references a platform file.
func (e Event) HasAttachment() bool {
	return e.Message != nil && e.Message.AttachmentRef != ""
}

// ErrUnrecognizedEvent is the sentinel matched by errors.Is for every
// UnrecognizedEventError.
var ErrUnrecognizedEvent = errors.New("unrecognized event")

// UnrecognizedEventError reports a payload that matches no known shape.
type UnrecognizedEventError struct {
	Reason string
}

func (e *UnrecognizedEventError) Error() string {
	return "unrecognized event: " + e.Reason
}

// Is makes errors.Is(err, ErrUnrecognizedEvent) hold.
func (e *UnrecognizedEventError) Is(target error) bool { return target == ErrUnrecognizedEvent }

func unrecognized(reason string) error { return &UnrecognizedEventError{Reason: reason} }
