package ingest

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-chat-ingest/internal/domain"
)

// DefaultCommandPrefix marks command messages ("/start", "/help").
const DefaultCommandPrefix = "/"

// Member statuses reported in my_chat_member updates.
const (
	memberStatusKicked        = "kicked"
	memberStatusLeft          = "left"
	memberStatusMember        = "member"
	memberStatusAdministrator = "administrator"
)

// Classifier maps webhook payloads to canonical events. The zero value uses
// DefaultCommandPrefix.
type Classifier struct {
	CommandPrefix string
}

// NewClassifier returns a Classifier with the given command prefix (empty
// falls back to DefaultCommandPrefix).
func NewClassifier(prefix string) Classifier {
	return Classifier{CommandPrefix: prefix}
}

// Classify is Classifier{}.Classify.
func Classify(botID int64, payload []byte) (Event, error) {
	return Classifier{}.Classify(botID, payload)
}

// Classify produces exactly one Event for payload or an *UnrecognizedEventError.
func (c Classifier) Classify(botID int64, payload []byte) (Event, error) {
	var u rawUpdate
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&u); err != nil {
		return Event{}, unrecognized("malformed json: " + err.Error())
	}

	updateID, _ := idString(u.UpdateID)

	switch {
	case u.Message != nil:
		return c.messageEvent(botID, updateID, KindMessageCreated, u.Message)
	case u.ChannelPost != nil:
		return c.messageEvent(botID, updateID, KindMessageCreated, u.ChannelPost)
	case u.EditedMessage != nil:
		return c.messageEvent(botID, updateID, KindMessageEdited, u.EditedMessage)
	case u.EditedChannelPost != nil:
		return c.messageEvent(botID, updateID, KindMessageEdited, u.EditedChannelPost)
	case u.MyChatMember != nil:
		return memberEvent(botID, updateID, u.MyChatMember)
	}
	return Event{}, unrecognized("no known update field")
}

func (c Classifier) prefix() string {
	if c.CommandPrefix == "" {
		return DefaultCommandPrefix
	}
	return c.CommandPrefix
}

func (c Classifier) messageEvent(botID int64, updateID string, kind Kind, m *rawMessage) (Event, error) {
	if m.Chat == nil {
		return Event{}, unrecognized("message without chat")
	}
	chatID, ok := idString(m.Chat.ID)
	if !ok {
		return Event{}, unrecognized("message chat without id")
	}
	msgID, ok := idString(m.MessageID)
	if !ok {
		return Event{}, unrecognized("message without message_id")
	}
	userID := chatID
	if m.From != nil {
		if id, ok := idString(m.From.ID); ok {
			userID = id
		}
	}

	p := &MessagePayload{ExternalMessageID: msgID}
	if !c.classifyBody(m, p) {
		return Event{}, unrecognized("message carries neither text nor a known attachment")
	}
	if m.Date > 0 {
		p.SentAt = time.Unix(m.Date, 0).UTC()
	}
	if kind == KindMessageEdited {
		ts := m.EditDate
		if ts == 0 {
			ts = m.Date
		}
		if ts > 0 {
			t := time.Unix(ts, 0).UTC()
			p.EditedAt = &t
		}
	}

	return Event{
		Kind:           kind,
		UpdateID:       updateID,
		BotID:          botID,
		ExternalChatID: chatID,
		ExternalUserID: userID,
		ChatType:       chatType(m.Chat.Type),
		Message:        p,
	}, nil
}

// classifyBody fills subtype, type, text and attachment reference.
func (c Classifier) classifyBody(m *rawMessage, p *MessagePayload) bool {
	if s := m.Sticker; s != nil {
		label := s.Emoji
		if label == "" {
			label = s.SetName
		}
		p.Subtype = SubtypeAttachment
		p.Type = domain.MessageTypeSticker
		p.Text = "sticker:" + norm.NFC.String(label)
		p.AttachmentRef = s.FileID
		return true
	}

	if kind, f := m.media(); f != nil {
		label := m.Caption
		if label == "" {
			label = f.FileName
		}
		p.Subtype = SubtypeAttachment
		p.Type = domain.MessageTypeMedia
		p.Text = kind + ":" + norm.NFC.String(label)
		p.AttachmentRef = f.FileID
		return true
	}

	text := norm.NFC.String(m.Text)
	if strings.TrimSpace(text) == "" {
		return false
	}
	p.Text = text
	if strings.HasPrefix(text, c.prefix()) {
		p.Subtype = SubtypeCommand
		p.Type = domain.MessageTypeCommand
	} else {
		p.Subtype = SubtypeConversation
		p.Type = domain.MessageTypeConversation
	}
	return true
}

func memberEvent(botID int64, updateID string, mu *rawMemberUpdate) (Event, error) {
	if mu.Chat == nil || mu.NewChatMember == nil {
		return Event{}, unrecognized("my_chat_member without chat or new_chat_member")
	}
	chatID, ok := idString(mu.Chat.ID)
	if !ok {
		return Event{}, unrecognized("my_chat_member chat without id")
	}
	userID := chatID
	if mu.From != nil {
		if id, ok := idString(mu.From.ID); ok {
			userID = id
		}
	}

	oldStatus := ""
	if mu.OldChatMember != nil {
		oldStatus = mu.OldChatMember.Status
	}

	var kind Kind
	switch newStatus := mu.NewChatMember.Status; {
	case newStatus == memberStatusKicked:
		kind = KindUserBlocked
	case (newStatus == memberStatusMember || newStatus == memberStatusAdministrator) &&
		(oldStatus == memberStatusKicked || oldStatus == memberStatusLeft):
		kind = KindUserUnblocked
	default:
		return Event{}, unrecognized("my_chat_member transition " + oldStatus + "->" + newStatus)
	}

	return Event{
		Kind:           kind,
		UpdateID:       updateID,
		BotID:          botID,
		ExternalChatID: chatID,
		ExternalUserID: userID,
		ChatType:       chatType(mu.Chat.Type),
	}, nil
}

func chatType(s string) domain.ChatType {
	switch strings.ToLower(s) {
	case "group":
		return domain.ChatTypeGroup
	case "supergroup":
		return domain.ChatTypeSupergroup
	case "channel":
		return domain.ChatTypeChannel
	default:
		return domain.ChatTypePrivate
	}
}

// idString renders a JSON id (number or string) as an opaque string.
func idString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n.String(), true
}
