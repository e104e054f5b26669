package ingest

import "encoding/json"

// Wire shapes of the platform update document. Only the fields the
// classifier reads are declared; ids stay raw so numeric and string ids are
// both accepted.

type rawUpdate struct {
	UpdateID          json.RawMessage  `json:"update_id"`
	Message           *rawMessage      `json:"message"`
	EditedMessage     *rawMessage      `json:"edited_message"`
	ChannelPost       *rawMessage      `json:"channel_post"`
	EditedChannelPost *rawMessage      `json:"edited_channel_post"`
	MyChatMember      *rawMemberUpdate `json:"my_chat_member"`
}

type rawChat struct {
	ID   json.RawMessage `json:"id"`
	Type string          `json:"type"`
}

type rawUser struct {
	ID json.RawMessage `json:"id"`
}

type rawFile struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type rawSticker struct {
	FileID  string `json:"file_id"`
	Emoji   string `json:"emoji"`
	SetName string `json:"set_name"`
}

type rawMessage struct {
	MessageID json.RawMessage `json:"message_id"`
	From      *rawUser        `json:"from"`
	Chat      *rawChat        `json:"chat"`
	Date      int64           `json:"date"`
	EditDate  int64           `json:"edit_date"`
	Text      string          `json:"text"`
	Caption   string          `json:"caption"`

	Sticker   *rawSticker `json:"sticker"`
	Animation *rawFile    `json:"animation"`
	Photo     []rawFile   `json:"photo"`
	Document  *rawFile    `json:"document"`
	Video     *rawFile    `json:"video"`
	VideoNote *rawFile    `json:"video_note"`
	Voice     *rawFile    `json:"voice"`
	Audio     *rawFile    `json:"audio"`
}

// media returns the attachment kind and file, in platform precedence order
// (an animation message also carries a document).
func (m *rawMessage) media() (string, *rawFile) {
	switch {
	case m.Animation != nil:
		return "animation", m.Animation
	case len(m.Photo) > 0:
		best := &m.Photo[len(m.Photo)-1]
		for i := range m.Photo {
			if m.Photo[i].FileSize > best.FileSize {
				best = &m.Photo[i]
			}
		}
		return "photo", best
	case m.Video != nil:
		return "video", m.Video
	case m.VideoNote != nil:
		return "video_note", m.VideoNote
	case m.Voice != nil:
		return "voice", m.Voice
	case m.Audio != nil:
		return "audio", m.Audio
	case m.Document != nil:
		return "document", m.Document
	}
	return "", nil
}

type rawMember struct {
	Status string   `json:"status"`
	User   *rawUser `json:"user"`
}

type rawMemberUpdate struct {
	Chat          *rawChat   `json:"chat"`
	From          *rawUser   `json:"from"`
	Date          int64      `json:"date"`
	OldChatMember *rawMember `json:"old_chat_member"`
	NewChatMember *rawMember `json:"new_chat_member"`
}
