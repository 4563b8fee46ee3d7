package tgadapter

import "time"

// Kind classifies the payload of an inbound message.
type Kind string

const (
	KindText     Kind = "text"
	KindVoice    Kind = "voice"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindSticker  Kind = "sticker"
	KindLocation Kind = "location"
	KindContact  Kind = "contact"
	KindPoll     Kind = "poll"
	KindUnknown  Kind = "unknown"
)

// ChatType is the Telegram chat category.
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// User is a normalized Telegram user record. Immutable per event.
type User struct {
	ID           int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
	IsBot        bool
	IsPremium    bool
}

// Chat is a normalized Telegram chat record. Read through the adapter on
// demand; never cached.
type Chat struct {
	ID          int64
	Type        ChatType
	Title       string
	Username    string
	Description string
	InviteLink  string
}

// Entity is one text-entity record attached to a message (bot_command,
// mention, url, …) with rune offsets as Telegram reports them.
type Entity struct {
	Type   string
	Offset int
	Length int
	URL    string
}

// InboundMessage is the uniform event model every adapter variant produces.
//
// ID and ChatID are always present. For a callback event, Text carries the
// callback payload string and Kind is KindText. Instances are created by an
// adapter per received update, never mutated, and discarded after
// orchestration completes.
type InboundMessage struct {
	// ID is the provider message id, stable within the chat.
	ID int

	// ChatID identifies the originating chat.
	ChatID int64

	// User is the sender, when the provider supplied one.
	User *User

	// Text is the message text, or the callback payload for callback events.
	Text string

	// Kind classifies the payload.
	Kind Kind

	// ReplyTo is the id of the message this one replies to, or 0.
	ReplyTo int

	// SentAt and EditedAt are the provider timestamps; zero when unknown.
	SentAt   time.Time
	EditedAt time.Time

	// MediaGroupID groups messages of one media album.
	MediaGroupID string

	// Caption is the media caption for non-text kinds.
	Caption string

	// Entities are the text-entity records, when present.
	Entities []Entity

	// Raw is the provider-specific update object, kept for debugging only.
	Raw any
}

// SendOptions carries the optional parameters of outbound sends.
type SendOptions struct {
	// Caption attaches a caption to media sends.
	Caption string

	// ReplyTo makes the outbound message a reply to the given message id.
	ReplyTo int

	// Duration is the media duration in seconds for voice/audio sends.
	// Zero lets the adapter probe the audio (fallback: 5 seconds).
	Duration int

	// Filename overrides the upload file name for audio/document sends.
	Filename string
}
