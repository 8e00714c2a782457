package chat

import "context"

// Parse modes understood by the transport.
const (
	ParseModeNone = ""
	ParseModeHTML = "HTML"
)

// MessageRef points at a message previously sent by the bot.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

type Button struct {
	Text         string
	CallbackData string
}

// Reply is an outgoing message body.
type Reply struct {
	Text      string
	ParseMode string
	Keyboard  [][]Button
}

// Transport port (outbound messages to the chat platform)
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, r Reply) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, r Reply) error
	AnswerCallback(ctx context.Context, callbackID string) error
}

// Translator port
type Translator interface {
	Lookup(key, lang string) string
}
