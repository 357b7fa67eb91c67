package chat

import (
	"time"

	"multichat/attachment"
)

// Role tags a Message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Message is one transcript entry: a *UserMessage or a *BotMessage.
type Message interface {
	Role() Role
	Body() string
	Meta() MessageMeta
	withMeta(MessageMeta) Message
}

// MessageMeta is assigned by the store when a message is appended.
type MessageMeta struct {
	ID         string
	AppendedAt time.Time
}

// UserMessage is authored by the person at the keyboard.
type UserMessage struct {
	MessageMeta
	Text       string
	Attachment *attachment.Preview
}

// BotMessage is a backend reply. ModelLabel is captured when the reply is
// routed and never looked up again.
type BotMessage struct {
	MessageMeta
	Text       string
	ModelLabel string
}

func (m *UserMessage) Role() Role        { return RoleUser }
func (m *UserMessage) Body() string      { return m.Text }
func (m *UserMessage) Meta() MessageMeta { return m.MessageMeta }

func (m *UserMessage) withMeta(meta MessageMeta) Message {
	cp := *m
	cp.MessageMeta = meta
	if m.Attachment != nil {
		preview := *m.Attachment
		cp.Attachment = &preview
	}
	return &cp
}

func (m *BotMessage) Role() Role        { return RoleBot }
func (m *BotMessage) Body() string      { return m.Text }
func (m *BotMessage) Meta() MessageMeta { return m.MessageMeta }

func (m *BotMessage) withMeta(meta MessageMeta) Message {
	cp := *m
	cp.MessageMeta = meta
	return &cp
}
