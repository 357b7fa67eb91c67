// Package types holds the JSON shapes the client API returns.
package types

import (
	"time"

	"multichat/attachment"
	"multichat/catalog"
	"multichat/chat"
	"multichat/dispatch"
)

// MessageView is one transcript entry. HTML is set for bot replies only.
type MessageView struct {
	ID         string              `json:"id"`
	Role       string              `json:"role"`
	Text       string              `json:"text"`
	HTML       string              `json:"html,omitempty"`
	ModelLabel string              `json:"model_label,omitempty"`
	Attachment *attachment.Preview `json:"attachment,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// SessionView represents a chat tab with its transcript.
type SessionView struct {
	ID         string        `json:"id"`
	Ordinal    int           `json:"ordinal"`
	Title      string        `json:"title"`
	ModelID    string        `json:"model_id"`
	ModelLabel string        `json:"model_label"`
	Active     bool          `json:"active"`
	Messages   []MessageView `json:"messages"`
}

// AttachmentView describes the pending attachment in the composer.
type AttachmentView struct {
	FileName  string `json:"file_name"`
	MIMEType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Preview   string `json:"preview"`
}

type ComposerView struct {
	Text           string          `json:"text"`
	ModelID        string          `json:"model_id"`
	Attachment     *AttachmentView `json:"attachment,omitempty"`
	CanAttachImage bool            `json:"can_attach_image"`
}

// StateView is everything the page needs to render one workspace.
type StateView struct {
	Sessions  []SessionView             `json:"sessions"`
	ActiveID  string                    `json:"active_id,omitempty"`
	Sending   bool                      `json:"sending"`
	Error     string                    `json:"error,omitempty"`
	CanCreate bool                      `json:"can_create"`
	Composer  ComposerView              `json:"composer"`
	Models    []catalog.ModelDescriptor `json:"models"`
}

// Active returns the active session view, if any.
func (v StateView) Active() (SessionView, bool) {
	for _, s := range v.Sessions {
		if s.Active {
			return s, true
		}
	}
	return SessionView{}, false
}

// RenderFunc converts bot reply text to HTML; id identifies the message.
type RenderFunc func(id, text string) string

// NewStateView builds the view of st. render may be nil.
func NewStateView(st dispatch.State, cat *catalog.Catalog, render RenderFunc) StateView {
	view := StateView{
		Sessions:  make([]SessionView, 0, len(st.Sessions)),
		ActiveID:  st.ActiveID,
		Sending:   st.Sending,
		Error:     st.Error,
		CanCreate: st.CanCreate,
		Models:    cat.Models(),
		Composer: ComposerView{
			Text:    st.Composer.Text,
			ModelID: st.Composer.ModelID,
		},
	}

	for _, s := range st.Sessions {
		sv := SessionView{
			ID:         s.ID,
			Ordinal:    s.Ordinal,
			Title:      s.Title,
			ModelID:    s.ModelID,
			ModelLabel: cat.Label(s.ModelID),
			Active:     s.ID == st.ActiveID,
			Messages:   make([]MessageView, 0, len(s.Messages)),
		}
		for _, m := range s.Messages {
			sv.Messages = append(sv.Messages, newMessageView(m, render))
		}
		if sv.Active {
			view.Composer.CanAttachImage = cat.SupportsImage(s.ModelID)
		}
		view.Sessions = append(view.Sessions, sv)
	}

	if a := st.Composer.Attachment; a != nil {
		view.Composer.Attachment = &AttachmentView{
			FileName:  a.FileName,
			MIMEType:  a.MIMEType,
			SizeBytes: a.SizeBytes,
			Preview:   a.PreviewHandle,
		}
	}
	return view
}

func newMessageView(m chat.Message, render RenderFunc) MessageView {
	meta := m.Meta()
	mv := MessageView{
		ID:        meta.ID,
		Role:      string(m.Role()),
		Text:      m.Body(),
		CreatedAt: meta.AppendedAt,
	}
	switch msg := m.(type) {
	case *chat.UserMessage:
		mv.Attachment = msg.Attachment
	case *chat.BotMessage:
		mv.ModelLabel = msg.ModelLabel
		if render != nil {
			mv.HTML = render(meta.ID, msg.Text)
		}
	}
	return mv
}
