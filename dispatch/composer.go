package dispatch

import "multichat/attachment"

// Composer is the input area of one client: the text being typed, the pending
// attachment and the model picked for the next new chat.
type Composer struct {
	Text       string
	Attachment *attachment.Attachment
	ModelID    string
}

// ComposerState is the read-only view of a Composer.
type ComposerState struct {
	Text       string
	ModelID    string
	Attachment *PendingAttachment
}

// PendingAttachment describes the pending attachment without its payload.
type PendingAttachment struct {
	FileName      string
	MIMEType      string
	SizeBytes     int64
	PreviewHandle string
}

func (c *Composer) state() ComposerState {
	st := ComposerState{Text: c.Text, ModelID: c.ModelID}
	if a := c.Attachment; a != nil {
		st.Attachment = &PendingAttachment{
			FileName:      a.FileName,
			MIMEType:      a.MIMEType,
			SizeBytes:     a.SizeBytes,
			PreviewHandle: a.PreviewHandle,
		}
	}
	return st
}
