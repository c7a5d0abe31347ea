package domain

import (
	"net/http"
	"path/filepath"
	"strings"
)

// Attachment is a file the user queued for the next turn.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// NewAttachment builds an attachment, sniffing the MIME type when none is given.
func NewAttachment(name string, data []byte) *Attachment {
	mimeType := ""
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		mimeType = "application/pdf"
	} else {
		mimeType = http.DetectContentType(data)
	}
	return &Attachment{Name: filepath.Base(name), MIMEType: mimeType, Data: data}
}

// IsImage reports whether the attachment is an image.
func (a *Attachment) IsImage() bool {
	return a != nil && strings.HasPrefix(a.MIMEType, "image/")
}

// IsPDF reports whether the attachment is a PDF document.
func (a *Attachment) IsPDF() bool {
	return a != nil && a.MIMEType == "application/pdf"
}

// Session holds transient, in-memory state for one client instance.
// A nil ActiveID means an unsaved new chat.
type Session struct {
	ActiveID      *int64
	ResponseID    *string
	Attachment    *Attachment
	VectorStoreID *string
}

// IsNewChat reports whether no conversation has been saved yet.
func (s Session) IsNewChat() bool {
	return s.ActiveID == nil
}

// Activate points the session at a stored conversation.
func (s *Session) Activate(c *Conversation) {
	id := c.ID
	s.ActiveID = &id
	s.ResponseID = c.ResponseID
	s.VectorStoreID = c.VectorStoreID
	s.Attachment = nil
}

// Reset returns the session to an unsaved new chat.
func (s *Session) Reset() {
	*s = Session{}
}

// ClearAttachment drops the pending attachment.
func (s *Session) ClearAttachment() {
	s.Attachment = nil
}
