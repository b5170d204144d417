package messenger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ObjectPage is the only top-level object type this webhook accepts.
const ObjectPage = "page"

var (
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrMalformedPayload  = errors.New("malformed webhook payload")
	ErrUnsupportedObject = errors.New("unsupported webhook object")
)

// Batch is one webhook delivery.
type Batch struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the messaging events of one page.
type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
}

// Messaging is a raw messaging event. Delivery and read receipts carry no Message.
type Messaging struct {
	Sender    *Participant `json:"sender,omitempty"`
	Recipient *Participant `json:"recipient,omitempty"`
	Timestamp int64        `json:"timestamp"`
	Message   *Message     `json:"message,omitempty"`
}

type Participant struct {
	ID string `json:"id"`
}

type Message struct {
	MID         string              `json:"mid,omitempty"`
	Text        string              `json:"text,omitempty"`
	IsEcho      bool                `json:"is_echo,omitempty"`
	Attachments []MessageAttachment `json:"attachments,omitempty"`
}

type MessageAttachment struct {
	Type    string            `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

type AttachmentPayload struct {
	URL string `json:"url,omitempty"`
}

// Attachment is an image reference carried by an Event.
type Attachment struct {
	URL string
}

// Event is a messaging event normalized for dispatch.
type Event struct {
	PageID    string
	SenderID  string
	MessageID string
	Text      string
	Images    []Attachment
}

// HasImages reports whether the event carries at least one image reference.
func (e Event) HasImages() bool {
	return len(e.Images) > 0
}

// ParseBatch decodes a webhook body and checks the top-level object type.
func ParseBatch(body []byte) (Batch, error) {
	var batch Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if batch.Object != ObjectPage {
		return batch, fmt.Errorf("%w: %q", ErrUnsupportedObject, batch.Object)
	}
	return batch, nil
}

// SenderID returns the sender id or "" when absent.
func (m Messaging) SenderID() string {
	if m.Sender == nil {
		return ""
	}
	return strings.TrimSpace(m.Sender.ID)
}

// MessageID returns message.mid or "" when absent.
func (m Messaging) MessageID() string {
	if m.Message == nil {
		return ""
	}
	return strings.TrimSpace(m.Message.MID)
}

// ToEvent normalizes m. Only image attachments with a URL are kept, in order.
func (m Messaging) ToEvent(pageID string) Event {
	evt := Event{
		PageID:    pageID,
		SenderID:  m.SenderID(),
		MessageID: m.MessageID(),
	}
	if m.Message == nil {
		return evt
	}
	evt.Text = m.Message.Text
	for _, att := range m.Message.Attachments {
		if att.Type != "image" {
			continue
		}
		url := strings.TrimSpace(att.Payload.URL)
		if url == "" {
			continue
		}
		evt.Images = append(evt.Images, Attachment{URL: url})
	}
	return evt
}
