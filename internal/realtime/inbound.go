package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
)

const maxContentLen = 10000

// Inbound event names.
const (
	InJoinChat         = "join_chat"
	InSendMessage      = "send_message"
	InTyping           = "typing"
	InMessageDelivered = "message_delivered"
	InMarkRead         = "mark_read"
	InUpdatePresence   = "update_presence"
	InCallUser         = "call_user"
	InCallAnswer       = "call_answer"
	InIceCandidate     = "ice_candidate"
	InEndCall          = "end_call"
)

// Inbound is a decoded client-to-server event. The set of implementations
// is closed; see DecodeInbound.
type Inbound interface {
	Name() string
	Validate() error
}

type JoinChat struct {
	ChatID string `json:"chatId"`
}

type SendMessage struct {
	ChatID   string `json:"chatId"`
	Content  string `json:"content"`
	Type     string `json:"type"`
	FileURL  string `json:"fileUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`
	ReplyTo  string `json:"replyTo,omitempty"`
}

type TypingSignal struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type MessageDelivered struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

type MarkRead struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

type UpdatePresence struct {
	Status store.Presence `json:"status"`
}

// CallSignal covers the four WebRTC relay events. Offer, Answer and
// Candidate are opaque to the server and forwarded as-is.
type CallSignal struct {
	Kind         string          `json:"-"`
	TargetUserID string          `json:"targetUserId"`
	CallType     string          `json:"callType,omitempty"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

func (JoinChat) Name() string         { return InJoinChat }
func (SendMessage) Name() string      { return InSendMessage }
func (TypingSignal) Name() string     { return InTyping }
func (MessageDelivered) Name() string { return InMessageDelivered }
func (MarkRead) Name() string         { return InMarkRead }
func (UpdatePresence) Name() string   { return InUpdatePresence }
func (c CallSignal) Name() string     { return c.Kind }

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return apperr.Invalid(field + " is required")
	}
	return nil
}

func (e JoinChat) Validate() error { return requireID("chatId", e.ChatID) }

var messageTypes = map[string]bool{
	"text": true, "image": true, "video": true, "audio": true, "file": true,
}

func (e *SendMessage) normalize() {
	if e.Type == "" {
		e.Type = "text"
	}
}

func (e SendMessage) Validate() error {
	if err := requireID("chatId", e.ChatID); err != nil {
		return err
	}
	if !messageTypes[e.Type] {
		return apperr.Invalid(fmt.Sprintf("unknown message type %q", e.Type))
	}
	if strings.TrimSpace(e.Content) == "" && e.FileURL == "" {
		return apperr.Invalid("message content is required")
	}
	if utf8.RuneCountInString(e.Content) > maxContentLen {
		return apperr.Invalid("message is too long")
	}
	return nil
}

func (e TypingSignal) Validate() error { return requireID("chatId", e.ChatID) }

func (e MessageDelivered) Validate() error {
	if err := requireID("messageId", e.MessageID); err != nil {
		return err
	}
	return requireID("chatId", e.ChatID)
}

func (e MarkRead) Validate() error {
	if err := requireID("messageId", e.MessageID); err != nil {
		return err
	}
	return requireID("chatId", e.ChatID)
}

func (e UpdatePresence) Validate() error {
	if !e.Status.Valid() {
		return apperr.Invalid(fmt.Sprintf("invalid presence status %q", e.Status))
	}
	return nil
}

func (c CallSignal) Validate() error {
	if err := requireID("targetUserId", c.TargetUserID); err != nil {
		return err
	}
	switch c.Kind {
	case InCallUser:
		if len(c.Offer) == 0 {
			return apperr.Invalid("offer is required")
		}
	case InCallAnswer:
		if len(c.Answer) == 0 {
			return apperr.Invalid("answer is required")
		}
	case InIceCandidate:
		if len(c.Candidate) == 0 {
			return apperr.Invalid("candidate is required")
		}
	}
	return nil
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeInbound parses a {"event": ..., "data": ...} frame into its typed
// variant and validates it. Unknown event names are rejected.
func DecodeInbound(frame []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "malformed frame", err)
	}

	var evt Inbound
	switch env.Event {
	case InJoinChat:
		evt = &JoinChat{}
	case InSendMessage:
		evt = &SendMessage{}
	case InTyping:
		evt = &TypingSignal{}
	case InMessageDelivered:
		evt = &MessageDelivered{}
	case InMarkRead:
		evt = &MarkRead{}
	case InUpdatePresence:
		evt = &UpdatePresence{}
	case InCallUser, InCallAnswer, InIceCandidate, InEndCall:
		evt = &CallSignal{}
	case "":
		return nil, apperr.Invalid("event name is required")
	default:
		return nil, apperr.Invalid(fmt.Sprintf("unknown event %q", env.Event))
	}

	if err := decodeData(env.Data, evt); err != nil {
		return nil, err
	}
	if m, ok := evt.(*SendMessage); ok {
		m.normalize()
	}
	if c, ok := evt.(*CallSignal); ok {
		c.Kind = env.Event
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return evt, nil
}

func decodeData(data json.RawMessage, into any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return apperr.Invalid("event payload is required")
	}
	if err := json.Unmarshal(data, into); err != nil {
		return apperr.Wrap(apperr.Validation, "malformed payload", err)
	}
	return nil
}
