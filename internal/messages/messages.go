// Package messages defines the event DTOs that cross the bridge between
// the bot side and the MAX protocol side. Every event carries the owning
// Telegram user and a string type tag used for dispatch.
package messages

import (
	"encoding/json"
	"fmt"
)

// Event type tags
const (
	TypeStartAuth        = "start_auth"
	TypePhoneSent        = "phone_sent"
	TypeVerifyCode       = "verify_code"
	TypeSmsConfirmed     = "sms_confirmed"
	TypeFetchedChat      = "fetched_chat"
	TypeChatMessage      = "new_chat_message"
	TypeSubscribeGroup   = "subscribe_group"
	TypeUnsubscribeGroup = "unsubscribe_group"
	TypeSelectChat       = "select_chat"
	TypeFetchHistory     = "fetch_history"
	TypeError            = "error"
)

// Attachment kinds
const (
	AttachmentPhoto = "photo"
	AttachmentDoc   = "doc"
	AttachmentVideo = "video"
)

// Event is one tagged item crossing the bridge.
type Event interface {
	// EventType returns the string tag of the event
	EventType() string

	// Owner returns the Telegram user the event belongs to
	Owner() int64
}

// StartAuth asks the protocol side to begin the phone step for an owner
type StartAuth struct {
	Type    string `json:"type"`
	OwnerID int64  `json:"owner_id"`
	Phone   string `json:"phone"`
}

// PhoneSent reports that the phone was accepted and carries the short token
type PhoneSent struct {
	Type       string `json:"type"`
	OwnerID    int64  `json:"owner_id"`
	ShortToken string `json:"short_token"`
}

// VerifyCode asks the protocol side to exchange the short token and SMS code
type VerifyCode struct {
	Type    string `json:"type"`
	OwnerID int64  `json:"owner_id"`
	Token   string `json:"token"`
	Code    string `json:"code"`
}

// SmsConfirmed reports a completed login and carries the full token
type SmsConfirmed struct {
	Type      string `json:"type"`
	OwnerID   int64  `json:"owner_id"`
	FullToken string `json:"full_token"`
}

// FetchedChat is one chat summary from a chat sync. Chat sync results are
// always delivered as a batch envelope, never as scalar items.
type FetchedChat struct {
	Type          string `json:"type"`
	OwnerID       int64  `json:"owner_id"`
	ChatID        int64  `json:"chat_id"`
	Title         string `json:"title"`
	MessagesCount int64  `json:"messages_count"`
	LastMessageID string `json:"last_message_id"`
}

// Attachment is a piece of media attached to a chat message
type Attachment struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// ChatMessage is a message observed in a subscribed MAX chat
type ChatMessage struct {
	Type           string       `json:"type"`
	OwnerID        int64        `json:"owner_id"`
	SenderID       int64        `json:"sender_id"`
	ChatID         int64        `json:"chat_id"`
	MessageID      string       `json:"message_id"`
	Timestamp      int64        `json:"timestamp"`
	Text           string       `json:"text,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	RepliedMessage *ChatMessage `json:"replied_message,omitempty"`
}

// SubscribeGroup registers a Telegram group for chat mirroring
type SubscribeGroup struct {
	Type       string `json:"type"`
	OwnerID    int64  `json:"owner_id"`
	GroupID    int64  `json:"group_id"`
	GroupTitle string `json:"group_title"`
}

// UnsubscribeGroup unlinks a Telegram group
type UnsubscribeGroup struct {
	Type       string `json:"type"`
	OwnerID    int64  `json:"owner_id"`
	GroupID    int64  `json:"group_id"`
	GroupTitle string `json:"group_title"`
}

// SelectChat links a group to a MAX chat and subscribes the session to it
type SelectChat struct {
	Type    string `json:"type"`
	OwnerID int64  `json:"owner_id"`
	GroupID int64  `json:"group_id"`
	ChatID  int64  `json:"chat_id"`
}

// FetchHistory asks the protocol side for the last messages of a chat
type FetchHistory struct {
	Type    string `json:"type"`
	OwnerID int64  `json:"owner_id"`
	ChatID  int64  `json:"chat_id"`
}

// Error is a failure scoped to one owner, rendered to the user by the bot side
type Error struct {
	Type    string `json:"type"`
	OwnerID int64  `json:"owner_id"`
	Message string `json:"message"`
}

func (e StartAuth) EventType() string        { return e.Type }
func (e PhoneSent) EventType() string        { return e.Type }
func (e VerifyCode) EventType() string       { return e.Type }
func (e SmsConfirmed) EventType() string     { return e.Type }
func (e FetchedChat) EventType() string      { return e.Type }
func (e ChatMessage) EventType() string      { return e.Type }
func (e SubscribeGroup) EventType() string   { return e.Type }
func (e UnsubscribeGroup) EventType() string { return e.Type }
func (e SelectChat) EventType() string       { return e.Type }
func (e FetchHistory) EventType() string     { return e.Type }
func (e Error) EventType() string            { return e.Type }

func (e StartAuth) Owner() int64        { return e.OwnerID }
func (e PhoneSent) Owner() int64        { return e.OwnerID }
func (e VerifyCode) Owner() int64       { return e.OwnerID }
func (e SmsConfirmed) Owner() int64     { return e.OwnerID }
func (e FetchedChat) Owner() int64      { return e.OwnerID }
func (e ChatMessage) Owner() int64      { return e.OwnerID }
func (e SubscribeGroup) Owner() int64   { return e.OwnerID }
func (e UnsubscribeGroup) Owner() int64 { return e.OwnerID }
func (e SelectChat) Owner() int64       { return e.OwnerID }
func (e FetchHistory) Owner() int64     { return e.OwnerID }
func (e Error) Owner() int64            { return e.OwnerID }

// NewStartAuth creates a StartAuth event
func NewStartAuth(ownerID int64, phone string) StartAuth {
	return StartAuth{Type: TypeStartAuth, OwnerID: ownerID, Phone: phone}
}

// NewPhoneSent creates a PhoneSent event
func NewPhoneSent(ownerID int64, shortToken string) PhoneSent {
	return PhoneSent{Type: TypePhoneSent, OwnerID: ownerID, ShortToken: shortToken}
}

// NewVerifyCode creates a VerifyCode event
func NewVerifyCode(ownerID int64, token, code string) VerifyCode {
	return VerifyCode{Type: TypeVerifyCode, OwnerID: ownerID, Token: token, Code: code}
}

// NewSmsConfirmed creates an SmsConfirmed event
func NewSmsConfirmed(ownerID int64, fullToken string) SmsConfirmed {
	return SmsConfirmed{Type: TypeSmsConfirmed, OwnerID: ownerID, FullToken: fullToken}
}

// NewFetchedChat creates a FetchedChat event
func NewFetchedChat(ownerID, chatID int64, title string, messagesCount int64, lastMessageID string) FetchedChat {
	return FetchedChat{
		Type:          TypeFetchedChat,
		OwnerID:       ownerID,
		ChatID:        chatID,
		Title:         title,
		MessagesCount: messagesCount,
		LastMessageID: lastMessageID,
	}
}

// NewSubscribeGroup creates a SubscribeGroup event
func NewSubscribeGroup(ownerID, groupID int64, groupTitle string) SubscribeGroup {
	return SubscribeGroup{Type: TypeSubscribeGroup, OwnerID: ownerID, GroupID: groupID, GroupTitle: groupTitle}
}

// NewUnsubscribeGroup creates an UnsubscribeGroup event
func NewUnsubscribeGroup(ownerID, groupID int64, groupTitle string) UnsubscribeGroup {
	return UnsubscribeGroup{Type: TypeUnsubscribeGroup, OwnerID: ownerID, GroupID: groupID, GroupTitle: groupTitle}
}

// NewSelectChat creates a SelectChat event
func NewSelectChat(ownerID, groupID, chatID int64) SelectChat {
	return SelectChat{Type: TypeSelectChat, OwnerID: ownerID, GroupID: groupID, ChatID: chatID}
}

// NewFetchHistory creates a FetchHistory event
func NewFetchHistory(ownerID, chatID int64) FetchHistory {
	return FetchHistory{Type: TypeFetchHistory, OwnerID: ownerID, ChatID: chatID}
}

// NewError creates an Error event
func NewError(ownerID int64, message string) Error {
	return Error{Type: TypeError, OwnerID: ownerID, Message: message}
}

// Envelope wraps either a single event or a batch of events. Consumers
// branch on the shape explicitly instead of probing the payload type.
// Chat sync results are the one batch producer today.
type Envelope struct {
	Event Event
	Batch []Event
}

// Single wraps one event into an envelope
func Single(e Event) Envelope {
	return Envelope{Event: e}
}

// Batch wraps a list of events into one envelope
func Batch(events []Event) Envelope {
	return Envelope{Batch: events}
}

// IsBatch reports whether the envelope carries a batch
func (e Envelope) IsBatch() bool {
	return e.Batch != nil
}

// Decode parses a JSON-encoded event by its type tag.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event header: %w", err)
	}

	switch head.Type {
	case TypeStartAuth:
		var e StartAuth
		if err := decodeInto(data, head.Type, &e); err != nil {
			return nil, err
		}
		return e, nil
	case TypePhoneSent:
		var e PhoneSent
		if err := decodeInto(data, head.Type, &e); err != nil {
			return nil, err
		}
		return e, nil
	case TypeVerifyCode:
		var e VerifyCode
		if err := decodeInto(data, head.Type, &e); err != nil {
			return nil, err
		}
		return e, nil
	case TypeSmsConfirmed:
		var e SmsConfirmed
		if err := decodeInto(data, head.Type, &e); err != nil {
			return nil, err
		}
		return e, nil
	case TypeFetchedChat:
		var e FetchedChat
		if err := decodeInto(data, head.Type, &e); err != nil {
			return nil, err
		}
		return e, nil
	case TypeChatMessage:
		var e ChatMessage
		if err := decodeInto(data, head.Type, &e); err != nil {
			return nil, err
		}
		return e, nil
	case TypeSubscribeGroup:
		var e SubscribeGroup
		if err := decodeInto(data, head.Type, &e); err != nil {
			return nil, err
		}
		return e, nil
	case TypeUnsubscribeGroup:
		var e UnsubscribeGroup
		if err := decodeInto(data, head.Type, &e); err != nil {
			return nil, err
		}
		return e, nil
	case TypeSelectChat:
		var e SelectChat
		if err := decodeInto(data, head.Type, &e); err != nil {
			return nil, err
		}
		return e, nil
	case TypeFetchHistory:
		var e FetchHistory
		if err := decodeInto(data, head.Type, &e); err != nil {
			return nil, err
		}
		return e, nil
	case TypeError:
		var e Error
		if err := decodeInto(data, head.Type, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
}

func decodeInto(data []byte, tag string, target any) error {
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s event: %w", tag, err)
	}
	return nil
}
