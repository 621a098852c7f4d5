package maxws

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/kosvc/max-bridge/internal/domain"
	"github.com/kosvc/max-bridge/internal/messages"
)

type errorPayload struct {
	Error            string `json:"error"`
	LocalizedMessage string `json:"localizedMessage"`
	Message          string `json:"message"`
}

type startAuthResponse struct {
	Token      string `json:"token"`
	CodeLength int    `json:"codeLength"`
}

type checkCodeResponse struct {
	TokenAttrs struct {
		Login struct {
			Token string `json:"token"`
		} `json:"LOGIN"`
	} `json:"tokenAttrs"`
}

type chatEntry struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	MessagesCount int64  `json:"messagesCount"`
	LastMessage   *struct {
		ID string `json:"id"`
	} `json:"lastMessage"`
}

type chatListResponse struct {
	Chats []chatEntry `json:"chats"`
}

type wireAttach struct {
	Type    string `json:"_type"`
	BaseURL string `json:"baseUrl"`
}

type wireMessage struct {
	Sender   int64        `json:"sender"`
	ID       string       `json:"id"`
	Time     int64        `json:"time"`
	Text     string       `json:"text"`
	Attaches []wireAttach `json:"attaches"`
	Link     *struct {
		Message wireMessage `json:"message"`
	} `json:"link"`
}

type historyResponse struct {
	Messages []wireMessage `json:"messages"`
}

type newMessagePayload struct {
	ChatID  int64       `json:"chatId"`
	Message wireMessage `json:"message"`
}

// handleFrame routes one decoded frame by opcode. Error payloads become
// owner-scoped Error events; a single bad frame never ends the session.
func (c *Client) handleFrame(frame Frame) {
	if ep := decodeErrorPayload(frame.Payload); ep != nil {
		c.metrics.ObserveProtocolError()
		c.logger.Warn().
			Int("opcode", frame.Opcode).
			Str("error", ep.Error).
			Msg("Server returned error payload")
		c.emit(messages.Single(messages.NewError(c.ownerID, formatProtocolError(ep))))
		return
	}

	switch frame.Opcode {
	case OpcodePing:
		// server keepalive, nothing to do
	case OpcodeHandshake:
		c.logger.Debug().Msg("Handshake acknowledged")
	case OpcodeStartAuth:
		c.handleStartAuthResponse(frame.Payload)
	case OpcodeCheckCode:
		c.handleCheckCodeResponse(frame.Payload)
	case OpcodeTokenLogin:
		c.handleChatList(frame.Payload)
	case OpcodeFetchMessages:
		c.handleHistory(frame.Payload)
	case OpcodeReadMessage:
		// read-mark acknowledgement, nothing to do
	case OpcodeOutgoingEcho:
		// echo of our own outgoing message, nothing to do
	case OpcodeChatSubscribe:
		c.logger.Debug().Msg("Subscription acknowledged")
	case OpcodeNewMessage:
		c.handleNewMessage(frame.Payload)
	default:
		c.logger.Warn().Int("opcode", frame.Opcode).Msg("Unknown opcode, frame dropped")
	}
}

// handleStartAuthResponse carries the short-lived token. The session moves
// to AwaitingCode and the auth window timer is armed.
func (c *Client) handleStartAuthResponse(payload json.RawMessage) {
	var resp startAuthResponse
	if err := json.Unmarshal(payload, &resp); err != nil || resp.Token == "" {
		c.logger.Error().Err(err).Msg("Start-auth response without token")
		c.metrics.ObserveAuthFailed()
		c.emit(messages.Single(messages.NewError(c.ownerID, "authentication failed: no token received")))
		return
	}

	c.mu.Lock()
	c.state = StateAwaitingCode
	c.shortToken = resp.Token
	c.armAuthTimerLocked()
	c.mu.Unlock()

	c.logger.Info().Msg("Phone accepted, waiting for SMS code")
	c.emit(messages.Single(messages.NewPhoneSent(c.ownerID, resp.Token)))
}

// handleCheckCodeResponse carries the full login token. The session
// becomes Authenticated and immediately syncs the chat list.
func (c *Client) handleCheckCodeResponse(payload json.RawMessage) {
	var resp checkCodeResponse
	if err := json.Unmarshal(payload, &resp); err != nil || resp.TokenAttrs.Login.Token == "" {
		c.logger.Error().Err(err).Msg("Code-check response without token")
		c.metrics.ObserveAuthFailed()
		c.emit(messages.Single(messages.NewError(c.ownerID, "code verification failed")))
		return
	}
	token := resp.TokenAttrs.Login.Token

	c.mu.Lock()
	c.token = token
	c.shortToken = ""
	c.state = StateAuthenticated
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	c.mu.Unlock()

	c.logger.Info().Msg("Login confirmed, full token received")
	c.emit(messages.Single(messages.NewSmsConfirmed(c.ownerID, token)))

	if err := c.RequestChatSync(); err != nil {
		c.logger.Error().Err(err).Msg("Chat sync after login failed")
	}
}

// handleChatList converts the opcode-19 response into one batch of
// FetchedChat events. Entries without an id or title are skipped.
func (c *Client) handleChatList(payload json.RawMessage) {
	var resp chatListResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.logger.Error().Err(err).Msg("Malformed chat list payload")
		return
	}

	batch := make([]messages.Event, 0, len(resp.Chats))
	for _, chat := range resp.Chats {
		if chat.ID == 0 || chat.Title == "" {
			continue
		}
		lastMessageID := ""
		if chat.LastMessage != nil {
			lastMessageID = chat.LastMessage.ID
		}
		batch = append(batch, messages.NewFetchedChat(c.ownerID, chat.ID, chat.Title, chat.MessagesCount, lastMessageID))
	}
	if len(batch) == 0 {
		return
	}

	c.logger.Info().Int("chats", len(batch)).Msg("Chat list synced")
	c.emit(messages.Batch(batch))
}

// handleHistory converts an opcode-49 response into one batch of
// ChatMessage events.
func (c *Client) handleHistory(payload json.RawMessage) {
	var resp historyResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.logger.Error().Err(err).Msg("Malformed history payload")
		return
	}

	batch := make([]messages.Event, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		batch = append(batch, c.convertMessage(0, msg))
	}
	if len(batch) == 0 {
		return
	}

	c.logger.Debug().Int("messages", len(batch)).Msg("Chat history received")
	c.emit(messages.Batch(batch))
}

// handleNewMessage converts an opcode-128 push into a single ChatMessage
// event, including attachments and the replied-to message if present.
func (c *Client) handleNewMessage(payload json.RawMessage) {
	var push newMessagePayload
	if err := json.Unmarshal(payload, &push); err != nil {
		c.logger.Error().Err(err).Msg("Malformed message push payload")
		return
	}

	c.logger.Debug().Int64("chat_id", push.ChatID).Msg("New chat message")
	c.emit(messages.Single(c.convertMessage(push.ChatID, push.Message)))
}

// convertMessage maps a wire message to the bridge DTO
func (c *Client) convertMessage(chatID int64, msg wireMessage) messages.ChatMessage {
	out := messages.ChatMessage{
		Type:        messages.TypeChatMessage,
		OwnerID:     c.ownerID,
		SenderID:    msg.Sender,
		ChatID:      chatID,
		MessageID:   msg.ID,
		Timestamp:   msg.Time,
		Text:        msg.Text,
		Attachments: convertAttaches(msg.Attaches),
	}

	if msg.Link != nil {
		replied := c.convertMessage(chatID, msg.Link.Message)
		out.RepliedMessage = &replied
	}
	return out
}

// convertAttaches keeps the media attachment kinds the bridge understands.
// Control attaches (join/leave chat events) are dropped.
func convertAttaches(attaches []wireAttach) []messages.Attachment {
	var out []messages.Attachment
	for _, attach := range attaches {
		var kind string
		switch attach.Type {
		case "PHOTO":
			kind = messages.AttachmentPhoto
		case "FILE":
			kind = messages.AttachmentDoc
		case "VIDEO":
			kind = messages.AttachmentVideo
		default:
			continue
		}
		if attach.BaseURL == "" {
			continue
		}
		out = append(out, messages.Attachment{URL: attach.BaseURL, Kind: kind})
	}
	return out
}

// armAuthTimerLocked starts the auth window countdown. If the code is not
// submitted in time the session drops back to AwaitingPhone.
func (c *Client) armAuthTimerLocked() {
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	c.authTimer = time.AfterFunc(c.authCodeTTL, func() {
		c.mu.Lock()
		expired := c.state == StateAwaitingCode
		if expired {
			c.state = StateAwaitingPhone
			c.shortToken = ""
			c.authTimer = nil
		}
		c.mu.Unlock()

		if expired {
			c.logger.Warn().Err(domain.ErrAuthExpired).Dur("ttl", c.authCodeTTL).Msg("Auth code window expired")
			c.emit(messages.Single(messages.NewError(c.ownerID, "verification code expired, start over with your phone number")))
		}
	})
}

func decodeErrorPayload(payload json.RawMessage) *errorPayload {
	if len(payload) == 0 {
		return nil
	}
	var ep errorPayload
	if err := json.Unmarshal(payload, &ep); err != nil {
		return nil
	}
	if ep.Error == "" {
		return nil
	}
	return &ep
}

func formatProtocolError(ep *errorPayload) string {
	parts := []string{ep.Error}
	if ep.LocalizedMessage != "" {
		parts = append(parts, ep.LocalizedMessage)
	}
	if ep.Message != "" {
		parts = append(parts, ep.Message)
	}
	return strings.Join(parts, ": ")
}
