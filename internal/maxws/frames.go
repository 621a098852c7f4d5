// Package maxws implements the client side of the MAX websocket protocol:
// frame codec, the per-account session state machine and the registry of
// live sessions.
package maxws

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Protocol opcodes. The numeric values are fixed by the remote server.
const (
	OpcodePing          = 1   // keepalive
	OpcodeHandshake     = 6   // user-agent descriptor, first frame on every connection
	OpcodeStartAuth     = 17  // start-auth request / short-token response
	OpcodeCheckCode     = 18  // code-check request / full-token response
	OpcodeTokenLogin    = 19  // token login + chat-list sync
	OpcodeFetchMessages = 49  // fetch last N chat messages
	OpcodeReadMessage   = 50  // mark last message read
	OpcodeOutgoingEcho  = 64  // echo of an outgoing message, ignored on receipt
	OpcodeChatSubscribe = 75  // chat subscribe/unsubscribe toggle
	OpcodeNewMessage    = 128 // inbound push: new chat message
)

const (
	protocolVersion = 11

	cmdRequest  = 0
	cmdResponse = 1
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36 Edg/140.0.0.0"
	appVersion      = "25.11.1"
	historyDepth    = 30
	chatSyncCount   = 40
)

// Frame is the wire format of every protocol message, both directions.
type Frame struct {
	Ver     int             `json:"ver"`
	Cmd     int             `json:"cmd"`
	Seq     int             `json:"seq"`
	Opcode  int             `json:"opcode"`
	Payload json.RawMessage `json:"payload"`
}

func newRequest(seq, opcode int, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal opcode %d payload: %w", opcode, err)
	}
	return Frame{
		Ver:     protocolVersion,
		Cmd:     cmdRequest,
		Seq:     seq,
		Opcode:  opcode,
		Payload: raw,
	}, nil
}

type pingPayload struct {
	Interactive bool `json:"interactive"`
}

type userAgentDescriptor struct {
	DeviceType      string `json:"deviceType"`
	Locale          string `json:"locale"`
	DeviceLocale    string `json:"deviceLocale"`
	OSVersion       string `json:"osVersion"`
	DeviceName      string `json:"deviceName"`
	HeaderUserAgent string `json:"headerUserAgent"`
	AppVersion      string `json:"appVersion"`
	Screen          string `json:"screen"`
	Timezone        string `json:"timezone"`
}

type handshakePayload struct {
	UserAgent userAgentDescriptor `json:"userAgent"`
	DeviceID  string              `json:"deviceId"`
}

type startAuthPayload struct {
	Phone    string `json:"phone"`
	Type     string `json:"type"`
	Language string `json:"language"`
}

type checkCodePayload struct {
	Token         string `json:"token"`
	VerifyCode    string `json:"verifyCode"`
	AuthTokenType string `json:"authTokenType"`
}

type tokenLoginPayload struct {
	Interactive  bool   `json:"interactive"`
	Token        string `json:"token"`
	ChatsCount   int    `json:"chatsCount"`
	ChatsSync    int    `json:"chatsSync"`
	ContactsSync int    `json:"contactsSync"`
	PresenceSync int    `json:"presenceSync"`
	DraftsSync   int    `json:"draftsSync"`
}

type subscribePayload struct {
	ChatID    int64 `json:"chatId"`
	Subscribe bool  `json:"subscribe"`
}

type readMessagePayload struct {
	Type      string `json:"type"`
	ChatID    int64  `json:"chatId"`
	MessageID string `json:"messageId"`
	Mark      int64  `json:"mark"`
}

type fetchMessagesPayload struct {
	ChatID      int64 `json:"chatId"`
	From        int64 `json:"from"`
	Forward     int   `json:"forward"`
	Backward    int   `json:"backward"`
	GetMessages bool  `json:"getMessages"`
}

func pingFrame(seq int) (Frame, error) {
	return newRequest(seq, OpcodePing, pingPayload{Interactive: false})
}

// handshakeFrame is the first frame on every connection, carrying a fresh
// deviceId. The caller hands it seq 0 of a fresh counter.
func handshakeFrame(seq int) (Frame, error) {
	return newRequest(seq, OpcodeHandshake, handshakePayload{
		UserAgent: userAgentDescriptor{
			DeviceType:      "WEB",
			Locale:          "ru",
			DeviceLocale:    "ru",
			OSVersion:       "Windows",
			DeviceName:      "Edge",
			HeaderUserAgent: defaultUserAgent,
			AppVersion:      appVersion,
			Screen:          "1080x1920 1.0x",
			Timezone:        "Europe/Moscow",
		},
		DeviceID: uuid.NewString(),
	})
}

func startAuthFrame(seq int, phone string) (Frame, error) {
	return newRequest(seq, OpcodeStartAuth, startAuthPayload{
		Phone:    phone,
		Type:     "START_AUTH",
		Language: "ru",
	})
}

func checkCodeFrame(seq int, token, code string) (Frame, error) {
	return newRequest(seq, OpcodeCheckCode, checkCodePayload{
		Token:         token,
		VerifyCode:    code,
		AuthTokenType: "CHECK_CODE",
	})
}

func tokenLoginFrame(seq int, token string) (Frame, error) {
	return newRequest(seq, OpcodeTokenLogin, tokenLoginPayload{
		Interactive: true,
		Token:       token,
		ChatsCount:  chatSyncCount,
	})
}

func subscribeFrame(seq int, chatID int64, subscribe bool) (Frame, error) {
	return newRequest(seq, OpcodeChatSubscribe, subscribePayload{
		ChatID:    chatID,
		Subscribe: subscribe,
	})
}

func readMessageFrame(seq int, chatID int64, messageID string, mark int64) (Frame, error) {
	return newRequest(seq, OpcodeReadMessage, readMessagePayload{
		Type:      "READ_MESSAGE",
		ChatID:    chatID,
		MessageID: messageID,
		Mark:      mark,
	})
}

func fetchMessagesFrame(seq int, chatID int64, from int64) (Frame, error) {
	return newRequest(seq, OpcodeFetchMessages, fetchMessagesPayload{
		ChatID:      chatID,
		From:        from,
		Backward:    historyDepth,
		GetMessages: true,
	})
}
