package maxws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kosvc/max-bridge/internal/domain"
	"github.com/kosvc/max-bridge/internal/messages"
)

// fakeServer is a minimal MAX endpoint: it records every frame the client
// sends and lets tests push response frames back.
type fakeServer struct {
	srv    *httptest.Server
	conns  chan *websocket.Conn
	frames chan Frame
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		conns:  make(chan *websocket.Conn, 4),
		frames: make(chan Frame, 64),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
		for {
			var frame Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			fs.frames <- frame
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fs.conns:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for connection")
		return nil
	}
}

func (fs *fakeServer) nextFrame(t *testing.T) Frame {
	t.Helper()
	select {
	case frame := <-fs.frames:
		return frame
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for frame")
		return Frame{}
	}
}

func (fs *fakeServer) respond(t *testing.T, conn *websocket.Conn, seq, opcode int, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal response payload: %v", err)
	}
	frame := Frame{Ver: protocolVersion, Cmd: cmdResponse, Seq: seq, Opcode: opcode, Payload: raw}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("Failed to write response frame: %v", err)
	}
}

func newTestClient(fs *fakeServer, token string, events chan messages.Envelope) *Client {
	return NewClient(ClientConfig{
		URL:         fs.url(),
		OwnerID:     10,
		Token:       token,
		MaxRetries:  1,
		AuthCodeTTL: time.Minute,
		Sink: func(envelope messages.Envelope) {
			events <- envelope
		},
		Logger: zerolog.Nop(),
	})
}

func waitEnvelope(t *testing.T, events chan messages.Envelope) messages.Envelope {
	t.Helper()
	select {
	case envelope := <-events:
		return envelope
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for event")
		return messages.Envelope{}
	}
}

func TestClient_FreshConnect(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "", events)

	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	handshake := fs.nextFrame(t)
	if handshake.Opcode != OpcodeHandshake {
		t.Errorf("First frame must be the handshake, got opcode %d", handshake.Opcode)
	}
	if handshake.Seq != 0 {
		t.Errorf("Handshake must consume seq 0, got %d", handshake.Seq)
	}

	if got := client.State(); got != StateAwaitingPhone {
		t.Errorf("Expected state %v, got %v", StateAwaitingPhone, got)
	}
}

func TestClient_ConnectWithStoredToken(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "stored-token", events)

	if err := client.Connect(context.Background(), true); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	handshake := fs.nextFrame(t)
	if handshake.Opcode != OpcodeHandshake || handshake.Seq != 0 {
		t.Errorf("Expected handshake at seq 0, got opcode %d seq %d", handshake.Opcode, handshake.Seq)
	}

	login := fs.nextFrame(t)
	if login.Opcode != OpcodeTokenLogin {
		t.Errorf("Expected token login after handshake, got opcode %d", login.Opcode)
	}
	if login.Seq != 1 {
		t.Errorf("Expected token login at seq 1, got %d", login.Seq)
	}

	var payload tokenLoginPayload
	if err := json.Unmarshal(login.Payload, &payload); err != nil {
		t.Fatalf("Failed to unmarshal login payload: %v", err)
	}
	if payload.Token != "stored-token" {
		t.Errorf("Stored token lost: %q", payload.Token)
	}

	if got := client.State(); got != StateAuthenticated {
		t.Errorf("Expected state %v, got %v", StateAuthenticated, got)
	}
}

func TestClient_ConnectTwice(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "", events)

	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if err := client.Connect(context.Background(), false); !errors.Is(err, domain.ErrAlreadyConnected) {
		t.Errorf("Expected ErrAlreadyConnected, got %v", err)
	}
}

func TestClient_ConnectWithoutToken(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "", events)

	if err := client.Connect(context.Background(), true); !errors.Is(err, domain.ErrMissingToken) {
		t.Errorf("Expected ErrMissingToken, got %v", err)
	}
}

func TestClient_StartAuthInvalidPhone(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "", events)

	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	for _, phone := range []string{"", "81234567890", "+7123", "+7123456789a"} {
		if err := client.StartAuth(phone); !errors.Is(err, domain.ErrInvalidPhone) {
			t.Errorf("StartAuth(%q) expected ErrInvalidPhone, got %v", phone, err)
		}
	}
}

func TestClient_AuthFlow(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "", events)

	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	conn := fs.nextConn(t)
	fs.nextFrame(t) // handshake

	// Phone step
	if err := client.StartAuth("+71234567890"); err != nil {
		t.Fatalf("StartAuth failed: %v", err)
	}
	authReq := fs.nextFrame(t)
	if authReq.Opcode != OpcodeStartAuth {
		t.Fatalf("Expected start-auth frame, got opcode %d", authReq.Opcode)
	}

	fs.respond(t, conn, authReq.Seq, OpcodeStartAuth, map[string]any{"token": "short-token"})

	envelope := waitEnvelope(t, events)
	phoneSent, ok := envelope.Event.(messages.PhoneSent)
	if !ok {
		t.Fatalf("Expected PhoneSent, got %T", envelope.Event)
	}
	if phoneSent.ShortToken != "short-token" {
		t.Errorf("Short token lost: %q", phoneSent.ShortToken)
	}
	if got := client.State(); got != StateAwaitingCode {
		t.Errorf("Expected state %v, got %v", StateAwaitingCode, got)
	}

	// Code step
	if err := client.SubmitCode("short-token", "1234"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	codeReq := fs.nextFrame(t)
	if codeReq.Opcode != OpcodeCheckCode {
		t.Fatalf("Expected code-check frame, got opcode %d", codeReq.Opcode)
	}

	fs.respond(t, conn, codeReq.Seq, OpcodeCheckCode, map[string]any{
		"tokenAttrs": map[string]any{"LOGIN": map[string]any{"token": "full-token"}},
	})

	envelope = waitEnvelope(t, events)
	confirmed, ok := envelope.Event.(messages.SmsConfirmed)
	if !ok {
		t.Fatalf("Expected SmsConfirmed, got %T", envelope.Event)
	}
	if confirmed.FullToken != "full-token" {
		t.Errorf("Full token lost: %q", confirmed.FullToken)
	}
	if got := client.Token(); got != "full-token" {
		t.Errorf("Client must store the full token, got %q", got)
	}

	// Login triggers an immediate chat sync.
	syncReq := fs.nextFrame(t)
	if syncReq.Opcode != OpcodeTokenLogin {
		t.Fatalf("Expected chat sync after login, got opcode %d", syncReq.Opcode)
	}

	fs.respond(t, conn, syncReq.Seq, OpcodeTokenLogin, map[string]any{
		"chats": []map[string]any{
			{"id": 1, "title": "Team", "messagesCount": 5, "lastMessage": map[string]any{"id": "m5"}},
			{"id": 2, "title": "Family", "messagesCount": 9},
			{"id": 0, "title": "skipped"},
		},
	})

	envelope = waitEnvelope(t, events)
	if !envelope.IsBatch() {
		t.Fatal("Chat sync must arrive as a batch envelope")
	}
	if len(envelope.Batch) != 2 {
		t.Fatalf("Expected 2 chats, got %d", len(envelope.Batch))
	}
	first, ok := envelope.Batch[0].(messages.FetchedChat)
	if !ok {
		t.Fatalf("Expected FetchedChat, got %T", envelope.Batch[0])
	}
	if first.ChatID != 1 || first.Title != "Team" || first.LastMessageID != "m5" {
		t.Errorf("Chat fields lost: %+v", first)
	}
}

func TestClient_SubmitCodeStoredShortToken(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "", events)

	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	conn := fs.nextConn(t)
	fs.nextFrame(t) // handshake

	if err := client.StartAuth("+71234567890"); err != nil {
		t.Fatalf("StartAuth failed: %v", err)
	}
	authReq := fs.nextFrame(t)
	fs.respond(t, conn, authReq.Seq, OpcodeStartAuth, map[string]any{"token": "short-token"})
	waitEnvelope(t, events) // PhoneSent

	// The caller omits the short token; the session falls back to the one
	// it kept from the start-auth response.
	if err := client.SubmitCode("", "1234"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	codeReq := fs.nextFrame(t)
	if codeReq.Opcode != OpcodeCheckCode {
		t.Fatalf("Expected code-check frame, got opcode %d", codeReq.Opcode)
	}
	var payload checkCodePayload
	if err := json.Unmarshal(codeReq.Payload, &payload); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	if payload.Token != "short-token" {
		t.Errorf("Expected the stored short token on the wire, got %q", payload.Token)
	}
	if payload.VerifyCode != "1234" {
		t.Errorf("Code lost: %q", payload.VerifyCode)
	}

	if err := client.SubmitCode("", ""); !errors.Is(err, domain.ErrMissingToken) {
		t.Errorf("Expected ErrMissingToken for an empty code, got %v", err)
	}
}

func TestClient_SubmitCodeWrongState(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "", events)

	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if err := client.SubmitCode("token", "1234"); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestClient_AuthCodeExpiry(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := NewClient(ClientConfig{
		URL:         fs.url(),
		OwnerID:     10,
		MaxRetries:  1,
		AuthCodeTTL: 50 * time.Millisecond,
		Sink:        func(envelope messages.Envelope) { events <- envelope },
		Logger:      zerolog.Nop(),
	})

	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	conn := fs.nextConn(t)
	fs.nextFrame(t) // handshake

	if err := client.StartAuth("+71234567890"); err != nil {
		t.Fatalf("StartAuth failed: %v", err)
	}
	authReq := fs.nextFrame(t)
	fs.respond(t, conn, authReq.Seq, OpcodeStartAuth, map[string]any{"token": "short-token"})

	waitEnvelope(t, events) // PhoneSent

	envelope := waitEnvelope(t, events)
	if _, ok := envelope.Event.(messages.Error); !ok {
		t.Fatalf("Expected Error after code window expiry, got %T", envelope.Event)
	}
	if got := client.State(); got != StateAwaitingPhone {
		t.Errorf("Expired session must return to %v, got %v", StateAwaitingPhone, got)
	}
}

func TestClient_ListenToChatSwitch(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "stored-token", events)

	if err := client.Connect(context.Background(), true); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	fs.nextFrame(t) // handshake
	fs.nextFrame(t) // token login

	if err := client.ListenToChat(1); err != nil {
		t.Fatalf("ListenToChat failed: %v", err)
	}
	sub := fs.nextFrame(t)
	var payload subscribePayload
	if err := json.Unmarshal(sub.Payload, &payload); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	if sub.Opcode != OpcodeChatSubscribe || payload.ChatID != 1 || !payload.Subscribe {
		t.Errorf("Expected subscribe to chat 1, got opcode %d payload %+v", sub.Opcode, payload)
	}

	if err := client.ListenToChat(1); !errors.Is(err, domain.ErrAlreadySubscribed) {
		t.Errorf("Expected ErrAlreadySubscribed, got %v", err)
	}

	// Switching chats unsubscribes the old one first.
	if err := client.ListenToChat(2); err != nil {
		t.Fatalf("ListenToChat failed: %v", err)
	}
	unsub := fs.nextFrame(t)
	if err := json.Unmarshal(unsub.Payload, &payload); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	if payload.ChatID != 1 || payload.Subscribe {
		t.Errorf("Expected unsubscribe from chat 1 first, got %+v", payload)
	}
	resub := fs.nextFrame(t)
	if err := json.Unmarshal(resub.Payload, &payload); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	if payload.ChatID != 2 || !payload.Subscribe {
		t.Errorf("Expected subscribe to chat 2 second, got %+v", payload)
	}
	if unsub.Seq >= resub.Seq {
		t.Errorf("Unsubscribe must precede subscribe on the wire: seq %d vs %d", unsub.Seq, resub.Seq)
	}

	if err := client.StopListeningToChat(5); !errors.Is(err, domain.ErrNotSubscribed) {
		t.Errorf("Expected ErrNotSubscribed, got %v", err)
	}
	if err := client.StopListeningToChat(2); err != nil {
		t.Fatalf("StopListeningToChat failed: %v", err)
	}
}

func TestClient_NewMessagePush(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "stored-token", events)

	if err := client.Connect(context.Background(), true); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	conn := fs.nextConn(t)
	fs.nextFrame(t) // handshake
	fs.nextFrame(t) // token login

	fs.respond(t, conn, 0, OpcodeNewMessage, map[string]any{
		"chatId": 42,
		"message": map[string]any{
			"sender": 7,
			"id":     "m1",
			"time":   1700000000000,
			"text":   "hello",
			"attaches": []map[string]any{
				{"_type": "PHOTO", "baseUrl": "https://cdn.example/p.jpg"},
				{"_type": "CONTROL", "baseUrl": "https://cdn.example/ignored"},
				{"_type": "FILE", "baseUrl": "https://cdn.example/f.bin"},
			},
			"link": map[string]any{
				"message": map[string]any{"sender": 8, "id": "m0", "text": "original"},
			},
		},
	})

	envelope := waitEnvelope(t, events)
	if envelope.IsBatch() {
		t.Fatal("Message push must arrive as a single envelope")
	}
	msg, ok := envelope.Event.(messages.ChatMessage)
	if !ok {
		t.Fatalf("Expected ChatMessage, got %T", envelope.Event)
	}
	if msg.ChatID != 42 || msg.SenderID != 7 || msg.MessageID != "m1" || msg.Text != "hello" {
		t.Errorf("Message fields lost: %+v", msg)
	}
	if len(msg.Attachments) != 2 {
		t.Fatalf("Expected 2 media attachments, got %d", len(msg.Attachments))
	}
	if msg.Attachments[0].Kind != messages.AttachmentPhoto || msg.Attachments[1].Kind != messages.AttachmentDoc {
		t.Errorf("Attachment kinds wrong: %+v", msg.Attachments)
	}
	if msg.RepliedMessage == nil || msg.RepliedMessage.Text != "original" {
		t.Errorf("Replied message lost: %+v", msg.RepliedMessage)
	}
}

func TestClient_ErrorPayload(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "", events)

	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	conn := fs.nextConn(t)
	fs.nextFrame(t) // handshake

	fs.respond(t, conn, 1, OpcodeStartAuth, map[string]any{
		"error":            "verify.token",
		"localizedMessage": "Неверный код",
	})

	envelope := waitEnvelope(t, events)
	errEvent, ok := envelope.Event.(messages.Error)
	if !ok {
		t.Fatalf("Expected Error event, got %T", envelope.Event)
	}
	if !strings.Contains(errEvent.Message, "verify.token") {
		t.Errorf("Error message must carry the protocol error, got %q", errEvent.Message)
	}

	// The read loop survives error payloads.
	if !client.IsConnected() {
		t.Error("Client must stay connected after an error payload")
	}
}

func TestClient_ReconnectResetsSequence(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "stored-token", events)

	if err := client.Connect(context.Background(), true); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	conn := fs.nextConn(t)
	fs.nextFrame(t) // handshake
	fs.nextFrame(t) // token login

	if err := client.ListenToChat(1); err != nil {
		t.Fatalf("ListenToChat failed: %v", err)
	}
	fs.nextFrame(t) // subscribe

	// Drop the connection; the client must redial with a fresh counter.
	conn.Close()

	fs.nextConn(t)
	handshake := fs.nextFrame(t)
	if handshake.Opcode != OpcodeHandshake || handshake.Seq != 0 {
		t.Errorf("Reconnect must restart at the handshake with seq 0, got opcode %d seq %d", handshake.Opcode, handshake.Seq)
	}
	login := fs.nextFrame(t)
	if login.Opcode != OpcodeTokenLogin {
		t.Errorf("Reconnect must re-login with the stored token, got opcode %d", login.Opcode)
	}

	// No automatic resubscribe: the next frame, if any, is a ping, never
	// a subscribe toggle.
	select {
	case frame := <-fs.frames:
		if frame.Opcode == OpcodeChatSubscribe {
			t.Error("Client must not resubscribe after reconnect")
		}
	case <-time.After(500 * time.Millisecond):
	}
}

func TestClient_TerminalReconnectFailure(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "stored-token", events)

	if err := client.Connect(context.Background(), true); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	conn := fs.nextConn(t)
	fs.nextFrame(t) // handshake
	fs.nextFrame(t) // token login

	// Take the server away entirely, then drop the connection.
	fs.srv.Close()
	conn.Close()

	envelope := waitEnvelope(t, events)
	if _, ok := envelope.Event.(messages.Error); !ok {
		t.Fatalf("Expected terminal Error event, got %T", envelope.Event)
	}
	if got := client.State(); got != StateClosed {
		t.Errorf("Expected state %v after exhausted retries, got %v", StateClosed, got)
	}
}

func TestClient_DisconnectStopsSession(t *testing.T) {
	fs := newFakeServer(t)
	events := make(chan messages.Envelope, 16)
	client := newTestClient(fs, "", events)

	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	client.Disconnect()

	if client.IsConnected() {
		t.Error("Client must report disconnected")
	}
	if got := client.State(); got != StateDisconnected {
		t.Errorf("Expected state %v, got %v", StateDisconnected, got)
	}
	if err := client.StartAuth("+71234567890"); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}
