package maxws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kosvc/max-bridge/internal/domain"
	"github.com/kosvc/max-bridge/internal/infrastructure/metrics"
	"github.com/kosvc/max-bridge/internal/messages"
	"github.com/kosvc/max-bridge/internal/utils"
)

// State is the authentication stage of a session
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateAwaitingPhone
	StateAwaitingCode
	StateAuthenticated
	StateReconnecting
	StateClosed
)

// String returns the state name for logging
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateAwaitingPhone:
		return "awaiting_phone"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	pingInterval      = 30 * time.Second
	keepaliveInterval = 60 * time.Second

	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second

	defaultMaxRetries  = 5
	defaultAuthCodeTTL = 5 * time.Minute

	dialTimeout = 15 * time.Second
)

// EventSink receives envelopes produced by a session. The bridge's inbound
// queue is the production sink; it may block to apply backpressure.
type EventSink func(messages.Envelope)

// ClientConfig holds construction parameters for a Client
type ClientConfig struct {
	URL     string
	Origin  string
	OwnerID int64
	Token   string // full login token, empty for a fresh auth flow

	MaxRetries  int           // reconnect attempts before giving up
	AuthCodeTTL time.Duration // how long to wait for the SMS code

	Sink    EventSink
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Client is one MAX websocket session. All exported methods are safe for
// concurrent use; a single mutex serializes connection state, the sequence
// counter and socket writes.
type Client struct {
	url     string
	origin  string
	ownerID int64

	maxRetries  int
	authCodeTTL time.Duration

	sink    EventSink
	logger  zerolog.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	mu            sync.Mutex
	conn          *websocket.Conn
	seq           int
	state         State
	token         string
	shortToken    string // from the start-auth response, cleared after login
	listeningChat int64  // 0 = no chat subscribed
	authTimer     *time.Timer

	// parentCtx outlives a single connection; reconnects derive from it
	parentCtx context.Context

	// connCancel stops the read and ping loops of the current connection
	connCancel context.CancelFunc
	// keepaliveCancel stops the chat keepalive loop, nil while no chat is subscribed
	keepaliveCancel context.CancelFunc
	// stopReconnect blocks the reconnect loop after an explicit Disconnect
	stopReconnect bool
}

// NewClient creates a session for one owner. It does not connect.
func NewClient(cfg ClientConfig) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	authTTL := cfg.AuthCodeTTL
	if authTTL <= 0 {
		authTTL = defaultAuthCodeTTL
	}
	sink := cfg.Sink
	if sink == nil {
		sink = func(messages.Envelope) {}
	}

	return &Client{
		url:         cfg.URL,
		origin:      cfg.Origin,
		ownerID:     cfg.OwnerID,
		token:       cfg.Token,
		maxRetries:  maxRetries,
		authCodeTTL: authTTL,
		sink:        sink,
		logger:      cfg.Logger.With().Str("component", "max_client").Int64("owner_id", cfg.OwnerID).Logger(),
		metrics:     cfg.Metrics,
		limiter:     rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
		state:       StateDisconnected,
	}
}

// OwnerID returns the Telegram user that owns this session
func (c *Client) OwnerID() int64 {
	return c.ownerID
}

// Token returns the current full login token, empty if not authenticated
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// State returns the current auth stage
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the websocket is open
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect opens the websocket and performs the handshake. With
// useStoredToken the stored token is sent immediately and the session goes
// straight to Authenticated; otherwise it waits in AwaitingPhone for
// StartAuth. Calling Connect on a live connection fails with
// ErrAlreadyConnected.
func (c *Client) Connect(ctx context.Context, useStoredToken bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parentCtx = ctx
	c.stopReconnect = false
	return c.connectLocked(ctx, useStoredToken)
}

func (c *Client) connectLocked(ctx context.Context, useStoredToken bool) error {
	if c.conn != nil {
		return domain.ErrAlreadyConnected
	}
	if useStoredToken && c.token == "" {
		return domain.ErrMissingToken
	}

	c.state = StateHandshaking

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{}
	if c.origin != "" {
		header.Set("Origin", c.origin)
	}

	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.state = StateDisconnected
		return err
	}

	c.conn = conn
	c.seq = 0

	// Fresh counter: the handshake consumes seq 0.
	if err := c.writeFrameLocked(handshakeFrame(c.nextSeqLocked())); err != nil {
		c.teardownLocked(StateDisconnected)
		return err
	}

	if useStoredToken {
		if err := c.writeFrameLocked(tokenLoginFrame(c.nextSeqLocked(), c.token)); err != nil {
			c.teardownLocked(StateDisconnected)
			return err
		}
		c.state = StateAuthenticated
	} else {
		c.state = StateAwaitingPhone
	}

	connCtx, cancel := context.WithCancel(ctx)
	c.connCancel = cancel

	go c.readLoop(connCtx, conn)
	go c.pingLoop(connCtx)

	c.logger.Info().Bool("with_token", useStoredToken).Msg("Connected to MAX websocket")
	return nil
}

// Disconnect closes the socket and stops the read, ping and keepalive
// loops together. It is safe to call on a closed session.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopReconnect = true
	c.teardownLocked(StateDisconnected)
	c.logger.Info().Msg("Disconnected from MAX websocket")
}

// teardownLocked closes the connection and cancels every background loop.
// Every disconnection path goes through here so no loop can leak.
func (c *Client) teardownLocked(next State) {
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
		c.keepaliveCancel = nil
	}
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.seq = 0
	c.shortToken = ""
	c.listeningChat = 0
	c.state = next
}

// StartAuth validates the phone format and sends the start-auth request.
// Valid only while the session is waiting for a phone number.
func (c *Client) StartAuth(phone string) error {
	if !utils.ValidPhone(phone) {
		return domain.ErrInvalidPhone
	}

	c.waitSend()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.ErrNotConnected
	}
	if c.state != StateHandshaking && c.state != StateAwaitingPhone {
		return domain.ErrInvalidState
	}

	c.logger.Info().Str("phone", utils.MaskPhone(phone)).Msg("Starting authentication")
	return c.writeFrameLocked(startAuthFrame(c.nextSeqLocked(), phone))
}

// SubmitCode exchanges the short token and SMS code for a full token.
// Valid only while the session is waiting for a code. An empty shortToken
// falls back to the one the session kept from the start-auth response, so
// callers do not have to echo it.
func (c *Client) SubmitCode(shortToken, code string) error {
	if code == "" {
		return domain.ErrMissingToken
	}
	c.waitSend()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.ErrNotConnected
	}
	if c.state != StateAwaitingCode {
		return domain.ErrInvalidState
	}
	if shortToken == "" {
		shortToken = c.shortToken
	}
	if shortToken == "" {
		return domain.ErrMissingToken
	}

	c.logger.Debug().Msg("Submitting verification code")
	return c.writeFrameLocked(checkCodeFrame(c.nextSeqLocked(), shortToken, code))
}

// RequestChatSync sends the token login frame; the response carries the
// owner's chat list. Valid only when authenticated.
func (c *Client) RequestChatSync() error {
	c.waitSend()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.ErrNotConnected
	}
	if c.state != StateAuthenticated {
		return domain.ErrNotAuthenticated
	}
	if c.token == "" {
		return domain.ErrMissingToken
	}

	c.logger.Debug().Msg("Requesting chat sync")
	return c.writeFrameLocked(tokenLoginFrame(c.nextSeqLocked(), c.token))
}

// ListenToChat subscribes to a chat. A previously subscribed chat is
// unsubscribed first; at most one chat is subscribed at any time. The
// keepalive loop starts with the first subscription.
func (c *Client) ListenToChat(chatID int64) error {
	c.waitSend()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.ErrNotConnected
	}
	if chatID == c.listeningChat {
		return domain.ErrAlreadySubscribed
	}

	if c.listeningChat != 0 {
		if err := c.writeFrameLocked(subscribeFrame(c.nextSeqLocked(), c.listeningChat, false)); err != nil {
			return err
		}
	}
	if err := c.writeFrameLocked(subscribeFrame(c.nextSeqLocked(), chatID, true)); err != nil {
		return err
	}
	c.listeningChat = chatID

	if c.keepaliveCancel == nil {
		keepaliveCtx, cancel := context.WithCancel(c.parentCtx)
		c.keepaliveCancel = cancel
		go c.keepaliveLoop(keepaliveCtx)
	}

	c.logger.Info().Int64("chat_id", chatID).Msg("Listening to chat")
	return nil
}

// StopListeningToChat drops the active subscription and stops the
// keepalive loop.
func (c *Client) StopListeningToChat(chatID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.ErrNotConnected
	}
	if chatID != c.listeningChat {
		return domain.ErrNotSubscribed
	}

	if err := c.writeFrameLocked(subscribeFrame(c.nextSeqLocked(), chatID, false)); err != nil {
		return err
	}
	c.listeningChat = 0

	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
		c.keepaliveCancel = nil
	}

	c.logger.Info().Int64("chat_id", chatID).Msg("Stopped listening to chat")
	return nil
}

// FetchHistory requests the last messages of a chat
func (c *Client) FetchHistory(chatID int64) error {
	c.waitSend()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.ErrNotConnected
	}
	return c.writeFrameLocked(fetchMessagesFrame(c.nextSeqLocked(), chatID, time.Now().UnixMilli()))
}

// MarkRead marks a message as read in a chat
func (c *Client) MarkRead(chatID int64, messageID string) error {
	c.waitSend()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.ErrNotConnected
	}
	return c.writeFrameLocked(readMessageFrame(c.nextSeqLocked(), chatID, messageID, time.Now().UnixMilli()))
}


// waitSend paces user-initiated requests the same way the server-side web
// client does, so a burst of bot commands cannot trip the remote flood
// protection.
func (c *Client) waitSend() {
	_ = c.limiter.Wait(context.Background())
}

// nextSeqLocked returns the next sequence number. Starts at 0 after every
// fresh connect, strictly increasing for the connection lifetime.
func (c *Client) nextSeqLocked() int {
	seq := c.seq
	c.seq++
	return seq
}

// writeFrameLocked sends one frame over the socket. The caller holds c.mu
// so writes are serialized and seq order matches wire order.
func (c *Client) writeFrameLocked(frame Frame, err error) error {
	if err != nil {
		return err
	}
	if c.conn == nil {
		return domain.ErrNotConnected
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return err
	}
	c.metrics.ObserveFrameSent(frame.Opcode)
	return nil
}

// readLoop decodes inbound frames and dispatches them until the
// connection context is cancelled or the transport fails. A malformed
// frame is logged and skipped; only transport errors end the loop.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.logger.Warn().Err(err).Msg("Websocket closed, scheduling reconnect")
			go c.reconnect()
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}

		c.metrics.ObserveFrameReceived(frame.Opcode)
		c.handleFrame(frame)
	}
}

// pingLoop sends the opcode-1 keepalive every 30 seconds for the lifetime
// of the connection, regardless of chat subscription.
func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.writeFrameLocked(pingFrame(c.nextSeqLocked()))
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("Ping failed")
			}
		}
	}
}

// keepaliveLoop re-sends the subscribe frame for the active chat every 60
// seconds. It runs only while a chat is subscribed.
func (c *Client) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			chatID := c.listeningChat
			var err error
			if chatID != 0 {
				err = c.writeFrameLocked(subscribeFrame(c.nextSeqLocked(), chatID, true))
			}
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Int64("chat_id", chatID).Msg("Chat keepalive failed")
			}
		}
	}
}

// reconnect tears the session down and retries the connection with
// exponential backoff up to the retry cap. The sequence counter restarts
// at 0 on success; a previously subscribed chat is not resubscribed.
func (c *Client) reconnect() {
	c.mu.Lock()
	if c.state == StateClosed || c.stopReconnect {
		c.mu.Unlock()
		return
	}
	wasAuthenticated := c.token != ""
	parentCtx := c.parentCtx
	c.teardownLocked(StateReconnecting)
	c.mu.Unlock()

	if parentCtx == nil {
		parentCtx = context.Background()
	}

	delay := reconnectBaseDelay
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		select {
		case <-parentCtx.Done():
			return
		case <-time.After(delay):
		}

		c.metrics.ObserveReconnect()
		c.logger.Info().Int("attempt", attempt).Msg("Reconnecting to MAX websocket")

		c.mu.Lock()
		if c.stopReconnect {
			c.mu.Unlock()
			return
		}
		err := c.connectLocked(parentCtx, wasAuthenticated)
		c.mu.Unlock()
		if err == nil {
			c.logger.Info().Int("attempt", attempt).Msg("Reconnected")
			return
		}

		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}

	c.mu.Lock()
	c.teardownLocked(StateClosed)
	c.mu.Unlock()

	c.metrics.ObserveTerminated()
	c.logger.Error().Err(domain.ErrReconnectFailed).Int("retries", c.maxRetries).Msg("Reconnect retries exhausted, session closed")
	c.emit(messages.Single(messages.NewError(c.ownerID, "connection to MAX lost and could not be restored")))
}

// emit hands an envelope to the sink. Called without holding c.mu because
// the sink may block under backpressure.
func (c *Client) emit(envelope messages.Envelope) {
	c.sink(envelope)
}
