package domain

import "context"

// ProtocolClient is one live (or authenticating) MAX websocket session
// representing a single linked account.
type ProtocolClient interface {
	// Connect opens the websocket and performs the handshake.
	// With useStoredToken it logs in with the stored token immediately;
	// otherwise the session waits for StartAuth.
	Connect(ctx context.Context, useStoredToken bool) error

	// Disconnect closes the socket and stops every background loop
	// (read, ping, chat keepalive) of the session.
	Disconnect()

	// StartAuth sends the phone number to begin the login flow
	StartAuth(phone string) error

	// SubmitCode exchanges the short token and SMS code for a full token.
	// An empty shortToken falls back to the one the session received in
	// the start-auth response.
	SubmitCode(shortToken, code string) error

	// RequestChatSync requests the owner's chat list with the stored token
	RequestChatSync() error

	// ListenToChat subscribes to a chat, replacing any previous subscription
	ListenToChat(chatID int64) error

	// StopListeningToChat drops the active chat subscription
	StopListeningToChat(chatID int64) error

	// FetchHistory requests the last messages of a chat
	FetchHistory(chatID int64) error

	// MarkRead marks a message as read in a chat
	MarkRead(chatID int64, messageID string) error

	// IsConnected reports whether the websocket is open
	IsConnected() bool

	// OwnerID returns the Telegram user that owns this session
	OwnerID() int64

	// Token returns the current full login token, empty if not authenticated
	Token() string
}

// ClientRegistry owns the map of ownerID → ProtocolClient and is the only
// place sessions are created and destroyed.
type ClientRegistry interface {
	// AddClient creates and connects a session with a stored token.
	// The account is persisted unless persist is false (bulk startup load).
	AddClient(ctx context.Context, ownerID int64, token string, persist bool) error

	// StartAuth creates an unauthenticated session and begins the phone
	// step. Fails with ErrClientAlreadyExists while the owner has a session.
	StartAuth(ctx context.Context, ownerID int64, phone string) error

	// SubmitCode delegates code verification to the owner's session
	SubmitCode(ctx context.Context, ownerID int64, shortToken, code string) error

	// RequestChatSync delegates a chat list sync to the owner's session
	RequestChatSync(ctx context.Context, ownerID int64) error

	// SubscribeChat switches the owner's session to listen to a chat
	SubscribeChat(ctx context.Context, ownerID int64, chatID int64) error

	// FetchHistory requests recent messages of a chat for the owner
	FetchHistory(ctx context.Context, ownerID int64, chatID int64) error

	// MarkRead acknowledges a message in a chat through the owner's session
	MarkRead(ctx context.Context, ownerID int64, chatID int64, messageID string) error

	// RemoveClient disconnects and discards the owner's session
	RemoveClient(ctx context.Context, ownerID int64) error

	// Startup connects every persisted account, skipping failures
	Startup(ctx context.Context) error

	// Shutdown disconnects every managed session and returns how many it closed
	Shutdown(ctx context.Context) int

	// ActiveSessionCount returns the number of connected sessions
	ActiveSessionCount() int
}

// Store is the persistence boundary for accounts, cached chats and
// group↔chat links. Implementations must not hold a session across calls.
type Store interface {
	SaveAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, ownerID int64) (*Account, error)
	GetAllAccounts(ctx context.Context) ([]Account, error)
	UpdateToken(ctx context.Context, ownerID int64, token string) error
	DeleteAccount(ctx context.Context, ownerID int64) error

	UpsertChat(ctx context.Context, chat Chat) error
	ChatsByOwner(ctx context.Context, ownerID int64) ([]Chat, error)

	SaveGroup(ctx context.Context, group GroupLink) error
	RemoveGroup(ctx context.Context, groupID int64) error
	LinkGroupChat(ctx context.Context, groupID, chatID int64) error
	GroupsByChat(ctx context.Context, chatID int64) ([]GroupLink, error)
}

// Notifier is the bot-facing sink for inbound bridge events. The bridge
// renders events to text; implementations only deliver it.
type Notifier interface {
	NotifyText(ctx context.Context, ownerID int64, text string) error
}
