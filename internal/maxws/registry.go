package maxws

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kosvc/max-bridge/internal/domain"
	"github.com/kosvc/max-bridge/internal/infrastructure/metrics"
)

// ClientFactory builds a session for an owner. Tests swap it for a mock.
type ClientFactory func(ownerID int64, token string) domain.ProtocolClient

// RegistryConfig holds construction parameters for a Registry
type RegistryConfig struct {
	URL    string
	Origin string

	MaxRetries  int
	AuthCodeTTL time.Duration

	Sink    EventSink
	Store   domain.Store
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// Factory overrides session construction, nil means real clients
	Factory ClientFactory
}

// Registry owns every MAX session keyed by the Telegram owner. It is the
// only place sessions are created and destroyed.
type Registry struct {
	store   domain.Store
	logger  zerolog.Logger
	metrics *metrics.Metrics
	factory ClientFactory

	mu      sync.RWMutex
	clients map[int64]domain.ProtocolClient
}

// NewRegistry creates an empty registry
func NewRegistry(cfg RegistryConfig) *Registry {
	factory := cfg.Factory
	if factory == nil {
		factory = func(ownerID int64, token string) domain.ProtocolClient {
			return NewClient(ClientConfig{
				URL:         cfg.URL,
				Origin:      cfg.Origin,
				OwnerID:     ownerID,
				Token:       token,
				MaxRetries:  cfg.MaxRetries,
				AuthCodeTTL: cfg.AuthCodeTTL,
				Sink:        cfg.Sink,
				Logger:      cfg.Logger,
				Metrics:     cfg.Metrics,
			})
		}
	}

	return &Registry{
		store:   cfg.Store,
		logger:  cfg.Logger.With().Str("component", "client_registry").Logger(),
		metrics: cfg.Metrics,
		factory: factory,
		clients: make(map[int64]domain.ProtocolClient),
	}
}

// AddClient creates and connects a session with a stored token. The account
// row is written unless persist is false (bulk startup load, rows exist).
func (r *Registry) AddClient(ctx context.Context, ownerID int64, token string, persist bool) error {
	r.mu.Lock()
	if _, ok := r.clients[ownerID]; ok {
		r.mu.Unlock()
		return domain.ErrClientAlreadyExists
	}
	client := r.factory(ownerID, token)
	r.clients[ownerID] = client
	r.mu.Unlock()

	if err := client.Connect(ctx, true); err != nil {
		r.mu.Lock()
		delete(r.clients, ownerID)
		r.mu.Unlock()
		return err
	}

	if persist && r.store != nil {
		if err := r.store.SaveAccount(ctx, domain.Account{OwnerID: ownerID, Token: token}); err != nil {
			r.logger.Error().Err(err).Int64("owner_id", ownerID).Msg("Failed to persist account")
		}
	}

	r.updateSessionGauge()
	r.logger.Info().Int64("owner_id", ownerID).Msg("Client added")
	return nil
}

// StartAuth creates an unauthenticated session and begins the phone step.
// Fails with ErrClientAlreadyExists while a session for the owner is live;
// a stuck login is restarted with RemoveClient followed by a new StartAuth.
func (r *Registry) StartAuth(ctx context.Context, ownerID int64, phone string) error {
	r.mu.Lock()
	if _, ok := r.clients[ownerID]; ok {
		r.mu.Unlock()
		return domain.ErrClientAlreadyExists
	}
	client := r.factory(ownerID, "")
	r.clients[ownerID] = client
	r.mu.Unlock()

	if err := client.Connect(ctx, false); err != nil {
		r.mu.Lock()
		delete(r.clients, ownerID)
		r.mu.Unlock()
		return err
	}
	if err := client.StartAuth(phone); err != nil {
		client.Disconnect()
		r.mu.Lock()
		delete(r.clients, ownerID)
		r.mu.Unlock()
		return err
	}

	r.updateSessionGauge()
	return nil
}

// SubmitCode delegates code verification to the owner's session
func (r *Registry) SubmitCode(ctx context.Context, ownerID int64, shortToken, code string) error {
	client, err := r.client(ownerID)
	if err != nil {
		return err
	}
	return client.SubmitCode(shortToken, code)
}

// RequestChatSync delegates a chat list sync to the owner's session
func (r *Registry) RequestChatSync(ctx context.Context, ownerID int64) error {
	client, err := r.client(ownerID)
	if err != nil {
		return err
	}
	return client.RequestChatSync()
}

// SubscribeChat switches the owner's session to listen to a chat
func (r *Registry) SubscribeChat(ctx context.Context, ownerID int64, chatID int64) error {
	client, err := r.client(ownerID)
	if err != nil {
		return err
	}
	return client.ListenToChat(chatID)
}

// FetchHistory requests recent messages of a chat for the owner
func (r *Registry) FetchHistory(ctx context.Context, ownerID int64, chatID int64) error {
	client, err := r.client(ownerID)
	if err != nil {
		return err
	}
	return client.FetchHistory(chatID)
}

// MarkRead acknowledges a message in a chat through the owner's session
func (r *Registry) MarkRead(ctx context.Context, ownerID int64, chatID int64, messageID string) error {
	client, err := r.client(ownerID)
	if err != nil {
		return err
	}
	return client.MarkRead(chatID, messageID)
}

// RemoveClient disconnects and discards the owner's session. The persisted
// account row stays so the owner can reconnect later.
func (r *Registry) RemoveClient(ctx context.Context, ownerID int64) error {
	r.mu.Lock()
	client, ok := r.clients[ownerID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrClientNotFound
	}
	delete(r.clients, ownerID)
	r.mu.Unlock()

	client.Disconnect()
	r.updateSessionGauge()
	r.logger.Info().Int64("owner_id", ownerID).Msg("Client removed")
	return nil
}

// Startup connects every persisted account. A failed account is logged and
// skipped; one bad token must not block the rest.
func (r *Registry) Startup(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	accounts, err := r.store.GetAllAccounts(ctx)
	if err != nil {
		return err
	}

	connected := 0
	for _, account := range accounts {
		if account.Token == "" {
			continue
		}

		// Spread connections out so a restart does not hammer the server.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second + time.Duration(rand.Intn(1000))*time.Millisecond):
		}

		if err := r.AddClient(ctx, account.OwnerID, account.Token, false); err != nil {
			r.logger.Error().Err(err).Int64("owner_id", account.OwnerID).Msg("Startup connect failed, skipping account")
			continue
		}
		connected++
	}

	r.logger.Info().Int("connected", connected).Int("total", len(accounts)).Msg("Startup complete")
	return nil
}

// Shutdown disconnects every managed session and returns how many it closed
func (r *Registry) Shutdown(ctx context.Context) int {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[int64]domain.ProtocolClient)
	r.mu.Unlock()

	for _, client := range clients {
		client.Disconnect()
	}

	r.updateSessionGauge()
	r.logger.Info().Int("closed", len(clients)).Msg("All sessions closed")
	return len(clients)
}

// ActiveSessionCount returns the number of connected sessions
func (r *Registry) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, client := range r.clients {
		if client.IsConnected() {
			count++
		}
	}
	return count
}

func (r *Registry) client(ownerID int64) (domain.ProtocolClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[ownerID]
	if !ok {
		return nil, domain.ErrClientNotFound
	}
	return client, nil
}

func (r *Registry) updateSessionGauge() {
	r.metrics.SetActiveSessions(r.ActiveSessionCount())
}
