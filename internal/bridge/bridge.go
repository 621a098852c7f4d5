// Package bridge moves events between the bot side and the MAX protocol
// side through two bounded FIFO queues. Outbound items are user commands
// heading to MAX sessions; inbound items are protocol events heading back
// to the user. Each direction has one consumer goroutine, so items of a
// direction are processed strictly in order.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kosvc/max-bridge/internal/domain"
	"github.com/kosvc/max-bridge/internal/infrastructure/metrics"
	"github.com/kosvc/max-bridge/internal/messages"
)

const defaultQueueCapacity = 1000

// Config holds construction parameters for a Bridge
type Config struct {
	QueueCapacity int

	Registry domain.ClientRegistry
	Store    domain.Store
	Notifier domain.Notifier
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// Bridge owns the two queues and the consumer loops
type Bridge struct {
	outbound chan messages.Envelope
	inbound  chan messages.Envelope

	registry domain.ClientRegistry
	store    domain.Store
	notifier domain.Notifier
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// New creates a bridge with empty queues. Consumers do not run until
// RunOutbound and RunInbound are started.
func New(cfg Config) *Bridge {
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Bridge{
		outbound: make(chan messages.Envelope, capacity),
		inbound:  make(chan messages.Envelope, capacity),
		registry: cfg.Registry,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		logger:   cfg.Logger.With().Str("component", "bridge").Logger(),
		metrics:  cfg.Metrics,
	}
}

// EnqueueOutbound queues a command for the protocol side. Blocks when the
// queue is full, which backpressures the producer.
func (b *Bridge) EnqueueOutbound(ctx context.Context, envelope messages.Envelope) error {
	select {
	case b.outbound <- envelope:
		b.metrics.SetQueueDepths(len(b.outbound), len(b.inbound))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueInbound queues a protocol event for the bot side. Blocks when the
// queue is full.
func (b *Bridge) EnqueueInbound(ctx context.Context, envelope messages.Envelope) error {
	select {
	case b.inbound <- envelope:
		b.metrics.SetQueueDepths(len(b.outbound), len(b.inbound))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sink returns an event sink suitable for protocol clients. It feeds the
// inbound queue and blocks under backpressure.
func (b *Bridge) Sink(ctx context.Context) func(messages.Envelope) {
	return func(envelope messages.Envelope) {
		if err := b.EnqueueInbound(ctx, envelope); err != nil {
			b.logger.Warn().Err(err).Msg("Inbound enqueue aborted")
		}
	}
}

// RunOutbound consumes the outbound queue until the context is cancelled.
// A failed item is logged and reported to the owner; it never stops the loop.
func (b *Bridge) RunOutbound(ctx context.Context) {
	b.logger.Info().Msg("Outbound consumer started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Outbound consumer stopped")
			return
		case envelope := <-b.outbound:
			b.metrics.SetQueueDepths(len(b.outbound), len(b.inbound))
			b.consume(ctx, envelope, "outbound", b.handleOutbound)
		}
	}
}

// RunInbound consumes the inbound queue until the context is cancelled
func (b *Bridge) RunInbound(ctx context.Context) {
	b.logger.Info().Msg("Inbound consumer started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Inbound consumer stopped")
			return
		case envelope := <-b.inbound:
			b.metrics.SetQueueDepths(len(b.outbound), len(b.inbound))
			b.consume(ctx, envelope, "inbound", b.handleInbound)
		}
	}
}

// consume unwraps an envelope and applies the handler per event. Batch
// items are processed in order; a failed item does not abort the rest.
func (b *Bridge) consume(ctx context.Context, envelope messages.Envelope, direction string, handle func(context.Context, messages.Envelope, messages.Event) error) {
	events := envelope.Batch
	if !envelope.IsBatch() {
		events = []messages.Event{envelope.Event}
	}
	for _, event := range events {
		if event == nil {
			continue
		}
		b.metrics.ObserveEvent(event.EventType())
		if err := handle(ctx, envelope, event); err != nil {
			b.metrics.ObserveBridgeError(direction)
			b.logger.Error().Err(err).
				Str("direction", direction).
				Str("event_type", event.EventType()).
				Int64("owner_id", event.Owner()).
				Msg("Event handling failed")
		}
	}
}

// handleOutbound routes one user command to the registry or the store
func (b *Bridge) handleOutbound(ctx context.Context, _ messages.Envelope, event messages.Event) error {
	switch e := event.(type) {
	case messages.StartAuth:
		if err := b.registry.StartAuth(ctx, e.OwnerID, e.Phone); err != nil {
			b.notify(ctx, e.OwnerID, authErrorText(err))
			return err
		}
		return nil

	case messages.VerifyCode:
		if err := b.registry.SubmitCode(ctx, e.OwnerID, e.Token, e.Code); err != nil {
			b.notify(ctx, e.OwnerID, authErrorText(err))
			return err
		}
		return nil

	case messages.SubscribeGroup:
		return b.store.SaveGroup(ctx, domain.GroupLink{
			GroupID:    e.GroupID,
			GroupTitle: e.GroupTitle,
			OwnerID:    e.OwnerID,
		})

	case messages.UnsubscribeGroup:
		return b.store.RemoveGroup(ctx, e.GroupID)

	case messages.SelectChat:
		if err := b.registry.SubscribeChat(ctx, e.OwnerID, e.ChatID); err != nil {
			return err
		}
		return b.store.LinkGroupChat(ctx, e.GroupID, e.ChatID)

	case messages.FetchHistory:
		return b.registry.FetchHistory(ctx, e.OwnerID, e.ChatID)

	default:
		return fmt.Errorf("unexpected outbound event %q", event.EventType())
	}
}

// handleInbound routes one protocol event to the store and the notifier
func (b *Bridge) handleInbound(ctx context.Context, _ messages.Envelope, event messages.Event) error {
	switch e := event.(type) {
	case messages.PhoneSent:
		b.notify(ctx, e.OwnerID, "Verification code sent. Reply with the code from the SMS.")
		return nil

	case messages.SmsConfirmed:
		if err := b.store.SaveAccount(ctx, domain.Account{OwnerID: e.OwnerID, Token: e.FullToken}); err != nil {
			return err
		}
		b.notify(ctx, e.OwnerID, "MAX account linked. Use the chat list to pick a chat to mirror.")
		return nil

	case messages.FetchedChat:
		return b.store.UpsertChat(ctx, domain.Chat{
			OwnerID:       e.OwnerID,
			ChatID:        e.ChatID,
			Title:         e.Title,
			MessagesCount: e.MessagesCount,
			LastMessageID: e.LastMessageID,
		})

	case messages.ChatMessage:
		return b.deliverChatMessage(ctx, e)

	case messages.Error:
		b.notify(ctx, e.OwnerID, "MAX error: "+e.Message)
		return nil

	default:
		return fmt.Errorf("unexpected inbound event %q", event.EventType())
	}
}

// deliverChatMessage forwards a MAX chat message to every Telegram group
// linked to the chat, falling back to the owner when no group is linked.
// A mirrored message is acknowledged as read in the MAX chat afterwards.
func (b *Bridge) deliverChatMessage(ctx context.Context, msg messages.ChatMessage) error {
	text := renderChatMessage(msg)

	groups, err := b.store.GroupsByChat(ctx, msg.ChatID)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		if err := b.notifier.NotifyText(ctx, msg.OwnerID, text); err != nil {
			return err
		}
		b.markRead(ctx, msg)
		return nil
	}

	var firstErr error
	for _, group := range groups {
		if err := b.notifier.NotifyText(ctx, group.GroupID, text); err != nil {
			b.logger.Error().Err(err).Int64("group_id", group.GroupID).Msg("Group delivery failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr == nil {
		b.markRead(ctx, msg)
	}
	return firstErr
}

// markRead is best effort; a failed read mark never fails the delivery
func (b *Bridge) markRead(ctx context.Context, msg messages.ChatMessage) {
	if msg.MessageID == "" {
		return
	}
	if err := b.registry.MarkRead(ctx, msg.OwnerID, msg.ChatID, msg.MessageID); err != nil {
		b.logger.Debug().Err(err).
			Int64("chat_id", msg.ChatID).
			Str("message_id", msg.MessageID).
			Msg("Read mark failed")
	}
}

func (b *Bridge) notify(ctx context.Context, ownerID int64, text string) {
	if b.notifier == nil {
		return
	}
	if err := b.notifier.NotifyText(ctx, ownerID, text); err != nil {
		b.logger.Error().Err(err).Int64("owner_id", ownerID).Msg("Notify failed")
	}
}

// renderChatMessage turns a chat message into delivery text. Attachments
// and the replied-to message are appended below the body.
func renderChatMessage(msg messages.ChatMessage) string {
	var sb strings.Builder

	if msg.RepliedMessage != nil && msg.RepliedMessage.Text != "" {
		sb.WriteString("↩ ")
		sb.WriteString(msg.RepliedMessage.Text)
		sb.WriteString("\n\n")
	}

	if msg.Text != "" {
		sb.WriteString(msg.Text)
	}

	for _, attach := range msg.Attachments {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		switch attach.Kind {
		case messages.AttachmentPhoto:
			sb.WriteString("📷 ")
		case messages.AttachmentVideo:
			sb.WriteString("🎬 ")
		case messages.AttachmentDoc:
			sb.WriteString("📄 ")
		}
		sb.WriteString(attach.URL)
	}

	if sb.Len() == 0 {
		sb.WriteString("(empty message)")
	}
	return sb.String()
}

func authErrorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidPhone):
		return "Invalid phone number, expected the +7XXXXXXXXXX format."
	case errors.Is(err, domain.ErrInvalidState):
		return "This step is not available right now, start over with your phone number."
	case errors.Is(err, domain.ErrClientNotFound):
		return "No active session, start over with your phone number."
	default:
		return "Authentication failed, try again later."
	}
}
