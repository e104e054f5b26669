// Package services – Reconciler
//
// This file implements the reconciliation engine: it applies one canonical
// ingest.Event to the Chat / ChatUser / ChatMessage model exactly once.
//
// Resolving the chat, resolving the participant and applying the event run in one
// store transaction bounded by StoreTimeout. The processed-update record, when
// the event carries an update id, is written in the same transaction.
// Enrichment runs after commit under EnrichmentTimeout and never fails the
// event: oversized files and unavailable lookups degrade to absent metadata.
//
// Concurrent first contact for the same (external chat id, bot id) is settled
// by the store's unique key: create-if-absent, and on conflict re-fetch once.
//
// Observability: Reconcile is OpenTelemetry-instrumented and records the core
// transaction duration per kind.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-ingest/internal/domain"
	"github.com/tbourn/go-chat-ingest/internal/enrichment"
	"github.com/tbourn/go-chat-ingest/internal/ingest"
	"github.com/tbourn/go-chat-ingest/internal/repo"
)

// Defaults applied by NewReconciler.
const (
	DefaultStoreTimeout       = 5 * time.Second
	DefaultEnrichmentTimeout  = 3 * time.Second
	DefaultProcessedUpdateTTL = 24 * time.Hour
)

// Metrics receives ingestion measurements. *observability.IngestMetrics
// satisfies it.
type Metrics interface {
	Event(kind, outcome string)
	Enrichment(call, outcome string)
	Reconcile(kind string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Event(string, string)            {}
func (noopMetrics) Enrichment(string, string)       {}
func (noopMetrics) Reconcile(string, time.Duration) {}

// Result is the outcome of reconciling one event.
type Result struct {
	Kind      ingest.Kind `json:"kind"`
	ChatID    string      `json:"chat_id"`
	MessageID string      `json:"message_id,omitempty"`

	// ChatCreated is true when this event created the chat.
	ChatCreated bool `json:"chat_created"`
	// MessageCreated is false for duplicate deliveries and in-place edits.
	MessageCreated bool `json:"message_created"`
	// Replayed is true when the result was answered from the processed-update log.
	Replayed bool `json:"replayed"`
}

// Reconciler applies canonical events to the entity store.
type Reconciler struct {
	DB       *gorm.DB
	Store    EntityStore
	Enricher enrichment.Client
	Metrics  Metrics

	StoreTimeout      time.Duration
	EnrichmentTimeout time.Duration
	// ProcessedTTL is how long a processed update id is remembered; 0 disables
	// the log.
	ProcessedTTL time.Duration
}

// NewReconciler returns a Reconciler on the repo store with default timeouts.
// A nil enricher disables enrichment.
func NewReconciler(db *gorm.DB, enricher enrichment.Client) *Reconciler {
	return &Reconciler{
		DB:                db,
		Store:             RepoStore{},
		Enricher:          enricher,
		StoreTimeout:      DefaultStoreTimeout,
		EnrichmentTimeout: DefaultEnrichmentTimeout,
		ProcessedTTL:      DefaultProcessedUpdateTTL,
	}
}

// Reconcile applies ev and returns the internal chat id and, for message
// kinds, the message id. Only core transaction failures are returned.
func (s *Reconciler) Reconcile(ctx context.Context, ev ingest.Event) (Result, error) {
	ctx, span := otel.Tracer("services/Reconciler").Start(ctx, "Reconcile",
		trace.WithAttributes(
			attribute.String("event.kind", string(ev.Kind)),
			attribute.Int64("bot.id", ev.BotID),
			attribute.String("chat.external_id", ev.ExternalChatID),
		),
	)
	defer span.End()
	lg := loggerFrom(ctx).With().
		Str("kind", string(ev.Kind)).
		Int64("bot_id", ev.BotID).
		Str("external_chat_id", ev.ExternalChatID).
		Logger()

	if ev.BotID <= 0 {
		return Result{}, ErrInvalidBotID
	}

	started := time.Now()
	out, err := s.applyCore(ctx, &lg, ev)
	s.metrics().Reconcile(string(ev.Kind), time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "core transaction failed")
		lg.Error().Err(err).Msg("reconcile failed")
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("chat.id", out.ChatID),
		attribute.Bool("chat.created", out.ChatCreated),
	)

	s.enrich(ctx, &lg, ev, out)
	return out, nil
}

func (s *Reconciler) applyCore(ctx context.Context, lg *zerolog.Logger, ev ingest.Event) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout())
	defer cancel()

	var out Result
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		out = Result{Kind: ev.Kind}

		chat, created, err := s.resolveChat(ctx, tx, ev)
		if err != nil {
			return fmt.Errorf("resolve chat: %w", err)
		}
		out.ChatID = chat.ID
		out.ChatCreated = created
		lg.Debug().Str("chat_id", chat.ID).Bool("created", created).Msg("chat resolved")

		user, userCreated, err := s.store().FindOrCreateChatUser(ctx, tx, chat.ID, ev.ExternalUserID)
		if err != nil {
			return fmt.Errorf("resolve chat user: %w", err)
		}
		lg.Debug().Str("chat_user_id", user.ID).Bool("created", userCreated).Msg("chat user resolved")

		switch ev.Kind {
		case ingest.KindMessageCreated:
			msg, msgCreated, err := s.createMessage(ctx, tx, chat.ID, ev)
			if err != nil {
				return fmt.Errorf("create message: %w", err)
			}
			out.MessageID, out.MessageCreated = msg.ID, msgCreated
		case ingest.KindMessageEdited:
			msg, msgCreated, err := s.editMessage(ctx, tx, chat.ID, ev)
			if err != nil {
				return fmt.Errorf("edit message: %w", err)
			}
			out.MessageID, out.MessageCreated = msg.ID, msgCreated
			if msgCreated {
				lg.Debug().Str("message_id", msg.ID).Msg("edit materialized a new message")
			}
		case ingest.KindUserBlocked, ingest.KindUserUnblocked:
			status := domain.ChatUserStatusBlocked
			if ev.Kind == ingest.KindUserUnblocked {
				status = domain.ChatUserStatusActive
			}
			changed, err := s.store().UpdateChatUserStatus(ctx, tx, user.ID, status)
			if err != nil {
				return fmt.Errorf("update chat user status: %w", err)
			}
			lg.Debug().Str("status", string(status)).Bool("changed", changed).Msg("chat user status applied")
		default:
			return fmt.Errorf("%w: %q", ErrUnsupportedKind, ev.Kind)
		}

		if ev.UpdateID != "" && s.ProcessedTTL > 0 {
			if _, err := s.store().RecordProcessedUpdate(ctx, tx, ev.BotID, ev.UpdateID, string(ev.Kind), out.ChatID, out.MessageID, s.ProcessedTTL); err != nil {
				return fmt.Errorf("record processed update: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return out, nil
}

// resolveChat finds the chat for the event's key, creating it when absent. A
// create conflict means a concurrent event won; the winner is re-fetched once.
func (s *Reconciler) resolveChat(ctx context.Context, tx *gorm.DB, ev ingest.Event) (*domain.Chat, bool, error) {
	chat, err := s.store().FindChatByExternalID(ctx, tx, ev.ExternalChatID, ev.BotID)
	if err == nil {
		return chat, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}

	chat, err = s.store().CreateChatIfAbsent(ctx, tx, ev.ExternalChatID, ev.BotID, ev.ChatType)
	if err == nil {
		return chat, true, nil
	}
	if !errors.Is(err, repo.ErrConflict) {
		return nil, false, err
	}

	chat, err = s.store().FindChatByExternalID(ctx, tx, ev.ExternalChatID, ev.BotID)
	if err != nil {
		return nil, false, fmt.Errorf("refetch after conflict: %w", err)
	}
	return chat, false, nil
}

// createMessage inserts the event's message. A duplicate delivery returns the
// existing row with created=false.
func (s *Reconciler) createMessage(ctx context.Context, tx *gorm.DB, chatID string, ev ingest.Event) (*domain.ChatMessage, bool, error) {
	if ev.Message == nil {
		return nil, false, fmt.Errorf("%w: message kind without payload", ErrUnsupportedKind)
	}
	msg, err := s.store().CreateMessage(ctx, tx, newMessage(chatID, ev))
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, repo.ErrConflict) {
		return nil, false, err
	}
	msg, err = s.store().FindMessageByExternalID(ctx, tx, chatID, ev.Message.ExternalMessageID)
	if err != nil {
		return nil, false, fmt.Errorf("refetch after conflict: %w", err)
	}
	return msg, false, nil
}

// editMessage rewrites a known message in place. An unknown message is
// materialized from the edit payload; its type is whatever the edit shows.
func (s *Reconciler) editMessage(ctx context.Context, tx *gorm.DB, chatID string, ev ingest.Event) (*domain.ChatMessage, bool, error) {
	if ev.Message == nil {
		return nil, false, fmt.Errorf("%w: message kind without payload", ErrUnsupportedKind)
	}
	editedAt := time.Now().UTC()
	if ev.Message.EditedAt != nil {
		editedAt = ev.Message.EditedAt.UTC()
	}

	msg, err := s.store().FindMessageByExternalID(ctx, tx, chatID, ev.Message.ExternalMessageID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		in := newMessage(chatID, ev)
		in.EditedAt = &editedAt
		created, cerr := s.store().CreateMessage(ctx, tx, in)
		if cerr == nil {
			return created, true, nil
		}
		if !errors.Is(cerr, repo.ErrConflict) {
			return nil, false, cerr
		}
		msg, err = s.store().FindMessageByExternalID(ctx, tx, chatID, ev.Message.ExternalMessageID)
		if err != nil {
			return nil, false, fmt.Errorf("refetch after conflict: %w", err)
		}
	case err != nil:
		return nil, false, err
	}

	if err := s.store().UpdateMessageText(ctx, tx, msg.ID, ev.Message.Text, editedAt); err != nil {
		return nil, false, err
	}
	msg.Text = ev.Message.Text
	msg.EditedAt = &editedAt
	return msg, false, nil
}

func newMessage(chatID string, ev ingest.Event) repo.NewMessage {
	return repo.NewMessage{
		ChatID:            chatID,
		ExternalMessageID: ev.Message.ExternalMessageID,
		ExternalUserID:    ev.ExternalUserID,
		Text:              ev.Message.Text,
		Type:              ev.Message.Type,
		AttachmentRef:     ev.Message.AttachmentRef,
		SentAt:            ev.Message.SentAt,
	}
}

func (s *Reconciler) store() EntityStore {
	if s.Store == nil {
		return RepoStore{}
	}
	return s.Store
}

func (s *Reconciler) metrics() Metrics {
	if s.Metrics == nil {
		return noopMetrics{}
	}
	return s.Metrics
}

func (s *Reconciler) storeTimeout() time.Duration {
	if s.StoreTimeout <= 0 {
		return DefaultStoreTimeout
	}
	return s.StoreTimeout
}

func (s *Reconciler) enrichmentTimeout() time.Duration {
	if s.EnrichmentTimeout <= 0 {
		return DefaultEnrichmentTimeout
	}
	return s.EnrichmentTimeout
}

// loggerFrom returns the request-scoped logger, or the global one.
func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
