// Package services – IngestService
//
// IngestService is the entry point for one webhook delivery: it classifies the
// raw payload, answers redelivered updates from the processed-update log and
// hands everything else to the Reconciler.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-ingest/internal/ingest"
	"github.com/tbourn/go-chat-ingest/internal/observability"
	"github.com/tbourn/go-chat-ingest/internal/repo"
)

// IngestService coordinates classification, replay detection and
// reconciliation.
type IngestService struct {
	DB         *gorm.DB
	Classifier ingest.Classifier
	Reconciler *Reconciler
	Metrics    Metrics

	// Now is the clock used for processed-update expiry (tests).
	Now func() time.Time
}

// NewIngestService wires an IngestService around r, sharing its store and
// metrics.
func NewIngestService(r *Reconciler, classifier ingest.Classifier) *IngestService {
	return &IngestService{
		DB:         r.DB,
		Classifier: classifier,
		Reconciler: r,
		Metrics:    r.Metrics,
	}
}

// Ingest processes one payload delivered for botID.
//
// Errors: ingest.ErrUnrecognizedEvent (client error, nothing persisted),
// ErrInvalidBotID, or a core transaction failure (redelivery expected).
func (s *IngestService) Ingest(ctx context.Context, botID int64, payload []byte) (Result, error) {
	ctx, span := otel.Tracer("services/IngestService").Start(ctx, "Ingest",
		trace.WithAttributes(
			attribute.Int64("bot.id", botID),
			attribute.Int("payload.bytes", len(payload)),
		),
	)
	defer span.End()

	if botID <= 0 {
		return Result{}, ErrInvalidBotID
	}

	ev, err := s.Classifier.Classify(botID, payload)
	if err != nil {
		s.metrics().Event("", observability.OutcomeUnrecognized)
		span.SetStatus(codes.Error, "unrecognized event")
		loggerFrom(ctx).Debug().Err(err).Int64("bot_id", botID).Msg("payload not classified")
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("event.kind", string(ev.Kind)),
		attribute.String("update.id", ev.UpdateID),
	)

	if res, ok := s.replay(ctx, ev); ok {
		s.metrics().Event(string(ev.Kind), observability.OutcomeReplayed)
		span.SetAttributes(attribute.Bool("replayed", true))
		return res, nil
	}

	res, err := s.Reconciler.Reconcile(ctx, ev)
	if err != nil {
		s.metrics().Event(string(ev.Kind), observability.OutcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return Result{}, err
	}
	s.metrics().Event(string(ev.Kind), observability.OutcomeApplied)
	return res, nil
}

// replay returns the stored result of an already processed update. Lookup
// failures fall through to reconciliation, which is idempotent on its own.
func (s *IngestService) replay(ctx context.Context, ev ingest.Event) (Result, bool) {
	if ev.UpdateID == "" || s.DB == nil {
		return Result{}, false
	}
	rec, err := repo.GetProcessedUpdate(ctx, s.DB, ev.BotID, ev.UpdateID, s.now())
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			loggerFrom(ctx).Warn().Err(err).Int64("bot_id", ev.BotID).Str("update_id", ev.UpdateID).
				Msg("processed update lookup failed")
		}
		return Result{}, false
	}
	return Result{
		Kind:      ingest.Kind(rec.Kind),
		ChatID:    rec.ChatID,
		MessageID: rec.MessageID,
		Replayed:  true,
	}, true
}

func (s *IngestService) metrics() Metrics {
	if s.Metrics == nil {
		return noopMetrics{}
	}
	return s.Metrics
}

func (s *IngestService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
