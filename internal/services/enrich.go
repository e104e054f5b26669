package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/tbourn/go-chat-ingest/internal/enrichment"
	"github.com/tbourn/go-chat-ingest/internal/ingest"
	"github.com/tbourn/go-chat-ingest/internal/observability"
)

// Enrichment call labels.
const (
	enrichCallChatDetails = "chat_details"
	enrichCallFileInfo    = "file_info"
)

const (
	enrichOK          = observability.OutcomeOK
	enrichEmpty       = observability.OutcomeEmpty
	enrichTooLarge    = observability.OutcomeTooLarge
	enrichUnavailable = observability.OutcomeUnavailable
	enrichFailed      = observability.OutcomeFailed
)

// enrich runs the best-effort lookups for a committed event. Nothing here can
// fail the event.
func (s *Reconciler) enrich(ctx context.Context, lg *zerolog.Logger, ev ingest.Event, out Result) {
	if s.Enricher == nil {
		return
	}
	if out.ChatCreated {
		s.enrichChat(ctx, lg, ev, out)
	}
	if ev.HasAttachment() && out.MessageID != "" {
		s.enrichFile(ctx, lg, ev, out)
	}
}

func (s *Reconciler) enrichChat(ctx context.Context, lg *zerolog.Logger, ev ingest.Event, out Result) {
	cctx, cancel := context.WithTimeout(ctx, s.enrichmentTimeout())
	details, err := s.Enricher.FetchChatDetails(cctx, ev.BotID, ev.ExternalChatID)
	cancel()
	if err != nil {
		s.metrics().Enrichment(enrichCallChatDetails, enrichUnavailable)
		lg.Warn().Err(err).Str("chat_id", out.ChatID).Msg("chat details unavailable")
		return
	}
	if len(details) == 0 {
		s.metrics().Enrichment(enrichCallChatDetails, enrichEmpty)
		return
	}

	raw, err := json.Marshal(details)
	if err != nil {
		s.metrics().Enrichment(enrichCallChatDetails, enrichFailed)
		lg.Warn().Err(err).Str("chat_id", out.ChatID).Msg("encode chat details")
		return
	}
	if err := s.saveEnrichment(ctx, func(sctx context.Context) error {
		return s.store().UpdateChatMetadata(sctx, s.DB, out.ChatID, datatypes.JSON(raw))
	}); err != nil {
		s.metrics().Enrichment(enrichCallChatDetails, enrichFailed)
		lg.Warn().Err(err).Str("chat_id", out.ChatID).Msg("store chat details")
		return
	}
	s.metrics().Enrichment(enrichCallChatDetails, enrichOK)
}

func (s *Reconciler) enrichFile(ctx context.Context, lg *zerolog.Logger, ev ingest.Event, out Result) {
	ref := ev.Message.AttachmentRef
	cctx, cancel := context.WithTimeout(ctx, s.enrichmentTimeout())
	info, err := s.Enricher.FetchFileInfo(cctx, ev.BotID, ref)
	cancel()
	switch {
	case errors.Is(err, enrichment.ErrFileTooLarge):
		s.metrics().Enrichment(enrichCallFileInfo, enrichTooLarge)
		lg.Info().Str("message_id", out.MessageID).Str("file_ref", ref).Msg("attachment too large for file info")
		return
	case err != nil:
		s.metrics().Enrichment(enrichCallFileInfo, enrichUnavailable)
		lg.Warn().Err(err).Str("message_id", out.MessageID).Msg("file info unavailable")
		return
	case info == nil:
		s.metrics().Enrichment(enrichCallFileInfo, enrichEmpty)
		return
	}

	raw, err := json.Marshal(info)
	if err != nil {
		s.metrics().Enrichment(enrichCallFileInfo, enrichFailed)
		return
	}
	if err := s.saveEnrichment(ctx, func(sctx context.Context) error {
		return s.store().UpdateMessageFileInfo(sctx, s.DB, out.MessageID, datatypes.JSON(raw))
	}); err != nil {
		s.metrics().Enrichment(enrichCallFileInfo, enrichFailed)
		lg.Warn().Err(err).Str("message_id", out.MessageID).Msg("store file info")
		return
	}
	s.metrics().Enrichment(enrichCallFileInfo, enrichOK)
}

// saveEnrichment runs a single store write outside the core transaction.
func (s *Reconciler) saveEnrichment(ctx context.Context, write func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout())
	defer cancel()
	return write(sctx)
}
