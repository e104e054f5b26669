// Package enrichment – Enrichment Client
//
// This package defines the contract used by the reconciliation engine to fetch
// supplementary metadata from the chat platform: chat details for a newly
// created chat and file details for attachment-bearing messages. Lookups are
// best-effort. Callers treat ErrUnavailable like an empty result and swallow
// ErrFileTooLarge, so neither can fail an ingestion.
//
// Implementations:
//   - TelegramClient talks to the Bot API (getChat, getFile).
//   - CachingClient memoizes file lookups in front of any Client.
//   - Noop returns empty results and is used when enrichment is disabled.
package enrichment

import (
	"context"
	"errors"
)

var (
	// ErrFileTooLarge is returned by FetchFileInfo when the platform refuses to
	// serve metadata for a file above its retrievable size.
	ErrFileTooLarge = errors.New("file is too large to retrieve")

	// ErrUnavailable wraps timeouts, transport failures and unexpected API
	// responses.
	ErrUnavailable = errors.New("enrichment unavailable")

	// ErrUnknownBot is returned when no API token is configured for a bot id.
	// It matches ErrUnavailable via errors.Is.
	ErrUnknownBot = unavailable("no token configured for bot")
)

// FileInfo describes a platform file referenced by an attachment.
type FileInfo struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
}

// Client fetches best-effort metadata from the chat platform.
type Client interface {
	// FetchChatDetails returns the platform's chat document. An empty map is a
	// valid result.
	FetchChatDetails(ctx context.Context, botID int64, externalChatID string) (map[string]any, error)

	// FetchFileInfo returns file metadata, nil when the platform has none, or
	// ErrFileTooLarge.
	FetchFileInfo(ctx context.Context, botID int64, fileRef string) (*FileInfo, error)
}

// Noop is a Client that never calls out.
type Noop struct{}

func (Noop) FetchChatDetails(context.Context, int64, string) (map[string]any, error) {
	return map[string]any{}, nil
}

func (Noop) FetchFileInfo(context.Context, int64, string) (*FileInfo, error) {
	return nil, nil
}

type unavailableError struct {
	msg string
	err error
}

func (e *unavailableError) Error() string {
	if e.err != nil {
		return "enrichment unavailable: " + e.msg + ": " + e.err.Error()
	}
	return "enrichment unavailable: " + e.msg
}

func (e *unavailableError) Unwrap() []error {
	if e.err != nil {
		return []error{ErrUnavailable, e.err}
	}
	return []error{ErrUnavailable}
}

func unavailable(msg string) error { return &unavailableError{msg: msg} }

func unavailableWrap(msg string, err error) error { return &unavailableError{msg: msg, err: err} }
