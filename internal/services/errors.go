// Package services defines the application logic for webhook ingestion and the
// read side over reconciled chats. This file centralizes service-level error
// values so that handlers can map them to HTTP results consistently.
package services

import "errors"

var (
	// ErrChatNotFound indicates that the requested chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrInvalidBotID is returned when a bot identifier is zero or negative.
	ErrInvalidBotID = errors.New("invalid bot id")

	// ErrUnsupportedKind is returned by the engine for an event kind it does
	// not apply. The classifier never produces one.
	ErrUnsupportedKind = errors.New("unsupported event kind")
)
