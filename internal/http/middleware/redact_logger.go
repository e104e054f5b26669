// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the scrubbing applied to access logs. Bodies are never
// logged; query strings and header values pass through a Redactor first.
package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

// HeaderWebhookSecret carries the shared secret the platform sends with each
// webhook call.
const HeaderWebhookSecret = "X-Telegram-Bot-Api-Secret-Token"

const redactedValue = "[REDACTED]"

// Patterns are applied in order: ids, then emails, then phone numbers, which
// are the loosest and would otherwise eat digit runs inside UUIDs.
var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// Redactor scrubs identifiers from log values and masks sensitive headers.
type Redactor struct {
	mask map[string]struct{}
}

// NewRedactor returns a Redactor that fully masks Authorization, Cookie,
// Set-Cookie, the webhook secret header, and any extra headers given.
// Header matching is case-insensitive.
func NewRedactor(extraHeaders ...string) *Redactor {
	mask := map[string]struct{}{
		"authorization":                   {},
		"cookie":                          {},
		"set-cookie":                      {},
		"x-telegram-bot-api-secret-token": {},
	}
	for _, h := range extraHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}
	return &Redactor{mask: mask}
}

// Scrub replaces UUIDs, email addresses and phone numbers in s.
func (r *Redactor) Scrub(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// Headers returns a loggable copy of h.
func (r *Redactor) Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.mask[strings.ToLower(k)]; ok {
			out[k] = redactedValue
			continue
		}
		out[k] = r.Scrub(strings.Join(vv, ", "))
	}
	return out
}
