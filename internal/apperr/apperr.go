// Package apperr defines the unified error taxonomy shown to users.
//
// Lower layers return their own errors (storage sentinels, parser and transport
// failures). The feeds service and the fetcher translate them into an *Error so
// that the bot and the HTTP API can render exactly one message per kind.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the category of an application error.
type Kind int

// Supported error kinds.
const (
	Unknown Kind = iota
	InvalidURL
	Network
	Parse
	DuplicateFeed
	FeedNotFound
	PermissionDenied
)

var kindNames = map[Kind]string{
	Unknown:          "unknown",
	InvalidURL:       "invalid_url",
	Network:          "network",
	Parse:            "parse",
	DuplicateFeed:    "duplicate_feed",
	FeedNotFound:     "feed_not_found",
	PermissionDenied: "permission_denied",
}

// String returns the stable machine-readable name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[Unknown]
}

// Error is an error classified into a Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err as kind. A nil err yields nil.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage renders the user-facing message for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case InvalidURL:
		return "That doesn't look like a valid feed URL. Use an address starting with http:// or https://."
	case Network:
		return "Couldn't reach the feed. Check the URL and try again later."
	case Parse:
		return "The address didn't return a readable RSS feed."
	case DuplicateFeed:
		return "You're already subscribed to this feed."
	case FeedNotFound:
		return "Feed not found."
	case PermissionDenied:
		return "Notifications are not allowed. Enable notification delivery in the reader settings (TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID) and restart."
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return "Something went wrong: " + e.Message
	}
	return "Something went wrong: " + err.Error()
}
