// Package uxerror turns errors into short notices with recovery hints for
// the TUI.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"llama-chat/internal/adapter/tui/theme"
	"llama-chat/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Backend Unavailable"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Code    domain.ErrorCode
	Raw     string // original error text, for the log
}

// Notice renders the error as a single status bar line.
func (fe FriendlyError) Notice() string {
	s := fe.Title
	if fe.Message != "" {
		s += ": " + fe.Message
	}
	if len(fe.Hints) > 0 {
		s += " (" + fe.Hints[0] + ")"
	}
	return s
}

// Render formats the error with all hints, for the help modal.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	return sb.String()
}

type template struct {
	title   string
	message string
	hints   []string
}

var byCode = map[domain.ErrorCode]template{
	domain.CodeTransportNotReady: {
		"Not Connected", "The streaming connection to the backend is not open.",
		[]string{"Send again to reconnect", "Check that the backend is running"},
	},
	domain.CodeTransportFailure: {
		"Connection Lost", "The streaming connection closed unexpectedly.",
		[]string{"Send again to reconnect"},
	},
	domain.CodeBackendUnavailable: {
		"Backend Unavailable", "The chat backend is not answering.",
		[]string{"Check backend.base_url in config", "Wait for the circuit breaker to reset"},
	},
	domain.CodeRestFailure: {
		"Request Failed", "The backend rejected the request.",
		[]string{"Try again", "See the log file for the backend's answer"},
	},
	domain.CodeNotFound: {
		"Not Found", "The conversation or message does not exist.",
		[]string{"Run /list to see conversations"},
	},
	domain.CodeTimeout: {
		"Timed Out", "The backend took too long to answer.",
		[]string{"Try again", "Increase backend.request_timeout"},
	},
	domain.CodeRateLimit: {
		"Rate Limited", "Too many requests were sent to the backend.",
		[]string{"Wait a moment before retrying"},
	},
	domain.CodeInvalidInput: {
		"Invalid Input", "",
		[]string{"Type /help for command usage"},
	},
	domain.CodeGenerationBusy: {
		"Busy", "A reply is still streaming.",
		[]string{"Press Esc to stop it first"},
	},
	domain.CodeRegenerateInFlight: {
		"Busy", "A message is already being regenerated.",
		[]string{"Wait for it to finish or press Esc"},
	},
	domain.CodeNoConversation: {
		"No Conversation", "No conversation is open.",
		[]string{"Run /new or /open <id>"},
	},
	domain.CodeSessionClosed: {
		"Session Closed", "The conversation was closed.",
		[]string{"Open it again with /open"},
	},
	domain.CodeCacheStore: {
		"Cache Error", "The local transcript cache failed.",
		[]string{"Check cache.path in config"},
	},
	domain.CodeConfigLoad: {
		"Configuration Error", "",
		[]string{"Run 'llama-chat doctor'"},
	},
}

// Humanize converts err into a FriendlyError.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Code: domain.CodeUnknown, Raw: "nil"}
	}
	return HumanizeCode(domain.ErrorCodeOf(err), err.Error(), detailOf(err))
}

// HumanizeCode builds a FriendlyError from a code and message carried on a
// session.error event.
func HumanizeCode(code domain.ErrorCode, raw, detail string) FriendlyError {
	t, ok := byCode[code]
	if !ok {
		return FriendlyError{
			Title:   "Unexpected Error",
			Message: raw,
			Hints:   []string{"Try again"},
			Code:    code,
			Raw:     raw,
		}
	}
	msg := t.message
	if msg == "" {
		msg = detail
	}
	return FriendlyError{Title: t.title, Message: msg, Hints: t.hints, Code: code, Raw: raw}
}

// detailOf returns the Detail of the outermost DomainError in err.
func detailOf(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return de.Detail
	}
	return ""
}
