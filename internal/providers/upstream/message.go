package upstream

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const maxMessageRunes = 500

// messageStrategy tries to pull a human-readable message out of a body.
type messageStrategy func(body []byte) (string, bool)

// messageStrategies run in order; the first hit wins.
var messageStrategies = []messageStrategy{
	jsonErrorMessage,
	rawTextMessage,
}

// ExtractMessage returns the most specific message found in body, or fallback
// when the body is empty or unusable.
func ExtractMessage(body []byte, fallback string) string {
	for _, strategy := range messageStrategies {
		if msg, ok := strategy(body); ok {
			return truncate(msg)
		}
	}
	return fallback
}

// jsonErrorMessage recognises the common error envelopes:
//
//	{"error": "..."}
//	{"error": {"message": "..."}}
//	{"message": "..."}
//	{"detail": "..."}
//	{"errors": ["..."]}
func jsonErrorMessage(body []byte) (string, bool) {
	var envelope struct {
		Error   json.RawMessage   `json:"error"`
		Message string            `json:"message"`
		Detail  json.RawMessage   `json:"detail"`
		Errors  []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", false
	}
	if msg, ok := stringOrMessage(envelope.Error); ok {
		return msg, true
	}
	if msg := strings.TrimSpace(envelope.Message); msg != "" {
		return msg, true
	}
	if msg, ok := stringOrMessage(envelope.Detail); ok {
		return msg, true
	}
	for _, item := range envelope.Errors {
		if msg, ok := stringOrMessage(item); ok {
			return msg, true
		}
	}
	return "", false
}

func stringOrMessage(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var nested struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return "", false
	}
	if msg := strings.TrimSpace(nested.Message); msg != "" {
		return msg, true
	}
	if msg := strings.TrimSpace(nested.Error); msg != "" {
		return msg, true
	}
	return "", false
}

func rawTextMessage(body []byte) (string, bool) {
	if !utf8.Valid(body) {
		return "", false
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", false
	}
	// JSON with no recognised message field is not a useful message either.
	if json.Valid(body) && (strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[")) {
		return "", false
	}
	return text, true
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxMessageRunes {
		return s
	}
	return string(runes[:maxMessageRunes]) + "..."
}
