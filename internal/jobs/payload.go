package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bulksend/internal/channel"
)

// Payload is the JSON stored in Job.Data. Which fields matter depends on Type.
type Payload struct {
	Message  string            `json:"message,omitempty"`
	Messages map[string]string `json:"messages,omitempty"`
	Media    *channel.Media    `json:"media,omitempty"`
	DelayMs  *int64            `json:"delayMs,omitempty"`
}

var errNoContent = errors.New("no content resolved for recipient")

// Delay returns the per-job override, or nil when the job uses the default.
func (p Payload) Delay() *time.Duration {
	if p.DelayMs == nil {
		return nil
	}
	d := time.Duration(*p.DelayMs) * time.Millisecond
	return &d
}

// ParsePayload decodes and validates data for the given job type.
func ParsePayload(typ Type, data []byte) (Payload, error) {
	var p Payload
	if len(data) == 0 {
		return p, invalid("data", "required")
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, invalid("data", "malformed json: %v", err)
	}

	switch typ {
	case TypeSendText:
		if strings.TrimSpace(p.Message) == "" {
			return p, invalid("data.message", "required for %s", typ)
		}
	case TypeSendPersonalized:
		if len(p.Messages) == 0 {
			return p, invalid("data.messages", "required for %s", typ)
		}
		norm := make(map[string]string, len(p.Messages))
		for k, v := range p.Messages {
			r := NormalizeRecipient(k)
			if r == "" {
				return p, invalid("data.messages", "bad recipient key %q", k)
			}
			norm[r] = v
		}
		p.Messages = norm
	case TypeSendMedia:
		if p.Media == nil || strings.TrimSpace(p.Media.URL) == "" {
			return p, invalid("data.media.url", "required for %s", typ)
		}
	default:
		return p, invalid("type", "unknown job type %q", typ)
	}

	if p.DelayMs != nil {
		d := time.Duration(*p.DelayMs) * time.Millisecond
		if d < 0 {
			return p, invalid("data.delayMs", "must not be negative")
		}
		if d > MaxDelay {
			return p, invalid("data.delayMs", "must be at most %s", MaxDelay)
		}
	}
	return p, nil
}

// Resolve builds the message for one recipient. A miss is a per-item error.
func (p Payload) Resolve(typ Type, recipient string) (channel.Message, error) {
	switch typ {
	case TypeSendText:
		return channel.Message{Text: p.Message}, nil
	case TypeSendPersonalized:
		if text, ok := p.Messages[recipient]; ok && strings.TrimSpace(text) != "" {
			return channel.Message{Text: text}, nil
		}
		if strings.TrimSpace(p.Message) != "" {
			return channel.Message{Text: p.Message}, nil
		}
		return channel.Message{}, errNoContent
	case TypeSendMedia:
		m := *p.Media
		return channel.Message{Media: &m}, nil
	}
	return channel.Message{}, fmt.Errorf("unknown job type %q", typ)
}

// NormalizeRecipient canonicalizes an address. Identifiers with an "@" (group
// or user JIDs) are lower-cased; anything else is treated as a phone number
// and reduced to its digits.
func NormalizeRecipient(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "@") {
		return strings.ToLower(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeRecipients returns distinct normalized recipients in input order.
func normalizeRecipients(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, invalid("recipients", "at least one recipient is required")
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		r := NormalizeRecipient(raw)
		if r == "" {
			return nil, invalid("recipients", "bad recipient %q", raw)
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}
