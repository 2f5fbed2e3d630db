// Package inbound turns raw transport batches into validated messages with
// their group context resolved.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"groupbot/internal/transport"
)

var (
	// ErrNotNotify marks batches that are not live delivery (history sync, appends).
	ErrNotNotify = errors.New("inbound: not a notify batch")
	// ErrMalformed marks messages without a payload or text.
	ErrMalformed = errors.New("inbound: malformed message")
)

// Message is a normalized inbound message. It lives for one handler call.
type Message struct {
	ID       string
	Chat     transport.JID
	Sender   transport.JID
	FromSelf bool
	IsGroup  bool
	Text     string
	Mentions []transport.JID

	// Group is the fresh group snapshot (group messages only).
	Group   *transport.GroupContext
	IsAdmin bool
}

type MetadataSource interface {
	GroupMetadata(ctx context.Context, group transport.JID) (transport.GroupContext, error)
}

type Normalizer struct {
	// FetchTimeout bounds each group metadata fetch; 0 means no extra bound.
	FetchTimeout time.Duration
}

func NewNormalizer(fetchTimeout time.Duration) *Normalizer {
	return &Normalizer{FetchTimeout: fetchTimeout}
}

// Normalize validates batch and returns its first message.
// Later messages in the batch are dropped.
func (n *Normalizer) Normalize(ctx context.Context, src MetadataSource, batch transport.MessageBatch) (Message, error) {
	if batch.Class != transport.ClassNotify {
		return Message{}, ErrNotNotify
	}
	if len(batch.Messages) == 0 {
		return Message{}, fmt.Errorf("%w: empty batch", ErrMalformed)
	}
	raw := batch.Messages[0]

	text, mentions, ok := ExtractText(raw.Payload)
	if !ok {
		return Message{}, fmt.Errorf("%w: no text in %s", ErrMalformed, raw.ID)
	}

	msg := Message{
		ID:       raw.ID,
		Chat:     raw.Chat,
		Sender:   raw.Chat,
		FromSelf: raw.FromSelf,
		IsGroup:  raw.Chat.IsGroup(),
		Text:     text,
		Mentions: mentions,
	}
	if !raw.Participant.IsEmpty() {
		msg.Sender = raw.Participant
	}
	if !msg.IsGroup {
		return msg, nil
	}

	fctx := ctx
	if n.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, n.FetchTimeout)
		defer cancel()
	}
	g, err := src.GroupMetadata(fctx, msg.Chat)
	if err != nil {
		return Message{}, fmt.Errorf("inbound: group metadata %s: %w", msg.Chat, err)
	}
	msg.Group = &g
	if p, found := g.Lookup(msg.Sender); found {
		msg.IsAdmin = p.IsAdmin
	}
	return msg, nil
}

// ExtractText reads the direct text field, falling back to the extended-text
// field. It reports false when the payload is absent or the text is empty.
func ExtractText(p *transport.Payload) (string, []transport.JID, bool) {
	if p == nil {
		return "", nil, false
	}
	if p.Conversation != "" {
		var mentions []transport.JID
		if p.ExtendedText != nil {
			mentions = p.ExtendedText.MentionedJIDs
		}
		return p.Conversation, mentions, true
	}
	if p.ExtendedText != nil && strings.TrimSpace(p.ExtendedText.Text) != "" {
		return p.ExtendedText.Text, p.ExtendedText.MentionedJIDs, true
	}
	return "", nil, false
}
