package transport

import (
	"context"
	"errors"
)

var (
	// ErrLoggedOut is the authoritative close reason: the credentials were revoked
	// and reconnecting with them will never succeed.
	ErrLoggedOut = errors.New("transport: logged out")
	// ErrConnectionClosed is a recoverable close reason.
	ErrConnectionClosed = errors.New("transport: connection closed")
	// ErrNoCredentials marks a connect attempt with nothing to authenticate with.
	// Transports return it together with ErrLoggedOut.
	ErrNoCredentials = errors.New("transport: no credentials")
	// ErrActionFailed wraps adapter errors returned by outbound actions.
	ErrActionFailed = errors.New("transport: action failed")
)

type EventKind string

const (
	EventCredentials EventKind = "credentials"
	EventConnection  EventKind = "connection"
	EventMessages    EventKind = "messages"
)

// Event is one item of the session's single event surface.
// Exactly one payload pointer is set, matching Kind.
type Event struct {
	Kind        EventKind
	Credentials *CredentialsRotated
	Connection  *ConnectionUpdate
	Batch       *MessageBatch
}

// CredentialsRotated carries a new credentials blob.
// The receiver must call Ack once the blob is durable (or failed to persist).
type CredentialsRotated struct {
	Blob []byte
	Ack  func(err error)
}

type ConnState string

const (
	ConnOpen       ConnState = "open"
	ConnConnecting ConnState = "connecting"
	ConnClose      ConnState = "close"
)

type ConnectionUpdate struct {
	State ConnState
	// Reason is set on ConnClose. errors.Is(Reason, ErrLoggedOut) marks a terminal close.
	Reason error
	// PairingCode is set when the transport needs the operator to pair a device.
	PairingCode string
}

// BatchClass is the delivery classification of a message batch.
type BatchClass string

const (
	ClassNotify BatchClass = "notify"
	ClassAppend BatchClass = "append"
)

type MessageBatch struct {
	Class    BatchClass
	Messages []Message
}

// Message is a raw inbound message as delivered by the transport.
type Message struct {
	ID          string
	Chat        JID
	Participant JID // sender inside a group; empty for direct chats
	FromSelf    bool
	Payload     *Payload
}

type Payload struct {
	Conversation string
	ExtendedText *ExtendedText
}

type ExtendedText struct {
	Text          string
	MentionedJIDs []JID
}

type OutgoingMessage struct {
	Text     string
	Mentions []JID
}

type Participant struct {
	JID     JID
	IsAdmin bool
}

// GroupContext is a fresh snapshot of a group's metadata.
type GroupContext struct {
	ID           JID
	Subject      string
	Participants []Participant
}

// Admins returns the admin participants in roster order.
func (g GroupContext) Admins() []Participant {
	out := make([]Participant, 0, len(g.Participants))
	for _, p := range g.Participants {
		if p.IsAdmin {
			out = append(out, p)
		}
	}
	return out
}

// Lookup finds a participant by JID.
func (g GroupContext) Lookup(id JID) (Participant, bool) {
	for _, p := range g.Participants {
		if p.JID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// Client opens sessions.
type Client interface {
	Connect(ctx context.Context, creds []byte) (Session, error)
}

// Session is one live connection.
//
// Events is closed after the final ConnClose update has been delivered.
type Session interface {
	Events() <-chan Event

	SendMessage(ctx context.Context, to JID, msg OutgoingMessage) error
	RemoveParticipants(ctx context.Context, group JID, members []JID) error
	GroupMetadata(ctx context.Context, group JID) (GroupContext, error)

	Self() JID
	Close() error
}
