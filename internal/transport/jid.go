package transport

import (
	"fmt"
	"strings"
)

const (
	ServerGroup = "g.us"
	ServerUser  = "c.us"
)

// JID is a "user@server" identifier.
type JID string

func NewJID(user, server string) JID {
	return JID(user + "@" + server)
}

func GroupJID(id int64) JID { return NewJID(fmt.Sprint(id), ServerGroup) }
func UserJID(id int64) JID  { return NewJID(fmt.Sprint(id), ServerUser) }

func ParseJID(s string) (JID, error) {
	s = strings.TrimSpace(s)
	user, server, ok := strings.Cut(s, "@")
	if !ok || user == "" || server == "" {
		return "", fmt.Errorf("invalid jid %q", s)
	}
	return JID(s), nil
}

// User is the local part, used in mention text ("@<user>").
func (j JID) User() string {
	user, _, _ := strings.Cut(string(j), "@")
	return user
}

func (j JID) Server() string {
	_, server, _ := strings.Cut(string(j), "@")
	return server
}

func (j JID) IsGroup() bool { return j.Server() == ServerGroup }

func (j JID) IsEmpty() bool { return j == "" }

func (j JID) String() string { return string(j) }

// Mention renders "@<user>".
func (j JID) Mention() string { return "@" + j.User() }
