package transport

import "strings"

// MentionList renders header followed by one "@<user>" line per id and
// mentions every id.
func MentionList(header string, ids []JID) OutgoingMessage {
	var b strings.Builder
	b.WriteString(header)
	for _, id := range ids {
		b.WriteString("\n")
		b.WriteString(id.Mention())
	}
	return OutgoingMessage{Text: b.String(), Mentions: append([]JID(nil), ids...)}
}

// ParticipantJIDs returns the ids of ps in roster order.
func ParticipantJIDs(ps []Participant) []JID {
	out := make([]JID, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.JID)
	}
	return out
}
