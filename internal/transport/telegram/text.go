package telegram

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"groupbot/internal/transport"
)

// textLimit is measured in UTF-16 code units, like the Bot API's 4096 limit.
const textLimit = 4000

// splitText splits long messages on newline boundaries where possible.
// Chunk length is counted in UTF-16 code units.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	if utf16Len(s) <= limit {
		return []string{s}
	}

	rs := []rune(s)
	// units[i] is the UTF-16 length of rs[:i].
	units := make([]int, len(rs)+1)
	for i, r := range rs {
		units[i+1] = units[i] + utf16.RuneLen(r)
	}

	out := make([]string, 0, units[len(rs)]/limit+1)
	start := 0
	for start < len(rs) {
		end := start
		for end < len(rs) && units[end+1]-units[start] <= limit {
			end++
		}
		if end == start {
			end++
		}

		// Prefer a newline near the end of the window; avoid tiny chunks.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && units[i]-units[start] >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// mentionEntities turns "@<user>" tokens in text into text_mention entities,
// consuming mentions in order. It returns how many mentions were consumed; a
// mention whose token is not found stops the scan so the next chunk can take it.
func mentionEntities(text string, mentions []transport.JID) (tele.Entities, int) {
	var out tele.Entities
	pos := 0
	used := 0
	for _, m := range mentions {
		token := m.Mention()
		idx := findToken(text[pos:], token)
		if idx < 0 {
			break
		}
		at := pos + idx
		used++
		pos = at + len(token)

		id, err := strconv.ParseInt(m.User(), 10, 64)
		if err != nil || m.Server() != transport.ServerUser {
			continue
		}
		out = append(out, tele.MessageEntity{
			Type:   tele.EntityTMention,
			Offset: utf16Len(text[:at]),
			Length: utf16Len(token),
			User:   &tele.User{ID: id},
		})
	}
	return out, used
}

// findToken finds token not followed by another word character, so "@7"
// does not match inside "@78".
func findToken(s, token string) int {
	off := 0
	for {
		i := strings.Index(s[off:], token)
		if i < 0 {
			return -1
		}
		end := off + i + len(token)
		if end == len(s) {
			return off + i
		}
		r, _ := utf8.DecodeRuneInString(s[end:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return off + i
		}
		off = end
	}
}

// chatJID maps a chat to its identifier namespace.
func chatJID(c *tele.Chat) transport.JID {
	if c == nil {
		return ""
	}
	switch c.Type {
	case tele.ChatGroup, tele.ChatSuperGroup:
		return transport.GroupJID(c.ID)
	default:
		return transport.UserJID(c.ID)
	}
}

// chatID parses the numeric chat or user id out of a JID.
func chatID(j transport.JID) (int64, error) {
	return strconv.ParseInt(j.User(), 10, 64)
}
