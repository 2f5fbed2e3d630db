package telegram

import (
	"strings"
	"sync"
)

// roster remembers members observed per chat, in first-seen order.
type roster struct {
	mu        sync.Mutex
	chats     map[int64][]int64
	usernames map[string]int64
}

func newRoster() *roster {
	return &roster{chats: map[int64][]int64{}, usernames: map[string]int64{}}
}

func (r *roster) observe(chat, user int64, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u := strings.ToLower(strings.TrimSpace(username)); u != "" {
		r.usernames[u] = user
	}
	for _, id := range r.chats[chat] {
		if id == user {
			return
		}
	}
	r.chats[chat] = append(r.chats[chat], user)
}

func (r *roster) forget(chat, user int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.chats[chat]
	for i, id := range ids {
		if id == user {
			r.chats[chat] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}

func (r *roster) members(chat int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.chats[chat]...)
}

func (r *roster) byUsername(name string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.usernames[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))]
	return id, ok
}
