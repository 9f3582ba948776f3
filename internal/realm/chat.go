package realm

import (
	"time"

	"spadina.network/internal/access"
)

// ChatMessage is one realm-channel message.
type ChatMessage struct {
	Principal access.Principal `msgpack:"principal"`
	At        time.Time        `msgpack:"at"`
	Body      string           `msgpack:"body"`
}

// chatRing keeps the most recent realm messages for join snapshots.
type chatRing struct {
	buf  []ChatMessage
	next int
	full bool
}

func newChatRing(capacity int) *chatRing {
	if capacity <= 0 {
		capacity = 128
	}
	return &chatRing{buf: make([]ChatMessage, capacity)}
}

func (r *chatRing) add(m ChatMessage) {
	r.buf[r.next] = m
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// tail returns the retained messages, oldest first.
func (r *chatRing) tail() []ChatMessage {
	if !r.full {
		return append([]ChatMessage(nil), r.buf[:r.next]...)
	}
	out := make([]ChatMessage, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// between returns retained messages in [from, to), oldest first.
func (r *chatRing) between(from, to time.Time) []ChatMessage {
	var out []ChatMessage
	for _, m := range r.tail() {
		if m.At.Before(from) || !m.At.Before(to) {
			continue
		}
		out = append(out, m)
	}
	return out
}
