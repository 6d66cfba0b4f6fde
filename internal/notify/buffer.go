// Package notify keeps the per-conversation history shown in rich
// notifications and handles the reply and mark-read notification actions.
package notify

import "sync"

// Entry is one line of a notification thread.
type Entry struct {
	Text         string
	TimestampMs  int64
	AuthorIsSelf bool
}

// Buffer is a process-lifetime map of conversation key to thread. One
// goroutine owns the map; every call is a request to it, so appends from
// concurrent callbacks are neither lost nor duplicated.
type Buffer struct {
	reqs      chan func(threads map[string][]Entry)
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewBuffer starts the owning goroutine. Close stops it.
func NewBuffer() *Buffer {
	b := &Buffer{
		reqs: make(chan func(map[string][]Entry)),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Buffer) run() {
	defer close(b.done)
	threads := make(map[string][]Entry)
	for {
		select {
		case req := <-b.reqs:
			req(threads)
		case <-b.quit:
			return
		}
	}
}

// do runs fn on the owning goroutine and waits for it. It reports false once
// the buffer is closed.
func (b *Buffer) do(fn func(map[string][]Entry)) bool {
	ack := make(chan struct{})
	select {
	case b.reqs <- func(m map[string][]Entry) { fn(m); close(ack) }:
	case <-b.done:
		return false
	}
	<-ack
	return true
}

// Append adds entry to the end of key's thread.
func (b *Buffer) Append(key string, entry Entry) {
	b.do(func(m map[string][]Entry) {
		m[key] = append(m[key], entry)
	})
}

// History returns a copy of key's thread in append order.
func (b *Buffer) History(key string) []Entry {
	var out []Entry
	b.do(func(m map[string][]Entry) {
		out = append([]Entry(nil), m[key]...)
	})
	if out == nil {
		out = []Entry{}
	}
	return out
}

// Clear drops key's thread.
func (b *Buffer) Clear(key string) {
	b.do(func(m map[string][]Entry) {
		delete(m, key)
	})
}

// Reset drops every thread. Used on logout.
func (b *Buffer) Reset() {
	b.do(func(m map[string][]Entry) {
		clear(m)
	})
}

// Keys returns the conversations that currently have a thread.
func (b *Buffer) Keys() []string {
	var keys []string
	b.do(func(m map[string][]Entry) {
		keys = make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
	})
	return keys
}

// Close stops the owning goroutine. Later calls are no-ops.
func (b *Buffer) Close() {
	b.closeOnce.Do(func() { close(b.quit) })
	<-b.done
}
