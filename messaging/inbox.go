// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"fmt"
	"sync"
)

// Inbox is a bounded FIFO of received events. Appends preserve order;
// when the inbox is full the oldest event is dropped and counted.
// Readers get copies, never a view of the live slice.
//
// Thread-safe: all methods may be called concurrently.
type Inbox struct {
	mu       sync.Mutex
	events   []MessageEvent
	capacity int
	dropped  uint64
	notify   chan struct{}
	metrics  *Metrics
}

// NewInbox creates an Inbox holding at most capacity events. The
// capacity must be positive. metrics may be nil.
func NewInbox(capacity int, metrics *Metrics) *Inbox {
	if capacity <= 0 {
		panic(fmt.Sprintf("inbox: capacity must be positive, got %d", capacity))
	}
	return &Inbox{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		metrics:  metrics,
	}
}

// Append adds event at the tail.
func (i *Inbox) Append(event MessageEvent) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.events) >= i.capacity {
		i.events[0] = MessageEvent{}
		i.events = i.events[1:]
		i.dropped++
		i.metrics.inboxDropped()
	}
	i.events = append(i.events, event)
	i.metrics.inboxSize(len(i.events))

	select {
	case i.notify <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the current contents in insertion order.
func (i *Inbox) Snapshot() []MessageEvent {
	i.mu.Lock()
	defer i.mu.Unlock()
	snapshot := make([]MessageEvent, len(i.events))
	copy(snapshot, i.events)
	return snapshot
}

// Clear empties the inbox and returns how many events it held.
func (i *Inbox) Clear() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	removed := len(i.events)
	i.events = nil
	i.metrics.inboxSize(0)
	return removed
}

// Take empties the inbox and returns what it held, in one step.
func (i *Inbox) Take() []MessageEvent {
	i.mu.Lock()
	defer i.mu.Unlock()
	events := i.events
	i.events = nil
	i.metrics.inboxSize(0)
	return events
}

// Len returns the number of buffered events.
func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.events)
}

// Dropped returns how many events overflow has discarded since
// creation.
func (i *Inbox) Dropped() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dropped
}

// Notify returns a channel signalled (at most once per Append) when an
// event arrives.
func (i *Inbox) Notify() <-chan struct{} {
	return i.notify
}
