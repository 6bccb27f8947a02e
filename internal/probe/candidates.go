// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package probe

import (
	"context"
	"sync"
)

// StaticCandidates replays candidates collected by the client before the
// scan request was sent.
type StaticCandidates []string

func (s StaticCandidates) Gather(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, len(s))
	for _, c := range s {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// CandidateChannel is fed by a live client connection while the probe waits.
type CandidateChannel struct {
	mu     sync.Mutex
	ch     chan string
	closed bool
}

func NewCandidateChannel(buffer int) *CandidateChannel {
	if buffer < 1 {
		buffer = 1
	}
	return &CandidateChannel{ch: make(chan string, buffer)}
}

func (c *CandidateChannel) Gather(ctx context.Context) (<-chan string, error) {
	return c.ch, nil
}

// Push delivers a candidate without blocking. It reports false when the
// channel is closed or its buffer is full.
func (c *CandidateChannel) Push(candidate string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.ch <- candidate:
		return true
	default:
		return false
	}
}

func (c *CandidateChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}
