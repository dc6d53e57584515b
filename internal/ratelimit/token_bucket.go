// Package ratelimit provides the per-connection inbound message limiter used
// by the signaling transport.
package ratelimit

import (
	"sync"
	"time"
)

// One token is stored as 1e9 nano-tokens so that a rate of N tokens/sec adds
// exactly N nano-tokens per elapsed nanosecond.
const nanoPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate using fixed-point arithmetic.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nano-tokens
	rate     int64 // tokens/sec == nano-tokens/ns

	avail int64 // nano-tokens
	last  time.Time
}

// NewTokenBucket returns a full bucket holding capacityTokens that refills at
// fillRate tokens per second. A nil clock uses wall time.
func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := toNano(capacityTokens)
	return &TokenBucket{
		clock:    clock,
		capacity: capacity,
		rate:     max(fillRate, 0),
		avail:    capacity,
		last:     clock.Now(),
	}
}

// NewPerSecond allows a burst of perSecond events and sustains perSecond
// events per second afterwards.
func NewPerSecond(clock Clock, perSecond int) *TokenBucket {
	return NewTokenBucket(clock, int64(perSecond), int64(perSecond))
}

// Allow takes tokens from the bucket if enough are available. Non-positive
// requests always succeed.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.clock.Now())
	if b.avail < cost {
		return false
	}
	b.avail -= cost
	return true
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Nanoseconds()
	// Clock went backwards: rebase without refilling.
	b.last = now
	if elapsed <= 0 || b.rate == 0 || b.avail >= b.capacity {
		return
	}

	// Clamp before multiplying so elapsed*rate cannot overflow.
	if elapsed >= (b.capacity-b.avail)/b.rate {
		b.avail = b.capacity
		return
	}
	b.avail = min(b.avail+elapsed*b.rate, b.capacity)
}

func toNano(tokens int64) int64 {
	switch {
	case tokens <= 0:
		return 0
	case tokens > maxInt64/nanoPerToken:
		return maxInt64
	default:
		return tokens * nanoPerToken
	}
}
