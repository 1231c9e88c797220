// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vcqueue implements the per-port bank of bounded, per-VC byte FIFOs
// plus the reservation sub-allocator the SUE client uses to guarantee a
// port can accept a packed burst before committing to it (§4.2).
package vcqueue

import "suesim/pkg/wire"

// queue is one VC's FIFO of frames, tracked by cumulative byte size.
type queue struct {
	frames []*wire.Frame
	bytes  int
}

// Bank is the set of per-VC queues owned by one port, plus the reservation
// accounting layered on top of them. Capacity invariant (P1):
// bytes[vc] + reserved[vc] <= maxBytes.
type Bank struct {
	maxBytes             int
	additionalHeaderSize int
	queues               []queue
	reserved             []int
}

// NewBank creates a Bank with numVcs queues, each capped at maxBytes.
// additionalHeaderSize is added to every Reserve request to account for
// headers stamped on between reservation and actual enqueue (CBFC + PPP +
// sequence tag, per §4.2).
func NewBank(numVcs int, maxBytes, additionalHeaderSize int) *Bank {
	return &Bank{
		maxBytes:             maxBytes,
		additionalHeaderSize: additionalHeaderSize,
		queues:               make([]queue, numVcs),
		reserved:             make([]int, numVcs),
	}
}

// Enqueue appends f to vc's queue if doing so would not exceed maxBytes.
// Returns false (reject; caller emits VCQueueFull) on overflow.
func (b *Bank) Enqueue(vc uint8, f *wire.Frame) bool {
	q := &b.queues[vc]
	n := f.Len()
	if q.bytes+n > b.maxBytes {
		return false
	}
	q.frames = append(q.frames, f)
	q.bytes += n
	return true
}

// Dequeue pops the head of vc's queue, if any.
func (b *Bank) Dequeue(vc uint8) (*wire.Frame, bool) {
	q := &b.queues[vc]
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	q.bytes -= f.Len()
	return f, true
}

// Peek returns the head of vc's queue without removing it.
func (b *Bank) Peek(vc uint8) (*wire.Frame, bool) {
	q := &b.queues[vc]
	if len(q.frames) == 0 {
		return nil, false
	}
	return q.frames[0], true
}

// Empty reports whether vc's queue currently holds no frames.
func (b *Bank) Empty(vc uint8) bool { return len(b.queues[vc].frames) == 0 }

// Bytes returns the current byte occupancy of vc's queue (excludes
// reservations).
func (b *Bank) Bytes(vc uint8) int { return b.queues[vc].bytes }

// Reserved returns the bytes currently reserved (but not yet enqueued) on vc.
func (b *Bank) Reserved(vc uint8) int { return b.reserved[vc] }

// MaxBytes returns the configured per-VC byte ceiling.
func (b *Bank) MaxBytes() int { return b.maxBytes }

// Available returns how many more bytes vc's queue can accept right now,
// accounting for both enqueued bytes and outstanding reservations.
func (b *Bank) Available(vc uint8) int {
	return b.maxBytes - b.queues[vc].bytes - b.reserved[vc]
}

// Reserve attempts to set aside n + additionalHeaderSize bytes on vc ahead
// of an actual enqueue. Returns false without side effects if the capacity
// isn't available.
func (b *Bank) Reserve(vc uint8, n int) bool {
	need := n + b.additionalHeaderSize
	if need > b.Available(vc) {
		return false
	}
	b.reserved[vc] += need
	return true
}

// Release returns n + additionalHeaderSize bytes previously set aside by
// Reserve back to the pool. If the release would drive the reservation
// negative (a ReservationUnderflow, §7), it clamps to zero and reports
// true so the caller can log a warning; this never panics, unlike a
// CreditOverflow.
func (b *Bank) Release(vc uint8, n int) (underflowed bool) {
	amount := n + b.additionalHeaderSize
	if amount > b.reserved[vc] {
		b.reserved[vc] = 0
		return true
	}
	b.reserved[vc] -= amount
	return false
}
