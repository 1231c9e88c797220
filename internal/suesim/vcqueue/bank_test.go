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

package vcqueue

import (
	"testing"

	"suesim/pkg/wire"
)

func TestBank_EnqueueRejectsOverCapacity(t *testing.T) {
	b := NewBank(2, 100, 0)
	if !b.Enqueue(0, wire.NewFrame(make([]byte, 80))) {
		t.Fatalf("80-byte enqueue into 100-byte vc should succeed")
	}
	if b.Enqueue(0, wire.NewFrame(make([]byte, 30))) {
		t.Fatalf("enqueue pushing bytes to 110 should be rejected")
	}
	if b.Bytes(0) != 80 {
		t.Fatalf("Bytes(0) = %d, want 80 (rejected enqueue must not mutate state)", b.Bytes(0))
	}
}

func TestBank_DequeueIsFIFO(t *testing.T) {
	b := NewBank(1, 1000, 0)
	a := wire.NewFrame([]byte{1})
	c := wire.NewFrame([]byte{2})
	b.Enqueue(0, a)
	b.Enqueue(0, c)
	got, ok := b.Dequeue(0)
	if !ok || got != a {
		t.Fatalf("expected FIFO order, got %v first", got)
	}
}

func TestBank_ReserveThenEnqueueRespectsCombinedCap(t *testing.T) {
	b := NewBank(1, 100, 8)
	if !b.Reserve(0, 50) {
		t.Fatalf("reserving 58 of 100 should succeed")
	}
	if b.Available(0) != 42 {
		t.Fatalf("Available(0) = %d, want 42", b.Available(0))
	}
	if b.Reserve(0, 50) {
		t.Fatalf("second reservation of 58 should fail, only 42 left")
	}
	b.Release(0, 50)
	if b.Available(0) != 100 {
		t.Fatalf("Available(0) = %d, want 100 after release", b.Available(0))
	}
}

func TestBank_ReleaseUnderflowClampsToZero(t *testing.T) {
	b := NewBank(1, 100, 0)
	b.Reserve(0, 10)
	if underflowed := b.Release(0, 999); !underflowed {
		t.Fatalf("over-release should report underflow")
	}
	if b.Reserved(0) != 0 {
		t.Fatalf("Reserved(0) = %d, want 0 (clamped)", b.Reserved(0))
	}
}

func TestBank_EmptyAndPeek(t *testing.T) {
	b := NewBank(1, 100, 0)
	if !b.Empty(0) {
		t.Fatalf("new queue should be empty")
	}
	f := wire.NewFrame([]byte{1, 2, 3})
	b.Enqueue(0, f)
	peeked, ok := b.Peek(0)
	if !ok || peeked != f {
		t.Fatalf("Peek should return head without removing it")
	}
	if b.Empty(0) {
		t.Fatalf("queue should not be empty after enqueue+peek")
	}
}
