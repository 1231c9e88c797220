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

package llr

import (
	"testing"

	"suesim/pkg/sim"
	"suesim/pkg/wire"
)

var peer = wire.MAC48{0, 0, 0, 0, 0, 9}

func newTestManager(emit EmitFunc) (*sim.Scheduler, *Manager) {
	s := sim.New()
	return s, NewManager(s, 1000, 0, emit, nil)
}

func TestLLR_OnReceiveInOrderAccepts(t *testing.T) {
	var acked []uint32
	s, m := newTestManager(func(_ wire.MAC48, _ uint8, seq uint32, nack bool) {
		if !nack {
			acked = append(acked, seq)
		}
	})
	_ = s
	for i := uint32(0); i < 3; i++ {
		if !m.OnReceive(peer, 0, i, 0) {
			t.Fatalf("in-order seq %d should be accepted", i)
		}
	}
}

func TestLLR_OnReceiveDuplicateDrops(t *testing.T) {
	_, m := newTestManager(func(wire.MAC48, uint8, uint32, bool) {})
	m.OnReceive(peer, 0, 0, 0)
	m.OnReceive(peer, 0, 1, 0)
	if m.OnReceive(peer, 0, 0, 0) {
		t.Fatalf("duplicate seq 0 must be dropped (L3 idempotence)")
	}
}

func TestLLR_OnReceiveGapEmitsNack(t *testing.T) {
	var nacks []uint32
	_, m := newTestManager(func(_ wire.MAC48, _ uint8, seq uint32, nack bool) {
		if nack {
			nacks = append(nacks, seq)
		}
	})
	if m.OnReceive(peer, 0, 5, 0) {
		t.Fatalf("out-of-order frame must be dropped, not delivered")
	}
	if len(nacks) != 1 || nacks[0] != 0 {
		t.Fatalf("expected NACK(0), got %v", nacks)
	}
}

func TestLLR_AckCoalesceThreshold(t *testing.T) {
	var acks int
	_, m := newTestManager(func(_ wire.MAC48, _ uint8, _ uint32, nack bool) {
		if !nack {
			acks++
		}
	})
	for i := uint32(0); i < ackCoalesceThreshold; i++ {
		m.OnReceive(peer, 0, i, 0)
	}
	if acks != 0 {
		t.Fatalf("no ACK expected before crossing threshold, got %d", acks)
	}
	m.OnReceive(peer, 0, ackCoalesceThreshold, 0)
	if acks != 1 {
		t.Fatalf("expected exactly one coalesced ACK, got %d", acks)
	}
}

func TestLLR_SendThenAckClearsSendList(t *testing.T) {
	_, m := newTestManager(func(wire.MAC48, uint8, uint32, bool) {})
	f := wire.NewFrame([]byte{1})
	m.Send(peer, 0, f)
	m.Send(peer, 0, wire.NewFrame([]byte{2}))
	if got := m.SendListLen(peer, 0); got != 2 {
		t.Fatalf("SendListLen = %d, want 2", got)
	}
	m.OnAck(peer, 0, 1)
	if got := m.SendListLen(peer, 0); got != 0 {
		t.Fatalf("SendListLen after ACK(1) = %d, want 0 (both entries covered)", got)
	}
}

func TestLLR_SendTagsSequence(t *testing.T) {
	_, m := newTestManager(func(wire.MAC48, uint8, uint32, bool) {})
	f := wire.NewFrame([]byte{1})
	seq := m.Send(peer, 0, f)
	got, ok := f.Tag(wire.TagSeq)
	if !ok || got.(uint32) != seq {
		t.Fatalf("frame should carry the assigned sequence as a side-tag")
	}
}

func TestLLR_OnNackArmsResendFromSeq(t *testing.T) {
	_, m := newTestManager(func(wire.MAC48, uint8, uint32, bool) {})
	m.Send(peer, 0, wire.NewFrame([]byte{1})) // seq 0
	m.Send(peer, 0, wire.NewFrame([]byte{2})) // seq 1
	m.Send(peer, 0, wire.NewFrame([]byte{3})) // seq 2

	m.OnNack(peer, 0, 1)
	seq, resending := m.Resending(peer, 0)
	if !resending || seq != 1 {
		t.Fatalf("Resending = (%d,%v), want (1,true)", seq, resending)
	}
	if got := m.SendListLen(peer, 0); got != 2 {
		t.Fatalf("SendListLen = %d, want 2 (seq 0 dropped, 1 and 2 kept)", got)
	}

	f, ok := m.NextResend(peer, 0)
	if !ok || f == nil {
		t.Fatalf("NextResend should return the retained frame for seq 1")
	}
}

func TestLLR_ResendTimerFiresWhenUnacked(t *testing.T) {
	s, m := newTestManager(func(wire.MAC48, uint8, uint32, bool) {})
	m.Send(peer, 0, wire.NewFrame([]byte{1}))
	s.Run()
	seq, resending := m.Resending(peer, 0)
	if !resending || seq != 0 {
		t.Fatalf("Resending after timeout = (%d,%v), want (0,true)", seq, resending)
	}
}

func TestLLR_ResendTimerNoopWhenSendListEmpty(t *testing.T) {
	s, m := newTestManager(func(wire.MAC48, uint8, uint32, bool) {})
	m.Send(peer, 0, wire.NewFrame([]byte{1}))
	m.OnAck(peer, 0, 0) // clears sendList and cancels timer before it fires
	s.Run()
	_, resending := m.Resending(peer, 0)
	if resending {
		t.Fatalf("resending should not be armed once ACKed before timeout")
	}
}

func TestLLR_WindowFullOnceUnackedReachesLimit(t *testing.T) {
	s := sim.New()
	m := NewManager(s, 1000, 2, func(wire.MAC48, uint8, uint32, bool) {}, nil)
	if m.WindowFull(peer, 0) {
		t.Fatalf("empty send list should not report a full window")
	}
	m.Send(peer, 0, wire.NewFrame([]byte{1}))
	m.Send(peer, 0, wire.NewFrame([]byte{2}))
	if !m.WindowFull(peer, 0) {
		t.Fatalf("window of 2 should be full after 2 unacked sends")
	}
	m.OnAck(peer, 0, 1)
	if m.WindowFull(peer, 0) {
		t.Fatalf("window should reopen once the ACK clears the send list")
	}
}

func TestLLR_ZeroWindowIsUnbounded(t *testing.T) {
	s := sim.New()
	m := NewManager(s, 1000, 0, func(wire.MAC48, uint8, uint32, bool) {}, nil)
	for i := 0; i < 100; i++ {
		m.Send(peer, 0, wire.NewFrame([]byte{byte(i)}))
	}
	if m.WindowFull(peer, 0) {
		t.Fatalf("window size 0 must never report full")
	}
}
