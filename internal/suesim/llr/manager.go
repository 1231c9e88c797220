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

// Package llr implements Link-Layer Retransmission: per-(peer,VC) send
// list, expected-sequence tracking, retransmit timer and ACK/NACK
// generation/processing (§4.5).
//
// The spec describes two flavours sharing identical state but differing in
// how a retransmit is routed once armed: a node manager feeds its own TX
// path directly, a switch-port manager schedules a handoff onto the
// egress port instead. Rather than two parallel types, this Manager takes
// that routing as an injected callback (a ResendReadyFunc, held in the
// onReady field) — same state
// machine, two wirings, matching §9's preference for tagged composition
// over a class hierarchy.
package llr

import (
	"suesim/pkg/sim"
	"suesim/pkg/wire"
)

// ackCoalesceThreshold is fixed per §4.5: an ACK is emitted once more than
// this many frames (i.e. the fifth) have been accepted since the last ACK,
// regardless of the timeout.
const ackCoalesceThreshold = 4

type peerVC struct {
	peer wire.MAC48
	vc   uint8
}

// state is the per-(peer,VC) LLR bookkeeping (§3 "LLR state"). recvNext and
// sendWindowStart both correspond to what the spec calls "expectedSeq" —
// one on the receive side (next inbound sequence expected), one on the
// send side (lowest seq in sendList not yet ACK-superseded, i.e. what the
// peer is expected to still be waiting for). They are split into two named
// fields here because a single link carries both roles concurrently and
// conflating them in code invites exactly the kind of bug §9 calls out in
// the original implementation.
type state struct {
	sendSeq  uint32
	sendList map[uint32]*wire.Frame

	sendWindowStart  uint32 // P5's "expectedSeqOfPeer"
	resendSeq        uint32
	resending        bool
	waitingForResync bool
	hasTimer         bool
	timer            sim.Handle

	recvNext        uint32 // next inbound sequence expected
	unacked         int
	lastAckSentTime int64
}

// EmitFunc builds and sends an ACK (nack=false) or NACK (nack=true) for the
// given sequence number back to peer on vc.
type EmitFunc func(peer wire.MAC48, vc uint8, seq uint32, nack bool)

// ResendReadyFunc is invoked once resending has been armed for (peer,vc):
// the node variant wires this to the port's TryTransmit; the switch-port
// variant wires it to a scheduled ingress->egress handoff.
type ResendReadyFunc func(peer wire.MAC48, vc uint8)

// Manager owns LLR state for every (peer,VC) pair on one port.
type Manager struct {
	sched   *sim.Scheduler
	timeout int64
	window  int
	emit    EmitFunc
	onReady ResendReadyFunc
	states  map[peerVC]*state
}

// NewManager creates an LLR manager. timeout is llrTimeout (§6); window is
// llrWindowSize, the maximum number of unacknowledged frames retained per
// (peer,VC) before the sender must stall (0 leaves the window unbounded);
// emit sends ACK/NACK frames; onReady routes an armed retransmit per the
// node/switch distinction described above.
func NewManager(sched *sim.Scheduler, timeout int64, window int, emit EmitFunc, onReady ResendReadyFunc) *Manager {
	return &Manager{sched: sched, timeout: timeout, window: window, emit: emit, onReady: onReady, states: make(map[peerVC]*state)}
}

// WindowFull reports whether (peer,vc) has exhausted its send window: a
// port must not dequeue further VC traffic toward peer until an ACK frees
// send-list space.
func (m *Manager) WindowFull(peer wire.MAC48, vc uint8) bool {
	if m.window <= 0 {
		return false
	}
	return len(m.get(peer, vc).sendList) >= m.window
}

func (m *Manager) get(peer wire.MAC48, vc uint8) *state {
	k := peerVC{peer, vc}
	st, ok := m.states[k]
	if !ok {
		st = &state{sendList: make(map[uint32]*wire.Frame)}
		m.states[k] = st
	}
	return st
}

// Send assigns the next outgoing sequence number for (peer,vc), tags pkt
// with it, retains a clone for retransmission, and (re)arms the resend
// timer. Returns the assigned sequence number.
func (m *Manager) Send(peer wire.MAC48, vc uint8, pkt *wire.Frame) uint32 {
	st := m.get(peer, vc)
	seq := st.sendSeq
	st.sendSeq++
	pkt.SetTag(wire.TagSeq, seq)
	st.sendList[seq] = pkt.Clone()
	m.rearm(peer, vc, st)
	return seq
}

func (m *Manager) cancelTimer(st *state) {
	if st.hasTimer {
		m.sched.Cancel(st.timer)
		st.hasTimer = false
	}
}

func (m *Manager) rearm(peer wire.MAC48, vc uint8, st *state) {
	m.cancelTimer(st)
	st.timer = m.sched.Schedule(m.timeout, func() { m.resend(peer, vc) })
	st.hasTimer = true
}

// resend fires on timer expiry: §4.5 "if sendList empty, clear resending
// and return; else set resendSeq = min(sendList.keys), resending = true."
func (m *Manager) resend(peer wire.MAC48, vc uint8) {
	st := m.get(peer, vc)
	st.hasTimer = false
	if len(st.sendList) == 0 {
		st.resending = false
		return
	}
	st.resendSeq = minKey(st.sendList)
	st.resending = true
	if m.onReady != nil {
		m.onReady(peer, vc)
	}
}

func minKey(m map[uint32]*wire.Frame) uint32 {
	first := true
	var min uint32
	for k := range m {
		if first || k < min {
			min = k
			first = false
		}
	}
	return min
}

// Resending reports whether (peer,vc) currently has an armed retransmit,
// and if so the sequence number to resend next.
func (m *Manager) Resending(peer wire.MAC48, vc uint8) (seq uint32, ok bool) {
	st := m.get(peer, vc)
	return st.resendSeq, st.resending
}

// NextResend returns the frame at resendSeq for actual retransmission,
// advances resendSeq, and rearms the resend timer. The frame stays in the
// send list until an ACK removes it. Once resendSeq has moved past the
// last retained frame, the lookup fails: resending is cleared and
// (nil, false) is returned.
func (m *Manager) NextResend(peer wire.MAC48, vc uint8) (*wire.Frame, bool) {
	st := m.get(peer, vc)
	if !st.resending {
		return nil, false
	}
	f, ok := st.sendList[st.resendSeq]
	if !ok {
		st.resending = false
		return nil, false
	}
	st.resendSeq++
	m.rearm(peer, vc, st)
	return f, true
}

// OnReceive processes an inbound data frame's sequence number (§4.5).
// Returns true if the frame should be delivered upward (processing queue),
// false if it must be dropped (duplicate, or out-of-order awaiting resync).
func (m *Manager) OnReceive(peer wire.MAC48, vc uint8, seq uint32, now int64) bool {
	st := m.get(peer, vc)
	switch {
	case seq == st.recvNext:
		st.recvNext++
		st.unacked++
		if st.unacked > ackCoalesceThreshold || now-st.lastAckSentTime > m.timeout {
			m.emit(peer, vc, seq, false)
			st.lastAckSentTime = now
			st.unacked = 0
		}
		st.waitingForResync = false
		st.resending = false
		return true
	case seq < st.recvNext:
		return false // duplicate, silent drop (L3)
	default:
		m.emit(peer, vc, st.recvNext, true)
		st.waitingForResync = true
		st.resendSeq = st.recvNext
		return false
	}
}

// OnAck processes an ACK carrying seq (§4.5).
func (m *Manager) OnAck(peer wire.MAC48, vc uint8, seq uint32) {
	st := m.get(peer, vc)
	if seq < st.sendWindowStart {
		return // stale
	}
	if _, ok := st.sendList[seq]; !ok {
		return // out-of-order/duplicate ack
	}
	for k := range st.sendList {
		if k <= seq {
			delete(st.sendList, k)
		}
	}
	st.sendWindowStart = seq + 1
	st.resending = false
	m.cancelTimer(st)
	// Frames past the acknowledged seq are still unconfirmed; without a
	// live timer a loss among them would never be repaired once the
	// sender goes quiet.
	if len(st.sendList) > 0 {
		m.rearm(peer, vc, st)
	}
}

// OnNack processes a NACK carrying seq (§4.5).
func (m *Manager) OnNack(peer wire.MAC48, vc uint8, seq uint32) {
	st := m.get(peer, vc)
	if seq < st.sendWindowStart {
		return // stale
	}
	if _, ok := st.sendList[seq]; !ok {
		return
	}
	for k := range st.sendList {
		if k < seq {
			delete(st.sendList, k)
		}
	}
	st.sendWindowStart = seq
	st.resendSeq = seq
	st.resending = true
	m.rearm(peer, vc, st)
	if m.onReady != nil {
		m.onReady(peer, vc)
	}
}

// SendListLen reports how many unacknowledged frames are retained for
// (peer,vc); used by tests asserting P5.
func (m *Manager) SendListLen(peer wire.MAC48, vc uint8) int {
	return len(m.get(peer, vc).sendList)
}
