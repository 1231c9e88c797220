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

// Package cbfc implements Credit-Based Flow Control accounting for one port:
// one sender-side counter per (peer, VC) tracking how many frames may still
// go on the wire, and one receiver-side counter accumulating frames
// consumed since the last outbound credit-update (§4.1).
package cbfc

import (
	"fmt"

	"suesim/internal/suesim/telemetry"
	"suesim/pkg/wire"
)

// peerVC is the composite key both credit maps are indexed by.
type peerVC struct {
	peer wire.MAC48
	vc   uint8
}

// OverflowError is raised (via panic, recovered at the scheduler boundary —
// §7) when a credit grant would push txCredits past the configured
// ceiling. It is the one CBFC failure mode the spec calls a fatal
// invariant breach rather than a local drop.
type OverflowError struct {
	Peer wire.MAC48
	VC   uint8
	New  uint32
	Max  uint32
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("cbfc: credit overflow for peer %s vc %d: %d > ceiling %d", e.Peer, e.VC, e.New, e.Max)
}

// Manager tracks CBFC credits for every (peer, VC) pair seen on one port.
type Manager struct {
	enabled   bool
	ceiling   uint32
	batchSize uint32

	tx        map[peerVC]uint32
	rxPending map[peerVC]uint32
}

// NewManager creates a credit manager. When enabled is false, TryConsume
// always succeeds and MaybeReturn is a no-op: the link degrades to
// unthrottled, in-order-only semantics (§4.1).
func NewManager(enabled bool, ceiling, batchSize uint32) *Manager {
	if batchSize == 0 {
		batchSize = 1
	}
	return &Manager{
		enabled:   enabled,
		ceiling:   ceiling,
		batchSize: batchSize,
		tx:        make(map[peerVC]uint32),
		rxPending: make(map[peerVC]uint32),
	}
}

// AddPeer seeds both the tx-credit and rx-pending maps for a newly
// discovered peer on this VC. Every port's Attach seeds its external link
// with the same InitialCredits; the switch's internal ingress->egress pool
// (switchfwd.New) is seeded with its own, separately configured count
// (§4.1; kept configurable per §9, never a literal).
func (m *Manager) AddPeer(peer wire.MAC48, vc uint8, initialCredits uint32) {
	k := peerVC{peer, vc}
	if _, ok := m.tx[k]; !ok {
		m.tx[k] = initialCredits
	}
	if _, ok := m.rxPending[k]; !ok {
		m.rxPending[k] = 0
	}
}

// TxCredits returns the credits currently available to send to peer on vc.
func (m *Manager) TxCredits(peer wire.MAC48, vc uint8) uint32 {
	return m.tx[peerVC{peer, vc}]
}

// TryConsume atomically decrements the credit count if it is positive,
// reporting whether a credit was available. Always true when CBFC is
// disabled.
func (m *Manager) TryConsume(peer wire.MAC48, vc uint8) bool {
	if !m.enabled {
		return true
	}
	k := peerVC{peer, vc}
	if m.tx[k] == 0 {
		return false
	}
	m.tx[k]--
	return true
}

// Grant increments the tx-credit counter for peer/vc by n, typically in
// response to a received credit-update frame. Panics with *OverflowError if
// the new total would exceed the configured ceiling.
func (m *Manager) Grant(peer wire.MAC48, vc uint8, n uint32) {
	k := peerVC{peer, vc}
	newVal := m.tx[k] + n
	if m.ceiling > 0 && newVal > m.ceiling {
		telemetry.ObserveCreditOverflow()
		panic(&OverflowError{Peer: peer, VC: vc, New: newVal, Max: m.ceiling})
	}
	m.tx[k] = newVal
}

// AccountRx records that one frame was received from peer on vc and should
// eventually have its credit returned. No-op when CBFC is disabled.
func (m *Manager) AccountRx(peer wire.MAC48, vc uint8) {
	if !m.enabled {
		return
	}
	m.rxPending[peerVC{peer, vc}]++
}

// MaybeReturn reports whether enough credits have accumulated to justify a
// credit-update frame (rxPending >= batchSize). When true, it returns the
// accumulated count and resets the counter to zero; the caller is
// responsible for building and enqueuing the actual credit-update frame.
func (m *Manager) MaybeReturn(peer wire.MAC48, vc uint8) (credits uint32, ok bool) {
	if !m.enabled {
		return 0, false
	}
	k := peerVC{peer, vc}
	pending := m.rxPending[k]
	if pending < m.batchSize {
		return 0, false
	}
	m.rxPending[k] = 0
	return pending, true
}

// Enabled reports whether CBFC is active on this port.
func (m *Manager) Enabled() bool { return m.enabled }
