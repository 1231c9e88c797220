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

// Package switchfwd implements the switch forwarding pipeline (C7): a
// static MAC-indexed forwarding table, source-MAC rewrite onto the
// ingress port's identity, and internal (ingress->egress) CBFC
// participation so an oversubscribed egress can push back on ingress
// ports exactly as an external link would (§4.6).
package switchfwd

import (
	"suesim/internal/suesim/cbfc"
	"suesim/internal/suesim/netdevice"
	"suesim/pkg/sim"
	"suesim/pkg/wire"
)

// Switch owns one switch node's ports and the static forwarding table
// mapping a destination MAC to the local egress port index.
type Switch struct {
	sched    *sim.Scheduler
	Ports    []*netdevice.Port
	fwdTable map[wire.MAC48]int

	// internal models the ingress->egress hop inside the switch fabric as
	// its own CBFC-governed link, keyed by the ingress port's MAC acting as
	// "peer". Credit is returned to an ingress once its egress has actually
	// transmitted the frame out (see returnInternalCreditAfter).
	internal *cbfc.Manager
}

// New creates a Switch over the given ports (already constructed, not yet
// wired to each other). internalCredits sizes the ingress->egress internal
// CBFC pool (§4.1 calls out switch egress ports as warranting a larger
// default credit pool than host ports; kept configurable per §9 rather than
// a compiled-in literal). Call AddRoute for every known destination MAC and
// Wire once all routes are known.
func New(sched *sim.Scheduler, ports []*netdevice.Port, internalCredits uint32) *Switch {
	sw := &Switch{
		sched:    sched,
		Ports:    ports,
		fwdTable: make(map[wire.MAC48]int),
		internal: cbfc.NewManager(true, 0, 1),
	}
	for _, p := range ports {
		sw.internal.AddPeer(p.LocalMAC, 0, internalCredits)
	}
	return sw
}

// AddRoute installs a static forwarding entry: frames destined to mac leave
// via Ports[egressIdx].
func (sw *Switch) AddRoute(mac wire.MAC48, egressIdx int) {
	sw.fwdTable[mac] = egressIdx
}

// Wire installs each port's Forward hook. The post-transmit
// internal-credit-return callback is registered per forwarded frame, by
// forward. Call once routes are populated.
func (sw *Switch) Wire() {
	for _, p := range sw.Ports {
		p.Forward = sw.forward
	}
}

// forward is the ForwardFunc consulted by a port's processing-queue
// pipeline once a frame has cleared deserialization (§4.6).
func (sw *Switch) forward(ingress *netdevice.Port, f *wire.Frame) bool {
	if f.Eth == nil {
		return true // nothing to route on; treat as handled/dropped
	}
	idx, ok := sw.fwdTable[f.Eth.Dst]
	if !ok {
		return true // no route: drop silently rather than stall the queue
	}
	egress := sw.Ports[idx]
	vc := uint8(0)
	if f.CBFC != nil {
		vc = f.CBFC.VC
	}

	if egress == ingress {
		// Degenerate case: the route points back out the ingress port
		// itself. Emit directly rather than modeling an internal hop.
		return egress.EnqueueVC(vc, f)
	}

	if !sw.internal.TryConsume(ingress.LocalMAC, vc) {
		return false // egress side of the fabric has no internal credit yet
	}

	// Rewrite the source MAC to the ingress port's identity (§4.6, P8) so
	// the downstream peer's CBFC attributes credits back to the ingress
	// side of the fabric, not to the egress port itself.
	fwd := f.Clone()
	fwd.Eth.Src = ingress.LocalMAC
	ingressMAC := ingress.LocalMAC
	sw.sched.Schedule(egress.SwitchForwardDelay(), func() {
		egress.EnqueueVC(vc, fwd)
		sw.returnInternalCreditAfter(egress, ingressMAC, vc)
	})
	return true
}

// returnInternalCreditAfter grants back one internal credit to ingressMAC
// once egress has actually transmitted a frame, preventing the ingress side
// of the fabric from racing ahead of what the egress link can drain.
func (sw *Switch) returnInternalCreditAfter(egress *netdevice.Port, ingressMAC wire.MAC48, vc uint8) {
	egress.OnNextSent(func() {
		sw.internal.Grant(ingressMAC, vc, 1)
	})
}
