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

package netdevice

import (
	"log"
	"math/rand"

	"suesim/internal/suesim/cbfc"
	"suesim/internal/suesim/vcqueue"
	"suesim/pkg/sim"
	"suesim/pkg/wire"
)

// Stat is one accounting event a Port reports through its Recorder hook.
// The concrete sink types (C11) decide what, if anything, to do with each.
type Stat struct {
	Kind  string // "sent", "received", "llr_retransmit", "vcqueue_drop", "mainqueue_drop", "processingqueue_drop", "phy_drop"
	Port  int
	VC    uint8
	Bytes int
	Now   int64
}

// Recorder receives Stat events as they occur. Ports never block on it.
type Recorder interface {
	Record(Stat)
}

type nopRecorder struct{}

func (nopRecorder) Record(Stat) {}

// ForwardFunc is consulted by a switch port when its processing queue has a
// fully-deserialized frame ready to leave: it returns true if the frame was
// handed off (forwarded to an egress port, or delivered locally), false if
// the egress currently lacks the internal credit to accept it — in which
// case the frame must stay at the head of the processing queue.
type ForwardFunc func(ingress *Port, f *wire.Frame) bool

// DeliverFunc is invoked by an XPU-facing port once a data frame has cleared
// the processing queue; it hands the frame up to the owning SUE client.
type DeliverFunc func(f *wire.Frame)

// Port is one link-layer endpoint: TX arbitration over the main queue, LLR
// resends and the per-VC bank, plus the RX processing-queue pipeline. It
// owns C3 (cbfc.Manager), C4 (vcqueue.Bank) and, when enabled, C5
// (llr.Manager) for this link, matching §4.3's component ownership list.
type Port struct {
	ID       int
	Kind     Kind
	LocalMAC wire.MAC48
	cfg      Config

	sched *sim.Scheduler
	peer  *Port

	CBFC *cbfc.Manager
	VCs  *vcqueue.Bank
	LLR  LLRLike

	mainQueue      []*wire.Frame
	mainQueueBytes int

	processingQueue      []*wire.Frame
	processingQueueBytes int
	processingBusy       bool

	txBusy               bool
	tryTransmitScheduled bool
	lastServedVC         uint8

	rng *rand.Rand
	rec Recorder

	Forward ForwardFunc
	Deliver DeliverFunc

	pendingSent []func()
}

// LLRLike is the subset of llr.Manager's surface a Port needs. Declaring it
// here (rather than importing llr directly into every call site) keeps the
// dependency one-directional: llr doesn't need to know about netdevice, and
// a Port can run with LLR disabled by simply leaving this nil.
type LLRLike interface {
	Send(peer wire.MAC48, vc uint8, pkt *wire.Frame) uint32
	OnReceive(peer wire.MAC48, vc uint8, seq uint32, now int64) bool
	OnAck(peer wire.MAC48, vc uint8, seq uint32)
	OnNack(peer wire.MAC48, vc uint8, seq uint32)
	Resending(peer wire.MAC48, vc uint8) (uint32, bool)
	NextResend(peer wire.MAC48, vc uint8) (*wire.Frame, bool)
	WindowFull(peer wire.MAC48, vc uint8) bool
}

// New creates a Port. Wire LLR, Forward and Deliver (as appropriate to
// Kind) and set Recorder after construction.
func New(id int, kind Kind, mac wire.MAC48, sched *sim.Scheduler, cfg Config, seed int64) *Port {
	p := &Port{
		ID:       id,
		Kind:     kind,
		LocalMAC: mac,
		cfg:      cfg,
		sched:    sched,
		CBFC:     cbfc.NewManager(cfg.EnableCBFC, cfg.CreditCeiling, cfg.CreditBatchSize),
		VCs:      vcqueue.NewBank(cfg.NumVcs, cfg.VcQueueMaxBytes, cfg.AdditionalHeaderSize),
		rng:      rand.New(rand.NewSource(seed)),
		rec:      nopRecorder{},
	}
	return p
}

// SetRecorder installs the stats sink.
func (p *Port) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	p.rec = r
}

// Attach links this port to its point-to-point peer and seeds CBFC credit
// state for it. Both directions of a link are attached once, by the
// topology builder (C12).
func (p *Port) Attach(peer *Port) {
	p.peer = peer
	for vc := 0; vc < p.cfg.NumVcs; vc++ {
		p.CBFC.AddPeer(peer.LocalMAC, uint8(vc), p.cfg.InitialCredits)
	}
}

// --- TX path (§4.3.1) ---

// EnqueueMain places a control frame (credit update, ACK/NACK) on the main
// queue, which always preempts VC traffic. Returns false (QueueFullMain) if
// the port's main-queue byte budget is exhausted.
func (p *Port) EnqueueMain(f *wire.Frame) bool {
	n := f.Len()
	if p.mainQueueBytes+n > p.cfg.MainQueueMaxBytes {
		p.rec.Record(Stat{Kind: "mainqueue_drop", Port: p.ID, Bytes: n, Now: p.sched.Now()})
		return false
	}
	p.mainQueue = append(p.mainQueue, f)
	p.mainQueueBytes += n
	p.scheduleTryTransmit()
	return true
}

// EnqueueVC places a data frame on vc's queue. Returns false
// (QueueFullVC) on overflow.
func (p *Port) EnqueueVC(vc uint8, f *wire.Frame) bool {
	if !p.VCs.Enqueue(vc, f) {
		p.rec.Record(Stat{Kind: "vcqueue_drop", Port: p.ID, VC: vc, Bytes: f.Len(), Now: p.sched.Now()})
		return false
	}
	p.scheduleTryTransmit()
	return true
}

// ReserveVC and CommitVC let a caller (the SUE client, C8) check admission
// for a packed burst before building the frame, then hand the built frame
// over once committed — the reservation sub-allocator from §4.2.
func (p *Port) ReserveVC(vc uint8, n int) bool { return p.VCs.Reserve(vc, n) }
func (p *Port) ReleaseVC(vc uint8, n int) bool { return p.VCs.Release(vc, n) }

// CommitVC releases a reservation of reservedLen bytes and enqueues f in
// its place. Used once the reserved frame has actually been built. A
// release that overshoots the outstanding reservation is a
// ReservationUnderflow (§7): clamped to zero, logged as a warning rather
// than treated as fatal (unlike CreditOverflow).
func (p *Port) CommitVC(vc uint8, reservedLen int, f *wire.Frame) bool {
	if underflowed := p.VCs.Release(vc, reservedLen); underflowed {
		log.Printf("suesim: port %d vc %d: reservation underflow releasing %d bytes", p.ID, vc, reservedLen)
	}
	return p.EnqueueVC(vc, f)
}

// Kick schedules an arbitration pass on this port. Exposed for the LLR
// manager's resend-ready callback (llr.ResendReadyFunc), which lives
// outside this package.
func (p *Port) Kick() { p.scheduleTryTransmit() }

func (p *Port) scheduleTryTransmit() {
	if p.txBusy || p.tryTransmitScheduled {
		return
	}
	p.tryTransmitScheduled = true
	p.sched.Schedule(0, func() {
		p.tryTransmitScheduled = false
		p.TryTransmit()
	})
}

// TryTransmit implements the TX arbitration order from §4.3.1: main queue
// first, then an armed LLR resend, then round-robin over VCs gated by
// CBFC, starting one past the last-served VC. VCs carry no weights: each
// turn serves one frame from the first eligible VC.
func (p *Port) TryTransmit() {
	if p.txBusy {
		return
	}
	if len(p.mainQueue) > 0 {
		f := p.mainQueue[0]
		p.mainQueue = p.mainQueue[1:]
		p.mainQueueBytes -= f.Len()
		p.startTransmit(f, 0xff)
		return
	}
	if p.LLR != nil && p.peer != nil {
		for vc := uint8(0); vc < uint8(p.cfg.NumVcs); vc++ {
			if _, resending := p.LLR.Resending(p.peer.LocalMAC, vc); resending {
				if f, ok := p.LLR.NextResend(p.peer.LocalMAC, vc); ok {
					p.rec.Record(Stat{Kind: "llr_retransmit", Port: p.ID, VC: vc, Bytes: f.Len(), Now: p.sched.Now()})
					p.startTransmit(f, vc)
					return
				}
			}
		}
	}
	if p.peer == nil {
		return
	}
	n := uint8(p.cfg.NumVcs)
	for i := uint8(0); i < n; i++ {
		vc := (p.lastServedVC + 1 + i) % n
		if p.VCs.Empty(vc) {
			continue
		}
		if p.LLR != nil && p.LLR.WindowFull(p.peer.LocalMAC, vc) {
			continue
		}
		if !p.CBFC.TryConsume(p.peer.LocalMAC, vc) {
			continue
		}
		f, _ := p.VCs.Dequeue(vc)
		p.lastServedVC = vc
		if p.LLR != nil {
			p.LLR.Send(p.peer.LocalMAC, vc, f)
		}
		p.startTransmit(f, vc)
		return
	}
}

func (p *Port) startTransmit(f *wire.Frame, vc uint8) {
	p.txBusy = true
	n := f.Len()
	txTime := p.cfg.TxTime(n)

	p.sched.Schedule(txTime, func() {
		p.rec.Record(Stat{Kind: "sent", Port: p.ID, VC: vc, Bytes: n, Now: p.sched.Now()})
		if len(p.pendingSent) > 0 {
			cb := p.pendingSent[0]
			p.pendingSent = p.pendingSent[1:]
			cb()
		}
		if p.peer != nil {
			peer := p.peer
			arrival := f
			p.sched.Schedule(p.cfg.LinkDelayNs, func() { peer.Receive(arrival) })
		}
	})
	p.sched.Schedule(txTime+p.cfg.InterframeGapNs, func() {
		p.txBusy = false
		if p.cfg.VcSchedulingDelayNs <= 0 {
			p.TryTransmit()
			return
		}
		p.tryTransmitScheduled = true
		p.sched.Schedule(p.cfg.VcSchedulingDelayNs, func() {
			p.tryTransmitScheduled = false
			p.TryTransmit()
		})
	})
}

// --- credit-update emission (§4.3, glue for C3) ---

// sendCreditUpdate builds and queues a PPP/CBFC control frame returning n
// credits to peer for vc.
func (p *Port) sendCreditUpdate(vc uint8, n uint32) {
	f := wire.NewFrame(nil)
	f.PPP = &wire.PPPHeader{Protocol: wire.ProtoCBFCUpdate}
	f.CBFC = &wire.CBFCHeader{VC: vc, Credits: uint8(n)}
	f.Eth = &wire.EthernetHeader{Src: p.LocalMAC, Dst: p.peer.LocalMAC, EthType: wire.EthTypeIPv4}
	p.sched.Schedule(p.cfg.CreditGenerateDelayNs+p.cfg.CreUpdateAddHeadDelayNs, func() {
		p.EnqueueMain(f)
	})
}

func (p *Port) accountAndReturnCredit(vc uint8) {
	if p.peer == nil || !p.cfg.EnableCBFC {
		return
	}
	p.CBFC.AccountRx(p.peer.LocalMAC, vc)
	if n, ok := p.CBFC.MaybeReturn(p.peer.LocalMAC, vc); ok {
		p.sendCreditUpdate(vc, n)
	}
}

// --- RX path (§4.3.2) ---

// Receive is invoked (by the peer, after propagation delay) when a frame
// arrives at this port.
func (p *Port) Receive(f *wire.Frame) {
	if p.cfg.ErrorRate > 0 && p.rng.Float64() < p.cfg.ErrorRate {
		p.rec.Record(Stat{Kind: "phy_drop", Port: p.ID, Bytes: f.Len(), Now: p.sched.Now()})
		return
	}
	if f.PPP == nil {
		return
	}
	switch f.PPP.Protocol {
	case wire.ProtoCBFCUpdate:
		if p.cfg.EnableCBFC && f.CBFC != nil && p.peer != nil {
			p.CBFC.Grant(p.peer.LocalMAC, f.CBFC.VC, uint32(f.CBFC.Credits))
		}
		p.scheduleTryTransmit()
	case wire.ProtoAck, wire.ProtoNack:
		if p.LLR == nil || f.CBFC == nil || p.peer == nil {
			return
		}
		// The signalled sequence travels as a side-tag, never in wire
		// bytes (§9's sequence-in-tag standardisation).
		tag, ok := f.Tag(wire.TagSeq)
		if !ok {
			return
		}
		seq, _ := tag.(uint32)
		vc := f.CBFC.VC
		nack := f.PPP.Protocol == wire.ProtoNack
		p.sched.Schedule(p.cfg.AckProcessDelayNs, func() {
			if nack {
				p.LLR.OnNack(p.peer.LocalMAC, vc, seq)
			} else {
				p.LLR.OnAck(p.peer.LocalMAC, vc, seq)
			}
			p.scheduleTryTransmit()
		})
	default:
		p.receiveData(f)
	}
}

func (p *Port) receiveData(f *wire.Frame) {
	vc := uint8(0)
	if f.CBFC != nil {
		vc = f.CBFC.VC
	}
	if p.LLR != nil && p.peer != nil {
		seqTag, _ := f.Tag(wire.TagSeq)
		seq, _ := seqTag.(uint32)
		if !p.LLR.OnReceive(p.peer.LocalMAC, vc, seq, p.sched.Now()) {
			p.scheduleTryTransmit()
			return
		}
	}
	n := f.Len()
	if p.processingQueueBytes+n > p.cfg.ProcessingQueueMaxBytes {
		p.rec.Record(Stat{Kind: "processingqueue_drop", Port: p.ID, VC: vc, Bytes: n, Now: p.sched.Now()})
		return
	}
	p.processingQueue = append(p.processingQueue, f)
	p.processingQueueBytes += n
	p.startProcessing()
}

func (p *Port) startProcessing() {
	if p.processingBusy || len(p.processingQueue) == 0 {
		return
	}
	p.processingBusy = true
	f := p.processingQueue[0]
	p.sched.Schedule(p.cfg.TimeForBytes(f.Len()), p.completeProcessing)
}

// completeProcessing attempts to hand the head-of-line frame off to its
// destination (switch forward or XPU delivery). Per §4.6, if the egress
// can't currently accept the frame it stays at the head of the queue and
// processing doesn't resume until a retry succeeds; since this port has no
// direct signal for "capacity freed" on a neighboring port, the retry is a
// poll every vcSchedulingDelay (at least 1ns), repeated until the hand-off
// succeeds, rather than an event-driven wakeup.
func (p *Port) completeProcessing() {
	if len(p.processingQueue) == 0 {
		p.processingBusy = false
		return
	}
	f := p.processingQueue[0]
	vc := uint8(0)
	if f.CBFC != nil {
		vc = f.CBFC.VC
	}

	var handled bool
	if p.Kind == KindSwitch && p.Forward != nil {
		handled = p.Forward(p, f)
	} else if p.Deliver != nil {
		p.rec.Record(Stat{Kind: "received", Port: p.ID, VC: vc, Bytes: f.Len(), Now: p.sched.Now()})
		p.Deliver(f)
		handled = true
	} else {
		handled = true
	}

	if !handled {
		retry := p.cfg.VcSchedulingDelayNs
		if retry <= 0 {
			retry = 1 // a zero-delay retry would poll without advancing the clock
		}
		p.sched.Schedule(retry, p.completeProcessing)
		return
	}

	p.processingQueue = p.processingQueue[1:]
	p.processingQueueBytes -= f.Len()
	p.processingBusy = false
	p.accountAndReturnCredit(vc)
	p.startProcessing()
}

// MainQueueLen and ProcessingQueueLen expose queue depth for tests/sinks;
// the Bytes variants expose occupancy against the byte caps.
func (p *Port) MainQueueLen() int         { return len(p.mainQueue) }
func (p *Port) MainQueueBytes() int       { return p.mainQueueBytes }
func (p *Port) ProcessingQueueLen() int   { return len(p.processingQueue) }
func (p *Port) ProcessingQueueBytes() int { return p.processingQueueBytes }
func (p *Port) Peer() *Port               { return p.peer }

// NumVcs, VCQueueBytes and VCQueueMaxBytes expose the per-VC bank's
// occupancy for periodic level logging (§6's vc_queue_logs sink).
func (p *Port) NumVcs() int                  { return p.cfg.NumVcs }
func (p *Port) VCQueueBytes(vc uint8) int    { return p.VCs.Bytes(vc) }
func (p *Port) VCQueueMaxBytes() int         { return p.VCs.MaxBytes() }
func (p *Port) MainQueueMaxBytes() int       { return p.cfg.MainQueueMaxBytes }
func (p *Port) ProcessingQueueMaxBytes() int { return p.cfg.ProcessingQueueMaxBytes }

// TxCreditsToPeer returns the CBFC credits currently available to send to
// this port's peer on vc, and whether a peer (and therefore a meaningful
// credit count) is attached at all.
func (p *Port) TxCreditsToPeer(vc uint8) (uint32, bool) {
	if p.peer == nil {
		return 0, false
	}
	return p.CBFC.TxCredits(p.peer.LocalMAC, vc), true
}

// SwitchForwardDelay exposes the configured ingress->egress handoff delay
// for the switch forwarding package (C7).
func (p *Port) SwitchForwardDelay() int64 { return p.cfg.SwitchForwardDelayNs }

// OnNextSent registers a one-shot callback fired the next time this port
// completes transmitting a frame. Used by the switch fabric to return an
// internal credit once an egress port has actually drained a hop.
func (p *Port) OnNextSent(cb func()) {
	p.pendingSent = append(p.pendingSent, cb)
}
