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

// Package sueclient implements one SUE engine (C8, §4.7): a bank of
// per-(destination XPU, VC) destination queues, a periodic scheduler that
// drains the queue whose head has waited longest, packing consecutive
// transactions into bursts bounded by maxBurstSize, and round-robin
// selection among the engine's own ports gated by each port's VC-queue
// reservation sub-allocator.
package sueclient

import (
	"suesim/internal/suesim/netdevice"
	"suesim/pkg/sim"
	"suesim/pkg/wire"
)

// Resolver maps a destination XPU id to the MAC identity assigned to it by
// the topology builder (C12).
type Resolver func(destXPU uint32) wire.MAC48

// Stat mirrors netdevice.Stat's shape for the destination-queue/wait-time/
// pack-count events this package is responsible for (destination_queue_logs,
// wait_time_logs, pack_num_logs per §6's sink table).
type Stat struct {
	Kind    string
	DestXPU uint32
	VC      uint8
	Value   int64
	Now     int64
}

type Recorder interface {
	Record(Stat)
}

type nopRecorder struct{}

func (nopRecorder) Record(Stat) {}

// ShrinkFunc is invoked after a destination queue shrinks, so the owning
// load balancer (C9) can drain its buffer queue (§4.7 "Notification").
type ShrinkFunc func(sueID int, destXPU uint32, vc uint8)

type destVC struct {
	xpu uint32
	vc  uint8
}

type transaction struct {
	bytes    int
	enqueued int64
}

type destQueue struct {
	pending []transaction
	bytes   int
}

// Client is one SUE engine: it owns portsPerSue physical ports and is one
// of suesPerXpu engines on its XPU.
type Client struct {
	sched *sim.Scheduler
	xpuID uint32
	sueID int

	localMAC wire.MAC48
	localIP  wire.IPv4Addr
	resolve  Resolver

	ports    []*netdevice.Port
	basePort int // global index on this XPU of ports[0]

	maxBurstSize         int
	schedulingIntervalNs int64
	packingDelayNs       int64
	destQueueMaxBytes    int // 0 leaves destination queues unbounded

	queues        map[destVC]*destQueue
	psn           map[destVC]uint32
	nextPort      int
	tickScheduled bool

	rec      Recorder
	onShrink ShrinkFunc
}

// New constructs one SUE engine. ports are the engine's own portsPerSue
// devices, basePort their global index offset on the XPU;
// schedulingIntervalNs is the period of the packing scheduler (§6's
// SchedulingInterval).
func New(sched *sim.Scheduler, xpuID uint32, sueID int, localMAC wire.MAC48, localIP wire.IPv4Addr,
	resolve Resolver, ports []*netdevice.Port, basePort int, maxBurstSize int, schedulingIntervalNs int64) *Client {
	if schedulingIntervalNs <= 0 {
		schedulingIntervalNs = 1 // a zero period would rearm without ever advancing the clock
	}
	return &Client{
		sched:                sched,
		xpuID:                xpuID,
		sueID:                sueID,
		localMAC:             localMAC,
		localIP:              localIP,
		resolve:              resolve,
		ports:                ports,
		basePort:             basePort,
		maxBurstSize:         maxBurstSize,
		schedulingIntervalNs: schedulingIntervalNs,
		queues:               make(map[destVC]*destQueue),
		psn:                  make(map[destVC]uint32),
		rec:                  nopRecorder{},
	}
}

// SetRecorder installs the stats sink.
func (c *Client) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	c.rec = r
}

// SetDestQueueMaxBytes installs the per-(destXPU,VC) destination-queue byte
// cap (§3's QueueState invariant, P3). 0 (the default) leaves the queues
// unbounded.
func (c *Client) SetDestQueueMaxBytes(n int) { c.destQueueMaxBytes = n }

// SetPackingDelay installs the per-burst packing delay (§6's
// PackingDelayPerPacket): each packed frame is committed to its reserved
// port this long after the scheduler selected it.
func (c *Client) SetPackingDelay(ns int64) { c.packingDelayNs = ns }

// SetOnShrink wires the load balancer's buffer-drain notification.
func (c *Client) SetOnShrink(fn ShrinkFunc) { c.onShrink = fn }

// SueID returns this engine's index on its XPU.
func (c *Client) SueID() int { return c.sueID }

// CanAccept reports whether the (destXPU,vc) destination queue has room
// for bytes more. This is the load balancer's admission probe (§4.8 step
// 3); it never mutates state.
func (c *Client) CanAccept(destXPU uint32, vc uint8, bytes int) bool {
	if c.destQueueMaxBytes <= 0 {
		return true
	}
	q := c.queues[destVC{destXPU, vc}]
	cur := 0
	if q != nil {
		cur = q.bytes
	}
	return cur+bytes <= c.destQueueMaxBytes
}

// QueueDepth is one (destXPU,vc) destination queue's current byte depth,
// for periodic sampling (§6 Tracing) independent of the event-driven
// destination_queue_logs rows AddTransaction already emits.
type QueueDepth struct {
	DestXPU uint32
	VC      uint8
	Bytes   int
}

// Snapshot reports the current depth of every nonempty destination queue.
func (c *Client) Snapshot() []QueueDepth {
	out := make([]QueueDepth, 0, len(c.queues))
	for k, q := range c.queues {
		if q.bytes == 0 {
			continue
		}
		out = append(out, QueueDepth{DestXPU: k.xpu, VC: k.vc, Bytes: q.bytes})
	}
	return out
}

func (c *Client) queueFor(destXPU uint32, vc uint8) *destQueue {
	k := destVC{destXPU, vc}
	q, ok := c.queues[k]
	if !ok {
		q = &destQueue{}
		c.queues[k] = q
	}
	return q
}

// AddTransaction enqueues bytes of data destined for (destXPU, vc) and
// arms the packing scheduler. If the destination queue's byte cap (when
// configured) would be exceeded, the transaction is dropped and a
// DestQueueFull event recorded instead (§4.7, §4.11, P3) — the load
// balancer avoids this path by probing CanAccept first.
func (c *Client) AddTransaction(destXPU uint32, vc uint8, bytes int) bool {
	q := c.queueFor(destXPU, vc)
	if c.destQueueMaxBytes > 0 && q.bytes+bytes > c.destQueueMaxBytes {
		c.rec.Record(Stat{Kind: "dest_queue_drop", DestXPU: destXPU, VC: vc, Value: int64(bytes), Now: c.sched.Now()})
		return false
	}
	q.pending = append(q.pending, transaction{bytes: bytes, enqueued: c.sched.Now()})
	q.bytes += bytes
	c.rec.Record(Stat{Kind: "destination_queue", DestXPU: destXPU, VC: vc, Value: int64(q.bytes), Now: c.sched.Now()})
	c.armTick()
	return true
}

func (c *Client) armTick() {
	if c.tickScheduled {
		return
	}
	c.tickScheduled = true
	c.sched.Schedule(c.schedulingIntervalNs, c.tick)
}

func (c *Client) hasPending() bool {
	for _, q := range c.queues {
		if len(q.pending) > 0 {
			return true
		}
	}
	return false
}

// oldestQueue picks the destination queue whose head transaction has
// waited longest (§4.7 "oldest-waiting-first"). Ties break on (destXPU,vc)
// so map-iteration order never leaks into scheduling.
func (c *Client) oldestQueue() (destVC, bool) {
	var best destVC
	var bestT int64
	found := false
	for k, q := range c.queues {
		if len(q.pending) == 0 {
			continue
		}
		head := q.pending[0].enqueued
		if !found || head < bestT ||
			(head == bestT && (k.xpu < best.xpu || (k.xpu == best.xpu && k.vc < best.vc))) {
			best, bestT, found = k, head, true
		}
	}
	return best, found
}

// tick is one firing of the packing scheduler (every schedulingInterval):
// drain the oldest-waiting destination queue into as many packed bursts as
// the engine's ports will reserve space for, then rearm while any queue
// still holds work.
func (c *Client) tick() {
	c.tickScheduled = false
	if k, ok := c.oldestQueue(); ok {
		c.drain(k)
	}
	if c.hasPending() {
		c.armTick()
	}
}

// drain packs k's queue front-to-back: each burst is the longest run of
// consecutive head transactions fitting under maxBurstSize. A burst that
// no port can currently reserve space for stays at the head of the queue
// (peek-then-pop, §4.7) and drain stops until the next tick.
func (c *Client) drain(k destVC) {
	q := c.queues[k]
	for len(q.pending) > 0 {
		burstBytes := 0
		n := 0
		for n < len(q.pending) {
			next := q.pending[n].bytes
			if n > 0 && burstBytes+next > c.maxBurstSize {
				break
			}
			burstBytes += next
			n++
		}

		port, ok := c.reservePort(k.vc, burstBytes)
		if !ok {
			return
		}

		now := c.sched.Now()
		for _, txn := range q.pending[:n] {
			c.rec.Record(Stat{Kind: "wait_time", DestXPU: k.xpu, VC: k.vc, Value: now - txn.enqueued, Now: now})
		}
		c.rec.Record(Stat{Kind: "pack_num", DestXPU: k.xpu, VC: k.vc, Value: int64(n), Now: now})

		q.pending = q.pending[n:]
		q.bytes -= burstBytes
		c.rec.Record(Stat{Kind: "destination_queue", DestXPU: k.xpu, VC: k.vc, Value: int64(q.bytes), Now: now})

		c.emit(port, k, burstBytes)

		if c.onShrink != nil {
			c.onShrink(c.sueID, k.xpu, k.vc)
		}
	}
}

// reservePort probes the engine's ports round-robin starting one past the
// last used (§4.7 "lastUsedDeviceIndex"), returning the first whose VC
// queue reserves the burst.
func (c *Client) reservePort(vc uint8, burstBytes int) (int, bool) {
	n := len(c.ports)
	for i := 0; i < n; i++ {
		p := (c.nextPort + i) % n
		if c.ports[p].ReserveVC(vc, burstBytes) {
			c.nextPort = (p + 1) % n
			return p, true
		}
	}
	return 0, false
}

// emit builds the packed frame for the reserved burst and commits it to
// the chosen port, after the configured packing delay.
func (c *Client) emit(port int, k destVC, burstBytes int) {
	f := c.buildFrame(port, k.xpu, k.vc, burstBytes)
	dev := c.ports[port]
	vc := k.vc
	if c.packingDelayNs > 0 {
		c.sched.Schedule(c.packingDelayNs, func() { dev.CommitVC(vc, burstBytes, f) })
	} else {
		dev.CommitVC(vc, burstBytes, f)
	}
}

// buildFrame assembles the full data-frame layering (§6 wire formats) for
// one packed burst leaving via the engine's port-th device. Addressing
// follows §6: the destination is 10.(destXPU+1).(globalPort+1).1 on UDP
// port 8080+globalPort.
func (c *Client) buildFrame(port int, destXPU uint32, vc uint8, burstBytes int) *wire.Frame {
	k := destVC{destXPU, vc}
	seq := c.psn[k]
	c.psn[k] = seq + 1

	globalPort := c.basePort + port
	destMAC := c.resolve(destXPU)
	destIP := wire.IPv4Addr{10, byte(destXPU + 1), byte(globalPort + 1), 1}
	udpPort := uint16(8080 + globalPort)

	f := wire.NewFrame(make([]byte, burstBytes))
	f.PPP = &wire.PPPHeader{Protocol: wire.ProtoIPv4}
	f.CBFC = &wire.CBFCHeader{VC: vc, Credits: 0}
	f.Eth = &wire.EthernetHeader{Src: c.localMAC, Dst: destMAC, EthType: wire.EthTypeIPv4}
	f.IPv4 = &wire.IPv4Header{Src: c.localIP, Dst: destIP}
	f.UDP = &wire.UDPHeader{SrcPort: udpPort, DstPort: udpPort}
	f.SUE = &wire.SUEHeader{Opcode: wire.OpData, XpuID: uint16(c.xpuID), PSN: uint16(seq), VC: vc, RPSN: uint16(seq)}
	f.SetTag(wire.TagSendTime, c.sched.Now())
	return f
}
