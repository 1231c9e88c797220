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

package loadbalancer

import "math/rand"

// SUE is the surface a Distributor needs from each of its SUE engines
// (C8): an admission probe against the (destXPU,VC) destination queue's
// byte cap, and the actual enqueue.
type SUE interface {
	CanAccept(destXPU uint32, vc uint8, bytes int) bool
	AddTransaction(destXPU uint32, vc uint8, bytes int) bool
}

// Generator is the pause/resume surface of the XPU's traffic source
// (C10). The Distributor pauses it while its buffer queue is nonempty and
// resumes it once the buffer has fully drained (P7).
type Generator interface {
	Pause()
	Resume()
}

type noopGenerator struct{}

func (noopGenerator) Pause()  {}
func (noopGenerator) Resume() {}

// DistributeRecorder logs one admission decision (destXPU,vc -> sue) per
// admitted transaction (§6's load_balance_logs sink).
type DistributeRecorder interface {
	RecordDistribute(localXPU, destXPU uint32, vc uint8, sue int)
}

type noopDistributeRecorder struct{}

func (noopDistributeRecorder) RecordDistribute(uint32, uint32, uint8, int) {}

// BufferRecorder logs the buffer queue's depth each time it changes (§6's
// sue_buffer_queue_logs sink).
type BufferRecorder interface {
	RecordBufferLevel(now int64, xpu uint32, depth int)
}

type noopBufferRecorder struct{}

func (noopBufferRecorder) RecordBufferLevel(int64, uint32, int) {}

type buffered struct {
	destXPU uint32
	vc      uint8
	bytes   int
}

// Distributor is one XPU's load balancer (C9): it routes each transaction
// to a SUE chosen by the configured hash (Balancer), sweeps the remaining
// SUEs when the primary is full, and buffers the transaction — pausing the
// traffic generator — when none has room. NotifySpaceAvailable drains the
// buffer front-to-back as destination queues free up.
type Distributor struct {
	bal      *Balancer
	localXPU uint32
	numXpus  int
	sues     []SUE
	now      func() int64
	rng      *rand.Rand

	buffer []buffered
	paused bool

	gen     Generator
	rec     DistributeRecorder
	bufRec  BufferRecorder
	logging bool
}

// NewDistributor builds a Distributor for localXPU (one of numXpus) over
// the given SUEs. now supplies the simulation clock for buffer-level rows;
// seed feeds the defensive random-redirect draw for transactions addressed
// to localXPU itself.
func NewDistributor(bal *Balancer, localXPU uint32, numXpus int, sues []SUE, now func() int64, seed int64) *Distributor {
	return &Distributor{
		bal:      bal,
		localXPU: localXPU,
		numXpus:  numXpus,
		sues:     sues,
		now:      now,
		rng:      rand.New(rand.NewSource(seed)),
		gen:      noopGenerator{},
		rec:      noopDistributeRecorder{},
		bufRec:   noopBufferRecorder{},
		logging:  true,
	}
}

// SetGenerator wires the traffic generator to pause/resume around buffer
// occupancy. Passing nil restores the no-op default.
func (d *Distributor) SetGenerator(g Generator) {
	if g == nil {
		g = noopGenerator{}
	}
	d.gen = g
}

// SetRecorders installs the load_balance_logs and sue_buffer_queue_logs
// sinks. Either may be nil to leave that sink detached.
func (d *Distributor) SetRecorders(rec DistributeRecorder, bufRec BufferRecorder) {
	if rec == nil {
		rec = noopDistributeRecorder{}
	}
	if bufRec == nil {
		bufRec = noopBufferRecorder{}
	}
	d.rec = rec
	d.bufRec = bufRec
}

// StopLogging stops emitting load_balance_logs rows, mirroring the traffic
// generator's stop-all-logging broadcast once it has sent its configured
// byte total (§4.9).
func (d *Distributor) StopLogging() { d.logging = false }

// Paused reports whether the traffic generator is currently held paused by
// a nonempty buffer queue.
func (d *Distributor) Paused() bool { return d.paused }

// BufferLen reports the number of buffered, not-yet-admitted transactions.
func (d *Distributor) BufferLen() int { return len(d.buffer) }

// AddTransaction lets a traffic generator feed the Distributor directly
// (it satisfies the same sink interface as a SUE engine).
func (d *Distributor) AddTransaction(destXPU uint32, vc uint8, bytes int) bool {
	return d.Distribute(destXPU, vc, bytes)
}

// Distribute routes one transaction of the given size to a SUE (§4.8):
// primary hash first, then a sweep of every SUE in registration order,
// else the buffer queue. Returns false only when the transaction was
// buffered rather than admitted.
func (d *Distributor) Distribute(destXPU uint32, vc uint8, bytes int) bool {
	if destXPU == d.localXPU {
		destXPU = d.redirect()
	}
	if sue, ok := d.admit(destXPU, vc, bytes); ok {
		if d.logging {
			d.rec.RecordDistribute(d.localXPU, destXPU, vc, sue)
		}
		return true
	}
	d.buffer = append(d.buffer, buffered{destXPU: destXPU, vc: vc, bytes: bytes})
	d.bufRec.RecordBufferLevel(d.now(), d.localXPU, len(d.buffer))
	if !d.paused {
		d.paused = true
		d.gen.Pause()
	}
	return false
}

// redirect picks a random destination other than localXPU. The traffic
// generators already exclude the local XPU from their draws; this guards
// the Distribute surface itself against a self-addressed transaction.
func (d *Distributor) redirect() uint32 {
	if d.numXpus <= 1 {
		return d.localXPU
	}
	for {
		candidate := uint32(d.rng.Intn(d.numXpus))
		if candidate != d.localXPU {
			return candidate
		}
	}
}

func (d *Distributor) admit(destXPU uint32, vc uint8, bytes int) (int, bool) {
	sue, ok := d.bal.Distribute(destXPU, vc, func(s int) bool {
		return d.sues[s].CanAccept(destXPU, vc, bytes)
	})
	if !ok {
		return 0, false
	}
	d.sues[sue].AddTransaction(destXPU, vc, bytes)
	return sue, true
}

// NotifySpaceAvailable is invoked by a SUE whenever one of its destination
// queues shrinks. It drains the buffer queue front-to-back through the
// same primary-then-sweep admission as Distribute, stopping at the first
// transaction that still has nowhere to go; once the buffer empties, the
// paused traffic generator is resumed (§4.8, P7).
func (d *Distributor) NotifySpaceAvailable(sueID int, destXPU uint32, vc uint8) {
	for len(d.buffer) > 0 {
		b := d.buffer[0]
		sue, ok := d.admit(b.destXPU, b.vc, b.bytes)
		if !ok {
			break
		}
		d.buffer = d.buffer[1:]
		d.bufRec.RecordBufferLevel(d.now(), d.localXPU, len(d.buffer))
		if d.logging {
			d.rec.RecordDistribute(d.localXPU, b.destXPU, b.vc, sue)
		}
	}
	if len(d.buffer) == 0 && d.paused {
		d.paused = false
		d.gen.Resume()
	}
}
