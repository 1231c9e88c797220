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

// Package traffic drives transaction arrivals into a SUE client (C10). Three
// pluggable modes share one pause/resume contract: Uniform (Poisson-ish
// fixed-mean arrivals), CSV-defined flows (explicit per-flow size/period),
// and trace replay (a literal ordered list of arrival events).
package traffic

import (
	"math/rand"

	"suesim/pkg/sim"
)

// Sink is the minimal surface traffic needs from a SUE client: hand a
// transaction of size bytes to (destXPU, vc).
type Sink interface {
	AddTransaction(destXPU uint32, vc uint8, bytes int) bool
}

// Generator is implemented by each traffic mode.
type Generator interface {
	// Start begins scheduling arrivals against sink. Returns immediately;
	// arrivals are driven by the scheduler.
	Start(sched *sim.Scheduler, sink Sink)
	// Pause/Resume let a sweep coordinator or flow-control backpressure
	// signal temporarily halt and restart arrivals without losing state.
	Pause()
	Resume()
}

// UniformParams configures a Uniform generator (§4.9).
type UniformParams struct {
	LocalXPU   uint32 // excluded from the destXPU draw
	MinDestXPU uint32
	MaxDestXPU uint32
	MinVC      uint8
	MaxVC      uint8

	SizeBytes    int
	MeanPeriodNs int64

	// TotalBytesToSend stops the generator once bytesSent reaches this
	// total (§6's "totalBytesToSend(MB)"); 0 leaves it running until the
	// scheduler's Stop time instead.
	TotalBytesToSend int64

	Seed int64
}

// Uniform generates fixed-mean-interarrival transactions of a fixed size,
// drawing a fresh destXPU and vc uniformly from their configured ranges on
// every arrival, until either the scheduler's Stop time or
// TotalBytesToSend (whichever comes first) ends the run (§4.9).
type Uniform struct {
	LocalXPU         uint32
	MinDestXPU       uint32
	MaxDestXPU       uint32
	MinVC            uint8
	MaxVC            uint8
	SizeBytes        int
	MeanPeriodNs     int64
	TotalBytesToSend int64
	rng              *rand.Rand

	sched     *sim.Scheduler
	sink      Sink
	paused    bool
	bytesSent int64
	stopped   bool

	// OnStop fires once TotalBytesToSend has been reached, mirroring the
	// original generator's loadBalancer.stopAllLogging() call.
	OnStop func()
}

// NewUniform builds a Uniform generator seeded for reproducibility.
func NewUniform(p UniformParams) *Uniform {
	return &Uniform{
		LocalXPU:         p.LocalXPU,
		MinDestXPU:       p.MinDestXPU,
		MaxDestXPU:       p.MaxDestXPU,
		MinVC:            p.MinVC,
		MaxVC:            p.MaxVC,
		SizeBytes:        p.SizeBytes,
		MeanPeriodNs:     p.MeanPeriodNs,
		TotalBytesToSend: p.TotalBytesToSend,
		rng:              rand.New(rand.NewSource(p.Seed)),
	}
}

func (u *Uniform) Start(sched *sim.Scheduler, sink Sink) {
	u.sched = sched
	u.sink = sink
	u.scheduleNext()
}

// drawDestXPU picks destXPU uniformly from [MinDestXPU,MaxDestXPU], redrawing
// on the one value equal to LocalXPU (a node never sends to itself).
func (u *Uniform) drawDestXPU() uint32 {
	span := u.MaxDestXPU - u.MinDestXPU + 1
	if span <= 1 {
		return u.MinDestXPU
	}
	for {
		candidate := u.MinDestXPU + uint32(u.rng.Intn(int(span)))
		if candidate != u.LocalXPU {
			return candidate
		}
	}
}

// drawVC picks vc uniformly from [MinVC,MaxVC].
func (u *Uniform) drawVC() uint8 {
	span := int(u.MaxVC) - int(u.MinVC) + 1
	if span <= 1 {
		return u.MinVC
	}
	return u.MinVC + uint8(u.rng.Intn(span))
}

func (u *Uniform) scheduleNext() {
	if u.MeanPeriodNs <= 0 {
		return
	}
	delay := u.nextInterval()
	u.sched.Schedule(delay, u.fire)
}

// nextInterval draws an exponential-ish interarrival time around
// MeanPeriodNs: uniform jitter in [0.5x, 1.5x) of the configured mean. A
// true Poisson process would draw from an exponential distribution; this
// mirrors the traffic generator's simpler "meanPeriod with jitter" model
// from the original implementation rather than introducing a statistical
// dependency the rest of the corpus doesn't use.
func (u *Uniform) nextInterval() int64 {
	half := float64(u.MeanPeriodNs) / 2
	return u.MeanPeriodNs/2 + int64(u.rng.Float64()*2*half)
}

func (u *Uniform) fire() {
	if u.stopped {
		return
	}
	if !u.paused {
		u.sink.AddTransaction(u.drawDestXPU(), u.drawVC(), u.SizeBytes)
		u.bytesSent += int64(u.SizeBytes)
		if u.TotalBytesToSend > 0 && u.bytesSent >= u.TotalBytesToSend {
			u.stopped = true
			if u.OnStop != nil {
				u.OnStop()
			}
			return
		}
	}
	u.scheduleNext()
}

func (u *Uniform) Pause()  { u.paused = true }
func (u *Uniform) Resume() { u.paused = false }

// FlowSpec is one row of a CSV-defined traffic matrix: a fixed-size
// transaction repeating at periodNs to (destXPU,vc), starting at startNs,
// until TotalBytes have been sent (0 leaves the flow unbounded). SueID and
// PortIdx record the row's pinning hints; placement here is decided by the
// load balancer, so they are carried for log correlation only.
type FlowSpec struct {
	DestXPU    uint32
	VC         uint8
	Bytes      int
	PeriodNs   int64
	StartNs    int64
	TotalBytes int64
	SueID      int
	PortIdx    int
}

type flowState struct {
	FlowSpec
	sent int64
}

// FlowSet drives an arbitrary set of independently-periodic flows, as
// parsed from a traffic-matrix CSV file (§4.10's "CSV fine-grained flows").
// Each flow keeps its own next-due clock; the generator as a whole fires
// at the earliest due flow.
type FlowSet struct {
	flows  []*flowState
	sched  *sim.Scheduler
	sink   Sink
	paused bool
}

func NewFlowSet(flows []FlowSpec) *FlowSet {
	fs := &FlowSet{}
	for _, f := range flows {
		fs.flows = append(fs.flows, &flowState{FlowSpec: f})
	}
	return fs
}

func (fs *FlowSet) Start(sched *sim.Scheduler, sink Sink) {
	fs.sched = sched
	fs.sink = sink
	for _, f := range fs.flows {
		flow := f
		fs.sched.Schedule(flow.StartNs, func() { fs.fire(flow) })
	}
}

func (fs *FlowSet) fire(f *flowState) {
	if !fs.paused {
		fs.sink.AddTransaction(f.DestXPU, f.VC, f.Bytes)
		f.sent += int64(f.Bytes)
		if f.TotalBytes > 0 && f.sent >= f.TotalBytes {
			return
		}
	}
	if f.PeriodNs > 0 {
		fs.sched.Schedule(f.PeriodNs, func() { fs.fire(f) })
	}
}

func (fs *FlowSet) Pause()  { fs.paused = true }
func (fs *FlowSet) Resume() { fs.paused = false }

// TraceEvent is one literal arrival read from a captured trace file.
type TraceEvent struct {
	AtNs    int64
	DestXPU uint32
	VC      uint8
	Bytes   int
}

// Trace replays a fixed, ordered list of arrivals: each transaction's
// delay from its predecessor equals the timestamp difference in the
// captured file (§4.10's trace mode, grounded in
// original_source/.../traffic-generator-trace.cc). While paused, the
// pending event re-arms after RearmNs without emitting or advancing, so
// no captured arrival is lost to backpressure.
type Trace struct {
	Events  []TraceEvent
	RearmNs int64

	idx    int
	sched  *sim.Scheduler
	sink   Sink
	paused bool
}

func NewTrace(events []TraceEvent) *Trace {
	return &Trace{Events: events, RearmNs: 1000}
}

func (tr *Trace) Start(sched *sim.Scheduler, sink Sink) {
	tr.sched = sched
	tr.sink = sink
	if len(tr.Events) == 0 {
		return
	}
	tr.sched.Schedule(tr.Events[0].AtNs, tr.fire)
}

func (tr *Trace) fire() {
	if tr.paused {
		tr.sched.Schedule(tr.rearm(), tr.fire)
		return
	}
	e := tr.Events[tr.idx]
	tr.sink.AddTransaction(e.DestXPU, e.VC, e.Bytes)
	tr.idx++
	if tr.idx < len(tr.Events) {
		delta := tr.Events[tr.idx].AtNs - e.AtNs
		if delta < 0 {
			delta = 0
		}
		tr.sched.Schedule(delta, tr.fire)
	}
}

func (tr *Trace) rearm() int64 {
	if tr.RearmNs > 0 {
		return tr.RearmNs
	}
	return 1000
}

func (tr *Trace) Pause()  { tr.paused = true }
func (tr *Trace) Resume() { tr.paused = false }
