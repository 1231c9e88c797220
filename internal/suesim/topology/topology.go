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

// Package topology builds the fixed arena for one simulation run (C12):
// assigns every XPU and switch port its MAC/IP identity, groups each XPU's
// ports into SUE engines, wires the per-XPU load balancer over those
// engines, attaches LLR/CBFC, constructs the static forwarding tables, and
// owns the server-side delivery bookkeeping the original SUE server
// tracked (§4.10).
package topology

import (
	"fmt"

	"suesim/internal/suesim/config"
	"suesim/internal/suesim/llr"
	"suesim/internal/suesim/loadbalancer"
	"suesim/internal/suesim/netdevice"
	"suesim/internal/suesim/sinks"
	"suesim/internal/suesim/sueclient"
	"suesim/internal/suesim/switchfwd"
	"suesim/pkg/sim"
	"suesim/pkg/wire"
)

// delayAgg tracks min/max/mean/count for one XPU's received-transaction
// end-to-end delay, restoring the server-side stats the distillation
// dropped (original_source/.../sue-server.cc).
type delayAgg struct {
	min, max, sum int64
	count         int64
}

func (d *delayAgg) observe(ns int64) {
	if d.count == 0 || ns < d.min {
		d.min = ns
	}
	if ns > d.max {
		d.max = ns
	}
	d.sum += ns
	d.count++
}

func (d *delayAgg) mean() float64 {
	if d.count == 0 {
		return 0
	}
	return float64(d.sum) / float64(d.count)
}

// World is the fully-wired simulation: every XPU's load balancer and SUE
// engines, every port across every plane, the optional per-plane switches,
// and the sinks each component reports to.
type World struct {
	Sched        *sim.Scheduler
	Cfg          config.Config
	Distributors []*loadbalancer.Distributor
	Clients      [][]*sueclient.Client // Clients[xpu][sue]
	Ports        [][]*netdevice.Port   // Ports[xpu][globalPortIdx]
	AllPorts     []sinks.PortIdent     // every port built, XPU and switch alike
	Sinks        *sinks.Set

	delays        []delayAgg
	vcBytes       [][]int64 // delivered payload bytes per [xpu][vc]
	rxTxns        []int64   // estimated transactions received per xpu
	firstDelivery []int64   // ns of first delivery per xpu; -1 until seen
	drops         map[string]int64

	obsStart int64
	obsEnd   int64
}

func macFor(xpu int) wire.MAC48 {
	return wire.MAC48{0, 0, 0, 0, byte((xpu >> 8) & 0xff), byte(xpu & 0xff)}
}

func ipFor(xpu int) wire.IPv4Addr {
	return wire.IPv4Addr{10, byte(xpu + 1), 1, 1}
}

func switchMAC(plane, idx int) wire.MAC48 {
	return wire.MAC48{0, 0, 0, 1, byte(plane), byte(idx)}
}

func portConfig(c config.Config) netdevice.Config {
	return netdevice.Config{
		NumVcs:                  c.NumVcs,
		LinkRateBytesPerSec:     c.LinkRateBytesPerSec,
		LinkDelayNs:             c.LinkDelayNs,
		InterframeGapNs:         c.InterframeGapNs,
		VcSchedulingDelayNs:     c.VcSchedulingDelayNs,
		ProcessingRateNsPerByte: c.ProcessingRateNsPerByte,
		ProcessingQueueMaxBytes: c.ProcessingQueueMaxBytes,
		MainQueueMaxBytes:       c.MainQueueMaxBytes,
		VcQueueMaxBytes:         c.VcQueueMaxBytes,
		AdditionalHeaderSize:    c.AdditionalHeaderSize,
		EnableCBFC:              c.EnableCBFC,
		InitialCredits:          c.InitialCredits,
		CreditCeiling:           c.CreditCeiling,
		CreditBatchSize:         c.CreditBatchSize,
		CreditGenerateDelayNs:   c.CreditGenerateNs,
		CreUpdateAddHeadDelayNs: c.CreUpdateAddHeadNs,
		DataAddHeadDelayNs:      c.DataAddHeadNs,
		EnableLLR:               c.EnableLLR,
		LlrTimeoutNs:            c.LlrTimeoutNs,
		AckProcessDelayNs:       c.AckProcessDelayNs,
		AckAddHeaderDelayNs:     c.AckAddHeaderDelayNs,
		SwitchForwardDelayNs:    c.SwitchForwardDelayNs,
		ErrorRate:               c.ErrorRate,
	}
}

// attachLLR builds an LLR manager for port p (whose peer is already
// attached) and wires its ACK/NACK emission onto p's main queue.
func attachLLR(sched *sim.Scheduler, p *netdevice.Port, cfg config.Config) {
	emit := func(peer wire.MAC48, vc uint8, seq uint32, nack bool) {
		f := wire.NewFrame(nil)
		proto := wire.ProtoAck
		if nack {
			proto = wire.ProtoNack
		}
		f.PPP = &wire.PPPHeader{Protocol: uint8(proto)}
		f.CBFC = &wire.CBFCHeader{VC: vc, Credits: 0}
		f.Eth = &wire.EthernetHeader{Src: p.LocalMAC, Dst: peer, EthType: wire.EthTypeIPv4}
		f.SetTag(wire.TagSeq, seq)
		delay := cfg.DataAddHeadNs
		if p.Kind == netdevice.KindSwitch {
			delay += cfg.AckAddHeaderDelayNs
		}
		sched.Schedule(delay, func() { p.EnqueueMain(f) })
	}
	mgr := llr.NewManager(sched, cfg.LlrTimeoutNs, cfg.LlrWindowSize, emit, func(wire.MAC48, uint8) { p.Kick() })
	p.LLR = mgr
}

// countingRecorder fans each port Stat out to the CSV recorder and into
// the World's in-memory drop tally, which the scenario assertions and the
// sweep CLI's summary read.
type countingRecorder struct {
	inner sinks.PortRecorder
	w     *World
}

func (r countingRecorder) Record(st netdevice.Stat) {
	switch st.Kind {
	case "vcqueue_drop", "mainqueue_drop", "processingqueue_drop", "phy_drop":
		r.w.drops[st.Kind]++
	}
	r.inner.Record(st)
}

// Build constructs a fully-wired World for cfg, writing CSV sinks under
// outDir. seedBase offsets the deterministic RNG seeds handed to each
// port's error model and each XPU's load balancer.
func Build(sched *sim.Scheduler, cfg config.Config, outDir string, seedBase int64) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sinkSet, err := sinks.NewSet(outDir)
	if err != nil {
		return nil, fmt.Errorf("topology: building sinks: %w", err)
	}

	w := &World{
		Sched:         sched,
		Cfg:           cfg,
		Ports:         make([][]*netdevice.Port, cfg.NumXpus),
		Sinks:         sinkSet,
		delays:        make([]delayAgg, cfg.NumXpus),
		vcBytes:       make([][]int64, cfg.NumXpus),
		rxTxns:        make([]int64, cfg.NumXpus),
		firstDelivery: make([]int64, cfg.NumXpus),
		drops:         make(map[string]int64),
		obsStart:      cfg.ServerStartNs,
		obsEnd:        cfg.RunDurationNs - cfg.ServerStopOffsetNs,
	}
	for x := 0; x < cfg.NumXpus; x++ {
		w.vcBytes[x] = make([]int64, cfg.NumVcs)
		w.firstDelivery[x] = -1
	}

	pc := portConfig(cfg)
	planes := cfg.PortsPerXpu
	suesPerXpu := cfg.PortsPerXpu / cfg.PortsPerSue

	for x := 0; x < cfg.NumXpus; x++ {
		w.Ports[x] = make([]*netdevice.Port, planes)
	}

	for plane := 0; plane < planes; plane++ {
		xpuPorts := make([]*netdevice.Port, cfg.NumXpus)
		for x := 0; x < cfg.NumXpus; x++ {
			id := plane*cfg.NumXpus + x
			p := netdevice.New(id, netdevice.KindXpu, macFor(x), sched, pc, seedBase+int64(id)+1)
			p.SetRecorder(countingRecorder{inner: sinks.PortRecorder{Set: sinkSet, NodeID: x, DeviceID: plane}, w: w})
			xpuPorts[x] = p
			w.Ports[x][plane] = p
			w.AllPorts = append(w.AllPorts, sinks.PortIdent{Port: p, NodeID: x, DeviceID: plane})
		}

		if cfg.UseSwitch {
			switchNode := cfg.NumXpus + plane
			swPorts := make([]*netdevice.Port, cfg.NumXpus)
			for x := 0; x < cfg.NumXpus; x++ {
				id := 1000 + plane*cfg.NumXpus + x
				sp := netdevice.New(id, netdevice.KindSwitch, switchMAC(plane, x), sched, pc, seedBase+int64(id)+1)
				sp.SetRecorder(countingRecorder{inner: sinks.PortRecorder{Set: sinkSet, NodeID: switchNode, DeviceID: x}, w: w})
				swPorts[x] = sp
				w.AllPorts = append(w.AllPorts, sinks.PortIdent{Port: sp, NodeID: switchNode, DeviceID: x})
				xpuPorts[x].Attach(sp)
				sp.Attach(xpuPorts[x])
				if cfg.EnableLLR {
					attachLLR(sched, xpuPorts[x], cfg)
					attachLLR(sched, sp, cfg)
				}
			}
			internalCredits := cfg.SwitchInternalCredits
			if internalCredits == 0 {
				internalCredits = 85 // generous relative to a typical burst; keep it configurable via cfg (§9) rather than a switchfwd literal
			}
			sw := switchfwd.New(sched, swPorts, internalCredits)
			for x := 0; x < cfg.NumXpus; x++ {
				sw.AddRoute(macFor(x), x)
			}
			sw.Wire()
		} else {
			if cfg.NumXpus != 2 {
				return nil, fmt.Errorf("%w: direct (switchless) topology only supports exactly 2 XPUs, got %d", config.ErrConfigInvalid, cfg.NumXpus)
			}
			xpuPorts[0].Attach(xpuPorts[1])
			xpuPorts[1].Attach(xpuPorts[0])
			if cfg.EnableLLR {
				attachLLR(sched, xpuPorts[0], cfg)
				attachLLR(sched, xpuPorts[1], cfg)
			}
		}
	}

	resolve := func(destXPU uint32) wire.MAC48 { return macFor(int(destXPU)) }
	w.Clients = make([][]*sueclient.Client, cfg.NumXpus)
	w.Distributors = make([]*loadbalancer.Distributor, cfg.NumXpus)

	for x := 0; x < cfg.NumXpus; x++ {
		xpu := x
		w.Clients[x] = make([]*sueclient.Client, suesPerXpu)
		sues := make([]loadbalancer.SUE, suesPerXpu)

		bal := loadbalancer.New(loadbalancer.Params{
			Algorithm:           loadbalancer.Algorithm(cfg.LoadBalanceAlgorithm),
			NumSues:             suesPerXpu,
			Seed:                cfg.LoadBalanceSeed,
			Prime1:              cfg.HashPrime1,
			Prime2:              cfg.HashPrime2,
			UseVcInHash:         cfg.UseVcInHash,
			EnableBitOperations: cfg.EnableBitOperations,
		})
		dist := loadbalancer.NewDistributor(bal, uint32(x), cfg.NumXpus, sues, sched.Now, seedBase+int64(x)+7001)
		dist.SetRecorders(sinks.LoadBalanceRecorder{Set: sinkSet}, sinks.BufferLevelRecorder{Set: sinkSet})
		w.Distributors[x] = dist

		for s := 0; s < suesPerXpu; s++ {
			basePort := s * cfg.PortsPerSue
			engine := sueclient.New(sched, uint32(x), s, macFor(x), ipFor(x), resolve,
				w.Ports[x][basePort:basePort+cfg.PortsPerSue], basePort,
				cfg.MaxBurstSize, cfg.SchedulingIntervalNs)
			engine.SetRecorder(sinks.ClientRecorder{Set: sinkSet, XpuID: uint32(x), SueID: s, DestQueueMaxBytes: cfg.DestQueueMaxBytes})
			engine.SetDestQueueMaxBytes(cfg.DestQueueMaxBytes)
			engine.SetPackingDelay(cfg.PackingDelayPerPacketNs)
			engine.SetOnShrink(dist.NotifySpaceAvailable)
			w.Clients[x][s] = engine
			sues[s] = engine

			if cfg.StatLoggingEnabled {
				cs := sinks.ClientSampler{Set: sinkSet, XpuID: uint32(x), SueID: s, DestQueueMaxBytes: cfg.DestQueueMaxBytes}
				eng := engine
				var tick func()
				tick = func() {
					cs.Sample(sched.Now(), eng.Snapshot())
					sched.Schedule(cfg.ClientStatInterval, tick)
				}
				sched.Schedule(cfg.ClientStatInterval, tick)
			}
		}

		for plane := 0; plane < planes; plane++ {
			port := w.Ports[x][plane]
			portID := plane
			port.Deliver = func(f *wire.Frame) { w.onDeliver(xpu, portID, f) }
		}
	}

	if cfg.StatLoggingEnabled {
		sampler := sinks.LevelSampler{Set: sinkSet, Ports: w.AllPorts}
		var tick func()
		tick = func() {
			sampler.Sample(sched.Now())
			sched.Schedule(cfg.LinkStatInterval, tick)
		}
		sched.Schedule(cfg.LinkStatInterval, tick)
	}

	return w, nil
}

// onDeliver is the server sink (§4.10): invoked whenever one of xpu's
// ports finishes delivering a data frame upward. It emits the per-delivery
// xpu_delay_logs row, folds the sample into the running min/max/mean/count
// the original SUE server tracked, and estimates the received transaction
// count as ceil(payload / transactionSize).
func (w *World) onDeliver(xpu, portID int, f *wire.Frame) {
	now := w.Sched.Now()
	if now < w.obsStart || (w.obsEnd > w.obsStart && now > w.obsEnd) {
		return
	}
	if w.firstDelivery[xpu] < 0 {
		w.firstDelivery[xpu] = now
	}
	payload := int64(len(f.Payload))
	if f.SUE != nil && int(f.SUE.VC) < len(w.vcBytes[xpu]) {
		w.vcBytes[xpu][f.SUE.VC] += payload
	}
	if w.Cfg.TrafficTxnBytes > 0 {
		w.rxTxns[xpu] += (payload + int64(w.Cfg.TrafficTxnBytes) - 1) / int64(w.Cfg.TrafficTxnBytes)
	} else {
		w.rxTxns[xpu]++
	}

	sendTag, ok := f.Tag(wire.TagSendTime)
	if !ok {
		return
	}
	sendTime, _ := sendTag.(int64)
	delay := now - sendTime
	w.delays[xpu].observe(delay)
	w.Sinks.XpuDelay.Append([]string{
		fmt.Sprintf("%d", now),
		fmt.Sprintf("%d", xpu),
		fmt.Sprintf("%d", portID),
		fmt.Sprintf("%d", delay),
	})
}

// DelayStats returns the (min, max, mean, count) end-to-end delay summary
// observed so far for the given destination XPU.
func (w *World) DelayStats(xpu int) (min, max int64, mean float64, count int64) {
	d := w.delays[xpu]
	return d.min, d.max, d.mean(), d.count
}

// DeliveredBytes returns the total application payload bytes delivered to
// xpu's server sink, summed across VCs.
func (w *World) DeliveredBytes(xpu int) int64 {
	var total int64
	for _, b := range w.vcBytes[xpu] {
		total += b
	}
	return total
}

// DeliveredBytesVC returns the application payload bytes delivered to xpu
// on one virtual channel.
func (w *World) DeliveredBytesVC(xpu int, vc uint8) int64 {
	if int(vc) >= len(w.vcBytes[xpu]) {
		return 0
	}
	return w.vcBytes[xpu][vc]
}

// ReceivedTxns returns xpu's estimated received transaction count
// (ceil(payload/transactionSize) per delivered frame, §4.10).
func (w *World) ReceivedTxns(xpu int) int64 { return w.rxTxns[xpu] }

// FirstDeliveryAt returns the simulation time of xpu's first delivery, or
// -1 if nothing has arrived.
func (w *World) FirstDeliveryAt(xpu int) int64 { return w.firstDelivery[xpu] }

// DropCount returns how many drops of the given netdevice Stat kind
// ("vcqueue_drop", "mainqueue_drop", "processingqueue_drop", "phy_drop")
// have occurred across all ports.
func (w *World) DropCount(kind string) int64 { return w.drops[kind] }

// Close flushes and closes every sink in the world.
func (w *World) Close() {
	w.Sinks.Close()
}
