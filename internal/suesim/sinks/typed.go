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

package sinks

import (
	"fmt"
	"os"
	"path/filepath"

	"suesim/internal/suesim/netdevice"
	"suesim/internal/suesim/sueclient"
	"suesim/internal/suesim/telemetry"
)

// Set bundles every sink named in §6's table. Each sink's CSV lives in its
// own directory under <root>/performance-data/data/<sink>/, matching the
// layout the analysis tooling expects.
type Set struct {
	Performance      *CSVSink
	LinkCredit       *CSVSink
	VCQueue          *CSVSink
	MainQueue        *CSVSink
	ProcessingQueue  *CSVSink
	DestinationQueue *CSVSink
	SueBufferQueue   *CSVSink
	XpuDelay         *CSVSink
	Drop             *CSVSink
	LoadBalance      *CSVSink
	WaitTime         *CSVSink
	PackNum          *CSVSink
}

// NewSet creates all twelve CSV sinks under root, one directory per sink.
func NewSet(root string) (*Set, error) {
	mk := func(name string, header []string) (*CSVSink, error) {
		dir := filepath.Join(root, "performance-data", "data", name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		return NewCSVSink(filepath.Join(dir, name+".csv"), header)
	}
	var err error
	s := &Set{}
	if s.Performance, err = mk("performance_logs", []string{"Time", "NodeId", "DeviceId", "VCId", "Direction", "DataSize"}); err != nil {
		return nil, err
	}
	if s.LinkCredit, err = mk("link_credit_logs", []string{"TimeNs", "NodeId", "DeviceId", "VCId", "Direction", "Credits", "MacAddress"}); err != nil {
		return nil, err
	}
	if s.VCQueue, err = mk("vc_queue_logs", []string{"TimeNs", "NodeId", "DeviceId", "VCId", "CurrentSize", "MaxSize", "Utilization"}); err != nil {
		return nil, err
	}
	if s.MainQueue, err = mk("main_queue_logs", []string{"TimeNs", "NodeId", "DeviceId", "CurrentSize", "MaxSize", "Utilization"}); err != nil {
		return nil, err
	}
	if s.ProcessingQueue, err = mk("processing_queue_logs", []string{"TimeNs", "NodeId", "DeviceId", "QueueLength", "MaxSize", "Utilization"}); err != nil {
		return nil, err
	}
	if s.DestinationQueue, err = mk("destination_queue_logs", []string{"TimeNs", "XpuId", "SueId", "DestXpuId", "VcId", "CurrentSize", "MaxSize", "Utilization"}); err != nil {
		return nil, err
	}
	if s.SueBufferQueue, err = mk("sue_buffer_queue_logs", []string{"TimeNs", "XpuId", "BufferSize"}); err != nil {
		return nil, err
	}
	if s.XpuDelay, err = mk("xpu_delay_logs", []string{"TimeNs", "XpuId", "PortId", "Delay(ns)"}); err != nil {
		return nil, err
	}
	if s.Drop, err = mk("drop_logs", []string{"TimeNs", "NodeId", "DeviceId", "VCId", "DropReason", "PacketSize"}); err != nil {
		return nil, err
	}
	if s.LoadBalance, err = mk("load_balance_logs", []string{"LocalXpuId", "DestXpuId", "VcId", "SueId"}); err != nil {
		return nil, err
	}
	if s.WaitTime, err = mk("wait_time_logs", []string{"XpuId", "WaitTime(ns)"}); err != nil {
		return nil, err
	}
	if s.PackNum, err = mk("pack_num_logs", []string{"XpuId", "PackNums"}); err != nil {
		return nil, err
	}
	return s, nil
}

// Close flushes and closes every sink in the set.
func (s *Set) Close() {
	for _, c := range []*CSVSink{
		s.Performance, s.LinkCredit, s.VCQueue, s.MainQueue, s.ProcessingQueue,
		s.DestinationQueue, s.SueBufferQueue, s.XpuDelay, s.Drop, s.LoadBalance,
		s.WaitTime, s.PackNum,
	} {
		if c != nil {
			c.Close()
		}
	}
}

func itoa(v int64) string  { return fmt.Sprintf("%d", v) }
func utoa(v uint32) string { return fmt.Sprintf("%d", v) }

func utilization(cur, max int) string {
	if max <= 0 {
		return "0.0000"
	}
	return fmt.Sprintf("%.4f", float64(cur)/float64(max))
}

// PortRecorder adapts a Set to netdevice.Recorder for one port, identified
// for the logs by its owning node id and its device index on that node.
type PortRecorder struct {
	Set      *Set
	NodeID   int
	DeviceID int
}

func (r PortRecorder) Record(st netdevice.Stat) {
	t := itoa(st.Now)
	node := itoa(int64(r.NodeID))
	dev := itoa(int64(r.DeviceID))
	vc := itoa(int64(st.VC))
	size := itoa(int64(st.Bytes))
	drop := func(reason string) {
		r.Set.Drop.Append([]string{t, node, dev, vc, reason, size})
		telemetry.ObserveDrop(node, reason)
	}
	switch st.Kind {
	case "sent":
		r.Set.Performance.Append([]string{t, node, dev, vc, "tx", size})
		telemetry.ObserveSent(node, vc, st.Bytes)
	case "received":
		r.Set.Performance.Append([]string{t, node, dev, vc, "rx", size})
	case "vcqueue_drop":
		drop("VCQueueFull")
	case "mainqueue_drop":
		drop("MainQueueFull")
	case "processingqueue_drop":
		drop("ProcessingQueueFull")
	case "phy_drop":
		drop("PhyRxDrop")
	case "llr_retransmit":
		telemetry.ObserveRetransmit(node, vc)
	}
}

// ClientRecorder adapts a Set to sueclient.Recorder for one SUE engine.
// DestQueueMaxBytes feeds the MaxSize/Utilization columns (0 when the
// queues are unbounded).
type ClientRecorder struct {
	Set               *Set
	XpuID             uint32
	SueID             int
	DestQueueMaxBytes int
}

func (r ClientRecorder) Record(st sueclient.Stat) {
	t := itoa(st.Now)
	xpu := utoa(r.XpuID)
	sue := itoa(int64(r.SueID))
	dest := utoa(st.DestXPU)
	vc := itoa(int64(st.VC))
	val := itoa(st.Value)
	switch st.Kind {
	case "destination_queue":
		r.Set.DestinationQueue.Append([]string{
			t, xpu, sue, dest, vc, val,
			itoa(int64(r.DestQueueMaxBytes)),
			utilization(int(st.Value), r.DestQueueMaxBytes),
		})
	case "wait_time":
		r.Set.WaitTime.Append([]string{xpu, val})
	case "pack_num":
		r.Set.PackNum.Append([]string{xpu, val})
	case "dest_queue_drop":
		r.Set.Drop.Append([]string{t, xpu, sue, vc, "DestQueueFull", val})
		telemetry.ObserveDrop(xpu, "DestQueueFull")
	}
}

// LoadBalanceRecorder logs each admission decision. It implements
// loadbalancer.DistributeRecorder directly so the topology builder can
// install it on a Distributor with no adapter.
type LoadBalanceRecorder struct {
	Set *Set
}

func (r LoadBalanceRecorder) RecordDistribute(localXPU, destXPU uint32, vc uint8, sue int) {
	r.Set.LoadBalance.Append([]string{utoa(localXPU), utoa(destXPU), itoa(int64(vc)), itoa(int64(sue))})
}

// BufferLevelRecorder logs the load balancer's buffer-queue depth on every
// change. It implements loadbalancer.BufferRecorder.
type BufferLevelRecorder struct {
	Set *Set
}

func (r BufferLevelRecorder) RecordBufferLevel(now int64, xpu uint32, depth int) {
	r.Set.SueBufferQueue.Append([]string{itoa(now), utoa(xpu), itoa(int64(depth))})
}

// PortIdent names one port for the periodic level samplers.
type PortIdent struct {
	Port     *netdevice.Port
	NodeID   int
	DeviceID int
}

// LevelSampler periodically snapshots every port's queue depths and CBFC
// credit levels into the vc_queue/main_queue/processing_queue/link_credit
// sinks (§6) — the StatLoggingEnabled tracing mode. Unlike the drop and
// performance sinks (populated at the moment of the triggering event),
// level logs are sampled, since depth and credits are properties of state
// rather than discrete events.
type LevelSampler struct {
	Set   *Set
	Ports []PortIdent
}

// Sample records one snapshot row per port (and per VC, for the per-VC
// sinks) at the given timestamp.
func (ls LevelSampler) Sample(now int64) {
	t := itoa(now)
	for _, pi := range ls.Ports {
		p := pi.Port
		node := itoa(int64(pi.NodeID))
		dev := itoa(int64(pi.DeviceID))
		ls.Set.MainQueue.Append([]string{
			t, node, dev,
			itoa(int64(p.MainQueueBytes())), itoa(int64(p.MainQueueMaxBytes())),
			utilization(p.MainQueueBytes(), p.MainQueueMaxBytes()),
		})
		ls.Set.ProcessingQueue.Append([]string{
			t, node, dev,
			itoa(int64(p.ProcessingQueueLen())), itoa(int64(p.ProcessingQueueMaxBytes())),
			utilization(p.ProcessingQueueBytes(), p.ProcessingQueueMaxBytes()),
		})
		var peerMAC string
		if peer := p.Peer(); peer != nil {
			peerMAC = peer.LocalMAC.String()
		}
		for vc := 0; vc < p.NumVcs(); vc++ {
			vcs := itoa(int64(vc))
			ls.Set.VCQueue.Append([]string{
				t, node, dev, vcs,
				itoa(int64(p.VCQueueBytes(uint8(vc)))), itoa(int64(p.VCQueueMaxBytes())),
				utilization(p.VCQueueBytes(uint8(vc)), p.VCQueueMaxBytes()),
			})
			if credits, ok := p.TxCreditsToPeer(uint8(vc)); ok {
				ls.Set.LinkCredit.Append([]string{t, node, dev, vcs, "tx", utoa(credits), peerMAC})
			}
		}
	}
}

// ClientSampler periodically snapshots one SUE engine's nonempty
// destination queues into the destination_queue_logs sink (§6's
// ClientStatInterval), complementing AddTransaction's event-driven rows
// with a steady heartbeat even while a destination queue sits idle between
// arrivals.
type ClientSampler struct {
	Set               *Set
	XpuID             uint32
	SueID             int
	DestQueueMaxBytes int
}

func (cs ClientSampler) Sample(now int64, depths []sueclient.QueueDepth) {
	t := itoa(now)
	xpu := utoa(cs.XpuID)
	sue := itoa(int64(cs.SueID))
	for _, d := range depths {
		cs.Set.DestinationQueue.Append([]string{
			t, xpu, sue, utoa(d.DestXPU), itoa(int64(d.VC)), itoa(int64(d.Bytes)),
			itoa(int64(cs.DestQueueMaxBytes)),
			utilization(d.Bytes, cs.DestQueueMaxBytes),
		})
	}
}
