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

package sueclient

import (
	"testing"

	"suesim/internal/suesim/netdevice"
	"suesim/pkg/sim"
	"suesim/pkg/wire"
)

func portCfg() netdevice.Config {
	return netdevice.Config{
		NumVcs:                  2,
		LinkRateBytesPerSec:     1e9,
		ProcessingRateNsPerByte: 1,
		ProcessingQueueMaxBytes: 100000,
		MainQueueMaxBytes:       100000,
		VcQueueMaxBytes:         100000,
		EnableCBFC:              false,
	}
}

var peerMAC = wire.MAC48{0, 0, 0, 0, 0, 2}

func resolvePeer(uint32) wire.MAC48 { return peerMAC }

// harness wires one engine over n ports, each linked to its own receiver
// port whose deliveries are collected in order.
func harness(t *testing.T, s *sim.Scheduler, cfg netdevice.Config, nPorts, maxBurst int, interval int64) (*Client, *[]*wire.Frame) {
	t.Helper()
	var delivered []*wire.Frame
	ports := make([]*netdevice.Port, nPorts)
	for i := 0; i < nPorts; i++ {
		a := netdevice.New(i*2, netdevice.KindXpu, wire.MAC48{0, 0, 0, 0, 0, 1}, s, cfg, int64(i)*2+1)
		b := netdevice.New(i*2+1, netdevice.KindXpu, peerMAC, s, cfg, int64(i)*2+2)
		a.Attach(b)
		b.Attach(a)
		b.Deliver = func(f *wire.Frame) { delivered = append(delivered, f) }
		ports[i] = a
	}
	c := New(s, 0, 0, wire.MAC48{0, 0, 0, 0, 0, 1}, wire.IPv4Addr{10, 1, 1, 1}, resolvePeer, ports, 0, maxBurst, interval)
	return c, &delivered
}

func TestClient_PacksMultipleTransactionsIntoOneBurst(t *testing.T) {
	s := sim.New()
	c, delivered := harness(t, s, portCfg(), 1, 1000, 10)

	c.AddTransaction(1, 0, 100)
	c.AddTransaction(1, 0, 50)
	s.Run()

	if len(*delivered) != 1 {
		t.Fatalf("expected both transactions packed into one burst, got %d frames", len(*delivered))
	}
	if got := len((*delivered)[0].Payload); got != 150 {
		t.Fatalf("expected packed burst of 150 bytes, got %d", got)
	}
}

func TestClient_BurstCapSplitsAcrossTwoSends(t *testing.T) {
	s := sim.New()
	c, delivered := harness(t, s, portCfg(), 1, 100, 10)

	c.AddTransaction(1, 0, 80)
	c.AddTransaction(1, 0, 80)
	s.Run()

	if len(*delivered) != 2 {
		t.Fatalf("expected 2 separate bursts under the 100-byte cap, got %d", len(*delivered))
	}
}

func TestClient_OldestWaitingQueueDrainsFirst(t *testing.T) {
	s := sim.New()
	c, delivered := harness(t, s, portCfg(), 1, 1000, 100)

	// VC 1's queue receives its transaction first; VC 0's arrives 1ns
	// later. The first packed burst must come from VC 1's queue.
	c.AddTransaction(1, 1, 64)
	s.Schedule(1, func() { c.AddTransaction(1, 0, 64) })
	s.Run()

	if len(*delivered) != 2 {
		t.Fatalf("expected 2 bursts, got %d", len(*delivered))
	}
	if (*delivered)[0].SUE.VC != 1 {
		t.Fatalf("first burst should come from the oldest-waiting queue (vc 1), got vc %d", (*delivered)[0].SUE.VC)
	}
}

func TestClient_DestQueueCapDropsAndReportsOverflow(t *testing.T) {
	s := sim.New()
	c, _ := harness(t, s, portCfg(), 1, 1000, 10)
	c.SetDestQueueMaxBytes(128)

	var drops int
	c.SetRecorder(recorderFunc(func(st Stat) {
		if st.Kind == "dest_queue_drop" {
			drops++
		}
	}))

	if !c.CanAccept(1, 0, 100) {
		t.Fatalf("first 100 bytes should be admissible under a 128-byte cap")
	}
	c.AddTransaction(1, 0, 100)
	if c.CanAccept(1, 0, 100) {
		t.Fatalf("second 100 bytes should not be admissible")
	}
	if c.AddTransaction(1, 0, 100) {
		t.Fatalf("overflowing AddTransaction should report failure")
	}
	if drops != 1 {
		t.Fatalf("expected exactly one DestQueueFull drop, got %d", drops)
	}
}

type recorderFunc func(Stat)

func (f recorderFunc) Record(s Stat) { f(s) }

func TestClient_RoundRobinRotatesAcrossPorts(t *testing.T) {
	s := sim.New()
	c, delivered := harness(t, s, portCfg(), 2, 100, 10)

	for i := 0; i < 4; i++ {
		c.AddTransaction(1, 0, 80)
	}
	s.Run()

	if len(*delivered) != 4 {
		t.Fatalf("expected 4 bursts across 2 ports, got %d", len(*delivered))
	}
	// Successive bursts alternate source UDP port as the round robin
	// advances past each used device.
	if (*delivered)[0].UDP.SrcPort == (*delivered)[1].UDP.SrcPort {
		t.Fatalf("expected consecutive bursts on different ports, both on %d", (*delivered)[0].UDP.SrcPort)
	}
}

func TestClient_NotifiesShrinkAfterEachBurst(t *testing.T) {
	s := sim.New()
	c, _ := harness(t, s, portCfg(), 1, 1000, 10)

	var notified int
	c.SetOnShrink(func(sueID int, destXPU uint32, vc uint8) {
		notified++
		if sueID != 0 || destXPU != 1 || vc != 0 {
			t.Fatalf("unexpected shrink notification (%d,%d,%d)", sueID, destXPU, vc)
		}
	})
	c.AddTransaction(1, 0, 64)
	s.Run()

	if notified != 1 {
		t.Fatalf("expected one shrink notification, got %d", notified)
	}
}

func TestClient_SkipsBurstWhenNoPortCanReserve(t *testing.T) {
	s := sim.New()
	cfg := portCfg()
	cfg.VcQueueMaxBytes = 10 // too small to ever admit a 50-byte burst
	c, delivered := harness(t, s, cfg, 1, 1000, 10)

	c.AddTransaction(1, 0, 50)
	s.Stop(10_000)
	s.Run()

	if len(*delivered) != 0 {
		t.Fatalf("expected the burst to stay pending while no port can reserve, got %d deliveries", len(*delivered))
	}
	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].Bytes != 50 {
		t.Fatalf("expected the transaction to remain queued, got %+v", snap)
	}
}
