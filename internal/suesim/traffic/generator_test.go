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

package traffic

import (
	"testing"

	"suesim/pkg/sim"
)

type fakeSink struct {
	calls    []int
	destXPUs []uint32
	vcs      []uint8
}

func (f *fakeSink) AddTransaction(destXPU uint32, vc uint8, bytes int) bool {
	f.calls = append(f.calls, bytes)
	f.destXPUs = append(f.destXPUs, destXPU)
	f.vcs = append(f.vcs, vc)
	return true
}

func TestUniform_GeneratesRepeatedArrivals(t *testing.T) {
	s := sim.New()
	sink := &fakeSink{}
	u := NewUniform(UniformParams{MinDestXPU: 1, MaxDestXPU: 1, SizeBytes: 64, MeanPeriodNs: 1000, Seed: 7})
	u.Start(s, sink)
	s.Stop(10000)
	s.Run()
	if len(sink.calls) == 0 {
		t.Fatalf("expected at least one arrival in 10000ns at mean period 1000ns")
	}
}

func TestUniform_PauseStopsArrivalsWithoutLosingSchedule(t *testing.T) {
	s := sim.New()
	sink := &fakeSink{}
	u := NewUniform(UniformParams{MinDestXPU: 1, MaxDestXPU: 1, SizeBytes: 64, MeanPeriodNs: 500, Seed: 7})
	u.Start(s, sink)
	u.Pause()
	s.Stop(5000)
	s.Run()
	if len(sink.calls) != 0 {
		t.Fatalf("expected no arrivals while paused, got %d", len(sink.calls))
	}
	u.Resume()
	s.Stop(10000)
	s.Run()
	if len(sink.calls) == 0 {
		t.Fatalf("expected arrivals to resume after Resume()")
	}
}

func TestUniform_DrawsDestXPUInRangeExcludingLocal(t *testing.T) {
	s := sim.New()
	sink := &fakeSink{}
	u := NewUniform(UniformParams{LocalXPU: 1, MinDestXPU: 0, MaxDestXPU: 2, MinVC: 0, MaxVC: 3, SizeBytes: 32, MeanPeriodNs: 100, Seed: 11})
	u.Start(s, sink)
	s.Stop(2000)
	s.Run()
	if len(sink.destXPUs) == 0 {
		t.Fatalf("expected at least one arrival")
	}
	for _, d := range sink.destXPUs {
		if d == 1 {
			t.Fatalf("destXPU draw must exclude LocalXPU, got %d", d)
		}
		if d > 2 {
			t.Fatalf("destXPU draw %d outside [0,2]", d)
		}
	}
	for _, v := range sink.vcs {
		if v > 3 {
			t.Fatalf("vc draw %d outside [0,3]", v)
		}
	}
}

func TestUniform_StopsAtTotalBytesToSendAndFiresOnStop(t *testing.T) {
	s := sim.New()
	sink := &fakeSink{}
	u := NewUniform(UniformParams{MinDestXPU: 1, MaxDestXPU: 1, SizeBytes: 100, MeanPeriodNs: 100, TotalBytesToSend: 250, Seed: 3})
	stopped := false
	u.OnStop = func() { stopped = true }
	u.Start(s, sink)
	s.Stop(1_000_000)
	s.Run()
	if len(sink.calls) != 3 {
		t.Fatalf("expected exactly 3 arrivals (250 bytes / 100 per txn, rounded up), got %d", len(sink.calls))
	}
	if !stopped {
		t.Fatalf("expected OnStop to fire once totalBytesToSend was reached")
	}
}

func TestFlowSet_FiresEachFlowAtItsPeriod(t *testing.T) {
	s := sim.New()
	sink := &fakeSink{}
	fs := NewFlowSet([]FlowSpec{
		{DestXPU: 1, VC: 0, Bytes: 32, PeriodNs: 1000, StartNs: 0},
		{DestXPU: 2, VC: 1, Bytes: 16, PeriodNs: 0, StartNs: 500},
	})
	fs.Start(s, sink)
	s.Stop(3500)
	s.Run()
	if len(sink.calls) < 4 {
		t.Fatalf("expected >=4 arrivals (periodic flow fires ~4x, one-shot fires once), got %d", len(sink.calls))
	}
}

func TestTrace_ReplaysExactEvents(t *testing.T) {
	s := sim.New()
	sink := &fakeSink{}
	tr := NewTrace([]TraceEvent{
		{AtNs: 100, DestXPU: 1, VC: 0, Bytes: 10},
		{AtNs: 200, DestXPU: 1, VC: 0, Bytes: 20},
	})
	tr.Start(s, sink)
	s.Run()
	if len(sink.calls) != 2 {
		t.Fatalf("expected exactly 2 replayed events, got %d", len(sink.calls))
	}
}

func newTraceHarness() (*sim.Scheduler, *fakeSink) {
	return sim.New(), &fakeSink{}
}

func TestFlowSet_StopsFlowAtTotalBytes(t *testing.T) {
	s := sim.New()
	sink := &fakeSink{}
	fs := NewFlowSet([]FlowSpec{{DestXPU: 1, VC: 0, Bytes: 100, PeriodNs: 100, TotalBytes: 250}})
	fs.Start(s, sink)
	s.Stop(100_000)
	s.Run()
	if len(sink.calls) != 3 {
		t.Fatalf("expected the flow to stop after 3 transactions (250 bytes at 100 each), got %d", len(sink.calls))
	}
}
