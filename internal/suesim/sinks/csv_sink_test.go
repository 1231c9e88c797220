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
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"suesim/internal/suesim/netdevice"
)

func TestCSVSink_WritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.csv")
	s, err := NewCSVSink(path, []string{"a", "b"})
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}
	s.Append([]string{"1", "2"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 2 || lines[0] != "a,b" || lines[1] != "1,2" {
		t.Fatalf("unexpected file contents: %v", lines)
	}
}

func TestPortRecorder_RoutesDropsByReason(t *testing.T) {
	dir := t.TempDir()
	set, err := NewSet(dir)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	defer set.Close()

	rec := PortRecorder{Set: set, NodeID: 0, DeviceID: 0}
	rec.Record(netdevice.Stat{Kind: "vcqueue_drop", Port: 0, VC: 1, Bytes: 64})
	rec.Record(netdevice.Stat{Kind: "sent", Port: 0, VC: 1, Bytes: 64, Now: 100})

	set.Drop.Flush()
	set.Performance.Flush()

	dropBytes, _ := os.ReadFile(filepath.Join(dir, "performance-data", "data", "drop_logs", "drop_logs.csv"))
	if !strings.Contains(string(dropBytes), "VCQueueFull") {
		t.Fatalf("expected a VCQueueFull drop row, got %q", dropBytes)
	}
	perfBytes, _ := os.ReadFile(filepath.Join(dir, "performance-data", "data", "performance_logs", "performance_logs.csv"))
	if !strings.Contains(string(perfBytes), ",tx,") {
		t.Fatalf("expected a tx performance row, got %q", perfBytes)
	}
}
