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

// Package sinks implements the CSV event logs described in §6's sink
// table: one append-only, buffered CSV file per accounting stream
// (performance, link-credit, per-queue depth, drops, load-balance
// decisions, wait time, pack counts). All twelve typed sinks share one
// generic CSVSink, the way the teacher's VEnvFileSink and SBatchFileSink
// both wrap the same buffered-writer-plus-mutex pattern around different
// record shapes.
package sinks

import (
	"bufio"
	"encoding/csv"
	"os"
	"sync"
	"time"
)

// CSVSink appends rows to a CSV file, flushing periodically rather than on
// every row so a busy simulation doesn't pay a syscall per event.
type CSVSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	path string

	lastFlush time.Time
}

// NewCSVSink creates (or truncates) path, writes header as the first row,
// and returns a sink ready to append.
func NewCSVSink(path string, header []string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	w := csv.NewWriter(bw)
	if len(header) > 0 {
		_ = w.Write(header)
	}
	return &CSVSink{f: f, w: w, path: path, lastFlush: time.Now()}, nil
}

// Append writes one row. Errors are swallowed at the call site deliberately
// — a sink hiccup must never perturb the simulation's event ordering.
func (s *CSVSink) Append(row []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Write(row)
	if time.Since(s.lastFlush) > 100*time.Millisecond {
		s.w.Flush()
		s.lastFlush = time.Now()
	}
}

func (s *CSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	s.lastFlush = time.Now()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.f.Close()
}
