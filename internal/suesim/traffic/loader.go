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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadFlows parses a fine-grained traffic matrix: one flow per row,
// columns srcXPU,dstXPU,sueId,portIdx,vc,rateMbps,totalBytes (§4.10). Only
// rows whose srcXPU equals localXPU are returned — each XPU's generator
// owns only its own flows. txnBytes sets the per-transaction size; a
// flow's interarrival period follows from its rate:
// periodNs = txnBytes*8000/rateMbps.
func LoadFlows(r io.Reader, localXPU uint32, txnBytes int) ([]FlowSpec, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, err
	}
	var out []FlowSpec
	for i, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("traffic: flow row %d: want 7 columns, got %d", i+1, len(row))
		}
		src, err := parseUint(row[0])
		if err != nil {
			return nil, fmt.Errorf("traffic: flow row %d srcXPU: %w", i+1, err)
		}
		if src != localXPU {
			continue
		}
		dst, err := parseUint(row[1])
		if err != nil {
			return nil, fmt.Errorf("traffic: flow row %d dstXPU: %w", i+1, err)
		}
		sueID, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil {
			return nil, fmt.Errorf("traffic: flow row %d sueId: %w", i+1, err)
		}
		portIdx, err := strconv.Atoi(strings.TrimSpace(row[3]))
		if err != nil {
			return nil, fmt.Errorf("traffic: flow row %d portIdx: %w", i+1, err)
		}
		vc, err := parseUint(row[4])
		if err != nil {
			return nil, fmt.Errorf("traffic: flow row %d vc: %w", i+1, err)
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(row[5]), 64)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("traffic: flow row %d rateMbps: %q", i+1, row[5])
		}
		total, err := strconv.ParseInt(strings.TrimSpace(row[6]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("traffic: flow row %d totalBytes: %w", i+1, err)
		}
		out = append(out, FlowSpec{
			DestXPU:    dst,
			VC:         uint8(vc),
			Bytes:      txnBytes,
			PeriodNs:   int64(float64(txnBytes) * 8000 / rate),
			TotalBytes: total,
			SueID:      sueID,
			PortIdx:    portIdx,
		})
	}
	return out, nil
}

// LoadFlowsFile is LoadFlows over a file path.
func LoadFlowsFile(path string, localXPU uint32, txnBytes int) ([]FlowSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadFlows(f, localXPU, txnBytes)
}

// opToVC maps a trace row's operation to its virtual channel: loads ride
// VC 0, stores VC 1, everything else VC 2 (§4.10).
func opToVC(op string) uint8 {
	switch strings.ToUpper(strings.TrimSpace(op)) {
	case "LOAD":
		return 0
	case "STORE":
		return 1
	default:
		return 2
	}
}

// LoadTrace parses a captured workload trace: one row per operation,
// columns timestamp_ns,gpuId,dieId,operation,tileId (§4.10). Rows are
// filtered by operation (empty matches any) and tileID (negative matches
// any); surviving rows become transactions of txnBytes addressed to the
// row's gpuId, timestamped relative to the first surviving row.
func LoadTrace(r io.Reader, operation string, tileID int, txnBytes int) ([]TraceEvent, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, err
	}
	var out []TraceEvent
	var base int64
	for i, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("traffic: trace row %d: want 5 columns, got %d", i+1, len(row))
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("traffic: trace row %d timestamp: %w", i+1, err)
		}
		gpu, err := parseUint(row[1])
		if err != nil {
			return nil, fmt.Errorf("traffic: trace row %d gpuId: %w", i+1, err)
		}
		op := row[3]
		tile, err := strconv.Atoi(strings.TrimSpace(row[4]))
		if err != nil {
			return nil, fmt.Errorf("traffic: trace row %d tileId: %w", i+1, err)
		}
		if operation != "" && !strings.EqualFold(strings.TrimSpace(op), operation) {
			continue
		}
		if tileID >= 0 && tile != tileID {
			continue
		}
		if len(out) == 0 {
			base = ts
		}
		out = append(out, TraceEvent{
			AtNs:    ts - base,
			DestXPU: gpu,
			VC:      opToVC(op),
			Bytes:   txnBytes,
		})
	}
	return out, nil
}

// LoadTraceFile is LoadTrace over a file path.
func LoadTraceFile(path string, operation string, tileID int, txnBytes int) ([]TraceEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadTrace(f, operation, tileID, txnBytes)
}

// readRows reads every CSV record, tolerating a header row (detected by a
// non-numeric first field) and blank lines.
func readRows(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	var out [][]string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if len(out) == 0 {
			if _, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64); err != nil {
				continue // header row
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	return uint32(v), err
}
