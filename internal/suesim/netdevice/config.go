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

// Package netdevice implements the link-layer port pipeline (C6): the
// serialize-TX path (main queue over VC queues), the RX processing-queue
// pipeline, and the glue between CBFC (C3), the VC queue bank (C4) and LLR
// (C5).
package netdevice

// Kind distinguishes an XPU-attached port from a switch port; §9 replaces
// the source's MAC-parity heuristic with this explicit field.
type Kind int

const (
	KindXpu Kind = iota
	KindSwitch
)

// Config bundles every per-port timing and capacity knob named in spec §6.
type Config struct {
	NumVcs int

	LinkRateBytesPerSec float64
	LinkDelayNs         int64
	InterframeGapNs     int64
	VcSchedulingDelayNs int64

	ProcessingRateNsPerByte int64
	ProcessingQueueMaxBytes int
	MainQueueMaxBytes       int
	VcQueueMaxBytes         int
	AdditionalHeaderSize    int

	EnableCBFC        bool
	InitialCredits    uint32
	CreditCeiling     uint32
	CreditBatchSize   uint32
	CreditGenerateDelayNs   int64
	CreUpdateAddHeadDelayNs int64
	DataAddHeadDelayNs      int64

	EnableLLR     bool
	LlrTimeoutNs  int64
	AckProcessDelayNs  int64
	AckAddHeaderDelayNs int64

	SwitchForwardDelayNs int64
	ErrorRate            float64
}

// TimeForBytes returns the per-byte service time for n bytes at this port's
// configured processing rate.
func (c Config) TimeForBytes(n int) int64 {
	return int64(n) * c.ProcessingRateNsPerByte
}

// TxTime returns the serialization delay for an n-byte frame at this
// port's link rate.
func (c Config) TxTime(n int) int64 {
	if c.LinkRateBytesPerSec <= 0 {
		return 0
	}
	return int64(float64(n) / c.LinkRateBytesPerSec * 1e9)
}
