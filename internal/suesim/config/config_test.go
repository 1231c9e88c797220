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

package config

import (
	"errors"
	"testing"
)

func valid() Config {
	return Config{
		NumXpus: 4, PortsPerXpu: 2, PortsPerSue: 2, NumVcs: 4,
		LinkRateBytesPerSec: 1e9, MaxBurstSize: 4096, RunDurationNs: 1e9,
		LoadBalanceAlgorithm: 0, EnableCBFC: true, CreditBatchSize: 1,
	}
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}
}

func TestValidate_RejectsBadPortsPerSue(t *testing.T) {
	c := valid()
	c.PortsPerSue = 3
	err := c.Validate()
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestValidate_RejectsPortsPerXpuNotMultiple(t *testing.T) {
	c := valid()
	c.PortsPerXpu = 3
	c.PortsPerSue = 2
	if err := c.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for non-multiple portsPerXpu, got %v", err)
	}
}

func TestValidate_RejectsOutOfRangeAlgorithm(t *testing.T) {
	c := valid()
	c.LoadBalanceAlgorithm = 6
	if err := c.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for algorithm out of range, got %v", err)
	}
}

func TestValidate_RejectsZeroCreditBatchWhenCBFCEnabled(t *testing.T) {
	c := valid()
	c.CreditBatchSize = 0
	if err := c.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestValidate_RejectsOutOfRangeNumVcs(t *testing.T) {
	c := valid()
	c.NumVcs = 5
	if err := c.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for numVcs > 4, got %v", err)
	}
}

func TestValidate_RejectsBurstLargerThanMtu(t *testing.T) {
	c := valid()
	c.Mtu = 1500
	c.MaxBurstSize = 4096
	if err := c.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid when maxBurstSize exceeds Mtu, got %v", err)
	}
}

func TestValidate_AcceptsBurstWithinMtu(t *testing.T) {
	c := valid()
	c.Mtu = 9000
	c.MaxBurstSize = 4096
	if err := c.Validate(); err != nil {
		t.Fatalf("expected burst within MTU to pass, got %v", err)
	}
}
