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

package cbfc

import (
	"testing"

	"suesim/pkg/wire"
)

var peer = wire.MAC48{0, 0, 0, 0, 0, 1}

func TestManager_TryConsumeDecrementsAndStops(t *testing.T) {
	m := NewManager(true, 1000, 4)
	m.AddPeer(peer, 0, 2)

	if !m.TryConsume(peer, 0) {
		t.Fatalf("first consume should succeed")
	}
	if !m.TryConsume(peer, 0) {
		t.Fatalf("second consume should succeed")
	}
	if m.TryConsume(peer, 0) {
		t.Fatalf("third consume should fail, credits exhausted")
	}
	if got := m.TxCredits(peer, 0); got != 0 {
		t.Fatalf("TxCredits = %d, want 0", got)
	}
}

func TestManager_DisabledAlwaysConsumes(t *testing.T) {
	m := NewManager(false, 1000, 4)
	for i := 0; i < 100; i++ {
		if !m.TryConsume(peer, 0) {
			t.Fatalf("disabled CBFC must always allow consume")
		}
	}
}

func TestManager_GrantThenConsume(t *testing.T) {
	m := NewManager(true, 1000, 4)
	m.AddPeer(peer, 0, 0)
	m.Grant(peer, 0, 3)
	if got := m.TxCredits(peer, 0); got != 3 {
		t.Fatalf("TxCredits = %d, want 3", got)
	}
}

func TestManager_GrantOverflowPanics(t *testing.T) {
	m := NewManager(true, 5, 4)
	m.AddPeer(peer, 0, 0)
	m.Grant(peer, 0, 5)
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on credit overflow")
		} else if _, ok := r.(*OverflowError); !ok {
			t.Fatalf("expected *OverflowError, got %T", r)
		}
	}()
	m.Grant(peer, 0, 1)
}

func TestManager_MaybeReturnBatches(t *testing.T) {
	m := NewManager(true, 1000, 4)
	m.AddPeer(peer, 0, 0)

	for i := 0; i < 3; i++ {
		m.AccountRx(peer, 0)
		if _, ok := m.MaybeReturn(peer, 0); ok {
			t.Fatalf("should not batch before reaching batchSize")
		}
	}
	m.AccountRx(peer, 0)
	credits, ok := m.MaybeReturn(peer, 0)
	if !ok || credits != 4 {
		t.Fatalf("MaybeReturn = (%d,%v), want (4,true)", credits, ok)
	}
	if _, ok := m.MaybeReturn(peer, 0); ok {
		t.Fatalf("counter should have reset to zero after return")
	}
}

func TestManager_MaybeReturnDisabledIsNoop(t *testing.T) {
	m := NewManager(false, 1000, 1)
	m.AddPeer(peer, 0, 0)
	m.AccountRx(peer, 0)
	if _, ok := m.MaybeReturn(peer, 0); ok {
		t.Fatalf("disabled CBFC must never signal a credit return")
	}
}
