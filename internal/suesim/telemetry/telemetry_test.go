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

package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSent_NoopUntilEnabled(t *testing.T) {
	modEnabled.Store(false)
	before := testutil.ToFloat64(framesSentTotal.WithLabelValues("p0", "0"))
	ObserveSent("p0", "0", 64)
	after := testutil.ToFloat64(framesSentTotal.WithLabelValues("p0", "0"))
	if after != before {
		t.Fatalf("expected no-op while disabled, counter moved from %v to %v", before, after)
	}
}

func TestObserveSent_IncrementsWhenEnabled(t *testing.T) {
	Enable("")
	t.Cleanup(func() { modEnabled.Store(false) })
	before := testutil.ToFloat64(framesSentTotal.WithLabelValues("p1", "2"))
	ObserveSent("p1", "2", 128)
	after := testutil.ToFloat64(framesSentTotal.WithLabelValues("p1", "2"))
	if after-before != 1 {
		t.Fatalf("expected counter to increment by 1, delta=%v", after-before)
	}
}

func TestObserveDrop_IncrementsReasonLabel(t *testing.T) {
	Enable("")
	t.Cleanup(func() { modEnabled.Store(false) })
	before := testutil.ToFloat64(dropsTotal.WithLabelValues("p2", "vc_queue_full"))
	ObserveDrop("p2", "vc_queue_full")
	after := testutil.ToFloat64(dropsTotal.WithLabelValues("p2", "vc_queue_full"))
	if after-before != 1 {
		t.Fatalf("expected drop counter to increment by 1, delta=%v", after-before)
	}
}
