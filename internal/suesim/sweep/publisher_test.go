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

package sweep

import (
	"context"
	"testing"
)

// fakeEval is an in-memory stand-in that mimics the SETNX-guarded publish
// script closely enough to exercise Publisher's idempotence contract
// without a live Redis instance.
type fakeEval struct {
	markers map[string]bool
}

func newFakeEval() *fakeEval { return &fakeEval{markers: make(map[string]bool)} }

func (f *fakeEval) Eval(_ context.Context, _ string, keys []string, _ ...interface{}) (interface{}, error) {
	marker := keys[0]
	if f.markers[marker] {
		return int64(0), nil
	}
	f.markers[marker] = true
	return int64(1), nil
}

func TestPublisher_FirstPublishSucceeds(t *testing.T) {
	p := NewPublisher(newFakeEval(), 0)
	ok, err := p.Publish(context.Background(), Result{RunID: "run-1", FramesSent: 10})
	if err != nil || !ok {
		t.Fatalf("expected first publish to succeed, got ok=%v err=%v", ok, err)
	}
}

func TestPublisher_SecondPublishOfSameRunIDIsNoop(t *testing.T) {
	client := newFakeEval()
	p := NewPublisher(client, 0)
	ctx := context.Background()
	p.Publish(ctx, Result{RunID: "run-2"})
	ok, err := p.Publish(ctx, Result{RunID: "run-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected second publish of the same RunID to report published=false")
	}
}

func TestPublisher_RejectsEmptyRunID(t *testing.T) {
	p := NewPublisher(newFakeEval(), 0)
	if _, err := p.Publish(context.Background(), Result{}); err == nil {
		t.Fatalf("expected an error for empty RunID")
	}
}
