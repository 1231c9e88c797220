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

// Package sweep coordinates running the simulator across a matrix of
// configurations (C15) and idempotently publishing each run's summary
// metrics to Redis, so a sweep that's interrupted and restarted never
// double-counts a run that already completed.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Evaler abstracts the minimal Redis surface needed (mirrors the ratelimiter
// persister's RedisEvaler): just enough to run one Lua script.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// Result is one run's summary, published once per distinct RunID.
type Result struct {
	RunID        string
	ConfigLabel  string
	FramesSent   int64
	BytesSent    int64
	Drops        int64
	Retransmits  int64
	MeanDelayNs  float64
}

// Publisher applies each Result idempotently: a SETNX-guarded marker per
// RunID means a sweep that crashes partway through and gets re-launched
// never republishes (and double-counts) a run that already landed.
type Publisher struct {
	client    Evaler
	markerTTL time.Duration
}

// NewPublisher returns a Publisher with the given client and marker TTL.
func NewPublisher(client Evaler, markerTTL time.Duration) *Publisher {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &Publisher{client: client, markerTTL: markerTTL}
}

// publishScript sets the idempotency marker and, only the first time,
// writes the run's summary fields into a hash keyed by RunID.
const publishScript = `
local markerKey = KEYS[1]
local hashKey = KEYS[2]
local ttlSeconds = tonumber(ARGV[1])
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  for i = 2, #ARGV, 2 do
    redis.call('HSET', hashKey, ARGV[i], ARGV[i+1])
  end
  if ttlSeconds and ttlSeconds > 0 then
    redis.call('EXPIRE', markerKey, ttlSeconds)
  end
  return 1
else
  return 0
end
`

func markerKey(runID string) string  { return fmt.Sprintf("suesweep:marker:%s", runID) }
func summaryKey(runID string) string { return fmt.Sprintf("suesweep:run:%s", runID) }

// Publish idempotently records r. Returns (published=false, nil) if r.RunID
// had already been published by a prior attempt.
func (p *Publisher) Publish(ctx context.Context, r Result) (published bool, err error) {
	if r.RunID == "" {
		return false, errors.New("sweep: Result.RunID must be set")
	}
	keys := []string{markerKey(r.RunID), summaryKey(r.RunID)}
	args := []interface{}{
		int(p.markerTTL.Seconds()),
		"config", r.ConfigLabel,
		"frames_sent", r.FramesSent,
		"bytes_sent", r.BytesSent,
		"drops", r.Drops,
		"retransmits", r.Retransmits,
		"mean_delay_ns", r.MeanDelayNs,
	}
	res, err := p.client.Eval(ctx, publishScript, keys, args...)
	if err != nil {
		return false, fmt.Errorf("sweep: publish run=%s: %w", r.RunID, err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}
