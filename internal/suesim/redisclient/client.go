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

// Package redisclient provides the two Evaler implementations sue-sweep
// chooses between: a real Redis client for production sweeps and a logging
// stand-in for trying a sweep without any infrastructure.
package redisclient

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// Logging is a demo Evaler that just prints the Lua evaluation instead of
// running it. Lets a sweep be exercised without a live Redis instance.
type Logging struct{}

func (Logging) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	fmt.Printf("[redis-demo] EVAL script(len=%d) KEYS=%v ARGS=%v\n", len(script), keys, args)
	return int64(1), nil
}

// GoRedis wraps github.com/redis/go-redis/v9 as a sweep.Evaler.
type GoRedis struct{ c *redis.Client }

// New connects to addr (e.g. "127.0.0.1:6379") and returns a GoRedis Evaler.
func New(addr string) *GoRedis {
	return &GoRedis{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}
