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

package state

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// LoggingRedisEvaler is a stand-in Evaler that just logs what it was
// asked to run. It lets a process start up and exercise its HTTP
// surface without a real Redis reachable, which is useful for local
// iteration on the admin and ingress handlers.
type LoggingRedisEvaler struct{}

func (LoggingRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	fmt.Printf("[state-demo] EVAL script(len=%d) KEYS=%v ARGS=%v\n", len(script), keys, args)
	return nil, nil
}

// GoRedisEvaler wraps a real github.com/redis/go-redis/v9 client.
type GoRedisEvaler struct{ c *redis.Client }

// NewGoRedisEvaler connects to the given address (e.g. "127.0.0.1:6379").
func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

// Close releases the underlying connection pool.
func (g *GoRedisEvaler) Close() error { return g.c.Close() }

// SinkOptions holds the knobs needed to build decision-log archival sinks.
type SinkOptions struct {
	KafkaBrokers []string
	KafkaTopic   string
	PostgresDSN  string
}

// ConnectTimeout bounds how long sink construction waits for its
// backend to answer, independent of any per-call request timeout.
const ConnectTimeout = 10 * time.Second
