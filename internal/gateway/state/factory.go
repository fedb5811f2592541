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
)

// BuildSink constructs a decision log archival Sink from a selector
// string: "none" (the default; the bounded Redis list is the only copy),
// "kafka", or "postgres". Exactly one archival sink is active at a time.
func BuildSink(ctx context.Context, adapter string, opts SinkOptions) (Sink, error) {
	switch adapter {
	case "", "none":
		return nil, nil
	case "kafka":
		if len(opts.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("kafka sink: no brokers configured")
		}
		topic := opts.KafkaTopic
		if topic == "" {
			topic = "gateway-decision-log"
		}
		return NewKafkaSink(opts.KafkaBrokers, topic)
	case "postgres":
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres sink: no dsn configured")
		}
		return NewPostgresSink(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown decision log sink adapter: %s", adapter)
	}
}
