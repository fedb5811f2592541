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

// Package state implements the shared key/value store contract the data
// plane and the admin plane both depend on: rules, system config,
// per-(rule,identifier) window counters, the bounded decision log, and
// the minute-bucket analytics index.
//
// Every mutating operation here is a single Redis EVAL of a small Lua
// script: one round trip, one atomic unit, no multi-key transaction
// required anywhere. This generalizes the project's original idempotent
// SETNX+HINCRBY commit adapter into the handful of scripts the gateway
// actually needs.
package state

import "context"

// Evaler abstracts the minimal surface this package needs from a Redis
// client: the ability to EVAL a Lua script against a set of keys. Kept
// narrow on purpose so tests can substitute a fake without a real Redis
// server, the same split between a logging stand-in and a real client
// wrapper used elsewhere in this codebase.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// Rule is the envelope stored under rate_limit_rules; ID is the hash
// field and JSON is opaque payload owned by package rules.
type Rule struct {
	ID   string
	JSON string
}

// Counter mirrors the per-(rule,identifier) window counter.
type Counter struct {
	Count       int64
	WindowStart int64 // unix seconds
}

// MinuteBucket mirrors one slot of the minute-granularity analytics index.
type MinuteBucket struct {
	Minute  int64
	Allowed int64
	Blocked int64
}

// Envelope is one archival unit handed to a decision-log Sink: an opaque,
// already-serialized decision log entry plus the id it was stored under.
type Envelope struct {
	ID      string
	Payload []byte
}

// Sink is an archival destination for decision log entries, fed from the
// bounded Redis list once entries age out of it. KafkaSink and
// PostgresSink implement it; BuildSink selects at most one, and the
// decision log Archiver writes to it without branching on transport.
type Sink interface {
	Write(ctx context.Context, entries []Envelope) error
	Close() error
}
