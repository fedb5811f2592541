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

// Package errs defines the gateway's error taxonomy as sentinel errors,
// so filters in the ingress chain can classify a failure with errors.Is
// instead of string matching.
package errs

import "errors"

var (
	// ErrRateLimited means a request exceeded its rule's quota.
	ErrRateLimited = errors.New("rate limited")
	// ErrQueueFull means a request's rule uses the leaky-bucket discipline
	// and the queue was already at capacity.
	ErrQueueFull = errors.New("queue full")
	// ErrBotSuspected means the anti-bot validator rejected the request.
	ErrBotSuspected = errors.New("bot suspected")
	// ErrDuplicateRequest means the request reused an idempotency key
	// still held by a prior request.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrStoreTransient means the shared state store was unreachable or
	// timed out. The ingress filter fails open on it and does not treat
	// it as ErrRateLimited.
	ErrStoreTransient = errors.New("state store transient error")
	// ErrMalformedRule means a stored rule failed validation and was
	// skipped when building a rule cache snapshot.
	ErrMalformedRule = errors.New("malformed rule")
)
