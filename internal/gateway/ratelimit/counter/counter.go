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

// Package counter evaluates a request against its matched rules: a
// window counter check for each rule, falling through to the queue
// accountant when a rule's quota is exhausted and queueing is enabled,
// then aggregating per-rule outcomes into one decision. The
// most-restrictive rule governs.
package counter

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ealvarez/poormans-ratelimit/internal/gateway/errs"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/rules"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/state"
)

// WindowChecker is the subset of state.Store the counter evaluator
// depends on.
type WindowChecker interface {
	CheckAndIncrement(ctx context.Context, ruleID, identifier string, now, windowSeconds, quota int64) (admitted bool, after state.Counter, err error)
}

// QueueAccountant is the subset of queue.Manager the counter evaluator
// depends on.
type QueueAccountant interface {
	Reserve(ruleID, identifier string, maxQueueSize int64) (position int64, ok bool)
	ScheduleRelease(ruleID, identifier string, delay time.Duration)
}

// Outcome is one rule's verdict before aggregation.
type Outcome int

const (
	OutcomeAllowed Outcome = iota
	OutcomeQueued
	OutcomeBlocked
)

// RuleResult is one matched rule's evaluation.
type RuleResult struct {
	RuleID     string
	Identifier string
	Outcome    Outcome
	DelayMs    int64
}

// Decision is the aggregated verdict across every matched rule.
type Decision struct {
	Allowed     bool
	Queued      bool
	QueueFull   bool
	DelayMs     int64
	BlockedRule string
	Results     []RuleResult
}

// Evaluate checks every matched rule in priority order and aggregates
// the results: any BLOCKED rule blocks the whole request; otherwise the
// request is allowed, delayed by the maximum delay across any queued
// rule.
func Evaluate(
	ctx context.Context,
	store WindowChecker,
	accountant QueueAccountant,
	matched []rules.Rule,
	identifierFor func(rules.Rule) string,
	now int64,
	log *logrus.Logger,
) (Decision, error) {
	results := make([]RuleResult, 0, len(matched))
	var maxDelay int64
	blocked := false
	queueFull := false
	blockedRuleID := ""

	for _, r := range matched {
		identifier := identifierFor(r)
		admitted, _, err := store.CheckAndIncrement(ctx, r.ID, identifier, now, r.WindowSeconds, r.AllowedRequests)
		if err != nil {
			return Decision{}, err
		}
		if admitted {
			results = append(results, RuleResult{RuleID: r.ID, Identifier: identifier, Outcome: OutcomeAllowed})
			continue
		}

		if !r.QueueEnabled {
			log.WithError(errs.ErrRateLimited).WithField("rule_id", r.ID).WithField("identifier", identifier).Debug("quota exhausted, queueing disabled: blocked")
			results = append(results, RuleResult{RuleID: r.ID, Identifier: identifier, Outcome: OutcomeBlocked})
			blocked = true
			if blockedRuleID == "" {
				blockedRuleID = r.ID
			}
			continue
		}

		position, ok := accountant.Reserve(r.ID, identifier, r.MaxQueueSize)
		if !ok {
			log.WithError(errs.ErrQueueFull).WithField("rule_id", r.ID).WithField("identifier", identifier).Debug("queue full: blocked")
			results = append(results, RuleResult{RuleID: r.ID, Identifier: identifier, Outcome: OutcomeBlocked})
			blocked = true
			queueFull = true
			if blockedRuleID == "" {
				blockedRuleID = r.ID
			}
			continue
		}

		delayMs := position * r.DelayPerRequestMs
		accountant.ScheduleRelease(r.ID, identifier, time.Duration(delayMs)*time.Millisecond)
		results = append(results, RuleResult{RuleID: r.ID, Identifier: identifier, Outcome: OutcomeQueued, DelayMs: delayMs})
		if delayMs > maxDelay {
			maxDelay = delayMs
		}
	}

	if blocked {
		return Decision{Allowed: false, QueueFull: queueFull, BlockedRule: blockedRuleID, Results: results}, nil
	}
	return Decision{Allowed: true, Queued: maxDelay > 0, DelayMs: maxDelay, Results: results}, nil
}
