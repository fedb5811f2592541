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

// Package antibot validates write-method requests with an ordered
// check (honeypot, timing, token presence, token reuse, idempotency)
// backed by three bounded, per-entry-TTL caches. All three caches are
// hashicorp/golang-lru's expirable LRU.
package antibot

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

const (
	validTokenTTL    = 10 * time.Minute
	usedTokenTTL     = 15 * time.Minute
	idempotencyTTL   = 1 * time.Hour
	tokenCacheSize   = 100000
	idempotencyCache = 100000
)

// FailureReason identifies which check terminated validation, surfaced
// in the X-Rejection-Reason response header.
type FailureReason string

const (
	ReasonHoneypot     FailureReason = "honeypot"
	ReasonTooFast      FailureReason = "too-fast"
	ReasonInvalidToken FailureReason = "invalid-token"
	ReasonReusedToken  FailureReason = "reused-token"
	ReasonDuplicate    FailureReason = "duplicate"
)

// Result is the outcome of Validate.
type Result struct {
	OK         bool
	Reason     FailureReason
	StatusCode int // 403 for all checks except idempotency, which is 409
}

// Config holds the dynamic anti-bot settings the validator reads on
// every request; callers pass a live view (e.g. *sysconfig.Cache)
// satisfying this interface so config changes apply without restart.
type Config interface {
	AntibotEnabled() bool
	MinSubmitTimeMs() int64
	HoneypotField() string
}

// Validator runs the ordered anti-bot check table and owns the three
// validation caches.
type Validator struct {
	cfg             Config
	log             *logrus.Logger
	validTokens     *lru.LRU[string, int64] // token -> issuedAt unix millis
	usedTokens      *lru.LRU[string, struct{}]
	idempotencyKeys *lru.LRU[string, struct{}]
}

// New returns a Validator reading dynamic settings from cfg.
func New(cfg Config, log *logrus.Logger) *Validator {
	return &Validator{
		cfg:             cfg,
		log:             log,
		validTokens:     lru.NewLRU[string, int64](tokenCacheSize, nil, validTokenTTL),
		usedTokens:      lru.NewLRU[string, struct{}](tokenCacheSize, nil, usedTokenTTL),
		idempotencyKeys: lru.NewLRU[string, struct{}](idempotencyCache, nil, idempotencyTTL),
	}
}

// TokenTTLSeconds reports how long an issued token stays fresh, for the
// form endpoint's expiresIn field.
func (v *Validator) TokenTTLSeconds() int64 {
	return int64(validTokenTTL / time.Second)
}

// IssueToken generates a fresh opaque token, records it as valid, and
// returns it along with the client-facing fields the form/challenge
// endpoints need (the issuance timestamp in unix milliseconds, which
// clients send back as the form load time, and the honeypot field name).
func (v *Validator) IssueToken() (token string, loadTimeMs int64, honeypotField string, err error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", 0, "", fmt.Errorf("generate anti-bot token: %w", err)
	}
	token = hex.EncodeToString(buf)
	now := time.Now().UnixMilli()
	v.validTokens.Add(token, now)
	return token, now, v.cfg.HoneypotField(), nil
}

// Validate runs the ordered check table against one write-method
// request. honeypotValue is the honeypot value the caller read from the
// request (the ingress filter reads the X-Honeypot header; empty if
// absent); formLoadTimeMs is the
// client-reported load timestamp; token is the submitted token value
// (header, falling back to the challenge cookie); idempotencyKey is
// the X-Idempotency-Key header value, possibly empty.
func (v *Validator) Validate(honeypotValue string, formLoadTimeMs int64, token, idempotencyKey string) Result {
	if honeypotValue != "" {
		return Result{OK: false, Reason: ReasonHoneypot, StatusCode: http.StatusForbidden}
	}

	minSubmit := v.cfg.MinSubmitTimeMs()
	elapsed := time.Now().UnixMilli() - formLoadTimeMs
	if elapsed < minSubmit {
		return Result{OK: false, Reason: ReasonTooFast, StatusCode: http.StatusForbidden}
	}

	if token == "" {
		return Result{OK: false, Reason: ReasonInvalidToken, StatusCode: http.StatusForbidden}
	}
	if _, ok := v.validTokens.Get(token); !ok {
		return Result{OK: false, Reason: ReasonInvalidToken, StatusCode: http.StatusForbidden}
	}
	if _, ok := v.usedTokens.Get(token); ok {
		return Result{OK: false, Reason: ReasonReusedToken, StatusCode: http.StatusForbidden}
	}

	if idempotencyKey != "" {
		if _, ok := v.idempotencyKeys.Get(idempotencyKey); ok {
			return Result{OK: false, Reason: ReasonDuplicate, StatusCode: http.StatusConflict}
		}
	}

	v.validTokens.Remove(token)
	v.usedTokens.Add(token, struct{}{})
	if idempotencyKey != "" {
		v.idempotencyKeys.Add(idempotencyKey, struct{}{})
	}
	return Result{OK: true}
}

// ShouldValidate reports whether method triggers the anti-bot filter:
// write methods only, and only when the feature flag is on.
func (v *Validator) ShouldValidate(method string) bool {
	if !v.cfg.AntibotEnabled() {
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// ParseFormLoadTime parses the X-Form-Load-Time header (unix millis) as
// sent by the issued token page; a malformed or absent header is
// treated as 0, which always fails the timing check.
func ParseFormLoadTime(header string) int64 {
	v, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
