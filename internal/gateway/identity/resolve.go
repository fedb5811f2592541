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

// Package identity resolves the rate-limit counting key for a request
// given a matched rule: header, cookie, body field, JWT claims, or
// falling back to the client IP, in that fixed priority order.
package identity

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ealvarez/poormans-ratelimit/internal/gateway/rules"
)

// Resolve walks the rule's identifier sources in priority order —
// header, cookie, body field, JWT, IP — and returns the first one that
// produces a non-empty value, combined with the client IP if the
// winning source is configured with ModeCombineWithIP. A rule may
// legitimately have more than one source field populated if it predates
// admin-side validation; the fixed priority order resolves the
// ambiguity rather than erroring.
func Resolve(r rules.Rule, req *http.Request, body []byte, clientIP string, log *logrus.Logger) string {
	if r.HeaderName != "" {
		if v := req.Header.Get(r.HeaderName); v != "" {
			return combine(r.HeaderMode, clientIP, v)
		}
	}
	if r.CookieName != "" {
		if c, err := req.Cookie(r.CookieName); err == nil && c.Value != "" {
			return combine(r.CookieMode, clientIP, c.Value)
		}
	}
	if r.BodyFieldPath != "" {
		v, err := extractBodyField(r.BodyContentType, r.BodyFieldPath, body, req.Header.Get("Content-Type"))
		if err != nil {
			log.WithError(err).WithField("rule_id", r.ID).Debug("body identifier source failed, falling through")
		} else if v != "" {
			return combine(r.BodyMode, clientIP, v)
		}
	}
	if len(r.JWTClaims) > 0 {
		v, err := extractJWTClaims(req.Header.Get("Authorization"), r.JWTClaims, r.JWTClaimSeparator)
		if err != nil {
			log.WithError(err).WithField("rule_id", r.ID).Debug("jwt identifier source failed, falling through")
		} else if v != "" {
			return combine(r.JWTMode, clientIP, v)
		}
	}
	return clientIP
}

func combine(mode rules.IdentifierMode, ip, value string) string {
	if mode == rules.ModeCombineWithIP {
		return ip + ":" + value
	}
	return value
}
