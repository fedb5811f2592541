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

// Package rules holds the Rule entity, its admin-side validation, the
// ant-style glob matcher used to select rules for a request, and the
// in-process RuleCache every data-plane request reads from.
package rules

import "fmt"

// IdentifierMode controls how a non-IP identifier source combines with
// the client IP.
type IdentifierMode string

const (
	ModeReplaceIP     IdentifierMode = "replace_ip"
	ModeCombineWithIP IdentifierMode = "combine_with_ip"
)

// BodyContentType names how a write request's buffered body is parsed
// when the identifier source is a body field.
type BodyContentType string

const (
	BodyJSON      BodyContentType = "json"
	BodyForm      BodyContentType = "form-url-encoded"
	BodyXML       BodyContentType = "xml"
	BodyMultipart BodyContentType = "multipart"
)

// Rule is a rate-limit policy matched against a request's path, method
// and host. Exactly one identifier source block may be populated; see
// Validate.
type Rule struct {
	ID          string `json:"id"`
	PathPattern string `json:"pathPattern"`
	Methods     []string `json:"methods,omitempty"`
	Hosts       []string `json:"hosts,omitempty"`
	Priority    int    `json:"priority"`
	Active      bool   `json:"active"`
	TargetURI   string `json:"targetUri,omitempty"`

	AllowedRequests int64 `json:"allowedRequests"`
	WindowSeconds   int64 `json:"windowSeconds"`

	QueueEnabled      bool  `json:"queueEnabled,omitempty"`
	MaxQueueSize      int64 `json:"maxQueueSize,omitempty"`
	DelayPerRequestMs int64 `json:"delayPerRequestMs,omitempty"`

	HeaderName string         `json:"headerName,omitempty"`
	HeaderMode IdentifierMode `json:"headerMode,omitempty"`

	CookieName string         `json:"cookieName,omitempty"`
	CookieMode IdentifierMode `json:"cookieMode,omitempty"`

	BodyFieldPath   string          `json:"bodyFieldPath,omitempty"`
	BodyContentType BodyContentType `json:"bodyContentType,omitempty"`
	BodyMode        IdentifierMode  `json:"bodyMode,omitempty"`

	JWTClaims         []string       `json:"jwtClaims,omitempty"`
	JWTClaimSeparator string         `json:"jwtClaimSeparator,omitempty"`
	JWTMode           IdentifierMode `json:"jwtMode,omitempty"`

	// BodyLimitEnabled/BodyLimitType are patched independently of the
	// identifier's own body field via PATCH /rules/{id}/body-limit; they
	// describe a per-rule override of the global body-buffer cap, not an
	// identifier source.
	BodyLimitEnabled bool   `json:"bodyLimitEnabled,omitempty"`
	BodyLimitType    string `json:"bodyLimitType,omitempty"`
}

// IsGlobal reports whether this rule is the catch-all ceiling rule.
func (r Rule) IsGlobal() bool { return r.PathPattern == "/**" }

// identifierSourceCount returns how many of the four source blocks are
// configured, so Validate can reject ambiguous rules.
func (r Rule) identifierSourceCount() int {
	n := 0
	if r.HeaderName != "" {
		n++
	}
	if r.CookieName != "" {
		n++
	}
	if r.BodyFieldPath != "" {
		n++
	}
	if len(r.JWTClaims) > 0 {
		n++
	}
	return n
}

// Validate checks the invariants the admin layer enforces before a rule
// is accepted into the store. The resolver itself still honors the
// fixed header>cookie>body>JWT>IP priority for any rule that predates
// this check or was loaded from an untrusted source.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id must not be empty")
	}
	if r.PathPattern == "" {
		return fmt.Errorf("rule %s: pathPattern must not be empty", r.ID)
	}
	if r.AllowedRequests <= 0 {
		return fmt.Errorf("rule %s: allowedRequests must be positive", r.ID)
	}
	if r.WindowSeconds <= 0 {
		return fmt.Errorf("rule %s: windowSeconds must be positive", r.ID)
	}
	if r.QueueEnabled && r.MaxQueueSize <= 0 {
		return fmt.Errorf("rule %s: maxQueueSize must be positive when queueEnabled", r.ID)
	}
	if !r.Active && r.TargetURI == "" && !r.IsGlobal() {
		// an inactive rule with no target is allowed (not yet wired to an
		// upstream); nothing to validate further here.
		return nil
	}
	if r.Active && !r.IsGlobal() && r.TargetURI == "" {
		return fmt.Errorf("rule %s: targetUri must not be empty for an active, non-global rule", r.ID)
	}
	if n := r.identifierSourceCount(); n > 1 {
		return fmt.Errorf("rule %s: at most one identifier source may be configured, found %d", r.ID, n)
	}
	if r.BodyFieldPath != "" {
		switch r.BodyContentType {
		case BodyJSON, BodyForm, BodyXML, BodyMultipart:
		default:
			return fmt.Errorf("rule %s: unsupported bodyContentType %q", r.ID, r.BodyContentType)
		}
	}
	return nil
}
