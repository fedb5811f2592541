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

package identity

import (
	"encoding/base64"
	"testing"
)

func makeUnsignedJWT(payloadJSON string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(payloadJSON))
	return header + "." + payload + ".sig"
}

func TestExtractJWTClaimsSingle(t *testing.T) {
	tok := makeUnsignedJWT(`{"sub":"user-1"}`)
	v, err := extractJWTClaims("Bearer "+tok, []string{"sub"}, "")
	if err != nil {
		t.Fatalf("extractJWTClaims: %v", err)
	}
	if v != "user-1" {
		t.Fatalf("got %q, want user-1", v)
	}
}

func TestExtractJWTClaimsMultipleJoined(t *testing.T) {
	tok := makeUnsignedJWT(`{"org":"acme","sub":"user-1"}`)
	v, err := extractJWTClaims("Bearer "+tok, []string{"org", "sub"}, "|")
	if err != nil {
		t.Fatalf("extractJWTClaims: %v", err)
	}
	if v != "acme|user-1" {
		t.Fatalf("got %q, want acme|user-1", v)
	}
}

func TestExtractJWTClaimsMissingClaim(t *testing.T) {
	tok := makeUnsignedJWT(`{"sub":"user-1"}`)
	if _, err := extractJWTClaims("Bearer "+tok, []string{"org"}, ""); err == nil {
		t.Fatalf("expected error for missing claim")
	}
}

func TestExtractJWTClaimsMalformedToken(t *testing.T) {
	if _, err := extractJWTClaims("Bearer not-a-jwt", []string{"sub"}, ""); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}

func TestExtractJWTClaimsNoAuthHeader(t *testing.T) {
	if _, err := extractJWTClaims("", []string{"sub"}, ""); err == nil {
		t.Fatalf("expected error for empty auth header")
	}
}
