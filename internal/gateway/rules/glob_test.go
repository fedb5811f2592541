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

package rules

import "testing"

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"/**", "/anything/at/all", true},
		{"/**", "/", true},
		{"/api/**", "/api/hello", true},
		{"/api/**", "/api/a/b/c", true},
		{"/api/**", "/other", false},
		{"/api/*", "/api/hello", true},
		{"/api/*", "/api/hello/world", false},
		{"/api/?ello", "/api/hello", true},
		{"/api/?ello", "/api/xello", true},
		{"/api/?ello", "/api/llello", false},
		{"/users/*/profile", "/users/42/profile", true},
		{"/users/*/profile", "/users/42/43/profile", false},
		{"/a/**/b", "/a/x/y/z/b", true},
		{"/a/**/b", "/a/b", true},
		{"/a/**/b", "/a/x", false},
	}
	for _, c := range cases {
		if got := MatchGlob(c.pattern, c.path); got != c.want {
			t.Errorf("MatchGlob(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}

func TestMatchHost(t *testing.T) {
	cases := []struct {
		pattern, host string
		want          bool
	}{
		{"*.example.com", "api.example.com", true},
		{"*.example.com", "example.com", false},
		{"example.com", "example.com", true},
		{"*.example.com", "a.b.example.com", false},
	}
	for _, c := range cases {
		if got := MatchHost(c.pattern, c.host); got != c.want {
			t.Errorf("MatchHost(%q, %q) = %v, want %v", c.pattern, c.host, got, c.want)
		}
	}
}
