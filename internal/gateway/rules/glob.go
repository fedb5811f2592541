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

import "strings"

// MatchGlob reports whether path matches an ant-style pattern: '?'
// matches exactly one character, '*' matches within a single path
// segment, and '**' matches across zero or more segments.
func MatchGlob(pattern, path string) bool {
	patSegs := splitSegments(pattern)
	pathSegs := splitSegments(path)
	return matchSegments(patSegs, pathSegs)
}

func splitSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pat, path []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(path); i++ {
				if matchSegments(pat[1:], path[i:]) {
					return true
				}
			}
			return false
		}
		if len(path) == 0 {
			return false
		}
		if !matchSegment(pat[0], path[0]) {
			return false
		}
		pat = pat[1:]
		path = path[1:]
	}
	return len(path) == 0
}

// matchSegment matches a single path segment (no '/') against a pattern
// segment that may contain '?' and '*', using the standard two-pointer
// backtracking wildcard algorithm.
func matchSegment(pat, seg string) bool {
	var pi, si int
	starIdx, match := -1, 0
	for si < len(seg) {
		switch {
		case pi < len(pat) && (pat[pi] == '?' || pat[pi] == seg[si]):
			pi++
			si++
		case pi < len(pat) && pat[pi] == '*':
			starIdx = pi
			match = si
			pi++
		case starIdx != -1:
			pi = starIdx + 1
			match++
			si = match
		default:
			return false
		}
	}
	for pi < len(pat) && pat[pi] == '*' {
		pi++
	}
	return pi == len(pat)
}

// MatchHost reports whether host matches a wildcard host pattern
// ("*.example.com" style); '*' matches within a single dot-separated
// label, same rule as a path segment.
func MatchHost(pattern, host string) bool {
	patLabels := strings.Split(pattern, ".")
	hostLabels := strings.Split(host, ".")
	if len(patLabels) != len(hostLabels) {
		return false
	}
	for i := range patLabels {
		if !matchSegment(patLabels[i], hostLabels[i]) {
			return false
		}
	}
	return true
}
