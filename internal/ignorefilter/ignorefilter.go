// Copyright 2025 Google Inc. All Rights Reserved.
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

// Package ignorefilter decides which path basenames are noisy-by-design
// (macOS metadata probes, VCS directories) so the filesystem adapter can
// downgrade their lookup failures to debug logging instead of error
// logging. It never changes a reply code.
package ignorefilter

import (
	"path/filepath"
	"strings"
)

// Filter holds a set of literal basenames and suffix-wildcard patterns to
// ignore, plus the always-on single-character-name rule.
type Filter struct {
	names    map[string]struct{}
	patterns []string
}

// Default returns a Filter pre-populated with the usual suspects:
// .DS_Store, .hidden, .git, @executable_path, and the ._* macOS metadata
// pattern.
func Default() *Filter {
	f := New()
	f.AddNames(".DS_Store", ".hidden", ".git", "@executable_path")
	f.AddPatterns("._*")
	return f
}

// New returns an empty Filter.
func New() *Filter {
	return &Filter{names: make(map[string]struct{})}
}

// AddNames registers additional literal basenames to ignore.
func (f *Filter) AddNames(names ...string) {
	for _, n := range names {
		f.names[n] = struct{}{}
	}
}

// AddPatterns registers additional suffix-wildcard patterns (must end in
// '*'; non-wildcard patterns are accepted but only ever match themselves).
func (f *Filter) AddPatterns(patterns ...string) {
	f.patterns = append(f.patterns, patterns...)
}

// ShouldIgnore reports whether path's basename matches a literal name, a
// suffix-wildcard pattern, or the single-character-name rule.
func (f *Filter) ShouldIgnore(path string) bool {
	name := filepath.Base(path)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return false
	}

	if _, ok := f.names[name]; ok {
		return true
	}

	for _, pattern := range f.patterns {
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(name, pattern[:len(pattern)-1]) {
				return true
			}
		} else if name == pattern {
			return true
		}
	}

	if len(name) == 1 {
		return true
	}

	return false
}
