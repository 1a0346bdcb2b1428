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

package ignorefilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_DefaultLiteralNames(t *testing.T) {
	f := Default()
	for _, p := range []string{"/a/.DS_Store", "/.hidden", "/repo/.git", "@executable_path"} {
		assert.True(t, f.ShouldIgnore(p), p)
	}
}

func TestFilter_DefaultPattern(t *testing.T) {
	f := Default()
	assert.True(t, f.ShouldIgnore("/dir/._resource"))
	assert.False(t, f.ShouldIgnore("/dir/resource"))
}

func TestFilter_SingleCharacterNamesAlwaysIgnored(t *testing.T) {
	f := Default()
	assert.True(t, f.ShouldIgnore("/dir/a"))
	assert.True(t, f.ShouldIgnore("x"))
}

func TestFilter_NormalNamesNotIgnored(t *testing.T) {
	f := Default()
	assert.False(t, f.ShouldIgnore("/dir/readme.txt"))
}

func TestFilter_CustomNamesAndPatterns(t *testing.T) {
	f := New()
	f.AddNames("Thumbs.db")
	f.AddPatterns("~*")

	assert.True(t, f.ShouldIgnore("Thumbs.db"))
	assert.True(t, f.ShouldIgnore("~temp.lock"))
	assert.False(t, f.ShouldIgnore("normal.txt"))
}
