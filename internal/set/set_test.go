// Copyright 2019 Google LLC
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

package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqual(t *testing.T) {
	var testCases = []struct {
		name     string
		a        []string
		b        []string
		expected bool
	}{
		{"both empty", nil, []string{}, true},
		{"same order", []string{"a", "b"}, []string{"a", "b"}, true},
		{"different order", []string{"b", "a"}, []string{"a", "b"}, true},
		{"duplicates ignored", []string{"a", "a", "b"}, []string{"b", "a"}, true},
		{"missing item", []string{"a"}, []string{"a", "b"}, false},
		{"different item", []string{"a", "c"}, []string{"a", "b"}, false},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Equal(tc.a, tc.b))
		})
	}
}

func TestDistinct(t *testing.T) {
	assert.Equal(t, []string{"c", "a", "b"}, Distinct([]string{"c", "a", "c", "b", "a"}))
	assert.Equal(t, []string{}, Distinct(nil))
}
